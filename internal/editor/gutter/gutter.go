// Package gutter renders the sign column and line numbers to the left of an
// editor's text: breakpoint signs and the current execution line.
package gutter

import (
	"sort"
	"strings"
	"sync"
)

// Config holds gutter configuration.
type Config struct {
	// ShowLineNumbers enables line number display.
	ShowLineNumbers bool

	// LineNumberWidth is the fixed width for line numbers (0 = auto).
	LineNumberWidth int

	// MinLineNumberWidth is the minimum width for auto-calculated widths.
	MinLineNumberWidth int

	// ShowSigns enables the sign column.
	ShowSigns bool

	// SignColumnWidth is the number of signs shown per line.
	SignColumnWidth int
}

// DefaultConfig returns the default gutter configuration.
func DefaultConfig() Config {
	return Config{
		ShowLineNumbers:    true,
		MinLineNumberWidth: 3,
		ShowSigns:          true,
		SignColumnWidth:    2,
	}
}

// SignType represents the type of sign to display.
type SignType uint8

const (
	SignNone SignType = iota
	SignBreakpoint
	SignBreakpointConditional
	SignBreakpointUnverified
	SignCurrentLine
)

// Sign is a sign on a 1-based line.
type Sign struct {
	Line int
	Type SignType
}

// SignProvider provides signs for the gutter.
type SignProvider interface {
	// SignsForLine returns signs for a given 1-based line.
	SignsForLine(line int) []Sign
}

// CellStyle describes how to style a gutter cell.
type CellStyle uint8

const (
	StyleNormal CellStyle = iota
	StyleCurrentLine
	StyleDim
	StyleBreakpoint
)

// Cell represents a single gutter cell.
type Cell struct {
	Rune  rune
	Style CellStyle
}

// Gutter lays out the sign column and line numbers.
type Gutter struct {
	mu sync.RWMutex

	config    Config
	width     int
	lineCount int
	current   int

	signProvider SignProvider
}

// New creates a new gutter with the given configuration.
func New(config Config) *Gutter {
	return &Gutter{
		config: config,
		width:  calculateWidth(config, 1),
	}
}

// Width returns the current gutter width.
func (g *Gutter) Width() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.width
}

// SetLineCount updates the total line count (affects width calculation).
func (g *Gutter) SetLineCount(count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lineCount = count
	g.width = calculateWidth(g.config, count)
}

// SetCurrentLine sets the 1-based line numbers are highlighted on; 0 clears.
func (g *Gutter) SetCurrentLine(line int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = line
}

// SetSignProvider sets the sign provider.
func (g *Gutter) SetSignProvider(sp SignProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signProvider = sp
}

// RenderLine renders the gutter for a 1-based line. visible is false past
// the end of the text.
func (g *Gutter) RenderLine(line int, visible bool) []Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.width == 0 {
		return nil
	}

	cells := make([]Cell, g.width)
	for i := range cells {
		cells[i] = Cell{Rune: ' ', Style: StyleNormal}
	}

	col := 0
	if g.config.ShowSigns && g.config.SignColumnWidth > 0 {
		for _, c := range g.renderSigns(line) {
			cells[col] = c
			col++
		}
	}

	if g.config.ShowLineNumbers {
		numWidth := g.lineNumberWidth()
		if visible {
			num := FormatNumber(line)
			style := g.styleForLine(line)
			for i := 0; i < numWidth-len(num); i++ {
				cells[col] = Cell{Rune: ' ', Style: style}
				col++
			}
			for _, r := range num {
				if col >= g.width-1 {
					break
				}
				cells[col] = Cell{Rune: r, Style: style}
				col++
			}
		} else {
			col += numWidth - 1
			cells[col] = Cell{Rune: '~', Style: StyleDim}
		}
	}

	return cells
}

// Render returns lines prefixed with their gutter, one per row.
func (g *Gutter) Render(lines []string) string {
	g.SetLineCount(len(lines))

	var b strings.Builder
	for i, text := range lines {
		for _, c := range g.RenderLine(i+1, true) {
			b.WriteRune(c.Rune)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

func (g *Gutter) styleForLine(line int) CellStyle {
	if line == g.current {
		return StyleCurrentLine
	}
	return StyleDim
}

// renderSigns fills the sign column with the line's signs in priority order.
func (g *Gutter) renderSigns(line int) []Cell {
	cells := make([]Cell, g.config.SignColumnWidth)
	for i := range cells {
		cells[i] = Cell{Rune: ' ', Style: StyleNormal}
	}
	if g.signProvider == nil {
		return cells
	}

	signs := byPriority(g.signProvider.SignsForLine(line))
	for i := 0; i < len(signs) && i < len(cells); i++ {
		r, style := signGlyph(signs[i].Type)
		cells[i] = Cell{Rune: r, Style: style}
	}
	return cells
}

func (g *Gutter) lineNumberWidth() int {
	return numberWidth(g.config, g.lineCount)
}

func numberWidth(config Config, lineCount int) int {
	if config.LineNumberWidth > 0 {
		return config.LineNumberWidth
	}
	digits := len(FormatNumber(lineCount))
	if digits < config.MinLineNumberWidth {
		digits = config.MinLineNumberWidth
	}
	return digits
}

func calculateWidth(config Config, lineCount int) int {
	width := 0
	if config.ShowSigns {
		width += config.SignColumnWidth
	}
	if config.ShowLineNumbers {
		width += numberWidth(config, lineCount)
	}
	// Separator.
	if width > 0 {
		width++
	}
	return width
}

// FormatNumber converts a non-negative number to a string.
func FormatNumber(n int) string {
	if n <= 0 {
		return "0"
	}

	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// byPriority returns the distinct signs sorted from highest priority.
func byPriority(signs []Sign) []Sign {
	seen := make(map[SignType]bool, len(signs))
	out := make([]Sign, 0, len(signs))
	for _, s := range signs {
		if s.Type == SignNone || seen[s.Type] {
			continue
		}
		seen[s.Type] = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return signPriority(out[i].Type) > signPriority(out[j].Type)
	})
	return out
}

// signPriority returns the priority of a sign type (higher = more important).
func signPriority(st SignType) int {
	switch st {
	case SignBreakpoint:
		return 90
	case SignBreakpointConditional:
		return 85
	case SignBreakpointUnverified:
		return 80
	case SignCurrentLine:
		return 70
	default:
		return 0
	}
}

func signGlyph(st SignType) (rune, CellStyle) {
	switch st {
	case SignBreakpoint:
		return '*', StyleBreakpoint
	case SignBreakpointConditional:
		return '?', StyleBreakpoint
	case SignBreakpointUnverified:
		return 'o', StyleDim
	case SignCurrentLine:
		return '>', StyleCurrentLine
	default:
		return ' ', StyleNormal
	}
}
