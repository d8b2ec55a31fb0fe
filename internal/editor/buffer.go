package editor

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/dbgsync/internal/editor/gutter"
	"github.com/dshills/dbgsync/internal/signal"
)

// Buffer is an in-memory Editor. Edits move markers with the text they
// are attached to.
//
// Thread-safety: all methods are safe for concurrent use. Signals are
// emitted outside the buffer's lock.
type Buffer struct {
	id       string
	path     string
	mimeType string
	readOnly bool

	mu       sync.RWMutex
	lines    []string
	markers  []int
	current  int
	revealed int
	disposed bool
	signs    *gutter.Signs

	gutterClicked  *signal.Signal[int]
	contentChanged *signal.Signal[struct{}]
	disposedSig    *signal.Signal[struct{}]
}

// NewBuffer creates a writable buffer for path holding text.
func NewBuffer(path, text string) *Buffer {
	return &Buffer{
		id:             uuid.New().String(),
		path:           path,
		lines:          splitLines(text),
		signs:          gutter.NewSigns(),
		gutterClicked:  signal.New[int](),
		contentChanged: signal.New[struct{}](),
		disposedSig:    signal.New[struct{}](),
	}
}

func splitLines(text string) []string {
	if text == "" {
		return []string{""}
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func (b *Buffer) ID() string       { return b.id }
func (b *Buffer) Path() string     { return b.path }
func (b *Buffer) MimeType() string { return b.mimeType }
func (b *Buffer) ReadOnly() bool   { return b.readOnly }

func (b *Buffer) GutterClicked() *signal.Signal[int]       { return b.gutterClicked }
func (b *Buffer) ContentChanged() *signal.Signal[struct{}] { return b.contentChanged }
func (b *Buffer) Disposed() *signal.Signal[struct{}]       { return b.disposedSig }

// Text returns the full text with a trailing newline per line.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Join(b.lines, "\n") + "\n"
}

// Line returns the text of a 1-based line.
func (b *Buffer) Line(n int) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n < 1 || n > len(b.lines) {
		return "", fmt.Errorf("%w: %d", ErrLineOutOfRange, n)
	}
	return b.lines[n-1], nil
}

// LineCount returns the number of lines.
func (b *Buffer) LineCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// SetBreakpointMarkers replaces the breakpoint markers. Lines outside the
// text are dropped. Ignored once disposed.
func (b *Buffer) SetBreakpointMarkers(lines []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.markers = b.normalizeLocked(lines)
	b.signs.Set(gutter.SignBreakpoint, b.markers...)
}

// BreakpointMarkers returns the marked lines in ascending order.
func (b *Buffer) BreakpointMarkers() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]int(nil), b.markers...)
}

// SetCurrentLine marks line as the current execution line. Ignored once
// disposed or when line is outside the text.
func (b *Buffer) SetCurrentLine(line int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed || line < 1 || line > len(b.lines) {
		return
	}
	b.current = line
	b.signs.Set(gutter.SignCurrentLine, line)
}

// ClearCurrentLine removes the current-line marker.
func (b *Buffer) ClearCurrentLine() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = 0
	b.signs.Clear(gutter.SignCurrentLine)
}

// CurrentLine returns the current execution line, or 0.
func (b *Buffer) CurrentLine() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// RevealLine records line as scrolled into view.
func (b *Buffer) RevealLine(line int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.revealed = line
}

// Revealed returns the last revealed line, or 0.
func (b *Buffer) Revealed() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revealed
}

// ClickGutter simulates a click in the gutter of line.
func (b *Buffer) ClickGutter(line int) {
	if b.IsDisposed() {
		return
	}
	b.gutterClicked.Emit(line)
}

// InsertLines inserts lines before the 1-based line at. at may be one past
// the last line to append. Markers at or after at move down.
func (b *Buffer) InsertLines(at int, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	b.mu.Lock()
	if err := b.editableLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	if at < 1 || at > len(b.lines)+1 {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrLineOutOfRange, at)
	}

	next := make([]string, 0, len(b.lines)+len(lines))
	next = append(next, b.lines[:at-1]...)
	next = append(next, lines...)
	next = append(next, b.lines[at-1:]...)
	b.lines = next

	n := len(lines)
	b.shiftLocked(func(line int) int {
		if line >= at {
			return line + n
		}
		return line
	})
	b.mu.Unlock()

	b.contentChanged.Emit(struct{}{})
	return nil
}

// DeleteLines removes count lines starting at the 1-based line from.
// Markers on deleted lines are removed; markers below move up.
func (b *Buffer) DeleteLines(from, count int) error {
	if count <= 0 {
		return nil
	}
	b.mu.Lock()
	if err := b.editableLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	if from < 1 || from+count-1 > len(b.lines) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d-%d", ErrLineOutOfRange, from, from+count-1)
	}

	b.lines = append(b.lines[:from-1:from-1], b.lines[from-1+count:]...)
	if len(b.lines) == 0 {
		b.lines = []string{""}
	}

	end := from + count
	b.shiftLocked(func(line int) int {
		switch {
		case line < from:
			return line
		case line < end:
			return 0
		default:
			return line - count
		}
	})
	b.mu.Unlock()

	b.contentChanged.Emit(struct{}{})
	return nil
}

// SetText replaces the whole text. Markers past the new end are dropped.
func (b *Buffer) SetText(text string) error {
	b.mu.Lock()
	if err := b.editableLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.lines = splitLines(text)
	last := len(b.lines)
	b.shiftLocked(func(line int) int {
		if line > last {
			return 0
		}
		return line
	})
	b.mu.Unlock()

	b.contentChanged.Emit(struct{}{})
	return nil
}

// Render returns the text with the gutter drawn to its left.
func (b *Buffer) Render() string {
	b.mu.RLock()
	lines := append([]string(nil), b.lines...)
	current := b.current
	b.mu.RUnlock()

	g := gutter.New(gutter.DefaultConfig())
	g.SetSignProvider(b.signs)
	g.SetCurrentLine(current)
	return g.Render(lines)
}

// IsDisposed reports whether Dispose was called.
func (b *Buffer) IsDisposed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.disposed
}

// Dispose destroys the buffer and emits Disposed once.
func (b *Buffer) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	b.mu.Unlock()

	b.disposedSig.Emit(struct{}{})
	b.gutterClicked.DisconnectAll()
	b.contentChanged.DisconnectAll()
	b.disposedSig.DisconnectAll()
}

// editableLocked must be called with mu held.
func (b *Buffer) editableLocked() error {
	if b.disposed {
		return ErrDisposed
	}
	if b.readOnly {
		return ErrReadOnly
	}
	return nil
}

// shiftLocked maps every marker through move; 0 removes it. Must be called
// with mu held.
func (b *Buffer) shiftLocked(move func(int) int) {
	moved := make([]int, 0, len(b.markers))
	for _, l := range b.markers {
		moved = append(moved, move(l))
	}
	b.markers = b.normalizeLocked(moved)
	b.signs.Set(gutter.SignBreakpoint, b.markers...)

	if b.current != 0 {
		b.current = move(b.current)
		if b.current == 0 {
			b.signs.Clear(gutter.SignCurrentLine)
		} else {
			b.signs.Set(gutter.SignCurrentLine, b.current)
		}
	}
}

// normalizeLocked sorts lines, drops duplicates and lines outside the text.
func (b *Buffer) normalizeLocked(lines []int) []int {
	seen := make(map[int]bool, len(lines))
	out := make([]int, 0, len(lines))
	for _, l := range lines {
		if l < 1 || l > len(b.lines) || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
