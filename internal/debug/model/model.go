// Package model holds the debugger state mirrored from the adapter: the call
// stack, breakpoints by source, variable scopes and the currently open
// source. Every part exposes change signals for editor-side observers.
package model

import (
	"path/filepath"
	"strconv"

	godap "github.com/google/go-dap"
)

// Source identifies viewable content, either by a local path or by an
// adapter assigned reference whose content must be fetched.
type Source struct {
	Name      string
	Path      string
	Reference int
	Content   string
	MimeType  string
}

// Unresolved reports whether the source needs a fetch before display.
func (s Source) Unresolved() bool {
	return s.Reference != 0 && s.Content == ""
}

// Key returns the identity used to key caches and breakpoint sets.
func (s Source) Key() string {
	if s.Path != "" {
		return NormalizePath(s.Path)
	}
	if s.Reference != 0 {
		return "ref:" + strconv.Itoa(s.Reference)
	}
	return ""
}

// DAP converts the source to its protocol form.
func (s Source) DAP() godap.Source {
	return godap.Source{
		Name:            s.Name,
		Path:            s.Path,
		SourceReference: s.Reference,
	}
}

// SourceFromDAP converts a protocol source. A nil source yields the zero
// Source.
func SourceFromDAP(src *godap.Source) Source {
	if src == nil {
		return Source{}
	}
	return Source{
		Name:      src.Name,
		Path:      src.Path,
		Reference: src.SourceReference,
	}
}

// NormalizePath cleans p and converts it to slash form. Empty stays empty.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// Frame is one entry of a stopped thread's call stack.
type Frame struct {
	ID     int
	Name   string
	Source Source
	Line   int
	Column int
}

// FrameFromDAP converts a protocol stack frame.
func FrameFromDAP(f godap.StackFrame) Frame {
	return Frame{
		ID:     f.Id,
		Name:   f.Name,
		Source: SourceFromDAP(f.Source),
		Line:   f.Line,
		Column: f.Column,
	}
}

// Breakpoint is a line breakpoint as confirmed by the adapter.
type Breakpoint struct {
	ID        int
	Source    Source
	Line      int
	Enabled   bool
	Verified  bool
	Condition string
	Message   string
}

// BreakpointFromDAP converts a confirmed protocol breakpoint. Breakpoints
// echoed without a source inherit fallback. The protocol does not echo
// conditions, so Condition is empty; Confirm pairs the echo with its
// request to fill it in. Breakpoints reported by the adapter are enabled.
func BreakpointFromDAP(bp godap.Breakpoint, fallback Source) Breakpoint {
	src := SourceFromDAP(bp.Source)
	if src.Path == "" && src.Reference == 0 {
		src = fallback
	}
	return Breakpoint{
		ID:       bp.Id,
		Source:   src,
		Line:     bp.Line,
		Enabled:  true,
		Verified: bp.Verified,
		Message:  bp.Message,
	}
}

// Confirm merges the adapter's echo of a setBreakpoints request with the
// breakpoints that were requested. The echo lists one entry per requested
// breakpoint in request order; the requested condition is kept for each.
// Entries the adapter could not place (line <= 0) are dropped.
func Confirm(requested []Breakpoint, echoed []godap.Breakpoint, fallback Source) []Breakpoint {
	out := make([]Breakpoint, 0, len(echoed))
	for i, e := range echoed {
		bp := BreakpointFromDAP(e, fallback)
		if bp.Line <= 0 {
			continue
		}
		if i < len(requested) {
			bp.Condition = requested[i].Condition
		}
		out = append(out, bp)
	}
	return out
}

// Scope is a named group of variables of the current frame.
type Scope struct {
	Name      string
	Reference int
	Variables []Variable
}

// Variable is one inspected value. Reference is non-zero when it has
// children.
type Variable struct {
	Name      string
	Value     string
	Type      string
	Reference int
}

// VariableFromDAP converts a protocol variable.
func VariableFromDAP(v godap.Variable) Variable {
	return Variable{
		Name:      v.Name,
		Value:     v.Value,
		Type:      v.Type,
		Reference: v.VariablesReference,
	}
}

// Model is the single debugger state instance owned by a debug service.
type Model struct {
	Breakpoints *Breakpoints
	Callstack   *Callstack
	Sources     *Sources
	Variables   *Variables
}

// New creates an empty model.
func New() *Model {
	return &Model{
		Breakpoints: NewBreakpoints(),
		Callstack:   NewCallstack(),
		Sources:     NewSources(),
		Variables:   NewVariables(),
	}
}

// Clear resets the call stack, sources and variables. Breakpoints survive;
// they are restored from the adapter when a session attaches.
func (m *Model) Clear() {
	m.Callstack.Clear()
	m.Sources.Clear()
	m.Variables.Clear()
}
