// Package editor defines the editor surface the debugger decorates and an
// in-memory implementation of it.
package editor

import (
	"errors"

	"github.com/dshills/dbgsync/internal/signal"
)

// Errors returned by editor operations.
var (
	ErrReadOnly       = errors.New("editor is read-only")
	ErrDisposed       = errors.New("editor is disposed")
	ErrLineOutOfRange = errors.New("line out of range")
)

// Editor is a text editor whose gutter shows breakpoint markers and the
// current execution line. Lines are 1-based.
type Editor interface {
	ID() string
	Path() string
	Text() string
	LineCount() int
	ReadOnly() bool

	// SetBreakpointMarkers replaces the breakpoint markers.
	SetBreakpointMarkers(lines []int)
	BreakpointMarkers() []int

	// SetCurrentLine moves the current-line marker to line.
	SetCurrentLine(line int)
	ClearCurrentLine()
	// CurrentLine returns the marked line, or 0.
	CurrentLine() int

	// RevealLine scrolls line into view.
	RevealLine(line int)

	// GutterClicked emits the line whose gutter was clicked.
	GutterClicked() *signal.Signal[int]
	// ContentChanged emits after every text edit.
	ContentChanged() *signal.Signal[struct{}]
	// Disposed emits once when the editor is destroyed.
	Disposed() *signal.Signal[struct{}]
	IsDisposed() bool
	Dispose()
}

// Factory creates a read-only editor showing content.
type Factory func(content, mimeType, path string) Editor

// NewReadOnly is the default Factory.
func NewReadOnly(content, mimeType, path string) Editor {
	b := NewBuffer(path, content)
	b.mimeType = mimeType
	b.readOnly = true
	return b
}
