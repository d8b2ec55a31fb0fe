// Package host declares the narrow interfaces the synchronization engine
// consumes from the application shell and the kernel session layer.
package host

import (
	"context"

	"github.com/dshills/dbgsync/internal/debug/dap"
	"github.com/dshills/dbgsync/internal/signal"
)

// WidgetKind identifies the kind of a UI container.
type WidgetKind int

const (
	// KindConsole is an interactive console panel.
	KindConsole WidgetKind = iota
	// KindFile is a standalone file editor document.
	KindFile
	// KindNotebook is a notebook panel.
	KindNotebook
	// KindSource is a read-only source tab opened by the debugger.
	KindSource
)

// String returns a string representation of the kind.
func (k WidgetKind) String() string {
	switch k {
	case KindConsole:
		return "console"
	case KindFile:
		return "file"
	case KindNotebook:
		return "notebook"
	case KindSource:
		return "source"
	default:
		return "unknown"
	}
}

// Widget is a UI container participating in debugging.
type Widget interface {
	ID() string
	Kind() WidgetKind

	// Path is the document path, empty for panels without one.
	Path() string

	// Disposed fires once when the widget is destroyed.
	Disposed() *signal.Signal[struct{}]
	IsDisposed() bool
}

// Status is a kernel connection status.
type Status string

// Kernel statuses the engine reacts to.
const (
	StatusIdle       Status = "idle"
	StatusBusy       Status = "busy"
	StatusRestarting Status = "restarting"
	StatusDead       Status = "dead"
)

// Connection is a live connection to a kernel session.
type Connection interface {
	// ID is the kernel session identifier.
	ID() string
	Path() string
	KernelName() string

	// DebuggerAvailable reports whether the kernel supports debugging.
	DebuggerAvailable() bool

	// Open opens a debug adapter channel on the kernel.
	Open(ctx context.Context) (dap.Transport, error)

	StatusChanged() *signal.Signal[Status]
}

// SessionContext tracks the kernel session of a console or notebook.
type SessionContext interface {
	// Ready blocks until the session is usable.
	Ready(ctx context.Context) error

	// Session returns the current connection, or nil.
	Session() Connection
}

// ContextWidget is a widget backed by a session context.
type ContextWidget interface {
	Widget
	SessionContext() SessionContext
}

// SessionModel describes a running kernel session.
type SessionModel struct {
	ID         string
	Path       string
	Name       string
	KernelName string
}

// SessionRegistry lists running kernel sessions and connects to them.
type SessionRegistry interface {
	Running(ctx context.Context) ([]SessionModel, error)
	ConnectTo(ctx context.Context, model SessionModel) (Connection, error)
}

// Tab is a read-only tab added to the shell.
type Tab struct {
	ID     string
	Title  string
	Widget Widget
}

// Shell is the application shell.
type Shell interface {
	// CurrentChanged emits the newly focused widget, or nil.
	CurrentChanged() *signal.Signal[Widget]
	Current() Widget

	// Activate focuses the tab with id. It reports false when there is none.
	Activate(id string) bool
	AddReadOnly(tab Tab)
	HasTab(id string) bool

	// Tab returns the open tab with id.
	Tab(id string) (Tab, bool)
}
