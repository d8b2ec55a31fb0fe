package binder

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/dbgsync/internal/debug/model"
	"github.com/dshills/dbgsync/internal/host"
)

// SessionContextStrategy waits for the widget's session context to be
// ready and returns its session. Consoles and notebooks use it.
func SessionContextStrategy(ctx context.Context, w host.Widget) (host.Connection, error) {
	cw, ok := w.(host.ContextWidget)
	if !ok {
		return nil, ErrNoSessionContext
	}
	sc := cw.SessionContext()
	if sc == nil {
		return nil, ErrNoSessionContext
	}
	if err := sc.Ready(ctx); err != nil {
		return nil, fmt.Errorf("wait for session of %s: %w", w.ID(), err)
	}
	conn := sc.Session()
	if conn == nil {
		return nil, ErrNoMatchingSession
	}
	return conn, nil
}

// FileSessions resolves file editors to the running session opened on the
// same path. It connects once per session id and reuses the connection for
// its lifetime.
type FileSessions struct {
	registry host.SessionRegistry
	flight   singleflight.Group

	mu    sync.Mutex
	conns map[string]host.Connection
}

// NewFileSessions creates a resolver over registry.
func NewFileSessions(registry host.SessionRegistry) *FileSessions {
	return &FileSessions{
		registry: registry,
		conns:    make(map[string]host.Connection),
	}
}

// Strategy implements Strategy for file widgets.
func (f *FileSessions) Strategy(ctx context.Context, w host.Widget) (host.Connection, error) {
	path := model.NormalizePath(w.Path())
	if path == "" {
		return nil, ErrNoMatchingSession
	}

	running, err := f.registry.Running(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var match *host.SessionModel
	for i := range running {
		if model.NormalizePath(running[i].Path) == path {
			match = &running[i]
			break
		}
	}
	if match == nil {
		return nil, ErrNoMatchingSession
	}

	conn, err := f.connect(ctx, *match)
	if err != nil {
		return nil, err
	}
	if w.IsDisposed() {
		return nil, ErrWidgetDisposed
	}
	return conn, nil
}

func (f *FileSessions) connect(ctx context.Context, sm host.SessionModel) (host.Connection, error) {
	f.mu.Lock()
	conn, ok := f.conns[sm.ID]
	f.mu.Unlock()
	if ok {
		return conn, nil
	}

	v, err, _ := f.flight.Do(sm.ID, func() (any, error) {
		conn, err := f.registry.ConnectTo(ctx, sm)
		if err != nil {
			return nil, fmt.Errorf("connect to session %s: %w", sm.ID, err)
		}
		f.mu.Lock()
		f.conns[sm.ID] = conn
		f.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(host.Connection), nil
}

// Forget drops the cached connection of a session id.
func (f *FileSessions) Forget(id string) {
	f.mu.Lock()
	delete(f.conns, id)
	f.mu.Unlock()
}

// ConsoleStrategy resolves console panels.
var ConsoleStrategy Strategy = SessionContextStrategy

// NotebookStrategy resolves notebook panels.
var NotebookStrategy Strategy = SessionContextStrategy

// NewConsole creates the binder for console panels.
func NewConsole(svc Service, opts Options) *Binder {
	return New(host.KindConsole, ConsoleStrategy, svc, opts)
}

// NewNotebook creates the binder for notebook panels.
func NewNotebook(svc Service, opts Options) *Binder {
	return New(host.KindNotebook, NotebookStrategy, svc, opts)
}

// NewFile creates the binder for file editors, resolving them through
// sessions.
func NewFile(svc Service, sessions *FileSessions, opts Options) *Binder {
	return New(host.KindFile, sessions.Strategy, svc, opts)
}
