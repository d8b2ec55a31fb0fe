// Package hosttest provides in-memory host fakes for tests.
package hosttest

import (
	"context"
	"errors"
	"sync"

	"github.com/dshills/dbgsync/internal/debug/dap"
	"github.com/dshills/dbgsync/internal/debug/debugtest"
	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/signal"
)

// ErrNoAdapter is returned by Open on a connection without debugger.
var ErrNoAdapter = errors.New("kernel has no debugger")

// Widget is a fake widget.
type Widget struct {
	id       string
	kind     host.WidgetKind
	path     string
	ctx      *SessionContext
	disposed *signal.Signal[struct{}]

	mu   sync.Mutex
	dead bool
}

// NewWidget creates a widget. ctx may be nil for file widgets.
func NewWidget(id string, kind host.WidgetKind, path string, ctx *SessionContext) *Widget {
	return &Widget{
		id:       id,
		kind:     kind,
		path:     path,
		ctx:      ctx,
		disposed: signal.New[struct{}](),
	}
}

func (w *Widget) ID() string                         { return w.id }
func (w *Widget) Kind() host.WidgetKind              { return w.kind }
func (w *Widget) Path() string                       { return w.path }
func (w *Widget) Disposed() *signal.Signal[struct{}] { return w.disposed }

// SessionContext returns the widget's session context.
func (w *Widget) SessionContext() host.SessionContext {
	if w.ctx == nil {
		return nil
	}
	return w.ctx
}

// IsDisposed reports whether Dispose was called.
func (w *Widget) IsDisposed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dead
}

// Dispose destroys the widget and emits Disposed once.
func (w *Widget) Dispose() {
	w.mu.Lock()
	if w.dead {
		w.mu.Unlock()
		return
	}
	w.dead = true
	w.mu.Unlock()
	w.disposed.Emit(struct{}{})
}

// SessionContext is a fake session context whose readiness is set by the
// test.
type SessionContext struct {
	mu    sync.Mutex
	conn  host.Connection
	ready chan struct{}
	once  sync.Once
}

// NewSessionContext creates a context for conn that is not ready yet.
func NewSessionContext(conn host.Connection) *SessionContext {
	return &SessionContext{conn: conn, ready: make(chan struct{})}
}

// SetReady unblocks Ready.
func (c *SessionContext) SetReady() {
	c.once.Do(func() { close(c.ready) })
}

// Ready blocks until SetReady or ctx is done.
func (c *SessionContext) Ready(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns the connection.
func (c *SessionContext) Session() host.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SetSession replaces the connection.
func (c *SessionContext) SetSession(conn host.Connection) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Connection is a fake kernel connection. Every Open starts a fresh
// debugtest.Adapter, configured by Setup if set.
type Connection struct {
	id, path, kernel string
	debugger         bool
	status           *signal.Signal[host.Status]

	// Setup configures each adapter before it is returned by Open.
	Setup func(*debugtest.Adapter)

	mu       sync.Mutex
	adapters []*debugtest.Adapter
}

// NewConnection creates a debug capable connection.
func NewConnection(id, path, kernel string) *Connection {
	return &Connection{
		id:       id,
		path:     path,
		kernel:   kernel,
		debugger: true,
		status:   signal.New[host.Status](),
	}
}

// WithoutDebugger marks the kernel as lacking debugger support.
func (c *Connection) WithoutDebugger() *Connection {
	c.debugger = false
	return c
}

func (c *Connection) ID() string                                 { return c.id }
func (c *Connection) Path() string                               { return c.path }
func (c *Connection) KernelName() string                         { return c.kernel }
func (c *Connection) DebuggerAvailable() bool                    { return c.debugger }
func (c *Connection) StatusChanged() *signal.Signal[host.Status] { return c.status }

// Open starts a new fake adapter.
func (c *Connection) Open(ctx context.Context) (dap.Transport, error) {
	if !c.debugger {
		return nil, ErrNoAdapter
	}
	a, tr := debugtest.New()
	if c.Setup != nil {
		c.Setup(a)
	}
	c.mu.Lock()
	c.adapters = append(c.adapters, a)
	c.mu.Unlock()
	return tr, nil
}

// Adapter returns the most recently opened adapter, or nil.
func (c *Connection) Adapter() *debugtest.Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.adapters) == 0 {
		return nil
	}
	return c.adapters[len(c.adapters)-1]
}

// Opens returns how many adapters were opened.
func (c *Connection) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.adapters)
}

// Close closes every adapter.
func (c *Connection) Close() {
	c.mu.Lock()
	adapters := append([]*debugtest.Adapter(nil), c.adapters...)
	c.mu.Unlock()
	for _, a := range adapters {
		a.Close()
	}
}

// Registry is a fake session registry.
type Registry struct {
	mu       sync.Mutex
	sessions []host.SessionModel
	conns    map[string]*Connection
	connects map[string]int

	// Gate, when set, blocks ConnectTo until it is closed.
	Gate chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		connects: make(map[string]int),
	}
}

// Add registers a running session and the connection ConnectTo returns.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, host.SessionModel{
		ID:         conn.ID(),
		Path:       conn.Path(),
		Name:       conn.Path(),
		KernelName: conn.KernelName(),
	})
	r.conns[conn.ID()] = conn
}

// Running lists the sessions.
func (r *Registry) Running(ctx context.Context) ([]host.SessionModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]host.SessionModel(nil), r.sessions...), nil
}

// ConnectTo returns the registered connection.
func (r *Registry) ConnectTo(ctx context.Context, model host.SessionModel) (host.Connection, error) {
	r.mu.Lock()
	gate := r.Gate
	r.connects[model.ID]++
	conn, ok := r.conns[model.ID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("unknown session " + model.ID)
	}
	return conn, nil
}

// Connects returns how many times ConnectTo was called for id.
func (r *Registry) Connects(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects[id]
}

// Shell is a fake application shell.
type Shell struct {
	mu      sync.Mutex
	current host.Widget
	tabs    map[string]host.Tab
	order   []string
	changed *signal.Signal[host.Widget]
}

// NewShell creates an empty shell.
func NewShell() *Shell {
	return &Shell{
		tabs:    make(map[string]host.Tab),
		changed: signal.New[host.Widget](),
	}
}

func (s *Shell) CurrentChanged() *signal.Signal[host.Widget] { return s.changed }

// Current returns the focused widget.
func (s *Shell) Current() host.Widget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Focus makes w current and emits CurrentChanged.
func (s *Shell) Focus(w host.Widget) {
	s.mu.Lock()
	s.current = w
	s.mu.Unlock()
	s.changed.Emit(w)
}

// Activate focuses the tab with id.
func (s *Shell) Activate(id string) bool {
	s.mu.Lock()
	tab, ok := s.tabs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.Focus(tab.Widget)
	return true
}

// AddReadOnly adds a tab. The tab is removed when its widget is disposed.
func (s *Shell) AddReadOnly(tab host.Tab) {
	s.mu.Lock()
	s.tabs[tab.ID] = tab
	s.order = append(s.order, tab.ID)
	s.mu.Unlock()

	if tab.Widget != nil {
		tab.Widget.Disposed().Connect(func(struct{}) {
			s.mu.Lock()
			if cur, ok := s.tabs[tab.ID]; ok && cur.Widget == tab.Widget {
				delete(s.tabs, tab.ID)
			}
			s.mu.Unlock()
		})
	}
}

// HasTab reports whether a tab with id is open.
func (s *Shell) HasTab(id string) bool {
	_, ok := s.Tab(id)
	return ok
}

// Tab returns the open tab with id.
func (s *Shell) Tab(id string) (host.Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[id]
	return tab, ok
}

// Tabs returns the ids of the tabs ever added, in order.
func (s *Shell) Tabs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
