package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/dbgsync/internal/config"
	"github.com/dshills/dbgsync/internal/debug/dap"
	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/signal"
)

var (
	errEmptyCommand     = errors.New("stdio transport needs an adapter command")
	errUnknownTransport = errors.New("unknown transport")
)

// adapterConnection is a kernel connection that opens DAP channels with the
// configured transport.
type adapterConnection struct {
	id       string
	path     string
	kernel   string
	settings config.AdapterSettings
	status   *signal.Signal[host.Status]
}

func newAdapterConnection(path, kernel string, s config.AdapterSettings) *adapterConnection {
	return &adapterConnection{
		id:       uuid.New().String(),
		path:     path,
		kernel:   kernel,
		settings: s,
		status:   signal.New[host.Status](),
	}
}

func (c *adapterConnection) ID() string                                 { return c.id }
func (c *adapterConnection) Path() string                               { return c.path }
func (c *adapterConnection) KernelName() string                         { return c.kernel }
func (c *adapterConnection) DebuggerAvailable() bool                    { return true }
func (c *adapterConnection) StatusChanged() *signal.Signal[host.Status] { return c.status }

func (c *adapterConnection) Open(ctx context.Context) (dap.Transport, error) {
	var (
		tr  dap.Transport
		err error
	)
	switch c.settings.Transport {
	case config.TransportSocket:
		tr, err = dap.NewSocketTransport(ctx, c.settings.Address)
	case config.TransportWebSocket:
		tr, err = dap.NewWebSocketTransport(ctx, c.settings.Address, http.Header{})
	case config.TransportStdio:
		args := c.settings.Command
		if len(args) == 0 {
			return nil, errEmptyCommand
		}
		// The adapter outlives the open request.
		cmd := exec.CommandContext(context.WithoutCancel(ctx), args[0], args[1:]...)
		tr, err = dap.NewStdioTransport(cmd)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownTransport, c.settings.Transport)
	}
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// fileWidget is the document widget of the file given on the command line.
type fileWidget struct {
	id       string
	path     string
	disposed *signal.Signal[struct{}]

	mu   sync.Mutex
	dead bool
}

func newFileWidget(path string) *fileWidget {
	return &fileWidget{
		id:       uuid.New().String(),
		path:     path,
		disposed: signal.New[struct{}](),
	}
}

func (w *fileWidget) ID() string                         { return w.id }
func (w *fileWidget) Kind() host.WidgetKind              { return host.KindFile }
func (w *fileWidget) Path() string                       { return w.path }
func (w *fileWidget) Disposed() *signal.Signal[struct{}] { return w.disposed }

func (w *fileWidget) IsDisposed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dead
}

func (w *fileWidget) Dispose() {
	w.mu.Lock()
	if w.dead {
		w.mu.Unlock()
		return
	}
	w.dead = true
	w.mu.Unlock()
	w.disposed.Emit(struct{}{})
}

// terminalShell is a shell without windows. Read-only tabs are announced on
// out and kept until their widget is disposed.
type terminalShell struct {
	out     io.Writer
	changed *signal.Signal[host.Widget]

	mu      sync.Mutex
	current host.Widget
	tabs    map[string]host.Tab
}

func newTerminalShell(out io.Writer) *terminalShell {
	return &terminalShell{
		out:     out,
		changed: signal.New[host.Widget](),
		tabs:    make(map[string]host.Tab),
	}
}

func (s *terminalShell) CurrentChanged() *signal.Signal[host.Widget] { return s.changed }

func (s *terminalShell) Current() host.Widget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *terminalShell) Focus(w host.Widget) {
	s.mu.Lock()
	s.current = w
	s.mu.Unlock()
	s.changed.Emit(w)
}

func (s *terminalShell) Activate(id string) bool {
	s.mu.Lock()
	tab, ok := s.tabs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.Focus(tab.Widget)
	return true
}

func (s *terminalShell) AddReadOnly(tab host.Tab) {
	s.mu.Lock()
	s.tabs[tab.ID] = tab
	s.mu.Unlock()
	fmt.Fprintf(s.out, "opened %s\n", tab.Title)

	if tab.Widget == nil {
		return
	}
	tab.Widget.Disposed().Connect(func(struct{}) {
		s.mu.Lock()
		if cur, ok := s.tabs[tab.ID]; ok && cur.Widget == tab.Widget {
			delete(s.tabs, tab.ID)
		}
		s.mu.Unlock()
	})
}

func (s *terminalShell) HasTab(id string) bool {
	_, ok := s.Tab(id)
	return ok
}

func (s *terminalShell) Tab(id string) (host.Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[id]
	return tab, ok
}

// staticSessions is a registry holding the single adapter session.
type staticSessions struct {
	conn *adapterConnection
}

func (r staticSessions) Running(ctx context.Context) ([]host.SessionModel, error) {
	return []host.SessionModel{{
		ID:         r.conn.ID(),
		Path:       r.conn.Path(),
		Name:       r.conn.Path(),
		KernelName: r.conn.KernelName(),
	}}, nil
}

func (r staticSessions) ConnectTo(ctx context.Context, m host.SessionModel) (host.Connection, error) {
	if m.ID != r.conn.ID() {
		return nil, fmt.Errorf("unknown session %s", m.ID)
	}
	return r.conn, nil
}
