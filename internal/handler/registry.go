package handler

import (
	"sync"

	"github.com/dshills/dbgsync/internal/debug"
	"github.com/dshills/dbgsync/internal/editor"
	"github.com/dshills/dbgsync/internal/signal"
)

// Registry keeps at most one handler per live editor.
type Registry struct {
	svc  Service
	opts Options

	conns signal.Group

	mu       sync.Mutex
	handlers map[string]*Handler
}

// NewRegistry creates an empty registry. Handlers of writable editors
// follow the service's current session; read-only editors stay bound to
// the session they were opened in.
func NewRegistry(svc Service, opts Options) *Registry {
	r := &Registry{
		svc:      svc,
		opts:     opts.withDefaults(),
		handlers: make(map[string]*Handler),
	}
	r.conns.Add(svc.SessionChanged().Connect(r.onSessionChanged))
	return r
}

// Attach returns the handler of ed, creating it on first use.
func (r *Registry) Attach(ed editor.Editor, path string) (*Handler, error) {
	if ed.IsDisposed() {
		return nil, editor.ErrDisposed
	}

	r.mu.Lock()
	if h, ok := r.handlers[ed.ID()]; ok {
		r.mu.Unlock()
		return h, nil
	}
	h := New(ed, path, r.svc, r.opts)
	r.handlers[ed.ID()] = h
	r.mu.Unlock()

	id := ed.ID()
	h.OnDispose(func() { r.remove(id, h) })
	return h, nil
}

// Get returns the handler of ed.
func (r *Registry) Get(ed editor.Editor) (*Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[ed.ID()]
	return h, ok
}

// ForPath returns the handlers showing path.
func (r *Registry) ForPath(path string) []*Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Handler
	for _, h := range r.handlers {
		if h.path == path {
			out = append(out, h)
		}
	}
	return out
}

// Len returns the number of live handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Close disposes every handler and stops following the service.
func (r *Registry) Close() {
	r.conns.DisconnectAll()

	r.mu.Lock()
	handlers := make([]*Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h.Dispose()
	}
}

func (r *Registry) remove(id string, h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[id] == h {
		delete(r.handlers, id)
	}
}

func (r *Registry) onSessionChanged(s *debug.Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	handlers := make([]*Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		if !h.editor.ReadOnly() {
			handlers = append(handlers, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h.setSessionID(s.ID())
	}
}
