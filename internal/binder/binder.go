// Package binder keeps the debug service attached to the kernel session of
// the most recently focused and ready widget.
package binder

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/dbgsync/internal/debug"
	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/logflags"
	"github.com/dshills/dbgsync/internal/metrics"
	"github.com/dshills/dbgsync/internal/signal"
)

// Strategy resolves the kernel connection of a widget. It may block until
// the widget's session is ready.
type Strategy func(ctx context.Context, w host.Widget) (host.Connection, error)

// Service is the part of the debug service a binder drives.
type Service interface {
	SetConnection(ctx context.Context, conn host.Connection) (bool, error)
	Connection() host.Connection
	Commands() *debug.Commands
}

// sequence orders activations. Binders sharing a sequence apply only the
// most recent activation among them.
type sequence struct {
	mu      sync.Mutex // held while an activation is applied
	stateMu sync.Mutex
	n       uint64
}

// next starts a new activation and returns its generation.
func (s *sequence) next() uint64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.n++
	return s.n
}

func (s *sequence) current() uint64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.n
}

// Options configures a Binder.
type Options struct {
	Metrics *metrics.Metrics
	Logger  *logrus.Entry
}

// Binder attaches widgets of one kind to the debug service.
type Binder struct {
	kind     host.WidgetKind
	strategy Strategy
	svc      Service
	seq      *sequence
	metrics  *metrics.Metrics
	log      *logrus.Entry

	mu    sync.Mutex
	bound map[string]*signal.Connection
}

// New creates a binder for widgets of kind.
func New(kind host.WidgetKind, strategy Strategy, svc Service, opts Options) *Binder {
	if opts.Logger == nil {
		opts.Logger = logflags.BinderLogger(kind.String())
	}
	return &Binder{
		kind:     kind,
		strategy: strategy,
		svc:      svc,
		seq:      &sequence{},
		metrics:  opts.Metrics,
		log:      opts.Logger,
		bound:    make(map[string]*signal.Connection),
	}
}

// Kind returns the widget kind the binder handles.
func (b *Binder) Kind() host.WidgetKind { return b.kind }

// Activate attaches the service to w's session once it resolves, unless
// another activation started in the meantime. Widgets of another kind and
// lookup misses are ignored; the service is never detached here.
func (b *Binder) Activate(ctx context.Context, w host.Widget) error {
	if w == nil || w.Kind() != b.kind {
		return nil
	}
	return b.activate(ctx, w, b.seq.next())
}

func (b *Binder) activate(ctx context.Context, w host.Widget, gen uint64) error {
	log := b.log.WithField("widget", w.ID())

	conn, err := b.strategy(ctx, w)
	if err == nil && conn == nil {
		err = ErrNoMatchingSession
	}
	if err == nil && w.IsDisposed() {
		err = ErrWidgetDisposed
	}
	if err != nil {
		log.WithError(err).Debug("no session for widget")
		b.metrics.Binder(b.kind.String(), "miss")
		return nil
	}

	b.seq.mu.Lock()
	defer b.seq.mu.Unlock()
	if b.seq.current() != gen {
		log.Debug("activation superseded")
		b.metrics.Binder(b.kind.String(), "superseded")
		return nil
	}
	return b.apply(ctx, w, conn)
}

// Update binds w to conn directly, superseding pending activations. It is
// a no-op when the pair is already bound.
func (b *Binder) Update(ctx context.Context, w host.Widget, conn host.Connection) error {
	b.seq.next()
	b.seq.mu.Lock()
	defer b.seq.mu.Unlock()
	return b.apply(ctx, w, conn)
}

// apply must be called with seq.mu held.
func (b *Binder) apply(ctx context.Context, w host.Widget, conn host.Connection) error {
	if w.IsDisposed() {
		b.metrics.Binder(b.kind.String(), "miss")
		return nil
	}

	b.mu.Lock()
	_, known := b.bound[w.ID()]
	if !known {
		id := w.ID()
		b.bound[id] = w.Disposed().Connect(func(struct{}) { b.drop(id) })
	}
	b.mu.Unlock()

	if known && b.svc.Connection() == conn {
		b.metrics.Binder(b.kind.String(), "unchanged")
		return nil
	}

	changed, err := b.svc.SetConnection(ctx, conn)
	if err != nil {
		b.metrics.Binder(b.kind.String(), "error")
		return fmt.Errorf("bind %s %s: %w", b.kind, w.ID(), err)
	}
	b.svc.Commands().Notify()

	if changed {
		b.metrics.Binder(b.kind.String(), "attached")
		b.log.WithFields(logrus.Fields{"widget": w.ID(), "session": sessionID(conn)}).Info("bound widget")
	} else {
		b.metrics.Binder(b.kind.String(), "unchanged")
	}
	return nil
}

func sessionID(conn host.Connection) string {
	if conn == nil {
		return ""
	}
	return conn.ID()
}

// Bound reports whether listeners are registered for the widget id.
func (b *Binder) Bound(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bound[id]
	return ok
}

func (b *Binder) drop(id string) {
	b.mu.Lock()
	conn := b.bound[id]
	delete(b.bound, id)
	b.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

// Close disconnects every per-widget listener.
func (b *Binder) Close() {
	b.mu.Lock()
	bound := b.bound
	b.bound = make(map[string]*signal.Connection)
	b.mu.Unlock()
	for _, c := range bound {
		c.Disconnect()
	}
}
