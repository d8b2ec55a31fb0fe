// Package app wires the debug service, editor handlers, source resolver and
// session binders into the engine a host application embeds.
package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/dshills/dbgsync/internal/binder"
	"github.com/dshills/dbgsync/internal/config"
	"github.com/dshills/dbgsync/internal/debug"
	"github.com/dshills/dbgsync/internal/debug/model"
	"github.com/dshills/dbgsync/internal/editor"
	"github.com/dshills/dbgsync/internal/handler"
	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/logflags"
	"github.com/dshills/dbgsync/internal/metrics"
	"github.com/dshills/dbgsync/internal/signal"
	"github.com/dshills/dbgsync/internal/sources"
)

// Options configures the engine.
type Options struct {
	// Shell is the host shell. Required.
	Shell host.Shell

	// Sessions lists running kernels for file editors. Without it file
	// editors are never bound.
	Sessions host.SessionRegistry

	// Settings defaults to config.Default().
	Settings *config.Settings

	// Factory builds read-only source editors.
	Factory editor.Factory

	Metrics *metrics.Metrics
	Logger  *logrus.Entry
}

// Engine is the host-facing facade.
type Engine struct {
	shell   host.Shell
	metrics *metrics.Metrics
	log     *logrus.Entry

	service  *debug.Service
	handlers *handler.Registry
	resolver *sources.Resolver

	binders map[host.WidgetKind]*binder.Binder
	files   *binder.FileSessions
	tracker *binder.Tracker

	conns signal.Group

	// ctx bounds follower work; cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards wg.Add against Close
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New builds the engine and starts following shell focus.
func New(opts Options) (*Engine, error) {
	if opts.Shell == nil {
		return nil, NewOperationError("new", "", ErrNoShell)
	}
	if opts.Settings == nil {
		opts.Settings = config.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logflags.ServiceLogger().WithField("component", "engine")
	}
	s := opts.Settings

	e := &Engine{
		shell:   opts.Shell,
		metrics: opts.Metrics,
		log:     opts.Logger,
		binders: make(map[host.WidgetKind]*binder.Binder),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.service = debug.NewService(debug.Options{
		VariableFilters: s.VariableFilters,
		RequestTimeout:  s.RequestTimeout,
		Metrics:         opts.Metrics,
	})
	e.handlers = handler.NewRegistry(e.service, handler.Options{
		Debounce:       s.EditorDebounce,
		RequestTimeout: s.RequestTimeout,
	})

	resolver, err := sources.New(e.service, opts.Shell, e.handlers, sources.Options{
		CacheSize: s.SourceCacheSize,
		Factory:   opts.Factory,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		e.handlers.Close()
		e.cancel()
		return nil, NewOperationError("new", "sources", err)
	}
	e.resolver = resolver

	bopts := binder.Options{Metrics: opts.Metrics}
	all := []*binder.Binder{
		binder.NewConsole(e.service, bopts),
		binder.NewNotebook(e.service, bopts),
	}
	if opts.Sessions != nil {
		e.files = binder.NewFileSessions(opts.Sessions)
		all = append(all, binder.NewFile(e.service, e.files, bopts))
	}
	for _, b := range all {
		e.binders[b.Kind()] = b
	}
	e.tracker = binder.NewTracker(all...)

	m := e.service.Model()
	e.conns.Add(m.Callstack.FrameChanged().Connect(e.onFrameChanged))
	e.conns.Add(m.Sources.CurrentSourceOpened().Connect(e.onSourceOpened))

	e.tracker.Watch(opts.Shell)
	return e, nil
}

// Service returns the debug service.
func (e *Engine) Service() *debug.Service { return e.service }

// Commands returns the run-control command surface.
func (e *Engine) Commands() *debug.Commands { return e.service.Commands() }

// Model returns the debugger model.
func (e *Engine) Model() *model.Model { return e.service.Model() }

// Metrics returns the engine metrics.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// UpdateContext waits for sc to be ready, then binds w to its session.
func (e *Engine) UpdateContext(ctx context.Context, w host.Widget, sc host.SessionContext) error {
	if err := sc.Ready(ctx); err != nil {
		return NewOperationError("update", w.ID(), err).WithContext("waiting for session")
	}
	return e.Update(ctx, w, sc.Session())
}

// Update binds w to conn, superseding pending focus activations.
func (e *Engine) Update(ctx context.Context, w host.Widget, conn host.Connection) error {
	if e.closed.Load() {
		return NewOperationError("update", w.ID(), ErrClosed)
	}
	b, ok := e.binders[w.Kind()]
	if !ok {
		return NewOperationError("update", w.ID(), ErrUnsupportedWidget).WithContext(w.Kind().String())
	}
	if err := b.Update(ctx, w, conn); err != nil {
		return NewOperationError("update", w.ID(), err)
	}
	return nil
}

// Track registers a user editor shown in widget w so that breakpoints and
// the current line are drawn on it.
func (e *Engine) Track(w host.Widget, ed editor.Editor, path, kernel string) (*sources.Binding, error) {
	b, err := e.resolver.Track(w, ed, path, kernel)
	if err != nil {
		return nil, NewOperationError("track", path, err)
	}
	return b, nil
}

// Find returns the editors showing a source.
func (e *Engine) Find(c sources.Criteria) []*sources.Binding {
	return e.resolver.Find(c)
}

// Open returns the editor for src, creating a read-only one if needed.
func (e *Engine) Open(ctx context.Context, src model.Source) (*sources.Binding, error) {
	if e.closed.Load() {
		return nil, NewOperationError("open", src.Key(), ErrClosed)
	}
	b, err := e.resolver.Open(ctx, src)
	if err != nil {
		return nil, NewOperationError("open", src.Key(), err)
	}
	return b, nil
}

// ShowSource makes src the model's current source, which opens it.
func (e *Engine) ShowSource(src model.Source) {
	e.service.Model().Sources.Open(src)
}

// HasStoppedThreads reports whether the current session is stopped.
func (e *Engine) HasStoppedThreads() bool {
	return e.service.HasStoppedThreads()
}

// FrameChanged emits the current frame, or nil when running.
func (e *Engine) FrameChanged() *signal.Signal[*model.Frame] {
	return e.service.Model().Callstack.FrameChanged()
}

// SourceOpened emits sources opened for display.
func (e *Engine) SourceOpened() *signal.Signal[model.Source] {
	return e.service.Model().Sources.CurrentSourceOpened()
}

// ApplySettings applies the settings that can change at runtime.
func (e *Engine) ApplySettings(s *config.Settings) {
	e.service.SetVariableFilters(s.VariableFilters)
	e.log.Debug("settings applied")
}

// Wait blocks until pending follower and focus work finished.
func (e *Engine) Wait() {
	e.tracker.Wait()
	e.wg.Wait()
}

// Close stops following the shell, disposes every source editor and
// detaches the session.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.tracker.Close()
	e.conns.DisconnectAll()
	e.cancel()
	e.wg.Wait()

	for _, b := range e.binders {
		b.Close()
	}
	e.resolver.Close()
	e.handlers.Close()

	var result *multierror.Error
	if err := e.service.Close(ctx); err != nil {
		result = multierror.Append(result, NewOperationError("close", "service", err))
	}
	return result.ErrorOrNil()
}
