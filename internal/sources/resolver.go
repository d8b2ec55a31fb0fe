// Package sources resolves debugger source descriptors to editors: the
// user's own open documents when they match, otherwise read-only editors
// synthesized from fetched content and cached per session.
package sources

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/dbgsync/internal/debug"
	"github.com/dshills/dbgsync/internal/debug/model"
	"github.com/dshills/dbgsync/internal/editor"
	"github.com/dshills/dbgsync/internal/handler"
	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/logflags"
	"github.com/dshills/dbgsync/internal/metrics"
	"github.com/dshills/dbgsync/internal/signal"
)

// DefaultCacheSize bounds the read-only editors kept per session.
const DefaultCacheSize = 64

// TabPrefix prefixes the shell tab id of every read-only source editor.
const TabPrefix = "debugger-source-"

// ErrSessionChanged is returned by Open when the session changed while the
// source was being fetched.
var ErrSessionChanged = errors.New("debug session changed while opening source")

// ErrForeignTab is returned by Open when the shell already has the tab of a
// source but its widget does not expose a reusable editor.
var ErrForeignTab = errors.New("source tab is not backed by a reusable editor")

// EditorWidget is a shell widget that shows an editor. Open adopts an
// existing tab through it, for instance one the host restored.
type EditorWidget interface {
	host.Widget
	Editor() editor.Editor
}

// Service is the part of the debug service the resolver uses.
type Service interface {
	handler.Service
	GetSource(ctx context.Context, src model.Source) (model.Source, error)
}

// Criteria selects editor bindings.
type Criteria struct {
	// Path is the source path.
	Path string
	// Focus keeps only the binding of the shell's current widget.
	Focus bool
	// Kernel keeps only bindings of that kernel when set.
	Kernel string
}

// Binding ties an editor to the source it shows.
type Binding struct {
	Editor   editor.Editor
	Handler  *handler.Handler
	Widget   host.Widget
	Path     string
	Kernel   string
	ReadOnly bool

	seq uint64
}

// Options configures a Resolver.
type Options struct {
	CacheSize int
	Factory   editor.Factory
	Metrics   *metrics.Metrics
	Logger    *logrus.Entry
}

// Resolver finds and opens editors for sources.
type Resolver struct {
	svc      Service
	shell    host.Shell
	handlers *handler.Registry
	factory  editor.Factory
	metrics  *metrics.Metrics
	log      *logrus.Entry

	cache  *lru.Cache
	flight singleflight.Group
	conns  signal.Group

	evictMu sync.Mutex
	evicted []*Binding

	mu      sync.Mutex
	tracked map[string]*Binding
	seq     uint64
	gen     uint64
}

// New creates a resolver. Cached editors are purged whenever the service's
// session changes.
func New(svc Service, shell host.Shell, handlers *handler.Registry, opts Options) (*Resolver, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Factory == nil {
		opts.Factory = editor.NewReadOnly
	}
	if opts.Logger == nil {
		opts.Logger = logflags.SourcesLogger()
	}

	r := &Resolver{
		svc:      svc,
		shell:    shell,
		handlers: handlers,
		factory:  opts.Factory,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		tracked:  make(map[string]*Binding),
	}
	cache, err := lru.NewWithEvict(opts.CacheSize, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create source cache: %w", err)
	}
	r.cache = cache
	r.conns.Add(svc.SessionChanged().Connect(func(*debug.Session) { r.Purge() }))
	return r, nil
}

// TabID returns the shell tab id of the read-only editor for path.
func TabID(path string) string {
	return fmt.Sprintf("%s%016x", TabPrefix, xxhash.Sum64String(model.NormalizePath(path)))
}

// Track registers a user editor showing path so that Find and Open prefer
// it over a synthesized copy. The binding is dropped when the editor is
// disposed.
func (r *Resolver) Track(w host.Widget, ed editor.Editor, path, kernel string) (*Binding, error) {
	h, err := r.handlers.Attach(ed, path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if b, ok := r.tracked[ed.ID()]; ok {
		r.mu.Unlock()
		return b, nil
	}
	r.seq++
	b := &Binding{
		Editor:  ed,
		Handler: h,
		Widget:  w,
		Path:    model.NormalizePath(path),
		Kernel:  kernel,
		seq:     r.seq,
	}
	r.tracked[ed.ID()] = b
	r.mu.Unlock()

	id := ed.ID()
	h.OnDispose(func() {
		r.mu.Lock()
		if r.tracked[id] == b {
			delete(r.tracked, id)
		}
		r.mu.Unlock()
	})
	return b, nil
}

// Find returns the bindings showing c.Path, user editors first.
func (r *Resolver) Find(c Criteria) []*Binding {
	key := model.NormalizePath(c.Path)
	if key == "" {
		return nil
	}

	r.mu.Lock()
	var out []*Binding
	for _, b := range r.tracked {
		if b.Path == key && !b.Editor.IsDisposed() {
			out = append(out, b)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })

	if b, ok := r.cached(key); ok {
		out = append(out, b)
	}

	if c.Kernel != "" {
		out = filter(out, func(b *Binding) bool { return b.Kernel == "" || b.Kernel == c.Kernel })
	}
	if c.Focus {
		current := r.shell.Current()
		out = filter(out, func(b *Binding) bool {
			return current != nil && b.Widget != nil && b.Widget.ID() == current.ID()
		})
	}
	return out
}

func filter(bs []*Binding, keep func(*Binding) bool) []*Binding {
	out := bs[:0]
	for _, b := range bs {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

// Open returns the editor for src: a tracked user editor for its path, the
// cached read-only editor, or a new read-only editor built from fetched
// content. Concurrent opens of one source share a single fetch.
func (r *Resolver) Open(ctx context.Context, src model.Source) (*Binding, error) {
	key := src.Key()
	if key == "" {
		return nil, fmt.Errorf("%w: empty source descriptor", debug.ErrSourceUnavailable)
	}

	if src.Path != "" {
		if bs := r.Find(Criteria{Path: src.Path}); len(bs) > 0 && !bs[0].ReadOnly {
			return bs[0], nil
		}
	}

	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.open(ctx, src, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Binding), nil
}

func (r *Resolver) open(ctx context.Context, src model.Source, key string) (*Binding, error) {
	tabID := TabID(key)
	if b, ok := r.cached(key); ok {
		r.shell.Activate(tabID)
		r.metrics.Source("reused")
		return b, nil
	}
	if tab, ok := r.shell.Tab(tabID); ok {
		return r.adopt(key, tab)
	}

	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	fetched, err := r.svc.GetSource(ctx, src)
	if err != nil {
		r.metrics.Source("failed")
		return nil, err
	}

	r.mu.Lock()
	stale := gen != r.gen
	r.mu.Unlock()
	if stale {
		r.metrics.Source("failed")
		return nil, fmt.Errorf("%w: %s", ErrSessionChanged, key)
	}

	path := src.Path
	if path == "" {
		path = key
	}
	ed := r.factory(fetched.Content, fetched.MimeType, path)
	b, err := r.bind(key, ed, &sourceWidget{id: tabID, path: key, editor: ed})
	if err != nil {
		return nil, err
	}

	r.shell.AddReadOnly(host.Tab{ID: tabID, Title: title(src), Widget: b.Widget})
	r.shell.Activate(tabID)
	r.metrics.Source("created")
	r.log.WithFields(logrus.Fields{"source": key, "tab": tabID}).Debug("opened read-only source")
	return b, nil
}

// adopt caches the editor of a tab the shell already shows for key instead
// of opening a second one.
func (r *Resolver) adopt(key string, tab host.Tab) (*Binding, error) {
	r.shell.Activate(tab.ID)
	w, ok := tab.Widget.(EditorWidget)
	if !ok || w.Editor() == nil || w.Editor().IsDisposed() {
		r.metrics.Source("failed")
		return nil, fmt.Errorf("%w: %s", ErrForeignTab, tab.ID)
	}

	b, err := r.bind(key, w.Editor(), tab.Widget)
	if err != nil {
		return nil, err
	}
	r.metrics.Source("adopted")
	r.log.WithFields(logrus.Fields{"source": key, "tab": tab.ID}).Debug("adopted open source tab")
	return b, nil
}

// bind attaches a handler to the read-only editor ed and caches it for key.
func (r *Resolver) bind(key string, ed editor.Editor, w host.Widget) (*Binding, error) {
	h, err := r.handlers.Attach(ed, key)
	if err != nil {
		return nil, err
	}

	kernel := ""
	if s := r.svc.Session(); s != nil {
		kernel = s.KernelName()
	}
	b := &Binding{
		Editor:   ed,
		Handler:  h,
		Widget:   w,
		Path:     key,
		Kernel:   kernel,
		ReadOnly: true,
	}

	r.cache.Add(key, b)
	h.OnDispose(func() { r.forget(key, b) })
	r.disposeEvicted()
	return b, nil
}

func title(src model.Source) string {
	if src.Name != "" {
		return src.Name
	}
	if src.Path != "" {
		return filepath.Base(src.Path)
	}
	return src.Key()
}

func (r *Resolver) cached(key string) (*Binding, bool) {
	v, ok := r.cache.Get(key)
	if !ok {
		return nil, false
	}
	b := v.(*Binding)
	if b.Editor.IsDisposed() {
		return nil, false
	}
	return b, true
}

// forget drops key from the cache if it still holds b.
func (r *Resolver) forget(key string, b *Binding) {
	if v, ok := r.cache.Peek(key); ok && v.(*Binding) == b {
		r.cache.Remove(key)
	}
	r.disposeEvicted()
}

// Len returns the number of cached read-only editors.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

// Purge disposes every cached read-only editor. Opens in flight when it
// is called fail with ErrSessionChanged.
func (r *Resolver) Purge() {
	r.mu.Lock()
	r.gen++
	r.mu.Unlock()

	r.cache.Purge()
	r.disposeEvicted()
}

// Close purges the cache and stops following the service.
func (r *Resolver) Close() {
	r.conns.DisconnectAll()
	r.Purge()
}

// onEvict runs under the cache's lock; disposal happens in disposeEvicted.
func (r *Resolver) onEvict(_, value any) {
	r.evictMu.Lock()
	r.evicted = append(r.evicted, value.(*Binding))
	r.evictMu.Unlock()
}

func (r *Resolver) disposeEvicted() {
	r.evictMu.Lock()
	evicted := r.evicted
	r.evicted = nil
	r.evictMu.Unlock()

	for _, b := range evicted {
		if b.Editor.IsDisposed() {
			continue
		}
		b.Editor.Dispose()
		r.metrics.Source("evicted")
		r.log.WithField("source", b.Path).Debug("disposed cached source")
	}
}

// sourceWidget is the shell-facing widget of a read-only editor.
type sourceWidget struct {
	id     string
	path   string
	editor editor.Editor
}

func (w *sourceWidget) ID() string                         { return w.id }
func (w *sourceWidget) Kind() host.WidgetKind              { return host.KindSource }
func (w *sourceWidget) Path() string                       { return w.path }
func (w *sourceWidget) Disposed() *signal.Signal[struct{}] { return w.editor.Disposed() }
func (w *sourceWidget) IsDisposed() bool                   { return w.editor.IsDisposed() }
func (w *sourceWidget) Editor() editor.Editor              { return w.editor }
