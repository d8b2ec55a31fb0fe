// Package watcher reports changes to individual files using fsnotify.
//
// Files are watched through their parent directory so that editors saving
// by rename are still observed.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents a file change event.
type Event struct {
	// Path is the absolute path to the changed file.
	Path string

	// Op is the operation that triggered the event.
	Op Operation

	// Time is when the event occurred.
	Time time.Time
}

// Operation represents the type of file operation.
type Operation int

const (
	// OpWrite indicates the file was modified.
	OpWrite Operation = iota

	// OpCreate indicates a new file was created.
	OpCreate

	// OpRemove indicates the file was deleted.
	OpRemove

	// OpRename indicates the file was renamed.
	OpRename
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Handler is called when a file change is detected.
type Handler func(event Event)

// Watcher monitors files for changes.
type Watcher struct {
	mu sync.RWMutex

	fsw      *fsnotify.Watcher
	files    map[string]bool
	handlers []Handler
	onError  func(error)
	running  bool
	done     chan struct{}
	wg       sync.WaitGroup

	debounce  time.Duration
	pendingMu sync.Mutex
	pending   map[string]*pendingEvent
}

type pendingEvent struct {
	op    Operation
	time  time.Time
	timer *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before its coalesced
// event is delivered. Zero delivers every event immediately.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithErrorHandler sets the handler for fsnotify errors.
func WithErrorHandler(fn func(error)) Option {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// New creates a new file watcher.
func New(opts ...Option) *Watcher {
	w := &Watcher{
		files:    make(map[string]bool),
		debounce: 100 * time.Millisecond,
		pending:  make(map[string]*pendingEvent),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Watch adds a file to the watch list. The file need not exist yet.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.files[absPath] = true
	if w.running {
		return w.fsw.Add(filepath.Dir(absPath))
	}
	return nil
}

// Unwatch removes a file from the watch list. Its directory stays watched
// while other files in it are.
func (w *Watcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.files, absPath)
	if !w.running {
		return nil
	}
	dir := filepath.Dir(absPath)
	for f := range w.files {
		if filepath.Dir(f) == dir {
			return nil
		}
	}
	return w.fsw.Remove(dir)
}

// OnChange registers a handler for file change events.
func (w *Watcher) OnChange(handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins watching files for changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return err
		}
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	w.running = true

	w.wg.Add(1)
	go w.loop(fsw, w.done)
	return nil
}

// Stop stops watching files. Pending debounced events are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.done)
	fsw := w.fsw
	w.mu.Unlock()

	fsw.Close()
	w.wg.Wait()

	w.pendingMu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.pendingMu.Unlock()
}

// IsRunning returns whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// WatchedFiles returns the list of watched files.
func (w *Watcher) WatchedFiles() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	files := make([]string, 0, len(w.files))
	for path := range w.files {
		files = append(files, path)
	}
	return files
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, done chan struct{}) {
	defer w.wg.Done()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.mu.RLock()
			onError := w.onError
			w.mu.RUnlock()
			if onError != nil {
				onError(err)
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	w.mu.RLock()
	watched := w.files[path]
	w.mu.RUnlock()
	if !watched {
		return
	}

	var op Operation
	switch {
	case ev.Has(fsnotify.Remove):
		op = OpRemove
	case ev.Has(fsnotify.Rename):
		op = OpRename
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpWrite
	default:
		return
	}

	event := Event{Path: path, Op: op, Time: time.Now()}
	if w.debounce > 0 {
		w.queueEvent(event)
	} else {
		w.emitEvent(event)
	}
}

// queueEvent coalesces events per file:
// - create + write => create
// - write + write => write
// - any + remove => remove
func (w *Watcher) queueEvent(event Event) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	existing, exists := w.pending[event.Path]
	if !exists {
		p := &pendingEvent{op: event.Op, time: event.Time}
		p.timer = time.AfterFunc(w.debounce, func() { w.flush(event.Path, p) })
		w.pending[event.Path] = p
		return
	}

	switch event.Op {
	case OpRemove, OpCreate:
		existing.op = event.Op
	case OpWrite:
		// Write doesn't override create or remove.
	default:
		existing.op = event.Op
	}
	existing.time = event.Time
	existing.timer.Reset(w.debounce)
}

func (w *Watcher) flush(path string, p *pendingEvent) {
	w.pendingMu.Lock()
	if w.pending[path] != p {
		w.pendingMu.Unlock()
		return
	}
	delete(w.pending, path)
	event := Event{Path: path, Op: p.op, Time: p.time}
	w.pendingMu.Unlock()

	if w.IsRunning() {
		w.emitEvent(event)
	}
}

// emitEvent calls all handlers with the event.
// Handlers are called with panic recovery to prevent a panicking handler
// from crashing the watcher goroutine.
func (w *Watcher) emitEvent(event Event) {
	w.mu.RLock()
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.RUnlock()

	for _, handler := range handlers {
		w.safeCallHandler(handler, event)
	}
}

func (w *Watcher) safeCallHandler(handler Handler, event Event) {
	defer func() {
		_ = recover()
	}()
	handler(event)
}
