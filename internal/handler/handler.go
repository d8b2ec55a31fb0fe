// Package handler mirrors the debugger's breakpoint and current-line state
// onto editors and sends gutter edits back as breakpoint requests.
package handler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/dbgsync/internal/debug"
	"github.com/dshills/dbgsync/internal/debug/model"
	"github.com/dshills/dbgsync/internal/editor"
	"github.com/dshills/dbgsync/internal/logflags"
	"github.com/dshills/dbgsync/internal/signal"
)

// DefaultDebounce is the quiet period after an edit before shifted
// breakpoints are re-sent.
const DefaultDebounce = time.Second

// Service is the part of the debug service a handler uses.
type Service interface {
	Model() *model.Model
	Session() *debug.Session
	SessionChanged() *signal.Signal[*debug.Session]
	SetBreakpoints(ctx context.Context, path string, bps []model.Breakpoint) ([]model.Breakpoint, error)
}

// Options configures handlers.
type Options struct {
	Debounce       time.Duration
	RequestTimeout time.Duration
	Logger         *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = debug.DefaultRequestTimeout
	}
	if o.Logger == nil {
		o.Logger = logflags.EditorLogger()
	}
	return o
}

// Handler owns the debugger decorations of one editor.
type Handler struct {
	editor  editor.Editor
	path    string
	svc     Service
	timeout time.Duration
	log     *logrus.Entry

	conns    signal.Group
	debounce *debouncer

	mu        sync.Mutex
	sessionID string
	disposed  bool
	onDispose []func()
}

// New creates a handler for ed showing the breakpoints of path. It
// disposes itself when ed is disposed.
func New(ed editor.Editor, path string, svc Service, opts Options) *Handler {
	opts = opts.withDefaults()
	h := &Handler{
		editor:    ed,
		path:      model.NormalizePath(path),
		svc:       svc,
		timeout:   opts.RequestTimeout,
		log:       opts.Logger.WithField("path", path),
		sessionID: sessionID(svc.Session()),
	}
	h.debounce = newDebouncer(opts.Debounce, h.resendMarkers)

	m := svc.Model()
	h.conns.Add(
		ed.GutterClicked().Connect(h.onGutterClick),
		ed.ContentChanged().Connect(func(struct{}) { h.debounce.call() }),
		ed.Disposed().Connect(func(struct{}) { h.Dispose() }),
		m.Breakpoints.Changed().Connect(func(path string) {
			if path == h.path {
				h.renderBreakpoints()
			}
		}),
		m.Callstack.FrameChanged().Connect(h.onFrameChanged),
	)

	h.renderBreakpoints()
	if f := m.Callstack.Frame(); f != nil {
		h.onFrameChanged(f)
	}
	return h
}

func sessionID(s *debug.Session) string {
	if s == nil {
		return ""
	}
	return s.ID()
}

// Editor returns the decorated editor.
func (h *Handler) Editor() editor.Editor { return h.editor }

// Path returns the normalized source path.
func (h *Handler) Path() string { return h.path }

// SessionID returns the id of the session the editor belongs to.
func (h *Handler) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

func (h *Handler) setSessionID(id string) {
	h.mu.Lock()
	h.sessionID = id
	h.mu.Unlock()
}

// IsDisposed reports whether the handler was disposed.
func (h *Handler) IsDisposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

// OnDispose registers fn to run once when the handler is disposed.
func (h *Handler) OnDispose(fn func()) {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		fn()
		return
	}
	h.onDispose = append(h.onDispose, fn)
	h.mu.Unlock()
}

// Toggle removes the confirmed breakpoint at line, or adds one, and sends
// the resulting set. Shifted markers waiting to be re-sent go first. The
// model takes the adapter's echo.
func (h *Handler) Toggle(ctx context.Context, line int) error {
	if h.IsDisposed() {
		return editor.ErrDisposed
	}
	h.debounce.flush()
	confirmed := h.svc.Model().Breakpoints.Get(h.path)
	_, err := h.svc.SetBreakpoints(ctx, h.path, toggle(confirmed, line))
	return err
}

func toggle(bps []model.Breakpoint, line int) []model.Breakpoint {
	out := make([]model.Breakpoint, 0, len(bps)+1)
	found := false
	for _, bp := range bps {
		if bp.Line == line {
			found = true
			continue
		}
		out = append(out, bp)
	}
	if !found {
		out = append(out, model.Breakpoint{Line: line, Enabled: true})
	}
	return out
}

// ShowCurrentLine moves the current-line marker to line.
func (h *Handler) ShowCurrentLine(line int) {
	if h.IsDisposed() {
		return
	}
	h.editor.ClearCurrentLine()
	h.editor.SetCurrentLine(line)
	h.editor.RevealLine(line)
}

// ClearCurrentLine removes the current-line marker.
func (h *Handler) ClearCurrentLine() {
	if h.IsDisposed() {
		return
	}
	h.editor.ClearCurrentLine()
}

// Dispose disconnects the handler and removes its decorations. It runs
// automatically when the editor is disposed; calling it again does nothing.
func (h *Handler) Dispose() {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return
	}
	h.disposed = true
	callbacks := h.onDispose
	h.onDispose = nil
	h.mu.Unlock()

	h.conns.DisconnectAll()
	h.debounce.cancel()
	h.editor.ClearCurrentLine()
	h.editor.SetBreakpointMarkers(nil)

	for _, fn := range callbacks {
		fn()
	}
	h.log.Debug("editor handler disposed")
}

func (h *Handler) onGutterClick(line int) {
	if h.IsDisposed() {
		return
	}
	if id := h.SessionID(); id != "" && id != sessionID(h.svc.Session()) {
		h.log.WithField("session", id).Debug("ignoring click on editor of a previous session")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.Toggle(ctx, line); err != nil {
		h.log.WithError(err).WithField("line", line).Warn("toggling breakpoint")
	}
}

func (h *Handler) onFrameChanged(f *model.Frame) {
	if f == nil || f.Source.Key() != h.path || f.Line <= 0 {
		h.ClearCurrentLine()
		return
	}
	h.ShowCurrentLine(f.Line)
}

func (h *Handler) renderBreakpoints() {
	if h.IsDisposed() {
		return
	}
	h.editor.SetBreakpointMarkers(h.svc.Model().Breakpoints.Lines(h.path))
}

// resendMarkers sends the editor's shifted markers as the new set when
// they moved away from the confirmed one.
func (h *Handler) resendMarkers() {
	if h.IsDisposed() {
		return
	}
	markers := h.editor.BreakpointMarkers()
	confirmed := h.svc.Model().Breakpoints.Get(h.path)
	if equalLines(markers, h.svc.Model().Breakpoints.Lines(h.path)) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if _, err := h.svc.SetBreakpoints(ctx, h.path, shift(confirmed, markers)); err != nil {
		h.log.WithError(err).Warn("re-sending shifted breakpoints")
	}
}

// shift moves the enabled breakpoints of confirmed onto markers, keeping
// their conditions. Edits keep markers in order, so they pair by index when
// the counts match; otherwise a marker keeps the condition of a breakpoint
// on its own line.
func shift(confirmed []model.Breakpoint, markers []int) []model.Breakpoint {
	var enabled []model.Breakpoint
	byLine := make(map[int]model.Breakpoint, len(confirmed))
	for _, bp := range confirmed {
		if bp.Enabled {
			enabled = append(enabled, bp)
			byLine[bp.Line] = bp
		}
	}

	out := make([]model.Breakpoint, 0, len(markers))
	for i, line := range markers {
		bp := model.Breakpoint{Line: line, Enabled: true}
		if len(enabled) == len(markers) {
			bp.Condition = enabled[i].Condition
		} else {
			bp.Condition = byLine[line].Condition
		}
		out = append(out, bp)
	}
	return out
}

func equalLines(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
