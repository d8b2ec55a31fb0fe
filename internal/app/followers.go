package app

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/dshills/dbgsync/internal/debug/model"
	"github.com/dshills/dbgsync/internal/sources"
)

// onFrameChanged makes sure an editor shows the new frame. Handlers draw the
// line themselves; this opens an editor when none shows the source yet.
func (e *Engine) onFrameChanged(f *model.Frame) {
	if f == nil || f.Source.Key() == "" {
		return
	}
	frame := *f
	e.spawn(func() { e.follow(frame) })
}

func (e *Engine) follow(f model.Frame) {
	kernel := ""
	if conn := e.service.Connection(); conn != nil {
		kernel = conn.KernelName()
	}

	var bs []*sources.Binding
	if f.Source.Path != "" {
		bs = e.resolver.Find(sources.Criteria{Path: f.Source.Path, Focus: true, Kernel: kernel})
	}
	if len(bs) == 0 {
		b, err := e.resolver.Open(e.ctx, f.Source)
		if err != nil {
			e.logOpenFailure(f.Source, err)
			return
		}
		bs = []*sources.Binding{b}
	}

	if !e.isCurrent(f) {
		return
	}
	for _, b := range bs {
		b.Handler.ShowCurrentLine(f.Line)
	}
}

// onSourceOpened opens the source and, when it is where execution stopped,
// shows the current line in it.
func (e *Engine) onSourceOpened(src model.Source) {
	if src.Key() == "" {
		return
	}
	e.spawn(func() {
		b, err := e.resolver.Open(e.ctx, src)
		if err != nil {
			e.logOpenFailure(src, err)
			return
		}
		f := e.service.Model().Callstack.Frame()
		if f != nil && f.Source.Key() == src.Key() {
			b.Handler.ShowCurrentLine(f.Line)
		}
	})
}

func (e *Engine) isCurrent(f model.Frame) bool {
	cur := e.service.Model().Callstack.Frame()
	return cur != nil && cur.ID == f.ID && cur.Line == f.Line && cur.Source.Key() == f.Source.Key()
}

// spawn runs fn off the signal goroutine; follower work fetches sources
// over the same connection that delivered the event.
func (e *Engine) spawn(fn func()) {
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *Engine) logOpenFailure(src model.Source, err error) {
	log := e.log.WithFields(logrus.Fields{"source": src.Key()}).WithError(err)
	if errors.Is(err, sources.ErrSessionChanged) || e.ctx.Err() != nil {
		log.Debug("source open abandoned")
		return
	}
	log.Warn("source not displayable")
}
