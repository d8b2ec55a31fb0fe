package binder

import (
	"context"
	"sync"

	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/signal"
)

// Tracker fans shell focus changes out to binders.
type Tracker struct {
	binders []*Binder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	conns  signal.Group
}

// NewTracker creates a tracker over binders and makes them share one
// sequence, so only the latest focus wins across kinds. Binders must not be
// in use yet.
func NewTracker(binders ...*Binder) *Tracker {
	seq := &sequence{}
	for _, b := range binders {
		b.seq = seq
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{binders: binders, ctx: ctx, cancel: cancel}
}

// Watch activates the matching binder on every focus change of shell,
// starting with the current widget.
func (t *Tracker) Watch(shell host.Shell) {
	t.conns.Add(shell.CurrentChanged().Connect(t.Activate))
	if w := shell.Current(); w != nil {
		t.Activate(w)
	}
}

// Activate starts activation of w on every binder of its kind. It does not
// wait for the widget's session to become ready.
func (t *Tracker) Activate(w host.Widget) {
	if w == nil || t.ctx.Err() != nil {
		return
	}
	for _, b := range t.binders {
		b := b
		if b.Kind() != w.Kind() {
			continue
		}
		// The generation is taken before any wait so focus order decides.
		gen := b.seq.next()
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := b.activate(t.ctx, w, gen); err != nil {
				b.log.WithError(err).Warn("activating widget")
			}
		}()
	}
}

// Wait blocks until every started activation finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close stops watching, cancels pending activations and waits for them.
func (t *Tracker) Close() {
	t.conns.DisconnectAll()
	t.cancel()
	t.wg.Wait()
}
