package handler

import (
	"sync"
	"time"
)

// debouncer runs fn once no call has been made for delay. fn never runs
// concurrently with itself from the timer.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	timer *time.Timer
	gen   uint64 // invalidates timers stopped too late
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

// call restarts the quiet period.
func (d *debouncer) call() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// flush runs a pending fn now and reports whether one was pending.
func (d *debouncer) flush() bool {
	d.mu.Lock()
	pending := d.timer != nil
	d.stopLocked()
	d.mu.Unlock()
	if pending {
		d.fn()
	}
	return pending
}

// cancel drops a pending call.
func (d *debouncer) cancel() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
}

func (d *debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
