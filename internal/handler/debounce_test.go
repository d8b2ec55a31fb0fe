package handler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalescesCalls(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(50*time.Millisecond, func() { calls.Add(1) })

	for i := 0; i < 10; i++ {
		d.call()
	}
	time.Sleep(100 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if d.flush() {
		t.Error("flush after the timer fired reported a pending call")
	}
}

func TestDebouncerCancel(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(50*time.Millisecond, func() { calls.Add(1) })

	d.call()
	d.cancel()
	time.Sleep(100 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0 after cancel", calls.Load())
	}
}

func TestDebouncerFlush(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(100*time.Millisecond, func() { calls.Add(1) })

	d.call()
	if !d.flush() {
		t.Error("flush did not report the pending call")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 right after flush", calls.Load())
	}

	time.Sleep(150 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 once the stopped timer is due", calls.Load())
	}
	if d.flush() {
		t.Error("second flush reported a pending call")
	}
}
