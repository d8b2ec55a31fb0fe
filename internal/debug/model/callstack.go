package model

import (
	"sync"

	"github.com/dshills/dbgsync/internal/signal"
)

// Callstack holds the frames of the last stopped thread and the frame the
// user is looking at.
type Callstack struct {
	mu           sync.Mutex
	frames       []Frame
	current      *Frame
	changed      *signal.Signal[[]Frame]
	frameChanged *signal.Signal[*Frame]
}

// NewCallstack creates an empty call stack.
func NewCallstack() *Callstack {
	return &Callstack{
		changed:      signal.New[[]Frame](),
		frameChanged: signal.New[*Frame](),
	}
}

// Changed emits the new frames after SetFrames or Clear.
func (c *Callstack) Changed() *signal.Signal[[]Frame] {
	return c.changed
}

// FrameChanged emits the new current frame, or nil when it is cleared.
func (c *Callstack) FrameChanged() *signal.Signal[*Frame] {
	return c.frameChanged
}

// Frames returns a copy of the frames, top first.
func (c *Callstack) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// SetFrames replaces the frames wholesale.
func (c *Callstack) SetFrames(frames []Frame) {
	c.mu.Lock()
	c.frames = append([]Frame(nil), frames...)
	snapshot := append([]Frame(nil), frames...)
	c.mu.Unlock()

	c.changed.Emit(snapshot)
}

// Frame returns the current frame, or nil.
func (c *Callstack) Frame() *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	f := *c.current
	return &f
}

// SetFrame makes f the current frame. Setting an equal frame again does not
// emit.
func (c *Callstack) SetFrame(f *Frame) {
	c.mu.Lock()
	if equalFrames(c.current, f) {
		c.mu.Unlock()
		return
	}
	var emitted *Frame
	if f != nil {
		stored := *f
		c.current = &stored
		copied := stored
		emitted = &copied
	} else {
		c.current = nil
	}
	c.mu.Unlock()

	c.frameChanged.Emit(emitted)
}

// Clear drops the frames and the current frame.
func (c *Callstack) Clear() {
	c.mu.Lock()
	hadFrames := len(c.frames) > 0
	c.frames = nil
	c.mu.Unlock()

	if hadFrames {
		c.changed.Emit(nil)
	}
	c.SetFrame(nil)
}

func equalFrames(a, b *Frame) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
