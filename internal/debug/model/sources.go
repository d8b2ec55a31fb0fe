package model

import (
	"sync"

	"github.com/dshills/dbgsync/internal/signal"
)

// Sources tracks the source most recently opened for display.
type Sources struct {
	mu      sync.Mutex
	current *Source
	opened  *signal.Signal[Source]
}

// NewSources creates an empty source tracker.
func NewSources() *Sources {
	return &Sources{opened: signal.New[Source]()}
}

// CurrentSourceOpened emits every source passed to Open.
func (s *Sources) CurrentSourceOpened() *signal.Signal[Source] {
	return s.opened
}

// Open makes src the current source.
func (s *Sources) Open(src Source) {
	s.mu.Lock()
	stored := src
	s.current = &stored
	s.mu.Unlock()

	s.opened.Emit(src)
}

// Current returns the current source.
func (s *Sources) Current() (Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Source{}, false
	}
	return *s.current, true
}

// Clear forgets the current source.
func (s *Sources) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}
