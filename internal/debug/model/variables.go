package model

import (
	"sync"

	"github.com/dshills/dbgsync/internal/signal"
)

// Variables holds the scopes of the current frame.
type Variables struct {
	mu      sync.Mutex
	scopes  []Scope
	changed *signal.Signal[[]Scope]
}

// NewVariables creates an empty variable store.
func NewVariables() *Variables {
	return &Variables{changed: signal.New[[]Scope]()}
}

// Changed emits the new scopes.
func (v *Variables) Changed() *signal.Signal[[]Scope] {
	return v.changed
}

// Scopes returns a copy of the scopes.
func (v *Variables) Scopes() []Scope {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Scope(nil), v.scopes...)
}

// SetScopes replaces the scopes.
func (v *Variables) SetScopes(scopes []Scope) {
	v.mu.Lock()
	v.scopes = append([]Scope(nil), scopes...)
	v.mu.Unlock()

	v.changed.Emit(append([]Scope(nil), scopes...))
}

// Clear drops all scopes.
func (v *Variables) Clear() {
	v.mu.Lock()
	had := len(v.scopes) > 0
	v.scopes = nil
	v.mu.Unlock()

	if had {
		v.changed.Emit(nil)
	}
}
