package binder

import "errors"

// Lookup misses. Activate swallows them; they are returned by strategies.
var (
	ErrNoMatchingSession = errors.New("no running session matches widget")
	ErrNoSessionContext  = errors.New("widget has no session context")
	ErrWidgetDisposed    = errors.New("widget disposed during lookup")
)
