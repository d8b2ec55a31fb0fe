package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrClosed indicates the engine was closed.
	ErrClosed = errors.New("engine closed")

	// ErrNoShell indicates the engine was created without a host shell.
	ErrNoShell = errors.New("no host shell")

	// ErrUnsupportedWidget indicates a widget kind no binder handles.
	ErrUnsupportedWidget = errors.New("unsupported widget kind")
)

// OperationError represents an error that occurred during a specific operation.
type OperationError struct {
	Op      string // Operation name (e.g., "update", "open", "close")
	Target  string // Target of the operation (e.g., widget id, source path)
	Context string // Additional context
	Err     error  // Underlying error
}

// NewOperationError creates a new OperationError.
func NewOperationError(op, target string, err error) *OperationError {
	return &OperationError{
		Op:     op,
		Target: target,
		Err:    err,
	}
}

// WithContext adds context to the error.
// Safe to call on nil receiver - returns nil.
func (e *OperationError) WithContext(ctx string) *OperationError {
	if e == nil {
		return nil
	}
	e.Context = ctx
	return e
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}

	var msg string
	if e.Target != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Target)
	} else {
		msg = e.Op
	}

	if e.Context != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Context)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is implements errors.Is for OperationError.
// Matches both the wrapper itself and the wrapped error.
func (e *OperationError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*OperationError); ok {
		return e == t
	}
	return errors.Is(e.Err, target)
}
