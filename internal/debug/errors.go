package debug

import "errors"

// Errors returned by the debug service.
var (
	// ErrNoSession is returned when no debug session is attached.
	ErrNoSession = errors.New("no debug session")

	// ErrNoStoppedThreads is returned by run-control commands while every
	// thread is running.
	ErrNoStoppedThreads = errors.New("no stopped threads")

	// ErrSourceUnavailable is returned when source content cannot be fetched.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrNoDebugger is returned when the kernel does not support debugging.
	ErrNoDebugger = errors.New("kernel does not support debugging")

	// ErrUnknownCommand is returned for an unregistered command id.
	ErrUnknownCommand = errors.New("unknown command")
)
