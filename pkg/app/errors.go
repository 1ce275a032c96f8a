package app

import "errors"

// Errors returned by the application.
var (
	// ErrAlreadyStarted indicates Run was called twice.
	ErrAlreadyStarted = errors.New("app: already started")

	// ErrClosed indicates the application was shut down.
	ErrClosed = errors.New("app: closed")
)
