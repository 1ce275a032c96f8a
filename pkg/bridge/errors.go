package bridge

import "errors"

// Bridge errors. The data-model boundary maps any of them to a failure
// status; the shell prints them to the user.
var (
	// ErrInvalidArgument is returned for an unknown device type, cluster or
	// attribute, or an unoccupied index.
	ErrInvalidArgument = errors.New("bridge: invalid argument")

	// ErrInvalidStringLength is returned when a node label is too long.
	ErrInvalidStringLength = errors.New("bridge: invalid string length")

	// ErrNoMemory is returned when the registry is full, the provider limit
	// is reached or the endpoint ID space is exhausted.
	ErrNoMemory = errors.New("bridge: no memory")

	// ErrInternal is returned for failures of collaborators such as the
	// endpoint registry or persistent storage.
	ErrInternal = errors.New("bridge: internal error")

	// ErrNotFound is returned when no device uses the endpoint.
	ErrNotFound = errors.New("bridge: device not found")

	// ErrIncorrectState is returned when an operation needs state that is
	// not there, such as a live BLE link or an initialized manager.
	ErrIncorrectState = errors.New("bridge: incorrect state")

	// ErrBufferTooSmall is returned when a read buffer cannot hold the value.
	ErrBufferTooSmall = errors.New("bridge: buffer too small")

	// ErrUnsupported is returned for writes to read-only device attributes.
	ErrUnsupported = errors.New("bridge: unsupported operation")
)
