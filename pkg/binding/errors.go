package binding

import "errors"

// Binding errors.
var (
	// ErrInvalidEntry is returned for an entry with an unknown type or
	// missing addressing fields.
	ErrInvalidEntry = errors.New("binding: invalid entry")

	// ErrTableFull is returned when the table is at capacity.
	ErrTableFull = errors.New("binding: table full")

	// ErrNotFound is returned when no entry exists at an index.
	ErrNotFound = errors.New("binding: entry not found")

	// ErrNoBinding is returned when no entry matches an invocation.
	ErrNoBinding = errors.New("binding: no matching binding")

	// ErrUnsupportedCluster is returned for invocations on clusters the
	// handler does not process.
	ErrUnsupportedCluster = errors.New("binding: unsupported cluster")

	// ErrUnsupportedCommand is returned for commands the cluster does not
	// accept.
	ErrUnsupportedCommand = errors.New("binding: unsupported command")

	// ErrNoRoute is returned when no sender can reach a target.
	ErrNoRoute = errors.New("binding: no route to target")

	// ErrCommandFailed is returned when a local target rejects a command.
	ErrCommandFailed = errors.New("binding: command failed")
)
