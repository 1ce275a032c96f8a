package datamodel

import "errors"

// Errors returned by datamodel operations.
var (
	// ErrEndpointNotFound indicates the requested endpoint does not exist.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrEndpointExists indicates an endpoint with the same ID already exists.
	// Dynamic endpoint allocation treats it as the duplicate-registration signal.
	ErrEndpointExists = errors.New("endpoint already exists")

	// ErrInvalidEndpointID indicates the reserved invalid endpoint ID was used.
	ErrInvalidEndpointID = errors.New("invalid endpoint id")

	// ErrInvalidIndex indicates a dynamic endpoint index outside the configured range.
	ErrInvalidIndex = errors.New("invalid dynamic endpoint index")

	// ErrIndexInUse indicates the dynamic endpoint slot already holds an endpoint.
	ErrIndexInUse = errors.New("dynamic endpoint index in use")

	// ErrFixedEndpoint indicates an operation that only applies to dynamic endpoints.
	ErrFixedEndpoint = errors.New("endpoint is fixed")

	// ErrInvalidEndpointType indicates a nil or empty endpoint type.
	ErrInvalidEndpointType = errors.New("invalid endpoint type")
)
