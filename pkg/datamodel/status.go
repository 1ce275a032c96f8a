package datamodel

import "fmt"

// Status is an interaction status code returned at the data-model boundary.
type Status uint8

// Status codes used by attribute and command dispatch.
const (
	StatusSuccess              Status = 0x00
	StatusFailure              Status = 0x01
	StatusInvalidAction        Status = 0x80
	StatusUnsupportedCommand   Status = 0x81
	StatusUnsupportedAttribute Status = 0x86
	StatusUnsupportedWrite     Status = 0x88
	StatusUnsupportedEndpoint  Status = 0x7F
	StatusUnsupportedCluster   Status = 0xC3
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusInvalidAction:
		return "INVALID_ACTION"
	case StatusUnsupportedCommand:
		return "UNSUPPORTED_COMMAND"
	case StatusUnsupportedAttribute:
		return "UNSUPPORTED_ATTRIBUTE"
	case StatusUnsupportedWrite:
		return "UNSUPPORTED_WRITE"
	case StatusUnsupportedEndpoint:
		return "UNSUPPORTED_ENDPOINT"
	case StatusUnsupportedCluster:
		return "UNSUPPORTED_CLUSTER"
	default:
		return fmt.Sprintf("Status(0x%02X)", uint8(s))
	}
}

// StatusFromError maps a handler error to a status. Any error is a failure.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	return StatusFailure
}
