package ble

import "errors"

// BLE errors.
var (
	// ErrInvalidArgument is returned for an out-of-range scan index or a
	// missing callback.
	ErrInvalidArgument = errors.New("ble: invalid argument")

	// ErrNotConnected is returned when an operation needs a live link.
	ErrNotConnected = errors.New("ble: not connected")

	// ErrNoFreeSlot is returned when every connection slot is in use.
	ErrNoFreeSlot = errors.New("ble: no free connection slot")

	// ErrAlreadyConnected is returned when a connection to the address
	// exists or is pending.
	ErrAlreadyConnected = errors.New("ble: already connected")

	// ErrScanInProgress is returned when Scan is called during a scan.
	ErrScanInProgress = errors.New("ble: scan in progress")

	// ErrServiceNotFound is returned when the peer lacks the requested service.
	ErrServiceNotFound = errors.New("ble: service not found")

	// ErrMissingCharacteristic is returned when a required characteristic
	// was not discovered.
	ErrMissingCharacteristic = errors.New("ble: missing characteristic")

	// ErrMissingDescriptor is returned when a required descriptor was not
	// discovered.
	ErrMissingDescriptor = errors.New("ble: missing descriptor")

	// ErrInvalidSubscribeParams is returned when a subscription lacks a
	// notify callback, a value handle or a CCC handle.
	ErrInvalidSubscribeParams = errors.New("ble: invalid subscribe parameters")

	// ErrDisconnected is returned when the link dropped before discovery
	// completed.
	ErrDisconnected = errors.New("ble: disconnected")

	// ErrReleased is returned when a device was released while connecting.
	ErrReleased = errors.New("ble: device released")

	// ErrWriteQueueFull is returned when a write cannot be enqueued.
	ErrWriteQueueFull = errors.New("ble: write queue full")

	// ErrWriteTimeout is returned when a GATT write does not complete in time.
	ErrWriteTimeout = errors.New("ble: write timeout")

	// ErrClosed is returned after the manager is closed.
	ErrClosed = errors.New("ble: manager closed")

	// ErrUnsupportedPlatform is returned when no radio is available on
	// this platform.
	ErrUnsupportedPlatform = errors.New("ble: unsupported platform")

	// ErrInvalidAddress is returned for a malformed Bluetooth address.
	ErrInvalidAddress = errors.New("ble: invalid address")
)
