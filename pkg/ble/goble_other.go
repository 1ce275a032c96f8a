//go:build !linux

package ble

// NewDefaultRadio is only available on Linux.
func NewDefaultRadio(config GoBLEConfig) (*GoBLERadio, error) {
	return nil, ErrUnsupportedPlatform
}
