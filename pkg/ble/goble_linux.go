//go:build linux

package ble

import (
	"fmt"

	"github.com/go-ble/ble/linux"
)

// NewDefaultRadio opens the default HCI adapter.
func NewDefaultRadio(config GoBLEConfig) (*GoBLERadio, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("ble: open HCI device: %w", err)
	}
	config.Device = dev
	return NewGoBLERadio(config)
}
