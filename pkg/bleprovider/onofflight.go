// Package bleprovider implements data providers backed by BLE peripherals.
//
// OnOffLight drives a peripheral exposing the LED Button Service: the LED
// characteristic mirrors the On/Off attribute and button notifications
// are sent through the binding table as Toggle commands.
package bleprovider

import (
	"context"
	"fmt"

	"github.com/backkem/matterbridge/pkg/binding"
	"github.com/backkem/matterbridge/pkg/ble"
	"github.com/backkem/matterbridge/pkg/bridge"
	"github.com/backkem/matterbridge/pkg/clusters/bridgedbasic"
	"github.com/backkem/matterbridge/pkg/clusters/onoff"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/backkem/matterbridge/pkg/workqueue"
	"github.com/pion/logging"
)

// LED Button Service UUIDs.
var (
	LBSServiceUUID = ble.MustParseUUID("00001523-1212-efde-1523-785feabcd123")
	ButtonCharUUID = ble.MustParseUUID("00001524-1212-efde-1523-785feabcd123")
	LEDCharUUID    = ble.MustParseUUID("00001525-1212-efde-1523-785feabcd123")
)

// Releaser frees the connection slot of a BLE device. *ble.Manager
// implements it.
type Releaser interface {
	Release(dev *ble.Device)
}

// Invoker sends a command through the binding table. *binding.Handler
// implements it.
type Invoker interface {
	Invoke(ctx context.Context, data binding.Data) error
}

// Config holds configuration shared by the providers of this package.
type Config struct {
	// Queue defers binding invocations out of the notification path.
	// If nil they run inline.
	Queue *workqueue.Queue

	// Releaser frees the BLE device when the provider is closed (optional).
	Releaser Releaser

	// Bindings receives button presses (optional).
	Bindings Invoker

	// LoggerFactory for provider logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Providers returns factories for every device type with a BLE backend.
func Providers(config Config) map[bridge.DeviceType]bridge.BLEProviderFactory {
	return map[bridge.DeviceType]bridge.BLEProviderFactory{
		bridge.DeviceTypeOnOffLight: func(update bridge.UpdateFunc) (bridge.BLEProvider, error) {
			return NewOnOffLight(config, update), nil
		},
	}
}

// OnOffLight is the provider of a bridged light backed by an LED Button
// Service peripheral. All methods run on the work queue.
type OnOffLight struct {
	config Config
	update bridge.UpdateFunc

	dev          *ble.Device
	ledHandle    uint16
	buttonHandle uint16
	cccHandle    uint16

	onOff    bool
	endpoint datamodel.EndpointID
	closed   bool

	log logging.LeveledLogger
}

// NewOnOffLight creates a light provider that reports changes to update.
func NewOnOffLight(config Config, update bridge.UpdateFunc) *OnOffLight {
	p := &OnOffLight{
		config:   config,
		update:   update,
		endpoint: datamodel.InvalidEndpointID,
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("ble-light")
	}
	return p
}

// Init implements bridge.DataProvider. The link is already up.
func (p *OnOffLight) Init() error {
	return nil
}

// ServiceUUID implements bridge.BLEProvider.
func (p *OnOffLight) ServiceUUID() ble.UUID {
	return LBSServiceUUID
}

// BindEndpoint implements bridge.EndpointBinder.
func (p *OnOffLight) BindEndpoint(ep datamodel.EndpointID) {
	p.endpoint = ep
}

// MatchBLEDevice implements bridge.BLEProvider.
func (p *OnOffLight) MatchBLEDevice(dev *ble.Device) error {
	if dev == nil {
		return bridge.ErrInvalidArgument
	}
	if p.dev != nil && p.dev != dev {
		return bridge.ErrIncorrectState
	}
	p.dev = dev
	dev.SetListener(p)
	return nil
}

// ParseDiscoveredData implements bridge.BLEProvider.
func (p *OnOffLight) ParseDiscoveredData(data *ble.DiscoveredData) error {
	if p.dev == nil {
		return bridge.ErrIncorrectState
	}
	led := data.Characteristic(LEDCharUUID)
	if led == nil {
		return fmt.Errorf("%w: LED", ble.ErrMissingCharacteristic)
	}
	button := data.Characteristic(ButtonCharUUID)
	if button == nil {
		return fmt.Errorf("%w: button", ble.ErrMissingCharacteristic)
	}
	ccc := button.Descriptor(ble.CCCUUID)
	if ccc == nil {
		return fmt.Errorf("%w: button CCC", ble.ErrMissingDescriptor)
	}

	p.ledHandle = led.ValueHandle
	p.buttonHandle = button.ValueHandle
	p.cccHandle = ccc.Handle
	return p.subscribe()
}

func (p *OnOffLight) subscribe() error {
	err := p.dev.Subscribe(ble.SubscribeParams{
		ValueHandle: p.buttonHandle,
		CCCHandle:   p.cccHandle,
		Notify:      p.onButton,
	})
	if err != nil {
		if p.log != nil {
			p.log.Errorf("Subscribe to button of %s failed: %v", p.dev.Address(), err)
		}
		return err
	}
	return nil
}

// UpdateState implements bridge.DataProvider. The LED is written and the
// On/Off attribute follows once the peripheral confirms the write.
func (p *OnOffLight) UpdateState(cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	if cluster != onoff.ClusterID {
		return bridge.ErrInvalidArgument
	}
	if p.dev == nil || !p.dev.Connected() {
		return bridge.ErrIncorrectState
	}
	if attr != onoff.AttrOnOff || len(data) != 1 {
		return bridge.ErrInvalidArgument
	}
	if p.log != nil {
		p.log.Debugf("Updating state, cluster ID: %d, attribute ID: %d", cluster, attr)
	}

	value := data[0] != 0
	err := p.dev.Write(p.ledHandle, data, func(err error) {
		p.writeDone(value, err)
	})
	if err != nil {
		if p.log != nil {
			p.log.Errorf("GATT write to %s failed: %v", p.dev.Address(), err)
		}
		return fmt.Errorf("%w: %v", bridge.ErrInternal, err)
	}
	return nil
}

func (p *OnOffLight) writeDone(value bool, err error) {
	if p.closed {
		return
	}
	if err != nil {
		if p.log != nil {
			p.log.Errorf("GATT write completed with error: %v", err)
		}
		return
	}
	p.onOff = value
	p.report(onoff.ClusterID, onoff.AttrOnOff, value)
}

func (p *OnOffLight) onButton(data []byte) {
	if p.closed || len(data) != 1 {
		return
	}
	if p.config.Bindings == nil {
		return
	}

	d := binding.Data{
		EndpointID: p.endpoint,
		ClusterID:  onoff.ClusterID,
		CommandID:  onoff.CmdToggle,
	}
	invoke := func() {
		if p.closed {
			return
		}
		if err := p.config.Bindings.Invoke(context.Background(), d); err != nil && p.log != nil {
			p.log.Warnf("Button on endpoint %d: %v", p.endpoint, err)
		}
	}
	if p.config.Queue == nil {
		invoke()
		return
	}
	if err := p.config.Queue.Post(invoke); err != nil && p.log != nil {
		p.log.Errorf("Cannot schedule binding invocation: %v", err)
	}
}

// ConnectionLost implements ble.ConnectionListener.
func (p *OnOffLight) ConnectionLost(dev *ble.Device) {
	if p.closed || dev != p.dev {
		return
	}
	if p.log != nil {
		p.log.Infof("Lost connection to %s", dev.Address())
	}
	p.report(bridgedbasic.ClusterID, bridgedbasic.AttrReachable, false)
}

// ConnectionRecovered implements ble.ConnectionListener. Handles are
// resolved again, notifications re-enabled and the LED brought back to
// the last known state. A link without a usable service is dropped and
// dialed again.
func (p *OnOffLight) ConnectionRecovered(dev *ble.Device, data *ble.DiscoveredData) {
	if p.closed || dev != p.dev {
		return
	}
	if err := p.ParseDiscoveredData(data); err != nil {
		if p.log != nil {
			p.log.Errorf("Recovered %s without a usable service, retrying: %v", dev.Address(), err)
		}
		if err := dev.Reconnect(); err != nil && p.log != nil {
			p.log.Errorf("Cannot reconnect to %s: %v", dev.Address(), err)
		}
		return
	}
	p.report(bridgedbasic.ClusterID, bridgedbasic.AttrReachable, true)

	var b byte
	if p.onOff {
		b = 1
	}
	if err := p.UpdateState(onoff.ClusterID, onoff.AttrOnOff, []byte{b}); err != nil && p.log != nil {
		p.log.Errorf("Restoring LED state on %s failed: %v", dev.Address(), err)
	}
}

// OnOff returns the last state confirmed by the peripheral.
func (p *OnOffLight) OnOff() bool { return p.onOff }

// Device returns the BLE device, or nil before MatchBLEDevice.
func (p *OnOffLight) Device() *ble.Device { return p.dev }

// Close releases the BLE device.
func (p *OnOffLight) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.dev != nil {
		p.dev.SetListener(nil)
		if p.config.Releaser != nil {
			p.config.Releaser.Release(p.dev)
		}
	}
	return nil
}

func (p *OnOffLight) report(cluster datamodel.ClusterID, attr datamodel.AttributeID, value bool) {
	if p.update == nil {
		return
	}
	var b byte
	if value {
		b = 1
	}
	p.update(p, cluster, attr, []byte{b})
}

var (
	_ bridge.BLEProvider     = (*OnOffLight)(nil)
	_ bridge.EndpointBinder  = (*OnOffLight)(nil)
	_ ble.ConnectionListener = (*OnOffLight)(nil)
	_ Releaser               = (*ble.Manager)(nil)
	_ Invoker                = (*binding.Handler)(nil)
)
