package bridge

import (
	"errors"
	"fmt"

	"github.com/backkem/matterbridge/pkg/ble"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/pion/logging"
)

// BLEConnector is the part of the BLE manager the Creator uses.
// *ble.Manager implements it.
type BLEConnector interface {
	Connect(scanIndex int, service ble.UUID, onConnected ble.ConnectedFunc) error
	ConnectAddress(addr ble.Address, service ble.UUID, onConnected ble.ConnectedFunc) error
	Release(dev *ble.Device)
}

// CreatedFunc completes an asynchronous device creation with the assigned
// endpoint, or an error.
type CreatedFunc func(ep datamodel.EndpointID, err error)

// CreatorConfig holds configuration for a Creator.
type CreatorConfig struct {
	// Manager receives the created pairs. Required.
	Manager *Manager

	// Storage persists created devices (optional).
	Storage *StorageManager

	// BLE connects BLE-backed devices (optional).
	BLE BLEConnector

	// Providers builds providers for simulated devices.
	Providers map[DeviceType]ProviderFactory

	// BLEProviders builds providers for BLE devices.
	BLEProviders map[DeviceType]BLEProviderFactory

	// UniqueIDs assigns UniqueID attributes (optional).
	UniqueIDs *UniqueIDGenerator

	// LoggerFactory for creator logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Creator assembles device and provider pairs, adds them to the manager
// and keeps persistent storage in step with the registry.
//
// All methods must be called on the work queue.
type Creator struct {
	manager      *Manager
	storage      *StorageManager
	ble          BLEConnector
	providers    map[DeviceType]ProviderFactory
	bleProviders map[DeviceType]BLEProviderFactory
	uniqueIDs    *UniqueIDGenerator

	log logging.LeveledLogger
}

// NewCreator creates a Creator.
func NewCreator(config CreatorConfig) (*Creator, error) {
	if config.Manager == nil {
		return nil, ErrInvalidArgument
	}
	c := &Creator{
		manager:      config.Manager,
		storage:      config.Storage,
		ble:          config.BLE,
		providers:    config.Providers,
		bleProviders: config.BLEProviders,
		uniqueIDs:    config.UniqueIDs,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("creator")
	}
	return c, nil
}

// BLEEnabled reports whether BLE devices can be created.
func (c *Creator) BLEEnabled() bool {
	return c.ble != nil
}

// CreateDevice adds a simulated device and persists it.
func (c *Creator) CreateDevice(typ DeviceType, label string) (datamodel.EndpointID, error) {
	dev, err := NewDevice(typ, label)
	if err != nil {
		return datamodel.InvalidEndpointID, err
	}
	factory := c.providers[typ]
	if factory == nil {
		return datamodel.InvalidEndpointID, ErrInvalidArgument
	}
	p, err := factory(c.manager.HandleUpdate)
	if err != nil {
		return datamodel.InvalidEndpointID, fmt.Errorf("%w: creating provider: %v", ErrInternal, err)
	}

	index, err := c.manager.AddBridgedDevices(dev, p)
	if err != nil {
		return datamodel.InvalidEndpointID, err
	}
	return c.commit(index, dev, nil)
}

// CreateBLEDevice connects to the scanned peripheral at scanIndex and adds
// it as a device once the provider has parsed its service. done reports
// the outcome; nothing is added if connection, discovery or parsing fails.
func (c *Creator) CreateBLEDevice(typ DeviceType, label string, scanIndex int, done CreatedFunc) error {
	if c.ble == nil {
		return ErrIncorrectState
	}
	dev, p, err := c.newBLEPair(typ, label)
	if err != nil {
		return err
	}

	err = c.ble.Connect(scanIndex, p.ServiceUUID(), c.connected(dev, p, func(bdev *ble.Device) (datamodel.EndpointID, error) {
		index, err := c.manager.AddBridgedDevices(dev, p)
		if err != nil {
			return datamodel.InvalidEndpointID, err
		}
		addr := bdev.Address()
		return c.commit(index, dev, &addr)
	}, done))
	if err != nil {
		closeProvider(p)
		return mapBLEError(err)
	}
	return nil
}

func (c *Creator) newBLEPair(typ DeviceType, label string) (*Device, BLEProvider, error) {
	dev, err := NewDevice(typ, label)
	if err != nil {
		return nil, nil, err
	}
	factory := c.bleProviders[typ]
	if factory == nil {
		return nil, nil, ErrInvalidArgument
	}
	p, err := factory(c.manager.HandleUpdate)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: creating provider: %v", ErrInternal, err)
	}
	return dev, p, nil
}

// connected returns the continuation of a BLE connect request. add runs
// only after the provider accepted the device and its discovered data.
func (c *Creator) connected(dev *Device, p BLEProvider, add func(*ble.Device) (datamodel.EndpointID, error), done CreatedFunc) ble.ConnectedFunc {
	return func(bdev *ble.Device, data *ble.DiscoveredData, err error) {
		ep, err := c.attach(bdev, data, err, dev, p, add)
		if err != nil && c.log != nil {
			c.log.Errorf("Failed to create BLE device %s: %v", dev.Type(), err)
		}
		if done != nil {
			done(ep, err)
		}
	}
}

func (c *Creator) attach(bdev *ble.Device, data *ble.DiscoveredData, connErr error, dev *Device, p BLEProvider, add func(*ble.Device) (datamodel.EndpointID, error)) (datamodel.EndpointID, error) {
	if connErr != nil {
		closeProvider(p)
		return datamodel.InvalidEndpointID, fmt.Errorf("%w: %v", ErrInternal, connErr)
	}
	if err := p.MatchBLEDevice(bdev); err != nil {
		c.ble.Release(bdev)
		closeProvider(p)
		return datamodel.InvalidEndpointID, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	// The provider owns the BLE device from here on.
	if err := p.ParseDiscoveredData(data); err != nil {
		closeProvider(p)
		return datamodel.InvalidEndpointID, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return add(bdev)
}

// commit finishes an add: it assigns the unique ID and persists the
// record. A storage failure removes the device again.
func (c *Creator) commit(index int, dev *Device, addr *ble.Address) (datamodel.EndpointID, error) {
	c.assignUniqueID(dev)

	if c.storage == nil {
		return dev.EndpointID(), nil
	}
	err := c.storage.AddDeviceRecord(DeviceRecord{
		Index:      uint8(index),
		EndpointID: dev.EndpointID(),
		Type:       dev.Type(),
		Label:      dev.NodeLabel(),
		Address:    addr,
	})
	if err != nil {
		if c.log != nil {
			c.log.Errorf("Failed to store device at index %d: %v", index, err)
		}
		c.manager.RemoveBridgedDevice(dev.EndpointID())
		return datamodel.InvalidEndpointID, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return dev.EndpointID(), nil
}

func (c *Creator) assignUniqueID(dev *Device) {
	if c.uniqueIDs != nil {
		dev.SetUniqueID(c.uniqueIDs.UniqueID(dev.EndpointID(), dev.Type()))
	}
}

// RestoreDevices re-creates every stored device at its stored index and
// endpoint. BLE devices are reconnected by address and added when the
// connection completes; their slot and endpoint stay reserved meanwhile.
// Failures are logged and returned together; the remaining devices are
// still restored.
func (c *Creator) RestoreDevices() error {
	if c.storage == nil {
		return nil
	}
	records, err := c.storage.LoadDeviceRecords()
	if err != nil {
		return fmt.Errorf("%w: loading devices: %v", ErrInternal, err)
	}

	var errs []error
	for _, r := range records {
		if err := c.restore(r); err != nil {
			if c.log != nil {
				c.log.Errorf("Failed to restore device %d on endpoint %d: %v", r.Index, r.EndpointID, err)
			}
			errs = append(errs, fmt.Errorf("device %d: %w", r.Index, err))
		}
	}
	if c.log != nil {
		c.log.Infof("Restoring %d bridged devices", len(records))
	}
	return errors.Join(errs...)
}

func (c *Creator) restore(r DeviceRecord) error {
	if r.Address == nil {
		dev, err := NewDevice(r.Type, r.Label)
		if err != nil {
			return err
		}
		factory := c.providers[r.Type]
		if factory == nil {
			return ErrInvalidArgument
		}
		p, err := factory(c.manager.HandleUpdate)
		if err != nil {
			return fmt.Errorf("%w: creating provider: %v", ErrInternal, err)
		}
		if err := c.manager.AddBridgedDevicesAt(dev, p, int(r.Index), r.EndpointID); err != nil {
			return err
		}
		c.assignUniqueID(dev)
		return nil
	}

	if c.ble == nil {
		return ErrIncorrectState
	}
	index := int(r.Index)
	// Default adds must not take the stored slot while the link is pending.
	if err := c.manager.Reserve(index, r.EndpointID); err != nil {
		return err
	}
	dev, p, err := c.newBLEPair(r.Type, r.Label)
	if err != nil {
		c.manager.Unreserve(index)
		return err
	}
	add := func(*ble.Device) (datamodel.EndpointID, error) {
		if err := c.manager.AddBridgedDevicesAt(dev, p, index, r.EndpointID); err != nil {
			return datamodel.InvalidEndpointID, err
		}
		c.assignUniqueID(dev)
		return dev.EndpointID(), nil
	}
	done := func(_ datamodel.EndpointID, err error) {
		if err != nil {
			c.manager.Unreserve(index)
		}
	}
	err = c.ble.ConnectAddress(*r.Address, p.ServiceUUID(), c.connected(dev, p, add, done))
	if err != nil {
		c.manager.Unreserve(index)
		closeProvider(p)
		return mapBLEError(err)
	}
	return nil
}

// RemoveDevice removes the device on endpoint ep and its stored record.
func (c *Creator) RemoveDevice(ep datamodel.EndpointID) error {
	index, err := c.manager.RemoveBridgedDevice(ep)
	if err != nil {
		return err
	}
	if c.storage == nil {
		return nil
	}
	if err := c.storage.RemoveDeviceRecord(uint8(index)); err != nil {
		if c.log != nil {
			c.log.Errorf("Failed to remove stored device %d: %v", index, err)
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

// mapBLEError translates connect request errors into bridge errors.
func mapBLEError(err error) error {
	switch {
	case errors.Is(err, ble.ErrInvalidArgument):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case errors.Is(err, ble.ErrNoFreeSlot):
		return fmt.Errorf("%w: %v", ErrNoMemory, err)
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}
