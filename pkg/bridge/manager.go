// Package bridge exposes non-native devices as dynamic endpoints of the
// data model.
//
// The Manager maps a fixed set of slot indices to (device, provider) pairs
// and to dynamic endpoints, routing data-model reads and writes to devices
// and providers and propagating provider-side changes back as attribute
// change notifications. The StorageManager persists the registry and the
// Creator assembles pairs at runtime and on restore.
//
// Bridge state is not locked: every method must run on the single work
// queue.
package bridge

import (
	"errors"
	"fmt"
	"io"

	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/pion/logging"
)

// Default configuration values.
const (
	DefaultMaxBridgedDevices = 16
	DefaultMaxDataProviders  = 16
	DefaultMaxEndpointID     = datamodel.EndpointID(0xFFFE)
	DefaultParentEndpoint    = datamodel.EndpointID(1)
)

// EndpointRegistry is the data-model side of dynamic endpoints.
// *datamodel.Node implements it.
type EndpointRegistry interface {
	FixedEndpointCount() int
	EndpointFromIndex(index int) datamodel.EndpointID
	SetEndpointEnabled(id datamodel.EndpointID, enabled bool) error
	SetDynamicEndpoint(index int, id datamodel.EndpointID, typ *datamodel.EndpointType, dataVersions []datamodel.DataVersion, deviceTypes []datamodel.DeviceTypeEntry, parent datamodel.EndpointID) error
	ClearDynamicEndpoint(index int) (datamodel.EndpointID, error)
	NotifyAttributeChanged(path datamodel.ConcreteAttributePath)
}

// ManagerConfig holds configuration for a Manager.
type ManagerConfig struct {
	// Registry holds the dynamic endpoints. Required. It must provide at
	// least MaxBridgedDevices dynamic slots.
	Registry EndpointRegistry

	// ParentEndpoint is the aggregator endpoint bridged devices belong to.
	// Default: 1.
	ParentEndpoint datamodel.EndpointID

	// MaxBridgedDevices is the number of registry slots. Default: 16.
	MaxBridgedDevices int

	// MaxDataProviders caps concurrent providers. Default: 16.
	MaxDataProviders int

	// MaxEndpointID is the highest dynamic endpoint ID. Default: 0xFFFE.
	MaxEndpointID datamodel.EndpointID

	// Observer receives registry events (optional).
	Observer Observer

	// LoggerFactory for bridge logging (optional).
	LoggerFactory logging.LoggerFactory
}

func (c *ManagerConfig) applyDefaults() {
	if c.ParentEndpoint == 0 {
		c.ParentEndpoint = DefaultParentEndpoint
	}
	if c.MaxBridgedDevices <= 0 {
		c.MaxBridgedDevices = DefaultMaxBridgedDevices
	}
	if c.MaxDataProviders <= 0 {
		c.MaxDataProviders = DefaultMaxDataProviders
	}
	if c.MaxEndpointID == 0 || c.MaxEndpointID == datamodel.InvalidEndpointID {
		c.MaxEndpointID = DefaultMaxEndpointID
	}
}

// devicePair is an occupied registry slot. Both fields are always set.
type devicePair struct {
	dev        *Device
	provider   DataProvider
	registered bool
}

// IndexedDevice is a registry entry as returned by Devices.
type IndexedDevice struct {
	Index    int
	Device   *Device
	Provider DataProvider
}

// Manager is the registry of bridged devices.
type Manager struct {
	config   ManagerConfig
	registry EndpointRegistry
	observer Observer

	pairs         []*devicePair
	reserved      []datamodel.EndpointID
	providerCount int

	firstDynamic datamodel.EndpointID
	current      datamodel.EndpointID
	initialized  bool

	log logging.LeveledLogger
}

// NewManager creates a manager. Call Init before adding devices.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Registry == nil {
		return nil, ErrInvalidArgument
	}
	config.applyDefaults()

	m := &Manager{
		config:   config,
		registry: config.Registry,
		observer: config.Observer,
		pairs:    make([]*devicePair, config.MaxBridgedDevices),
		reserved: make([]datamodel.EndpointID, config.MaxBridgedDevices),
	}
	for i := range m.reserved {
		m.reserved[i] = datamodel.InvalidEndpointID
	}
	if m.observer == nil {
		m.observer = BaseObserver{}
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("bridge")
	}
	return m, nil
}

// Init computes the first dynamic endpoint ID as one past the last fixed
// endpoint and disables that last fixed endpoint, which is the
// placeholder reserved for dynamic use.
func (m *Manager) Init() error {
	fixed := m.registry.FixedEndpointCount()
	if fixed == 0 {
		return fmt.Errorf("%w: no fixed endpoints", ErrIncorrectState)
	}
	last := m.registry.EndpointFromIndex(fixed - 1)
	if last == datamodel.InvalidEndpointID || last >= m.config.MaxEndpointID {
		return fmt.Errorf("%w: fixed endpoint %d leaves no dynamic IDs", ErrIncorrectState, last)
	}

	m.firstDynamic = last + 1
	m.current = m.firstDynamic

	if err := m.registry.SetEndpointEnabled(last, false); err != nil {
		return fmt.Errorf("%w: disabling placeholder endpoint: %v", ErrInternal, err)
	}
	m.initialized = true

	if m.log != nil {
		m.log.Infof("Bridge initialized, first dynamic endpoint %d", m.firstDynamic)
	}
	return nil
}

// FirstDynamicEndpointID returns the lowest ID assigned to bridged devices.
func (m *Manager) FirstDynamicEndpointID() datamodel.EndpointID { return m.firstDynamic }

// CurrentDynamicEndpointID returns the ID the next default add tries first.
func (m *Manager) CurrentDynamicEndpointID() datamodel.EndpointID { return m.current }

// Reserve holds slot index and endpoint ep for a stored device whose
// backend is not ready yet. Default adds skip both until
// AddBridgedDevicesAt claims the slot or Unreserve drops the hold.
// Future default adds start past ep.
func (m *Manager) Reserve(index int, ep datamodel.EndpointID) error {
	if !m.initialized {
		return ErrIncorrectState
	}
	if index < 0 || index >= len(m.pairs) || ep < m.firstDynamic || ep > m.config.MaxEndpointID {
		return ErrInvalidArgument
	}
	if m.pairs[index] != nil || m.reserved[index] != datamodel.InvalidEndpointID || m.endpointTaken(ep) {
		return ErrInternal
	}
	m.reserved[index] = ep
	if ep >= m.current {
		m.current = m.next(ep)
	}
	return nil
}

// Unreserve drops the hold on slot index.
func (m *Manager) Unreserve(index int) {
	if index >= 0 && index < len(m.reserved) {
		m.reserved[index] = datamodel.InvalidEndpointID
	}
}

// endpointTaken reports whether ep belongs to a device or a reservation.
func (m *Manager) endpointTaken(ep datamodel.EndpointID) bool {
	for i, pair := range m.pairs {
		if m.reserved[i] == ep || (pair != nil && pair.registered && pair.dev.endpoint == ep) {
			return true
		}
	}
	return false
}

// AddBridgedDevices inserts the pair into the first free slot and
// registers a dynamic endpoint for it, starting at the current dynamic
// endpoint ID and skipping IDs that are already in use. It returns the
// slot index.
//
// The manager owns provider from this call on: it is closed on failure.
func (m *Manager) AddBridgedDevices(dev *Device, provider DataProvider) (int, error) {
	index, err := m.addBridgedDevices(dev, provider)
	m.observer.OperationCompleted(OpAdd, err)
	return index, err
}

func (m *Manager) addBridgedDevices(dev *Device, provider DataProvider) (int, error) {
	index, err := m.insert(dev, provider, -1)
	if err != nil {
		return -1, err
	}

	if err := m.registerEndpoint(index); err != nil {
		m.rollback(index)
		return -1, err
	}
	if err := m.activate(index); err != nil {
		return -1, err
	}
	return index, nil
}

// AddBridgedDevicesAt inserts the pair at a caller-chosen index and
// endpoint ID, as stored by a previous run. The endpoint ID is not
// probed. It claims a reservation on index. Future default adds start
// past ep.
//
// The manager owns provider from this call on: it is closed on failure.
func (m *Manager) AddBridgedDevicesAt(dev *Device, provider DataProvider, index int, ep datamodel.EndpointID) error {
	err := m.addBridgedDevicesAt(dev, provider, index, ep)
	m.observer.OperationCompleted(OpAdd, err)
	return err
}

func (m *Manager) addBridgedDevicesAt(dev *Device, provider DataProvider, index int, ep datamodel.EndpointID) error {
	if index < 0 || index >= len(m.pairs) {
		closeProvider(provider)
		return ErrInvalidArgument
	}
	if m.initialized && (ep < m.firstDynamic || ep > m.config.MaxEndpointID) {
		closeProvider(provider)
		return ErrInvalidArgument
	}
	m.reserved[index] = datamodel.InvalidEndpointID
	if _, err := m.insert(dev, provider, index); err != nil {
		return err
	}

	if err := m.register(index, ep); err != nil {
		m.rollback(index)
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if ep >= m.current {
		m.current = m.next(ep)
	}
	return m.activate(index)
}

// insert validates the pair and stores it at index, or at the first free
// unreserved slot when index is negative.
func (m *Manager) insert(dev *Device, provider DataProvider, index int) (int, error) {
	if dev == nil || provider == nil || dev.ops == nil {
		closeProvider(provider)
		return -1, ErrInvalidArgument
	}
	if !m.initialized {
		closeProvider(provider)
		return -1, ErrIncorrectState
	}
	if len(dev.label) >= NodeLabelSize {
		closeProvider(provider)
		return -1, ErrInvalidStringLength
	}
	for _, p := range m.pairs {
		if p == nil {
			continue
		}
		if p.provider == provider {
			// Already owned by the registry; leave it running.
			return -1, ErrInvalidArgument
		}
		if p.dev == dev {
			closeProvider(provider)
			return -1, ErrInvalidArgument
		}
	}

	if index < 0 {
		for i, p := range m.pairs {
			if p == nil && m.reserved[i] == datamodel.InvalidEndpointID {
				index = i
				break
			}
		}
		if index < 0 {
			closeProvider(provider)
			return -1, ErrNoMemory
		}
	} else if m.pairs[index] != nil {
		closeProvider(provider)
		return -1, ErrInternal
	}

	if m.providerCount >= m.config.MaxDataProviders {
		closeProvider(provider)
		return -1, ErrNoMemory
	}

	m.pairs[index] = &devicePair{dev: dev, provider: provider}
	m.providerCount++
	return index, nil
}

// registerEndpoint tries IDs from the current one, wrapping at
// MaxEndpointID, until the registry accepts one or every ID was tried.
// Reserved IDs are skipped.
func (m *Manager) registerEndpoint(index int) error {
	span := int(m.config.MaxEndpointID) - int(m.firstDynamic) + 1
	for attempt := 0; attempt < span; attempt++ {
		id := m.current
		m.current = m.next(id)
		if m.endpointReserved(id) {
			continue
		}

		err := m.register(index, id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, datamodel.ErrEndpointExists) {
			if m.log != nil {
				m.log.Errorf("Failed to add dynamic endpoint %d: %v", id, err)
			}
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}

	if m.log != nil {
		m.log.Errorf("Failed to add dynamic endpoint: No endpoints available!")
	}
	return ErrNoMemory
}

func (m *Manager) endpointReserved(id datamodel.EndpointID) bool {
	for _, r := range m.reserved {
		if r == id {
			return true
		}
	}
	return false
}

func (m *Manager) register(index int, id datamodel.EndpointID) error {
	pair := m.pairs[index]
	dev := pair.dev
	err := m.registry.SetDynamicEndpoint(index, id, dev.ops.endpointType, dev.versions, dev.ops.deviceTypes, m.config.ParentEndpoint)
	if err != nil {
		return err
	}
	dev.endpoint = id
	pair.registered = true
	return nil
}

// activate binds and starts the provider of a registered pair.
func (m *Manager) activate(index int) error {
	pair := m.pairs[index]
	if b, ok := pair.provider.(EndpointBinder); ok {
		b.BindEndpoint(pair.dev.endpoint)
	}
	if err := pair.provider.Init(); err != nil {
		if m.log != nil {
			m.log.Errorf("Provider init for endpoint %d failed: %v", pair.dev.endpoint, err)
		}
		m.rollback(index)
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if m.log != nil {
		m.log.Infof("Added device to dynamic endpoint %d (index=%d)", pair.dev.endpoint, index)
	}
	m.observer.DeviceAdded(index, pair.dev)
	return nil
}

// rollback frees slot index, deregistering its endpoint if needed.
func (m *Manager) rollback(index int) {
	pair := m.pairs[index]
	if pair == nil {
		return
	}
	if pair.registered {
		if _, err := m.registry.ClearDynamicEndpoint(index); err != nil && m.log != nil {
			m.log.Warnf("Failed to clear dynamic endpoint at index %d: %v", index, err)
		}
	}
	m.pairs[index] = nil
	m.providerCount--
	closeProvider(pair.provider)
}

// next returns the ID after id, wrapping to the first dynamic ID.
func (m *Manager) next(id datamodel.EndpointID) datamodel.EndpointID {
	if id >= m.config.MaxEndpointID {
		return m.firstDynamic
	}
	return id + 1
}

// RemoveBridgedDevice removes the device on endpoint ep and returns the
// index it occupied.
func (m *Manager) RemoveBridgedDevice(ep datamodel.EndpointID) (int, error) {
	for i, pair := range m.pairs {
		if pair == nil || pair.dev.endpoint != ep {
			continue
		}
		dev := pair.dev
		m.rollback(i)

		if m.log != nil {
			m.log.Infof("Removed dynamic endpoint %d (index=%d)", ep, i)
		}
		m.observer.DeviceRemoved(i, dev)
		m.observer.OperationCompleted(OpRemove, nil)
		return i, nil
	}
	m.observer.OperationCompleted(OpRemove, ErrNotFound)
	return -1, ErrNotFound
}

// HandleRead reads an attribute of the device at index.
func (m *Manager) HandleRead(index int, cluster datamodel.ClusterID, attr datamodel.AttributeID, buf []byte) (int, error) {
	pair := m.pair(index)
	if pair == nil {
		m.observer.OperationCompleted(OpRead, ErrInvalidArgument)
		return 0, ErrInvalidArgument
	}
	n, err := pair.dev.HandleRead(cluster, attr, buf)
	m.observer.OperationCompleted(OpRead, err)
	return n, err
}

// HandleWrite applies a write to the device at index and forwards it to
// the provider. The device keeps the new value even when the provider
// fails; the provider's error is returned.
func (m *Manager) HandleWrite(index int, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	err := m.handleWrite(index, cluster, attr, data)
	m.observer.OperationCompleted(OpWrite, err)
	return err
}

func (m *Manager) handleWrite(index int, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	pair := m.pair(index)
	if pair == nil {
		return ErrInvalidArgument
	}
	if err := pair.dev.HandleWrite(cluster, attr, data); err != nil {
		return err
	}
	return pair.provider.UpdateState(cluster, attr, data)
}

// HandleCommand runs a command on the device at index. Commands resolve to
// an attribute write and take the same path as HandleWrite.
func (m *Manager) HandleCommand(index int, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	pair := m.pair(index)
	if pair == nil {
		return ErrInvalidArgument
	}
	attr, value, err := pair.dev.HandleCommand(cluster, cmd)
	if err != nil {
		return err
	}
	return m.HandleWrite(index, cluster, attr, value)
}

// HandleUpdate applies a backend change reported by provider and, if the
// device accepts it, notifies the data model.
func (m *Manager) HandleUpdate(provider DataProvider, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) {
	if data == nil || provider == nil {
		return
	}
	for _, pair := range m.pairs {
		if pair == nil || pair.provider != provider {
			continue
		}
		err := pair.dev.HandleAttributeChange(cluster, attr, data)
		m.observer.OperationCompleted(OpUpdate, err)
		if err != nil {
			if m.log != nil {
				m.log.Debugf("Endpoint %d rejected update 0x%04X/0x%04X: %v", pair.dev.endpoint, cluster, attr, err)
			}
			return
		}

		path := datamodel.ConcreteAttributePath{Endpoint: pair.dev.endpoint, Cluster: cluster, Attribute: attr}
		m.registry.NotifyAttributeChanged(path)
		m.observer.AttributeUpdated(pair.dev, path)
		return
	}
}

// Device returns the pair at index.
func (m *Manager) Device(index int) (*Device, DataProvider, bool) {
	pair := m.pair(index)
	if pair == nil {
		return nil, nil, false
	}
	return pair.dev, pair.provider, true
}

// DeviceByEndpoint returns the device on endpoint ep and its index.
func (m *Manager) DeviceByEndpoint(ep datamodel.EndpointID) (*Device, int, bool) {
	for i, pair := range m.pairs {
		if pair != nil && pair.dev.endpoint == ep {
			return pair.dev, i, true
		}
	}
	return nil, -1, false
}

// Devices returns the occupied slots in index order.
func (m *Manager) Devices() []IndexedDevice {
	var out []IndexedDevice
	for i, pair := range m.pairs {
		if pair != nil {
			out = append(out, IndexedDevice{Index: i, Device: pair.dev, Provider: pair.provider})
		}
	}
	return out
}

// DeviceCount returns the number of bridged devices.
func (m *Manager) DeviceCount() int {
	return m.providerCount
}

// Capacity returns the number of registry slots.
func (m *Manager) Capacity() int {
	return len(m.pairs)
}

// Close removes every device, drops reservations and closes the
// providers.
func (m *Manager) Close() error {
	for i := range m.reserved {
		m.reserved[i] = datamodel.InvalidEndpointID
	}
	for i, pair := range m.pairs {
		if pair != nil {
			dev := pair.dev
			m.rollback(i)
			m.observer.DeviceRemoved(i, dev)
		}
	}
	return nil
}

// ReadExternalAttribute implements datamodel.AttributeAccess.
func (m *Manager) ReadExternalAttribute(index int, cluster datamodel.ClusterID, attr datamodel.AttributeID, buf []byte) (int, error) {
	return m.HandleRead(index, cluster, attr, buf)
}

// WriteExternalAttribute implements datamodel.AttributeAccess.
func (m *Manager) WriteExternalAttribute(index int, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	return m.HandleWrite(index, cluster, attr, data)
}

// InvokeExternalCommand implements datamodel.AttributeAccess.
func (m *Manager) InvokeExternalCommand(index int, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	return m.HandleCommand(index, cluster, cmd)
}

func (m *Manager) pair(index int) *devicePair {
	if index < 0 || index >= len(m.pairs) {
		return nil
	}
	return m.pairs[index]
}

func closeProvider(p DataProvider) {
	if c, ok := p.(io.Closer); ok {
		c.Close()
	}
}

var (
	_ datamodel.AttributeAccess = (*Manager)(nil)
	_ EndpointRegistry          = (*datamodel.Node)(nil)
)
