// Package ble manages Bluetooth LE peripherals for the bridge: scanning
// for advertised services, a bounded pool of connections, GATT discovery,
// notification subscriptions and reconnection.
//
// Radio callbacks never touch manager state directly. They are turned into
// typed events and posted to the work queue, where one goroutine applies
// them in order.
package ble

import (
	"context"
	"sync"
	"time"

	"github.com/backkem/matterbridge/pkg/workqueue"
	"github.com/pion/logging"
)

// Default configuration values.
const (
	DefaultScanTimeout       = 10 * time.Second
	DefaultMaxScannedDevices = 16
	DefaultMaxConnections    = 16
	DefaultConnectTimeout    = 10 * time.Second
	DefaultReconnectInterval = 5 * time.Second
)

// ScannedDevice is a device found by a scan and not yet connected.
type ScannedDevice struct {
	Address Address
	Name    string
	RSSI    int
}

// Config holds configuration for a Manager.
type Config struct {
	// Radio performs scans and dials. Required.
	Radio Radio

	// Queue is the work queue all events are drained on. Required.
	Queue *workqueue.Queue

	// ScanTimeout bounds each scan. Default: 10s.
	ScanTimeout time.Duration

	// MaxScannedDevices caps the scan result list. Default: 16.
	MaxScannedDevices int

	// MaxConnections caps concurrent and pending connections. Default: 16.
	MaxConnections int

	// ConnectTimeout bounds each dial. Default: 10s.
	ConnectTimeout time.Duration

	// ReconnectInterval is the delay between reconnect attempts. Default: 5s.
	ReconnectInterval time.Duration

	// OnScanComplete is called on the work queue when a scan window ends.
	OnScanComplete func(devices []ScannedDevice)

	// LoggerFactory for BLE logging (optional).
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.MaxScannedDevices <= 0 {
		c.MaxScannedDevices = DefaultMaxScannedDevices
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
}

type connSlot struct {
	gen     uint64
	dev     *Device
	pending ConnectedFunc
	timer   *time.Timer
}

// Manager owns scanning and the connection pool.
//
// All methods must be called on the work queue, or after the queue has
// stopped.
type Manager struct {
	config Config
	radio  Radio
	queue  *workqueue.Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	uuids      []UUID
	scanning   bool
	scanID     uint64
	scanCancel context.CancelFunc
	scanned    []ScannedDevice
	slots      []connSlot
	closed     bool

	log logging.LeveledLogger
}

// NewManager creates a BLE manager.
func NewManager(config Config) (*Manager, error) {
	if config.Radio == nil || config.Queue == nil {
		return nil, ErrInvalidArgument
	}
	config.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config: config,
		radio:  config.Radio,
		queue:  config.Queue,
		ctx:    ctx,
		cancel: cancel,
		slots:  make([]connSlot, config.MaxConnections),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("ble")
	}
	return m, nil
}

// Init sets the service UUIDs that scans filter on.
func (m *Manager) Init(uuids []UUID) error {
	if len(uuids) == 0 {
		return ErrInvalidArgument
	}
	m.uuids = append([]UUID(nil), uuids...)
	return nil
}

// Scan starts a scan window. Previous results are discarded.
func (m *Manager) Scan() error {
	if m.closed {
		return ErrClosed
	}
	if m.scanning {
		return ErrScanInProgress
	}

	m.scanned = m.scanned[:0]
	m.scanID++
	id := m.scanID
	ctx, cancel := context.WithTimeout(m.ctx, m.config.ScanTimeout)
	m.scanCancel = cancel
	m.scanning = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		err := m.radio.Scan(ctx, func(adv Advertisement) {
			m.post(AdvertisementReceived{Advertisement: adv, ScanID: id})
		})
		m.post(ScanTimeout{ScanID: id, Err: err})
	}()

	if m.log != nil {
		m.log.Infof("Scan started for %v", m.config.ScanTimeout)
	}
	return nil
}

// StopScan ends the current scan window early. Results gathered so far
// are kept.
func (m *Manager) StopScan() error {
	if !m.scanning {
		return nil
	}
	m.scanning = false
	m.scanID++
	m.scanCancel()
	m.scanCancel = nil
	return nil
}

// Scanning reports whether a scan window is open.
func (m *Manager) Scanning() bool {
	return m.scanning
}

// ScannedDevices returns a copy of the scan result list.
func (m *Manager) ScannedDevices() []ScannedDevice {
	return append([]ScannedDevice(nil), m.scanned...)
}

// Connect connects to the scanned device at scanIndex and discovers
// service on it. onConnected is called exactly once with the outcome.
func (m *Manager) Connect(scanIndex int, service UUID, onConnected ConnectedFunc) error {
	if scanIndex < 0 || scanIndex >= len(m.scanned) {
		return ErrInvalidArgument
	}
	return m.connect(m.scanned[scanIndex].Address, service, onConnected)
}

// ConnectAddress connects to a known address without scanning, used when
// restoring devices.
func (m *Manager) ConnectAddress(addr Address, service UUID, onConnected ConnectedFunc) error {
	return m.connect(addr, service, onConnected)
}

func (m *Manager) connect(addr Address, service UUID, onConnected ConnectedFunc) error {
	if onConnected == nil || len(service) == 0 {
		return ErrInvalidArgument
	}
	if m.closed {
		return ErrClosed
	}

	free := -1
	for i := range m.slots {
		s := &m.slots[i]
		if s.dev == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if s.dev.addr == addr {
			return ErrAlreadyConnected
		}
	}
	if free < 0 {
		return ErrNoFreeSlot
	}

	// The controller cannot scan and initiate at the same time.
	m.StopScan()

	s := &m.slots[free]
	s.gen++
	s.dev = &Device{mgr: m, slot: free, addr: addr, service: service}
	s.pending = onConnected

	if m.log != nil {
		m.log.Infof("Connecting to %s", addr)
	}
	m.dial(free)
	return nil
}

// FindBLEBridgedDevice returns the device that owns conn, or nil.
func (m *Manager) FindBLEBridgedDevice(conn Conn) *Device {
	if conn == nil {
		return nil
	}
	for i := range m.slots {
		if dev := m.slots[i].dev; dev != nil && dev.conn == conn {
			return dev
		}
	}
	return nil
}

// Devices returns the devices holding a connection slot.
func (m *Manager) Devices() []*Device {
	var devs []*Device
	for i := range m.slots {
		if m.slots[i].dev != nil {
			devs = append(devs, m.slots[i].dev)
		}
	}
	return devs
}

// Release disconnects dev and frees its slot. Pending completions for the
// device are dropped.
func (m *Manager) Release(dev *Device) {
	if dev == nil || dev.released || dev.mgr != m {
		return
	}
	s := &m.slots[dev.slot]
	if s.dev != dev {
		return
	}

	pending := s.pending
	m.freeSlot(dev.slot)
	if pending != nil {
		pending(nil, nil, ErrReleased)
	}
	if m.log != nil {
		m.log.Debugf("Released %s", dev.addr)
	}
}

// Close stops scanning, drops every connection and waits for radio
// goroutines to exit. Pending connect requests complete with ErrClosed.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.StopScan()

	var pending []ConnectedFunc
	for i := range m.slots {
		if m.slots[i].dev == nil {
			continue
		}
		if m.slots[i].pending != nil {
			pending = append(pending, m.slots[i].pending)
		}
		m.freeSlot(i)
	}

	m.cancel()
	m.wg.Wait()

	for _, cb := range pending {
		cb(nil, nil, ErrClosed)
	}
	return nil
}

// freeSlot invalidates outstanding events and closes the link.
func (m *Manager) freeSlot(i int) {
	s := &m.slots[i]
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.dev != nil {
		if s.dev.conn != nil {
			s.dev.conn.Close()
			s.dev.conn = nil
		}
		s.dev.released = true
	}
	s.dev = nil
	s.pending = nil
}

func (m *Manager) dial(i int) {
	s := &m.slots[i]
	gen := s.gen
	addr := s.dev.addr

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, m.config.ConnectTimeout)
		defer cancel()

		conn, err := m.radio.Dial(ctx, addr)
		ev := ConnectionEstablished{Slot: i, Generation: gen, Conn: conn, Err: err}
		if postErr := m.post(ev); postErr != nil && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) post(ev Event) error {
	return m.queue.Post(func() { m.handle(ev) })
}

// live returns the slot if gen is still current.
func (m *Manager) live(i int, gen uint64) *connSlot {
	if i < 0 || i >= len(m.slots) {
		return nil
	}
	s := &m.slots[i]
	if s.dev == nil || s.gen != gen {
		return nil
	}
	return s
}

func (m *Manager) handle(ev Event) {
	switch e := ev.(type) {
	case AdvertisementReceived:
		m.handleAdvertisement(e)
	case ScanTimeout:
		m.handleScanTimeout(e)
	case ConnectionEstablished:
		m.handleConnectionEstablished(e)
	case DiscoveryComplete:
		m.handleDiscoveryComplete(e)
	case GattWriteComplete:
		if m.live(e.Slot, e.Generation) == nil {
			if m.log != nil {
				m.log.Debugf("Dropping stale write completion for slot %d", e.Slot)
			}
			return
		}
		if e.done != nil {
			e.done(e.Err)
		}
	case NotificationReceived:
		if m.live(e.Slot, e.Generation) != nil && e.notify != nil {
			e.notify(e.Data)
		}
	case Disconnected:
		m.handleDisconnected(e)
	case ReconnectRequested:
		if s := m.live(e.Slot, e.Generation); s != nil {
			s.timer = nil
			if m.log != nil {
				m.log.Infof("Reconnecting to %s", s.dev.addr)
			}
			m.dial(e.Slot)
		}
	}
}

func (m *Manager) handleAdvertisement(e AdvertisementReceived) {
	if !m.scanning || e.ScanID != m.scanID {
		return
	}
	matched := false
	for _, u := range e.Advertisement.Services {
		if containsUUID(m.uuids, u) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}
	for _, d := range m.scanned {
		if d.Address == e.Advertisement.Address {
			return
		}
	}
	if len(m.scanned) >= m.config.MaxScannedDevices {
		if m.log != nil {
			m.log.Debugf("Scan list full, dropping %s", e.Advertisement.Address)
		}
		return
	}

	m.scanned = append(m.scanned, ScannedDevice{
		Address: e.Advertisement.Address,
		Name:    e.Advertisement.LocalName,
		RSSI:    e.Advertisement.RSSI,
	})
}

func (m *Manager) handleScanTimeout(e ScanTimeout) {
	if !m.scanning || e.ScanID != m.scanID {
		return
	}
	m.scanning = false
	m.scanCancel = nil

	if m.log != nil {
		if e.Err != nil {
			m.log.Warnf("Scan ended with error: %v", e.Err)
		}
		m.log.Infof("Scan result:")
		for i, d := range m.scanned {
			m.log.Infof("[%d] %s %q rssi %d", i, d.Address, d.Name, d.RSSI)
		}
	}
	if m.config.OnScanComplete != nil {
		m.config.OnScanComplete(m.ScannedDevices())
	}
}

func (m *Manager) handleConnectionEstablished(e ConnectionEstablished) {
	s := m.live(e.Slot, e.Generation)
	if s == nil {
		if e.Conn != nil {
			e.Conn.Close()
		}
		return
	}

	if e.Err != nil {
		if m.log != nil {
			m.log.Errorf("Connection to %s failed: %v", s.dev.addr, e.Err)
		}
		m.connectionFailed(e.Slot, e.Err)
		return
	}

	dev := s.dev
	dev.conn = e.Conn
	if m.log != nil {
		m.log.Infof("Connected to %s", dev.addr)
	}

	gen := s.gen
	conn := e.Conn
	service := dev.service

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		select {
		case <-conn.Disconnected():
			m.post(Disconnected{Slot: e.Slot, Generation: gen})
		case <-m.ctx.Done():
		}
	}()
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, m.config.ConnectTimeout)
		defer cancel()
		data, err := conn.Discover(ctx, service)
		m.post(DiscoveryComplete{Slot: e.Slot, Generation: gen, Data: data, Err: err})
	}()
}

func (m *Manager) handleDiscoveryComplete(e DiscoveryComplete) {
	s := m.live(e.Slot, e.Generation)
	if s == nil {
		return
	}
	dev := s.dev

	if e.Err == nil && e.Data == nil {
		e.Err = ErrServiceNotFound
	}
	if e.Err != nil {
		if m.log != nil {
			m.log.Errorf("GATT discovery on %s failed: %v", dev.addr, e.Err)
		}
		m.connectionFailed(e.Slot, e.Err)
		return
	}

	if m.log != nil {
		m.log.Infof("GATT discovery on %s completed", dev.addr)
	}
	if cb := s.pending; cb != nil {
		s.pending = nil
		cb(dev, e.Data, nil)
		return
	}
	if dev.listener != nil {
		dev.listener.ConnectionRecovered(dev, e.Data)
	}
}

func (m *Manager) handleDisconnected(e Disconnected) {
	s := m.live(e.Slot, e.Generation)
	if s == nil {
		return
	}
	dev := s.dev
	if m.log != nil {
		m.log.Infof("Disconnected from %s", dev.addr)
	}

	if s.pending != nil {
		m.connectionFailed(e.Slot, ErrDisconnected)
		return
	}

	if dev.conn != nil {
		dev.conn.Close()
		dev.conn = nil
	}
	if dev.listener != nil {
		dev.listener.ConnectionLost(dev)
	}
	if m.live(e.Slot, e.Generation) != nil {
		m.scheduleReconnect(e.Slot)
	}
}

// connectionFailed fails a pending connect request, or schedules another
// attempt for a device that was connected before.
func (m *Manager) connectionFailed(i int, err error) {
	s := &m.slots[i]
	if cb := s.pending; cb != nil {
		m.freeSlot(i)
		cb(nil, nil, err)
		return
	}
	if s.dev.conn != nil {
		s.dev.conn.Close()
		s.dev.conn = nil
	}
	m.scheduleReconnect(i)
}

func (m *Manager) scheduleReconnect(i int) {
	s := &m.slots[i]
	s.gen++
	ev := ReconnectRequested{Slot: i, Generation: s.gen}
	s.timer = time.AfterFunc(m.config.ReconnectInterval, func() {
		m.post(ev)
	})
}
