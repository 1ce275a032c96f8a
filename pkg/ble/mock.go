package ble

import (
	"context"
	"errors"
	"sync"
)

// errMockNoPeripheral is returned when dialing an unknown address.
var errMockNoPeripheral = errors.New("ble: mock peripheral not found")

// MockPeripheral describes a device the MockRadio can connect to.
type MockPeripheral struct {
	Address Address
	Name    string
	Data    *DiscoveredData

	// DialErr fails connection attempts.
	DialErr error

	// DiscoverErr fails GATT discovery.
	DiscoverErr error
}

// MockRadio provides a scripted Radio for testing without a controller.
type MockRadio struct {
	mu          sync.Mutex
	peripherals map[Address]*MockPeripheral
	ads         []Advertisement
	conns       map[Address]*MockConn
	dials       []Address
}

// NewMockRadio creates an empty mock radio.
func NewMockRadio() *MockRadio {
	return &MockRadio{
		peripherals: make(map[Address]*MockPeripheral),
		conns:       make(map[Address]*MockConn),
	}
}

// AddPeripheral makes p connectable and, if services is non-empty,
// advertised during scans.
func (r *MockRadio) AddPeripheral(p *MockPeripheral, services ...UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peripherals[p.Address] = p
	if len(services) > 0 {
		r.ads = append(r.ads, Advertisement{
			Address:     p.Address,
			LocalName:   p.Name,
			Services:    services,
			RSSI:        -60,
			Connectable: true,
		})
	}
}

// SetPeripheralData replaces the GATT data later connections to addr
// discover.
func (r *MockRadio) SetPeripheralData(addr Address, data *DiscoveredData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.peripherals[addr]; p != nil {
		p.Data = data
	}
}

// AddAdvertisement queues a raw advertisement for scans.
func (r *MockRadio) AddAdvertisement(adv Advertisement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads = append(r.ads, adv)
}

// Conn returns the most recent connection to addr.
func (r *MockRadio) Conn(addr Address) *MockConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[addr]
}

// Dials returns the addresses dialed so far.
func (r *MockRadio) Dials() []Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Address(nil), r.dials...)
}

// Scan implements Radio. All queued advertisements are delivered at once.
func (r *MockRadio) Scan(ctx context.Context, handler func(Advertisement)) error {
	r.mu.Lock()
	ads := append([]Advertisement(nil), r.ads...)
	r.mu.Unlock()

	for _, adv := range ads {
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

// Dial implements Radio.
func (r *MockRadio) Dial(ctx context.Context, addr Address) (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dials = append(r.dials, addr)
	p := r.peripherals[addr]
	if p == nil {
		return nil, errMockNoPeripheral
	}
	if p.DialErr != nil {
		return nil, p.DialErr
	}

	c := &MockConn{
		addr:         addr,
		data:         p.Data,
		discoverErr:  p.DiscoverErr,
		subs:         make(map[uint16]func([]byte)),
		disconnected: make(chan struct{}),
	}
	r.conns[addr] = c
	return c, nil
}

// MockWrite is a write recorded by MockConn.
type MockWrite struct {
	Handle uint16
	Data   []byte
}

// MockConn is a scripted Conn.
type MockConn struct {
	mu           sync.Mutex
	addr         Address
	data         *DiscoveredData
	discoverErr  error
	enqueueErr   error
	writeResult  error
	holdWrites   bool
	held         []func(error)
	writes       []MockWrite
	subs         map[uint16]func([]byte)
	subscribeErr error
	closed       bool
	closeOnce    sync.Once
	disconnected chan struct{}
}

// SetEnqueueError makes WriteAsync fail with err.
func (c *MockConn) SetEnqueueError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueErr = err
}

// SetWriteResult sets the error reported to write completions.
func (c *MockConn) SetWriteResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeResult = err
}

// HoldWrites defers write completions until ReleaseWrites.
func (c *MockConn) HoldWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdWrites = true
}

// ReleaseWrites completes all held writes.
func (c *MockConn) ReleaseWrites() {
	c.mu.Lock()
	held := c.held
	c.held = nil
	c.holdWrites = false
	result := c.writeResult
	c.mu.Unlock()

	for _, done := range held {
		done(result)
	}
}

// SetSubscribeError makes Subscribe fail with err.
func (c *MockConn) SetSubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// Writes returns the writes issued so far.
func (c *MockConn) Writes() []MockWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MockWrite(nil), c.writes...)
}

// Subscribed reports whether notifications are enabled on valueHandle.
func (c *MockConn) Subscribed(valueHandle uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[valueHandle]
	return ok
}

// Notify delivers a notification on valueHandle.
func (c *MockConn) Notify(valueHandle uint16, data []byte) bool {
	c.mu.Lock()
	notify := c.subs[valueHandle]
	c.mu.Unlock()
	if notify == nil {
		return false
	}
	notify(data)
	return true
}

// Disconnect simulates link loss.
func (c *MockConn) Disconnect() {
	c.closeOnce.Do(func() { close(c.disconnected) })
}

// Closed reports whether Close was called.
func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Address implements Conn.
func (c *MockConn) Address() Address { return c.addr }

// Discover implements Conn.
func (c *MockConn) Discover(ctx context.Context, service UUID) (*DiscoveredData, error) {
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	if c.data == nil || !c.data.Service.Equal(service) {
		return nil, ErrServiceNotFound
	}
	return c.data, nil
}

// WriteAsync implements Conn. Completions run synchronously unless held.
func (c *MockConn) WriteAsync(handle uint16, data []byte, done func(error)) error {
	c.mu.Lock()
	if c.enqueueErr != nil {
		err := c.enqueueErr
		c.mu.Unlock()
		return err
	}
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.writes = append(c.writes, MockWrite{Handle: handle, Data: append([]byte(nil), data...)})
	if c.holdWrites {
		c.held = append(c.held, done)
		c.mu.Unlock()
		return nil
	}
	result := c.writeResult
	c.mu.Unlock()

	done(result)
	return nil
}

// Subscribe implements Conn.
func (c *MockConn) Subscribe(valueHandle, cccHandle uint16, notify func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subs[valueHandle] = notify
	return nil
}

// Disconnected implements Conn.
func (c *MockConn) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Close implements Conn.
func (c *MockConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
	return nil
}

var (
	_ Radio = (*MockRadio)(nil)
	_ Conn  = (*MockConn)(nil)
	_ Radio = (*GoBLERadio)(nil)
	_ Conn  = (*goBLEConn)(nil)
)
