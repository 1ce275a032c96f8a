package ble

// ConnectedFunc completes a connect request. It is called exactly once on
// the work queue: with the discovered service on success, or with a nil
// device and an error on failure.
type ConnectedFunc func(dev *Device, data *DiscoveredData, err error)

// ConnectionListener follows the link state of a device after its first
// successful connection.
type ConnectionListener interface {
	// ConnectionLost is called when the link drops. The manager keeps
	// reconnecting until the device is released.
	ConnectionLost(dev *Device)

	// ConnectionRecovered is called after a reconnect with the service
	// rediscovered. Handles may differ from the previous connection.
	ConnectionRecovered(dev *Device, data *DiscoveredData)
}

// SubscribeParams configures a notification subscription.
type SubscribeParams struct {
	ValueHandle uint16
	CCCHandle   uint16
	Notify      func(data []byte)
}

// Validate checks that the subscription can be issued. Zero handles and
// a nil callback are rejected before they reach the radio.
func (p SubscribeParams) Validate() error {
	if p.Notify == nil || p.ValueHandle == 0 || p.CCCHandle == 0 {
		return ErrInvalidSubscribeParams
	}
	return nil
}

// Device is a peripheral managed by the Manager. All methods must be
// called on the work queue.
type Device struct {
	mgr      *Manager
	slot     int
	addr     Address
	service  UUID
	conn     Conn
	listener ConnectionListener
	released bool
}

// Address returns the peer address.
func (d *Device) Address() Address { return d.addr }

// Service returns the primary service the device was connected for.
func (d *Device) Service() UUID { return d.service }

// Conn returns the current link, or nil while disconnected.
func (d *Device) Conn() Conn { return d.conn }

// Connected reports whether the device has a live link.
func (d *Device) Connected() bool { return d.conn != nil && !d.released }

// SetListener registers the connection listener.
func (d *Device) SetListener(l ConnectionListener) {
	d.listener = l
}

// Reconnect drops the current link and dials the peer again after the
// reconnect interval. The listener is told through ConnectionRecovered.
// It is a no-op while a reconnect is already pending.
func (d *Device) Reconnect() error {
	s := &d.mgr.slots[d.slot]
	if d.released || s.dev != d {
		return ErrReleased
	}
	if s.pending != nil {
		return ErrNotConnected
	}
	if d.conn == nil {
		return nil
	}
	if d.mgr.log != nil {
		d.mgr.log.Infof("Dropping link to %s for reconnect", d.addr)
	}
	d.mgr.connectionFailed(d.slot, nil)
	return nil
}

// Write issues a GATT write to the attribute with the given value handle.
// done runs on the work queue with the outcome, unless the link is lost
// first.
func (d *Device) Write(handle uint16, data []byte, done func(error)) error {
	if !d.Connected() {
		return ErrNotConnected
	}
	slot, gen := d.slot, d.mgr.slots[d.slot].gen
	buf := append([]byte(nil), data...)

	return d.conn.WriteAsync(handle, buf, func(err error) {
		d.mgr.post(GattWriteComplete{Slot: slot, Generation: gen, Err: err, done: done})
	})
}

// Subscribe enables notifications for a characteristic. params.Notify
// runs on the work queue.
func (d *Device) Subscribe(params SubscribeParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if !d.Connected() {
		return ErrNotConnected
	}
	slot, gen := d.slot, d.mgr.slots[d.slot].gen

	return d.conn.Subscribe(params.ValueHandle, params.CCCHandle, func(data []byte) {
		d.mgr.post(NotificationReceived{
			Slot:       slot,
			Generation: gen,
			Data:       append([]byte(nil), data...),
			notify:     params.Notify,
		})
	})
}
