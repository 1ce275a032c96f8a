package ble

// Event is a radio occurrence drained on the work queue. Events that
// refer to a connection slot carry the slot generation they were issued
// for; the manager drops events whose generation is no longer current.
type Event interface {
	isEvent()
}

// AdvertisementReceived reports an advertisement seen by a scan.
type AdvertisementReceived struct {
	Advertisement Advertisement
	ScanID        uint64
}

// ScanTimeout reports the end of a scan window.
type ScanTimeout struct {
	ScanID uint64
	Err    error
}

// ConnectionEstablished reports the outcome of a dial.
type ConnectionEstablished struct {
	Slot       int
	Generation uint64
	Conn       Conn
	Err        error
}

// DiscoveryComplete reports the outcome of GATT discovery.
type DiscoveryComplete struct {
	Slot       int
	Generation uint64
	Data       *DiscoveredData
	Err        error
}

// GattWriteComplete reports the outcome of a GATT write.
type GattWriteComplete struct {
	Slot       int
	Generation uint64
	Err        error
	done       func(error)
}

// NotificationReceived carries a characteristic notification.
type NotificationReceived struct {
	Slot       int
	Generation uint64
	Data       []byte
	notify     func([]byte)
}

// Disconnected reports loss of a link.
type Disconnected struct {
	Slot       int
	Generation uint64
}

// ReconnectRequested fires when a reconnect attempt is due.
type ReconnectRequested struct {
	Slot       int
	Generation uint64
}

func (AdvertisementReceived) isEvent() {}
func (ScanTimeout) isEvent()           {}
func (ConnectionEstablished) isEvent() {}
func (DiscoveryComplete) isEvent()     {}
func (GattWriteComplete) isEvent()     {}
func (NotificationReceived) isEvent()  {}
func (Disconnected) isEvent()          {}
func (ReconnectRequested) isEvent()    {}
