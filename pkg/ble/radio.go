package ble

import "context"

// Advertisement is a received advertising report.
type Advertisement struct {
	Address     Address
	LocalName   string
	Services    []UUID
	RSSI        int
	Connectable bool
}

// Radio is the BLE central role used by the Manager.
type Radio interface {
	// Scan delivers advertisements to handler until ctx is done. Returning
	// because ctx ended is not an error.
	Scan(ctx context.Context, handler func(Advertisement)) error

	// Dial opens a link to addr.
	Dial(ctx context.Context, addr Address) (Conn, error)
}

// Conn is an established link. Callbacks passed to WriteAsync and
// Subscribe may run on any goroutine.
type Conn interface {
	// Address returns the peer address.
	Address() Address

	// Discover resolves the characteristics and descriptors of one
	// primary service.
	Discover(ctx context.Context, service UUID) (*DiscoveredData, error)

	// WriteAsync enqueues a write request to the attribute with the given
	// value handle. done is called once with the outcome. An error return
	// means the request was not enqueued and done is never called.
	WriteAsync(handle uint16, data []byte, done func(error)) error

	// Subscribe enables notifications by writing the CCC descriptor.
	Subscribe(valueHandle, cccHandle uint16, notify func([]byte)) error

	// Disconnected is closed when the link goes down.
	Disconnected() <-chan struct{}

	// Close terminates the link.
	Close() error
}

// Property is a characteristic properties bitmask.
type Property uint8

// Characteristic properties.
const (
	PropertyBroadcast Property = 0x01
	PropertyRead      Property = 0x02
	PropertyWriteNR   Property = 0x04
	PropertyWrite     Property = 0x08
	PropertyNotify    Property = 0x10
	PropertyIndicate  Property = 0x20
)

// Descriptor is a discovered characteristic descriptor.
type Descriptor struct {
	UUID   UUID
	Handle uint16
}

// Characteristic is a discovered characteristic.
type Characteristic struct {
	UUID        UUID
	Handle      uint16 // declaration handle
	ValueHandle uint16
	Properties  Property
	Descriptors []Descriptor
}

// Descriptor returns the first descriptor with the given UUID, or nil.
func (c *Characteristic) Descriptor(uuid UUID) *Descriptor {
	for i := range c.Descriptors {
		if c.Descriptors[i].UUID.Equal(uuid) {
			return &c.Descriptors[i]
		}
	}
	return nil
}

// DiscoveredData is the result of discovering one primary service.
type DiscoveredData struct {
	Service         UUID
	Characteristics []Characteristic
}

// Characteristic returns the first characteristic with the given UUID, or nil.
func (d *DiscoveredData) Characteristic(uuid UUID) *Characteristic {
	if d == nil {
		return nil
	}
	for i := range d.Characteristics {
		if d.Characteristics[i].UUID.Equal(uuid) {
			return &d.Characteristics[i]
		}
	}
	return nil
}
