package bridge

import (
	"github.com/backkem/matterbridge/pkg/ble"
	"github.com/backkem/matterbridge/pkg/datamodel"
)

// UpdateFunc receives backend-driven attribute changes from a provider.
// The Manager's HandleUpdate is the usual target. It must be called on the
// work queue.
type UpdateFunc func(p DataProvider, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte)

// DataProvider is the backend of one bridged device.
//
// Providers are compared by identity, so implementations must be pointer
// types. A provider that also implements io.Closer is closed when its
// device is removed or its add fails.
type DataProvider interface {
	// Init starts the backend. It is called once after the device's
	// endpoint is registered.
	Init() error

	// UpdateState pushes a value written through the data model to the
	// backend.
	UpdateState(cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error
}

// EndpointBinder is implemented by providers that need to know the
// endpoint their device was assigned.
type EndpointBinder interface {
	BindEndpoint(ep datamodel.EndpointID)
}

// BLEProvider is a DataProvider backed by a BLE peripheral.
type BLEProvider interface {
	DataProvider

	// ServiceUUID returns the primary service the provider drives.
	ServiceUUID() ble.UUID

	// MatchBLEDevice hands the connected device to the provider.
	MatchBLEDevice(dev *ble.Device) error

	// ParseDiscoveredData resolves the handles the provider needs and
	// subscribes to notifications. It fails without subscribing when a
	// required characteristic or descriptor is missing.
	ParseDiscoveredData(data *ble.DiscoveredData) error
}

// ProviderFactory constructs a provider that reports changes to update.
type ProviderFactory func(update UpdateFunc) (DataProvider, error)

// BLEProviderFactory constructs a BLE provider that reports changes to update.
type BLEProviderFactory func(update UpdateFunc) (BLEProvider, error)
