// Package metrics exports bridge activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/backkem/matterbridge/pkg/ble"
	"github.com/backkem/matterbridge/pkg/bridge"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matterbridge"

// Metrics owns a registry with the bridge collectors. Observer methods
// run on the work queue; scrapes may happen concurrently.
type Metrics struct {
	registry *prometheus.Registry

	devices     *prometheus.GaugeVec
	operations  *prometheus.CounterVec
	updates     prometheus.Counter
	scanResults prometheus.Gauge
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridged_devices",
			Help:      "Number of bridged devices by device type.",
		}, []string{"type"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_operations_total",
			Help:      "Bridge manager operations by kind and result.",
		}, []string{"op", "result"}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribute_updates_total",
			Help:      "Attribute changes reported by data providers.",
		}),
		scanResults: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ble_scan_results",
			Help:      "Devices found by the last BLE scan.",
		}),
	}
	m.registry.MustRegister(m.devices, m.operations, m.updates, m.scanResults)

	// Report every type, including empty ones.
	for _, t := range bridge.DeviceTypes() {
		m.devices.WithLabelValues(t.String())
	}
	return m
}

// Registry returns the registry holding the bridge collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DeviceAdded implements bridge.Observer.
func (m *Metrics) DeviceAdded(index int, dev *bridge.Device) {
	m.devices.WithLabelValues(dev.Type().String()).Inc()
}

// DeviceRemoved implements bridge.Observer.
func (m *Metrics) DeviceRemoved(index int, dev *bridge.Device) {
	m.devices.WithLabelValues(dev.Type().String()).Dec()
}

// AttributeUpdated implements bridge.Observer.
func (m *Metrics) AttributeUpdated(dev *bridge.Device, path datamodel.ConcreteAttributePath) {
	m.updates.Inc()
}

// OperationCompleted implements bridge.Observer.
func (m *Metrics) OperationCompleted(op bridge.Operation, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(string(op), result).Inc()
}

// ScanCompleted records the size of a scan result list. It matches
// ble.Config.OnScanComplete.
func (m *Metrics) ScanCompleted(devices []ble.ScannedDevice) {
	m.scanResults.Set(float64(len(devices)))
}

var _ bridge.Observer = (*Metrics)(nil)
