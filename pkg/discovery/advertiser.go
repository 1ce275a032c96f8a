// Package discovery advertises the bridge management service over DNS-SD.
//
// The TXT records carry the bridged device count and follow every add and
// remove, so tools on the network can find bridges with free capacity
// without connecting to them.
package discovery

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/backkem/matterbridge/pkg/bridge"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// Service defaults.
const (
	DefaultService = "_matterbridge._tcp"
	DefaultDomain  = "local."
	DefaultPort    = 5540

	maxInstanceNameLength = 63
)

// MDNSServer is a running service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// SetText replaces the TXT records.
	SetText(txt []string)

	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Instance is the service instance name.
	// If empty, a random name will be generated.
	Instance string

	// Service is the DNS-SD service type (default: _matterbridge._tcp).
	Service string

	// Port is the port to advertise (default: 5540).
	Port int

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the bridge service. It also implements
// bridge.Observer so the device count follows the registry.
type Advertiser struct {
	bridge.BaseObserver

	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu     sync.Mutex
	server MDNSServer
	txt    BridgeTXT
	closed bool
}

// NewAdvertiser creates a new Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, ErrInvalidPort
	}
	if config.Service == "" {
		config.Service = DefaultService
	}
	if config.Instance == "" {
		name, err := generateRandomInstanceName()
		if err != nil {
			return nil, fmt.Errorf("advertiser: failed to generate instance name: %w", err)
		}
		config.Instance = name
	}
	if len(config.Instance) > maxInstanceNameLength {
		return nil, ErrInvalidInstanceName
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a, nil
}

// Instance returns the advertised instance name.
func (a *Advertiser) Instance() string { return a.config.Instance }

// Start begins advertising with the given records.
func (a *Advertiser) Start(txt BridgeTXT) error {
	if err := txt.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	server, err := a.factory.Register(a.config.Instance, a.config.Service, DefaultDomain, a.config.Port, txt.Encode(), a.config.Interfaces)
	if err != nil {
		return fmt.Errorf("advertiser: failed to register %s: %w", a.config.Service, err)
	}
	a.server = server
	a.txt = txt

	if a.log != nil {
		a.log.Infof("Advertising %s.%s on port %d", a.config.Instance, a.config.Service, a.config.Port)
	}
	return nil
}

// UpdateText replaces the TXT records of the running service.
func (a *Advertiser) UpdateText(txt BridgeTXT) error {
	if err := txt.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setTextLocked(txt)
}

func (a *Advertiser) setTextLocked(txt BridgeTXT) error {
	if a.closed {
		return ErrClosed
	}
	if a.server == nil {
		return ErrNotStarted
	}
	a.txt = txt
	a.server.SetText(txt.Encode())
	return nil
}

// Text returns the current records.
func (a *Advertiser) Text() BridgeTXT {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txt
}

// DeviceAdded implements bridge.Observer.
func (a *Advertiser) DeviceAdded(index int, dev *bridge.Device) {
	a.adjustCount(1)
}

// DeviceRemoved implements bridge.Observer.
func (a *Advertiser) DeviceRemoved(index int, dev *bridge.Device) {
	a.adjustCount(-1)
}

func (a *Advertiser) adjustCount(delta int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	txt := a.txt
	txt.DeviceCount += delta
	if txt.DeviceCount < 0 {
		txt.DeviceCount = 0
	}
	if a.server == nil {
		// Picked up by Start.
		a.txt = txt
		return
	}
	if err := a.setTextLocked(txt); err != nil && a.log != nil {
		a.log.Warnf("Failed to update TXT records: %v", err)
	}
}

// SetFirstEndpoint records the first dynamic endpoint ID.
func (a *Advertiser) SetFirstEndpoint(ep datamodel.EndpointID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txt.FirstEndpoint = ep
	if a.server != nil && !a.closed {
		a.server.SetText(a.txt.Encode())
	}
}

// Close stops advertising. It is safe to call more than once.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}

func generateRandomInstanceName() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016X", binary.BigEndian.Uint64(buf[:])), nil
}

var (
	_ bridge.Observer = (*Advertiser)(nil)
	_ MDNSServer      = (*zeroconf.Server)(nil)
)
