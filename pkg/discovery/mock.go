package discovery

import (
	"net"
	"sync"
)

// MockMDNSServer records the TXT records it is given.
type MockMDNSServer struct {
	mu       sync.Mutex
	txt      []string
	shutdown bool
}

// SetText implements MDNSServer.
func (s *MockMDNSServer) SetText(txt []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txt = append([]string(nil), txt...)
}

// Shutdown implements MDNSServer.
func (s *MockMDNSServer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
}

// Text returns the current TXT records.
func (s *MockMDNSServer) Text() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.txt...)
}

// IsShutdown reports whether Shutdown was called.
func (s *MockMDNSServer) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// MockRegistration is one call to MockMDNSServerFactory.Register.
type MockRegistration struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	Server   *MockMDNSServer
}

// MockMDNSServerFactory provides mDNS registration without network I/O.
type MockMDNSServerFactory struct {
	mu            sync.Mutex
	registrations []MockRegistration

	// Err fails every registration.
	Err error
}

// NewMockMDNSServerFactory creates a mock factory.
func NewMockMDNSServerFactory() *MockMDNSServerFactory {
	return &MockMDNSServerFactory{}
}

// Register implements MDNSServerFactory.
func (f *MockMDNSServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	server := &MockMDNSServer{txt: append([]string(nil), txt...)}
	f.registrations = append(f.registrations, MockRegistration{
		Instance: instance,
		Service:  service,
		Domain:   domain,
		Port:     port,
		Server:   server,
	})
	return server, nil
}

// Registrations returns the registrations made so far.
func (f *MockMDNSServerFactory) Registrations() []MockRegistration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MockRegistration(nil), f.registrations...)
}

var _ MDNSServerFactory = (*MockMDNSServerFactory)(nil)
