package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/backkem/matterbridge/pkg/ble"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/backkem/matterbridge/pkg/storage"
	"github.com/pion/transport/v3/test"
)

var testBLEService = ble.MustParseUUID("00001523-1212-efde-1523-785feabcd123")

func fakeFactories(created *[]*fakeProvider) map[DeviceType]ProviderFactory {
	factory := func(update UpdateFunc) (DataProvider, error) {
		p := &fakeProvider{}
		if created != nil {
			*created = append(*created, p)
		}
		return p, nil
	}
	return map[DeviceType]ProviderFactory{
		DeviceTypeOnOffLight:        factory,
		DeviceTypeTemperatureSensor: factory,
	}
}

// failingStorage rejects every store.
type failingStorage struct {
	*storage.MemoryStorage
}

func (failingStorage) Store(*storage.Node, []byte) error { return errors.New("disk full") }

func newTestCreator(t *testing.T, st storage.Storage, created *[]*fakeProvider) (*Creator, *Manager, *StorageManager) {
	t.Helper()
	m := newTestManager(t, newFakeRegistry(0, 1, 2), ManagerConfig{MaxBridgedDevices: 4})
	sm, err := NewStorageManager(StorageManagerConfig{Storage: st, MaxBridgedDevices: 4})
	if err != nil {
		t.Fatalf("NewStorageManager() failed: %v", err)
	}
	seed := make([]byte, SeedSize)
	ids, _ := NewUniqueIDGenerator(seed)
	c, err := NewCreator(CreatorConfig{Manager: m, Storage: sm, Providers: fakeFactories(created), UniqueIDs: ids})
	if err != nil {
		t.Fatalf("NewCreator() failed: %v", err)
	}
	return c, m, sm
}

func TestCreator_CreateDevice(t *testing.T) {
	c, m, sm := newTestCreator(t, storage.NewMemoryStorage(), nil)

	ep, err := c.CreateDevice(DeviceTypeOnOffLight, "Kitchen")
	if err != nil {
		t.Fatalf("CreateDevice() failed: %v", err)
	}
	if ep != 3 {
		t.Errorf("CreateDevice() = %d, want 3", ep)
	}
	dev, _, _ := m.DeviceByEndpoint(ep)
	if len(dev.UniqueID()) != 32 {
		t.Errorf("UniqueID() = %q, want 32 characters", dev.UniqueID())
	}

	records, _ := sm.LoadDeviceRecords()
	if len(records) != 1 || records[0].EndpointID != 3 || records[0].Label != "Kitchen" || records[0].Address != nil {
		t.Errorf("stored records = %+v, want Kitchen on endpoint 3", records)
	}

	if _, err := c.CreateDevice(DeviceTypeHumiditySensor, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("CreateDevice(no provider) = %v, want ErrInvalidArgument", err)
	}
	if err := c.CreateBLEDevice(DeviceTypeOnOffLight, "", 0, nil); !errors.Is(err, ErrIncorrectState) {
		t.Errorf("CreateBLEDevice(no BLE) = %v, want ErrIncorrectState", err)
	}

	if err := c.RemoveDevice(ep); err != nil {
		t.Fatalf("RemoveDevice() failed: %v", err)
	}
	records, _ = sm.LoadDeviceRecords()
	if len(records) != 0 || m.DeviceCount() != 0 {
		t.Errorf("after remove records = %+v, devices = %d, want none", records, m.DeviceCount())
	}
	if err := c.RemoveDevice(ep); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveDevice(again) = %v, want ErrNotFound", err)
	}
}

func TestCreator_StorageFailure(t *testing.T) {
	var created []*fakeProvider
	c, m, _ := newTestCreator(t, failingStorage{storage.NewMemoryStorage()}, &created)

	if _, err := c.CreateDevice(DeviceTypeOnOffLight, ""); !errors.Is(err, ErrInternal) {
		t.Fatalf("CreateDevice() = %v, want ErrInternal", err)
	}
	if m.DeviceCount() != 0 {
		t.Errorf("DeviceCount() = %d, want 0", m.DeviceCount())
	}
	if len(created) != 1 || created[0].closed != 1 {
		t.Error("provider not closed after storage failure")
	}
}

func TestCreator_RestoreDevices(t *testing.T) {
	mem := storage.NewMemoryStorage()
	c, m, _ := newTestCreator(t, mem, nil)

	for _, typ := range []DeviceType{DeviceTypeOnOffLight, DeviceTypeTemperatureSensor, DeviceTypeOnOffLight} {
		if _, err := c.CreateDevice(typ, typ.String()); err != nil {
			t.Fatalf("CreateDevice(%s) failed: %v", typ, err)
		}
	}
	if err := c.RemoveDevice(4); err != nil {
		t.Fatalf("RemoveDevice() failed: %v", err)
	}
	before := m.Devices()

	restored, rm, _ := newTestCreator(t, mem, nil)
	if err := restored.RestoreDevices(); err != nil {
		t.Fatalf("RestoreDevices() failed: %v", err)
	}
	after := rm.Devices()

	if len(after) != len(before) {
		t.Fatalf("restored %d devices, want %d", len(after), len(before))
	}
	for i := range before {
		b, a := before[i], after[i]
		if a.Index != b.Index || a.Device.EndpointID() != b.Device.EndpointID() ||
			a.Device.Type() != b.Device.Type() || a.Device.NodeLabel() != b.Device.NodeLabel() ||
			a.Device.UniqueID() != b.Device.UniqueID() {
			t.Errorf("device %d = (%d, %d, %s, %q), want (%d, %d, %s, %q)", i,
				a.Index, a.Device.EndpointID(), a.Device.Type(), a.Device.NodeLabel(),
				b.Index, b.Device.EndpointID(), b.Device.Type(), b.Device.NodeLabel())
		}
	}

	// New devices never reuse a restored endpoint.
	ep, err := restored.CreateDevice(DeviceTypeOnOffLight, "")
	if err != nil {
		t.Fatalf("CreateDevice() after restore failed: %v", err)
	}
	if ep != 6 {
		t.Errorf("CreateDevice() after restore = %d, want 6", ep)
	}
}

func TestCreator_RestoreWithoutBLE(t *testing.T) {
	mem := storage.NewMemoryStorage()
	c, _, sm := newTestCreator(t, mem, nil)
	c.CreateDevice(DeviceTypeOnOffLight, "")
	addr, _ := ble.ParseAddress("C0:11:22:33:44:55")
	sm.AddDeviceRecord(DeviceRecord{Index: 1, EndpointID: 9, Type: DeviceTypeOnOffLight, Address: &addr})

	restored, rm, _ := newTestCreator(t, mem, nil)
	if err := restored.RestoreDevices(); !errors.Is(err, ErrIncorrectState) {
		t.Errorf("RestoreDevices() = %v, want ErrIncorrectState for BLE record", err)
	}
	if rm.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", rm.DeviceCount())
	}
}

// pendingConnector holds connect requests until the test completes them.
type pendingConnector struct {
	pending []ble.ConnectedFunc
	err     error
}

func (c *pendingConnector) Connect(scanIndex int, service ble.UUID, onConnected ble.ConnectedFunc) error {
	return c.ConnectAddress(ble.Address{}, service, onConnected)
}

func (c *pendingConnector) ConnectAddress(addr ble.Address, service ble.UUID, onConnected ble.ConnectedFunc) error {
	if c.err != nil {
		return c.err
	}
	c.pending = append(c.pending, onConnected)
	return nil
}

func (c *pendingConnector) Release(*ble.Device) {}

// newPendingBLECreator stores one BLE light at index 0, endpoint 3 and
// returns a fresh creator over the same storage.
func newPendingBLECreator(t *testing.T, conn *pendingConnector) (*Creator, *Manager, *StorageManager, *[]*fakeBLEProvider) {
	t.Helper()
	mem := storage.NewMemoryStorage()
	_, _, sm := newTestCreator(t, mem, nil)
	addr, _ := ble.ParseAddress("C0:11:22:33:44:55")
	if err := sm.AddDeviceRecord(DeviceRecord{Index: 0, EndpointID: 3, Type: DeviceTypeOnOffLight, Label: "Desk", Address: &addr}); err != nil {
		t.Fatalf("AddDeviceRecord() failed: %v", err)
	}

	var providers []*fakeBLEProvider
	c, m, sm := newTestCreator(t, mem, nil)
	c.ble = conn
	c.bleProviders = map[DeviceType]BLEProviderFactory{
		DeviceTypeOnOffLight: func(update UpdateFunc) (BLEProvider, error) {
			p := &fakeBLEProvider{}
			providers = append(providers, p)
			return p, nil
		},
	}
	return c, m, sm, &providers
}

func TestCreator_RestorePendingBLEKeepsRecord(t *testing.T) {
	conn := &pendingConnector{}
	c, m, sm, _ := newPendingBLECreator(t, conn)

	if err := c.RestoreDevices(); err != nil {
		t.Fatalf("RestoreDevices() failed: %v", err)
	}
	if len(conn.pending) != 1 || m.DeviceCount() != 0 {
		t.Fatalf("pending = %d, DeviceCount() = %d, want 1, 0", len(conn.pending), m.DeviceCount())
	}

	ep, err := c.CreateDevice(DeviceTypeOnOffLight, "Sim")
	if err != nil {
		t.Fatalf("CreateDevice() during pending restore failed: %v", err)
	}
	if _, index, _ := m.DeviceByEndpoint(ep); ep != 4 || index != 1 {
		t.Errorf("CreateDevice() = endpoint %d at index %d, want 4 at index 1", ep, index)
	}

	conn.pending[0](nil, &ble.DiscoveredData{Service: testBLEService}, nil)

	dev, index, ok := m.DeviceByEndpoint(3)
	if !ok || index != 0 || dev.NodeLabel() != "Desk" {
		t.Fatalf("restored BLE device = (%v, %d, %v), want Desk at index 0", dev, index, ok)
	}
	records, err := sm.LoadDeviceRecords()
	if err != nil {
		t.Fatalf("LoadDeviceRecords() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("stored records = %+v, want 2", records)
	}
	for _, r := range records {
		switch r.Index {
		case 0:
			if r.EndpointID != 3 || r.Label != "Desk" || r.Address == nil {
				t.Errorf("record 0 = %+v, want the BLE light on endpoint 3", r)
			}
		case 1:
			if r.EndpointID != 4 || r.Label != "Sim" || r.Address != nil {
				t.Errorf("record 1 = %+v, want the simulated light on endpoint 4", r)
			}
		default:
			t.Errorf("unexpected record %+v", r)
		}
	}
}

func TestCreator_RestoreAbandonedBLEReleasesSlot(t *testing.T) {
	tests := []struct {
		name    string
		connErr error
		fail    func(conn *pendingConnector)
		wantErr error
	}{
		{
			name: "connection failed",
			fail: func(conn *pendingConnector) {
				conn.pending[0](nil, nil, ble.ErrDisconnected)
			},
		},
		{
			name:    "connect rejected",
			connErr: ble.ErrNoFreeSlot,
			fail:    func(*pendingConnector) {},
			wantErr: ErrNoMemory,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &pendingConnector{err: tt.connErr}
			c, m, _, providers := newPendingBLECreator(t, conn)

			if err := c.RestoreDevices(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("RestoreDevices() = %v, want %v", err, tt.wantErr)
			}
			tt.fail(conn)

			if len(*providers) != 1 || (*providers)[0].closed != 1 {
				t.Error("provider of the abandoned restore not closed")
			}
			ep, err := c.CreateDevice(DeviceTypeOnOffLight, "")
			if err != nil {
				t.Fatalf("CreateDevice() failed: %v", err)
			}
			if _, index, _ := m.DeviceByEndpoint(ep); index != 0 || ep != 4 {
				t.Errorf("CreateDevice() = endpoint %d at index %d, want 4 at index 0", ep, index)
			}
		})
	}
}

type fakeBLEProvider struct {
	fakeProvider
	dev      *ble.Device
	data     *ble.DiscoveredData
	parseErr error
	release  func(*ble.Device)
}

func (p *fakeBLEProvider) ServiceUUID() ble.UUID { return testBLEService }

func (p *fakeBLEProvider) MatchBLEDevice(dev *ble.Device) error {
	p.dev = dev
	return nil
}

func (p *fakeBLEProvider) ParseDiscoveredData(data *ble.DiscoveredData) error {
	if p.parseErr != nil {
		return p.parseErr
	}
	p.data = data
	return nil
}

func (p *fakeBLEProvider) Close() error {
	p.closed++
	if p.dev != nil && p.release != nil {
		p.release(p.dev)
	}
	return nil
}

type createResult struct {
	ep  datamodel.EndpointID
	err error
}

func TestCreator_CreateBLEDevice(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := runQueue(t)
	defer r.close()

	addr, _ := ble.ParseAddress("C0:11:22:33:44:55 (random)")
	radio := ble.NewMockRadio()
	radio.AddPeripheral(&ble.MockPeripheral{
		Address: addr,
		Name:    "LBS",
		Data:    &ble.DiscoveredData{Service: testBLEService},
	}, testBLEService)

	var (
		parseErr error
		provider *fakeBLEProvider
	)
	bm, err := ble.NewManager(ble.Config{Radio: radio, Queue: r.q, ScanTimeout: time.Second})
	if err != nil {
		t.Fatalf("ble.NewManager() failed: %v", err)
	}
	m := newTestManager(t, newFakeRegistry(0, 1), ManagerConfig{})
	sm, _ := NewStorageManager(StorageManagerConfig{Storage: storage.NewMemoryStorage()})
	c, _ := NewCreator(CreatorConfig{
		Manager: m,
		Storage: sm,
		BLE:     bm,
		BLEProviders: map[DeviceType]BLEProviderFactory{
			DeviceTypeOnOffLight: func(update UpdateFunc) (BLEProvider, error) {
				provider = &fakeBLEProvider{parseErr: parseErr, release: bm.Release}
				return provider, nil
			},
		},
	})
	r.do(func() {
		bm.Init([]ble.UUID{testBLEService})
		bm.Scan()
	})
	defer r.do(func() { bm.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for scanned := 0; scanned == 0; {
		if time.Now().After(deadline) {
			t.Fatal("peripheral not scanned")
		}
		r.do(func() { scanned = len(bm.ScannedDevices()) })
	}

	create := func() createResult {
		results := make(chan createResult, 1)
		var err error
		r.do(func() {
			err = c.CreateBLEDevice(DeviceTypeOnOffLight, "Desk", 0, func(ep datamodel.EndpointID, err error) {
				results <- createResult{ep, err}
			})
		})
		if err != nil {
			t.Fatalf("CreateBLEDevice() failed: %v", err)
		}
		select {
		case res := <-results:
			return res
		case <-time.After(2 * time.Second):
			t.Fatal("CreateBLEDevice() never completed")
			return createResult{}
		}
	}

	// A provider that rejects the service adds nothing and frees the link.
	parseErr = errors.New("missing characteristic")
	if res := create(); !errors.Is(res.err, ErrInternal) {
		t.Fatalf("CreateBLEDevice(parse failure) = %v, want ErrInternal", res.err)
	}
	var linked int
	r.do(func() { linked = len(bm.Devices()) })
	if provider.closed != 1 || linked != 0 {
		t.Errorf("closed = %d, linked = %d, want 1, 0", provider.closed, linked)
	}

	parseErr = nil
	res := create()
	if res.err != nil || res.ep != 2 {
		t.Fatalf("CreateBLEDevice() = (%d, %v), want (2, nil)", res.ep, res.err)
	}
	var records []DeviceRecord
	r.do(func() { records, _ = sm.LoadDeviceRecords() })
	if len(records) != 1 || records[0].Address == nil || *records[0].Address != addr {
		t.Errorf("stored records = %+v, want one with address %s", records, addr)
	}

	r.do(func() { err = c.CreateBLEDevice(DeviceTypeHumiditySensor, "", 0, nil) })
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("CreateBLEDevice(no provider) = %v, want ErrInvalidArgument", err)
	}
}
