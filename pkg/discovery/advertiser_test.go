package discovery

import (
	"errors"
	"reflect"
	"testing"

	"github.com/backkem/matterbridge/pkg/bridge"
)

func TestNewAdvertiser(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		adv, err := NewAdvertiser(AdvertiserConfig{ServerFactory: NewMockMDNSServerFactory()})
		if err != nil {
			t.Fatalf("NewAdvertiser() failed: %v", err)
		}
		if adv.config.Port != DefaultPort || adv.config.Service != DefaultService {
			t.Errorf("port, service = %d, %q, want %d, %q", adv.config.Port, adv.config.Service, DefaultPort, DefaultService)
		}
		if len(adv.Instance()) != 16 {
			t.Errorf("Instance() = %q, want 16 hex characters", adv.Instance())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := NewAdvertiser(AdvertiserConfig{Port: 70000}); !errors.Is(err, ErrInvalidPort) {
			t.Errorf("NewAdvertiser(port 70000) = %v, want ErrInvalidPort", err)
		}
		long := make([]byte, maxInstanceNameLength+1)
		for i := range long {
			long[i] = 'a'
		}
		if _, err := NewAdvertiser(AdvertiserConfig{Instance: string(long)}); !errors.Is(err, ErrInvalidInstanceName) {
			t.Errorf("NewAdvertiser(long instance) = %v, want ErrInvalidInstanceName", err)
		}
	})
}

func TestAdvertiser_Lifecycle(t *testing.T) {
	factory := NewMockMDNSServerFactory()
	adv, _ := NewAdvertiser(AdvertiserConfig{Instance: "Kitchen Bridge", Port: 8080, ServerFactory: factory})

	if err := adv.UpdateText(BridgeTXT{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("UpdateText() before Start = %v, want ErrNotStarted", err)
	}

	// Devices restored before Start are counted.
	dev, _ := bridge.NewDevice(bridge.DeviceTypeOnOffLight, "Desk")
	adv.DeviceAdded(0, dev)

	if err := adv.Start(BridgeTXT{DeviceCount: adv.Text().DeviceCount, MaxDevices: 16, FirstEndpoint: 3, Version: "1.0"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := adv.Start(BridgeTXT{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() twice = %v, want ErrAlreadyStarted", err)
	}

	regs := factory.Registrations()
	if len(regs) != 1 {
		t.Fatalf("Registrations() = %d, want 1", len(regs))
	}
	reg := regs[0]
	if reg.Instance != "Kitchen Bridge" || reg.Service != DefaultService || reg.Domain != DefaultDomain || reg.Port != 8080 {
		t.Errorf("registration = %+v, want Kitchen Bridge on %s port 8080", reg, DefaultService)
	}
	want := []string{"dc=1", "mx=16", "fe=3", "ver=1.0"}
	if got := reg.Server.Text(); !reflect.DeepEqual(got, want) {
		t.Errorf("TXT = %v, want %v", got, want)
	}

	adv.DeviceAdded(1, dev)
	adv.DeviceAdded(2, dev)
	adv.DeviceRemoved(0, dev)
	if got := reg.Server.Text()[0]; got != "dc=2" {
		t.Errorf("TXT[0] after add/remove = %q, want dc=2", got)
	}

	if err := adv.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !reg.Server.IsShutdown() {
		t.Error("server not shut down after Close")
	}
	if err := adv.Start(BridgeTXT{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
	if err := adv.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestAdvertiser_RegisterFailure(t *testing.T) {
	factory := NewMockMDNSServerFactory()
	factory.Err = errors.New("no multicast interface")
	adv, _ := NewAdvertiser(AdvertiserConfig{ServerFactory: factory})

	if err := adv.Start(BridgeTXT{}); err == nil {
		t.Fatal("Start() = nil, want registration error")
	}
	if err := adv.UpdateText(BridgeTXT{DeviceCount: 1}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("UpdateText() = %v, want ErrNotStarted", err)
	}
}

func TestBridgeTXT(t *testing.T) {
	txt := BridgeTXT{DeviceCount: 2, MaxDevices: 16, FirstEndpoint: 3, Version: "0.3.0", Mode: "ble"}
	got, err := ParseBridgeTXT(txt.Encode())
	if err != nil {
		t.Fatalf("ParseBridgeTXT() failed: %v", err)
	}
	if got != txt {
		t.Errorf("ParseBridgeTXT(Encode()) = %+v, want %+v", got, txt)
	}

	if enc := (BridgeTXT{}).Encode(); !reflect.DeepEqual(enc, []string{"dc=0"}) {
		t.Errorf("Encode(empty) = %v, want [dc=0]", enc)
	}

	invalid := []BridgeTXT{
		{DeviceCount: -1},
		{DeviceCount: 17, MaxDevices: 16},
		{Version: "a=b"},
	}
	for _, tt := range invalid {
		if err := tt.Validate(); !errors.Is(err, ErrInvalidTXTRecord) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidTXTRecord", tt, err)
		}
	}

	for _, bad := range [][]string{{"dc"}, {"dc=x"}, {"fe=70000"}} {
		if _, err := ParseBridgeTXT(bad); !errors.Is(err, ErrInvalidTXTRecord) {
			t.Errorf("ParseBridgeTXT(%v) = %v, want ErrInvalidTXTRecord", bad, err)
		}
	}
}
