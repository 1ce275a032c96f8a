package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/backkem/matterbridge/pkg/binding"
	"github.com/backkem/matterbridge/pkg/clusters/onoff"
	"github.com/backkem/matterbridge/pkg/config"
	"github.com/backkem/matterbridge/pkg/discovery"
	"github.com/backkem/matterbridge/pkg/mqtt"
)

type fakeMQTT struct {
	mu        sync.Mutex
	published map[string][]byte
	handlers  map[string]mqtt.MessageHandler
	closed    bool
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{published: make(map[string][]byte), handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = append([]byte(nil), payload...)
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeMQTT) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMQTT) payload(topic string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[topic]
}

func (f *fakeMQTT) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

// runner runs an App in the background.
type runner struct {
	t      *testing.T
	app    *App
	out    *syncBuffer
	cancel context.CancelFunc
	done   chan error
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func start(t *testing.T, cfg *config.Config, opts Options) *runner {
	t.Helper()
	out := &syncBuffer{}
	opts.Out = out
	a, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{t: t, app: a, out: out, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-r.done:
		t.Fatalf("Run() = %v before ready", err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not start")
	}
	return r
}

func (r *runner) exec(line string) {
	r.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.app.Shell().Execute(ctx, strings.Fields(line)); err != nil {
		r.t.Fatalf("Execute(%q) failed: %v", line, err)
	}
}

func (r *runner) do(fn func()) {
	r.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.app.Queue().Do(ctx, func() error { fn(); return nil }); err != nil {
		r.t.Fatalf("Do() failed: %v", err)
	}
}

func (r *runner) stop() {
	r.t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		if err != nil {
			r.t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		r.t.Fatal("Run() did not return")
	}
}

func TestApp_Simulated(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "disabled"
	cfg.Bridge.MaxDevices = 4
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"
	cfg.MQTT.Enabled = true
	cfg.Discovery.Enabled = true
	cfg.Discovery.Instance = "bridge-test"

	broker := newFakeMQTT()
	mdns := discovery.NewMockMDNSServerFactory()
	r := start(t, cfg, Options{MQTT: broker, ServerFactory: mdns})

	if got := r.app.Manager().FirstDynamicEndpointID(); got != 3 {
		t.Errorf("FirstDynamicEndpointID() = %d, want 3", got)
	}

	r.exec("add 256 Kitchen")
	if out := r.out.String(); !strings.Contains(out, "Done") {
		t.Fatalf("add printed %q, want Done", out)
	}

	// DNS-SD follows the registry.
	regs := mdns.Registrations()
	if len(regs) != 1 {
		t.Fatalf("len(Registrations()) = %d, want 1", len(regs))
	}
	txt := strings.Join(regs[0].Server.Text(), " ")
	for _, want := range []string{"dc=1", "mx=4", "fe=3", "ver=" + Version} {
		if !strings.Contains(txt, want) {
			t.Errorf("TXT %q, want %q", txt, want)
		}
	}

	// MQTT mirrors the device list.
	var devices []mqtt.DeviceInfo
	if err := json.Unmarshal(broker.payload("matterbridge/devices"), &devices); err != nil {
		t.Fatalf("devices payload: %v", err)
	}
	if len(devices) != 1 || devices[0].Label != "Kitchen" {
		t.Errorf("devices = %+v, want Kitchen", devices)
	}

	// Metrics are served over HTTP.
	addr := r.app.MetricsAddr()
	if addr == nil {
		t.Fatal("MetricsAddr() = nil")
	}
	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `matterbridge_bridged_devices{type="OnOffLight"} 1`) {
		t.Errorf("metrics missing bridged device gauge:\n%s", body)
	}

	// Commands published for this node reach the device.
	h := broker.handler("matterbridge/cmd/1/+")
	if h == nil {
		t.Fatal("command topic not subscribed")
	}
	h("matterbridge/cmd/1/3", []byte(`{"source":2,"cluster":6,"command":1}`))
	r.do(func() {})
	r.do(func() {})
	r.do(func() {
		dev, _, ok := r.app.Manager().DeviceByEndpoint(3)
		if !ok || !dev.OnOff() {
			t.Error("device on endpoint 3 is not on after On command")
		}
	})
	if broker.payload("matterbridge/attr/3/6/0") == nil {
		t.Error("OnOff change not mirrored")
	}

	r.stop()

	if !regs[0].Server.IsShutdown() {
		t.Error("mDNS server not shut down")
	}
	broker.mu.Lock()
	closed := broker.closed
	broker.mu.Unlock()
	if !closed {
		t.Error("MQTT client not closed")
	}
}

func TestApp_LocalBinding(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "disabled"
	cfg.Bindings.Entries = []config.BindingConfig{
		{Type: "unicast", LocalEndpoint: 3, NodeID: cfg.MQTT.NodeID, RemoteEndpoint: 4},
	}
	r := start(t, cfg, Options{})
	defer r.stop()

	r.exec("add 256 Switch")
	r.exec("add 256 Lamp")

	r.do(func() {
		err := r.app.Bindings().Invoke(context.Background(), binding.Data{
			EndpointID: 3,
			ClusterID:  onoff.ClusterID,
			CommandID:  onoff.CmdToggle,
		})
		if err != nil {
			t.Errorf("Invoke() = %v, want nil", err)
		}
	})

	// The provider reports the new state through the queue.
	r.do(func() {})
	r.do(func() {
		lamp, _, ok := r.app.Manager().DeviceByEndpoint(4)
		if !ok || !lamp.OnOff() {
			t.Error("lamp on endpoint 4 is not on after Toggle")
		}
		sw, _, _ := r.app.Manager().DeviceByEndpoint(3)
		if sw.OnOff() {
			t.Error("switch on endpoint 3 changed state")
		}
	})
}

func TestApp_RestoreFromSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "disabled"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "bridge.db")

	r := start(t, cfg, Options{})
	r.exec("add 770 Porch")
	r.exec("add 775 Cellar")
	r.exec("remove 3")
	r.stop()

	r = start(t, cfg, Options{})
	defer r.stop()
	r.do(func() {
		if got := r.app.Manager().DeviceCount(); got != 1 {
			t.Fatalf("DeviceCount() = %d, want 1", got)
		}
		dev, _, ok := r.app.Manager().DeviceByEndpoint(4)
		if !ok || dev.NodeLabel() != "Cellar" {
			t.Errorf("endpoint 4 = %v, want Cellar", dev)
		}
	})
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.Mode = "zigbee"
	if _, err := New(cfg, Options{}); err == nil {
		t.Error("New(invalid mode) = nil error, want error")
	}
}

func TestApp_RunTwice(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "disabled"
	r := start(t, cfg, Options{})
	if err := r.app.Run(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Run() = %v, want ErrAlreadyStarted", err)
	}
	r.stop()
	if err := r.app.Run(context.Background()); err != ErrClosed {
		t.Errorf("Run() after stop = %v, want ErrClosed", err)
	}
}
