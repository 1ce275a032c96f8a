package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/matterbridge/pkg/binding"
	"github.com/pion/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
bridge:
  mode: ble
  max_devices: 4
storage:
  path: /tmp/bridge.db
ble:
  scan_timeout: 3s
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 0
bindings:
  entries:
    - type: unicast
      local_endpoint: 3
      node_id: 42
      remote_endpoint: 1
      cluster: 6
    - type: group
      local_endpoint: 3
      group: 7
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.Mode != ModeBLE {
		t.Errorf("Bridge.Mode = %q, want %q", cfg.Bridge.Mode, ModeBLE)
	}
	if cfg.Bridge.MaxDevices != 4 {
		t.Errorf("Bridge.MaxDevices = %d, want 4", cfg.Bridge.MaxDevices)
	}
	if cfg.BLE.ScanTimeout != 3*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 3s", cfg.BLE.ScanTimeout)
	}
	// Untouched fields keep their defaults.
	if cfg.BLE.ConnectTimeout != 10*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want 10s", cfg.BLE.ConnectTimeout)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.QoS != 0 {
		t.Errorf("MQTT = %+v, want broker tcp://broker:1883 qos 0", cfg.MQTT)
	}

	if len(cfg.Bindings.Entries) != 2 {
		t.Fatalf("len(Bindings.Entries) = %d, want 2", len(cfg.Bindings.Entries))
	}
	e, err := cfg.Bindings.Entries[0].Entry()
	if err != nil {
		t.Fatalf("Entry() error = %v", err)
	}
	if e.Type != binding.Unicast || e.NodeID != 42 || e.Cluster == nil || *e.Cluster != 6 {
		t.Errorf("Entry() = %+v, want unicast to node 42 on cluster 6", e)
	}
	g, _ := cfg.Bindings.Entries[1].Entry()
	if g.Type != binding.Multicast || g.GroupID != 7 || g.Cluster != nil {
		t.Errorf("Entry() = %+v, want multicast to group 7", g)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Bridge.Mode != ModeSimulated {
		t.Errorf("Bridge.Mode = %q, want %q", cfg.Bridge.Mode, ModeSimulated)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MATTERBRIDGE_STORAGE_PATH", "/data/bridge.db")
	t.Setenv("MATTERBRIDGE_MQTT_BROKER", "tcp://env:1883")
	t.Setenv("MATTERBRIDGE_LOG_LEVEL", "warn")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Storage.Path != "/data/bridge.db" {
		t.Errorf("Storage.Path = %q, want /data/bridge.db", cfg.Storage.Path)
	}
	if cfg.MQTT.Broker != "tcp://env:1883" {
		t.Errorf("MQTT.Broker = %q, want tcp://env:1883", cfg.MQTT.Broker)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.Bridge.Mode = "zigbee" }, "bridge.mode"},
		{"no devices", func(c *Config) { c.Bridge.MaxDevices = 0 }, "bridge.max_devices"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"mqtt qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"mqtt qos ignored when disabled", func(c *Config) { c.MQTT.QoS = 3 }, ""},
		{"discovery port", func(c *Config) { c.Discovery.Enabled = true; c.Discovery.Port = 0 }, "discovery.port"},
		{"ble connections", func(c *Config) { c.Bridge.Mode = ModeBLE; c.BLE.MaxConnections = 0 }, "ble.max_connections"},
		{"bad binding", func(c *Config) {
			c.Bindings.Entries = []BindingConfig{{Type: "multicast", LocalEndpoint: 3}}
		}, "bindings.entries[0]"},
		{"binding type", func(c *Config) {
			c.Bindings.Entries = []BindingConfig{{Type: "broadcast"}}
		}, "bindings.entries[0]"},
		{"table too small", func(c *Config) {
			c.Bindings.Size = 1
			c.Bindings.Entries = []BindingConfig{
				{Type: "multicast", Group: 1},
				{Type: "multicast", Group: 2},
			}
		}, "bindings.size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logging.LogLevel
		ok   bool
	}{
		{"trace", logging.LogLevelTrace, true},
		{"DEBUG", logging.LogLevelDebug, true},
		{"", logging.LogLevelInfo, true},
		{"warn", logging.LogLevelWarn, true},
		{"error", logging.LogLevelError, true},
		{"disabled", logging.LogLevelDisabled, true},
		{"verbose", logging.LogLevelInfo, false},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if got != tt.want || (err == nil) != tt.ok {
			t.Errorf("ParseLogLevel(%q) = (%v, %v), want (%v, ok=%v)", tt.in, got, err, tt.want, tt.ok)
		}
	}

	cfg := Default()
	cfg.Log.Level = "error"
	if got := cfg.LoggerFactory().DefaultLogLevel; got != logging.LogLevelError {
		t.Errorf("LoggerFactory().DefaultLogLevel = %v, want %v", got, logging.LogLevelError)
	}
}
