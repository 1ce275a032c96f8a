// Package config loads the bridge configuration from a YAML file.
//
// Load starts from Default, overlays the file, applies MATTERBRIDGE_*
// environment overrides and validates the result.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/backkem/matterbridge/pkg/binding"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// Bridge modes.
const (
	ModeSimulated = "simulated"
	ModeBLE       = "ble"
)

// Config is the bridge configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Storage   StorageConfig   `yaml:"storage"`
	BLE       BLEConfig       `yaml:"ble"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Bindings  BindingsConfig  `yaml:"bindings"`
}

// LogConfig selects the log level: trace, debug, info, warn, error or
// disabled.
type LogConfig struct {
	Level string `yaml:"level"`
}

// BridgeConfig configures the bridged device registry.
type BridgeConfig struct {
	// Mode is "simulated" or "ble".
	Mode string `yaml:"mode"`

	MaxDevices       int `yaml:"max_devices"`
	MaxDataProviders int `yaml:"max_data_providers"`

	// SimulationInterval is how often simulated sensors produce a value.
	// Zero keeps them static.
	SimulationInterval time.Duration `yaml:"simulation_interval"`

	// Color enables colored shell output.
	Color bool `yaml:"color"`
}

// StorageConfig selects persistent storage. An empty path keeps state in
// memory only.
type StorageConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// BLEConfig configures the BLE connectivity manager.
type BLEConfig struct {
	ScanTimeout       time.Duration `yaml:"scan_timeout"`
	MaxScannedDevices int           `yaml:"max_scanned_devices"`
	MaxConnections    int           `yaml:"max_connections"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// MQTTConfig configures the MQTT mirror and remote bindings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
	Prefix   string `yaml:"prefix"`

	// NodeID identifies this bridge in binding command topics.
	NodeID uint64 `yaml:"node_id"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// DiscoveryConfig configures DNS-SD advertising.
type DiscoveryConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Instance   string   `yaml:"instance"`
	Port       int      `yaml:"port"`
	Interfaces []string `yaml:"interfaces"`
}

// BindingsConfig holds the binding table.
type BindingsConfig struct {
	Size    int             `yaml:"size"`
	Entries []BindingConfig `yaml:"entries"`
}

// BindingConfig is one binding table entry.
type BindingConfig struct {
	// Type is "unicast" or "multicast".
	Type           string  `yaml:"type"`
	Fabric         uint8   `yaml:"fabric"`
	LocalEndpoint  uint16  `yaml:"local_endpoint"`
	Cluster        *uint32 `yaml:"cluster,omitempty"`
	NodeID         uint64  `yaml:"node_id"`
	RemoteEndpoint uint16  `yaml:"remote_endpoint"`
	Group          uint16  `yaml:"group"`
}

// Entry converts the configuration into a binding entry.
func (b BindingConfig) Entry() (binding.Entry, error) {
	typ, err := binding.ParseEntryType(b.Type)
	if err != nil {
		return binding.Entry{}, err
	}
	e := binding.Entry{
		Type:           typ,
		FabricIndex:    b.Fabric,
		LocalEndpoint:  datamodel.EndpointID(b.LocalEndpoint),
		NodeID:         b.NodeID,
		RemoteEndpoint: datamodel.EndpointID(b.RemoteEndpoint),
		GroupID:        b.Group,
	}
	if b.Cluster != nil {
		c := datamodel.ClusterID(*b.Cluster)
		e.Cluster = &c
	}
	return e, e.Validate()
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Bridge: BridgeConfig{
			Mode:             ModeSimulated,
			MaxDevices:       16,
			MaxDataProviders: 16,
		},
		Storage: StorageConfig{BusyTimeout: 5 * time.Second},
		BLE: BLEConfig{
			ScanTimeout:       10 * time.Second,
			MaxScannedDevices: 16,
			MaxConnections:    16,
			ConnectTimeout:    10 * time.Second,
			ReconnectInterval: 5 * time.Second,
			WriteTimeout:      5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "matterbridge",
			QoS:      1,
			Prefix:   "matterbridge",
			NodeID:   1,
		},
		Metrics: MetricsConfig{
			Listen: ":9100",
			Path:   "/metrics",
		},
		Discovery: DiscoveryConfig{Port: 5540},
		Bindings:  BindingsConfig{Size: binding.DefaultTableSize},
	}
}

// Load reads the file at path over the defaults. An empty path returns
// the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MATTERBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MATTERBRIDGE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("MATTERBRIDGE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("MATTERBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MATTERBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	var errs []string

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Bridge.Mode != ModeSimulated && c.Bridge.Mode != ModeBLE {
		errs = append(errs, fmt.Sprintf("bridge.mode must be %q or %q", ModeSimulated, ModeBLE))
	}
	if c.Bridge.MaxDevices < 1 {
		errs = append(errs, "bridge.max_devices must be positive")
	}
	if c.Bridge.MaxDataProviders < 1 {
		errs = append(errs, "bridge.max_data_providers must be positive")
	}
	if c.Bridge.SimulationInterval < 0 {
		errs = append(errs, "bridge.simulation_interval must not be negative")
	}

	if c.Bridge.Mode == ModeBLE {
		if c.BLE.MaxScannedDevices < 1 {
			errs = append(errs, "ble.max_scanned_devices must be positive")
		}
		if c.BLE.MaxConnections < 1 {
			errs = append(errs, "ble.max_connections must be positive")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}

	if c.Discovery.Enabled && (c.Discovery.Port < 1 || c.Discovery.Port > 65535) {
		errs = append(errs, "discovery.port must be between 1 and 65535")
	}

	if c.Bindings.Size < len(c.Bindings.Entries) {
		errs = append(errs, "bindings.size is smaller than the number of entries")
	}
	for i, b := range c.Bindings.Entries {
		if _, err := b.Entry(); err != nil {
			errs = append(errs, fmt.Sprintf("bindings.entries[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseLogLevel maps a level name to a pion log level.
func ParseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "trace":
		return logging.LogLevelTrace, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "info", "":
		return logging.LogLevelInfo, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "error":
		return logging.LogLevelError, nil
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	}
	return logging.LogLevelInfo, fmt.Errorf("log.level %q is not a known level", s)
}

// LoggerFactory returns a pion logger factory at the configured level.
func (c *Config) LoggerFactory() *logging.DefaultLoggerFactory {
	level, _ := ParseLogLevel(c.Log.Level)
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = level
	return f
}
