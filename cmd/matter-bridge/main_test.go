package main

import (
	"testing"

	"github.com/backkem/matterbridge/pkg/config"
)

func TestFlags_Apply(t *testing.T) {
	cfg := config.Default()
	f := flags{mode: "ble", storage: "/tmp/b.db", metrics: ":9200", mqtt: "tcp://h:1883", logLevel: "debug"}
	if err := f.apply(cfg); err != nil {
		t.Fatalf("apply() = %v", err)
	}
	if cfg.Bridge.Mode != "ble" || cfg.Storage.Path != "/tmp/b.db" || cfg.Log.Level != "debug" {
		t.Errorf("cfg = %+v, want flag values", cfg)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9200" {
		t.Errorf("Metrics = %+v, want enabled on :9200", cfg.Metrics)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://h:1883" {
		t.Errorf("MQTT = %+v, want enabled with broker", cfg.MQTT)
	}

	if err := (flags{mode: "wifi"}).apply(config.Default()); err == nil {
		t.Error("apply(mode=wifi) = nil, want error")
	}
}
