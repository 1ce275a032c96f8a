// matter-bridge exposes simulated or Bluetooth LE devices as bridged
// endpoints of a Matter bridge.
//
// Devices are managed from the shell on stdin:
//
//	add <type> [label]              simulated mode
//	add <type> <ble_index> [label]  BLE mode
//	remove <endpoint>
//	scan                            BLE mode
//	list
//
// Usage:
//
//	matter-bridge [options]
//
// Options:
//
//	-config     YAML configuration file
//	-storage    Path for persistent storage (overrides storage.path)
//	-mode       simulated or ble (overrides bridge.mode)
//	-log-level  trace, debug, info, warn, error or disabled
//	-metrics    Listen address for /metrics; enables metrics
//	-mqtt       Broker URL; enables the MQTT mirror
//
// Example:
//
//	matter-bridge -mode simulated -storage ./bridge.db -metrics :9100
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/matterbridge/pkg/app"
	"github.com/backkem/matterbridge/pkg/config"
)

// flags holds command-line overrides of the configuration file.
type flags struct {
	configPath string
	storage    string
	mode       string
	logLevel   string
	metrics    string
	mqtt       string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "YAML configuration file")
	flag.StringVar(&f.storage, "storage", "", "Path for persistent storage (empty = config or in-memory)")
	flag.StringVar(&f.mode, "mode", "", "Bridge mode: simulated or ble")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, disabled")
	flag.StringVar(&f.metrics, "metrics", "", "Metrics listen address, e.g. :9100")
	flag.StringVar(&f.mqtt, "mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	flag.Parse()
	return f
}

// apply overlays the flags that were set onto cfg.
func (f flags) apply(cfg *config.Config) error {
	if f.storage != "" {
		cfg.Storage.Path = f.storage
	}
	if f.mode != "" {
		cfg.Bridge.Mode = f.mode
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = f.metrics
	}
	if f.mqtt != "" {
		cfg.MQTT.Enabled = true
		cfg.MQTT.Broker = f.mqtt
	}
	return cfg.Validate()
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := f.apply(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	bridge, err := app.New(cfg, app.Options{Out: os.Stdout})
	if err != nil {
		log.Fatalf("Failed to create bridge: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The shell starts once stored devices are back; "exit" or EOF on
	// stdin stops the bridge.
	go func() {
		select {
		case <-bridge.Ready():
		case <-ctx.Done():
			return
		}
		if err := bridge.Shell().Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Shell error: %v", err)
		}
		stop()
	}()

	if err := bridge.Run(ctx); err != nil {
		log.Fatalf("Bridge error: %v", err)
	}
	log.Println("Shut down")
}
