// Package app assembles the bridge from its configuration.
//
// New constructs every collaborator once and wires them together: the
// data model node, the bridge manager and its storage, the BLE manager,
// bindings, the MQTT mirror, metrics and DNS-SD advertising. Run drives
// the work queue, restores stored devices and serves until the context
// ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/backkem/matterbridge/pkg/binding"
	"github.com/backkem/matterbridge/pkg/ble"
	"github.com/backkem/matterbridge/pkg/bleprovider"
	"github.com/backkem/matterbridge/pkg/bridge"
	"github.com/backkem/matterbridge/pkg/config"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/backkem/matterbridge/pkg/discovery"
	"github.com/backkem/matterbridge/pkg/metrics"
	"github.com/backkem/matterbridge/pkg/mqtt"
	"github.com/backkem/matterbridge/pkg/shell"
	"github.com/backkem/matterbridge/pkg/storage"
	"github.com/backkem/matterbridge/pkg/workqueue"
	"github.com/pion/logging"
)

// Version is advertised in the bridge TXT records.
const Version = "1.0"

// shutdownTimeout bounds each shutdown step.
const shutdownTimeout = 5 * time.Second

// MQTTClient is the broker connection used by the mirror and bindings.
// *mqtt.Client implements it.
type MQTTClient interface {
	mqtt.Publisher
	mqtt.Subscriber
	Close() error
}

// Options replaces collaborators that touch hardware or the network.
type Options struct {
	// Radio is used in BLE mode. Default: the Linux HCI adapter.
	Radio ble.Radio

	// ServerFactory registers the DNS-SD service. Default: zeroconf.
	ServerFactory discovery.MDNSServerFactory

	// MQTT is used when mqtt.enabled is set. Default: a paho client
	// connected to mqtt.broker.
	MQTT MQTTClient

	// Out receives shell output. Default: os.Stdout.
	Out io.Writer

	// LoggerFactory overrides the factory built from log.level.
	LoggerFactory logging.LoggerFactory
}

// App is a running bridge.
type App struct {
	config *config.Config
	log    logging.LeveledLogger

	queue      *workqueue.Queue
	store      storage.Storage
	node       *datamodel.Node
	manager    *bridge.Manager
	storageMgr *bridge.StorageManager
	creator    *bridge.Creator
	bleMgr     *ble.Manager
	table      *binding.Table
	bindings   *binding.Handler
	metrics    *metrics.Metrics
	mqtt       MQTTClient
	mirror     *mqtt.Mirror
	receiver   *mqtt.CommandReceiver
	advertiser *discovery.Advertiser
	shell      *shell.Shell

	ready chan struct{}

	mu       sync.Mutex
	started  bool
	closed   bool
	server   *http.Server
	listener net.Listener
}

// New builds the bridge. Nothing runs until Run is called.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var lf logging.LoggerFactory = opts.LoggerFactory
	if lf == nil {
		lf = cfg.LoggerFactory()
	}

	a := &App{
		config: cfg,
		log:    lf.NewLogger("app"),
		queue:  workqueue.New(workqueue.Config{LoggerFactory: lf}),
		ready:  make(chan struct{}),
	}
	if err := a.build(cfg, opts, lf); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, opts Options, lf logging.LoggerFactory) error {
	var err error

	if cfg.Storage.Path != "" {
		db, err := storage.OpenSQLite(storage.SQLiteConfig{
			Path:        cfg.Storage.Path,
			BusyTimeout: cfg.Storage.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		a.store = db
	} else {
		a.store = storage.NewMemoryStorage()
	}

	a.node, err = newBridgeNode(cfg.Bridge.MaxDevices)
	if err != nil {
		return fmt.Errorf("building node: %w", err)
	}

	var observers bridge.Observers

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		observers = append(observers, a.metrics)
	}

	if err := a.buildMQTT(cfg, opts, lf); err != nil {
		return err
	}
	if a.mirror != nil {
		a.node.AddAttributeChangeListener(a.mirror)
		observers = append(observers, a.mirror)
	}

	if cfg.Discovery.Enabled {
		ifaces, err := interfaces(cfg.Discovery.Interfaces)
		if err != nil {
			return err
		}
		a.advertiser, err = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Instance:      cfg.Discovery.Instance,
			Port:          cfg.Discovery.Port,
			Interfaces:    ifaces,
			ServerFactory: opts.ServerFactory,
			LoggerFactory: lf,
		})
		if err != nil {
			return fmt.Errorf("creating advertiser: %w", err)
		}
		observers = append(observers, a.advertiser)
	}

	a.manager, err = bridge.NewManager(bridge.ManagerConfig{
		Registry:          a.node,
		ParentEndpoint:    AggregatorEndpointID,
		MaxBridgedDevices: cfg.Bridge.MaxDevices,
		MaxDataProviders:  cfg.Bridge.MaxDataProviders,
		Observer:          observers,
		LoggerFactory:     lf,
	})
	if err != nil {
		return fmt.Errorf("creating bridge manager: %w", err)
	}
	a.node.SetAttributeAccess(a.manager)

	a.storageMgr, err = bridge.NewStorageManager(bridge.StorageManagerConfig{
		Storage:           a.store,
		MaxBridgedDevices: cfg.Bridge.MaxDevices,
		LoggerFactory:     lf,
	})
	if err != nil {
		return fmt.Errorf("creating storage manager: %w", err)
	}
	ids, err := bridge.LoadUniqueIDGenerator(a.storageMgr)
	if err != nil {
		return fmt.Errorf("loading unique id seed: %w", err)
	}

	if err := a.buildBindings(cfg, lf); err != nil {
		return err
	}

	creatorConfig := bridge.CreatorConfig{
		Manager:       a.manager,
		Storage:       a.storageMgr,
		UniqueIDs:     ids,
		LoggerFactory: lf,
	}
	if cfg.Bridge.Mode == config.ModeBLE {
		if err := a.buildBLE(cfg, opts, lf); err != nil {
			return err
		}
		creatorConfig.BLE = a.bleMgr
		creatorConfig.BLEProviders = bleprovider.Providers(bleprovider.Config{
			Queue:         a.queue,
			Releaser:      a.bleMgr,
			Bindings:      a.bindings,
			LoggerFactory: lf,
		})
	} else {
		creatorConfig.Providers = bridge.SimulatedProviders(bridge.SimulatedConfig{
			Queue:         a.queue,
			Interval:      cfg.Bridge.SimulationInterval,
			LoggerFactory: lf,
		})
	}
	a.creator, err = bridge.NewCreator(creatorConfig)
	if err != nil {
		return fmt.Errorf("creating device creator: %w", err)
	}

	var scanner shell.Scanner
	if a.bleMgr != nil {
		scanner = a.bleMgr
	}
	a.shell, err = shell.New(shell.Config{
		Queue:         a.queue,
		Manager:       a.manager,
		Creator:       a.creator,
		Scanner:       scanner,
		Out:           opts.Out,
		Color:         cfg.Bridge.Color,
		LoggerFactory: lf,
	})
	if err != nil {
		return fmt.Errorf("creating shell: %w", err)
	}
	return nil
}

func (a *App) buildMQTT(cfg *config.Config, opts Options, lf logging.LoggerFactory) error {
	if !cfg.MQTT.Enabled {
		return nil
	}
	a.mqtt = opts.MQTT
	if a.mqtt == nil {
		client, err := mqtt.Connect(mqtt.ClientConfig{
			Broker:        cfg.MQTT.Broker,
			ClientID:      cfg.MQTT.ClientID,
			Username:      cfg.MQTT.Username,
			Password:      cfg.MQTT.Password,
			QoS:           byte(cfg.MQTT.QoS),
			Prefix:        cfg.MQTT.Prefix,
			LoggerFactory: lf,
		})
		if err != nil {
			return err
		}
		a.mqtt = client
	}

	topics := mqtt.Topics{Prefix: cfg.MQTT.Prefix}
	var err error
	a.mirror, err = mqtt.NewMirror(mqtt.MirrorConfig{
		Publisher:     a.mqtt,
		Source:        a.node,
		Topics:        topics,
		LoggerFactory: lf,
	})
	if err != nil {
		return fmt.Errorf("creating mirror: %w", err)
	}
	a.receiver, err = mqtt.NewCommandReceiver(mqtt.CommandReceiverConfig{
		Target:        a.node,
		Queue:         a.queue,
		Topics:        topics,
		NodeID:        cfg.MQTT.NodeID,
		LoggerFactory: lf,
	})
	if err != nil {
		return fmt.Errorf("creating command receiver: %w", err)
	}
	return nil
}

func (a *App) buildBindings(cfg *config.Config, lf logging.LoggerFactory) error {
	a.table = binding.NewTable(cfg.Bindings.Size)
	for i, b := range cfg.Bindings.Entries {
		e, err := b.Entry()
		if err != nil {
			return fmt.Errorf("binding %d: %w", i, err)
		}
		if _, err := a.table.Add(e); err != nil {
			return fmt.Errorf("binding %d: %w", i, err)
		}
	}

	router := &binding.Router{
		LocalNodeID: cfg.MQTT.NodeID,
		Local:       &binding.LocalSender{Target: a.node},
	}
	if a.mqtt != nil {
		router.Remote = &mqtt.CommandSender{
			Publisher:   a.mqtt,
			Topics:      mqtt.Topics{Prefix: cfg.MQTT.Prefix},
			LocalNodeID: cfg.MQTT.NodeID,
		}
	}

	var err error
	a.bindings, err = binding.NewHandler(binding.HandlerConfig{
		Table:         a.table,
		Sender:        router,
		LoggerFactory: lf,
	})
	if err != nil {
		return fmt.Errorf("creating binding handler: %w", err)
	}
	return nil
}

func (a *App) buildBLE(cfg *config.Config, opts Options, lf logging.LoggerFactory) error {
	radio := opts.Radio
	if radio == nil {
		r, err := ble.NewDefaultRadio(ble.GoBLEConfig{
			WriteTimeout:  cfg.BLE.WriteTimeout,
			LoggerFactory: lf,
		})
		if err != nil {
			return err
		}
		radio = r
	}

	var err error
	a.bleMgr, err = ble.NewManager(ble.Config{
		Radio:             radio,
		Queue:             a.queue,
		ScanTimeout:       cfg.BLE.ScanTimeout,
		MaxScannedDevices: cfg.BLE.MaxScannedDevices,
		MaxConnections:    cfg.BLE.MaxConnections,
		ConnectTimeout:    cfg.BLE.ConnectTimeout,
		ReconnectInterval: cfg.BLE.ReconnectInterval,
		OnScanComplete:    a.scanCompleted,
		LoggerFactory:     lf,
	})
	if err != nil {
		return fmt.Errorf("creating BLE manager: %w", err)
	}
	return nil
}

// scanCompleted runs on the work queue when a BLE scan window ends.
func (a *App) scanCompleted(devices []ble.ScannedDevice) {
	if a.metrics != nil {
		a.metrics.ScanCompleted(devices)
	}
	if a.shell != nil {
		a.shell.ScanCompleted(devices)
	}
}

func interfaces(names []string) ([]net.Interface, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ifaces := make([]net.Interface, 0, len(names))
	for _, name := range names {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("discovery interface %q: %w", name, err)
		}
		ifaces = append(ifaces, *iface)
	}
	return ifaces, nil
}

// Run starts the bridge and blocks until ctx ends. Stored devices are
// restored before Run starts serving.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	// The queue outlives ctx so shutdown can still run on it.
	queueDone := make(chan struct{})
	go func() {
		a.queue.Run(context.Background())
		close(queueDone)
	}()

	err := a.start(ctx)
	if err == nil {
		close(a.ready)
		<-ctx.Done()
	}

	a.shutdown()
	a.queue.Close()
	<-queueDone
	a.release()
	return err
}

func (a *App) start(ctx context.Context) error {
	err := a.queue.Do(ctx, func() error {
		if err := a.manager.Init(); err != nil {
			return err
		}
		if a.bleMgr != nil {
			if err := a.bleMgr.Init([]ble.UUID{bleprovider.LBSServiceUUID}); err != nil {
				return err
			}
		}
		if err := a.creator.RestoreDevices(); err != nil {
			// Devices that could be restored stay bridged.
			a.log.Warnf("Restoring devices: %v", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("initializing bridge: %w", err)
	}

	if a.receiver != nil {
		if err := a.receiver.Start(a.mqtt); err != nil {
			return err
		}
	}

	if a.metrics != nil {
		if err := a.serveMetrics(); err != nil {
			return err
		}
	}

	if a.advertiser != nil {
		a.advertiser.SetFirstEndpoint(a.manager.FirstDynamicEndpointID())
		txt := a.advertiser.Text()
		txt.MaxDevices = a.manager.Capacity()
		txt.Version = Version
		txt.Mode = a.config.Bridge.Mode
		if err := a.advertiser.Start(txt); err != nil {
			return err
		}
	}

	a.log.Infof("Bridge running in %s mode, first dynamic endpoint %d", a.config.Bridge.Mode, a.manager.FirstDynamicEndpointID())
	return nil
}

func (a *App) serveMetrics() error {
	ln, err := net.Listen("tcp", a.config.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(a.config.Metrics.Path, a.metrics.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	a.mu.Lock()
	a.server = server
	a.listener = ln
	a.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Errorf("Metrics server: %v", err)
		}
	}()
	a.log.Infof("Serving metrics on %s%s", ln.Addr(), a.config.Metrics.Path)
	return nil
}

// shutdown stops the outer surfaces first, then the providers and links.
// Stored devices are kept for the next start.
func (a *App) shutdown() {
	a.mu.Lock()
	server := a.server
	a.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(ctx); err != nil {
			a.log.Warnf("Metrics server shutdown: %v", err)
		}
		cancel()
	}
	if a.advertiser != nil {
		a.advertiser.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.queue.Do(ctx, func() error {
		err := a.manager.Close()
		if a.bleMgr != nil {
			err = errors.Join(err, a.bleMgr.Close())
		}
		return err
	})
	if err != nil {
		a.log.Warnf("Closing bridge: %v", err)
	}
}

// release closes resources that New acquired.
func (a *App) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true

	if a.mqtt != nil {
		if err := a.mqtt.Close(); err != nil {
			a.log.Warnf("Closing MQTT: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warnf("Closing storage: %v", err)
		}
	}
}

// Ready is closed once Run has restored devices and started serving.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Shell returns the command shell.
func (a *App) Shell() *shell.Shell { return a.shell }

// Node returns the data model node.
func (a *App) Node() *datamodel.Node { return a.node }

// Manager returns the bridge manager. Use it on the work queue.
func (a *App) Manager() *bridge.Manager { return a.manager }

// Queue returns the work queue.
func (a *App) Queue() *workqueue.Queue { return a.queue }

// Metrics returns the collectors, or nil when metrics are disabled.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Advertiser returns the DNS-SD advertiser, or nil when disabled.
func (a *App) Advertiser() *discovery.Advertiser { return a.advertiser }

// Bindings returns the binding handler.
func (a *App) Bindings() *binding.Handler { return a.bindings }

// MetricsAddr returns the address metrics are served on once running.
func (a *App) MetricsAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}
