package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goble "github.com/go-ble/ble"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/deadline"
)

// Default go-ble adapter values.
const (
	DefaultWriteTimeout   = 5 * time.Second
	DefaultWriteQueueSize = 8
)

// GoBLEConfig holds configuration for a GoBLERadio.
type GoBLEConfig struct {
	// Device is the go-ble HCI device. Required.
	Device goble.Device

	// WriteTimeout bounds each GATT write. Default: 5s.
	WriteTimeout time.Duration

	// WriteQueueSize is the per-connection write backlog. Default: 8.
	WriteQueueSize int

	// LoggerFactory for radio logging (optional).
	LoggerFactory logging.LoggerFactory
}

// GoBLERadio implements Radio on top of github.com/go-ble/ble.
type GoBLERadio struct {
	dev       goble.Device
	timeout   time.Duration
	queueSize int
	log       logging.LeveledLogger
}

// NewGoBLERadio wraps a go-ble device.
func NewGoBLERadio(config GoBLEConfig) (*GoBLERadio, error) {
	if config.Device == nil {
		return nil, ErrInvalidArgument
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.WriteQueueSize <= 0 {
		config.WriteQueueSize = DefaultWriteQueueSize
	}

	r := &GoBLERadio{
		dev:       config.Device,
		timeout:   config.WriteTimeout,
		queueSize: config.WriteQueueSize,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("ble-radio")
	}
	return r, nil
}

// Scan implements Radio.
func (r *GoBLERadio) Scan(ctx context.Context, handler func(Advertisement)) error {
	err := r.dev.Scan(ctx, false, func(a goble.Advertisement) {
		addr, err := ParseAddress(a.Addr().String())
		if err != nil {
			return
		}
		handler(Advertisement{
			Address:     addr,
			LocalName:   a.LocalName(),
			Services:    a.Services(),
			RSSI:        a.RSSI(),
			Connectable: a.Connectable(),
		})
	})
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Dial implements Radio.
func (r *GoBLERadio) Dial(ctx context.Context, addr Address) (Conn, error) {
	client, err := r.dev.Dial(ctx, goble.NewAddr(strings.ToLower(addr.MAC())))
	if err != nil {
		return nil, fmt.Errorf("ble: dial %s: %w", addr, err)
	}

	c := &goBLEConn{
		client:  client,
		addr:    addr,
		timeout: r.timeout,
		chars:   make(map[uint16]*goble.Characteristic),
		writes:  make(chan writeRequest, r.queueSize),
		closed:  make(chan struct{}),
		log:     r.log,
	}
	c.wg.Add(1)
	go c.writeLoop()
	return c, nil
}

// Close stops the HCI device.
func (r *GoBLERadio) Close() error {
	return r.dev.Stop()
}

type writeRequest struct {
	char *goble.Characteristic
	data []byte
	done func(error)
}

// goBLEConn adapts a go-ble client. Writes are serialized through one
// goroutine since the ATT bearer handles a single request at a time.
type goBLEConn struct {
	client  goble.Client
	addr    Address
	timeout time.Duration

	mu    sync.Mutex
	chars map[uint16]*goble.Characteristic // by value handle

	writes    chan writeRequest
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	log logging.LeveledLogger
}

func (c *goBLEConn) Address() Address { return c.addr }

func (c *goBLEConn) Discover(ctx context.Context, service UUID) (*DiscoveredData, error) {
	services, err := c.client.DiscoverServices([]UUID{service})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	var svc *goble.Service
	for _, s := range services {
		if s.UUID.Equal(service) {
			svc = s
			break
		}
	}
	if svc == nil {
		return nil, ErrServiceNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chars, err := c.client.DiscoverCharacteristics(nil, svc)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}

	data := &DiscoveredData{Service: service}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range chars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		descs, err := c.client.DiscoverDescriptors(nil, ch)
		if err != nil {
			return nil, fmt.Errorf("ble: discover descriptors: %w", err)
		}

		dc := Characteristic{
			UUID:        ch.UUID,
			Handle:      ch.Handle,
			ValueHandle: ch.ValueHandle,
			Properties:  Property(ch.Property),
		}
		for _, d := range descs {
			dc.Descriptors = append(dc.Descriptors, Descriptor{UUID: d.UUID, Handle: d.Handle})
		}
		data.Characteristics = append(data.Characteristics, dc)
		c.chars[ch.ValueHandle] = ch
	}
	return data, nil
}

func (c *goBLEConn) WriteAsync(handle uint16, data []byte, done func(error)) error {
	c.mu.Lock()
	ch := c.chars[handle]
	c.mu.Unlock()
	if ch == nil {
		return ErrMissingCharacteristic
	}

	select {
	case <-c.closed:
		return ErrNotConnected
	default:
	}

	select {
	case c.writes <- writeRequest{char: ch, data: data, done: done}:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

func (c *goBLEConn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.writes:
			err := c.write(req.char, req.data)
			if req.done != nil {
				req.done(err)
			}
		case <-c.closed:
			return
		}
	}
}

func (c *goBLEConn) write(ch *goble.Characteristic, data []byte) error {
	d := deadline.New()
	d.Set(time.Now().Add(c.timeout))

	result := make(chan error, 1)
	go func() {
		result <- c.client.WriteCharacteristic(ch, data, false)
	}()

	select {
	case err := <-result:
		return err
	case <-d.Done():
		if c.log != nil {
			c.log.Warnf("GATT write to %s timed out", c.addr)
		}
		return ErrWriteTimeout
	case <-c.closed:
		return ErrNotConnected
	}
}

func (c *goBLEConn) Subscribe(valueHandle, cccHandle uint16, notify func([]byte)) error {
	c.mu.Lock()
	ch := c.chars[valueHandle]
	c.mu.Unlock()
	if ch == nil {
		return ErrMissingCharacteristic
	}
	if ch.CCCD == nil || ch.CCCD.Handle != cccHandle {
		return ErrMissingDescriptor
	}
	return c.client.Subscribe(ch, false, func(b []byte) { notify(b) })
}

func (c *goBLEConn) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

func (c *goBLEConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.client.CancelConnection()
		c.wg.Wait()
	})
	return err
}
