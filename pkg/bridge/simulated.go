package bridge

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/backkem/matterbridge/pkg/clusters/humidity"
	"github.com/backkem/matterbridge/pkg/clusters/onoff"
	"github.com/backkem/matterbridge/pkg/clusters/temperature"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/backkem/matterbridge/pkg/workqueue"
	"github.com/pion/logging"
)

// SimulatedConfig holds configuration for simulated providers.
type SimulatedConfig struct {
	// Queue receives generated updates. Required.
	Queue *workqueue.Queue

	// Interval between generated values. Zero disables generation.
	Interval time.Duration

	// LoggerFactory for provider logging (optional).
	LoggerFactory logging.LoggerFactory
}

// SimulatedProviders returns factories for every supported device type.
func SimulatedProviders(config SimulatedConfig) map[DeviceType]ProviderFactory {
	return map[DeviceType]ProviderFactory{
		DeviceTypeOnOffLight: func(update UpdateFunc) (DataProvider, error) {
			return NewSimulatedOnOffLight(config, update), nil
		},
		DeviceTypeTemperatureSensor: func(update UpdateFunc) (DataProvider, error) {
			return NewSimulatedSensor(config, DeviceTypeTemperatureSensor, update), nil
		},
		DeviceTypeHumiditySensor: func(update UpdateFunc) (DataProvider, error) {
			return NewSimulatedSensor(config, DeviceTypeHumiditySensor, update), nil
		},
	}
}

// ticker runs fn on the queue every interval until stopped.
type ticker struct {
	queue    *workqueue.Queue
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func newTicker(queue *workqueue.Queue, interval time.Duration) *ticker {
	return &ticker{queue: queue, interval: interval, stop: make(chan struct{})}
}

func (t *ticker) start(fn func()) {
	if t.interval <= 0 || t.queue == nil {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		tk := time.NewTicker(t.interval)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				if err := t.queue.Post(fn); err != nil {
					return
				}
			case <-t.stop:
				return
			}
		}
	}()
}

func (t *ticker) close() {
	t.once.Do(func() { close(t.stop) })
	t.wg.Wait()
}

// SimulatedOnOffLight is an in-memory light. Written values are echoed
// back as backend updates; with an interval set it also toggles itself.
type SimulatedOnOffLight struct {
	queue  *workqueue.Queue
	update UpdateFunc
	ticker *ticker
	onOff  bool
	closed bool

	log logging.LeveledLogger
}

// NewSimulatedOnOffLight creates a simulated light.
func NewSimulatedOnOffLight(config SimulatedConfig, update UpdateFunc) *SimulatedOnOffLight {
	p := &SimulatedOnOffLight{
		queue:  config.Queue,
		update: update,
		ticker: newTicker(config.Queue, config.Interval),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("sim-light")
	}
	return p
}

// Init implements DataProvider.
func (p *SimulatedOnOffLight) Init() error {
	p.ticker.start(func() {
		if p.closed {
			return
		}
		p.onOff = !p.onOff
		p.notify()
	})
	return nil
}

// UpdateState implements DataProvider.
func (p *SimulatedOnOffLight) UpdateState(cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	if cluster != onoff.ClusterID || attr != onoff.AttrOnOff || len(data) != 1 {
		return ErrInvalidArgument
	}
	if p.log != nil {
		p.log.Debugf("Updating state, cluster ID: %d, attribute ID: %d", cluster, attr)
	}
	p.onOff = data[0] != 0
	return p.queue.Post(func() {
		if !p.closed {
			p.notify()
		}
	})
}

func (p *SimulatedOnOffLight) notify() {
	if p.update == nil {
		return
	}
	var b byte
	if p.onOff {
		b = 1
	}
	p.update(p, onoff.ClusterID, onoff.AttrOnOff, []byte{b})
}

// Close stops value generation.
func (p *SimulatedOnOffLight) Close() error {
	p.closed = true
	p.ticker.close()
	return nil
}

// SimulatedSensor generates measurements that sweep between the sensor's
// limits in fixed steps.
type SimulatedSensor struct {
	typ     DeviceType
	cluster datamodel.ClusterID
	update  UpdateFunc
	ticker  *ticker
	value   int32
	min     int32
	max     int32
	step    int32
	closed  bool
}

// NewSimulatedSensor creates a temperature or humidity sensor.
func NewSimulatedSensor(config SimulatedConfig, typ DeviceType, update UpdateFunc) *SimulatedSensor {
	p := &SimulatedSensor{
		typ:    typ,
		update: update,
		ticker: newTicker(config.Queue, config.Interval),
		step:   1,
	}
	switch typ {
	case DeviceTypeHumiditySensor:
		p.cluster = humidity.ClusterID
		p.value, p.min, p.max = DefaultHumidity, DefaultMinHumidity, DefaultMaxHumidity
	default:
		p.cluster = temperature.ClusterID
		p.value, p.min, p.max = DefaultTemperature, DefaultMinTemperature, DefaultMaxTemperature
	}
	return p
}

// Init implements DataProvider.
func (p *SimulatedSensor) Init() error {
	p.ticker.start(p.Tick)
	return nil
}

// Tick advances the measurement by one step and reports it.
func (p *SimulatedSensor) Tick() {
	if p.closed {
		return
	}
	next := p.value + p.step
	if next > p.max || next < p.min {
		p.step = -p.step
		next = p.value + p.step
	}
	p.value = next

	if p.update != nil {
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(int16(p.value)))
		// Measured value shares attribute ID 0 in both clusters.
		p.update(p, p.cluster, temperature.AttrMeasuredValue, buf)
	}
}

// Value returns the last generated measurement.
func (p *SimulatedSensor) Value() int32 { return p.value }

// UpdateState implements DataProvider. Sensors accept no writes.
func (p *SimulatedSensor) UpdateState(cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	return ErrUnsupported
}

// Close stops value generation.
func (p *SimulatedSensor) Close() error {
	p.closed = true
	p.ticker.close()
	return nil
}
