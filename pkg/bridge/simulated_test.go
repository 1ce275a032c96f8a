package bridge

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/backkem/matterbridge/pkg/clusters/humidity"
	"github.com/backkem/matterbridge/pkg/clusters/onoff"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/pion/transport/v3/test"
)

type updateRecord struct {
	cluster datamodel.ClusterID
	attr    datamodel.AttributeID
	data    []byte
}

func recordUpdates(out *[]updateRecord) UpdateFunc {
	return func(p DataProvider, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) {
		*out = append(*out, updateRecord{cluster, attr, data})
	}
}

func TestSimulatedSensor_Tick(t *testing.T) {
	var updates []updateRecord
	s := NewSimulatedSensor(SimulatedConfig{}, DeviceTypeHumiditySensor, recordUpdates(&updates))

	for i := 0; i < DefaultMaxHumidity-DefaultHumidity; i++ {
		s.Tick()
	}
	if s.Value() != DefaultMaxHumidity {
		t.Fatalf("Value() = %d, want %d", s.Value(), DefaultMaxHumidity)
	}
	s.Tick()
	if s.Value() != DefaultMaxHumidity-1 {
		t.Errorf("Value() after max = %d, want %d", s.Value(), DefaultMaxHumidity-1)
	}

	last := updates[len(updates)-1]
	if last.cluster != humidity.ClusterID || last.attr != humidity.AttrMeasuredValue {
		t.Errorf("update path = 0x%04X/0x%04X, want humidity MeasuredValue", last.cluster, last.attr)
	}
	if got := binary.LittleEndian.Uint16(last.data); got != DefaultMaxHumidity-1 {
		t.Errorf("update value = %d, want %d", got, DefaultMaxHumidity-1)
	}

	if err := s.UpdateState(humidity.ClusterID, humidity.AttrMeasuredValue, []byte{0, 0}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("UpdateState() = %v, want ErrUnsupported", err)
	}

	s.Close()
	s.Tick()
	if len(updates) != DefaultMaxHumidity-DefaultHumidity+1 {
		t.Errorf("updates = %d after Close, want no new updates", len(updates))
	}
}

func TestSimulatedOnOffLight_UpdateState(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := runQueue(t)
	defer r.close()

	var updates []updateRecord
	p := NewSimulatedOnOffLight(SimulatedConfig{Queue: r.q}, recordUpdates(&updates))

	var err error
	r.do(func() {
		if err = p.Init(); err == nil {
			err = p.UpdateState(onoff.ClusterID, onoff.AttrOnOff, []byte{1})
		}
	})
	if err != nil {
		t.Fatalf("UpdateState() failed: %v", err)
	}

	var got []updateRecord
	r.do(func() { got = append(got, updates...) })
	if len(got) != 1 || got[0].data[0] != 1 || got[0].attr != onoff.AttrOnOff {
		t.Errorf("updates = %+v, want single OnOff=1 echo", got)
	}

	r.do(func() { err = p.UpdateState(onoff.ClusterID, onoff.AttrOnOff, []byte{1, 1}) })
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("UpdateState(2 bytes) = %v, want ErrInvalidArgument", err)
	}

	// Echoes already queued are dropped once the provider is closed.
	r.do(func() {
		p.UpdateState(onoff.ClusterID, onoff.AttrOnOff, []byte{0})
		p.Close()
	})
	r.do(func() { got = append(got[:0], updates...) })
	if len(got) != 1 {
		t.Errorf("updates after Close = %d, want 1", len(got))
	}
}

func TestSimulatedOnOffLight_Toggle(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := runQueue(t)
	defer r.close()

	var updates []updateRecord
	p := NewSimulatedOnOffLight(SimulatedConfig{Queue: r.q, Interval: 5 * time.Millisecond}, recordUpdates(&updates))
	r.do(func() { p.Init() })

	deadline := time.Now().Add(2 * time.Second)
	for n := 0; n < 2; {
		if time.Now().After(deadline) {
			t.Fatal("light did not toggle")
		}
		time.Sleep(5 * time.Millisecond)
		r.do(func() { n = len(updates) })
	}
	r.do(func() { p.Close() })

	r.do(func() {
		if updates[0].data[0] == updates[1].data[0] {
			t.Errorf("consecutive toggles = %v, %v, want different values", updates[0].data, updates[1].data)
		}
	})
}
