package mqtt

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/backkem/matterbridge/pkg/bridge"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/pion/logging"
)

const defaultReadSize = 64

// AttributeSource serves the attributes the mirror publishes.
// *datamodel.Node implements it.
type AttributeSource interface {
	Endpoint(id datamodel.EndpointID) *datamodel.Endpoint
	ReadAttribute(path datamodel.ConcreteAttributePath, buf []byte) (int, datamodel.Status)
}

// AttributeMessage is the payload of an attribute topic.
type AttributeMessage struct {
	Endpoint  datamodel.EndpointID  `json:"endpoint"`
	Cluster   datamodel.ClusterID   `json:"cluster"`
	Attribute datamodel.AttributeID `json:"attribute"`
	Value     any                   `json:"value"`
}

// DeviceInfo is one element of the retained device list.
type DeviceInfo struct {
	Index    int                  `json:"index"`
	Endpoint datamodel.EndpointID `json:"endpoint"`
	Type     string               `json:"type"`
	Label    string               `json:"label"`
	UniqueID string               `json:"uniqueId,omitempty"`
}

// MirrorConfig holds configuration for a Mirror.
type MirrorConfig struct {
	// Publisher sends the messages. Required.
	Publisher Publisher

	// Source is read for changed values. Required.
	Source AttributeSource

	// Topics is the topic layout. Default prefix: "matterbridge".
	Topics Topics

	// LoggerFactory for MQTT logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Mirror publishes attribute changes and the bridged device list. It is
// registered as a node change listener and as a bridge observer, and
// must be used on the work queue.
type Mirror struct {
	bridge.BaseObserver

	pub     Publisher
	source  AttributeSource
	topics  Topics
	devices map[int]DeviceInfo

	log logging.LeveledLogger
}

// NewMirror creates a mirror.
func NewMirror(config MirrorConfig) (*Mirror, error) {
	if config.Publisher == nil || config.Source == nil {
		return nil, ErrPublishFailed
	}
	if config.Topics.Prefix == "" {
		config.Topics.Prefix = DefaultPrefix
	}
	m := &Mirror{
		pub:     config.Publisher,
		source:  config.Source,
		topics:  config.Topics,
		devices: make(map[int]DeviceInfo),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("mqtt")
	}
	return m, nil
}

// OnAttributeChanged implements datamodel.AttributeChangeListener.
func (m *Mirror) OnAttributeChanged(path datamodel.ConcreteAttributePath) {
	ep := m.source.Endpoint(path.Endpoint)
	if ep == nil {
		return
	}
	typ := datamodel.AttributeTypeArray
	size := defaultReadSize
	if cluster, _ := ep.Type().Cluster(path.Cluster); cluster != nil {
		if attr := cluster.Attribute(path.Attribute); attr != nil {
			typ = attr.Type
			size = int(attr.Size)
		}
	}

	buf := make([]byte, size)
	n, status := m.source.ReadAttribute(path, buf)
	if status != datamodel.StatusSuccess {
		if m.log != nil {
			m.log.Debugf("Skipping %s: read returned %s", m.topics.Attribute(path), status)
		}
		return
	}

	payload, err := json.Marshal(AttributeMessage{
		Endpoint:  path.Endpoint,
		Cluster:   path.Cluster,
		Attribute: path.Attribute,
		Value:     decodeValue(typ, buf[:n]),
	})
	if err != nil {
		return
	}
	m.publish(m.topics.Attribute(path), payload, true)
}

// DeviceAdded implements bridge.Observer.
func (m *Mirror) DeviceAdded(index int, dev *bridge.Device) {
	m.devices[index] = DeviceInfo{
		Index:    index,
		Endpoint: dev.EndpointID(),
		Type:     dev.Type().String(),
		Label:    dev.NodeLabel(),
		UniqueID: dev.UniqueID(),
	}
	m.publishDevices()
}

// DeviceRemoved implements bridge.Observer.
func (m *Mirror) DeviceRemoved(index int, dev *bridge.Device) {
	delete(m.devices, index)
	m.publishDevices()
}

// Devices returns the published device list in index order.
func (m *Mirror) Devices() []DeviceInfo {
	list := make([]DeviceInfo, 0, len(m.devices))
	for _, d := range m.devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	return list
}

func (m *Mirror) publishDevices() {
	payload, err := json.Marshal(m.Devices())
	if err != nil {
		return
	}
	m.publish(m.topics.Devices(), payload, true)
}

func (m *Mirror) publish(topic string, payload []byte, retain bool) {
	if err := m.pub.Publish(topic, payload, retain); err != nil && m.log != nil {
		m.log.Warnf("Publish to %s failed: %v", topic, err)
	}
}

// decodeValue turns a raw attribute buffer into a JSON-friendly value.
// Values that do not fit their type are published as hex.
func decodeValue(typ datamodel.AttributeType, data []byte) any {
	switch {
	case typ == datamodel.AttributeTypeBoolean && len(data) == 1:
		return data[0] != 0
	case typ == datamodel.AttributeTypeInt8u && len(data) == 1:
		return data[0]
	case typ == datamodel.AttributeTypeInt16u && len(data) == 2:
		return binary.LittleEndian.Uint16(data)
	case typ == datamodel.AttributeTypeInt16s && len(data) == 2:
		return int16(binary.LittleEndian.Uint16(data))
	case (typ == datamodel.AttributeTypeInt32u || typ == datamodel.AttributeTypeBitmap32) && len(data) == 4:
		return binary.LittleEndian.Uint32(data)
	case typ == datamodel.AttributeTypeCharString && len(data) >= 1 && int(data[0]) <= len(data)-1:
		return string(data[1 : 1+data[0]])
	}
	return hex.EncodeToString(data)
}

var (
	_ datamodel.AttributeChangeListener = (*Mirror)(nil)
	_ bridge.Observer                   = (*Mirror)(nil)
	_ AttributeSource                   = (*datamodel.Node)(nil)
)
