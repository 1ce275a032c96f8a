package bridge

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/matterbridge/pkg/clusters/bridgedbasic"
	"github.com/backkem/matterbridge/pkg/clusters/descriptor"
	"github.com/backkem/matterbridge/pkg/datamodel"
)

// DeviceType identifies the kind of a bridged device. Values are the
// device type IDs of the data model.
type DeviceType uint16

// Supported device types.
const (
	DeviceTypeOnOffLight        DeviceType = 0x0100
	DeviceTypeTemperatureSensor DeviceType = 0x0302
	DeviceTypeHumiditySensor    DeviceType = 0x0307
)

// NodeLabelSize is the node label buffer size including the terminator
// slot. Labels must be shorter than this.
const NodeLabelSize = bridgedbasic.MaxNodeLabelLength + 1

// String returns the device type name.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeOnOffLight:
		return "OnOffLight"
	case DeviceTypeTemperatureSensor:
		return "TemperatureSensor"
	case DeviceTypeHumiditySensor:
		return "HumiditySensor"
	default:
		return fmt.Sprintf("DeviceType(0x%04X)", uint16(t))
	}
}

// Valid reports whether the device type is supported.
func (t DeviceType) Valid() bool {
	_, ok := deviceTable[t]
	return ok
}

// DeviceTypes returns all supported device types.
func DeviceTypes() []DeviceType {
	return []DeviceType{DeviceTypeOnOffLight, DeviceTypeTemperatureSensor, DeviceTypeHumiditySensor}
}

// ParseDeviceType accepts a device type name (case-insensitive) or its
// numeric ID in decimal or 0x-prefixed hex.
func ParseDeviceType(s string) (DeviceType, error) {
	for _, t := range DeviceTypes() {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || !DeviceType(v).Valid() {
		return 0, ErrInvalidArgument
	}
	return DeviceType(v), nil
}

// deviceOps is the per-type behavior of a Device.
type deviceOps struct {
	endpointType *datamodel.EndpointType
	deviceTypes  []datamodel.DeviceTypeEntry
	init         func(d *Device)
	read         func(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, buf []byte) (int, error)
	write        func(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error
	change       func(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error
	command      func(d *Device, cluster datamodel.ClusterID, cmd datamodel.CommandID) (datamodel.AttributeID, []byte, error)
}

var deviceTable = map[DeviceType]*deviceOps{
	DeviceTypeOnOffLight:        onOffLightOps,
	DeviceTypeTemperatureSensor: temperatureSensorOps,
	DeviceTypeHumiditySensor:    humiditySensorOps,
}

// bridgedDeviceTypes returns the device type list of an endpoint: the
// functional type followed by BridgedNode.
func bridgedDeviceTypes(t DeviceType, revision uint8) []datamodel.DeviceTypeEntry {
	return []datamodel.DeviceTypeEntry{
		{DeviceType: datamodel.DeviceTypeID(t), Revision: revision},
		{DeviceType: datamodel.DeviceTypeBridgedNode, Revision: 1},
	}
}

// commonClusters are present on every bridged endpoint.
func commonClusters(clusters ...datamodel.ClusterMetadata) *datamodel.EndpointType {
	return &datamodel.EndpointType{
		Clusters: append(clusters, descriptor.Metadata(), bridgedbasic.Metadata()),
	}
}

// Device is the data-model surface of one bridged device. The set of
// kinds is closed; per-kind behavior lives in an operations table.
//
// A Device is owned by the Manager once added and must only be used on the
// work queue.
type Device struct {
	typ       DeviceType
	ops       *deviceOps
	label     string
	uniqueID  string
	endpoint  datamodel.EndpointID
	reachable bool
	versions  []datamodel.DataVersion

	// Variant state.
	onOff  bool
	sensor sensorValues
}

type sensorValues struct {
	measured int32
	min      int32
	max      int32
}

// NewDevice creates a device of the given type. Labels longer than
// bridgedbasic.MaxNodeLabelLength are rejected with ErrInvalidStringLength.
func NewDevice(typ DeviceType, label string) (*Device, error) {
	ops, ok := deviceTable[typ]
	if !ok {
		return nil, ErrInvalidArgument
	}
	if len(label) >= NodeLabelSize {
		return nil, ErrInvalidStringLength
	}

	d := &Device{
		typ:       typ,
		ops:       ops,
		label:     label,
		endpoint:  datamodel.InvalidEndpointID,
		reachable: true,
		versions:  datamodel.NewDataVersions(len(ops.endpointType.Clusters)),
	}
	if ops.init != nil {
		ops.init(d)
	}
	return d, nil
}

// Type returns the device type.
func (d *Device) Type() DeviceType { return d.typ }

// NodeLabel returns the node label.
func (d *Device) NodeLabel() string { return d.label }

// EndpointID returns the assigned endpoint, or InvalidEndpointID before
// the device is added.
func (d *Device) EndpointID() datamodel.EndpointID { return d.endpoint }

// UniqueID returns the BridgedDeviceBasicInformation UniqueID.
func (d *Device) UniqueID() string { return d.uniqueID }

// SetUniqueID sets the UniqueID attribute.
func (d *Device) SetUniqueID(id string) error {
	if len(id) > bridgedbasic.MaxUniqueIDLength {
		return ErrInvalidStringLength
	}
	d.uniqueID = id
	return nil
}

// Reachable returns the Reachable attribute.
func (d *Device) Reachable() bool { return d.reachable }

// OnOff returns the on/off state of a light. Other kinds return false.
func (d *Device) OnOff() bool { return d.onOff }

// MeasuredValue returns the current measurement of a sensor.
func (d *Device) MeasuredValue() int32 { return d.sensor.measured }

// EndpointType returns the cluster composition of the device's endpoint.
func (d *Device) EndpointType() *datamodel.EndpointType { return d.ops.endpointType }

// DeviceTypeList returns the device type list of the device's endpoint.
func (d *Device) DeviceTypeList() []datamodel.DeviceTypeEntry { return d.ops.deviceTypes }

// DataVersions returns the per-cluster data versions, in endpoint type
// cluster order.
func (d *Device) DataVersions() []datamodel.DataVersion { return d.versions }

// HandleRead writes the raw attribute value into buf.
func (d *Device) HandleRead(cluster datamodel.ClusterID, attr datamodel.AttributeID, buf []byte) (int, error) {
	switch cluster {
	case bridgedbasic.ClusterID:
		return d.readBasicInformation(attr, buf)
	case descriptor.ClusterID:
		return readGlobal(attr, descriptor.ClusterRevision, descriptor.FeatureMap, buf)
	}
	return d.ops.read(d, cluster, attr, buf)
}

// HandleWrite applies a value written through the data model.
func (d *Device) HandleWrite(cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	if d.ops.write == nil {
		return ErrUnsupported
	}
	return d.ops.write(d, cluster, attr, data)
}

// HandleAttributeChange applies a value reported by the data provider.
// It returns an error when the change does not apply to this device.
func (d *Device) HandleAttributeChange(cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	if cluster == bridgedbasic.ClusterID && attr == bridgedbasic.AttrReachable {
		if len(data) != 1 {
			return ErrInvalidArgument
		}
		d.reachable = data[0] != 0
		return nil
	}
	return d.ops.change(d, cluster, attr, data)
}

// HandleCommand computes the attribute write a command results in.
func (d *Device) HandleCommand(cluster datamodel.ClusterID, cmd datamodel.CommandID) (datamodel.AttributeID, []byte, error) {
	if d.ops.command == nil {
		return 0, nil, ErrInvalidArgument
	}
	return d.ops.command(d, cluster, cmd)
}

func (d *Device) readBasicInformation(attr datamodel.AttributeID, buf []byte) (int, error) {
	switch attr {
	case bridgedbasic.AttrNodeLabel:
		return putCharString(buf, d.label)
	case bridgedbasic.AttrReachable:
		return putBool(buf, d.reachable)
	case bridgedbasic.AttrUniqueID:
		return putCharString(buf, d.uniqueID)
	}
	return readGlobal(attr, bridgedbasic.ClusterRevision, bridgedbasic.FeatureMap, buf)
}

// readGlobal serves ClusterRevision and FeatureMap.
func readGlobal(attr datamodel.AttributeID, revision uint16, featureMap uint32, buf []byte) (int, error) {
	switch attr {
	case datamodel.GlobalAttrClusterRevision:
		return putUint16(buf, revision)
	case datamodel.GlobalAttrFeatureMap:
		return putUint32(buf, featureMap)
	}
	return 0, ErrInvalidArgument
}

func putBool(buf []byte, v bool) (int, error) {
	if len(buf) < 1 {
		return 0, ErrBufferTooSmall
	}
	buf[0] = 0
	if v {
		buf[0] = 1
	}
	return 1, nil
}

func putUint16(buf []byte, v uint16) (int, error) {
	if len(buf) < 2 {
		return 0, ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint16(buf, v)
	return 2, nil
}

func putUint32(buf []byte, v uint32) (int, error) {
	if len(buf) < 4 {
		return 0, ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint32(buf, v)
	return 4, nil
}

// putCharString writes a length-prefixed string.
func putCharString(buf []byte, s string) (int, error) {
	if len(buf) < 1+len(s) {
		return 0, ErrBufferTooSmall
	}
	buf[0] = byte(len(s))
	copy(buf[1:], s)
	return 1 + len(s), nil
}
