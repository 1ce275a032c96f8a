package bridge

import (
	"encoding/binary"

	"github.com/backkem/matterbridge/pkg/clusters/humidity"
	"github.com/backkem/matterbridge/pkg/clusters/temperature"
	"github.com/backkem/matterbridge/pkg/datamodel"
)

// Sensor defaults.
const (
	DefaultTemperature    = 20
	DefaultMinTemperature = -10
	DefaultMaxTemperature = 40
	DefaultHumidity       = 50
	DefaultMinHumidity    = 0
	DefaultMaxHumidity    = 100
)

var temperatureSensorOps = &deviceOps{
	endpointType: commonClusters(temperature.Metadata()),
	deviceTypes:  bridgedDeviceTypes(DeviceTypeTemperatureSensor, 2),
	init: func(d *Device) {
		d.sensor = sensorValues{DefaultTemperature, DefaultMinTemperature, DefaultMaxTemperature}
	},
	read: func(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, buf []byte) (int, error) {
		if cluster != temperature.ClusterID {
			return 0, ErrInvalidArgument
		}
		switch attr {
		case temperature.AttrMeasuredValue:
			return putUint16(buf, uint16(int16(d.sensor.measured)))
		case temperature.AttrMinMeasuredValue:
			return putUint16(buf, uint16(int16(d.sensor.min)))
		case temperature.AttrMaxMeasuredValue:
			return putUint16(buf, uint16(int16(d.sensor.max)))
		}
		return readGlobal(attr, temperature.ClusterRevision, temperature.FeatureMap, buf)
	},
	change: func(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
		if cluster != temperature.ClusterID || attr != temperature.AttrMeasuredValue || len(data) != 2 {
			return ErrInvalidArgument
		}
		d.sensor.measured = int32(int16(binary.LittleEndian.Uint16(data)))
		return nil
	},
}

var humiditySensorOps = &deviceOps{
	endpointType: commonClusters(humidity.Metadata()),
	deviceTypes:  bridgedDeviceTypes(DeviceTypeHumiditySensor, 2),
	init: func(d *Device) {
		d.sensor = sensorValues{DefaultHumidity, DefaultMinHumidity, DefaultMaxHumidity}
	},
	read: func(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, buf []byte) (int, error) {
		if cluster != humidity.ClusterID {
			return 0, ErrInvalidArgument
		}
		switch attr {
		case humidity.AttrMeasuredValue:
			return putUint16(buf, uint16(d.sensor.measured))
		case humidity.AttrMinMeasuredValue:
			return putUint16(buf, uint16(d.sensor.min))
		case humidity.AttrMaxMeasuredValue:
			return putUint16(buf, uint16(d.sensor.max))
		}
		return readGlobal(attr, humidity.ClusterRevision, humidity.FeatureMap, buf)
	},
	change: func(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
		if cluster != humidity.ClusterID || attr != humidity.AttrMeasuredValue || len(data) != 2 {
			return ErrInvalidArgument
		}
		d.sensor.measured = int32(binary.LittleEndian.Uint16(data))
		return nil
	},
}
