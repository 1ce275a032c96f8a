package bridge

import (
	"github.com/backkem/matterbridge/pkg/clusters/onoff"
	"github.com/backkem/matterbridge/pkg/datamodel"
)

var onOffLightOps = &deviceOps{
	endpointType: commonClusters(onoff.Metadata()),
	deviceTypes:  bridgedDeviceTypes(DeviceTypeOnOffLight, 2),
	read:         onOffLightRead,
	write:        onOffLightWrite,
	change:       onOffLightChange,
	command:      onOffLightCommand,
}

func onOffLightRead(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, buf []byte) (int, error) {
	if cluster != onoff.ClusterID {
		return 0, ErrInvalidArgument
	}
	if attr == onoff.AttrOnOff {
		return putBool(buf, d.onOff)
	}
	return readGlobal(attr, onoff.ClusterRevision, onoff.FeatureMap, buf)
}

func onOffLightWrite(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	if cluster != onoff.ClusterID || attr != onoff.AttrOnOff || len(data) != 1 {
		return ErrInvalidArgument
	}
	d.onOff = data[0] != 0
	return nil
}

func onOffLightChange(d *Device, cluster datamodel.ClusterID, attr datamodel.AttributeID, data []byte) error {
	return onOffLightWrite(d, cluster, attr, data)
}

func onOffLightCommand(d *Device, cluster datamodel.ClusterID, cmd datamodel.CommandID) (datamodel.AttributeID, []byte, error) {
	if cluster != onoff.ClusterID {
		return 0, nil, ErrInvalidArgument
	}
	v, ok := onoff.Apply(cmd, d.onOff)
	if !ok {
		return 0, nil, ErrInvalidArgument
	}
	var b byte
	if v {
		b = 1
	}
	return onoff.AttrOnOff, []byte{b}, nil
}
