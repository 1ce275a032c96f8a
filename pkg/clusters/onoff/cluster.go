// Package onoff describes the On/Off Cluster (0x0006).
//
// The On/Off cluster provides commands and attributes to control
// an on/off state, such as a light bulb or power outlet. Bridged lights
// expose the base cluster without the Lighting feature.
package onoff

import "github.com/backkem/matterbridge/pkg/datamodel"

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0006
	ClusterRevision uint16              = 1
	FeatureMap      uint32              = 0
)

// Attribute IDs.
const (
	AttrOnOff datamodel.AttributeID = 0x0000
)

// Command IDs.
const (
	CmdOff    datamodel.CommandID = 0x00
	CmdOn     datamodel.CommandID = 0x01
	CmdToggle datamodel.CommandID = 0x02
)

// CommandName returns a printable name for an On/Off command.
func CommandName(id datamodel.CommandID) string {
	switch id {
	case CmdOff:
		return "Off"
	case CmdOn:
		return "On"
	case CmdToggle:
		return "Toggle"
	default:
		return "Unknown"
	}
}

// Apply returns the on/off value after running cmd on current.
// ok is false for commands this cluster doesn't accept.
func Apply(cmd datamodel.CommandID, current bool) (value bool, ok bool) {
	switch cmd {
	case CmdOff:
		return false, true
	case CmdOn:
		return true, true
	case CmdToggle:
		return !current, true
	default:
		return current, false
	}
}

// Metadata returns the attribute and command surface of the cluster.
func Metadata() datamodel.ClusterMetadata {
	return datamodel.ClusterMetadata{
		ID: ClusterID,
		Attributes: []datamodel.AttributeMetadata{
			{ID: AttrOnOff, Type: datamodel.AttributeTypeBoolean, Size: 1, Writable: true},
			{ID: datamodel.GlobalAttrFeatureMap, Type: datamodel.AttributeTypeBitmap32, Size: 4},
			{ID: datamodel.GlobalAttrClusterRevision, Type: datamodel.AttributeTypeInt16u, Size: 2},
		},
		AcceptedCommands: []datamodel.CommandID{CmdOff, CmdOn, CmdToggle},
	}
}
