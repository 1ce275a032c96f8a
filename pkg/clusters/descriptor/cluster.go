// Package descriptor describes the Descriptor Cluster (0x001D).
//
// Every endpoint carries a Descriptor cluster listing its device types,
// server and client clusters, and child endpoints. The list attributes are
// answered by the node from endpoint composition; bridged devices serve
// only the global attributes.
package descriptor

import "github.com/backkem/matterbridge/pkg/datamodel"

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x001D
	ClusterRevision uint16              = 1
	FeatureMap      uint32              = 0
)

// Attribute IDs.
const (
	AttrDeviceTypeList datamodel.AttributeID = 0x0000
	AttrServerList     datamodel.AttributeID = 0x0001
	AttrClientList     datamodel.AttributeID = 0x0002
	AttrPartsList      datamodel.AttributeID = 0x0003
)

// Metadata returns the attribute surface of the cluster.
func Metadata() datamodel.ClusterMetadata {
	return datamodel.ClusterMetadata{
		ID: ClusterID,
		Attributes: []datamodel.AttributeMetadata{
			{ID: AttrDeviceTypeList, Type: datamodel.AttributeTypeArray, Size: 254},
			{ID: AttrServerList, Type: datamodel.AttributeTypeArray, Size: 254},
			{ID: AttrClientList, Type: datamodel.AttributeTypeArray, Size: 254},
			{ID: AttrPartsList, Type: datamodel.AttributeTypeArray, Size: 254},
			{ID: datamodel.GlobalAttrFeatureMap, Type: datamodel.AttributeTypeBitmap32, Size: 4},
			{ID: datamodel.GlobalAttrClusterRevision, Type: datamodel.AttributeTypeInt16u, Size: 2},
		},
	}
}
