// Package bridgedbasic describes the Bridged Device Basic Information
// Cluster (0x0039).
//
// The cluster carries identification and reachability of a device exposed
// through a bridge.
package bridgedbasic

import "github.com/backkem/matterbridge/pkg/datamodel"

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0039
	ClusterRevision uint16              = 1
	FeatureMap      uint32              = 0
)

// Attribute IDs.
const (
	AttrNodeLabel datamodel.AttributeID = 0x0005
	AttrReachable datamodel.AttributeID = 0x0011
	AttrUniqueID  datamodel.AttributeID = 0x0012
)

// Attribute size limits.
const (
	MaxNodeLabelLength = 32
	MaxUniqueIDLength  = 32
)

// Metadata returns the attribute surface of the cluster.
func Metadata() datamodel.ClusterMetadata {
	return datamodel.ClusterMetadata{
		ID: ClusterID,
		Attributes: []datamodel.AttributeMetadata{
			{ID: AttrNodeLabel, Type: datamodel.AttributeTypeCharString, Size: MaxNodeLabelLength + 1},
			{ID: AttrReachable, Type: datamodel.AttributeTypeBoolean, Size: 1},
			{ID: AttrUniqueID, Type: datamodel.AttributeTypeCharString, Size: MaxUniqueIDLength + 1},
			{ID: datamodel.GlobalAttrFeatureMap, Type: datamodel.AttributeTypeBitmap32, Size: 4},
			{ID: datamodel.GlobalAttrClusterRevision, Type: datamodel.AttributeTypeInt16u, Size: 2},
		},
	}
}
