// Package basic describes the Basic Information Cluster (0x0028).
//
// The cluster is mandatory on the root endpoint and identifies the bridge
// itself. Bridged devices carry Bridged Device Basic Information instead.
package basic

import "github.com/backkem/matterbridge/pkg/datamodel"

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0028
	ClusterRevision uint16              = 3
	FeatureMap      uint32              = 0
)

// Attribute IDs.
const (
	AttrDataModelRevision  datamodel.AttributeID = 0x0000
	AttrVendorName         datamodel.AttributeID = 0x0001
	AttrVendorID           datamodel.AttributeID = 0x0002
	AttrProductName        datamodel.AttributeID = 0x0003
	AttrProductID          datamodel.AttributeID = 0x0004
	AttrNodeLabel          datamodel.AttributeID = 0x0005
	AttrSoftwareVersion    datamodel.AttributeID = 0x0009
	AttrSoftwareVersionStr datamodel.AttributeID = 0x000A
	AttrUniqueID           datamodel.AttributeID = 0x0012
)

// String attribute limits.
const (
	MaxVendorNameLength      = 32
	MaxProductNameLength     = 32
	MaxNodeLabelLength       = 32
	MaxSoftwareVersionLength = 64
	MaxUniqueIDLength        = 32
)

// Metadata returns the attribute surface of the cluster.
func Metadata() datamodel.ClusterMetadata {
	return datamodel.ClusterMetadata{
		ID: ClusterID,
		Attributes: []datamodel.AttributeMetadata{
			{ID: AttrDataModelRevision, Type: datamodel.AttributeTypeInt16u, Size: 2},
			{ID: AttrVendorName, Type: datamodel.AttributeTypeCharString, Size: MaxVendorNameLength + 1},
			{ID: AttrVendorID, Type: datamodel.AttributeTypeInt16u, Size: 2},
			{ID: AttrProductName, Type: datamodel.AttributeTypeCharString, Size: MaxProductNameLength + 1},
			{ID: AttrProductID, Type: datamodel.AttributeTypeInt16u, Size: 2},
			{ID: AttrNodeLabel, Type: datamodel.AttributeTypeCharString, Size: MaxNodeLabelLength + 1, Writable: true},
			{ID: AttrSoftwareVersion, Type: datamodel.AttributeTypeInt32u, Size: 4},
			{ID: AttrSoftwareVersionStr, Type: datamodel.AttributeTypeCharString, Size: MaxSoftwareVersionLength + 1},
			{ID: AttrUniqueID, Type: datamodel.AttributeTypeCharString, Size: MaxUniqueIDLength + 1},
			{ID: datamodel.GlobalAttrFeatureMap, Type: datamodel.AttributeTypeBitmap32, Size: 4},
			{ID: datamodel.GlobalAttrClusterRevision, Type: datamodel.AttributeTypeInt16u, Size: 2},
		},
	}
}
