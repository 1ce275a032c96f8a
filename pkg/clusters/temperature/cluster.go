// Package temperature describes the Temperature Measurement Cluster (0x0402).
package temperature

import "github.com/backkem/matterbridge/pkg/datamodel"

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0402
	ClusterRevision uint16              = 1
	FeatureMap      uint32              = 0
)

// Attribute IDs. Values are signed 16-bit integers.
const (
	AttrMeasuredValue    datamodel.AttributeID = 0x0000
	AttrMinMeasuredValue datamodel.AttributeID = 0x0001
	AttrMaxMeasuredValue datamodel.AttributeID = 0x0002
)

// Metadata returns the attribute surface of the cluster.
func Metadata() datamodel.ClusterMetadata {
	return datamodel.ClusterMetadata{
		ID: ClusterID,
		Attributes: []datamodel.AttributeMetadata{
			{ID: AttrMeasuredValue, Type: datamodel.AttributeTypeInt16s, Size: 2},
			{ID: AttrMinMeasuredValue, Type: datamodel.AttributeTypeInt16s, Size: 2},
			{ID: AttrMaxMeasuredValue, Type: datamodel.AttributeTypeInt16s, Size: 2},
			{ID: datamodel.GlobalAttrFeatureMap, Type: datamodel.AttributeTypeBitmap32, Size: 4},
			{ID: datamodel.GlobalAttrClusterRevision, Type: datamodel.AttributeTypeInt16u, Size: 2},
		},
	}
}
