package datamodel

// Global attribute IDs are present on every cluster instance.
const (
	// GlobalAttrClusterRevision (0xFFFD) indicates the cluster revision.
	GlobalAttrClusterRevision AttributeID = 0xFFFD

	// GlobalAttrFeatureMap (0xFFFC) indicates supported optional features.
	GlobalAttrFeatureMap AttributeID = 0xFFFC

	// GlobalAttrAttributeList (0xFFFB) lists all supported attribute IDs.
	GlobalAttrAttributeList AttributeID = 0xFFFB

	// GlobalAttrAcceptedCommandList (0xFFF9) lists accepted command IDs.
	GlobalAttrAcceptedCommandList AttributeID = 0xFFF9

	// GlobalAttrGeneratedCommandList (0xFFF8) lists generated command IDs.
	GlobalAttrGeneratedCommandList AttributeID = 0xFFF8
)

// IsGlobalAttribute returns true if the attribute ID is a global attribute.
func IsGlobalAttribute(id AttributeID) bool {
	return id >= GlobalAttrGeneratedCommandList && id <= GlobalAttrClusterRevision
}

// Device types used by the bridge's fixed endpoints.
const (
	DeviceTypeRootNode    DeviceTypeID = 0x0016
	DeviceTypeAggregator  DeviceTypeID = 0x000E
	DeviceTypeBridgedNode DeviceTypeID = 0x0013
)
