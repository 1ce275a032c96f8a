package datamodel

// AttributeType is the storage type of an attribute value in raw buffers.
type AttributeType uint8

const (
	AttributeTypeBoolean AttributeType = iota
	AttributeTypeInt8u
	AttributeTypeInt16u
	AttributeTypeInt16s
	AttributeTypeInt32u
	AttributeTypeBitmap32
	AttributeTypeCharString
	AttributeTypeArray
)

// String returns the name of the attribute type.
func (t AttributeType) String() string {
	switch t {
	case AttributeTypeBoolean:
		return "boolean"
	case AttributeTypeInt8u:
		return "int8u"
	case AttributeTypeInt16u:
		return "int16u"
	case AttributeTypeInt16s:
		return "int16s"
	case AttributeTypeInt32u:
		return "int32u"
	case AttributeTypeBitmap32:
		return "bitmap32"
	case AttributeTypeCharString:
		return "char_string"
	case AttributeTypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// AttributeMetadata describes one attribute of a cluster.
type AttributeMetadata struct {
	ID   AttributeID
	Type AttributeType
	// Size is the maximum encoded size in bytes.
	Size     uint16
	Writable bool
}

// ClusterMetadata describes the static attribute and command surface of a cluster.
type ClusterMetadata struct {
	ID               ClusterID
	Attributes       []AttributeMetadata
	AcceptedCommands []CommandID
}

// Attribute returns the metadata for the attribute, or nil if the cluster
// doesn't declare it.
func (c *ClusterMetadata) Attribute(id AttributeID) *AttributeMetadata {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}

// AcceptsCommand returns true if the command is in the accepted command list.
func (c *ClusterMetadata) AcceptsCommand(id CommandID) bool {
	for _, cmd := range c.AcceptedCommands {
		if cmd == id {
			return true
		}
	}
	return false
}

// EndpointType is the cluster composition shared by endpoints of one kind.
// The order of Clusters is also the order of the endpoint's data versions.
type EndpointType struct {
	Clusters []ClusterMetadata
}

// Cluster returns the cluster metadata and its position, or nil and -1.
func (t *EndpointType) Cluster(id ClusterID) (*ClusterMetadata, int) {
	for i := range t.Clusters {
		if t.Clusters[i].ID == id {
			return &t.Clusters[i], i
		}
	}
	return nil, -1
}

// ClusterIDs returns the IDs of all clusters in declaration order.
func (t *EndpointType) ClusterIDs() []ClusterID {
	ids := make([]ClusterID, len(t.Clusters))
	for i, c := range t.Clusters {
		ids[i] = c.ID
	}
	return ids
}

// DeviceTypeEntry is one element of an endpoint's device type list.
type DeviceTypeEntry struct {
	DeviceType DeviceTypeID
	Revision   uint8
}
