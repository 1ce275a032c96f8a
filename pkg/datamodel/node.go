package datamodel

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// NodeConfig holds configuration for a Node.
type NodeConfig struct {
	// DynamicEndpointCount is the number of dynamic endpoint slots.
	DynamicEndpointCount int
}

// Endpoint is an endpoint registered on a Node.
// Fixed endpoints are added at startup; dynamic endpoints occupy an index
// in the node's dynamic slot array.
type Endpoint struct {
	id          EndpointID
	parent      EndpointID
	typ         *EndpointType
	deviceTypes []DeviceTypeEntry
	versions    []DataVersion
	enabled     bool
	dynamic     bool
}

// ID returns the endpoint ID.
func (e *Endpoint) ID() EndpointID { return e.id }

// Parent returns the parent endpoint ID, or InvalidEndpointID for top-level endpoints.
func (e *Endpoint) Parent() EndpointID { return e.parent }

// Type returns the endpoint's cluster composition.
func (e *Endpoint) Type() *EndpointType { return e.typ }

// DeviceTypes returns the device type list.
func (e *Endpoint) DeviceTypes() []DeviceTypeEntry { return e.deviceTypes }

// Dynamic returns true for endpoints registered with SetDynamicEndpoint.
func (e *Endpoint) Dynamic() bool { return e.dynamic }

// Node is the data-model root holding fixed and dynamic endpoints.
// Reads and writes on dynamic endpoints are served by an AttributeAccess
// handler keyed by dynamic index.
//
// All methods are safe for concurrent use.
type Node struct {
	mu        sync.RWMutex
	fixed     []*Endpoint
	dynamic   []*Endpoint
	access    AttributeAccess
	listeners []AttributeChangeListener
}

// NewNode creates a node with no fixed endpoints.
func NewNode(config NodeConfig) *Node {
	return &Node{
		dynamic: make([]*Endpoint, config.DynamicEndpointCount),
	}
}

// AddFixedEndpoint appends a fixed endpoint. Fixed endpoints are enabled
// when added and keep their registration order as their index.
func (n *Node) AddFixedEndpoint(id EndpointID, typ *EndpointType, deviceTypes []DeviceTypeEntry, parent EndpointID) error {
	if id == InvalidEndpointID {
		return ErrInvalidEndpointID
	}
	if typ == nil {
		return ErrInvalidEndpointType
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lookupLocked(id) != nil {
		return ErrEndpointExists
	}

	n.fixed = append(n.fixed, &Endpoint{
		id:          id,
		parent:      parent,
		typ:         typ,
		deviceTypes: deviceTypes,
		versions:    NewDataVersions(len(typ.Clusters)),
		enabled:     true,
	})
	return nil
}

// FixedEndpointCount returns the number of fixed endpoints.
func (n *Node) FixedEndpointCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.fixed)
}

// DynamicEndpointCount returns the number of dynamic endpoint slots.
func (n *Node) DynamicEndpointCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.dynamic)
}

// EndpointFromIndex returns the endpoint ID at a global index. Fixed
// endpoints come first, followed by dynamic slots. Empty or out-of-range
// indices return InvalidEndpointID.
func (n *Node) EndpointFromIndex(index int) EndpointID {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if index < 0 {
		return InvalidEndpointID
	}
	if index < len(n.fixed) {
		return n.fixed[index].id
	}
	index -= len(n.fixed)
	if index < len(n.dynamic) && n.dynamic[index] != nil {
		return n.dynamic[index].id
	}
	return InvalidEndpointID
}

// SetEndpointEnabled enables or disables an endpoint. Disabled endpoints
// reject all attribute access with StatusUnsupportedEndpoint.
func (n *Node) SetEndpointEnabled(id EndpointID, enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ep := n.lookupLocked(id)
	if ep == nil {
		return ErrEndpointNotFound
	}
	ep.enabled = enabled
	return nil
}

// EndpointEnabled reports whether the endpoint exists and is enabled.
func (n *Node) EndpointEnabled(id EndpointID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ep := n.lookupLocked(id)
	return ep != nil && ep.enabled
}

// SetDynamicEndpoint registers an endpoint in dynamic slot index.
//
// The dataVersions slice is kept by reference: change notifications bump
// the element of the changed cluster, so the caller observes the same
// counters. Returns ErrEndpointExists if any endpoint already uses id.
func (n *Node) SetDynamicEndpoint(index int, id EndpointID, typ *EndpointType, dataVersions []DataVersion, deviceTypes []DeviceTypeEntry, parent EndpointID) error {
	if id == InvalidEndpointID {
		return ErrInvalidEndpointID
	}
	if typ == nil || len(typ.Clusters) == 0 {
		return ErrInvalidEndpointType
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if index < 0 || index >= len(n.dynamic) {
		return ErrInvalidIndex
	}
	if n.lookupLocked(id) != nil {
		return ErrEndpointExists
	}
	if n.dynamic[index] != nil {
		return ErrIndexInUse
	}

	if len(dataVersions) < len(typ.Clusters) {
		dataVersions = append(dataVersions, NewDataVersions(len(typ.Clusters)-len(dataVersions))...)
	}

	n.dynamic[index] = &Endpoint{
		id:          id,
		parent:      parent,
		typ:         typ,
		deviceTypes: deviceTypes,
		versions:    dataVersions,
		enabled:     true,
		dynamic:     true,
	}
	return nil
}

// ClearDynamicEndpoint frees dynamic slot index and returns the ID that
// occupied it.
func (n *Node) ClearDynamicEndpoint(index int) (EndpointID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if index < 0 || index >= len(n.dynamic) {
		return InvalidEndpointID, ErrInvalidIndex
	}
	ep := n.dynamic[index]
	if ep == nil {
		return InvalidEndpointID, ErrEndpointNotFound
	}
	n.dynamic[index] = nil
	return ep.id, nil
}

// DynamicIndexFromEndpoint returns the dynamic slot index of an endpoint.
func (n *Node) DynamicIndexFromEndpoint(id EndpointID) (int, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for i, ep := range n.dynamic {
		if ep != nil && ep.id == id {
			return i, true
		}
	}
	return -1, false
}

// Endpoint returns the endpoint with the given ID, or nil if not found.
func (n *Node) Endpoint(id EndpointID) *Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lookupLocked(id)
}

// Endpoints returns fixed endpoints in index order followed by occupied
// dynamic slots in index order.
func (n *Node) Endpoints() []*Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()

	result := make([]*Endpoint, 0, len(n.fixed)+len(n.dynamic))
	result = append(result, n.fixed...)
	for _, ep := range n.dynamic {
		if ep != nil {
			result = append(result, ep)
		}
	}
	return result
}

// PartsList returns the enabled endpoints whose parent is id.
func (n *Node) PartsList(id EndpointID) []EndpointID {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var parts []EndpointID
	for _, ep := range append(append([]*Endpoint{}, n.fixed...), n.dynamic...) {
		if ep != nil && ep.enabled && ep.parent == id && ep.id != id {
			parts = append(parts, ep.id)
		}
	}
	return parts
}

// DataVersion returns the current data version of a cluster instance.
func (n *Node) DataVersion(path ConcreteClusterPath) (DataVersion, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ep := n.lookupLocked(path.Endpoint)
	if ep == nil {
		return 0, false
	}
	_, i := ep.typ.Cluster(path.Cluster)
	if i < 0 {
		return 0, false
	}
	return ep.versions[i], true
}

// SetAttributeAccess sets the handler for dynamic endpoint access.
func (n *Node) SetAttributeAccess(access AttributeAccess) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.access = access
}

// AddAttributeChangeListener registers a listener for attribute changes.
// Listeners are called in registration order.
func (n *Node) AddAttributeChangeListener(listener AttributeChangeListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, listener)
}

// ReadAttribute reads a raw attribute value into buf.
//
// Descriptor list attributes are answered from endpoint composition on
// every endpoint. All other reads on dynamic endpoints go to the
// AttributeAccess handler.
func (n *Node) ReadAttribute(path ConcreteAttributePath, buf []byte) (int, Status) {
	if path.Cluster == descriptorClusterID && path.Attribute <= descriptorAttrPartsList {
		return n.readDescriptorList(path, buf)
	}

	index, access, status := n.resolve(path.Endpoint, path.Cluster, func(c *ClusterMetadata) Status {
		if !IsGlobalAttribute(path.Attribute) && c.Attribute(path.Attribute) == nil {
			return StatusUnsupportedAttribute
		}
		return StatusSuccess
	})
	if status != StatusSuccess {
		return 0, status
	}

	size, err := access.ReadExternalAttribute(index, path.Cluster, path.Attribute, buf)
	if err != nil {
		return 0, StatusFromError(err)
	}
	return size, StatusSuccess
}

// WriteAttribute writes a raw attribute value.
func (n *Node) WriteAttribute(path ConcreteAttributePath, data []byte) Status {
	index, access, status := n.resolve(path.Endpoint, path.Cluster, func(c *ClusterMetadata) Status {
		attr := c.Attribute(path.Attribute)
		if attr == nil {
			if IsGlobalAttribute(path.Attribute) {
				return StatusUnsupportedWrite
			}
			return StatusUnsupportedAttribute
		}
		if !attr.Writable {
			return StatusUnsupportedWrite
		}
		return StatusSuccess
	})
	if status != StatusSuccess {
		return status
	}

	return StatusFromError(access.WriteExternalAttribute(index, path.Cluster, path.Attribute, data))
}

// InvokeCommand invokes a command without fields.
func (n *Node) InvokeCommand(path ConcreteCommandPath) Status {
	index, access, status := n.resolve(path.Endpoint, path.Cluster, func(c *ClusterMetadata) Status {
		if !c.AcceptsCommand(path.Command) {
			return StatusUnsupportedCommand
		}
		return StatusSuccess
	})
	if status != StatusSuccess {
		return status
	}

	return StatusFromError(access.InvokeExternalCommand(index, path.Cluster, path.Command))
}

// NotifyAttributeChanged increments the cluster data version and informs
// all listeners. Unknown paths are still reported to listeners.
func (n *Node) NotifyAttributeChanged(path ConcreteAttributePath) {
	n.mu.Lock()
	if ep := n.lookupLocked(path.Endpoint); ep != nil {
		if _, i := ep.typ.Cluster(path.Cluster); i >= 0 {
			ep.versions[i]++
		}
	}
	listeners := append([]AttributeChangeListener(nil), n.listeners...)
	n.mu.Unlock()

	for _, l := range listeners {
		l.OnAttributeChanged(path)
	}
}

// resolve validates an endpoint/cluster pair and returns the dynamic index
// and access handler that serve it. The handler is called without the lock
// held so it may call back into the node.
func (n *Node) resolve(id EndpointID, cluster ClusterID, check func(*ClusterMetadata) Status) (int, AttributeAccess, Status) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ep := n.lookupLocked(id)
	if ep == nil || !ep.enabled {
		return -1, nil, StatusUnsupportedEndpoint
	}
	c, _ := ep.typ.Cluster(cluster)
	if c == nil {
		return -1, nil, StatusUnsupportedCluster
	}
	if status := check(c); status != StatusSuccess {
		return -1, nil, status
	}

	// Fixed endpoints keep no attribute storage of their own.
	if !ep.dynamic || n.access == nil {
		return -1, nil, StatusFailure
	}
	for i, d := range n.dynamic {
		if d == ep {
			return i, n.access, StatusSuccess
		}
	}
	return -1, nil, StatusFailure
}

// Descriptor cluster list attributes.
const (
	descriptorClusterID       ClusterID   = 0x001D
	descriptorAttrDeviceTypes AttributeID = 0x0000
	descriptorAttrServerList  AttributeID = 0x0001
	descriptorAttrClientList  AttributeID = 0x0002
	descriptorAttrPartsList   AttributeID = 0x0003
)

// readDescriptorList encodes a descriptor list as a little-endian uint16
// element count followed by the elements: device types as uint32 type and
// uint16 revision, clusters as uint32, endpoints as uint16.
func (n *Node) readDescriptorList(path ConcreteAttributePath, buf []byte) (int, Status) {
	n.mu.RLock()
	ep := n.lookupLocked(path.Endpoint)
	if ep == nil || !ep.enabled {
		n.mu.RUnlock()
		return 0, StatusUnsupportedEndpoint
	}
	if c, _ := ep.typ.Cluster(path.Cluster); c == nil {
		n.mu.RUnlock()
		return 0, StatusUnsupportedCluster
	}
	deviceTypes := ep.deviceTypes
	clusters := ep.typ.ClusterIDs()
	n.mu.RUnlock()

	var out []byte
	switch path.Attribute {
	case descriptorAttrDeviceTypes:
		out = binary.LittleEndian.AppendUint16(out, uint16(len(deviceTypes)))
		for _, dt := range deviceTypes {
			out = binary.LittleEndian.AppendUint32(out, uint32(dt.DeviceType))
			out = binary.LittleEndian.AppendUint16(out, uint16(dt.Revision))
		}
	case descriptorAttrServerList:
		out = binary.LittleEndian.AppendUint16(out, uint16(len(clusters)))
		for _, id := range clusters {
			out = binary.LittleEndian.AppendUint32(out, uint32(id))
		}
	case descriptorAttrClientList:
		out = binary.LittleEndian.AppendUint16(out, 0)
	case descriptorAttrPartsList:
		parts := n.PartsList(path.Endpoint)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(parts)))
		for _, id := range parts {
			out = binary.LittleEndian.AppendUint16(out, uint16(id))
		}
	}

	if len(out) > len(buf) {
		return 0, StatusFailure
	}
	return copy(buf, out), StatusSuccess
}

func (n *Node) lookupLocked(id EndpointID) *Endpoint {
	for _, ep := range n.fixed {
		if ep.id == id {
			return ep
		}
	}
	for _, ep := range n.dynamic {
		if ep != nil && ep.id == id {
			return ep
		}
	}
	return nil
}

// NewDataVersions returns n randomly initialized data versions.
func NewDataVersions(n int) []DataVersion {
	versions := make([]DataVersion, n)
	var buf [4]byte
	for i := range versions {
		if _, err := rand.Read(buf[:]); err == nil {
			versions[i] = DataVersion(binary.LittleEndian.Uint32(buf[:]))
		}
	}
	return versions
}
