package app

import (
	"github.com/backkem/matterbridge/pkg/clusters/basic"
	"github.com/backkem/matterbridge/pkg/clusters/descriptor"
	"github.com/backkem/matterbridge/pkg/datamodel"
)

// Fixed endpoint IDs.
const (
	RootEndpointID        datamodel.EndpointID = 0
	AggregatorEndpointID  datamodel.EndpointID = 1
	PlaceholderEndpointID datamodel.EndpointID = 2
)

// newBridgeNode builds the fixed composition of the bridge: the root node,
// the aggregator that bridged devices hang off, and the placeholder
// endpoint the bridge manager disables and counts dynamic IDs from.
func newBridgeNode(dynamicEndpoints int) (*datamodel.Node, error) {
	node := datamodel.NewNode(datamodel.NodeConfig{DynamicEndpointCount: dynamicEndpoints})

	root := &datamodel.EndpointType{Clusters: []datamodel.ClusterMetadata{
		descriptor.Metadata(),
		basic.Metadata(),
	}}
	composed := &datamodel.EndpointType{Clusters: []datamodel.ClusterMetadata{
		descriptor.Metadata(),
	}}

	fixed := []struct {
		id     datamodel.EndpointID
		typ    *datamodel.EndpointType
		dt     datamodel.DeviceTypeID
		parent datamodel.EndpointID
	}{
		{RootEndpointID, root, datamodel.DeviceTypeRootNode, datamodel.InvalidEndpointID},
		{AggregatorEndpointID, composed, datamodel.DeviceTypeAggregator, RootEndpointID},
		{PlaceholderEndpointID, composed, datamodel.DeviceTypeAggregator, AggregatorEndpointID},
	}
	for _, f := range fixed {
		types := []datamodel.DeviceTypeEntry{{DeviceType: f.dt, Revision: 1}}
		if err := node.AddFixedEndpoint(f.id, f.typ, types, f.parent); err != nil {
			return nil, err
		}
	}
	return node, nil
}
