package mqtt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/matterbridge/pkg/datamodel"
)

// Topics builds the topic names under a prefix.
type Topics struct {
	Prefix string
}

// Status is the retained online/offline topic.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Devices is the retained bridged device list.
func (t Topics) Devices() string {
	return t.Prefix + "/devices"
}

// Attribute is the topic of one attribute value.
func (t Topics) Attribute(path datamodel.ConcreteAttributePath) string {
	return fmt.Sprintf("%s/attr/%d/%d/%d", t.Prefix, path.Endpoint, path.Cluster, path.Attribute)
}

// Command is the topic of commands for an endpoint of a node.
func (t Topics) Command(node uint64, ep datamodel.EndpointID) string {
	return fmt.Sprintf("%s/cmd/%d/%d", t.Prefix, node, ep)
}

// Commands matches every command addressed to node.
func (t Topics) Commands(node uint64) string {
	return fmt.Sprintf("%s/cmd/%d/+", t.Prefix, node)
}

// Group is the topic of commands for a group.
func (t Topics) Group(group uint16) string {
	return fmt.Sprintf("%s/group/%d", t.Prefix, group)
}

// ParseCommand extracts the node and endpoint of a command topic.
func (t Topics) ParseCommand(topic string) (uint64, datamodel.EndpointID, error) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/cmd/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	nodeStr, epStr, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	node, err := strconv.ParseUint(nodeStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	ep, err := strconv.ParseUint(epStr, 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return node, datamodel.EndpointID(ep), nil
}
