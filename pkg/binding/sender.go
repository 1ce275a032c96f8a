package binding

import (
	"context"
	"fmt"

	"github.com/backkem/matterbridge/pkg/datamodel"
)

// CommandTarget runs commands on endpoints of this node.
// *datamodel.Node implements it.
type CommandTarget interface {
	InvokeCommand(path datamodel.ConcreteCommandPath) datamodel.Status
}

// LocalSender delivers unicast commands to endpoints of this node. Must
// be used on the work queue.
type LocalSender struct {
	Target CommandTarget
}

// SendUnicast implements Sender.
func (s *LocalSender) SendUnicast(ctx context.Context, entry Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	status := s.Target.InvokeCommand(datamodel.ConcreteCommandPath{
		Endpoint: entry.RemoteEndpoint,
		Cluster:  cluster,
		Command:  cmd,
	})
	if status != datamodel.StatusSuccess {
		return fmt.Errorf("%w: endpoint %d: %s", ErrCommandFailed, entry.RemoteEndpoint, status)
	}
	return nil
}

// SendGroup implements Sender. Groups are not delivered locally.
func (s *LocalSender) SendGroup(ctx context.Context, entry Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	return ErrNoRoute
}

// Router sends unicast commands addressed to LocalNodeID through Local
// and everything else through Remote.
type Router struct {
	LocalNodeID uint64
	Local       Sender
	Remote      Sender // optional
}

// SendUnicast implements Sender.
func (r *Router) SendUnicast(ctx context.Context, entry Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	if entry.NodeID == r.LocalNodeID && r.Local != nil {
		return r.Local.SendUnicast(ctx, entry, cluster, cmd)
	}
	if r.Remote == nil {
		return fmt.Errorf("%w: node 0x%016X", ErrNoRoute, entry.NodeID)
	}
	return r.Remote.SendUnicast(ctx, entry, cluster, cmd)
}

// SendGroup implements Sender.
func (r *Router) SendGroup(ctx context.Context, entry Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	if r.Remote == nil {
		return fmt.Errorf("%w: group 0x%04X", ErrNoRoute, entry.GroupID)
	}
	return r.Remote.SendGroup(ctx, entry, cluster, cmd)
}

var (
	_ Sender        = (*LocalSender)(nil)
	_ Sender        = (*Router)(nil)
	_ CommandTarget = (*datamodel.Node)(nil)
)
