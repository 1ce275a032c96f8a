package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/backkem/matterbridge/pkg/binding"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/backkem/matterbridge/pkg/workqueue"
	"github.com/pion/logging"
)

// CommandMessage is the payload of command and group topics.
type CommandMessage struct {
	Source      uint64              `json:"source"`
	FabricIndex uint8               `json:"fabric"`
	Cluster     datamodel.ClusterID `json:"cluster"`
	Command     datamodel.CommandID `json:"command"`
}

// CommandSender delivers binding commands to other nodes through the
// broker.
type CommandSender struct {
	Publisher   Publisher
	Topics      Topics
	LocalNodeID uint64
}

// SendUnicast implements binding.Sender.
func (s *CommandSender) SendUnicast(ctx context.Context, entry binding.Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	return s.send(ctx, s.Topics.Command(entry.NodeID, entry.RemoteEndpoint), entry, cluster, cmd)
}

// SendGroup implements binding.Sender.
func (s *CommandSender) SendGroup(ctx context.Context, entry binding.Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	return s.send(ctx, s.Topics.Group(entry.GroupID), entry, cluster, cmd)
}

func (s *CommandSender) send(ctx context.Context, topic string, entry binding.Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(CommandMessage{
		Source:      s.LocalNodeID,
		FabricIndex: entry.FabricIndex,
		Cluster:     cluster,
		Command:     cmd,
	})
	if err != nil {
		return err
	}
	return s.Publisher.Publish(topic, payload, false)
}

// Subscriber registers message handlers. *Client implements it.
type Subscriber interface {
	Subscribe(topic string, handler MessageHandler) error
}

// CommandReceiverConfig holds configuration for a CommandReceiver.
type CommandReceiverConfig struct {
	// Target runs the received commands. Required.
	Target binding.CommandTarget

	// Queue is the work queue commands are applied on. Required.
	Queue *workqueue.Queue

	// Topics is the topic layout. Default prefix: "matterbridge".
	Topics Topics

	// NodeID is the node id of this bridge.
	NodeID uint64

	// LoggerFactory for MQTT logging (optional).
	LoggerFactory logging.LoggerFactory
}

// CommandReceiver applies commands published for this bridge's endpoints.
type CommandReceiver struct {
	config CommandReceiverConfig

	log logging.LeveledLogger
}

// NewCommandReceiver creates a receiver.
func NewCommandReceiver(config CommandReceiverConfig) (*CommandReceiver, error) {
	if config.Target == nil || config.Queue == nil {
		return nil, ErrSubscribeFailed
	}
	if config.Topics.Prefix == "" {
		config.Topics.Prefix = DefaultPrefix
	}
	r := &CommandReceiver{config: config}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("mqtt")
	}
	return r, nil
}

// Start subscribes to the command topics of this node.
func (r *CommandReceiver) Start(sub Subscriber) error {
	return sub.Subscribe(r.config.Topics.Commands(r.config.NodeID), func(topic string, payload []byte) {
		if err := r.HandleMessage(topic, payload); err != nil && r.log != nil {
			r.log.Warnf("Dropping command on %s: %v", topic, err)
		}
	})
}

// HandleMessage decodes one command message and posts it to the work
// queue. It may be called from any goroutine.
func (r *CommandReceiver) HandleMessage(topic string, payload []byte) error {
	node, ep, err := r.config.Topics.ParseCommand(topic)
	if err != nil {
		return err
	}
	if node != r.config.NodeID {
		return fmt.Errorf("%w: node %d", ErrInvalidTopic, node)
	}
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	path := datamodel.ConcreteCommandPath{Endpoint: ep, Cluster: msg.Cluster, Command: msg.Command}
	return r.config.Queue.Post(func() {
		status := r.config.Target.InvokeCommand(path)
		if r.log != nil {
			r.log.Debugf("Command 0x%02X from node %d on endpoint %d: %s", msg.Command, msg.Source, ep, status)
		}
	})
}

var (
	_ binding.Sender = (*CommandSender)(nil)
	_ Subscriber     = (*Client)(nil)
)
