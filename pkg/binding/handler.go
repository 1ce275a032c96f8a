package binding

import (
	"context"
	"errors"
	"fmt"

	"github.com/backkem/matterbridge/pkg/clusters/onoff"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/pion/logging"
)

// Data describes one command to send through the bindings of a local
// endpoint.
type Data struct {
	EndpointID datamodel.EndpointID
	ClusterID  datamodel.ClusterID
	CommandID  datamodel.CommandID
	Value      uint8
	IsGroup    bool
}

// Sender delivers a command to a binding target.
type Sender interface {
	SendUnicast(ctx context.Context, entry Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error
	SendGroup(ctx context.Context, entry Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error
}

// HandlerConfig holds configuration for a Handler.
type HandlerConfig struct {
	// Table holds the bindings. Required.
	Table *Table

	// Sender delivers matched commands. Required.
	Sender Sender

	// LoggerFactory for binding logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Handler invokes commands through the binding table.
type Handler struct {
	table  *Table
	sender Sender

	log logging.LeveledLogger
}

// NewHandler creates a handler.
func NewHandler(config HandlerConfig) (*Handler, error) {
	if config.Table == nil || config.Sender == nil {
		return nil, ErrInvalidEntry
	}
	h := &Handler{table: config.Table, sender: config.Sender}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("binding")
	}
	return h, nil
}

// Invoke sends data's command to every binding of data.EndpointID.
// Group data uses multicast entries and other data uses unicast entries.
// Only On/Off commands are processed.
func (h *Handler) Invoke(ctx context.Context, data Data) error {
	if data.ClusterID != onoff.ClusterID {
		if h.log != nil {
			h.log.Errorf("Invalid binding command data: cluster 0x%04X", data.ClusterID)
		}
		return ErrUnsupportedCluster
	}
	if _, ok := onoff.Apply(data.CommandID, false); !ok {
		if h.log != nil {
			h.log.Debugf("Invalid binding command data: command 0x%02X is not supported", data.CommandID)
		}
		return ErrUnsupportedCommand
	}

	var errs []error
	sent := 0
	for _, e := range h.table.entries {
		if !e.matches(data.EndpointID, data.ClusterID) {
			continue
		}
		var err error
		switch {
		case e.Type == Multicast && data.IsGroup:
			err = h.sender.SendGroup(ctx, e, data.ClusterID, data.CommandID)
		case e.Type == Unicast && !data.IsGroup:
			err = h.sender.SendUnicast(ctx, e, data.ClusterID, data.CommandID)
		default:
			continue
		}
		sent++
		if err != nil {
			if h.log != nil {
				h.log.Errorf("Invoke %s command request failed: %v", onoff.CommandName(data.CommandID), err)
			}
			errs = append(errs, err)
		}
	}
	if sent == 0 {
		return fmt.Errorf("%w: endpoint %d", ErrNoBinding, data.EndpointID)
	}
	return errors.Join(errs...)
}
