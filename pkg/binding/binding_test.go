package binding

import (
	"context"
	"errors"
	"testing"

	"github.com/backkem/matterbridge/pkg/clusters/onoff"
	"github.com/backkem/matterbridge/pkg/datamodel"
)

type sent struct {
	group bool
	entry Entry
	cmd   datamodel.CommandID
}

type fakeSender struct {
	sent []sent
	err  error
}

func (s *fakeSender) SendUnicast(ctx context.Context, entry Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	s.sent = append(s.sent, sent{false, entry, cmd})
	return s.err
}

func (s *fakeSender) SendGroup(ctx context.Context, entry Entry, cluster datamodel.ClusterID, cmd datamodel.CommandID) error {
	s.sent = append(s.sent, sent{true, entry, cmd})
	return s.err
}

func TestTable_Add(t *testing.T) {
	table := NewTable(2)

	tests := []struct {
		name  string
		entry Entry
		want  error
	}{
		{"unicast", Entry{Type: Unicast, LocalEndpoint: 3, NodeID: 1, RemoteEndpoint: 1}, nil},
		{"no type", Entry{LocalEndpoint: 3}, ErrInvalidEntry},
		{"group without id", Entry{Type: Multicast, LocalEndpoint: 3}, ErrInvalidEntry},
		{"unicast without endpoint", Entry{Type: Unicast, RemoteEndpoint: datamodel.InvalidEndpointID}, ErrInvalidEntry},
		{"group", Entry{Type: Multicast, LocalEndpoint: 3, GroupID: 0x10}, nil},
		{"full", Entry{Type: Multicast, LocalEndpoint: 4, GroupID: 0x11}, ErrTableFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := table.Add(tt.entry); !errors.Is(err, tt.want) {
				t.Errorf("Add() = %v, want %v", err, tt.want)
			}
		})
	}

	if err := table.Remove(0); err != nil {
		t.Fatalf("Remove(0) failed: %v", err)
	}
	if table.Len() != 1 || table.Entries()[0].Type != Multicast {
		t.Errorf("Entries() = %+v, want the group entry", table.Entries())
	}
	if err := table.Remove(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(3) = %v, want ErrNotFound", err)
	}
}

func TestParseEntryType(t *testing.T) {
	if got, err := ParseEntryType("unicast"); err != nil || got != Unicast {
		t.Errorf("ParseEntryType(unicast) = (%v, %v), want unicast", got, err)
	}
	if got, err := ParseEntryType("group"); err != nil || got != Multicast {
		t.Errorf("ParseEntryType(group) = (%v, %v), want multicast", got, err)
	}
	if _, err := ParseEntryType("broadcast"); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("ParseEntryType(broadcast) = %v, want ErrInvalidEntry", err)
	}
}

func TestHandler_Invoke(t *testing.T) {
	levelCluster := datamodel.ClusterID(0x0008)
	table := NewTable(0)
	table.Add(Entry{Type: Unicast, LocalEndpoint: 3, NodeID: 7, RemoteEndpoint: 1})
	table.Add(Entry{Type: Multicast, LocalEndpoint: 3, GroupID: 0x20})
	table.Add(Entry{Type: Unicast, LocalEndpoint: 4, NodeID: 7, RemoteEndpoint: 2})
	table.Add(Entry{Type: Unicast, LocalEndpoint: 3, NodeID: 8, RemoteEndpoint: 5, Cluster: &levelCluster})

	sender := &fakeSender{}
	h, err := NewHandler(HandlerConfig{Table: table, Sender: sender})
	if err != nil {
		t.Fatalf("NewHandler() failed: %v", err)
	}

	if err := h.Invoke(context.Background(), Data{EndpointID: 3, ClusterID: onoff.ClusterID, CommandID: onoff.CmdToggle}); err != nil {
		t.Fatalf("Invoke(unicast) failed: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].group || sender.sent[0].entry.RemoteEndpoint != 1 || sender.sent[0].cmd != onoff.CmdToggle {
		t.Errorf("sent = %+v, want one unicast Toggle to endpoint 1", sender.sent)
	}

	sender.sent = nil
	if err := h.Invoke(context.Background(), Data{EndpointID: 3, ClusterID: onoff.ClusterID, CommandID: onoff.CmdOn, IsGroup: true}); err != nil {
		t.Fatalf("Invoke(group) failed: %v", err)
	}
	if len(sender.sent) != 1 || !sender.sent[0].group || sender.sent[0].entry.GroupID != 0x20 {
		t.Errorf("sent = %+v, want one group command to 0x20", sender.sent)
	}

	tests := []struct {
		name string
		data Data
		want error
	}{
		{"other cluster", Data{EndpointID: 3, ClusterID: levelCluster, CommandID: 0}, ErrUnsupportedCluster},
		{"unknown command", Data{EndpointID: 3, ClusterID: onoff.ClusterID, CommandID: 0x40}, ErrUnsupportedCommand},
		{"no binding", Data{EndpointID: 9, ClusterID: onoff.ClusterID, CommandID: onoff.CmdOff}, ErrNoBinding},
		{"no group binding", Data{EndpointID: 4, ClusterID: onoff.ClusterID, CommandID: onoff.CmdOff, IsGroup: true}, ErrNoBinding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.Invoke(context.Background(), tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Invoke() = %v, want %v", err, tt.want)
			}
		})
	}

	sender.err = ErrCommandFailed
	if err := h.Invoke(context.Background(), Data{EndpointID: 4, ClusterID: onoff.ClusterID, CommandID: onoff.CmdOff}); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("Invoke(sender failure) = %v, want ErrCommandFailed", err)
	}
}

type fakeTarget struct {
	paths  []datamodel.ConcreteCommandPath
	status datamodel.Status
}

func (f *fakeTarget) InvokeCommand(path datamodel.ConcreteCommandPath) datamodel.Status {
	f.paths = append(f.paths, path)
	return f.status
}

func TestRouter(t *testing.T) {
	target := &fakeTarget{}
	remote := &fakeSender{}
	r := &Router{LocalNodeID: 1, Local: &LocalSender{Target: target}, Remote: remote}
	ctx := context.Background()

	if err := r.SendUnicast(ctx, Entry{Type: Unicast, NodeID: 1, RemoteEndpoint: 3}, onoff.ClusterID, onoff.CmdToggle); err != nil {
		t.Fatalf("SendUnicast(local) failed: %v", err)
	}
	want := datamodel.ConcreteCommandPath{Endpoint: 3, Cluster: onoff.ClusterID, Command: onoff.CmdToggle}
	if len(target.paths) != 1 || target.paths[0] != want {
		t.Errorf("local paths = %v, want [%v]", target.paths, want)
	}

	r.SendUnicast(ctx, Entry{Type: Unicast, NodeID: 2, RemoteEndpoint: 3}, onoff.ClusterID, onoff.CmdToggle)
	r.SendGroup(ctx, Entry{Type: Multicast, GroupID: 5}, onoff.ClusterID, onoff.CmdOn)
	if len(remote.sent) != 2 || !remote.sent[1].group {
		t.Errorf("remote sent = %+v, want unicast then group", remote.sent)
	}

	target.status = datamodel.StatusUnsupportedEndpoint
	if err := r.SendUnicast(ctx, Entry{Type: Unicast, NodeID: 1, RemoteEndpoint: 9}, onoff.ClusterID, onoff.CmdOn); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("SendUnicast(rejected) = %v, want ErrCommandFailed", err)
	}

	local := &Router{LocalNodeID: 1, Local: &LocalSender{Target: target}}
	if err := local.SendGroup(ctx, Entry{Type: Multicast, GroupID: 5}, onoff.ClusterID, onoff.CmdOn); !errors.Is(err, ErrNoRoute) {
		t.Errorf("SendGroup(no remote) = %v, want ErrNoRoute", err)
	}
}
