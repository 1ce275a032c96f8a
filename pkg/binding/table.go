// Package binding maps local command sources to remote targets.
//
// A Table holds unicast (node + endpoint) and multicast (group) entries.
// The Handler resolves an invocation against the table and dispatches it
// through a Sender: LocalSender for endpoints of this node, a transport
// sender for everything else, and Router to choose between them.
package binding

import (
	"fmt"

	"github.com/backkem/matterbridge/pkg/datamodel"
)

// DefaultTableSize is the default number of binding entries.
const DefaultTableSize = 10

// EntryType is the addressing mode of an entry.
type EntryType uint8

// Entry types.
const (
	Unicast EntryType = iota + 1
	Multicast
)

// String returns the entry type name.
func (t EntryType) String() string {
	switch t {
	case Unicast:
		return "unicast"
	case Multicast:
		return "multicast"
	default:
		return fmt.Sprintf("EntryType(%d)", uint8(t))
	}
}

// ParseEntryType parses "unicast" or "multicast".
func ParseEntryType(s string) (EntryType, error) {
	switch s {
	case "unicast":
		return Unicast, nil
	case "multicast", "group":
		return Multicast, nil
	}
	return 0, fmt.Errorf("%w: type %q", ErrInvalidEntry, s)
}

// Entry is one binding.
type Entry struct {
	Type        EntryType
	FabricIndex uint8

	// LocalEndpoint is the endpoint whose commands this entry carries.
	LocalEndpoint datamodel.EndpointID

	// Cluster restricts the entry to one cluster. Nil matches any.
	Cluster *datamodel.ClusterID

	// Unicast target.
	NodeID         uint64
	RemoteEndpoint datamodel.EndpointID

	// Multicast target.
	GroupID uint16
}

// Validate checks the entry's addressing fields.
func (e Entry) Validate() error {
	switch e.Type {
	case Unicast:
		if e.RemoteEndpoint == datamodel.InvalidEndpointID {
			return fmt.Errorf("%w: unicast entry without remote endpoint", ErrInvalidEntry)
		}
	case Multicast:
		if e.GroupID == 0 {
			return fmt.Errorf("%w: multicast entry without group", ErrInvalidEntry)
		}
	default:
		return fmt.Errorf("%w: type %d", ErrInvalidEntry, e.Type)
	}
	return nil
}

func (e Entry) matches(ep datamodel.EndpointID, cluster datamodel.ClusterID) bool {
	return e.LocalEndpoint == ep && (e.Cluster == nil || *e.Cluster == cluster)
}

// Table is a fixed-capacity binding table. It is not safe for concurrent
// use; like the bridge it lives on the work queue.
type Table struct {
	entries  []Entry
	capacity int
}

// NewTable creates a table holding up to capacity entries.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultTableSize
	}
	return &Table{capacity: capacity}
}

// Add appends an entry and returns its index.
func (t *Table) Add(e Entry) (int, error) {
	if err := e.Validate(); err != nil {
		return -1, err
	}
	if len(t.entries) >= t.capacity {
		return -1, ErrTableFull
	}
	t.entries = append(t.entries, e)
	return len(t.entries) - 1, nil
}

// Remove deletes the entry at index. Later entries shift down.
func (t *Table) Remove(index int) error {
	if index < 0 || index >= len(t.entries) {
		return ErrNotFound
	}
	t.entries = append(t.entries[:index], t.entries[index+1:]...)
	return nil
}

// Entries returns a copy of the entries.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// Capacity returns the maximum number of entries.
func (t *Table) Capacity() int { return t.capacity }
