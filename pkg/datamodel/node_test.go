package datamodel

import (
	"errors"
	"testing"
)

var testType = &EndpointType{
	Clusters: []ClusterMetadata{
		{
			ID: 0x0006,
			Attributes: []AttributeMetadata{
				{ID: 0x0000, Type: AttributeTypeBoolean, Size: 1, Writable: true},
			},
			AcceptedCommands: []CommandID{0x00, 0x01, 0x02},
		},
		{
			ID: 0x0039,
			Attributes: []AttributeMetadata{
				{ID: 0x0011, Type: AttributeTypeBoolean, Size: 1},
			},
		},
	},
}

type fakeAccess struct {
	reads    []int
	writes   []int
	commands []CommandID
	value    byte
	err      error
}

func (f *fakeAccess) ReadExternalAttribute(index int, cluster ClusterID, attribute AttributeID, buf []byte) (int, error) {
	f.reads = append(f.reads, index)
	if f.err != nil {
		return 0, f.err
	}
	buf[0] = f.value
	return 1, nil
}

func (f *fakeAccess) WriteExternalAttribute(index int, cluster ClusterID, attribute AttributeID, data []byte) error {
	f.writes = append(f.writes, index)
	if f.err != nil {
		return f.err
	}
	f.value = data[0]
	return nil
}

func (f *fakeAccess) InvokeExternalCommand(index int, cluster ClusterID, command CommandID) error {
	f.commands = append(f.commands, command)
	return f.err
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n := NewNode(NodeConfig{DynamicEndpointCount: 4})
	if err := n.AddFixedEndpoint(0, testType, nil, InvalidEndpointID); err != nil {
		t.Fatalf("AddFixedEndpoint(0) failed: %v", err)
	}
	if err := n.AddFixedEndpoint(1, testType, nil, 0); err != nil {
		t.Fatalf("AddFixedEndpoint(1) failed: %v", err)
	}
	return n
}

func TestNode_AddFixedEndpoint(t *testing.T) {
	n := newTestNode(t)

	if err := n.AddFixedEndpoint(1, testType, nil, 0); err != ErrEndpointExists {
		t.Errorf("AddFixedEndpoint(duplicate) = %v, want ErrEndpointExists", err)
	}
	if err := n.AddFixedEndpoint(InvalidEndpointID, testType, nil, 0); err != ErrInvalidEndpointID {
		t.Errorf("AddFixedEndpoint(0xFFFF) = %v, want ErrInvalidEndpointID", err)
	}
	if got := n.FixedEndpointCount(); got != 2 {
		t.Errorf("FixedEndpointCount() = %d, want 2", got)
	}
	if got := n.EndpointFromIndex(1); got != 1 {
		t.Errorf("EndpointFromIndex(1) = %d, want 1", got)
	}
}

func TestNode_SetDynamicEndpoint(t *testing.T) {
	n := newTestNode(t)

	if err := n.SetDynamicEndpoint(0, 2, testType, nil, nil, 1); err != nil {
		t.Fatalf("SetDynamicEndpoint(0, 2) failed: %v", err)
	}

	tests := []struct {
		name  string
		index int
		id    EndpointID
		want  error
	}{
		{"duplicate dynamic id", 1, 2, ErrEndpointExists},
		{"duplicate fixed id", 1, 0, ErrEndpointExists},
		{"slot in use", 0, 3, ErrIndexInUse},
		{"index out of range", 4, 3, ErrInvalidIndex},
		{"negative index", -1, 3, ErrInvalidIndex},
		{"invalid id", 1, InvalidEndpointID, ErrInvalidEndpointID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := n.SetDynamicEndpoint(tt.index, tt.id, testType, nil, nil, 1); err != tt.want {
				t.Errorf("SetDynamicEndpoint(%d, %d) = %v, want %v", tt.index, tt.id, err, tt.want)
			}
		})
	}

	if got := n.EndpointFromIndex(2); got != 2 {
		t.Errorf("EndpointFromIndex(2) = %d, want 2", got)
	}
	if got := n.EndpointFromIndex(3); got != InvalidEndpointID {
		t.Errorf("EndpointFromIndex(3) = %d, want InvalidEndpointID", got)
	}
	if idx, ok := n.DynamicIndexFromEndpoint(2); !ok || idx != 0 {
		t.Errorf("DynamicIndexFromEndpoint(2) = (%d, %v), want (0, true)", idx, ok)
	}
	if parts := n.PartsList(1); len(parts) != 1 || parts[0] != 2 {
		t.Errorf("PartsList(1) = %v, want [2]", parts)
	}
}

func TestNode_ClearDynamicEndpoint(t *testing.T) {
	n := newTestNode(t)
	n.SetDynamicEndpoint(2, 7, testType, nil, nil, 1)

	id, err := n.ClearDynamicEndpoint(2)
	if err != nil || id != 7 {
		t.Fatalf("ClearDynamicEndpoint(2) = (%d, %v), want (7, nil)", id, err)
	}
	if _, err := n.ClearDynamicEndpoint(2); err != ErrEndpointNotFound {
		t.Errorf("ClearDynamicEndpoint(empty) = %v, want ErrEndpointNotFound", err)
	}
	if n.Endpoint(7) != nil {
		t.Error("Endpoint(7) = non-nil after clear, want nil")
	}

	// The id is free again.
	if err := n.SetDynamicEndpoint(0, 7, testType, nil, nil, 1); err != nil {
		t.Errorf("SetDynamicEndpoint(reuse) = %v, want nil", err)
	}
}

func TestNode_ReadWriteDispatch(t *testing.T) {
	n := newTestNode(t)
	access := &fakeAccess{}
	n.SetAttributeAccess(access)
	n.SetDynamicEndpoint(3, 5, testType, nil, nil, 1)

	onOff := ConcreteAttributePath{Endpoint: 5, Cluster: 0x0006, Attribute: 0x0000}

	if status := n.WriteAttribute(onOff, []byte{1}); status != StatusSuccess {
		t.Fatalf("WriteAttribute() = %v, want SUCCESS", status)
	}
	buf := make([]byte, 4)
	size, status := n.ReadAttribute(onOff, buf)
	if status != StatusSuccess || size != 1 || buf[0] != 1 {
		t.Errorf("ReadAttribute() = (%d, %v, %v), want (1, SUCCESS, 1)", size, status, buf[0])
	}
	if len(access.reads) != 1 || access.reads[0] != 3 {
		t.Errorf("access called with indices %v, want [3]", access.reads)
	}

	if status := n.InvokeCommand(ConcreteCommandPath{Endpoint: 5, Cluster: 0x0006, Command: 0x02}); status != StatusSuccess {
		t.Errorf("InvokeCommand(Toggle) = %v, want SUCCESS", status)
	}
	if status := n.InvokeCommand(ConcreteCommandPath{Endpoint: 5, Cluster: 0x0006, Command: 0x40}); status != StatusUnsupportedCommand {
		t.Errorf("InvokeCommand(0x40) = %v, want UNSUPPORTED_COMMAND", status)
	}

	access.err = errors.New("backend failed")
	if _, status := n.ReadAttribute(onOff, buf); status != StatusFailure {
		t.Errorf("ReadAttribute(handler error) = %v, want FAILURE", status)
	}
}

func TestNode_DispatchStatus(t *testing.T) {
	n := newTestNode(t)
	n.SetAttributeAccess(&fakeAccess{})
	n.SetDynamicEndpoint(0, 5, testType, nil, nil, 1)
	buf := make([]byte, 4)

	tests := []struct {
		name string
		path ConcreteAttributePath
		want Status
	}{
		{"unknown endpoint", ConcreteAttributePath{Endpoint: 9, Cluster: 0x0006}, StatusUnsupportedEndpoint},
		{"unknown cluster", ConcreteAttributePath{Endpoint: 5, Cluster: 0x0008}, StatusUnsupportedCluster},
		{"unknown attribute", ConcreteAttributePath{Endpoint: 5, Cluster: 0x0006, Attribute: 0x4000}, StatusUnsupportedAttribute},
		{"fixed endpoint", ConcreteAttributePath{Endpoint: 1, Cluster: 0x0006}, StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, status := n.ReadAttribute(tt.path, buf); status != tt.want {
				t.Errorf("ReadAttribute(%v) = %v, want %v", tt.path, status, tt.want)
			}
		})
	}

	reachable := ConcreteAttributePath{Endpoint: 5, Cluster: 0x0039, Attribute: 0x0011}
	if status := n.WriteAttribute(reachable, []byte{0}); status != StatusUnsupportedWrite {
		t.Errorf("WriteAttribute(read-only) = %v, want UNSUPPORTED_WRITE", status)
	}

	n.SetEndpointEnabled(5, false)
	if _, status := n.ReadAttribute(reachable, buf); status != StatusUnsupportedEndpoint {
		t.Errorf("ReadAttribute(disabled) = %v, want UNSUPPORTED_ENDPOINT", status)
	}
}

func TestNode_NotifyAttributeChanged(t *testing.T) {
	n := newTestNode(t)
	versions := []DataVersion{10, 20}
	n.SetDynamicEndpoint(0, 5, testType, versions, nil, 1)

	var got []ConcreteAttributePath
	n.AddAttributeChangeListener(AttributeChangeFunc(func(p ConcreteAttributePath) {
		got = append(got, p)
	}))

	path := ConcreteAttributePath{Endpoint: 5, Cluster: 0x0039, Attribute: 0x0011}
	n.NotifyAttributeChanged(path)

	if len(got) != 1 || got[0] != path {
		t.Fatalf("listener got %v, want [%v]", got, path)
	}
	if versions[1] != 21 {
		t.Errorf("data version = %d, want 21", versions[1])
	}
	if v, ok := n.DataVersion(path.ClusterPath()); !ok || v != 21 {
		t.Errorf("DataVersion() = (%d, %v), want (21, true)", v, ok)
	}
	if versions[0] != 10 {
		t.Errorf("unrelated data version = %d, want 10", versions[0])
	}
}

func TestNode_ReadDescriptorLists(t *testing.T) {
	n := NewNode(NodeConfig{DynamicEndpointCount: 2})
	descType := &EndpointType{Clusters: []ClusterMetadata{{ID: 0x001D}}}
	if err := n.AddFixedEndpoint(1, descType, []DeviceTypeEntry{{DeviceType: DeviceTypeAggregator, Revision: 1}}, InvalidEndpointID); err != nil {
		t.Fatalf("AddFixedEndpoint() failed: %v", err)
	}
	n.SetDynamicEndpoint(0, 3, descType, nil, nil, 1)
	n.SetDynamicEndpoint(1, 4, descType, nil, nil, 1)

	buf := make([]byte, 16)
	size, status := n.ReadAttribute(ConcreteAttributePath{Endpoint: 1, Cluster: 0x001D, Attribute: 0x0003}, buf)
	if status != StatusSuccess {
		t.Fatalf("ReadAttribute(PartsList) = %v, want SUCCESS", status)
	}
	want := []byte{2, 0, 3, 0, 4, 0}
	if string(buf[:size]) != string(want) {
		t.Errorf("PartsList = %v, want %v", buf[:size], want)
	}

	size, _ = n.ReadAttribute(ConcreteAttributePath{Endpoint: 1, Cluster: 0x001D, Attribute: 0x0000}, buf)
	want = []byte{1, 0, 0x0E, 0, 0, 0, 1, 0}
	if string(buf[:size]) != string(want) {
		t.Errorf("DeviceTypeList = %v, want %v", buf[:size], want)
	}

	if _, status := n.ReadAttribute(ConcreteAttributePath{Endpoint: 1, Cluster: 0x001D, Attribute: 0x0001}, make([]byte, 3)); status != StatusFailure {
		t.Errorf("ReadAttribute(short buffer) = %v, want FAILURE", status)
	}
}
