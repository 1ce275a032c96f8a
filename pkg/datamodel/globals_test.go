package datamodel

import "testing"

func TestIsGlobalAttribute(t *testing.T) {
	tests := []struct {
		id   AttributeID
		want bool
	}{
		{GlobalAttrClusterRevision, true},
		{GlobalAttrFeatureMap, true},
		{GlobalAttrAttributeList, true},
		{GlobalAttrAcceptedCommandList, true},
		{GlobalAttrGeneratedCommandList, true},
		{0, false},
		{100, false},
		{0xFFF7, false},
		{0xFFFE, false},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			if got := IsGlobalAttribute(tt.id); got != tt.want {
				t.Errorf("IsGlobalAttribute(0x%04X) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestStatus_String(t *testing.T) {
	if got := StatusUnsupportedEndpoint.String(); got != "UNSUPPORTED_ENDPOINT" {
		t.Errorf("String() = %q, want UNSUPPORTED_ENDPOINT", got)
	}
	if got := Status(0x42).String(); got != "Status(0x42)" {
		t.Errorf("String() = %q, want Status(0x42)", got)
	}
}
