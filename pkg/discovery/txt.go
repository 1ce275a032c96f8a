package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/matterbridge/pkg/datamodel"
)

// TXT record keys of the bridge service.
const (
	// TXTKeyDeviceCount is the number of bridged devices.
	TXTKeyDeviceCount = "dc"

	// TXTKeyMaxDevices is the device capacity of the bridge.
	TXTKeyMaxDevices = "mx"

	// TXTKeyFirstEndpoint is the first dynamic endpoint ID.
	TXTKeyFirstEndpoint = "fe"

	// TXTKeyVersion is the bridge software version.
	TXTKeyVersion = "ver"

	// TXTKeyMode is the device backend, "simulated" or "ble".
	TXTKeyMode = "mode"
)

// maxTXTEntryLength is the DNS-SD limit for one key=value string.
const maxTXTEntryLength = 255

// BridgeTXT holds the TXT records of the bridge service.
type BridgeTXT struct {
	DeviceCount   int
	MaxDevices    int
	FirstEndpoint datamodel.EndpointID
	Version       string
	Mode          string
}

// Validate checks that the records can be encoded.
func (t BridgeTXT) Validate() error {
	if t.DeviceCount < 0 || t.MaxDevices < 0 || (t.MaxDevices > 0 && t.DeviceCount > t.MaxDevices) {
		return fmt.Errorf("%w: device count %d of %d", ErrInvalidTXTRecord, t.DeviceCount, t.MaxDevices)
	}
	if strings.ContainsAny(t.Version, "=") || len(t.Version)+len(TXTKeyVersion)+1 > maxTXTEntryLength {
		return fmt.Errorf("%w: version %q", ErrInvalidTXTRecord, t.Version)
	}
	if strings.ContainsAny(t.Mode, "=") {
		return fmt.Errorf("%w: mode %q", ErrInvalidTXTRecord, t.Mode)
	}
	return nil
}

// Encode returns the records as key=value strings. Empty optional values
// are omitted.
func (t BridgeTXT) Encode() []string {
	txt := []string{
		TXTKeyDeviceCount + "=" + strconv.Itoa(t.DeviceCount),
	}
	if t.MaxDevices > 0 {
		txt = append(txt, TXTKeyMaxDevices+"="+strconv.Itoa(t.MaxDevices))
	}
	if t.FirstEndpoint != 0 && t.FirstEndpoint != datamodel.InvalidEndpointID {
		txt = append(txt, TXTKeyFirstEndpoint+"="+strconv.Itoa(int(t.FirstEndpoint)))
	}
	if t.Version != "" {
		txt = append(txt, TXTKeyVersion+"="+t.Version)
	}
	if t.Mode != "" {
		txt = append(txt, TXTKeyMode+"="+t.Mode)
	}
	return txt
}

// ParseBridgeTXT decodes records produced by Encode. Unknown keys are
// ignored.
func ParseBridgeTXT(txt []string) (BridgeTXT, error) {
	t := BridgeTXT{FirstEndpoint: datamodel.InvalidEndpointID}
	for _, entry := range txt {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return t, fmt.Errorf("%w: %q", ErrInvalidTXTRecord, entry)
		}
		var err error
		switch key {
		case TXTKeyDeviceCount:
			t.DeviceCount, err = strconv.Atoi(value)
		case TXTKeyMaxDevices:
			t.MaxDevices, err = strconv.Atoi(value)
		case TXTKeyFirstEndpoint:
			var ep uint64
			ep, err = strconv.ParseUint(value, 10, 16)
			t.FirstEndpoint = datamodel.EndpointID(ep)
		case TXTKeyVersion:
			t.Version = value
		case TXTKeyMode:
			t.Mode = value
		}
		if err != nil {
			return t, fmt.Errorf("%w: %q", ErrInvalidTXTRecord, entry)
		}
	}
	return t, nil
}
