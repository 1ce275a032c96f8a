package ble

import goble "github.com/go-ble/ble"

// UUID is a Bluetooth UUID.
type UUID = goble.UUID

// CCCUUID is the Client Characteristic Configuration descriptor (0x2902).
var CCCUUID = goble.ClientCharacteristicConfigUUID

// ParseUUID parses a 16-bit or 128-bit UUID string.
func ParseUUID(s string) (UUID, error) {
	return goble.Parse(s)
}

// MustParseUUID parses s and panics on failure.
func MustParseUUID(s string) UUID {
	return goble.MustParse(s)
}

func containsUUID(list []UUID, u UUID) bool {
	for _, v := range list {
		if v.Equal(u) {
			return true
		}
	}
	return false
}
