package ble

import (
	"fmt"
	"strconv"
	"strings"
)

// AddressType distinguishes public and random LE addresses.
type AddressType uint8

// Address types.
const (
	AddressPublic AddressType = 0
	AddressRandom AddressType = 1
)

// String returns "public" or "random".
func (t AddressType) String() string {
	switch t {
	case AddressPublic:
		return "public"
	case AddressRandom:
		return "random"
	default:
		return fmt.Sprintf("AddressType(%d)", uint8(t))
	}
}

// AddressSize is the size of an encoded Address.
const AddressSize = 7

// Address is a Bluetooth LE device address. Val holds the address bytes
// least significant first, as they appear on air.
type Address struct {
	Type AddressType
	Val  [6]byte
}

// ParseAddress parses "AA:BB:CC:DD:EE:FF", optionally followed by
// " (public)" or " (random)".
func ParseAddress(s string) (Address, error) {
	var a Address

	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		switch strings.TrimSpace(s[i:]) {
		case "(public)":
			a.Type = AddressPublic
		case "(random)":
			a.Type = AddressRandom
		default:
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		s = s[:i]
	}

	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		a.Val[5-i] = byte(b)
	}
	return a, nil
}

// MAC returns the address as "AA:BB:CC:DD:EE:FF".
func (a Address) MAC() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a.Val[5], a.Val[4], a.Val[3], a.Val[2], a.Val[1], a.Val[0])
}

// String returns the address with its type, e.g. "C0:11:22:33:44:55 (random)".
func (a Address) String() string {
	return a.MAC() + " (" + a.Type.String() + ")"
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalBinary encodes the address as the type byte followed by Val.
func (a Address) MarshalBinary() ([]byte, error) {
	buf := make([]byte, AddressSize)
	buf[0] = byte(a.Type)
	copy(buf[1:], a.Val[:])
	return buf, nil
}

// UnmarshalBinary decodes an address encoded by MarshalBinary.
func (a *Address) UnmarshalBinary(data []byte) error {
	if len(data) != AddressSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidAddress, len(data))
	}
	if AddressType(data[0]) > AddressRandom {
		return fmt.Errorf("%w: type %d", ErrInvalidAddress, data[0])
	}
	a.Type = AddressType(data[0])
	copy(a.Val[:], data[1:])
	return nil
}
