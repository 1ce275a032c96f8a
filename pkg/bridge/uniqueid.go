package bridge

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/backkem/matterbridge/pkg/storage"
	"golang.org/x/crypto/hkdf"
)

const (
	uniqueIDInfo = "matterbridge unique id"
	uniqueIDSize = 16 // bytes before hex encoding
)

// UniqueIDGenerator derives stable BridgedDeviceBasicInformation UniqueID
// values from a per-bridge secret seed.
type UniqueIDGenerator struct {
	seed []byte
}

// NewUniqueIDGenerator creates a generator from a SeedSize-byte seed.
func NewUniqueIDGenerator(seed []byte) (*UniqueIDGenerator, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidArgument
	}
	return &UniqueIDGenerator{seed: append([]byte(nil), seed...)}, nil
}

// LoadUniqueIDGenerator loads the seed from storage, creating and storing
// a random one on first use.
func LoadUniqueIDGenerator(s *StorageManager) (*UniqueIDGenerator, error) {
	seed, err := s.LoadSeed()
	if errors.Is(err, storage.ErrNotFound) {
		seed = make([]byte, SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("%w: generating seed: %v", ErrInternal, err)
		}
		if err := s.StoreSeed(seed); err != nil {
			return nil, fmt.Errorf("%w: storing seed: %v", ErrInternal, err)
		}
	} else if err != nil {
		return nil, err
	}
	return NewUniqueIDGenerator(seed)
}

// UniqueID returns the 32-character ID of the device with the given
// endpoint and type. The same inputs always yield the same ID.
func (g *UniqueIDGenerator) UniqueID(ep datamodel.EndpointID, typ DeviceType) string {
	info := []byte(uniqueIDInfo)
	info = binary.LittleEndian.AppendUint16(info, uint16(ep))
	info = binary.LittleEndian.AppendUint16(info, uint16(typ))

	out := make([]byte, uniqueIDSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, g.seed, nil, info), out); err != nil {
		// HKDF-SHA256 can produce up to 8160 bytes.
		panic(err)
	}
	return hex.EncodeToString(out)
}
