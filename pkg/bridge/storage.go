package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/backkem/matterbridge/pkg/ble"
	"github.com/backkem/matterbridge/pkg/clusters/bridgedbasic"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/backkem/matterbridge/pkg/storage"
	"github.com/pion/logging"
)

// SeedSize is the size of the per-bridge secret used to derive unique IDs.
const SeedSize = 32

// DeviceRecord is the persisted form of one bridged device.
type DeviceRecord struct {
	Index      uint8
	EndpointID datamodel.EndpointID
	Type       DeviceType
	Label      string       // empty when no label was set
	Address    *ble.Address // nil for devices without a BLE peripheral
}

// StorageManagerConfig holds configuration for a StorageManager.
type StorageManagerConfig struct {
	// Storage is the backing key/value store. Required.
	Storage storage.Storage

	// MaxBridgedDevices bounds the stored index list. Default: 16.
	MaxBridgedDevices int

	// LoggerFactory for storage logging (optional).
	LoggerFactory logging.LoggerFactory
}

// StorageManager maps bridge state onto hierarchical storage keys:
//
//	br/brd_cnt            uint8 device count
//	br/brd_ids            uint8 index list
//	br/brd/eid/<i>        uint16 endpoint ID
//	br/brd/label/<i>      node label
//	br/brd/type/<i>       uint16 device type
//	br/brd/bt/addr/<i>    Bluetooth address
//	br/seed               unique ID seed
type StorageManager struct {
	storage    storage.Storage
	maxDevices int

	count   *storage.Node
	indexes *storage.Node
	eid     *storage.Node
	label   *storage.Node
	typ     *storage.Node
	btAddr  *storage.Node
	seed    *storage.Node

	log logging.LeveledLogger
}

// NewStorageManager creates a storage manager.
func NewStorageManager(config StorageManagerConfig) (*StorageManager, error) {
	if config.Storage == nil {
		return nil, ErrInvalidArgument
	}
	if config.MaxBridgedDevices <= 0 {
		config.MaxBridgedDevices = DefaultMaxBridgedDevices
	}

	root := storage.NewNode("br", nil)
	brd := root.Child("brd")
	s := &StorageManager{
		storage:    config.Storage,
		maxDevices: config.MaxBridgedDevices,
		count:      root.Child("brd_cnt"),
		indexes:    root.Child("brd_ids"),
		eid:        brd.Child("eid"),
		label:      brd.Child("label"),
		typ:        brd.Child("type"),
		btAddr:     brd.Child("bt").Child("addr"),
		seed:       root.Child("seed"),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("storage")
	}
	return s, nil
}

func indexNode(parent *storage.Node, index uint8) *storage.Node {
	return parent.Child(strconv.Itoa(int(index)))
}

// StoreBridgedDevicesCount stores the device count.
func (s *StorageManager) StoreBridgedDevicesCount(count uint8) error {
	return s.storage.Store(s.count, []byte{count})
}

// LoadBridgedDevicesCount loads the device count.
func (s *StorageManager) LoadBridgedDevicesCount() (uint8, error) {
	var buf [1]byte
	n, err := s.storage.Load(s.count, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("%w: device count is %d bytes", ErrInternal, n)
	}
	return buf[0], nil
}

// StoreBridgedDevicesIndexes stores the index list.
func (s *StorageManager) StoreBridgedDevicesIndexes(indexes []uint8) error {
	if len(indexes) > s.maxDevices {
		return ErrNoMemory
	}
	return s.storage.Store(s.indexes, indexes)
}

// LoadBridgedDevicesIndexes loads the index list.
func (s *StorageManager) LoadBridgedDevicesIndexes() ([]uint8, error) {
	buf := make([]byte, s.maxDevices)
	n, err := s.storage.Load(s.indexes, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// StoreBridgedDeviceEndpointID stores the endpoint of the device at index.
func (s *StorageManager) StoreBridgedDeviceEndpointID(ep datamodel.EndpointID, index uint8) error {
	return s.storage.Store(indexNode(s.eid, index), binary.LittleEndian.AppendUint16(nil, uint16(ep)))
}

// LoadBridgedDeviceEndpointID loads the endpoint of the device at index.
func (s *StorageManager) LoadBridgedDeviceEndpointID(index uint8) (datamodel.EndpointID, error) {
	v, err := s.loadUint16(indexNode(s.eid, index))
	return datamodel.EndpointID(v), err
}

// RemoveBridgedDeviceEndpointID removes the endpoint of the device at index.
func (s *StorageManager) RemoveBridgedDeviceEndpointID(index uint8) error {
	return s.storage.Remove(indexNode(s.eid, index))
}

// StoreBridgedDeviceNodeLabel stores the label of the device at index.
func (s *StorageManager) StoreBridgedDeviceNodeLabel(label string, index uint8) error {
	if len(label) > bridgedbasic.MaxNodeLabelLength {
		return ErrInvalidStringLength
	}
	return s.storage.Store(indexNode(s.label, index), []byte(label))
}

// LoadBridgedDeviceNodeLabel loads the label of the device at index.
func (s *StorageManager) LoadBridgedDeviceNodeLabel(index uint8) (string, error) {
	buf := make([]byte, bridgedbasic.MaxNodeLabelLength)
	n, err := s.storage.Load(indexNode(s.label, index), buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// RemoveBridgedDeviceNodeLabel removes the label of the device at index.
func (s *StorageManager) RemoveBridgedDeviceNodeLabel(index uint8) error {
	return s.storage.Remove(indexNode(s.label, index))
}

// StoreBridgedDeviceType stores the device type of the device at index.
func (s *StorageManager) StoreBridgedDeviceType(t DeviceType, index uint8) error {
	return s.storage.Store(indexNode(s.typ, index), binary.LittleEndian.AppendUint16(nil, uint16(t)))
}

// LoadBridgedDeviceType loads the device type of the device at index.
func (s *StorageManager) LoadBridgedDeviceType(index uint8) (DeviceType, error) {
	v, err := s.loadUint16(indexNode(s.typ, index))
	return DeviceType(v), err
}

// RemoveBridgedDeviceType removes the device type of the device at index.
func (s *StorageManager) RemoveBridgedDeviceType(index uint8) error {
	return s.storage.Remove(indexNode(s.typ, index))
}

// StoreBtAddress stores the Bluetooth address of the device at index.
func (s *StorageManager) StoreBtAddress(addr ble.Address, index uint8) error {
	data, err := addr.MarshalBinary()
	if err != nil {
		return err
	}
	return s.storage.Store(indexNode(s.btAddr, index), data)
}

// LoadBtAddress loads the Bluetooth address of the device at index.
func (s *StorageManager) LoadBtAddress(index uint8) (ble.Address, error) {
	var addr ble.Address
	buf := make([]byte, ble.AddressSize)
	n, err := s.storage.Load(indexNode(s.btAddr, index), buf)
	if err != nil {
		return addr, err
	}
	err = addr.UnmarshalBinary(buf[:n])
	return addr, err
}

// RemoveBtAddress removes the Bluetooth address of the device at index.
func (s *StorageManager) RemoveBtAddress(index uint8) error {
	return s.storage.Remove(indexNode(s.btAddr, index))
}

// StoreSeed stores the unique ID seed.
func (s *StorageManager) StoreSeed(seed []byte) error {
	if len(seed) != SeedSize {
		return ErrInvalidArgument
	}
	return s.storage.Store(s.seed, seed)
}

// LoadSeed loads the unique ID seed.
func (s *StorageManager) LoadSeed() ([]byte, error) {
	buf := make([]byte, SeedSize)
	n, err := s.storage.Load(s.seed, buf)
	if err != nil {
		return nil, err
	}
	if n != SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes", ErrInternal, n)
	}
	return buf, nil
}

func (s *StorageManager) loadUint16(node *storage.Node) (uint16, error) {
	var buf [2]byte
	n, err := s.storage.Load(node, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 2 {
		return 0, fmt.Errorf("%w: %s is %d bytes", ErrInternal, node, n)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// indexList loads the index list, treating a missing list as empty.
func (s *StorageManager) indexList() ([]uint8, error) {
	ids, err := s.LoadBridgedDevicesIndexes()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return ids, err
}

func (s *StorageManager) storeIndexList(ids []uint8) error {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if err := s.StoreBridgedDevicesIndexes(ids); err != nil {
		return err
	}
	return s.StoreBridgedDevicesCount(uint8(len(ids)))
}

// AddDeviceRecord persists a device. The record is written before the
// index list so that every listed index has a record.
func (s *StorageManager) AddDeviceRecord(r DeviceRecord) error {
	if int(r.Index) >= s.maxDevices {
		return ErrInvalidArgument
	}
	ids, err := s.indexList()
	if err != nil {
		return err
	}

	if err := s.StoreBridgedDeviceEndpointID(r.EndpointID, r.Index); err != nil {
		return err
	}
	if err := s.StoreBridgedDeviceType(r.Type, r.Index); err != nil {
		return err
	}
	if r.Label != "" {
		err = s.StoreBridgedDeviceNodeLabel(r.Label, r.Index)
	} else {
		err = s.RemoveBridgedDeviceNodeLabel(r.Index)
	}
	if err != nil {
		return err
	}
	if r.Address != nil {
		err = s.StoreBtAddress(*r.Address, r.Index)
	} else {
		err = s.RemoveBtAddress(r.Index)
	}
	if err != nil {
		return err
	}

	for _, id := range ids {
		if id == r.Index {
			return nil
		}
	}
	if err := s.storeIndexList(append(ids, r.Index)); err != nil {
		s.removeRecordKeys(r.Index)
		return err
	}
	return nil
}

// RemoveDeviceRecord deletes a device. The index list is updated before
// the record is removed.
func (s *StorageManager) RemoveDeviceRecord(index uint8) error {
	ids, err := s.indexList()
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if id != index {
			kept = append(kept, id)
		}
	}
	if err := s.storeIndexList(kept); err != nil {
		return err
	}
	return s.removeRecordKeys(index)
}

func (s *StorageManager) removeRecordKeys(index uint8) error {
	return errors.Join(
		s.RemoveBridgedDeviceEndpointID(index),
		s.RemoveBridgedDeviceType(index),
		s.RemoveBridgedDeviceNodeLabel(index),
		s.RemoveBtAddress(index),
	)
}

// LoadDeviceRecords loads every listed device. Listed indices without a
// complete record are dropped from the list, and the count is rewritten
// when it disagrees with the list.
func (s *StorageManager) LoadDeviceRecords() ([]DeviceRecord, error) {
	ids, err := s.indexList()
	if err != nil {
		return nil, err
	}

	var records []DeviceRecord
	var kept []uint8
	repair := false
	seen := make(map[uint8]bool)

	for _, index := range ids {
		if seen[index] || int(index) >= s.maxDevices {
			repair = true
			continue
		}
		seen[index] = true

		r, err := s.loadRecord(index)
		if err != nil {
			if s.log != nil {
				s.log.Warnf("Dropping stored device %d: %v", index, err)
			}
			repair = true
			continue
		}
		records = append(records, r)
		kept = append(kept, index)
	}

	count, err := s.LoadBridgedDevicesCount()
	switch {
	case err == nil && int(count) != len(kept):
		repair = true
	case err != nil && len(ids) > 0:
		repair = true
	}
	if repair {
		if err := s.storeIndexList(kept); err != nil {
			return records, err
		}
	}
	return records, nil
}

func (s *StorageManager) loadRecord(index uint8) (DeviceRecord, error) {
	r := DeviceRecord{Index: index}

	ep, err := s.LoadBridgedDeviceEndpointID(index)
	if err != nil {
		return r, fmt.Errorf("endpoint id: %w", err)
	}
	r.EndpointID = ep

	t, err := s.LoadBridgedDeviceType(index)
	if err != nil {
		return r, fmt.Errorf("device type: %w", err)
	}
	if !t.Valid() {
		return r, fmt.Errorf("device type 0x%04X: %w", uint16(t), ErrInvalidArgument)
	}
	r.Type = t

	label, err := s.LoadBridgedDeviceNodeLabel(index)
	switch {
	case err == nil:
		r.Label = label
	case !errors.Is(err, storage.ErrNotFound):
		return r, fmt.Errorf("node label: %w", err)
	}

	addr, err := s.LoadBtAddress(index)
	switch {
	case err == nil:
		r.Address = &addr
	case !errors.Is(err, storage.ErrNotFound):
		return r, fmt.Errorf("bluetooth address: %w", err)
	}
	return r, nil
}
