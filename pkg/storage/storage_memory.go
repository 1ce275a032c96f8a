package storage

import "sync"

// MemoryStorage is an in-memory Storage implementation.
// Useful for testing and development. Data is lost when the process exits.
//
// All methods are safe for concurrent use.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed bool
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: make(map[string][]byte),
	}
}

// Store stores a copy of data.
func (m *MemoryStorage) Store(node *Node, data []byte) error {
	key, err := node.Key()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.values[key] = append([]byte(nil), data...)
	return nil
}

// Load copies the stored value into buf.
func (m *MemoryStorage) Load(node *Node, buf []byte) (int, error) {
	key, err := node.Key()
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	value, ok := m.values[key]
	if !ok {
		return 0, ErrNotFound
	}
	if len(value) > len(buf) {
		return 0, ErrBufferTooSmall
	}
	return copy(buf, value), nil
}

// HasEntry reports whether the key is present.
func (m *MemoryStorage) HasEntry(node *Node) bool {
	key, err := node.Key()
	if err != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok
}

// Remove deletes the key.
func (m *MemoryStorage) Remove(node *Node) error {
	key, err := node.Key()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.values, key)
	return nil
}

// Keys returns all stored keys. Order is unspecified.
func (m *MemoryStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

// Close marks the storage closed. Stored values are dropped.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.values = nil
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
