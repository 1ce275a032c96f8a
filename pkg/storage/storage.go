// Package storage provides a hierarchical key/value store for durable
// bridge state.
//
// Keys are built from Node chains and joined with "/", so the node
// "eid" under "brd" under "br" is stored as "br/brd/eid".
package storage

import (
	"errors"
	"strings"
)

// Errors returned by storage operations.
var (
	// ErrNotFound indicates no value is stored under the key.
	ErrNotFound = errors.New("storage: not found")

	// ErrBufferTooSmall indicates the stored value is larger than the load buffer.
	ErrBufferTooSmall = errors.New("storage: buffer too small")

	// ErrInvalidKey indicates an empty node name or one containing the separator.
	ErrInvalidKey = errors.New("storage: invalid key")

	// ErrClosed indicates the storage was closed.
	ErrClosed = errors.New("storage: closed")
)

// Separator joins node names into keys.
const Separator = "/"

// Node is one element of a hierarchical key.
type Node struct {
	name   string
	parent *Node
}

// NewNode creates a key node under parent. A nil parent makes a root node.
func NewNode(name string, parent *Node) *Node {
	return &Node{name: name, parent: parent}
}

// Child returns a node named name under n.
func (n *Node) Child(name string) *Node {
	return NewNode(name, n)
}

// Name returns the node's own name.
func (n *Node) Name() string {
	return n.name
}

// Key returns the full key of the node.
func (n *Node) Key() (string, error) {
	var parts []string
	for cur := n; cur != nil; cur = cur.parent {
		if cur.name == "" || strings.Contains(cur.name, Separator) {
			return "", ErrInvalidKey
		}
		parts = append(parts, cur.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, Separator), nil
}

// String returns the key, or the node name if the key is invalid.
func (n *Node) String() string {
	key, err := n.Key()
	if err != nil {
		return n.name
	}
	return key
}

// Storage abstracts durable key/value storage.
// Implementations can use files, databases, or in-memory storage.
//
// All methods must be safe for concurrent use.
type Storage interface {
	// Store writes data under the node's key, replacing any previous value.
	Store(node *Node, data []byte) error

	// Load copies the stored value into buf and returns its size.
	// Returns ErrNotFound if the key is absent and ErrBufferTooSmall
	// if buf cannot hold the value.
	Load(node *Node, buf []byte) (int, error)

	// HasEntry reports whether a value is stored under the key.
	HasEntry(node *Node) bool

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(node *Node) error

	// Close releases resources held by the storage.
	Close() error
}
