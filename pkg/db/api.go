// Package db defines the key-value storage contract behind the dispersal journal.
// pkg/db/pebble provides the on-disk and in-memory implementations.
package db

import "errors"

// ErrNotFound is returned by KVStore.Get for a missing key. Implementations
// return it, or an error wrapping it, so callers need not know the backend.
var ErrNotFound = errors.New("kv-store: key not found")

// KVStore is a byte-keyed store. Keys of one record type share a one byte prefix
// so a record type can be listed with a single range iterator.
type KVStore interface {
	Writer
	// Get returns the value stored at key or ErrNotFound.
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	NewBatch() Batch
	// NewIterator walks the keys in [start, end) in ascending order.
	NewIterator(start, end []byte) (Iterator, error)
	Close() error
}

type Writer interface {
	Put(key []byte, value []byte) error
}

// Batch groups writes that become visible together on Commit. A batch cannot be
// reused after Commit; Close releases it either way.
type Batch interface {
	Writer
	Delete(key []byte) error
	Commit() error
	Close() error
}

// Iterator is positioned before the first key until Next is called.
// Iterators must be closed after use.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Valid() bool
	Close() error
}
