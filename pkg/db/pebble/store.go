package pebble

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/eigerco/dispersal/pkg/db"
)

// cacheSize is small: the journal holds one short record per dispersed blob.
const cacheSize = 8 << 20

// KVStore implements db.KVStore on top of pebble.
type KVStore struct {
	db     *pebble.DB
	closed bool
	mu     sync.RWMutex
}

var _ db.KVStore = (*KVStore)(nil)

// NewKVStore opens an in-memory store. Contents are lost on Close.
func NewKVStore() (*KVStore, error) {
	return open("", vfs.NewMem())
}

// NewKVStoreAt opens or creates a store in the directory at path.
func NewKVStoreAt(path string) (*KVStore, error) {
	if path == "" {
		return nil, fmt.Errorf("kv-store: empty path")
	}
	return open(path, vfs.Default)
}

func open(path string, fs vfs.FS) (*KVStore, error) {
	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	pdb, err := pebble.Open(path, &pebble.Options{
		Cache: cache,
		FS:    fs,
	})
	if err != nil {
		return nil, fmt.Errorf("kv-store: open %q: %w", path, err)
	}
	return &KVStore{db: pdb}, nil
}

func (p *KVStore) Get(key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close() //nolint:errcheck

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (p *KVStore) Put(key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	return p.db.Set(key, value, pebble.Sync)
}

func (p *KVStore) Delete(key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	return p.db.Delete(key, pebble.Sync)
}

func (p *KVStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
