package pebble

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/dispersal/pkg/db"
)

func newStore(t *testing.T) db.KVStore {
	t.Helper()
	store, err := NewKVStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestKVStorePutGetDelete(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Put([]byte("k"), []byte("v")))
	got, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, store.Put([]byte("k"), []byte("v2")))
	got, err = store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, store.Delete([]byte("k")))
	_, err = store.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, db.ErrNotFound, "matches through the interface package")
}

func TestKVStoreClosed(t *testing.T) {
	store, err := NewKVStore()
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Put([]byte("k"), nil), ErrClosed)
	assert.ErrorIs(t, store.Delete([]byte("k")), ErrClosed)
	_, err = store.NewIterator(nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, store.Close())
}

func TestKVStoreAtPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")

	store, err := NewKVStoreAt(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put([]byte("k"), []byte("v")))
	require.NoError(t, store.Close())

	store, err = NewKVStoreAt(dir)
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	got, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = NewKVStoreAt("")
	assert.Error(t, err)
}

func TestBatch(t *testing.T) {
	store := newStore(t)

	batch := store.NewBatch()
	require.NoError(t, batch.Put([]byte("a"), []byte("1")))
	require.NoError(t, batch.Put([]byte("b"), []byte("2")))
	require.NoError(t, batch.Delete([]byte("a")))

	_, err := store.Get([]byte("b"))
	assert.ErrorIs(t, err, ErrNotFound, "uncommitted writes are invisible")

	require.NoError(t, batch.Commit())
	_, err = store.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := store.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)

	assert.ErrorIs(t, batch.Put([]byte("c"), nil), ErrBatchDone)
	assert.ErrorIs(t, batch.Delete([]byte("c")), ErrBatchDone)
	assert.ErrorIs(t, batch.Commit(), ErrBatchDone)
	assert.NoError(t, batch.Close())
}

func TestBatchDiscard(t *testing.T) {
	store := newStore(t)

	batch := store.NewBatch()
	require.NoError(t, batch.Put([]byte("a"), []byte("1")))
	require.NoError(t, batch.Close())
	require.NoError(t, batch.Close())

	_, err := store.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIterator(t *testing.T) {
	store := newStore(t)
	for _, k := range []string{"a1", "a2", "b1", "c1"} {
		require.NoError(t, store.Put([]byte(k), []byte("v-"+k)))
	}

	tests := []struct {
		name       string
		start, end []byte
		want       []string
	}{
		{name: "full range", want: []string{"a1", "a2", "b1", "c1"}},
		{name: "prefix", start: []byte("a"), end: []byte("b"), want: []string{"a1", "a2"}},
		{name: "open end", start: []byte("b"), want: []string{"b1", "c1"}},
		{name: "empty", start: []byte("x"), end: []byte("y")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			iter, err := store.NewIterator(tc.start, tc.end)
			require.NoError(t, err)
			defer iter.Close() //nolint:errcheck

			var keys []string
			for iter.Next() {
				require.True(t, iter.Valid())
				v, err := iter.Value()
				require.NoError(t, err)
				assert.Equal(t, "v-"+string(iter.Key()), string(v))
				keys = append(keys, string(iter.Key()))
			}
			assert.Equal(t, tc.want, keys)

			_, err = iter.Value()
			assert.ErrorIs(t, err, ErrIteratorInvalid)
		})
	}
}
