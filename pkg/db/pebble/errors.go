package pebble

import (
	"errors"

	"github.com/eigerco/dispersal/pkg/db"
)

var (
	ErrClosed = errors.New("kv-store: database is closed")
	// ErrNotFound is db.ErrNotFound so callers can match it through the interface.
	ErrNotFound        = db.ErrNotFound
	ErrBatchDone       = errors.New("kv-store: batch already committed or closed")
	ErrIteratorInvalid = errors.New("kv-store: iterator is not positioned")
)
