package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/pkg/db"
	"github.com/eigerco/dispersal/pkg/log"
)

var ErrDispersalNotFound = errors.New("dispersal not found")

// DispersalRecord describes one blob accepted by the disperser and how it was paid for.
type DispersalRecord struct {
	BlobKey           core.BlobKey     `json:"blob_key"`
	RequestID         string           `json:"request_id"`
	PaymentType       core.PaymentType `json:"payment_type"`
	CumulativePayment []byte           `json:"cumulative_payment,omitempty"`
	Increment         string           `json:"increment"`
	Quorums           []core.QuorumID  `json:"quorums"`
	DataLength        uint64           `json:"data_length"`
	Timestamp         time.Time        `json:"timestamp"`
	Status            core.BlobStatus  `json:"status"`
}

// Dispersals is a journal of dispersed blobs keyed by blob key. It is
// informational only; payment state always comes from the disperser.
type Dispersals struct {
	db.KVStore
}

func NewDispersals(store db.KVStore) *Dispersals {
	return &Dispersals{KVStore: store}
}

func dispersalKey(key core.BlobKey) []byte {
	return makeKey(prefixDispersal, key[:])
}

// PutDispersal stores rec, replacing any record with the same blob key.
func (d *Dispersals) PutDispersal(rec DispersalRecord) error {
	bytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dispersal: %w", err)
	}
	if err := d.Put(dispersalKey(rec.BlobKey), bytes); err != nil {
		return fmt.Errorf("put dispersal: %w", err)
	}
	log.Store.Debug().Stringer("blob_key", rec.BlobKey).Stringer("status", rec.Status).Msg("dispersal recorded")
	return nil
}

func (d *Dispersals) GetDispersal(key core.BlobKey) (DispersalRecord, error) {
	bytes, err := d.Get(dispersalKey(key))
	if errors.Is(err, db.ErrNotFound) {
		return DispersalRecord{}, fmt.Errorf("%w: %s", ErrDispersalNotFound, key)
	}
	if err != nil {
		return DispersalRecord{}, fmt.Errorf("get dispersal: %w", err)
	}
	var rec DispersalRecord
	if err := json.Unmarshal(bytes, &rec); err != nil {
		return DispersalRecord{}, fmt.Errorf("unmarshal dispersal: %w", err)
	}
	return rec, nil
}

// UpdateStatus sets the status of an existing record.
func (d *Dispersals) UpdateStatus(key core.BlobKey, status core.BlobStatus) error {
	rec, err := d.GetDispersal(key)
	if err != nil {
		return err
	}
	if rec.Status == status {
		return nil
	}
	rec.Status = status
	return d.PutDispersal(rec)
}

func (d *Dispersals) DeleteDispersal(key core.BlobKey) error {
	if err := d.Delete(dispersalKey(key)); err != nil {
		return fmt.Errorf("delete dispersal: %w", err)
	}
	return nil
}

// ListDispersals returns every record, oldest first.
func (d *Dispersals) ListDispersals() ([]DispersalRecord, error) {
	start, end := prefixRange(prefixDispersal)
	iter, err := d.NewIterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	var records []DispersalRecord
	for iter.Next() {
		value, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("read dispersal: %w", err)
		}
		var rec DispersalRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal dispersal: %w", err)
		}
		records = append(records, rec)
	}

	slices.SortStableFunc(records, func(a, b DispersalRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return records, nil
}
