package core

import (
	"fmt"
	"slices"
	"strconv"
)

// QuorumID identifies a quorum of operators that stores a blob.
type QuorumID uint8

// MarshalJSON encodes quorum lists as arrays of numbers instead of base64.
func (q QuorumID) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(q), 10), nil
}

// ReservedPayment is a pre-purchased bandwidth reservation of an account.
// Timestamps are unix seconds and both bounds are inclusive.
type ReservedPayment struct {
	SymbolsPerSecond uint64
	StartTimestamp   uint64
	EndTimestamp     uint64
	QuorumNumbers    []QuorumID
	QuorumSplits     []byte
}

// IsActive reports whether the reservation covers nowSeconds.
func (r ReservedPayment) IsActive(nowSeconds uint64) bool {
	return r.StartTimestamp <= nowSeconds && nowSeconds <= r.EndTimestamp
}

// Validate checks the reservation's own invariants.
func (r ReservedPayment) Validate() error {
	if r.StartTimestamp > r.EndTimestamp {
		return fmt.Errorf("%w: start %d after end %d", ErrInvalidReservation, r.StartTimestamp, r.EndTimestamp)
	}
	return nil
}

// PaymentQuorumProtocolConfig holds the per-quorum protocol rules. Windows are in seconds.
type PaymentQuorumProtocolConfig struct {
	MinNumSymbols              uint64
	ReservationAdvanceWindow   uint64
	ReservationRateLimitWindow uint64
	OnDemandRateLimitWindow    uint64
	OnDemandEnabled            bool
}

// PaymentQuorumConfig holds the per-quorum pricing.
type PaymentQuorumConfig struct {
	ReservationSymbolsPerSecond uint64
	OnDemandSymbolsPerSecond    uint64
	OnDemandPricePerSymbol      uint64
}

// PeriodRecord is the usage of one account in one quorum during one reservation period.
type PeriodRecord struct {
	Index uint64
	Usage uint64
}

// QuorumPeriodRecords maps each quorum to its circular bin records.
type QuorumPeriodRecords map[QuorumID][]PeriodRecord

// Clone returns a deep copy, detached from the receiver.
func (q QuorumPeriodRecords) Clone() QuorumPeriodRecords {
	if q == nil {
		return nil
	}
	out := make(QuorumPeriodRecords, len(q))
	for id, records := range q {
		out[id] = slices.Clone(records)
	}
	return out
}
