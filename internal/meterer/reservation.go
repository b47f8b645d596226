package meterer

import (
	"fmt"
	"slices"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/safemath"
)

// ValidateReservationPeriod checks that the bin of the period containing timestampNs can absorb
// symbolsToCharge more symbols. It returns the record that would be charged; records is not modified.
func ValidateReservationPeriod(
	reservation core.ReservedPayment,
	records []core.PeriodRecord,
	timestampNs int64,
	windowSeconds uint64,
	symbolsToCharge uint64,
) (core.PeriodRecord, error) {
	currentPeriod := PeriodOf(timestampNs, windowSeconds)
	bin := BinIndex(currentPeriod, MinNumBins)

	record := core.PeriodRecord{Index: currentPeriod}
	for _, r := range records {
		if BinIndex(r.Index, MinNumBins) == bin {
			record = r
			break
		}
	}

	if record.Index > currentPeriod {
		return core.PeriodRecord{}, fmt.Errorf("%w: period %d, bin holds period %d",
			ErrPeriodInPast, currentPeriod, record.Index)
	}

	limit := BinLimit(reservation.SymbolsPerSecond, windowSeconds, MinNumBins)
	usage, ok := safemath.Add64(record.Usage, symbolsToCharge)
	if !ok || usage > limit {
		return core.PeriodRecord{}, fmt.Errorf("%w: need %d symbols, bin has %d/%d used",
			ErrInsufficientCapacity, symbolsToCharge, record.Usage, limit)
	}

	return record, nil
}

// ValidateAndCharge validates the request against the reservation and returns a new record set
// with the usage committed. The input records are left untouched.
func ValidateAndCharge(
	reservation core.ReservedPayment,
	config core.PaymentQuorumProtocolConfig,
	records []core.PeriodRecord,
	timestampNs int64,
	symbolsToCharge uint64,
) ([]core.PeriodRecord, error) {
	window := config.ReservationRateLimitWindow
	if _, err := ValidateReservationPeriod(reservation, records, timestampNs, window, symbolsToCharge); err != nil {
		return nil, err
	}
	return UpdatePeriodRecord(records, PeriodOf(timestampNs, window), symbolsToCharge, MinNumBins), nil
}

// UpdatePeriodRecord adds symbolsToAdd to the record sharing the bin of period and restamps it
// with period, or appends a new record. When more than maxBins records remain the oldest
// periods are evicted. It must only be called after ValidateReservationPeriod accepted the
// same period, otherwise a past period silently overwrites a newer one.
func UpdatePeriodRecord(records []core.PeriodRecord, period, symbolsToAdd, maxBins uint64) []core.PeriodRecord {
	out := slices.Clone(records)
	bin := BinIndex(period, maxBins)

	for i := range out {
		if BinIndex(out[i].Index, maxBins) == bin {
			usage, ok := safemath.Add64(out[i].Usage, symbolsToAdd)
			if !ok {
				usage = ^uint64(0)
			}
			out[i].Usage = usage
			out[i].Index = period
			return out
		}
	}

	out = append(out, core.PeriodRecord{Index: period, Usage: symbolsToAdd})
	if uint64(len(out)) > maxBins {
		slices.SortFunc(out, func(a, b core.PeriodRecord) int {
			switch {
			case a.Index > b.Index:
				return -1
			case a.Index < b.Index:
				return 1
			default:
				return 0
			}
		})
		out = out[:maxBins]
	}
	return out
}

// ValidateReservations checks that every requested quorum has an active reservation covering
// the request. Presence of reservations and configs is checked for all quorums before any
// per-quorum check runs. The first failure is returned.
func ValidateReservations(
	reservations map[core.QuorumID]core.ReservedPayment,
	configs map[core.QuorumID]core.PaymentQuorumProtocolConfig,
	quorums []core.QuorumID,
	headerTimestampNs int64,
	receivedTimestampNs int64,
) error {
	for _, q := range quorums {
		if _, ok := reservations[q]; !ok {
			return fmt.Errorf("%w %d", ErrNoReservationForQuorum, q)
		}
		if _, ok := configs[q]; !ok {
			return fmt.Errorf("%w %d", ErrNoProtocolConfigForQuorum, q)
		}
	}

	now := NanosecondsToSeconds(receivedTimestampNs)
	declared := NanosecondsToSeconds(headerTimestampNs)
	for _, q := range quorums {
		reservation := reservations[q]
		config := configs[q]

		if !reservation.IsActive(now) {
			return fmt.Errorf("%w: quorum %d at %d", ErrReservationInactive, q, now)
		}
		if declared < reservation.StartTimestamp {
			return fmt.Errorf("%w: quorum %d: timestamp %d is before reservation start %d",
				ErrTimestampOutOfRange, q, declared, reservation.StartTimestamp)
		}
		if declared > reservation.EndTimestamp {
			return fmt.Errorf("%w: quorum %d: timestamp %d is after reservation end %d",
				ErrTimestampOutOfRange, q, declared, reservation.EndTimestamp)
		}
		if !WithinAdvanceWindow(now, reservation.StartTimestamp, config.ReservationAdvanceWindow) {
			return fmt.Errorf("%w: quorum %d starts at %d, current time %d",
				ErrOutsideAdvanceWindow, q, reservation.StartTimestamp, now)
		}
	}
	return nil
}
