package accountant

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/meterer"
)

// Payment is the outcome of accounting one blob. Value is empty for reservation payments
// and the big-endian cumulative payment for on-demand ones.
type Payment struct {
	Value     []byte
	Type      core.PaymentType
	Increment *uint256.Int
}

// State is the per-quorum payment state reported by the disperser.
type State struct {
	Reservations    map[core.QuorumID]core.ReservedPayment
	ProtocolConfigs map[core.QuorumID]core.PaymentQuorumProtocolConfig
	PaymentConfigs  map[core.QuorumID]core.PaymentQuorumConfig
	OnDemandQuorums []core.QuorumID
}

// Reservation accounts blobs against per-quorum reservations and falls back to on-demand
// payment. A single mutex guards the cumulative payment and the period records.
type Reservation struct {
	mu                sync.Mutex
	accountID         common.Address
	cumulativePayment *uint256.Int
	reservations      map[core.QuorumID]core.ReservedPayment
	protocolConfigs   map[core.QuorumID]core.PaymentQuorumProtocolConfig
	paymentConfigs    map[core.QuorumID]core.PaymentQuorumConfig
	onDemandQuorums   map[core.QuorumID]struct{}
	periodRecords     core.QuorumPeriodRecords
	config            PaymentConfig
	logger            zerolog.Logger
	metrics           *Metrics
}

func NewReservation(accountID common.Address, state State, cfg PaymentConfig, opts ...Option) (*Reservation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	a := &Reservation{
		accountID:         accountID,
		cumulativePayment: new(uint256.Int),
		periodRecords:     make(core.QuorumPeriodRecords),
		config:            cfg,
		logger:            o.logger,
		metrics:           o.metrics,
	}
	a.replaceState(state)
	return a, nil
}

func (a *Reservation) AccountID() common.Address {
	return a.accountID
}

// AccountBlob decides how a blob of dataLen bytes dispersed to quorums at timestampNs is paid.
// Reservation capacity is tried first for all quorums at once. If any quorum cannot be served,
// no usage is recorded and the blob is paid on demand, which commits the cumulative payment.
// A reservation charge is final once returned, whatever happens to the dispersal afterwards.
func (a *Reservation) AccountBlob(dataLen uint64, quorums []core.QuorumID, timestampNs int64) (Payment, error) {
	if len(quorums) == 0 {
		return Payment{}, ErrNoQuorums
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reservationErr := a.tryReservation(dataLen, quorums, timestampNs)
	if reservationErr == nil {
		a.metrics.ObservePayment(core.PaymentTypeReservation, nil)
		a.logger.Debug().
			Uint64("data_length", dataLen).
			Int("quorums", len(quorums)).
			Msg("blob paid by reservation")
		return Payment{Value: []byte{}, Type: core.PaymentTypeReservation, Increment: new(uint256.Int)}, nil
	}

	a.metrics.fallback(reservationErr)
	a.logger.Debug().Err(reservationErr).Msg("reservation unavailable, trying on-demand")

	return a.accountOnDemand(dataLen, quorums, reservationErr)
}

// AccountOnDemand pays for the blob on demand without trying reservations. It is used
// after the disperser rejected a reservation payment.
func (a *Reservation) AccountOnDemand(dataLen uint64, quorums []core.QuorumID) (Payment, error) {
	if len(quorums) == 0 {
		return Payment{}, ErrNoQuorums
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accountOnDemand(dataLen, quorums, nil)
}

// accountOnDemand commits the on-demand increment. Callers must hold a.mu.
func (a *Reservation) accountOnDemand(dataLen uint64, quorums []core.QuorumID, reservationErr error) (Payment, error) {
	for _, q := range quorums {
		if _, ok := a.onDemandQuorums[q]; !ok {
			if reservationErr != nil {
				return Payment{}, fmt.Errorf("%w %d (reservation: %v)", ErrOnDemandUnsupportedForQuorum, q, reservationErr)
			}
			return Payment{}, fmt.Errorf("%w %d", ErrOnDemandUnsupportedForQuorum, q)
		}
	}

	increment := a.config.Increment(dataLen)
	total, overflow := new(uint256.Int).AddOverflow(a.cumulativePayment, increment)
	if overflow {
		return Payment{}, fmt.Errorf("%w: current %s, increment %s", ErrPaymentOverflow, a.cumulativePayment.Dec(), increment.Dec())
	}
	a.cumulativePayment = total

	a.metrics.ObservePayment(core.PaymentTypeOnDemand, increment)
	a.metrics.setCumulative(total)
	a.logger.Debug().
		Uint64("data_length", dataLen).
		Str("increment", increment.Dec()).
		Str("cumulative_payment", total.Dec()).
		Msg("blob paid on demand")

	return Payment{Value: total.Bytes(), Type: core.PaymentTypeOnDemand, Increment: increment}, nil
}

// tryReservation charges every quorum or none. Callers must hold a.mu.
func (a *Reservation) tryReservation(dataLen uint64, quorums []core.QuorumID, timestampNs int64) error {
	if err := meterer.ValidateReservations(a.reservations, a.protocolConfigs, quorums, timestampNs, timestampNs); err != nil {
		return err
	}

	snapshot := a.periodRecords.Clone()
	for _, q := range quorums {
		reservation, ok := a.reservations[q]
		if !ok {
			a.periodRecords = snapshot
			return fmt.Errorf("%w %d", meterer.ErrNoReservationForQuorum, q)
		}
		cfg, ok := a.protocolConfigs[q]
		if !ok {
			a.periodRecords = snapshot
			return fmt.Errorf("%w %d", meterer.ErrNoProtocolConfigForQuorum, q)
		}

		symbols := meterer.SymbolsCharged(meterer.SymbolsFor(dataLen), cfg.MinNumSymbols)
		records, err := meterer.ValidateAndCharge(reservation, cfg, a.periodRecords[q], timestampNs, symbols)
		if err != nil {
			a.periodRecords = snapshot
			return fmt.Errorf("quorum %d: %w", q, err)
		}
		a.periodRecords[q] = records
	}
	return nil
}

// SetCumulativePayment overwrites the cumulative payment. A nil amount resets it to zero.
func (a *Reservation) SetCumulativePayment(amount *uint256.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if amount == nil {
		a.cumulativePayment = new(uint256.Int)
	} else {
		a.cumulativePayment = new(uint256.Int).Set(amount)
	}
	a.metrics.setCumulative(a.cumulativePayment)
}

func (a *Reservation) CumulativePayment() *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(uint256.Int).Set(a.cumulativePayment)
}

// GetPeriodRecords returns a copy of the period records of quorum q.
func (a *Reservation) GetPeriodRecords(q core.QuorumID) []core.PeriodRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.periodRecords[q])
}

func (a *Reservation) Reservations() map[core.QuorumID]core.ReservedPayment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.reservations)
}

// QuorumPaymentConfig returns the pricing the disperser reported for quorum q.
func (a *Reservation) QuorumPaymentConfig(q core.QuorumID) (core.PaymentQuorumConfig, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg, ok := a.paymentConfigs[q]
	return cfg, ok
}

func (a *Reservation) HasReservation(q core.QuorumID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.reservations[q]
	return ok
}

// OnDemandQuorums returns the quorums accepting on-demand payment in ascending order.
func (a *Reservation) OnDemandQuorums() []core.QuorumID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Sorted(maps.Keys(a.onDemandQuorums))
}

func (a *Reservation) Config() PaymentConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

func (a *Reservation) SetConfig(cfg PaymentConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = cfg
	return nil
}

// ReplaceState clears all reservation state and repopulates it from state. Period records
// survive only for quorums that still hold a reservation.
func (a *Reservation) ReplaceState(state State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replaceState(state)
}

func (a *Reservation) replaceState(state State) {
	a.reservations = make(map[core.QuorumID]core.ReservedPayment, len(state.Reservations))
	for q, r := range state.Reservations {
		r.QuorumNumbers = slices.Clone(r.QuorumNumbers)
		r.QuorumSplits = slices.Clone(r.QuorumSplits)
		a.reservations[q] = r
	}
	a.protocolConfigs = maps.Clone(state.ProtocolConfigs)
	if a.protocolConfigs == nil {
		a.protocolConfigs = make(map[core.QuorumID]core.PaymentQuorumProtocolConfig)
	}
	a.paymentConfigs = maps.Clone(state.PaymentConfigs)
	if a.paymentConfigs == nil {
		a.paymentConfigs = make(map[core.QuorumID]core.PaymentQuorumConfig)
	}
	a.onDemandQuorums = make(map[core.QuorumID]struct{}, len(state.OnDemandQuorums))
	for _, q := range state.OnDemandQuorums {
		a.onDemandQuorums[q] = struct{}{}
	}
	for q := range a.periodRecords {
		if _, ok := a.reservations[q]; !ok {
			delete(a.periodRecords, q)
		}
	}
}
