package paymentstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eigerco/dispersal/internal/accountant"
	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/pkg/log"
)

// Session owns the payment state of one account. The caller creates it, refreshes it from the
// disperser and asks it how to pay for each blob.
//
// Network calls happen before the session lock is taken. A failed fetch leaves the session as it was.
type Session struct {
	mu             sync.RWMutex
	accountID      common.Address
	mode           Mode
	variant        Variant
	preferOnDemand bool
	reservation    *core.ReservedPayment

	simple   *accountant.Simple
	advanced *accountant.Reservation
	config   accountant.PaymentConfig

	clock   func() time.Time
	limiter *rate.Limiter
	logger  zerolog.Logger
	metrics *accountant.Metrics
}

type Option func(*Session)

func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// WithRefreshLimit throttles refreshes after the first one to limit per second with the given burst.
func WithRefreshLimit(limit rate.Limit, burst int) Option {
	return func(s *Session) {
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

func WithMetrics(m *accountant.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

func NewSession(accountID common.Address, cfg accountant.PaymentConfig, opts ...Option) (*Session, error) {
	s := &Session{
		accountID: accountID,
		config:    cfg,
		clock:     time.Now,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		logger:    log.Accounting,
	}
	for _, opt := range opts {
		opt(s)
	}

	simple, err := accountant.NewSimple(accountID, cfg, s.accountantOptions()...)
	if err != nil {
		return nil, err
	}
	s.simple = simple
	return s, nil
}

func (s *Session) accountantOptions() []accountant.Option {
	return []accountant.Option{accountant.WithLogger(s.logger), accountant.WithMetrics(s.metrics)}
}

func (s *Session) AccountID() common.Address {
	return s.accountID
}

func (s *Session) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *Session) Variant() Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.variant
}

// Advanced returns the per-quorum accountant, or nil before the first advanced refresh.
func (s *Session) Advanced() *accountant.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.advanced
}

func (s *Session) allowRefresh() error {
	if s.Mode() == ModeUninitialized {
		return nil
	}
	if !s.limiter.Allow() {
		return ErrRefreshThrottled
	}
	return nil
}

// RefreshSimple selects the payment mode from the single-reservation state of the account.
func (s *Session) RefreshSimple(ctx context.Context, src Source) error {
	if err := s.allowRefresh(); err != nil {
		return err
	}
	state, err := src.GetPaymentState(ctx, s.accountID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPaymentStateFetchFailed, err)
	}
	s.applySimple(state, false)
	return nil
}

// RefreshAdvanced rebuilds the per-quorum accountant from the state of all quorums.
func (s *Session) RefreshAdvanced(ctx context.Context, src Source) error {
	if err := s.allowRefresh(); err != nil {
		return err
	}
	state, err := src.GetPaymentStateForAllQuorums(ctx, s.accountID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPaymentStateFetchFailed, err)
	}
	return s.applyAdvanced(state, false)
}

// ForceOnDemand re-reads the payment state after the disperser rejected a reservation payment
// and switches to on-demand payment. It fails with ErrNoPaymentMethodAvailable if the account
// has no on-demand deposit.
func (s *Session) ForceOnDemand(ctx context.Context, src Source) error {
	if s.Variant() == VariantAdvanced {
		state, err := src.GetPaymentStateForAllQuorums(ctx, s.accountID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPaymentStateFetchFailed, err)
		}
		if err := s.applyAdvanced(state, true); err != nil {
			return err
		}
	} else {
		state, err := src.GetPaymentState(ctx, s.accountID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPaymentStateFetchFailed, err)
		}
		s.applySimple(state, true)
	}

	if s.Mode() != ModeOnDemand {
		return ErrNoPaymentMethodAvailable
	}
	return nil
}

func (s *Session) applySimple(state *PaymentState, preferOnDemand bool) {
	if state == nil {
		state = &PaymentState{}
	}
	nowS := uint64(s.clock().Unix())

	if gp := state.GlobalParams; gp != nil {
		cfg := accountant.PaymentConfig{PricePerSymbol: gp.PricePerSymbol, MinNumSymbols: gp.MinNumSymbols}
		if err := s.simple.SetConfig(cfg); err != nil {
			s.logger.Warn().Err(err).Msg("ignoring global payment params")
		} else {
			s.mu.Lock()
			s.config = cfg
			s.mu.Unlock()
		}
	}

	activeReservation := state.Reservation != nil && state.Reservation.IsActive(nowS)
	deposit := hasDeposit(state.OnchainCumulativePayment)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.variant = VariantSimple
	s.preferOnDemand = false
	s.reservation = nil
	switch {
	case activeReservation && !preferOnDemand:
		s.mode = ModeReservation
		r := *state.Reservation
		s.reservation = &r
		s.logger.Info().Uint64("end", r.EndTimestamp).Msg("active reservation found")
	case deposit:
		s.mode = ModeOnDemand
		s.simple.SetCumulativePayment(state.CumulativePayment)
		s.logger.Info().Str("cumulative_payment", s.simple.CumulativePayment().Dec()).Msg("on-demand payment available")
	default:
		s.mode = ModeNone
		s.logger.Warn().Msg("no active reservation or on-demand deposit found")
	}
}

func (s *Session) applyAdvanced(state *QuorumPaymentState, preferOnDemand bool) error {
	if state == nil {
		state = &QuorumPaymentState{}
	}
	nowS := uint64(s.clock().Unix())

	accState := accountant.State{
		Reservations:    state.Reservations,
		ProtocolConfigs: state.ProtocolConfigs,
		PaymentConfigs:  state.PaymentConfigs,
		OnDemandQuorums: state.OnDemandQuorums,
	}

	activeReservation := false
	for _, r := range state.Reservations {
		if r.IsActive(nowS) {
			activeReservation = true
			break
		}
	}
	onDemand := len(state.OnDemandQuorums) > 0 && hasDeposit(state.OnchainCumulativePayment)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.advanced == nil {
		a, err := accountant.NewReservation(s.accountID, accState, s.config, s.accountantOptions()...)
		if err != nil {
			return err
		}
		s.advanced = a
	} else {
		s.advanced.ReplaceState(accState)
		if err := s.advanced.SetConfig(s.config); err != nil {
			return err
		}
	}
	s.advanced.SetCumulativePayment(state.CumulativePayment)

	s.variant = VariantAdvanced
	s.reservation = nil
	s.preferOnDemand = preferOnDemand
	switch {
	case activeReservation && !preferOnDemand:
		s.mode = ModeReservation
	case onDemand:
		s.mode = ModeOnDemand
	default:
		s.mode = ModeNone
	}

	s.logger.Info().
		Stringer("mode", s.mode).
		Int("reservations", len(state.Reservations)).
		Int("on_demand_quorums", len(state.OnDemandQuorums)).
		Msg("payment state refreshed")
	return nil
}

// Payment decides how to pay for a blob of dataLen bytes. Simple on-demand payments are quotes
// and must be confirmed with Commit once the disperser accepted the blob.
func (s *Session) Payment(dataLen uint64, quorums []core.QuorumID, timestampNs int64) (accountant.Payment, error) {
	s.mu.RLock()
	mode, variant, preferOnDemand, advanced := s.mode, s.variant, s.preferOnDemand, s.advanced
	s.mu.RUnlock()

	switch mode {
	case ModeUninitialized:
		return accountant.Payment{}, ErrSessionUninitialized
	case ModeNone:
		return accountant.Payment{}, ErrNoPaymentMethodAvailable
	}

	if variant == VariantAdvanced {
		if preferOnDemand {
			return advanced.AccountOnDemand(dataLen, quorums)
		}
		return advanced.AccountBlob(dataLen, quorums, timestampNs)
	}

	if mode == ModeReservation {
		return accountant.Payment{Value: []byte{}, Type: core.PaymentTypeReservation, Increment: new(uint256.Int)}, nil
	}

	value, increment, err := s.simple.AccountBlob(dataLen)
	if err != nil {
		return accountant.Payment{}, err
	}
	return accountant.Payment{Value: value, Type: core.PaymentTypeOnDemand, Increment: increment}, nil
}

// Commit records an accepted payment. Simple on-demand quotes become the new cumulative
// payment and simple payments are counted here; the per-quorum accountant does both while accounting.
func (s *Session) Commit(p accountant.Payment) {
	if s.Variant() != VariantSimple {
		return
	}
	switch p.Type {
	case core.PaymentTypeReservation:
		s.metrics.ObservePayment(p.Type, nil)
	case core.PaymentTypeOnDemand:
		s.simple.SetCumulativePayment(new(uint256.Int).SetBytes(p.Value))
		s.metrics.ObservePayment(p.Type, p.Increment)
	}
}

// CumulativePayment returns the cumulative on-demand payment of the active accounting model.
func (s *Session) CumulativePayment() *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.variant == VariantAdvanced && s.advanced != nil {
		return s.advanced.CumulativePayment()
	}
	return s.simple.CumulativePayment()
}

func (s *Session) Config() accountant.PaymentConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}
