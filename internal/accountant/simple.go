package accountant

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Simple tracks a single on-demand cumulative payment. AccountBlob only quotes;
// the counter changes only through SetCumulativePayment.
type Simple struct {
	mu                sync.RWMutex
	accountID         common.Address
	cumulativePayment *uint256.Int
	config            PaymentConfig
	logger            zerolog.Logger
	metrics           *Metrics
}

func NewSimple(accountID common.Address, cfg PaymentConfig, opts ...Option) (*Simple, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &Simple{
		accountID:         accountID,
		cumulativePayment: new(uint256.Int),
		config:            cfg,
		logger:            o.logger,
		metrics:           o.metrics,
	}, nil
}

func (s *Simple) AccountID() common.Address {
	return s.accountID
}

// SetCumulativePayment overwrites the tracked cumulative payment. A nil amount resets it to zero.
func (s *Simple) SetCumulativePayment(amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount == nil {
		s.cumulativePayment = new(uint256.Int)
	} else {
		s.cumulativePayment = new(uint256.Int).Set(amount)
	}
	s.metrics.setCumulative(s.cumulativePayment)
}

func (s *Simple) CumulativePayment() *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(uint256.Int).Set(s.cumulativePayment)
}

func (s *Simple) Config() PaymentConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SetConfig replaces the pricing, typically with the server's global parameters.
func (s *Simple) SetConfig(cfg PaymentConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	return nil
}

// AccountBlob quotes the on-demand payment for dataLen bytes. It returns the new cumulative
// total as minimal big-endian bytes and the increment. State is not modified.
func (s *Simple) AccountBlob(dataLen uint64) ([]byte, *uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	increment := s.config.Increment(dataLen)
	total, overflow := new(uint256.Int).AddOverflow(s.cumulativePayment, increment)
	if overflow {
		return nil, nil, fmt.Errorf("%w: current %s, increment %s", ErrPaymentOverflow, s.cumulativePayment.Dec(), increment.Dec())
	}

	s.logger.Debug().
		Uint64("data_length", dataLen).
		Str("increment", increment.Dec()).
		Str("cumulative_payment", total.Dec()).
		Msg("quoted on-demand payment")

	return total.Bytes(), increment, nil
}
