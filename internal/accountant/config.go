package accountant

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eigerco/dispersal/internal/meterer"
)

const (
	// DefaultPricePerSymbol is the on-demand price in wei.
	DefaultPricePerSymbol = 447_000_000

	// DefaultMinNumSymbols is the smallest number of symbols billed per blob.
	DefaultMinNumSymbols = 4096
)

// PaymentConfig is the account-global on-demand pricing. It is independent of the
// per-quorum protocol configs.
type PaymentConfig struct {
	PricePerSymbol uint64
	MinNumSymbols  uint64
}

func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		PricePerSymbol: DefaultPricePerSymbol,
		MinNumSymbols:  DefaultMinNumSymbols,
	}
}

func (c PaymentConfig) Validate() error {
	if c.MinNumSymbols == 0 {
		return fmt.Errorf("%w: min number of symbols must be positive", ErrInvalidPaymentConfig)
	}
	return nil
}

// Increment returns the on-demand cost in wei of a blob of dataLen bytes.
func (c PaymentConfig) Increment(dataLen uint64) *uint256.Int {
	symbols := meterer.SymbolsCharged(meterer.SymbolsFor(dataLen), c.MinNumSymbols)
	return meterer.PaymentCharged(symbols, c.PricePerSymbol)
}
