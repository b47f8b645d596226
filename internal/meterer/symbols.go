package meterer

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"
)

// SymbolsFor returns the number of symbols billed for dataLen bytes:
// ceil(dataLen/31) rounded up to a power of two, or 0 for empty data.
func SymbolsFor(dataLen uint64) uint64 {
	if dataLen == 0 {
		return 0
	}
	symbols := dataLen / BytesPerFieldElement
	if dataLen%BytesPerFieldElement != 0 {
		symbols++
	}
	return nextPowerOf2(symbols)
}

func nextPowerOf2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(n-1)
}

// SymbolsCharged applies the minimum billable symbol count.
func SymbolsCharged(symbols, minNumSymbols uint64) uint64 {
	return max(symbols, minNumSymbols)
}

// PaymentCharged returns the exact cost in wei.
func PaymentCharged(symbols, pricePerSymbol uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(symbols), uint256.NewInt(pricePerSymbol))
}

// ValidatePaymentIncrement checks that moving the cumulative payment from current to next
// adds at least minIncrement wei.
func ValidatePaymentIncrement(current, next, minIncrement *uint256.Int) error {
	if next.Lt(current) {
		return fmt.Errorf("%w: cumulative payment decreased from %s to %s",
			ErrInsufficientPaymentIncrement, current.Dec(), next.Dec())
	}
	increment := new(uint256.Int).Sub(next, current)
	if increment.Lt(minIncrement) {
		return fmt.Errorf("%w: got %s, required minimum %s",
			ErrInsufficientPaymentIncrement, increment.Dec(), minIncrement.Dec())
	}
	return nil
}
