package safemath

import (
	"errors"
	"math"
	"math/bits"
)

var ErrOverflow = errors.New("number overflow")

func Add64(a, b uint64) (uint64, bool) {
	v, carry := bits.Add64(a, b, 0)
	return v, carry == 0
}

func Sub64(a, b uint64) (uint64, bool) {
	v, borrow := bits.Sub64(a, b, 0)
	return v, borrow == 0
}

func Mul64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// SaturatingMul64 multiplies all factors and clamps the result at math.MaxUint64
func SaturatingMul64(factors ...uint64) uint64 {
	result := uint64(1)
	for _, f := range factors {
		v, ok := Mul64(result, f)
		if !ok {
			return math.MaxUint64
		}
		result = v
	}
	return result
}

// SaturatingSub64 returns a-b, or zero when b > a
func SaturatingSub64(a, b uint64) uint64 {
	v, ok := Sub64(a, b)
	if !ok {
		return 0
	}
	return v
}
