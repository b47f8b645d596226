package meterer

import (
	"github.com/eigerco/dispersal/internal/safemath"
)

// NanosecondsToSeconds truncates a nanosecond timestamp to whole seconds.
// Timestamps before the unix epoch are clamped to zero.
func NanosecondsToSeconds(timestampNs int64) uint64 {
	if timestampNs < 0 {
		return 0
	}
	return uint64(timestampNs) / nanosecondsPerSecond
}

// PeriodOf returns the reservation period containing timestampNs for the given window.
// A zero window is treated as one second.
func PeriodOf(timestampNs int64, windowSeconds uint64) uint64 {
	if windowSeconds == 0 {
		windowSeconds = 1
	}
	return NanosecondsToSeconds(timestampNs) / windowSeconds
}

// BinIndex maps a period onto one of numBins circular bins.
func BinIndex(period, numBins uint64) uint64 {
	return period % numBins
}

// BinLimit returns the maximum symbols a bin may hold. It saturates instead of wrapping.
func BinLimit(symbolsPerSecond, windowSeconds, numBins uint64) uint64 {
	return safemath.SaturatingMul64(symbolsPerSecond, windowSeconds, numBins)
}

// WithinAdvanceWindow reports whether a request at nowSeconds may use a reservation
// starting at startSeconds, given the advance window.
func WithinAdvanceWindow(nowSeconds, startSeconds, advanceSeconds uint64) bool {
	if nowSeconds >= startSeconds {
		return true
	}
	return nowSeconds >= safemath.SaturatingSub64(startSeconds, advanceSeconds)
}
