package timescale

import (
	"math"
	"math/bits"
	"time"
)

// ToDuration converts a tick count in the given timescale to time.Duration.
// Fractional nanoseconds are truncated. Tick counts come straight from the
// container, so values too large for a Duration saturate at the maximum
// instead of overflowing the division.
func ToDuration(ticks uint64, scale uint32) time.Duration {
	if scale == 0 {
		return 0
	}
	hi, lo := bits.Mul64(ticks, uint64(time.Second))
	if hi >= uint64(scale) {
		return math.MaxInt64
	}
	d, _ := bits.Div64(hi, lo, uint64(scale))
	if d > math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(d)
}

// ToScale converts a time.Duration to a tick count in the given timescale,
// rounding to the nearest tick. Saturates like ToDuration.
func ToScale(t time.Duration, scale uint32) uint64 {
	hi, lo := bits.Mul64(uint64(t), uint64(scale))
	if hi >= uint64(time.Second) {
		return math.MaxUint64
	}
	ticks, rem := bits.Div64(hi, lo, uint64(time.Second))
	if rem >= uint64(time.Second/2) {
		ticks++
	}
	return ticks
}
