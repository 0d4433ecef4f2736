package timescale

import (
	"math"
	"testing"
	"time"
)

func TestToDuration(t *testing.T) {
	const scale uint32 = 90000
	values := []struct {
		V uint64
		T time.Duration
	}{
		{0, 0},
		{1500, time.Second / 60},
		{90000, time.Second},
		{45000, time.Second / 2},
		{90000 * 3600, time.Hour},
	}
	for _, ex := range values {
		d := ToDuration(ex.V, scale)
		if d != ex.T {
			t.Errorf("%d ticks: expected %s, got %s", ex.V, ex.T, d)
		}
	}
	if d := ToDuration(12345, 0); d != 0 {
		t.Errorf("zero scale: expected 0, got %s", d)
	}
}

func TestToScale(t *testing.T) {
	const scale uint32 = 90000
	values := []struct {
		T time.Duration
		V uint64
	}{
		{0, 0},
		{time.Second/60 - 1, 1500},
		{time.Second/60 + 0, 1500},
		{time.Second/60 + 1, 1500},
		{time.Second, 90000},
		{time.Second * (1 << 32), 90000 * (1 << 32)},
	}
	for _, ex := range values {
		n := ToScale(ex.T, scale)
		if n != ex.V {
			t.Errorf("%d (%s): expected %d, got %d", ex.T, ex.T, ex.V, n)
		}
	}
}

func TestToDurationSaturates(t *testing.T) {
	// Quotients beyond 64 bits, maximal ticks, and a quotient that fits
	// 64 bits but not int64.
	cases := []struct {
		ticks uint64
		scale uint32
	}{
		{1 << 63, 90000},
		{math.MaxUint64, 1},
		{1_000_000_000_000_000, 90000},
	}
	for _, c := range cases {
		if d := ToDuration(c.ticks, c.scale); d != math.MaxInt64 {
			t.Errorf("%d ticks at %d: expected saturation, got %s", c.ticks, c.scale, d)
		}
	}
}

func TestToScaleSaturates(t *testing.T) {
	if n := ToScale(math.MaxInt64, math.MaxUint32); n != math.MaxUint64 {
		t.Errorf("expected saturation, got %d", n)
	}
}

func TestRoundTrip(t *testing.T) {
	const scale uint32 = 1000000
	for _, d := range []time.Duration{0, time.Millisecond, 33334 * time.Microsecond, 2 * time.Second} {
		if got := ToDuration(ToScale(d, scale), scale); got != d {
			t.Errorf("round trip %s: got %s", d, got)
		}
	}
}
