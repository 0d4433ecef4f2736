package av

import "time"

// ByteRange is a half-open range [Start, End) of resource offsets.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start
}

// Contains reports whether [start, end) lies entirely inside r.
func (r ByteRange) Contains(start, end int64) bool {
	return start >= r.Start && end <= r.End
}

// ByteRanges is an ordered, non-overlapping list of cached byte ranges as
// reported by a ByteRangeSource.
type ByteRanges []ByteRange

// Contains reports whether [start, end) is entirely covered by one range.
func (rs ByteRanges) Contains(start, end int64) bool {
	for _, r := range rs {
		if r.Contains(start, end) {
			return true
		}
	}
	return false
}

// Equal reports whether two range lists cover byte-identical spans.
func (rs ByteRanges) Equal(other ByteRanges) bool {
	if len(rs) != len(other) {
		return false
	}
	for i, r := range rs {
		if r != other[i] {
			return false
		}
	}
	return true
}

// TimeRange is a half-open presentation-time interval [Start, End).
type TimeRange struct {
	Start time.Duration
	End   time.Duration
}

// TimeRanges is an ordered list of presentation-time intervals.
type TimeRanges []TimeRange

// Add appends an interval, merging it with the last one when they touch or
// overlap. Callers append in non-decreasing Start order.
func (rs TimeRanges) Add(r TimeRange) TimeRanges {
	if r.End <= r.Start {
		return rs
	}
	if n := len(rs); n > 0 && r.Start <= rs[n-1].End {
		if r.End > rs[n-1].End {
			rs[n-1].End = r.End
		}
		return rs
	}
	return append(rs, r)
}

// Duration returns the total covered time.
func (rs TimeRanges) Duration() (total time.Duration) {
	for _, r := range rs {
		total += r.End - r.Start
	}
	return
}
