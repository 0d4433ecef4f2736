package mp4

import (
	"sync"
	"time"

	"github.com/openmediakit/streamkit/av"
)

// TrackDemuxer is the per-track face of a Demuxer: seek, sequential reads,
// random-access-point skipping and buffered-range reporting for one track.
//
// The index is refreshed lazily: arrival notifications only mark it stale,
// and the next operation that needs current data pays for the rescan.
type TrackDemuxer struct {
	parent *Demuxer // nil once BreakCycles has run
	src    av.ByteRangeSource
	info   *av.TrackInfo

	mu              sync.Mutex
	index           *SampleIndex
	iter            *SampleIterator
	queued          *av.Sample
	nextKeyframe    time.Duration
	hasNextKeyframe bool
	needReIndex     bool
}

func newTrackDemuxer(parent *Demuxer, info *av.TrackInfo, scale uint32, indices []av.Indice) *TrackDemuxer {
	t := &TrackDemuxer{
		parent:      parent,
		src:         parent.src,
		info:        info,
		needReIndex: true,
	}
	t.index = NewSampleIndex(t.src, info.TrackID, scale, info.Crypto.Valid, indices)
	t.iter = NewSampleIterator(t.index)
	t.ensureUpToDateIndex()
	return t
}

// GetInfo returns a copy of the track descriptor; it never aliases
// demuxer-internal state.
func (t *TrackDemuxer) GetInfo() *av.TrackInfo {
	return t.info.Clone()
}

// ensureUpToDateIndex folds newly cached ranges into the index when an
// arrival notification has marked it stale. The cached-range snapshot is
// taken before the track lock: CachedRanges may block, and a notifier
// could be waiting on the lock meanwhile.
func (t *TrackDemuxer) ensureUpToDateIndex() {
	t.mu.Lock()
	stale := t.needReIndex
	t.mu.Unlock()
	if !stale {
		return
	}
	ranges, err := t.src.CachedRanges()
	if err != nil {
		return
	}
	t.mu.Lock()
	t.index.Update(ranges)
	t.needReIndex = false
	t.mu.Unlock()
}

// Seek repositions the track at the indexed sample resolved from aTime and
// returns the time actually reached: container sample boundaries rarely
// land exactly on the request. The resolved sample stays queued for the
// next read.
func (t *TrackDemuxer) Seek(target time.Duration) (time.Duration, error) {
	t.ensureUpToDateIndex()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queued = nil
	t.iter.Seek(target)

	actual := target
	if s, err := t.iter.Next(); err == nil {
		t.queued = s
		actual = s.Time
	}
	t.setNextKeyframeTime()
	return actual, nil
}

// GetSamples returns up to n samples from the current position, starting
// with any queued look-ahead sample. It fails with av.ErrDemuxer when
// n == 0 and av.ErrEndOfStream when nothing was available.
func (t *TrackDemuxer) GetSamples(n int) ([]*av.Sample, error) {
	t.ensureUpToDateIndex()
	if n == 0 {
		return nil, av.ErrDemuxer
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var samples []*av.Sample
	if t.queued != nil {
		samples = append(samples, t.queued)
		t.queued = nil
		n--
	}
	for n > 0 {
		s, err := t.iter.Next()
		if err != nil {
			break
		}
		samples = append(samples, s)
		n--
	}
	if len(samples) == 0 {
		return nil, av.ErrEndOfStream
	}
	t.updateSamples(samples)
	return samples, nil
}

// updateSamples applies track-level post-processing: crypto defaults onto
// protected samples, codec extradata onto video samples, and a keyframe-
// hint refresh once the hint is unset or surpassed.
func (t *TrackDemuxer) updateSamples(samples []*av.Sample) {
	for _, s := range samples {
		if s.Crypto.Valid {
			s.Crypto.Mode = t.info.Crypto.Mode
			s.Crypto.IVSize = t.info.Crypto.IVSize
			s.Crypto.KeyID = append([]byte(nil), t.info.Crypto.KeyID...)
		}
		if t.info.Kind == av.TrackVideo {
			s.ExtraData = t.info.ExtraData
		}
	}
	if !t.hasNextKeyframe || samples[len(samples)-1].Time >= t.nextKeyframe {
		t.setNextKeyframeTime()
	}
}

func (t *TrackDemuxer) setNextKeyframeTime() {
	t.nextKeyframe, t.hasNextKeyframe = t.iter.NextKeyframeTime()
}

// GetNextRandomAccessPoint returns the cached next-keyframe hint. The hint
// is always at or past the current cursor, or absent.
func (t *TrackDemuxer) GetNextRandomAccessPoint() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextKeyframe, t.hasNextKeyframe
}

// SkipToNextRandomAccessPoint discards samples until the first keyframe at
// or after the threshold, queues that keyframe for the next read, and
// returns the number of samples consumed. On exhaustion it returns
// av.ErrEndOfStream together with the count consumed so far; callers keep
// the count for statistics either way.
func (t *TrackDemuxer) SkipToNextRandomAccessPoint(threshold time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queued = nil
	parsed := 0
	found := false
	for !found {
		s, err := t.iter.Next()
		if err != nil {
			break
		}
		parsed++
		if s.KeyFrame && s.Time >= threshold {
			found = true
			t.queued = s
		}
	}
	t.setNextKeyframeTime()
	if !found {
		return parsed, av.ErrEndOfStream
	}
	return parsed, nil
}

// GetBuffered reports the presentation time covered by the source's cached
// byte ranges, refreshing the index first if stale.
func (t *TrackDemuxer) GetBuffered() av.TimeRanges {
	t.ensureUpToDateIndex()
	ranges, err := t.src.CachedRanges()
	if err != nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index.ConvertByteRangesToTimeRanges(ranges)
}

// Reset drops any queued sample and reseeks to the start of the track.
func (t *TrackDemuxer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued = nil
	t.iter.Seek(0)
	t.setNextKeyframeTime()
}

// NotifyDataArrived marks the index stale. Re-indexing happens on the next
// read, seek or buffered-range query, not here.
func (t *TrackDemuxer) NotifyDataArrived() {
	t.mu.Lock()
	t.needReIndex = true
	t.mu.Unlock()
}

// BreakCycles severs the back-reference to the owning Demuxer so the pair
// can be torn down.
func (t *TrackDemuxer) BreakCycles() {
	t.parent = nil
}
