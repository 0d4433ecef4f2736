package mp4

import (
	"time"

	"github.com/openmediakit/streamkit/av"
)

// SampleIterator is a consumption cursor over a SampleIndex. Next resolves
// the record under the cursor into a materialized sample and advances.
//
// Like the index it is guarded by the owning track demuxer, not by itself.
type SampleIterator struct {
	index *SampleIndex
	pos   int
}

func NewSampleIterator(index *SampleIndex) *SampleIterator {
	return &SampleIterator{index: index}
}

// Seek repositions the cursor per the index seek contract. It does not
// fetch any bytes.
func (it *SampleIterator) Seek(t time.Duration) {
	it.pos = it.index.seekPos(t)
}

// Next materializes the sample under the cursor and advances. It returns
// av.ErrEndOfStream when the index is exhausted, and also when the sample's
// bytes are not cached yet: missing data degrades to "nothing this round"
// rather than a track error.
func (it *SampleIterator) Next() (*av.Sample, error) {
	if it.pos >= it.index.Len() {
		return nil, av.ErrEndOfStream
	}
	ind := it.index.indices[it.pos]
	data := make([]byte, ind.Size)
	if _, err := it.index.src.ReadAt(data, ind.Start); err != nil {
		log.WithError(err).Debugf("track %d: sample at %d not readable", it.index.trackID, ind.Start)
		return nil, av.ErrEndOfStream
	}
	it.pos++
	return &av.Sample{
		TrackID:  it.index.trackID,
		Data:     data,
		Time:     ind.Time,
		Duration: ind.Duration,
		KeyFrame: ind.KeyFrame,
		Crypto:   av.SampleCrypto{Valid: it.index.protected},
	}, nil
}

// NextKeyframeTime returns the time of the next sync sample at or past the
// cursor, or false when the known index holds none.
func (it *SampleIterator) NextKeyframeTime() (time.Duration, bool) {
	return it.index.nextSyncAfter(it.pos)
}
