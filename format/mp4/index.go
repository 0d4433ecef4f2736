package mp4

import (
	"bytes"
	"sort"
	"time"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"

	"github.com/openmediakit/streamkit/av"
	"github.com/openmediakit/streamkit/format/mp4/timescale"
)

// sample_is_non_sync_sample bit of the ISO sample flags word.
const sampleNonSyncFlag = 0x00010000

// SampleIndex maps the byte stream of one track to time-ordered sample
// records. It starts from the moov sample table (empty for fragmented
// files) and grows as movie fragments become available in the source.
//
// Not internally synchronized; the owning track demuxer serializes access.
type SampleIndex struct {
	src       av.ByteRangeSource
	trackID   uint32
	scale     uint32
	protected bool

	indices []av.Indice

	// scanOffset is the first top-level box offset not yet folded into the
	// index. Updates resume here, which makes them idempotent: a byte range
	// already scanned can never contribute twice.
	scanOffset int64
	// nextDecode carries decode-time continuity into fragments without a
	// tfdt box, in track timescale ticks.
	nextDecode uint64
}

func NewSampleIndex(src av.ByteRangeSource, trackID uint32, scale uint32, protected bool, initial []av.Indice) *SampleIndex {
	return &SampleIndex{
		src:       src,
		trackID:   trackID,
		scale:     scale,
		protected: protected,
		indices:   initial,
	}
}

// Len returns the number of sample records currently known.
func (x *SampleIndex) Len() int {
	return len(x.indices)
}

// Update walks top-level boxes within the cached ranges and folds any newly
// complete movie fragments into the index. A fragment whose bytes are not
// all cached yet is left for a later call; calling twice with the same
// ranges adds nothing the second time.
func (x *SampleIndex) Update(ranges av.ByteRanges) {
	for {
		off := x.scanOffset
		if !ranges.Contains(off, off+boxHeaderLen) {
			return
		}
		h, err := readBoxHeader(x.src, off)
		if err != nil || h.size < h.headerSize {
			return
		}
		if h.boxType == "moof" {
			if !ranges.Contains(off, off+h.size) {
				// Partial fragment, retry once more bytes arrive.
				return
			}
			if err := x.parseMoof(off, h.size); err != nil {
				log.WithError(err).Warnf("track %d: skipping unparsable moof at %d", x.trackID, off)
			}
		}
		x.scanOffset = off + h.size
	}
}

func (x *SampleIndex) parseMoof(off, size int64) error {
	buf := make([]byte, size)
	if _, err := x.src.ReadAt(buf, off); err != nil {
		return err
	}
	box, err := mp4ff.DecodeBox(uint64(off), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	moof, ok := box.(*mp4ff.MoofBox)
	if !ok {
		return nil
	}
	for _, traf := range moof.Trafs {
		tfhd := traf.Tfhd
		if tfhd == nil || tfhd.TrackID != x.trackID {
			continue
		}
		baseOffset := off
		if tfhd.HasBaseDataOffset() {
			baseOffset = int64(tfhd.BaseDataOffset)
		}
		decode := x.nextDecode
		if traf.Tfdt != nil {
			decode = traf.Tfdt.BaseMediaDecodeTime()
		}
		dataOffset := baseOffset
		for _, trun := range traf.Truns {
			if trun.HasDataOffset() {
				dataOffset = baseOffset + int64(trun.DataOffset)
			}
			for i, s := range trun.Samples {
				dur := tfhd.DefaultSampleDuration
				if trun.HasSampleDuration() {
					dur = s.Dur
				}
				sz := tfhd.DefaultSampleSize
				if trun.HasSampleSize() {
					sz = s.Size
				}
				flags := tfhd.DefaultSampleFlags
				if trun.HasSampleFlags() {
					flags = s.Flags
				}
				if i == 0 {
					if fl, ok := trun.FirstSampleFlags(); ok {
						flags = fl
					}
				}
				var cto int32
				if trun.HasSampleCompositionTimeOffset() {
					cto = s.CompositionTimeOffset
				}
				sync := flags&sampleNonSyncFlag == 0
				x.indices = append(x.indices, av.Indice{
					Start:    dataOffset,
					Size:     int64(sz),
					Time:     timescale.ToDuration(uint64(int64(decode)+int64(cto)), x.scale),
					Duration: timescale.ToDuration(uint64(dur), x.scale),
					KeyFrame: sync,
					Sync:     sync,
				})
				dataOffset += int64(sz)
				decode += uint64(dur)
			}
		}
		x.nextDecode = decode
	}
	return nil
}

// ConvertByteRangesToTimeRanges maps cached byte spans to the presentation
// time they cover. Only samples whose bytes lie entirely inside a cached
// range contribute; spans with no indexed sample are omitted.
func (x *SampleIndex) ConvertByteRangesToTimeRanges(ranges av.ByteRanges) (out av.TimeRanges) {
	for _, ind := range x.indices {
		if ranges.Contains(ind.Start, ind.End()) {
			out = out.Add(av.TimeRange{Start: ind.Time, End: ind.Time + ind.Duration})
		}
	}
	return
}

// seekPos resolves a target time to a cursor position: the indice with the
// greatest time at or before the target, or the first indice when the
// target precedes everything. Equal timestamps resolve to the earliest
// sample by byte position.
func (x *SampleIndex) seekPos(t time.Duration) int {
	pos := sort.Search(len(x.indices), func(i int) bool {
		return x.indices[i].Time > t
	}) - 1
	if pos < 0 {
		return 0
	}
	for pos > 0 && x.indices[pos-1].Time == x.indices[pos].Time {
		pos--
	}
	return pos
}

// nextSyncAfter returns the time of the first sync sample at or past the
// given cursor position, if any.
func (x *SampleIndex) nextSyncAfter(pos int) (time.Duration, bool) {
	for i := pos; i < len(x.indices); i++ {
		if x.indices[i].Sync {
			return x.indices[i].Time, true
		}
	}
	return 0, false
}
