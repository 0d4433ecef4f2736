// Package mp4 demuxes progressively downloaded ISO BMFF containers:
// partially cached resources are mapped to per-track, time-ordered sample
// records that grow as bytes arrive.
package mp4

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openmediakit/streamkit/av"
)

var log = logrus.WithField("format", "mp4")

// EncryptionInfo aggregates the container's protection init data, one blob
// per pssh box, under a common-encryption scheme name.
type EncryptionInfo struct {
	Scheme   string
	InitData []byte
}

// Demuxer is the container-level entry point. It owns the parsed metadata
// and the per-track demuxers constructed from it.
type Demuxer struct {
	src    av.ByteRangeSource
	meta   Metadata
	tracks []*TrackDemuxer
}

func New(src av.ByteRangeSource) *Demuxer {
	return &Demuxer{src: src}
}

// Init parses the container metadata. The source must already cache a
// complete moov box; Init checks that precondition instead of parsing
// speculatively and fails with av.ErrDemuxer when metadata is incomplete,
// corrupt or describes no audio or video tracks.
func (d *Demuxer) Init() error {
	if !HasCompleteMetadata(d.src) {
		return errors.WithMessage(av.ErrDemuxer, "metadata not fully cached")
	}
	meta, err := ParseMetadata(d.src)
	if err != nil {
		return err
	}
	if meta.TrackCount(av.TrackAudio) == 0 && meta.TrackCount(av.TrackVideo) == 0 {
		return errors.WithMessage(av.ErrDemuxer, "no usable tracks")
	}
	d.meta = meta
	log.Debugf("init: %d audio, %d video tracks",
		meta.TrackCount(av.TrackAudio), meta.TrackCount(av.TrackVideo))
	return nil
}

func (d *Demuxer) HasTrackKind(kind av.TrackKind) bool {
	return d.TrackCount(kind) > 0
}

func (d *Demuxer) TrackCount(kind av.TrackKind) int {
	if d.meta == nil {
		return 0
	}
	return d.meta.TrackCount(kind)
}

// GetTrackDemuxer constructs the demuxer for the i-th track of the given
// kind. Out-of-range requests return nil. The track's full moov sample
// table is read before the TrackDemuxer is exposed, so callers never see a
// half-indexed track.
func (d *Demuxer) GetTrackDemuxer(kind av.TrackKind, i int) *TrackDemuxer {
	if d.meta == nil {
		return nil
	}
	info := d.meta.TrackInfo(kind, i)
	if info == nil {
		return nil
	}
	indices, err := d.meta.ReadSampleTable(info.TrackID)
	if err != nil {
		log.WithError(err).Errorf("track %d: sample table unreadable", info.TrackID)
		return nil
	}
	t := newTrackDemuxer(d, info.Clone(), d.meta.TrackTimescale(info.TrackID), indices)
	d.tracks = append(d.tracks, t)
	return t
}

// NotifyDataArrived fans an arrival notification out to all live track
// demuxers, marking each stale.
func (d *Demuxer) NotifyDataArrived() {
	for _, t := range d.tracks {
		t.NotifyDataArrived()
	}
}

// NotifyDataRemoved is handled like arrival: the cached ranges changed and
// every track must requery them.
func (d *Demuxer) NotifyDataRemoved() {
	for _, t := range d.tracks {
		t.NotifyDataArrived()
	}
}

// GetCrypto aggregates all pssh init-data blobs into one EncryptionInfo.
// It returns nil when the container declares no protection scheme or all
// blobs are empty.
func (d *Demuxer) GetCrypto() *EncryptionInfo {
	if d.meta == nil {
		return nil
	}
	var initData []byte
	for _, pssh := range d.meta.ProtectionData() {
		initData = append(initData, pssh.Data...)
	}
	if len(initData) == 0 {
		return nil
	}
	return &EncryptionInfo{Scheme: "cenc", InitData: initData}
}

func (d *Demuxer) IsSeekable() bool {
	return d.meta != nil && d.meta.CanSeek()
}

// Close breaks the track→container cycles and releases the tracks.
func (d *Demuxer) Close() {
	for _, t := range d.tracks {
		t.BreakCycles()
	}
	d.tracks = nil
}
