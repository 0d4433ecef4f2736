// Package av defines basic interfaces and data structures of container
// demuxing and decoding: samples, track descriptors, byte/time ranges,
// byte-range sources and decoders.
package av

import (
	"time"

	"github.com/pkg/errors"
)

// TrackKind discriminates the media type of a track.
type TrackKind int

const (
	TrackAudio = TrackKind(iota + 1)
	TrackVideo
)

func (k TrackKind) String() string {
	switch k {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	}
	return "unknown"
}

// CryptoInfo carries track-level encryption parameters from the container's
// tenc box. Valid is false for tracks in the clear.
type CryptoInfo struct {
	Valid  bool
	Mode   int
	IVSize int
	KeyID  []byte
}

func (c CryptoInfo) clone() CryptoInfo {
	out := c
	out.KeyID = append([]byte(nil), c.KeyID...)
	return out
}

// SampleCrypto carries per-sample encryption parameters. Samples read from
// a protected track start out with only Valid/IV set; the track demuxer
// fills in the track defaults before returning them.
type SampleCrypto struct {
	Valid  bool
	Mode   int
	IVSize int
	KeyID  []byte
	IV     []byte
}

// TrackInfo describes one track of a container. Immutable once produced by
// the metadata parser; use Clone to hand copies out.
type TrackInfo struct {
	TrackID      uint32
	Kind         TrackKind
	Codec        string
	ExtraData    []byte
	Width        int
	Height       int
	SampleRate   int
	ChannelCount int
	Duration     time.Duration
	Crypto       CryptoInfo
}

// Clone returns a deep copy that shares no memory with the receiver.
func (t *TrackInfo) Clone() *TrackInfo {
	out := *t
	out.ExtraData = append([]byte(nil), t.ExtraData...)
	out.Crypto = t.Crypto.clone()
	return &out
}

// Indice is one sample record of a track index: where the sample lives in
// the byte stream and when it is presented. The set of known indices of a
// track only ever grows as more of the resource arrives.
type Indice struct {
	Start    int64
	Size     int64
	Time     time.Duration
	Duration time.Duration
	KeyFrame bool
	Sync     bool
}

// End returns the first byte offset past the sample payload.
func (i Indice) End() int64 {
	return i.Start + i.Size
}

// Sample is a materialized sample: an Indice resolved against the byte
// source, plus the track-level parameters a decoder needs with it.
type Sample struct {
	TrackID   uint32
	Data      []byte
	Time      time.Duration
	Duration  time.Duration
	KeyFrame  bool
	ExtraData []byte
	Crypto    SampleCrypto
}

// Frame is one unit of decoded output.
type Frame struct {
	Data     []byte
	Time     time.Duration
	Duration time.Duration
}

var (
	// ErrDemuxer reports broken or incomplete container metadata, a
	// container without usable tracks, or an invalid request. Not retried
	// internally; callers decide whether more data may fix it.
	ErrDemuxer = errors.New("demuxer error")

	// ErrEndOfStream reports that no further samples exist at the current
	// cursor. Expected and recoverable, in contrast to ErrDemuxer.
	ErrEndOfStream = errors.New("end of stream")

	// ErrNoDecoder reports that the shared decoder could not be created or
	// has been shut down.
	ErrNoDecoder = errors.New("no decoder")

	// ErrInitCanceled reports that a pending decoder initialization was
	// canceled by shutdown before it produced a result.
	ErrInitCanceled = errors.New("decoder init canceled")
)
