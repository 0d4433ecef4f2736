package mp4

import (
	"bytes"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/pkg/errors"

	"github.com/openmediakit/streamkit/av"
	"github.com/openmediakit/streamkit/format/mp4/timescale"
)

// Pssh is one protection-system-specific init-data block from the
// container's pssh boxes.
type Pssh struct {
	SystemID [16]byte
	Data     []byte
}

// Metadata is the parsed header of a container: track descriptors, moov
// sample tables and protection data. The demuxer consumes it as a black
// box so tests can substitute their own.
type Metadata interface {
	TrackCount(kind av.TrackKind) int
	TrackInfo(kind av.TrackKind, i int) *av.TrackInfo
	TrackTimescale(trackID uint32) uint32
	ReadSampleTable(trackID uint32) ([]av.Indice, error)
	ProtectionData() []Pssh
	CanSeek() bool
}

// HasCompleteMetadata reports whether the source already caches a complete
// moov box. A precondition check only: nothing is parsed.
func HasCompleteMetadata(src av.ByteRangeSource) bool {
	ranges, err := src.CachedRanges()
	if err != nil {
		return false
	}
	var off int64
	for {
		if !ranges.Contains(off, off+boxHeaderLen) {
			return false
		}
		h, err := readBoxHeader(src, off)
		if err != nil || h.size < h.headerSize {
			return false
		}
		if h.boxType == "moov" {
			return ranges.Contains(off, off+h.size)
		}
		off += h.size
	}
}

type trackMeta struct {
	info  *av.TrackInfo
	scale uint32
	trak  *mp4ff.TrakBox
}

type fileMetadata struct {
	tracks     map[av.TrackKind][]*trackMeta
	byID       map[uint32]*trackMeta
	pssh       []Pssh
	fragmented bool
}

// ParseMetadata locates the moov box in the source and decodes it into
// track descriptors. The metadata must be complete (HasCompleteMetadata).
func ParseMetadata(src av.ByteRangeSource) (Metadata, error) {
	var off int64
	for {
		h, err := readBoxHeader(src, off)
		if err != nil {
			return nil, errors.WithMessage(av.ErrDemuxer, "no moov box before end of cached data")
		}
		if h.size < h.headerSize {
			return nil, errors.WithMessage(av.ErrDemuxer, "corrupt box header")
		}
		if h.boxType == "moov" {
			buf := make([]byte, h.size)
			if _, err := src.ReadAt(buf, off); err != nil {
				return nil, errors.Wrap(err, "read moov")
			}
			box, err := mp4ff.DecodeBox(uint64(off), bytes.NewReader(buf))
			if err != nil {
				return nil, errors.Wrap(err, "decode moov")
			}
			moov, ok := box.(*mp4ff.MoovBox)
			if !ok {
				return nil, errors.WithMessage(av.ErrDemuxer, "moov box of unexpected shape")
			}
			return newFileMetadata(moov)
		}
		off += h.size
	}
}

func newFileMetadata(moov *mp4ff.MoovBox) (*fileMetadata, error) {
	m := &fileMetadata{
		tracks:     make(map[av.TrackKind][]*trackMeta),
		byID:       make(map[uint32]*trackMeta),
		fragmented: moov.Mvex != nil,
	}
	for _, pssh := range moov.Psshs {
		p := Pssh{Data: append([]byte(nil), pssh.Data...)}
		copy(p.SystemID[:], pssh.SystemID[:])
		m.pssh = append(m.pssh, p)
	}
	for _, trak := range moov.Traks {
		tm, err := newTrackMeta(trak)
		if err != nil {
			log.WithError(err).Warn("skipping unusable track")
			continue
		}
		if tm == nil {
			continue // not audio or video
		}
		m.tracks[tm.info.Kind] = append(m.tracks[tm.info.Kind], tm)
		m.byID[tm.info.TrackID] = tm
	}
	if len(m.tracks) == 0 {
		return nil, errors.WithMessage(av.ErrDemuxer, "no audio or video tracks")
	}
	return m, nil
}

func newTrackMeta(trak *mp4ff.TrakBox) (*trackMeta, error) {
	if trak.Tkhd == nil || trak.Mdia == nil || trak.Mdia.Mdhd == nil ||
		trak.Mdia.Hdlr == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
		return nil, errors.New("trak missing required boxes")
	}
	var kind av.TrackKind
	switch trak.Mdia.Hdlr.HandlerType {
	case "vide":
		kind = av.TrackVideo
	case "soun":
		kind = av.TrackAudio
	default:
		return nil, nil
	}
	scale := trak.Mdia.Mdhd.Timescale
	info := &av.TrackInfo{
		TrackID:  trak.Tkhd.TrackID,
		Kind:     kind,
		Duration: timescale.ToDuration(trak.Mdia.Mdhd.Duration, scale),
	}
	fillSampleEntry(info, trak.Mdia.Minf.Stbl.Stsd)
	return &trackMeta{info: info, scale: scale, trak: trak}, nil
}

// fillSampleEntry extracts codec identity, codec private data and
// encryption defaults from the first stsd sample entry.
func fillSampleEntry(info *av.TrackInfo, stsd *mp4ff.StsdBox) {
	if stsd == nil {
		return
	}
	var sinf *mp4ff.SinfBox
	switch {
	case stsd.AvcX != nil:
		info.Codec = stsd.AvcX.Type()
		info.Width = int(stsd.AvcX.Width)
		info.Height = int(stsd.AvcX.Height)
		info.ExtraData = boxPayload(stsd.AvcX.AvcC)
		sinf = stsd.AvcX.Sinf
	case stsd.HvcX != nil:
		info.Codec = stsd.HvcX.Type()
		info.Width = int(stsd.HvcX.Width)
		info.Height = int(stsd.HvcX.Height)
		info.ExtraData = boxPayload(stsd.HvcX.HvcC)
		sinf = stsd.HvcX.Sinf
	case stsd.Mp4a != nil:
		info.Codec = stsd.Mp4a.Type()
		info.ChannelCount = int(stsd.Mp4a.ChannelCount)
		info.SampleRate = int(stsd.Mp4a.SampleRate)
		if esds := stsd.Mp4a.Esds; esds != nil &&
			esds.DecConfigDescriptor != nil && esds.DecConfigDescriptor.DecSpecificInfo != nil {
			info.ExtraData = append([]byte(nil), esds.DecConfigDescriptor.DecSpecificInfo.DecConfig...)
		}
		sinf = stsd.Mp4a.Sinf
	}
	if sinf == nil {
		return
	}
	if sinf.Frma != nil && sinf.Frma.DataFormat != "" {
		// Protected entries hide the real codec behind frma.
		info.Codec = sinf.Frma.DataFormat
	}
	if sinf.Schi != nil && sinf.Schi.Tenc != nil {
		tenc := sinf.Schi.Tenc
		info.Crypto = av.CryptoInfo{
			Valid:  tenc.DefaultIsProtected == 1,
			IVSize: int(tenc.DefaultPerSampleIVSize),
			KeyID:  append([]byte(nil), tenc.DefaultKID[:]...),
		}
	}
}

// boxPayload serializes a box and strips its header, yielding the raw
// payload bytes (e.g. the avcC decoder configuration record).
func boxPayload(b mp4ff.Box) []byte {
	if b == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		return nil
	}
	raw := buf.Bytes()
	if len(raw) <= boxHeaderLen {
		return nil
	}
	return append([]byte(nil), raw[boxHeaderLen:]...)
}

func (m *fileMetadata) TrackCount(kind av.TrackKind) int {
	return len(m.tracks[kind])
}

func (m *fileMetadata) TrackInfo(kind av.TrackKind, i int) *av.TrackInfo {
	tracks := m.tracks[kind]
	if i < 0 || i >= len(tracks) {
		return nil
	}
	return tracks[i].info
}

func (m *fileMetadata) TrackTimescale(trackID uint32) uint32 {
	if tm, ok := m.byID[trackID]; ok {
		return tm.scale
	}
	return 0
}

// ReadSampleTable expands the moov stbl tables of a track into ordered
// sample records. Fragmented files keep their samples in moofs instead;
// an absent table yields an empty list, not an error.
func (m *fileMetadata) ReadSampleTable(trackID uint32) ([]av.Indice, error) {
	tm, ok := m.byID[trackID]
	if !ok {
		return nil, errors.WithMessagef(av.ErrDemuxer, "unknown track %d", trackID)
	}
	stbl := tm.trak.Mdia.Minf.Stbl
	if stbl.Stts == nil || stbl.Stsz == nil || stbl.Stsc == nil ||
		(stbl.Stco == nil && stbl.Co64 == nil) {
		if m.fragmented {
			return nil, nil
		}
		return nil, errors.WithMessagef(av.ErrDemuxer, "track %d: incomplete sample table", trackID)
	}

	count := int(stbl.Stsz.SampleNumber)
	indices := make([]av.Indice, 0, count)
	lastChunk := 0
	var offset int64
	for nr := 1; nr <= count; nr++ {
		chunkNr, _, err := stbl.Stsc.ChunkNrFromSampleNr(nr)
		if err != nil {
			return nil, errors.Wrapf(err, "track %d: stsc lookup", trackID)
		}
		if chunkNr != lastChunk {
			if stbl.Stco != nil {
				if chunkNr > len(stbl.Stco.ChunkOffset) {
					return nil, errors.WithMessagef(av.ErrDemuxer, "track %d: chunk %d beyond stco", trackID, chunkNr)
				}
				offset = int64(stbl.Stco.ChunkOffset[chunkNr-1])
			} else {
				if chunkNr > len(stbl.Co64.ChunkOffset) {
					return nil, errors.WithMessagef(av.ErrDemuxer, "track %d: chunk %d beyond co64", trackID, chunkNr)
				}
				offset = int64(stbl.Co64.ChunkOffset[chunkNr-1])
			}
			lastChunk = chunkNr
		}

		size := int64(stbl.Stsz.GetSampleSize(nr))
		decTime, dur := stbl.Stts.GetDecodeTime(uint32(nr))
		var cto int32
		if stbl.Ctts != nil {
			cto = stbl.Ctts.GetCompositionTimeOffset(uint32(nr))
		}
		sync := stbl.Stss == nil || stbl.Stss.IsSyncSample(uint32(nr))
		indices = append(indices, av.Indice{
			Start:    offset,
			Size:     size,
			Time:     timescale.ToDuration(uint64(int64(decTime)+int64(cto)), tm.scale),
			Duration: timescale.ToDuration(uint64(dur), tm.scale),
			KeyFrame: sync,
			Sync:     sync,
		})
		offset += size
	}
	return indices, nil
}

func (m *fileMetadata) ProtectionData() []Pssh {
	return m.pssh
}

func (m *fileMetadata) CanSeek() bool {
	return true
}
