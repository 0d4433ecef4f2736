package mp4

import (
	"encoding/binary"
	"fmt"

	"github.com/openmediakit/streamkit/av"
)

// sparseSource serves a byte buffer of which only the given ranges count
// as cached. A nil range list means fully cached.
type sparseSource struct {
	data   []byte
	ranges av.ByteRanges
}

func (s *sparseSource) cached() av.ByteRanges {
	if s.ranges == nil {
		return av.ByteRanges{{Start: 0, End: int64(len(s.data))}}
	}
	return s.ranges
}

func (s *sparseSource) ReadAt(p []byte, off int64) (int, error) {
	if !s.cached().Contains(off, off+int64(len(p))) {
		return 0, fmt.Errorf("range [%d,%d) not cached", off, off+int64(len(p)))
	}
	return copy(p, s.data[off:]), nil
}

func (s *sparseSource) CachedRanges() (av.ByteRanges, error) {
	return s.cached(), nil
}

func (s *sparseSource) Length() int64 {
	return int64(len(s.data))
}

// stubMeta is a Metadata implementation with canned answers, so track and
// container demuxer behavior can be tested without container bytes.
type stubMeta struct {
	infos  map[av.TrackKind][]*av.TrackInfo
	scales map[uint32]uint32
	tables map[uint32][]av.Indice
	pssh   []Pssh
}

func (m *stubMeta) TrackCount(kind av.TrackKind) int {
	return len(m.infos[kind])
}

func (m *stubMeta) TrackInfo(kind av.TrackKind, i int) *av.TrackInfo {
	infos := m.infos[kind]
	if i < 0 || i >= len(infos) {
		return nil
	}
	return infos[i]
}

func (m *stubMeta) TrackTimescale(trackID uint32) uint32 {
	return m.scales[trackID]
}

func (m *stubMeta) ReadSampleTable(trackID uint32) ([]av.Indice, error) {
	return m.tables[trackID], nil
}

func (m *stubMeta) ProtectionData() []Pssh {
	return m.pssh
}

func (m *stubMeta) CanSeek() bool {
	return true
}

func be32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func be64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// box assembles a box from its type and payload parts.
func box(typ string, parts ...[]byte) []byte {
	size := 8
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, be32(uint32(size))...)
	out = append(out, typ...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

type fragSample struct {
	dur   uint32
	size  uint32
	flags uint32
	cto   int32
}

// buildFragment assembles a moof plus its mdat for one track. Every trun
// field is written per sample; tfhd carries only default-base-is-moof.
func buildFragment(seq, trackID uint32, baseTime uint64, samples []fragSample) []byte {
	mfhd := box("mfhd", be32(0), be32(seq))
	tfhd := box("tfhd", be32(0x020000), be32(trackID))
	tfdt := box("tfdt", be32(0x01000000), be64(baseTime))

	// moof = header + mfhd + traf(header + tfhd + tfdt + trun),
	// trun = header + verflags + count + dataOffset + 16 bytes per sample.
	trunSize := 8 + 4 + 4 + 4 + 16*len(samples)
	moofSize := 8 + len(mfhd) + 8 + len(tfhd) + len(tfdt) + trunSize

	trunFlags := uint32(0x000001 | 0x000100 | 0x000200 | 0x000400 | 0x000800)
	// Data offset points just past the moof, into the mdat payload.
	parts := [][]byte{be32(trunFlags), be32(uint32(len(samples))), be32(uint32(moofSize + 8))}
	var payload []byte
	for _, s := range samples {
		parts = append(parts, be32(s.dur), be32(s.size), be32(s.flags), be32(uint32(s.cto)))
		payload = append(payload, make([]byte, s.size)...)
	}
	trun := box("trun", parts...)
	traf := box("traf", tfhd, tfdt, trun)
	moof := box("moof", mfhd, traf)
	mdat := box("mdat", payload)
	return append(moof, mdat...)
}

// buildDefaultsFragment assembles a moof whose trun carries no per-sample
// fields: durations, sizes and flags all come from the tfhd defaults, and
// the first sample's flags from the trun first-sample-flags field.
func buildDefaultsFragment(seq, trackID uint32, baseTime uint64, defDur, defSize, defFlags, firstFlags uint32, count int) []byte {
	mfhd := box("mfhd", be32(0), be32(seq))
	tfhd := box("tfhd", be32(0x020038), be32(trackID), be32(defDur), be32(defSize), be32(defFlags))
	tfdt := box("tfdt", be32(0x01000000), be64(baseTime))

	// trun = header + verflags + count + dataOffset + firstSampleFlags.
	trunSize := 8 + 4 + 4 + 4 + 4
	moofSize := 8 + len(mfhd) + 8 + len(tfhd) + len(tfdt) + trunSize

	trun := box("trun", be32(0x000005), be32(uint32(count)), be32(uint32(moofSize+8)), be32(firstFlags))
	traf := box("traf", tfhd, tfdt, trun)
	moof := box("moof", mfhd, traf)
	mdat := box("mdat", make([]byte, int(defSize)*count))
	return append(moof, mdat...)
}

const (
	syncFlags    = uint32(0x02000000)
	nonSyncFlags = uint32(0x01010000)
)
