package mp4

import (
	"bytes"
	"testing"
	"time"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmediakit/streamkit/av"
)

func TestHasCompleteMetadata(t *testing.T) {
	ftyp := box("ftyp", []byte("isom"), be32(0x200), []byte("isomiso2"))
	moov := box("moov", make([]byte, 64))
	data := append(append([]byte(nil), ftyp...), moov...)

	src := &sparseSource{data: data}
	assert.True(t, HasCompleteMetadata(src))

	// moov only partially cached.
	src.ranges = av.ByteRanges{{Start: 0, End: int64(len(ftyp) + 16)}}
	assert.False(t, HasCompleteMetadata(src))

	// No moov at all.
	assert.False(t, HasCompleteMetadata(&sparseSource{data: ftyp}))
}

func TestParseMetadataInitSegment(t *testing.T) {
	sps := []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50, 0x05, 0xba, 0x10,
		0x00, 0x00, 0x03, 0x00, 0x10, 0x00, 0x00, 0x03, 0x03, 0x20, 0xf1,
		0x83, 0x19, 0x60,
	}
	pps := []byte{0x68, 0xeb, 0xec, 0xb2, 0x2c}

	init := mp4ff.CreateEmptyInit()
	moov := init.Moov
	vtrak := mp4ff.CreateEmptyTrak(1, 1000, "video", "und")
	moov.AddChild(vtrak)
	moov.Mvex.AddChild(mp4ff.CreateTrex(1))
	vtrak.SetAVCDescriptor("avc1", [][]byte{sps}, [][]byte{pps}, true)

	atrak := mp4ff.CreateEmptyTrak(2, 48000, "audio", "und")
	moov.AddChild(atrak)
	moov.Mvex.AddChild(mp4ff.CreateTrex(2))
	atrak.SetAACDescriptor(2, 48000)

	var buf bytes.Buffer
	require.NoError(t, init.Encode(&buf))
	src := &sparseSource{data: buf.Bytes()}

	require.True(t, HasCompleteMetadata(src))
	meta, err := ParseMetadata(src)
	require.NoError(t, err)

	assert.Equal(t, 1, meta.TrackCount(av.TrackVideo))
	assert.Equal(t, 1, meta.TrackCount(av.TrackAudio))
	assert.True(t, meta.CanSeek())

	v := meta.TrackInfo(av.TrackVideo, 0)
	require.NotNil(t, v)
	assert.Equal(t, uint32(1), v.TrackID)
	assert.Equal(t, av.TrackVideo, v.Kind)
	assert.Equal(t, uint32(1000), meta.TrackTimescale(1))

	a := meta.TrackInfo(av.TrackAudio, 0)
	require.NotNil(t, a)
	assert.Equal(t, uint32(2), a.TrackID)
	assert.Equal(t, "mp4a", a.Codec)
	assert.Equal(t, 48000, a.SampleRate)
	assert.NotEmpty(t, a.ExtraData, "aac decoder config")
	assert.Equal(t, uint32(48000), meta.TrackTimescale(2))

	// Fragmented init segment: no moov sample table, but not an error.
	table, err := meta.ReadSampleTable(1)
	require.NoError(t, err)
	assert.Empty(t, table)

	assert.Nil(t, meta.TrackInfo(av.TrackVideo, 1))
}

func TestReadSampleTable(t *testing.T) {
	// Four samples of 10/20/30/40 bytes, 100-tick durations, two samples
	// per chunk, chunks at 1000 and 2000, only the first sample is sync.
	stts := box("stts", be32(0), be32(1), be32(4), be32(100))
	stsc := box("stsc", be32(0), be32(1), be32(1), be32(2), be32(1))
	stco := box("stco", be32(0), be32(2), be32(1000), be32(2000))
	stsz := box("stsz", be32(0), be32(0), be32(4), be32(10), be32(20), be32(30), be32(40))
	stss := box("stss", be32(0), be32(1), be32(1))
	stblBytes := box("stbl", stts, stsc, stco, stsz, stss)

	b, err := mp4ff.DecodeBox(0, bytes.NewReader(stblBytes))
	require.NoError(t, err)
	stbl, ok := b.(*mp4ff.StblBox)
	require.True(t, ok)

	trak := &mp4ff.TrakBox{Mdia: &mp4ff.MdiaBox{Minf: &mp4ff.MinfBox{Stbl: stbl}}}
	m := &fileMetadata{byID: map[uint32]*trackMeta{7: {scale: 1000, trak: trak}}}

	table, err := m.ReadSampleTable(7)
	require.NoError(t, err)
	require.Len(t, table, 4)

	wantOffsets := []int64{1000, 1010, 2000, 2030}
	wantSizes := []int64{10, 20, 30, 40}
	for i, ind := range table {
		assert.Equal(t, wantOffsets[i], ind.Start, "sample %d offset", i)
		assert.Equal(t, wantSizes[i], ind.Size, "sample %d size", i)
		assert.Equal(t, time.Duration(i)*100*time.Millisecond, ind.Time, "sample %d time", i)
		assert.Equal(t, 100*time.Millisecond, ind.Duration, "sample %d duration", i)
		assert.Equal(t, i == 0, ind.Sync, "sample %d sync", i)
	}

	_, err = m.ReadSampleTable(8)
	assert.ErrorIs(t, err, av.ErrDemuxer)
}
