package av

import (
	"fmt"
	"io"
)

// ByteRangeSource is the byte supply of a demuxer: a caching proxy over
// some transport that can be read at absolute offsets and knows which
// spans of the resource it already holds.
//
// Reads of uncached spans fail; a demuxer treats that as "no data this
// round", not as a track error.
type ByteRangeSource interface {
	io.ReaderAt

	// CachedRanges returns the currently cached spans in ascending order.
	CachedRanges() (ByteRanges, error)

	// Length returns the total resource length, or -1 when unknown.
	Length() int64
}

// BufferSource is a fully cached in-memory ByteRangeSource. Useful for
// local files and tests; progressive sources come from elsewhere.
type BufferSource struct {
	data []byte
}

func NewBufferSource(data []byte) *BufferSource {
	return &BufferSource{data: data}
}

func (s *BufferSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.data)) {
		return 0, fmt.Errorf("read at %d outside resource of %d bytes", off, len(s.data))
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (s *BufferSource) CachedRanges() (ByteRanges, error) {
	if len(s.data) == 0 {
		return nil, nil
	}
	return ByteRanges{{Start: 0, End: int64(len(s.data))}}, nil
}

func (s *BufferSource) Length() int64 {
	return int64(len(s.data))
}
