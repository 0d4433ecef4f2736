package mp4

import (
	"encoding/binary"

	"github.com/openmediakit/streamkit/av"
)

const boxHeaderLen = 8

// boxHeader is a top-level box header: enough to know what a box is and how
// far to skip, without touching its contents.
type boxHeader struct {
	boxType    string
	size       int64 // total box size including header
	headerSize int64
}

// readBoxHeader reads the box header at offset. The header bytes must be
// cached; size==0 (box extends to end of file) is resolved against the
// source length when known.
func readBoxHeader(src av.ByteRangeSource, offset int64) (h boxHeader, err error) {
	var buf [16]byte
	if _, err = src.ReadAt(buf[:boxHeaderLen], offset); err != nil {
		return
	}
	size := int64(binary.BigEndian.Uint32(buf[:4]))
	h.boxType = string(buf[4:8])
	h.headerSize = boxHeaderLen
	switch size {
	case 0:
		if total := src.Length(); total >= 0 {
			size = total - offset
		}
	case 1:
		if _, err = src.ReadAt(buf[8:16], offset+boxHeaderLen); err != nil {
			return
		}
		size = int64(binary.BigEndian.Uint64(buf[8:16]))
		h.headerSize = 16
	}
	h.size = size
	return
}
