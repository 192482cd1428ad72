package bitplane

import (
	"fmt"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// bitWriter appends bits msb-first into a byte slice.
type bitWriter struct {
	buf []byte
	cur byte
	n   uint8 // number of bits in cur (0..7)
}

func newBitWriter(capBits int) *bitWriter {
	return &bitWriter{buf: make([]byte, 0, (capBits+7)/8)}
}

// writeBit writes a single bit (msb-first in byte).
func (bw *bitWriter) writeBit(bit bool) {
	bw.cur <<= 1
	if bit {
		bw.cur |= 1
	}
	bw.n++
	if bw.n == 8 {
		bw.buf = append(bw.buf, bw.cur)
		bw.cur = 0
		bw.n = 0
	}
}

// bytes flushes any remaining bits, right-padded with zeros.
func (bw *bitWriter) bytes() []byte {
	if bw.n > 0 {
		bw.buf = append(bw.buf, bw.cur<<(8-bw.n))
		bw.cur = 0
		bw.n = 0
	}
	return bw.buf
}

// bitReader reads bits msb-first from a byte slice.
type bitReader struct {
	data []byte
	pos  int // bit position
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

// need fails unless n more bits are available.
func (br *bitReader) need(n int) error {
	if br.pos+n > len(br.data)*8 {
		return fmt.Errorf("need %d bits at bit %d of %d bytes: %w", n, br.pos, len(br.data), mdrerrors.ErrSizeMismatch)
	}
	return nil
}

// readBitFast reads a single bit without bounds checking; call need first.
func (br *bitReader) readBitFast() bool {
	b := br.data[br.pos>>3]>>(7-uint(br.pos&7))&1 == 1
	br.pos++
	return b
}
