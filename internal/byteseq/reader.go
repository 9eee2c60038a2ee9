// Package byteseq provides a positioned, bounded view over an immutable
// byte slice, plus an unsigned LEB128 varint decoder. Every other decoder
// in this module (cid, dagcbor, car, mst) is built on top of a Reader;
// none of them reads past the window a caller hands them.
package byteseq

import "github.com/oyin-bo/atrepo/internal/atrepoerr"

// maxVarintBytes bounds varint decoding at 10 bytes, enough for a full
// 64-bit value in LEB128 (70 payload bits, six to spare), matching the CAR/DAG-CBOR
// varint convention.
const maxVarintBytes = 10

// Reader is a cursor over an in-memory byte buffer. It never copies the
// backing array; Peek and Take return sub-slices of it.
type Reader struct {
	buf []byte
	pos int
}

// New returns a Reader positioned at the start of buf.
func New(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current offset into the buffer.
func (r *Reader) Pos() int { return r.pos }

// Len returns the total buffer length.
func (r *Reader) Len() int { return len(r.buf) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.pos >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.pos
}

// Peek returns a sub-slice of up to n bytes starting at the current
// position without advancing it. The returned slice is clamped to
// whatever remains; it is never an error to peek past the end.
func (r *Reader) Peek(n int) []byte {
	end := r.pos + n
	if end > len(r.buf) {
		end = len(r.buf)
	}
	if end < r.pos {
		end = r.pos
	}
	return r.buf[r.pos:end]
}

// Take returns exactly n bytes and advances the cursor past them. It
// fails with UnexpectedEOF if fewer than n bytes remain.
func (r *Reader) Take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, atrepoerr.At(atrepoerr.UnexpectedEOF, "not enough bytes remaining", r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// Skip discards exactly n bytes, failing the same way Take does.
func (r *Reader) Skip(n int) error {
	_, err := r.Take(n)
	return err
}

// Varint decodes an unsigned LEB128 varint: the high bit of each byte is
// the continuation flag, the low 7 bits accumulate little-endian. It
// reads at most 10 bytes, failing with VarintTooLong if the 10th byte
// still has its continuation bit set, and with UnexpectedEOF if the
// buffer runs out first.
func (r *Reader) Varint() (uint64, error) {
	var value uint64
	for i := 0; i < maxVarintBytes; i++ {
		b, err := r.Take(1)
		if err != nil {
			return 0, atrepoerr.At(atrepoerr.UnexpectedEOF, "varint truncated", r.pos)
		}
		value |= uint64(b[0]&0x7f) << (7 * uint(i))
		if b[0]&0x80 == 0 {
			return value, nil
		}
	}
	return 0, atrepoerr.At(atrepoerr.VarintTooLong, "varint did not terminate within 10 bytes", r.pos)
}
