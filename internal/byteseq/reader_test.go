package byteseq

import (
	"testing"

	"github.com/oyin-bo/atrepo/internal/atrepoerr"
)

func TestTakeAdvancesPosition(t *testing.T) {
	r := New([]byte{1, 2, 3, 4, 5})

	got, err := r.Take(2)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if string(got) != "\x01\x02" {
		t.Errorf("got %v, want [1 2]", got)
	}
	if r.Pos() != 2 {
		t.Errorf("Pos() = %d, want 2", r.Pos())
	}
	if r.Remaining() != 3 {
		t.Errorf("Remaining() = %d, want 3", r.Remaining())
	}
}

func TestTakePastEndFails(t *testing.T) {
	r := New([]byte{1, 2})
	if _, err := r.Take(3); !atrepoerr.Is(err, atrepoerr.UnexpectedEOF) {
		t.Errorf("Take(3) on 2-byte buffer: got %v, want UnexpectedEOF", err)
	}
}

func TestTakeNegativeFails(t *testing.T) {
	r := New([]byte{1, 2, 3})
	if _, err := r.Take(-1); !atrepoerr.Is(err, atrepoerr.UnexpectedEOF) {
		t.Errorf("Take(-1): got %v, want UnexpectedEOF", err)
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	r := New([]byte{1, 2, 3})
	peeked := r.Peek(2)
	if len(peeked) != 2 || peeked[0] != 1 || peeked[1] != 2 {
		t.Errorf("Peek(2) = %v, want [1 2]", peeked)
	}
	if r.Pos() != 0 {
		t.Errorf("Peek must not advance Pos, got %d", r.Pos())
	}
}

func TestPeekClampsToRemaining(t *testing.T) {
	r := New([]byte{1, 2, 3})
	if got := r.Peek(10); len(got) != 3 {
		t.Errorf("Peek(10) on 3-byte buffer returned %d bytes, want 3", len(got))
	}

	r2 := New([]byte{1, 2, 3})
	_, _ = r2.Take(3)
	if got := r2.Peek(5); len(got) != 0 {
		t.Errorf("Peek at EOF returned %d bytes, want 0", len(got))
	}
}

func TestSkip(t *testing.T) {
	r := New([]byte{1, 2, 3, 4})
	if err := r.Skip(2); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if r.Pos() != 2 {
		t.Errorf("Pos() = %d, want 2", r.Pos())
	}
	if err := r.Skip(10); !atrepoerr.Is(err, atrepoerr.UnexpectedEOF) {
		t.Errorf("Skip past end: got %v, want UnexpectedEOF", err)
	}
}

func TestVarintSingleByte(t *testing.T) {
	r := New([]byte{0x00})
	v, err := r.Varint()
	if err != nil || v != 0 {
		t.Fatalf("Varint() = %d, %v, want 0, nil", v, err)
	}

	r2 := New([]byte{0x7f})
	v2, err := r2.Varint()
	if err != nil || v2 != 127 {
		t.Fatalf("Varint() = %d, %v, want 127, nil", v2, err)
	}
}

func TestVarintMultiByte(t *testing.T) {
	// 300 = 0b100101100 -> LEB128: 0xac 0x02
	r := New([]byte{0xac, 0x02})
	v, err := r.Varint()
	if err != nil {
		t.Fatalf("Varint: %v", err)
	}
	if v != 300 {
		t.Errorf("Varint() = %d, want 300", v)
	}
	if r.Pos() != 2 {
		t.Errorf("Pos() = %d, want 2", r.Pos())
	}
}

func TestVarintTruncated(t *testing.T) {
	r := New([]byte{0xac})
	if _, err := r.Varint(); !atrepoerr.Is(err, atrepoerr.UnexpectedEOF) {
		t.Errorf("Varint() on truncated continuation byte: got %v, want UnexpectedEOF", err)
	}
}

func TestVarintTooLong(t *testing.T) {
	buf := make([]byte, 11)
	for i := range buf {
		buf[i] = 0x80
	}
	buf[10] = 0x01
	r := New(buf)
	if _, err := r.Varint(); !atrepoerr.Is(err, atrepoerr.VarintTooLong) {
		t.Errorf("Varint() on 11-byte non-terminating sequence: got %v, want VarintTooLong", err)
	}
}
