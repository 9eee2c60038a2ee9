package dagcbor

import (
	"testing"

	"github.com/oyin-bo/atrepo/internal/atrepoerr"
)

func TestDecodeUnsignedInt(t *testing.T) {
	// major 0, additional 10: inline small uint
	v, err := Decode([]byte{0x0a})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Kind != KindUint || v.Int != 10 {
		t.Errorf("got %+v, want KindUint 10", v)
	}
}

func TestDecodeNegativeInt(t *testing.T) {
	// major 1, additional 9 -> value -1-9 = -10
	v, err := Decode([]byte{0x29})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Kind != KindUint || v.Int != -10 {
		t.Errorf("got %+v, want KindUint -10", v)
	}
}

func TestDecodeTextString(t *testing.T) {
	// major 3, length 5, "hello"
	buf := append([]byte{0x65}, []byte("hello")...)
	v, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Kind != KindText || v.Text != "hello" {
		t.Errorf("got %+v, want KindText hello", v)
	}
}

func TestDecodeInvalidUTF8TextString(t *testing.T) {
	buf := append([]byte{0x61}, 0xff)
	if _, err := Decode(buf); !atrepoerr.Is(err, atrepoerr.InvalidUTF8) {
		t.Errorf("got %v, want InvalidUTF8", err)
	}
}

func TestDecodeByteString(t *testing.T) {
	buf := []byte{0x43, 0x01, 0x02, 0x03}
	v, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Kind != KindBytes || len(v.Bytes) != 3 {
		t.Errorf("got %+v, want KindBytes len 3", v)
	}
}

func TestDecodeArray(t *testing.T) {
	// [1, 2, 3]
	buf := []byte{0x83, 0x01, 0x02, 0x03}
	v, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Kind != KindArray || len(v.Array) != 3 {
		t.Fatalf("got %+v, want KindArray len 3", v)
	}
	for i, item := range v.Array {
		if item.Int != int64(i+1) {
			t.Errorf("Array[%d].Int = %d, want %d", i, item.Int, i+1)
		}
	}
}

func TestDecodeMapPreservesOrder(t *testing.T) {
	// {"b": 1, "a": 2} — deliberately not sorted, to assert decode order
	// is preserved rather than canonicalized.
	buf := []byte{
		0xa2,
		0x61, 'b', 0x01,
		0x61, 'a', 0x02,
	}
	v, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Kind != KindMap || len(v.Map) != 2 {
		t.Fatalf("got %+v, want KindMap len 2", v)
	}
	if v.Map[0].Key.Text != "b" || v.Map[1].Key.Text != "a" {
		t.Errorf("map entries reordered: got %q then %q, want b then a", v.Map[0].Key.Text, v.Map[1].Key.Text)
	}
}

func TestFieldFindsFirstMatchInDuplicates(t *testing.T) {
	buf := []byte{
		0xa2,
		0x61, 'x', 0x01,
		0x61, 'x', 0x02,
	}
	v, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	field, ok := Field(v, "x")
	if !ok || field.Int != 1 {
		t.Errorf("Field(v, x) = %+v, %v, want first entry (1)", field, ok)
	}
}

func TestTextFieldMissing(t *testing.T) {
	v, err := Decode([]byte{0xa0}) // empty map
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := TextField(v, "$type"); ok {
		t.Error("TextField on empty map should return false")
	}
}

func TestDecodeTag42Link(t *testing.T) {
	// tag 42 wrapping a 2-byte byte string payload
	buf := []byte{0xd8, 0x2a, 0x42, 0x00, 0x01}
	v, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Kind != KindLink {
		t.Errorf("got Kind %v, want KindLink", v.Kind)
	}
	if len(v.Bytes) != 2 {
		t.Errorf("link payload len = %d, want 2", len(v.Bytes))
	}
}

func TestDecodeTag42NonBytesPayloadFails(t *testing.T) {
	// tag 42 wrapping an integer instead of a byte string
	buf := []byte{0xd8, 0x2a, 0x01}
	if _, err := Decode(buf); !atrepoerr.Is(err, atrepoerr.InvalidCBORStructure) {
		t.Errorf("got %v, want InvalidCBORStructure", err)
	}
}

func TestDecodeUnknownTagRejectedByDefault(t *testing.T) {
	// tag 1 (epoch timestamp) wrapping an integer — not in the dialect.
	buf := []byte{0xc1, 0x01}
	if _, err := Decode(buf); !atrepoerr.Is(err, atrepoerr.InvalidCBORStructure) {
		t.Errorf("got %v, want InvalidCBORStructure (unknown tags rejected by default)", err)
	}
}

func TestDecodeUnknownTagSkippedWhenConfigured(t *testing.T) {
	buf := []byte{0xc1, 0x01}
	v, err := NewDecoderWithTagPolicy(buf, SkipUnknownTags).Decode()
	if err != nil {
		t.Fatalf("Decode with SkipUnknownTags: %v", err)
	}
	if v.Kind != KindUint || v.Int != 1 {
		t.Errorf("got %+v, want the tagged integer value unwrapped", v)
	}
}

func TestDecodeFloatRejected(t *testing.T) {
	// major 7, additional 26 (IEEE 754 single-precision float) is a
	// simple-value encoding this dialect does not accept.
	buf := []byte{0xfa, 0x00, 0x00, 0x00, 0x00}
	if _, err := Decode(buf); !atrepoerr.Is(err, atrepoerr.InvalidCBORStructure) {
		t.Errorf("got %v, want InvalidCBORStructure", err)
	}
}

func TestDecodeBoolAndNull(t *testing.T) {
	tv, err := Decode([]byte{0xf5})
	if err != nil || tv.Kind != KindBool || tv.Bool != true {
		t.Errorf("true: got %+v, %v", tv, err)
	}
	fv, err := Decode([]byte{0xf4})
	if err != nil || fv.Kind != KindBool || fv.Bool != false {
		t.Errorf("false: got %+v, %v", fv, err)
	}
	nv, err := Decode([]byte{0xf6})
	if err != nil || nv.Kind != KindNull {
		t.Errorf("null: got %+v, %v", nv, err)
	}
}

func TestDecodeTruncatedByteStringFails(t *testing.T) {
	buf := []byte{0x45, 0x01, 0x02} // claims 5 bytes, only 2 present
	if _, err := Decode(buf); !atrepoerr.Is(err, atrepoerr.UnexpectedEOF) {
		t.Errorf("got %v, want UnexpectedEOF", err)
	}
}

func TestRemainingAfterPartialDecode(t *testing.T) {
	// two consecutive values in one buffer; Decode reads only the first.
	buf := []byte{0x01, 0x02}
	d := NewDecoder(buf)
	v, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Int != 1 {
		t.Fatalf("first value = %d, want 1", v.Int)
	}
	if d.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1 (trailing byte not consumed)", d.Remaining())
	}
}
