// Package dagcbor decodes the restricted DAG-CBOR dialect AT Protocol
// records are encoded in: unsigned/negative integers, byte strings, UTF-8
// text strings, arrays, order-preserving maps, booleans, null, and tag-42
// CID links. Floats, indefinite-length items and tags other than 42 are
// not part of the dialect. This package does not depend on any
// third-party CBOR library — it is the restricted decoder spec.md exists
// to have callers of this module own outright.
package dagcbor

import (
	"unicode/utf8"

	"github.com/oyin-bo/atrepo/internal/atrepoerr"
	"github.com/oyin-bo/atrepo/internal/byteseq"
)

// Kind discriminates the variants of Value.
type Kind int

const (
	KindUint Kind = iota
	KindText
	KindBytes
	KindArray
	KindMap
	KindBool
	KindNull
	KindLink
)

// Entry is one key/value pair of a decoded map, in original decode order.
type Entry struct {
	Key   Value
	Value Value
}

// Value is the tagged union this decoder produces. Only one of the
// fields is meaningful for a given Kind: Int for KindUint, Text for
// KindText, Bytes for KindBytes/KindLink, Array for KindArray, Map for
// KindMap, Bool for KindBool. KindNull carries no payload.
//
// Integers (both CBOR major types 0 and 1) are represented as a single
// signed Int field, matching spec.md's "unsigned integer, negative
// integer (representable in 64-bit signed)".
type Value struct {
	Kind  Kind
	Int   int64
	Text  string
	Bytes []byte
	Array []Value
	Map   []Entry
	Bool  bool
}

// Tag42 is the only CBOR tag this dialect accepts: it carries a CID link
// payload (a byte string) as the tagged value.
const Tag42 = 42

// UnknownTagPolicy controls what happens when the decoder meets a CBOR
// tag other than 42. Per spec.md §9's open question, this module resolves
// unknown-tag handling as a decoder-construction-time choice rather than
// a silent per-call branch.
type UnknownTagPolicy int

const (
	// RejectUnknownTags fails with InvalidCBORStructure before consuming
	// the tagged value. This is the default.
	RejectUnknownTags UnknownTagPolicy = iota
	// SkipUnknownTags discards the tag number and decodes the tagged value,
	// returning that value as if it had not been tagged.
	SkipUnknownTags
)

// Decoder decodes a single CBOR value from a byte slice using the
// restricted dialect above.
type Decoder struct {
	r         *byteseq.Reader
	tagPolicy UnknownTagPolicy
}

// NewDecoder returns a Decoder reading from buf with the default
// (reject) unknown-tag policy.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{r: byteseq.New(buf), tagPolicy: RejectUnknownTags}
}

// NewDecoderWithTagPolicy returns a Decoder with an explicit unknown-tag
// policy.
func NewDecoderWithTagPolicy(buf []byte, policy UnknownTagPolicy) *Decoder {
	return &Decoder{r: byteseq.New(buf), tagPolicy: policy}
}

// Decode decodes bytes using the default (reject unknown tags) policy.
// It is a convenience wrapper for the common case of decoding a whole
// block in one call.
func Decode(buf []byte) (Value, error) {
	return NewDecoder(buf).Decode()
}

// Decode reads exactly one CBOR value starting at the decoder's current
// position. Trailing bytes after the value are not an error — callers
// that need to assert the whole buffer was consumed should check
// d.Remaining() == 0 themselves.
func (d *Decoder) Decode() (Value, error) {
	return d.readValue()
}

// Remaining reports how many bytes are left unread in the decoder's
// buffer.
func (d *Decoder) Remaining() int { return d.r.Remaining() }

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.Take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// readArgument decodes the CBOR "additional information" argument
// encoding: values 0-23 are inline, 24/25/26/27 read 1/2/4/8 subsequent
// big-endian bytes.
func (d *Decoder) readArgument(additional byte) (uint64, error) {
	switch {
	case additional <= 23:
		return uint64(additional), nil
	case additional == 24:
		b, err := d.r.Take(1)
		if err != nil {
			return 0, atrepoerr.Wrap(atrepoerr.UnexpectedEOF, "truncated 1-byte argument", err)
		}
		return uint64(b[0]), nil
	case additional == 25:
		b, err := d.r.Take(2)
		if err != nil {
			return 0, atrepoerr.Wrap(atrepoerr.UnexpectedEOF, "truncated 2-byte argument", err)
		}
		return uint64(b[0])<<8 | uint64(b[1]), nil
	case additional == 26:
		b, err := d.r.Take(4)
		if err != nil {
			return 0, atrepoerr.Wrap(atrepoerr.UnexpectedEOF, "truncated 4-byte argument", err)
		}
		var v uint64
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v, nil
	case additional == 27:
		b, err := d.r.Take(8)
		if err != nil {
			return 0, atrepoerr.Wrap(atrepoerr.UnexpectedEOF, "truncated 8-byte argument", err)
		}
		var v uint64
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v, nil
	default:
		// 28-30 reserved, 31 indefinite-length: neither is in this dialect.
		return 0, atrepoerr.At(atrepoerr.InvalidCBORStructure, "indefinite-length or reserved argument encoding is not accepted", d.r.Pos())
	}
}

func (d *Decoder) readValue() (Value, error) {
	initial, err := d.readByte()
	if err != nil {
		return Value{}, err
	}
	major := initial >> 5
	additional := initial & 0x1f

	switch major {
	case 0: // unsigned integer
		n, err := d.readArgument(additional)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUint, Int: int64(n)}, nil

	case 1: // negative integer: value is -1-n
		n, err := d.readArgument(additional)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUint, Int: -1 - int64(n)}, nil

	case 2: // byte string
		n, err := d.readArgument(additional)
		if err != nil {
			return Value{}, err
		}
		b, err := d.r.Take(int(n))
		if err != nil {
			return Value{}, atrepoerr.At(atrepoerr.UnexpectedEOF, "truncated byte string", d.r.Pos())
		}
		return Value{Kind: KindBytes, Bytes: append([]byte(nil), b...)}, nil

	case 3: // text string
		n, err := d.readArgument(additional)
		if err != nil {
			return Value{}, err
		}
		b, err := d.r.Take(int(n))
		if err != nil {
			return Value{}, atrepoerr.At(atrepoerr.UnexpectedEOF, "truncated text string", d.r.Pos())
		}
		if !utf8.Valid(b) {
			return Value{}, atrepoerr.At(atrepoerr.InvalidUTF8, "text string is not valid UTF-8", d.r.Pos())
		}
		return Value{Kind: KindText, Text: string(b)}, nil

	case 4: // array
		n, err := d.readArgument(additional)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{Kind: KindArray, Array: items}, nil

	case 5: // map
		n, err := d.readArgument(additional)
		if err != nil {
			return Value{}, err
		}
		entries := make([]Entry, 0, n)
		for i := uint64(0); i < n; i++ {
			k, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			v, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, Entry{Key: k, Value: v})
		}
		return Value{Kind: KindMap, Map: entries}, nil

	case 6: // tag
		tag, err := d.readArgument(additional)
		if err != nil {
			return Value{}, err
		}
		if tag == Tag42 {
			inner, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			if inner.Kind != KindBytes {
				return Value{}, atrepoerr.At(atrepoerr.InvalidCBORStructure, "tag 42 payload must be a byte string", d.r.Pos())
			}
			return Value{Kind: KindLink, Bytes: inner.Bytes}, nil
		}
		if d.tagPolicy == SkipUnknownTags {
			return d.readValue()
		}
		return Value{}, atrepoerr.At(atrepoerr.InvalidCBORStructure, "unsupported CBOR tag", d.r.Pos())

	case 7: // simple values
		switch additional {
		case 20:
			return Value{Kind: KindBool, Bool: false}, nil
		case 21:
			return Value{Kind: KindBool, Bool: true}, nil
		case 22:
			return Value{Kind: KindNull}, nil
		default:
			return Value{}, atrepoerr.At(atrepoerr.InvalidCBORStructure, "unsupported CBOR simple value (floats are not in this dialect)", d.r.Pos())
		}

	default:
		return Value{}, atrepoerr.At(atrepoerr.InvalidCBORStructure, "invalid CBOR major type", d.r.Pos())
	}
}

// Field looks up the first map entry whose key is a text string equal to
// name, scanning entries in decode order; the first match wins if
// duplicate keys are present. It returns (zero Value, false) if map is
// not a KindMap or the field is absent.
func Field(v Value, name string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	for _, e := range v.Map {
		if e.Key.Kind == KindText && e.Key.Text == name {
			return e.Value, true
		}
	}
	return Value{}, false
}

// TextField is a convenience wrapper around Field for string-valued
// fields.
func TextField(v Value, name string) (string, bool) {
	f, ok := Field(v, name)
	if !ok || f.Kind != KindText {
		return "", false
	}
	return f.Text, true
}
