// Package cid parses the two CID encodings that appear in an AT Protocol
// CAR file: the fixed-layout binary form used in CAR block prefixes, and
// the varint-prefixed form carried inside a DAG-CBOR tag-42 link. Both
// normalize to the same canonical key.
package cid

import (
	"encoding/hex"

	"github.com/oyin-bo/atrepo/internal/atrepoerr"
	"github.com/oyin-bo/atrepo/internal/byteseq"
)

// Supported multicodec and multihash values. This dialect accepts only
// DAG-CBOR and Raw payloads hashed with SHA-256, per spec §4.2.
const (
	CodecDagCBOR = 0x71
	CodecRaw     = 0x55

	MultihashSHA256 = 0x12
)

// CID is a self-describing content identifier: version (always 1), the
// multicodec of the payload, the multihash algorithm, and the digest
// bytes. It is immutable after construction.
type CID struct {
	Version   uint8
	Codec     uint8
	Multihash uint8
	Digest    []byte
}

// Key returns the canonical byte sequence used as a map key:
// <version><codec><multihash><digest length><digest bytes>. Two CIDs are
// equal iff their Key()s are equal.
func (c CID) Key() string {
	buf := make([]byte, 4+len(c.Digest))
	buf[0] = c.Version
	buf[1] = c.Codec
	buf[2] = c.Multihash
	buf[3] = byte(len(c.Digest))
	copy(buf[4:], c.Digest)
	return string(buf)
}

// String returns a debug-friendly hex rendering of the digest, not a
// multibase CID string — this package does not implement multibase
// text encoding, which is out of scope for a read-only repository walk.
func (c CID) String() string {
	return hex.EncodeToString(c.Digest)
}

func validate(version, codec, multihash uint8, digestLen int) error {
	if version != 1 {
		return atrepoerr.New(atrepoerr.InvalidCID, "CID version must be 1")
	}
	if codec != CodecDagCBOR && codec != CodecRaw {
		return atrepoerr.New(atrepoerr.InvalidCID, "unsupported CID codec")
	}
	if multihash != MultihashSHA256 {
		return atrepoerr.New(atrepoerr.InvalidCID, "unsupported multihash algorithm")
	}
	if digestLen != 0 && digestLen != 32 {
		return atrepoerr.New(atrepoerr.InvalidCID, "digest length must be 0 or 32")
	}
	return nil
}

// ParseBinary decodes the in-block binary CID layout used in CAR block
// prefixes: one byte version, one byte codec, one byte multihash code,
// one byte digest length, then the digest bytes. It reads from r at its
// current position and advances past the CID; it does not consume a
// varint length prefix (CAR entries already know their total length).
func ParseBinary(r *byteseq.Reader) (CID, error) {
	head, err := r.Take(4)
	if err != nil {
		return CID{}, atrepoerr.At(atrepoerr.UnexpectedEOF, "truncated CID header", r.Pos())
	}
	version, codec, multihash, digestLen := head[0], head[1], head[2], int(head[3])
	if err := validate(version, codec, multihash, digestLen); err != nil {
		return CID{}, err
	}
	var digest []byte
	if digestLen > 0 {
		digest, err = r.Take(digestLen)
		if err != nil {
			return CID{}, atrepoerr.At(atrepoerr.UnexpectedEOF, "truncated CID digest", r.Pos())
		}
	}
	return CID{Version: version, Codec: codec, Multihash: multihash, Digest: append([]byte(nil), digest...)}, nil
}

// ParseBinaryBytes is a convenience wrapper around ParseBinary for a bare
// byte slice (used for CAR header root CIDs, which are not varint
// length-prefixed the way entry CIDs are).
func ParseBinaryBytes(b []byte) (CID, error) {
	return ParseBinary(byteseq.New(b))
}

// ParseLinkPayload decodes a DAG-CBOR tag-42 link payload: a byte string
// that MAY begin with a leading 0x00 multibase-identity marker, followed
// by varint-encoded version, codec, multihash code and digest length,
// then the digest bytes. It produces the same CID (and therefore the
// same canonical Key()) as the equivalent ParseBinary input.
func ParseLinkPayload(payload []byte) (CID, error) {
	if len(payload) == 0 {
		return CID{}, atrepoerr.New(atrepoerr.InvalidCID, "empty CID link payload")
	}
	if payload[0] == 0x00 {
		payload = payload[1:]
	}
	r := byteseq.New(payload)

	version, err := r.Varint()
	if err != nil {
		return CID{}, atrepoerr.Wrap(atrepoerr.InvalidCID, "failed to read CID version varint", err)
	}
	codec, err := r.Varint()
	if err != nil {
		return CID{}, atrepoerr.Wrap(atrepoerr.InvalidCID, "failed to read CID codec varint", err)
	}
	multihash, err := r.Varint()
	if err != nil {
		return CID{}, atrepoerr.Wrap(atrepoerr.InvalidCID, "failed to read multihash code varint", err)
	}
	digestLen, err := r.Varint()
	if err != nil {
		return CID{}, atrepoerr.Wrap(atrepoerr.InvalidCID, "failed to read digest length varint", err)
	}
	if err := validate(uint8(version), uint8(codec), uint8(multihash), int(digestLen)); err != nil {
		return CID{}, err
	}
	var digest []byte
	if digestLen > 0 {
		digest, err = r.Take(int(digestLen))
		if err != nil {
			return CID{}, atrepoerr.At(atrepoerr.UnexpectedEOF, "truncated CID digest", r.Pos())
		}
	}
	return CID{
		Version:   uint8(version),
		Codec:     uint8(codec),
		Multihash: uint8(multihash),
		Digest:    append([]byte(nil), digest...),
	}, nil
}
