// Package car reads CAR v1 (Content-Addressable aRchive) streams: a
// varint-length-prefixed CBOR header naming root CIDs, followed by a
// sequence of varint-length-prefixed (CID, block-bytes) entries. Blocks
// are yielded lazily; Drain materializes them all into a BlockStore.
package car

import (
	"github.com/oyin-bo/atrepo/internal/atrepoerr"
	"github.com/oyin-bo/atrepo/internal/byteseq"
	"github.com/oyin-bo/atrepo/internal/cid"
	"github.com/oyin-bo/atrepo/internal/dagcbor"
)

// DefaultMaxBlockBytes bounds the size of a single block payload the
// reader will allocate for, guarding against a corrupted or adversarial
// length prefix demanding an unreasonable allocation.
const DefaultMaxBlockBytes = 4 << 20 // 4 MiB

// Header is the decoded first block of a CAR stream.
type Header struct {
	Version uint8
	Roots   []cid.CID
}

// Block is one (CID, payload) pair read from a CAR stream.
type Block struct {
	CID   cid.CID
	Bytes []byte
}

// Reader lazily iterates the entries of a CAR v1 stream after having
// already decoded its header.
type Reader struct {
	r             *byteseq.Reader
	header        Header
	maxBlockBytes int
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxBlockBytes overrides DefaultMaxBlockBytes.
func WithMaxBlockBytes(n int) Option {
	return func(r *Reader) { r.maxBlockBytes = n }
}

// NewReader decodes the CAR header from buf and returns a Reader
// positioned at the first entry. buf is not copied; the Reader and any
// Blocks it yields borrow it for their lifetime.
func NewReader(buf []byte, opts ...Option) (*Reader, error) {
	r := &Reader{r: byteseq.New(buf), maxBlockBytes: DefaultMaxBlockBytes}
	for _, opt := range opts {
		opt(r)
	}
	header, err := readHeader(r.r)
	if err != nil {
		return nil, err
	}
	r.header = header
	return r, nil
}

// Header returns the decoded CAR header.
func (r *Reader) Header() Header { return r.header }

func readHeader(r *byteseq.Reader) (Header, error) {
	headerLen, err := r.Varint()
	if err != nil {
		return Header{}, atrepoerr.Wrap(atrepoerr.InvalidCARHeader, "failed to read header length varint", err)
	}
	headerBytes, err := r.Take(int(headerLen))
	if err != nil {
		return Header{}, atrepoerr.At(atrepoerr.UnexpectedEOF, "truncated CAR header", r.Pos())
	}

	val, err := dagcbor.Decode(headerBytes)
	if err != nil {
		return Header{}, atrepoerr.Wrap(atrepoerr.InvalidCARHeader, "failed to decode header CBOR", err)
	}
	if val.Kind != dagcbor.KindMap {
		return Header{}, atrepoerr.New(atrepoerr.InvalidCARHeader, "CAR header is not a CBOR map")
	}

	versionField, ok := dagcbor.Field(val, "version")
	if !ok || versionField.Kind != dagcbor.KindUint {
		return Header{}, atrepoerr.New(atrepoerr.InvalidCARHeader, "CAR header missing integer version")
	}
	if versionField.Int != 1 {
		return Header{}, atrepoerr.New(atrepoerr.UnsupportedCARVersion, "only CAR version 1 is supported")
	}

	rootsField, ok := dagcbor.Field(val, "roots")
	if !ok || rootsField.Kind != dagcbor.KindArray {
		return Header{}, atrepoerr.New(atrepoerr.InvalidCARHeader, "CAR header missing roots array")
	}
	if len(rootsField.Array) == 0 {
		return Header{}, atrepoerr.New(atrepoerr.InvalidCARHeader, "CAR header roots list must not be empty")
	}

	roots := make([]cid.CID, 0, len(rootsField.Array))
	for _, rootVal := range rootsField.Array {
		if rootVal.Kind != dagcbor.KindBytes {
			return Header{}, atrepoerr.New(atrepoerr.InvalidCARHeader, "root entry is not a byte string")
		}
		rootCID, err := cid.ParseBinaryBytes(rootVal.Bytes)
		if err != nil {
			return Header{}, atrepoerr.Wrap(atrepoerr.InvalidCID, "invalid root CID", err)
		}
		roots = append(roots, rootCID)
	}

	return Header{Version: uint8(versionField.Int), Roots: roots}, nil
}

// Next reads and returns the next (CID, payload) entry. When the stream
// is exhausted it returns done=true with a zero Block and nil error.
func (r *Reader) Next() (block Block, done bool, err error) {
	if r.r.Remaining() == 0 {
		return Block{}, true, nil
	}

	entrySize, err := r.r.Varint()
	if err != nil {
		return Block{}, false, atrepoerr.Wrap(atrepoerr.UnexpectedEOF, "failed to read entry length varint", err)
	}
	if int(entrySize) > r.maxBlockBytes {
		return Block{}, false, atrepoerr.New(atrepoerr.InvalidCARHeader, "entry exceeds configured maximum block size")
	}
	if r.r.Remaining() < int(entrySize) {
		return Block{}, false, atrepoerr.At(atrepoerr.UnexpectedEOF, "truncated CAR entry", r.r.Pos())
	}

	cidStart := r.r.Pos()
	entryCID, err := cid.ParseBinary(r.r)
	if err != nil {
		return Block{}, false, err
	}
	cidSize := r.r.Pos() - cidStart
	payloadSize := int(entrySize) - cidSize
	if payloadSize < 0 {
		return Block{}, false, atrepoerr.New(atrepoerr.InvalidCARHeader, "entry length shorter than its CID")
	}

	payload, err := r.r.Take(payloadSize)
	if err != nil {
		return Block{}, false, atrepoerr.At(atrepoerr.UnexpectedEOF, "truncated CAR entry payload", r.r.Pos())
	}

	return Block{CID: entryCID, Bytes: payload}, false, nil
}

// BlockStore is an in-memory, read-only-after-construction mapping from
// canonical CID key to block bytes, plus the arrival order the blocks
// were inserted in. Multiple readers may safely range over a BlockStore
// concurrently once construction (Drain) has finished.
type BlockStore struct {
	byKey map[string][]byte
	order []Block
	pos   map[string]int
}

// NewBlockStore returns an empty BlockStore.
func NewBlockStore() *BlockStore {
	return &BlockStore{byKey: make(map[string][]byte), pos: make(map[string]int)}
}

// Put inserts a block, recording it in arrival order. A duplicate CID
// overwrites the stored bytes, in both byKey and its existing Order()
// entry, but does not change its original position in Order().
func (bs *BlockStore) Put(c cid.CID, data []byte) {
	key := c.Key()
	if i, exists := bs.pos[key]; exists {
		bs.order[i].Bytes = data
	} else {
		bs.pos[key] = len(bs.order)
		bs.order = append(bs.order, Block{CID: c, Bytes: data})
	}
	bs.byKey[key] = data
}

// Get returns the bytes stored for c, if any.
func (bs *BlockStore) Get(c cid.CID) ([]byte, bool) {
	b, ok := bs.byKey[c.Key()]
	return b, ok
}

// Len returns the number of distinct blocks stored.
func (bs *BlockStore) Len() int { return len(bs.byKey) }

// Order returns the blocks in the order they were first inserted —
// for a BlockStore built by Drain, this is CAR arrival order.
func (bs *BlockStore) Order() []Block { return bs.order }

// Drain reads a CAR stream to completion, decoding its header and
// collecting every entry into a BlockStore. It is the first step of
// building a repository view (spec §4.7 step 1).
func Drain(buf []byte, opts ...Option) (Header, *BlockStore, error) {
	r, err := NewReader(buf, opts...)
	if err != nil {
		return Header{}, nil, err
	}
	bs := NewBlockStore()
	for {
		block, done, err := r.Next()
		if err != nil {
			return r.Header(), bs, err
		}
		if done {
			break
		}
		bs.Put(block.CID, block.Bytes)
	}
	return r.Header(), bs, nil
}
