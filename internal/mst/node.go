package mst

import (
	"github.com/oyin-bo/atrepo/internal/atrepoerr"
	"github.com/oyin-bo/atrepo/internal/car"
	"github.com/oyin-bo/atrepo/internal/cid"
	"github.com/oyin-bo/atrepo/internal/dagcbor"
)

// ParseNode decodes the MST node stored at c in bs. A node is a CBOR map
// with an optional "l" left-subtree link and an "e" array of entries
// (spec §3 MstNode).
func ParseNode(bs *car.BlockStore, c cid.CID) (Node, error) {
	raw, ok := bs.Get(c)
	if !ok {
		return Node{}, atrepoerr.WithCID(atrepoerr.MissingBlock, "MST node CID not present in block store", c.Key())
	}
	val, err := dagcbor.Decode(raw)
	if err != nil {
		return Node{}, atrepoerr.Wrap(atrepoerr.InvalidMSTNode, "failed to decode MST node CBOR", err)
	}
	if val.Kind != dagcbor.KindMap {
		return Node{}, atrepoerr.WithCID(atrepoerr.InvalidMSTNode, "MST node is not a CBOR map", c.Key())
	}

	var node Node
	if lField, ok := dagcbor.Field(val, "l"); ok && lField.Kind != dagcbor.KindNull {
		left, err := linkToCID(lField)
		if err != nil {
			return Node{}, err
		}
		node.Left = &left
	}

	eField, ok := dagcbor.Field(val, "e")
	if !ok {
		return Node{}, atrepoerr.WithCID(atrepoerr.InvalidMSTNode, "MST node missing entries array", c.Key())
	}
	if eField.Kind != dagcbor.KindArray {
		return Node{}, atrepoerr.WithCID(atrepoerr.InvalidMSTNode, "MST node entries field is not an array", c.Key())
	}

	node.Entries = make([]Entry, 0, len(eField.Array))
	for _, entryVal := range eField.Array {
		entry, err := parseEntry(entryVal)
		if err != nil {
			return Node{}, err
		}
		node.Entries = append(node.Entries, entry)
	}
	return node, nil
}

// IsNode reports whether the CBOR at c decodes as a plausible MST node
// (a map containing an "e" array), without validating entry contents.
// Used by the root-discovery fallback (§4.5 layer 2/3).
func IsNode(bs *car.BlockStore, c cid.CID) bool {
	raw, ok := bs.Get(c)
	if !ok {
		return false
	}
	val, err := dagcbor.Decode(raw)
	if err != nil || val.Kind != dagcbor.KindMap {
		return false
	}
	eField, ok := dagcbor.Field(val, "e")
	return ok && eField.Kind == dagcbor.KindArray
}

func parseEntry(v dagcbor.Value) (Entry, error) {
	if v.Kind != dagcbor.KindMap {
		return Entry{}, atrepoerr.New(atrepoerr.InvalidMSTNode, "MST entry is not a CBOR map")
	}

	var entry Entry
	if pField, ok := dagcbor.Field(v, "p"); ok && pField.Kind == dagcbor.KindUint {
		if pField.Int < 0 {
			return Entry{}, atrepoerr.New(atrepoerr.InvalidMSTPrefix, "entry prefix length is negative")
		}
		entry.PrefixLen = uint64(pField.Int)
	}

	kField, ok := dagcbor.Field(v, "k")
	if !ok || kField.Kind != dagcbor.KindBytes {
		return Entry{}, atrepoerr.New(atrepoerr.InvalidMSTNode, "MST entry missing byte-string key suffix")
	}
	entry.Suffix = kField.Bytes

	vField, ok := dagcbor.Field(v, "v")
	if !ok {
		return Entry{}, atrepoerr.New(atrepoerr.InvalidMSTNode, "MST entry missing value link")
	}
	value, err := linkToCID(vField)
	if err != nil {
		return Entry{}, err
	}
	entry.Value = value

	if tField, ok := dagcbor.Field(v, "t"); ok && tField.Kind != dagcbor.KindNull {
		right, err := linkToCID(tField)
		if err != nil {
			return Entry{}, err
		}
		entry.Right = &right
	}

	return entry, nil
}

func linkToCID(v dagcbor.Value) (cid.CID, error) {
	if v.Kind != dagcbor.KindLink {
		return cid.CID{}, atrepoerr.New(atrepoerr.InvalidMSTNode, "expected a CID link value")
	}
	return cid.ParseLinkPayload(v.Bytes)
}
