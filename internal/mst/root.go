package mst

import (
	"github.com/oyin-bo/atrepo/internal/atrepoerr"
	"github.com/oyin-bo/atrepo/internal/car"
	"github.com/oyin-bo/atrepo/internal/cid"
	"github.com/oyin-bo/atrepo/internal/dagcbor"
)

// RootOptions configures ResolveRoot.
type RootOptions struct {
	// AllowFallback enables the layer-2 and layer-3 fallbacks of spec
	// §4.5 when the CAR header's first root does not decode as a commit.
	// Default false: a repository whose root is not a commit is rejected
	// outright rather than guessed at.
	AllowFallback bool
}

// ResolveRoot finds the MST root CID for a repository, given the CAR
// header's first root and the block store it was drained into. It
// implements the three-layer fallback of spec §4.5:
//
//  1. headerRoot decodes as a commit block; follow its "data" link.
//  2. headerRoot is itself a valid MST node.
//  3. scan every block in bs for MST nodes; the root is whichever one is
//     not referenced by any other node's "l" or "t" link. More or fewer
//     than one candidate is AmbiguousMSTRoot.
//
// Layers 2 and 3 only run when opts.AllowFallback is true.
func ResolveRoot(bs *car.BlockStore, headerRoot cid.CID, opts RootOptions) (cid.CID, error) {
	if dataCID, ok := tryCommit(bs, headerRoot); ok {
		return dataCID, nil
	}

	if !opts.AllowFallback {
		return cid.CID{}, atrepoerr.WithCID(atrepoerr.InvalidCARHeader, "CAR root is not a commit block and fallback is disabled", headerRoot.Key())
	}

	if IsNode(bs, headerRoot) {
		return headerRoot, nil
	}

	return scanForRoot(bs)
}

// tryCommit attempts to decode c as a commit block and extract its "data"
// MST root link. ok is false if c is not a map, or has no "data" link —
// callers treat that as "not a commit" rather than a hard error.
func tryCommit(bs *car.BlockStore, c cid.CID) (cid.CID, bool) {
	raw, ok := bs.Get(c)
	if !ok {
		return cid.CID{}, false
	}
	val, err := dagcbor.Decode(raw)
	if err != nil || val.Kind != dagcbor.KindMap {
		return cid.CID{}, false
	}
	dataField, ok := dagcbor.Field(val, "data")
	if !ok || dataField.Kind != dagcbor.KindLink {
		return cid.CID{}, false
	}
	dataCID, err := cid.ParseLinkPayload(dataField.Bytes)
	if err != nil {
		return cid.CID{}, false
	}
	return dataCID, true
}

// scanForRoot implements layer 3: the MST root is the one node among all
// blocks in bs that no other node references via "l" or "t".
func scanForRoot(bs *car.BlockStore) (cid.CID, error) {
	nodes := make(map[string]cid.CID)
	referenced := make(map[string]bool)

	for _, block := range bs.Order() {
		if !IsNode(bs, block.CID) {
			continue
		}
		node, err := ParseNode(bs, block.CID)
		if err != nil {
			continue
		}
		nodes[block.CID.Key()] = block.CID
		if node.Left != nil {
			referenced[node.Left.Key()] = true
		}
		for _, entry := range node.Entries {
			if entry.Right != nil {
				referenced[entry.Right.Key()] = true
			}
		}
	}

	var candidates []cid.CID
	for key, c := range nodes {
		if !referenced[key] {
			candidates = append(candidates, c)
		}
	}

	if len(candidates) != 1 {
		return cid.CID{}, atrepoerr.New(atrepoerr.AmbiguousMSTRoot, "could not identify a single unreferenced MST node as the root")
	}
	return candidates[0], nil
}
