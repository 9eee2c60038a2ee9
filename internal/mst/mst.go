// Package mst walks an AT Protocol repository's Merkle Search Tree: an
// ordered map from "collection/rkey" keys to record CIDs, stored as a
// tree of nodes whose entries are prefix-compressed against the
// preceding entry in the same node. See spec §3 (MstNode) and §4.5.
package mst

import (
	"bytes"
	"time"
	"unicode/utf8"

	"github.com/oyin-bo/atrepo/internal/atrepoerr"
	"github.com/oyin-bo/atrepo/internal/car"
	"github.com/oyin-bo/atrepo/internal/cid"
	"github.com/oyin-bo/atrepo/internal/dagcbor"
	"github.com/oyin-bo/atrepo/internal/metrics"
)

// DefaultMaxDepth bounds MST recursion. A valid repository tree is
// never this deep; inputs that are is a guard against cycles or
// adversarially malformed trees (spec §9).
const DefaultMaxDepth = 64

// Node is one decoded MST node: an optional left subtree and an ordered
// list of entries.
type Node struct {
	Left    *cid.CID
	Entries []Entry
}

// Entry is one key/value pair within a node, still prefix-compressed
// against the previous entry (see Walk for reconstruction).
type Entry struct {
	PrefixLen uint64
	Suffix    []byte
	Value     cid.CID
	Right     *cid.CID
}

// KeyValue is one fully-reconstructed key mapped to its record CID.
type KeyValue struct {
	Key   string
	Value cid.CID
}

// RecordPath is a key split on its first '/', per spec §3 RecordPath.
type RecordPath struct {
	Collection string
	Rkey       string
}

// SplitKey splits an MST key into its collection and rkey components.
// The second return value is false if key has no '/'.
func SplitKey(key string) (RecordPath, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return RecordPath{Collection: key[:i], Rkey: key[i+1:]}, true
		}
	}
	return RecordPath{}, false
}

// Result is the output of a full tree walk: every key in strictly
// ascending lexicographic order, alongside the value CID it maps to.
type Result struct {
	Pairs []KeyValue
}

// KeyToValue projects the walk result as a key -> value CID map.
func (r Result) KeyToValue() map[string]cid.CID {
	out := make(map[string]cid.CID, len(r.Pairs))
	for _, kv := range r.Pairs {
		out[kv.Key] = kv.Value
	}
	return out
}

// CIDToPath projects the walk result as a value-CID -> "collection/rkey"
// map restricted to keys whose collection equals collectionFilter. An
// empty collectionFilter keeps every key that contains a '/'.
func (r Result) CIDToPath(collectionFilter string) map[string]RecordPath {
	out := make(map[string]RecordPath)
	for _, kv := range r.Pairs {
		path, ok := SplitKey(kv.Key)
		if !ok || (collectionFilter != "" && path.Collection != collectionFilter) {
			continue
		}
		out[kv.Value.Key()] = path
	}
	return out
}

// Options configures a Walk.
type Options struct {
	// MaxDepth bounds recursion depth; zero means DefaultMaxDepth.
	MaxDepth int
}

func (o Options) maxDepth() int {
	if o.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return o.MaxDepth
}

// Walk performs the recursive in-order traversal of spec §4.5 starting
// at root, returning every key in strictly ascending lexicographic
// order. It enforces the precondition that p never exceeds the previous
// entry's key length, that every key is valid UTF-8, and that each key
// is strictly greater than the previous entry's key in the same node;
// any violation is reported as the corresponding Invalid* error and the
// walk stops. Ordering between a subtree's keys and the entries of its
// parent node is not checked.
func Walk(bs *car.BlockStore, root cid.CID, opts Options) (Result, error) {
	start := time.Now()
	defer func() { metrics.RepoMSTWalkDuration.Observe(time.Since(start).Seconds()) }()

	w := &walker{bs: bs, maxDepth: opts.maxDepth(), visited: make(map[string]bool)}
	if err := w.walk(root, 0); err != nil {
		metrics.RepoDecodeErrors.WithLabelValues(errorKind(err)).Inc()
		return Result{}, err
	}
	return Result{Pairs: w.pairs}, nil
}

func errorKind(err error) string {
	if e, ok := err.(*atrepoerr.Error); ok {
		return e.Kind.String()
	}
	return "unknown"
}

type walker struct {
	bs       *car.BlockStore
	maxDepth int
	visited  map[string]bool
	pairs    []KeyValue
}

func (w *walker) walk(nodeCID cid.CID, depth int) error {
	if depth > w.maxDepth {
		return atrepoerr.WithCID(atrepoerr.InvalidMSTNode, "MST recursion depth exceeded configured limit", nodeCID.Key())
	}
	key := nodeCID.Key()
	if w.visited[key] {
		return atrepoerr.WithCID(atrepoerr.InvalidMSTNode, "MST node visited more than once (cycle)", key)
	}
	w.visited[key] = true
	metrics.RepoMSTNodesVisited.Inc()

	node, err := ParseNode(w.bs, nodeCID)
	if err != nil {
		return err
	}

	if node.Left != nil {
		if err := w.walk(*node.Left, depth+1); err != nil {
			return err
		}
	}

	var lastKey []byte
	for _, entry := range node.Entries {
		if entry.PrefixLen > uint64(len(lastKey)) {
			return atrepoerr.WithCID(atrepoerr.InvalidMSTPrefix, "entry prefix length exceeds previous key length", nodeCID.Key())
		}
		if !utf8.Valid(entry.Suffix) {
			return atrepoerr.WithCID(atrepoerr.InvalidMSTKey, "entry key suffix is not valid UTF-8", nodeCID.Key())
		}
		fullKey := make([]byte, 0, entry.PrefixLen+uint64(len(entry.Suffix)))
		fullKey = append(fullKey, lastKey[:entry.PrefixLen]...)
		fullKey = append(fullKey, entry.Suffix...)

		if bytes.Compare(fullKey, lastKey) <= 0 {
			return atrepoerr.WithCID(atrepoerr.InvalidMSTOrdering, "entry key does not strictly increase", nodeCID.Key())
		}
		lastKey = fullKey

		w.pairs = append(w.pairs, KeyValue{Key: string(fullKey), Value: entry.Value})

		if entry.Right != nil {
			if err := w.walk(*entry.Right, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}

