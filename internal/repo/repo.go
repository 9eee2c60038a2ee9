// Package repo composes the car, mst and dagcbor packages into the
// top-level operation a caller actually wants: given the raw bytes of an
// AT Protocol repository CAR, yield its records together with their
// collection/rkey paths (spec §4.6–§4.7).
package repo

import (
	"github.com/oyin-bo/atrepo/internal/atrepoerr"
	"github.com/oyin-bo/atrepo/internal/car"
	"github.com/oyin-bo/atrepo/internal/cid"
	"github.com/oyin-bo/atrepo/internal/dagcbor"
	"github.com/oyin-bo/atrepo/internal/metrics"
	"github.com/oyin-bo/atrepo/internal/mst"
)

// Record is one decoded block whose CBOR map carries a "$type" field,
// together with its position in the repository tree (if resolved).
type Record struct {
	Type  string
	Bytes []byte
	CID   cid.CID
	Path  *mst.RecordPath
}

// Options configures View.Records and View.RecordsWithPath.
type Options struct {
	// AllowRootFallback enables MST root-discovery layers 2 and 3 of
	// spec §4.5 when the CAR root does not decode as a commit. Default
	// false.
	AllowRootFallback bool
	// StrictReconciliation, when true, turns a record whose CID is missing
	// from the cid_to_path mapping (which CollectionFilter restricts) into a
	// MSTRecordDesync error instead of a record with a nil Path.
	StrictReconciliation bool
	// CollectionFilter restricts the cid_to_path mapping built during MST
	// reconciliation to one collection; it does not exclude records from
	// the returned stream. In non-strict mode a record outside the filtered
	// collection is still yielded, just with a nil Path; in strict mode it
	// is a MSTRecordDesync error. Empty means no filtering.
	CollectionFilter string
	// MaxMSTDepth overrides mst.DefaultMaxDepth; zero keeps the default.
	MaxMSTDepth int
	// MaxBlockBytes overrides car.DefaultMaxBlockBytes; zero keeps the
	// default.
	MaxBlockBytes int
	// UnknownCBORTagPolicy controls how non-42 CBOR tags are handled
	// while decoding record blocks. Default dagcbor.RejectUnknownTags.
	UnknownCBORTagPolicy dagcbor.UnknownTagPolicy
	// Limit, if non-zero, stops iteration after this many matching
	// records (spec §4.7 step 5, early termination).
	Limit int
}

// View is a repository decoded from one CAR buffer: its header, its
// block store, and (lazily) its MST root.
type View struct {
	header car.Header
	blocks *car.BlockStore
	opts   Options
}

// NewView drains buf into a BlockStore and returns a View ready for
// Records/RecordsWithPath. buf is not copied.
func NewView(buf []byte, opts Options) (*View, error) {
	carOpts := []car.Option{}
	if opts.MaxBlockBytes > 0 {
		carOpts = append(carOpts, car.WithMaxBlockBytes(opts.MaxBlockBytes))
	}
	header, blocks, err := car.Drain(buf, carOpts...)
	if err != nil {
		metrics.RepoDecodeErrors.WithLabelValues(errKind(err)).Inc()
		return nil, err
	}
	metrics.RepoBlocksRead.Add(float64(blocks.Len()))
	return &View{header: header, blocks: blocks, opts: opts}, nil
}

// Header returns the decoded CAR header.
func (v *View) Header() car.Header { return v.header }

// Blocks returns the underlying block store.
func (v *View) Blocks() *car.BlockStore { return v.blocks }

func (v *View) mstOptions() mst.Options {
	return mst.Options{MaxDepth: v.opts.MaxMSTDepth}
}

func (v *View) resolveRoot() (cid.CID, error) {
	if len(v.header.Roots) == 0 {
		return cid.CID{}, atrepoerr.New(atrepoerr.InvalidCARHeader, "CAR header has no roots")
	}
	return mst.ResolveRoot(v.blocks, v.header.Roots[0], mst.RootOptions{AllowFallback: v.opts.AllowRootFallback})
}

// Records yields every block that decodes as a CBOR map with a "$type"
// text field, in CAR arrival order, without attempting path
// reconciliation. Raw-codec blocks are skipped without decoding, and a
// dag-cbor block that decodes without "$type" is skipped too; a dag-cbor
// block that fails to decode stops the iteration, returning the records
// yielded so far plus the error (see iterate).
func (v *View) Records() ([]Record, error) {
	return v.iterate(nil)
}

// RecordsWithPath performs the full §4.7 operation: resolve the MST root,
// walk it restricted to opts.CollectionFilter, and join the resulting
// value-CID -> path map against the record stream.
func (v *View) RecordsWithPath() ([]Record, error) {
	root, err := v.resolveRoot()
	if err != nil {
		metrics.RepoDecodeErrors.WithLabelValues(errKind(err)).Inc()
		return nil, err
	}

	result, err := mst.Walk(v.blocks, root, v.mstOptions())
	if err != nil {
		metrics.RepoDecodeErrors.WithLabelValues(errKind(err)).Inc()
		return nil, err
	}

	cidToPath := result.CIDToPath(v.opts.CollectionFilter)
	return v.iterate(cidToPath)
}

// iterate walks blocks in CAR arrival order, yielding Records. When
// cidToPath is non-nil, each record's Path is looked up there; in strict
// mode a miss is MSTRecordDesync, otherwise Path stays nil.
//
// Raw-codec blocks are opaque blobs and are never decoded. A dag-cbor
// block that fails to decode is a corrupted block, not a blob, so it
// stops the iteration with an error rather than being skipped (spec
// §4.7, "error isolation"); a dag-cbor block that decodes cleanly but
// isn't a map, or is a map without "$type", is structurally expected
// (the commit and MST nodes themselves) and is skipped silently.
func (v *View) iterate(cidToPath map[string]mst.RecordPath) ([]Record, error) {
	var out []Record
	for _, block := range v.blocks.Order() {
		if block.CID.Codec != cid.CodecDagCBOR {
			continue
		}

		val, err := dagcbor.NewDecoderWithTagPolicy(block.Bytes, v.opts.UnknownCBORTagPolicy).Decode()
		if err != nil {
			metrics.RepoDecodeErrors.WithLabelValues(errKind(err)).Inc()
			return out, err
		}
		if val.Kind != dagcbor.KindMap {
			continue
		}
		typ, ok := dagcbor.TextField(val, "$type")
		if !ok {
			continue
		}

		rec := Record{Type: typ, Bytes: block.Bytes, CID: block.CID}
		if cidToPath != nil {
			if path, found := cidToPath[block.CID.Key()]; found {
				p := path
				rec.Path = &p
			} else if v.opts.StrictReconciliation {
				err := atrepoerr.WithCID(atrepoerr.MSTRecordDesync, "record CID has no corresponding MST entry", block.CID.Key())
				metrics.RepoDecodeErrors.WithLabelValues(errKind(err)).Inc()
				return out, err
			}
		}

		metrics.RepoRecordsYielded.Inc()
		out = append(out, rec)
		if v.opts.Limit > 0 && len(out) >= v.opts.Limit {
			break
		}
	}
	return out, nil
}

func errKind(err error) string {
	if e, ok := err.(*atrepoerr.Error); ok {
		return e.Kind.String()
	}
	return "unknown"
}
