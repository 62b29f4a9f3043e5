package segmerge

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/catalog"
	"github.com/hupe1980/segmerge/internal/compound"
	"github.com/hupe1980/segmerge/internal/engine"
	"github.com/hupe1980/segmerge/internal/policy"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

type (
	// Config holds the merge tuning. See DefaultConfig.
	Config = engine.Config

	// Stats is a point-in-time view of an index.
	Stats = engine.Stats

	// Segment describes one immutable segment.
	Segment = model.Segment

	// SegmentID identifies a segment. Larger IDs are younger segments.
	SegmentID = model.SegmentID

	// DocID is a segment-local document ordinal. It changes when the
	// segment is merged.
	DocID = model.DocID

	// Snapshot is an immutable, ref-counted view of the segment catalog.
	// Call Release when done with it.
	Snapshot = catalog.Snapshot

	// MergePolicy selects merges and makes packaging decisions.
	MergePolicy = policy.MergePolicy

	// TieredMergePolicy merges segments of roughly equal size.
	TieredMergePolicy = policy.TieredMergePolicy

	// Codec compresses the entries of compound containers.
	Codec = compound.Codec
)

// Compound container codecs.
const (
	CodecNone = compound.CodecNone
	CodecLZ4  = compound.CodecLZ4
	CodecZSTD = compound.CodecZSTD
)

// NoMergePolicy never merges. Flushed segments still follow
// Config.UseCompoundFile.
var NoMergePolicy MergePolicy = policy.NoMergePolicy{}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return engine.DefaultConfig()
}

// NewTieredMergePolicy builds the tiered merge policy of cfg.
func NewTieredMergePolicy(cfg Config) *TieredMergePolicy {
	return policy.NewTieredMergePolicy(cfg.TieredConfig())
}

// Index keeps the segments of one index merged.
type Index struct {
	eng    *engine.Engine
	logger *Logger
}

// Open opens or creates the index stored in dir.
func Open(dir string, opts ...Option) (*Index, error) {
	o := applyOptions(opts)
	eng, err := engine.Open(dir, o.engineOptions()...)
	if err != nil {
		return nil, translateError(err)
	}
	return &Index{eng: eng, logger: o.logger}, nil
}

// OpenRemote opens or creates the index stored in a blob store, e.g. an S3
// bucket or a MinIO server.
func OpenRemote(store blobstore.BlobStore, opts ...Option) (*Index, error) {
	o := applyOptions(opts)
	if store != nil && o.blockCacheBytes > 0 {
		store = blobstore.NewCachingStore(store, o.blockCacheBytes)
	}
	eng, err := engine.OpenRemote(store, o.engineOptions()...)
	if err != nil {
		return nil, translateError(err)
	}
	return &Index{eng: eng, logger: o.logger}, nil
}

// Flush writes docs as a new segment and adds it to the index. It blocks
// while merges are behind; see the package documentation on backpressure.
func (idx *Index) Flush(ctx context.Context, docs [][]byte) (Segment, error) {
	seg, err := idx.eng.Flush(ctx, docs)
	idx.logger.LogFlush(ctx, seg, err)
	return seg, translateError(err)
}

// NotifyFlushed adds a segment whose files were written to the index store
// by the caller.
func (idx *Index) NotifyFlushed(ctx context.Context, seg Segment) error {
	return translateError(idx.eng.NotifyFlushed(ctx, seg))
}

// NotifyDeletesApplied marks the documents in deleted as deleted in segment
// id. Deleting a document twice is a no-op.
func (idx *Index) NotifyDeletesApplied(ctx context.Context, id SegmentID, deleted *roaring.Bitmap) error {
	return translateError(idx.eng.NotifyDeletesApplied(ctx, id, deleted))
}

// DeleteDocs is NotifyDeletesApplied for a handful of documents.
func (idx *Index) DeleteDocs(ctx context.Context, id SegmentID, docs ...DocID) error {
	bm := roaring.New()
	for _, d := range docs {
		bm.Add(uint32(d))
	}
	return idx.NotifyDeletesApplied(ctx, id, bm)
}

// ForceMerge merges until at most maxSegmentCount segments remain.
func (idx *Index) ForceMerge(ctx context.Context, maxSegmentCount int) error {
	err := idx.eng.ForceMerge(ctx, maxSegmentCount)
	idx.logger.LogForceMerge(ctx, maxSegmentCount, len(idx.eng.Segments()), err)
	return translateError(err)
}

// ForceMergeDeletes rewrites the segments whose deleted share exceeds
// Config.ForceMergeDeletesPctAllowed.
func (idx *Index) ForceMergeDeletes(ctx context.Context) error {
	return translateError(idx.eng.ForceMergeDeletes(ctx))
}

// Snapshot returns an immutable view of the catalog. The files of its
// segments stay readable until Release is called.
func (idx *Index) Snapshot() (*Snapshot, error) {
	snap, err := idx.eng.Snapshot()
	return snap, translateError(err)
}

// Segments returns a copy of the current ordered segment list.
func (idx *Index) Segments() []Segment {
	return idx.eng.Segments()
}

// Scan calls fn for every live document of snap, segment by segment in
// catalog order. data is only valid during the callback.
func (idx *Index) Scan(ctx context.Context, snap *Snapshot, fn func(seg Segment, doc DocID, data []byte) error) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidArgument)
	}
	for _, seg := range snap.Segments() {
		if err := idx.scanSegment(ctx, seg, fn); err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (idx *Index) scanSegment(ctx context.Context, seg Segment, fn func(seg Segment, doc DocID, data []byte) error) error {
	store := idx.eng.Store()
	deleted, err := segment.ReadLiveDocs(ctx, store, seg.ID, seg.DelGen)
	if err != nil {
		return err
	}
	r, err := segment.Open(ctx, store, seg.ID)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.Iterate(ctx, func(doc model.DocID, data []byte) error {
		if deleted.Contains(uint32(doc)) {
			return nil
		}
		return fn(seg, doc, data)
	})
}

// Commit persists the catalog now. Every catalog change is persisted on its
// own; Commit only matters after a failed persist.
func (idx *Index) Commit(ctx context.Context) error {
	return translateError(idx.eng.Commit(ctx))
}

// Stats returns catalog and merge counters.
func (idx *Index) Stats() Stats {
	return idx.eng.Stats()
}

// Close stops merging and persists the catalog. With awaitPendingMerges it
// waits for every merge, including merges cascading from completed ones.
// Otherwise running merges are canceled and queued ones dropped; the index
// reopens on its last installed state either way.
func (idx *Index) Close(ctx context.Context, awaitPendingMerges bool) error {
	return translateError(idx.eng.Close(ctx, awaitPendingMerges))
}
