// Package merger executes merges: it copies the live documents of the input
// segments into a new segment and records where every document went.
package merger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/compound"
	"github.com/hupe1980/segmerge/internal/policy"
	"github.com/hupe1980/segmerge/internal/resource"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

// checkEvery is the number of documents copied between cancellation checks.
const checkEvery = 128

// DocMap maps the documents of one input segment to the output segment.
type DocMap struct {
	Segment model.SegmentID
	docs    []int32
}

// Len returns the number of documents of the input segment.
func (d DocMap) Len() int { return len(d.docs) }

// Map returns the output DocID of doc. ok is false for documents that were
// deleted and dropped by the merge.
func (d DocMap) Map(doc model.DocID) (model.DocID, bool) {
	if int(doc) >= len(d.docs) || d.docs[doc] < 0 {
		return 0, false
	}
	return model.DocID(d.docs[doc]), true
}

// Result is the outcome of a successful merge.
type Result struct {
	// Segment is the new segment. It has no deletes.
	Segment model.Segment
	// DocMaps holds one map per input, in input order.
	DocMaps []DocMap
	// Deleted holds the deletes of each input the merge observed.
	Deleted []*roaring.Bitmap
	// Reclaimed counts the deleted documents dropped by the merge.
	Reclaimed int64
	// BytesRead is the size of the inputs.
	BytesRead int64
	Duration  time.Duration
}

// CarryOver translates deletes applied to input i after the merge started
// into output DocIDs. current is the input's present delete set.
func (r *Result) CarryOver(i int, current *roaring.Bitmap) *roaring.Bitmap {
	out := roaring.New()
	fresh := roaring.AndNot(current, r.Deleted[i])
	it := fresh.Iterator()
	for it.HasNext() {
		if doc, ok := r.DocMaps[i].Map(model.DocID(it.Next())); ok {
			out.Add(uint32(doc))
		}
	}
	return out
}

// Option configures a Merger.
type Option func(*Merger)

// WithResourceController throttles merge IO through rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(m *Merger) { m.rc = rc }
}

// WithCodec sets the codec used for compound outputs.
func WithCodec(c compound.Codec) Option {
	return func(m *Merger) { m.codec = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Merger) { m.logger = l }
}

// Merger merges segments stored in one BlobStore.
type Merger struct {
	store  blobstore.BlobStore
	rc     *resource.Controller
	codec  compound.Codec
	logger *slog.Logger
}

// New creates a Merger.
func New(store blobstore.BlobStore, opts ...Option) *Merger {
	m := &Merger{store: store, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge writes segment outID from the inputs of spec. On error, including
// cancellation, no output file is left behind and the inputs are untouched.
func (m *Merger) Merge(ctx context.Context, spec *policy.Spec, outID model.SegmentID) (*Result, error) {
	start := time.Now()

	w, err := segment.NewWriter(ctx, m.store, outID,
		segment.WithResourceController(m.rc), segment.WithCodec(m.codec))
	if err != nil {
		return nil, fmt.Errorf("create segment %d: %w", outID, err)
	}

	res := &Result{
		DocMaps: make([]DocMap, 0, len(spec.Segments)),
		Deleted: make([]*roaring.Bitmap, 0, len(spec.Segments)),
	}
	for _, in := range spec.Segments {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return nil, err
		}
		if err := m.copySegment(ctx, w, in, res); err != nil {
			w.Abort()
			return nil, err
		}
		res.BytesRead += in.SizeBytes
	}

	if err := ctx.Err(); err != nil {
		w.Abort()
		return nil, err
	}
	out, err := w.Finish(spec.Compound)
	if err != nil {
		return nil, fmt.Errorf("finish segment %d: %w", outID, err)
	}
	out.FromForcedMerge = spec.Forced

	res.Segment = out
	res.Duration = time.Since(start)

	m.logger.Debug("merged segments",
		"seq", spec.Seq,
		"output", out.String(),
		"inputs", len(spec.Segments),
		"reclaimed", res.Reclaimed,
		"duration", res.Duration,
	)
	return res, nil
}

func (m *Merger) copySegment(ctx context.Context, w *segment.Writer, in model.Segment, res *Result) error {
	deleted, err := segment.ReadLiveDocs(ctx, m.store, in.ID, in.DelGen)
	if err != nil {
		return fmt.Errorf("read deletes of segment %d: %w", in.ID, err)
	}

	r, err := segment.Open(ctx, m.store, in.ID, segment.WithResourceController(m.rc))
	if err != nil {
		return fmt.Errorf("open segment %d: %w", in.ID, err)
	}
	defer r.Close()

	if r.MaxDoc() != in.MaxDoc() {
		return fmt.Errorf("%w: segment %d has %d docs, catalog says %d", segment.ErrCorrupt, in.ID, r.MaxDoc(), in.MaxDoc())
	}

	docs := make([]int32, r.MaxDoc())
	var n int
	err = r.Iterate(ctx, func(doc model.DocID, data []byte) error {
		if n++; n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if deleted.Contains(uint32(doc)) {
			docs[doc] = -1
			res.Reclaimed++
			return nil
		}
		docs[doc] = int32(w.MaxDoc())
		return w.Add(data)
	})
	if err != nil {
		return fmt.Errorf("copy segment %d: %w", in.ID, err)
	}

	res.DocMaps = append(res.DocMaps, DocMap{Segment: in.ID, docs: docs})
	res.Deleted = append(res.Deleted, deleted)
	return nil
}
