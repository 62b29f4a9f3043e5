package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/segmerge/internal/catalog"
	"github.com/hupe1980/segmerge/internal/scheduler"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

// Flush writes docs as a new segment and registers it with NotifyFlushed.
// It is packed iff Config.UseCompoundFile is set; the ratio rule of the
// merge policy only applies to merge outputs.
func (e *Engine) Flush(ctx context.Context, docs [][]byte) (model.Segment, error) {
	if e.closed.Load() {
		return model.Segment{}, ErrClosed
	}
	if len(docs) == 0 {
		return model.Segment{}, fmt.Errorf("%w: empty flush", ErrInvalidArgument)
	}

	start := time.Now()
	seg, err := e.writeSegment(ctx, docs)
	e.metrics.OnFlush(time.Since(start), len(docs), err)
	if err != nil {
		return model.Segment{}, err
	}
	e.metrics.OnThroughput(ThroughputFlush, seg.SizeBytes)
	e.logger.Debug("flushed segment", "segment", seg.String(), "bytes", seg.SizeBytes, "duration", time.Since(start))

	return seg, e.NotifyFlushed(ctx, seg)
}

func (e *Engine) writeSegment(ctx context.Context, docs [][]byte) (model.Segment, error) {
	id := e.NewSegmentID()
	w, err := segment.NewWriter(ctx, e.store, id, segment.WithCodec(e.cfg.CompoundCodec))
	if err != nil {
		return model.Segment{}, fmt.Errorf("flush segment %d: %w", id, err)
	}
	for _, doc := range docs {
		if err := w.Add(doc); err != nil {
			w.Abort()
			return model.Segment{}, fmt.Errorf("flush segment %d: %w", id, err)
		}
	}

	seg, err := w.Finish(e.cfg.UseCompoundFile)
	if err != nil {
		return model.Segment{}, fmt.Errorf("flush segment %d: %w", id, err)
	}
	return seg, nil
}

// NotifyFlushed registers a segment written by the caller, persists the
// catalog and reconsiders merges. It blocks while the merge backlog exceeds
// the stall limits.
func (e *Engine) NotifyFlushed(ctx context.Context, seg model.Segment) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.catalog.Append(seg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	e.observeID(seg.ID)

	if err := e.persist(ctx); err != nil {
		return err
	}
	e.maybeMerge()

	stalled, err := e.sched.WaitIfStalled(ctx)
	if stalled > 0 {
		e.metrics.OnStall(stalled)
		e.logger.Debug("flush stalled by merge backlog", "segment", seg.ID, "duration", stalled)
	}
	if errors.Is(err, scheduler.ErrClosed) {
		return ErrClosed
	}
	return err
}

// NotifyDeletesApplied marks docs of segment id as deleted. It writes a new
// delete generation holding the union of the previous and the new deletes.
func (e *Engine) NotifyDeletesApplied(ctx context.Context, id model.SegmentID, deleted *roaring.Bitmap) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if deleted == nil || deleted.IsEmpty() {
		return nil
	}

	e.deletesMu.Lock()
	defer e.deletesMu.Unlock()

	snap := e.catalog.Acquire()
	defer snap.Release()

	cur, ok := snap.Get(id)
	if !ok {
		return fmt.Errorf("%w: segment %d", ErrNotFound, id)
	}
	if maxDoc := deleted.Maximum(); int64(maxDoc) >= cur.MaxDoc() {
		return fmt.Errorf("%w: doc %d out of range for segment %s", ErrInvalidArgument, maxDoc, cur)
	}

	prev, err := segment.ReadLiveDocs(ctx, e.store, id, cur.DelGen)
	if err != nil {
		return fmt.Errorf("read deletes of segment %d: %w", id, err)
	}
	merged := roaring.Or(prev, deleted)
	if merged.GetCardinality() == prev.GetCardinality() {
		return nil
	}

	next := cur
	next.DelGen++
	next.DeletedDocs = int64(merged.GetCardinality())
	next.LiveDocs = cur.MaxDoc() - next.DeletedDocs
	if _, err := segment.WriteLiveDocs(ctx, e.store, id, next.DelGen, merged); err != nil {
		return fmt.Errorf("write deletes of segment %d: %w", id, err)
	}

	if err := e.catalog.UpdateDeletes(next); err != nil {
		_ = e.store.Delete(context.WithoutCancel(ctx), segment.LiveDocsName(id, next.DelGen)) // Intentionally ignore: cleanup path
		if errors.Is(err, catalog.ErrSegmentMissing) {
			return fmt.Errorf("%w: segment %d was merged away", ErrNotFound, id)
		}
		return err
	}
	e.logger.Debug("applied deletes", "segment", next.String(), "del_gen", next.DelGen)

	if err := e.persist(ctx); err != nil {
		return err
	}
	e.maybeMerge()
	return nil
}
