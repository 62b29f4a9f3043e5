package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/segmerge/internal/catalog"
	"github.com/hupe1980/segmerge/internal/merger"
	"github.com/hupe1980/segmerge/internal/policy"
	"github.com/hupe1980/segmerge/internal/scheduler"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

type finder func(mc *policy.Context) []*policy.Spec

func (e *Engine) signalReconsider() {
	select {
	case e.reconsiderCh <- struct{}{}:
	default:
	}
}

// runMergeLoop reconsiders merges after each completed one so merges cascade
// up the tiers.
func (e *Engine) runMergeLoop() {
	for {
		select {
		case <-e.closeCh:
			return
		case <-e.reconsiderCh:
			e.maybeMerge()
		}
	}
}

func (e *Engine) maybeMerge() {
	if _, err := e.submit(e.policy.FindMerges); err != nil && !errors.Is(err, ErrClosed) {
		e.logger.Error("merge selection failed", "error", err)
	}
}

// submit asks the policy for merges over the current catalog, claims their
// inputs and queues them.
func (e *Engine) submit(find finder) ([]*scheduler.Task, error) {
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	snap, merging := e.catalog.AcquireWithMerging()
	defer snap.Release()

	mc := &policy.Context{
		Segments:         snap.Segments(),
		Merging:          merging,
		Running:          e.sched.Active(),
		MaxRunningMerges: e.cfg.MaxRunningMerges,
	}

	var tasks []*scheduler.Task
	for _, spec := range find(mc) {
		ids := spec.IDs()
		if err := e.catalog.MarkMerging(ids); err != nil {
			e.logger.Warn("merge claim rejected", "segments", ids, "error", err)
			continue
		}
		e.hold(spec, snap.Retain())

		t, err := e.sched.Submit(spec)
		if err != nil {
			e.catalog.Unmark(ids)
			e.unhold(spec)
			if errors.Is(err, scheduler.ErrClosed) {
				err = ErrClosed
			}
			return tasks, err
		}
		e.logger.Info("merge submitted", "merge", spec.String())
		tasks = append(tasks, t)
	}

	if len(tasks) > 0 {
		st := e.sched.Stats()
		e.metrics.OnQueueDepth(QueueMerges, st.Queued+st.Running)
	}
	return tasks, nil
}

// hold keeps the snapshot a merge was selected from alive until the merge
// finished, so the delete generations it reads are not removed under it.
func (e *Engine) hold(spec *policy.Spec, snap *catalog.Snapshot) {
	e.heldMu.Lock()
	e.held[spec] = snap
	e.heldMu.Unlock()
}

func (e *Engine) unhold(spec *policy.Spec) {
	e.heldMu.Lock()
	snap, ok := e.held[spec]
	delete(e.held, spec)
	e.heldMu.Unlock()

	if ok {
		snap.Release()
	}
}

func (e *Engine) runMerge(ctx context.Context, t *scheduler.Task) error {
	res, err := e.merger.Merge(ctx, t.Spec, e.NewSegmentID())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &MergeIOError{Seq: t.Seq(), Segments: t.Spec.IDs(), Err: err}
	}
	t.Result = res

	e.metrics.OnThroughput(ThroughputMergeRead, res.BytesRead)
	e.metrics.OnThroughput(ThroughputMergeWrite, res.Segment.SizeBytes)
	return nil
}

// installMerge swaps the merged output into the catalog. Deletes applied to
// the inputs while the merge ran are carried over to the output first. An
// output without live documents is not installed; its inputs are dropped.
func (e *Engine) installMerge(t *scheduler.Task) error {
	res := t.Result.(*merger.Result)
	ctx := context.Background()

	for gen := uint64(1); ; gen++ {
		out, err := e.tryInstall(ctx, t, res, gen)
		switch {
		case err == nil:
			if err := e.persist(ctx); err != nil {
				e.logger.Error("failed to persist merge", "seq", t.Seq(), "error", err)
			}
			if out.LiveDocs == 0 {
				e.discardOutput(ctx, t, out.ID)
				e.logger.Info("merge dropped fully deleted segments",
					"seq", t.Seq(),
					"segments", t.Spec.IDs(),
					"reclaimed", res.Reclaimed,
				)
				return nil
			}
			e.logger.Info("merge installed",
				"seq", t.Seq(),
				"output", out.String(),
				"inputs", len(t.Spec.Segments),
				"reclaimed", res.Reclaimed,
				"duration", res.Duration,
			)
			return nil
		case errors.Is(err, catalog.ErrDeletesChanged):
			if out.DelGen > 0 {
				_ = e.store.Delete(ctx, segment.LiveDocsName(out.ID, out.DelGen)) // Intentionally ignore: superseded by the retry
			}
			e.logger.Debug("deletes changed during install, retrying", "seq", t.Seq())
			continue
		}

		var missing *catalog.MissingError
		if errors.As(err, &missing) {
			err = &CatalogConsistencyError{Seq: t.Seq(), Missing: missing.IDs}
		}
		e.discardOutput(ctx, t, res.Segment.ID)
		return err
	}
}

func (e *Engine) discardOutput(ctx context.Context, t *scheduler.Task, id model.SegmentID) {
	if err := segment.Remove(ctx, e.store, id); err != nil {
		e.logger.Warn("failed to discard merge output", "seq", t.Seq(), "segment", id, "error", err)
	}
}

func (e *Engine) tryInstall(ctx context.Context, t *scheduler.Task, res *merger.Result, gen uint64) (model.Segment, error) {
	snap := e.catalog.Acquire()
	defer snap.Release()

	observed := make([]model.Segment, 0, len(t.Spec.Segments))
	var missing []model.SegmentID
	for _, in := range t.Spec.Segments {
		cur, ok := snap.Get(in.ID)
		if !ok {
			missing = append(missing, in.ID)
			continue
		}
		observed = append(observed, cur)
	}
	if len(missing) > 0 {
		return model.Segment{}, &catalog.MissingError{IDs: missing}
	}

	out, err := e.carryOver(ctx, t.Spec, res, observed, gen)
	if err != nil {
		return model.Segment{}, &MergeIOError{Seq: t.Seq(), Segments: t.Spec.IDs(), Err: err}
	}
	if out.LiveDocs == 0 {
		// Deletes only grow, so inputs changed since observed are still empty.
		return out, e.catalog.Drop(t.Spec.IDs())
	}
	return out, e.catalog.RetireAndReplace(observed, out)
}

// carryOver returns the output segment with the deletes that landed on the
// inputs after they were read. They are written as delete generation gen.
func (e *Engine) carryOver(ctx context.Context, spec *policy.Spec, res *merger.Result, observed []model.Segment, gen uint64) (model.Segment, error) {
	out := res.Segment
	carried := roaring.New()
	for i, in := range spec.Segments {
		cur := observed[i]
		if cur.DelGen == in.DelGen {
			continue
		}
		current, err := segment.ReadLiveDocs(ctx, e.store, cur.ID, cur.DelGen)
		if err != nil {
			return model.Segment{}, fmt.Errorf("read deletes of segment %d: %w", cur.ID, err)
		}
		carried.Or(res.CarryOver(i, current))
	}
	if carried.IsEmpty() {
		return out, nil
	}

	if _, err := segment.WriteLiveDocs(ctx, e.store, out.ID, gen, carried); err != nil {
		return model.Segment{}, fmt.Errorf("write deletes of segment %d: %w", out.ID, err)
	}
	n := int64(carried.GetCardinality())
	out.DelGen = gen
	out.DeletedDocs = n
	out.LiveDocs -= n
	return out, nil
}

func (e *Engine) finishMerge(t *scheduler.Task) {
	e.unhold(t.Spec)
	e.catalog.Unmark(t.Spec.IDs())

	var outputDocs int64
	if res, ok := t.Result.(*merger.Result); ok {
		outputDocs = res.Segment.MaxDoc()
	}
	e.metrics.OnMerge(t.Duration(), len(t.Spec.Segments), outputDocs, t.Err())

	switch t.State() {
	case scheduler.Succeeded:
		e.signalReconsider()
	case scheduler.Aborted:
		e.logger.Info("merge aborted", "merge", t.Spec.String())
	default:
		var cce *CatalogConsistencyError
		if errors.As(t.Err(), &cce) {
			e.logger.Warn("merge lost catalog race", "merge", t.Spec.String(), "missing", cce.Missing)
			return
		}
		e.logger.Error("merge failed", "merge", t.Spec.String(), "error", t.Err())
	}
}

// awaitMerges waits until no merge is active and the policy proposes none.
func (e *Engine) awaitMerges(ctx context.Context) error {
	for {
		if err := e.sched.Drain(ctx); err != nil {
			return err
		}
		tasks, err := e.submit(e.policy.FindMerges)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
	}
}

// ForceMerge merges until at most maxSegmentCount segments remain. It
// returns the first merge failure.
func (e *Engine) ForceMerge(ctx context.Context, maxSegmentCount int) error {
	if maxSegmentCount < 1 {
		return fmt.Errorf("%w: maxSegmentCount %d", ErrInvalidArgument, maxSegmentCount)
	}
	e.logger.Info("force merge", "max_segments", maxSegmentCount)
	return e.forceLoop(ctx, func(mc *policy.Context) []*policy.Spec {
		return e.policy.FindForcedMerges(mc, maxSegmentCount)
	})
}

// ForceMergeDeletes rewrites segments with too many deleted documents.
func (e *Engine) ForceMergeDeletes(ctx context.Context) error {
	e.logger.Info("force merge deletes")
	return e.forceLoop(ctx, e.policy.FindForcedDeletesMerges)
}

func (e *Engine) forceLoop(ctx context.Context, find finder) error {
	for {
		if e.closed.Load() {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		tasks, err := e.submit(find)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			st := e.sched.Stats()
			if st.Queued+st.Running == 0 {
				return nil
			}
			// Segments held by other merges become eligible once those finish.
			if err := e.sched.Drain(ctx); err != nil {
				return err
			}
			continue
		}

		for _, t := range tasks {
			if err := t.Wait(ctx); err != nil {
				if t.State() == scheduler.Aborted {
					return fmt.Errorf("%w: %w", ErrClosed, err)
				}
				return err
			}
		}
	}
}
