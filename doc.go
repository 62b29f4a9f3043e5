// Package segmerge keeps the immutable segments of an append-only index merged.
//
// An index is a sequence of write-once segments. Every flush adds one, every
// delete marks documents of an existing one. segmerge decides which segments
// to merge (a tiered merge policy), runs the merges on a bounded pool of
// background workers, throttles flushes when merges fall behind, packages
// small segments as single compound containers and swaps merge results into
// the segment catalog atomically.
//
// # Quick Start
//
// Local mode:
//
//	idx, _ := segmerge.Open("./data")
//	defer idx.Close(ctx, true)
//
//	seg, _ := idx.Flush(ctx, [][]byte{[]byte("a"), []byte("b")})
//	_ = idx.DeleteDocs(ctx, seg.ID, 0)
//
// Cloud mode:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3store.NewStore(s3.NewFromConfig(cfg), "my-bucket", "index/")
//	idx, _ := segmerge.OpenRemote(store)
//
// # Segments and Snapshots
//
// Segments are addressed by SegmentID; IDs only grow, so a larger ID is a
// younger segment. A Snapshot is an immutable view of the catalog. The files
// of every segment in a snapshot stay on disk until the snapshot is
// released, even when a merge retired the segment in the meantime:
//
//	snap, _ := idx.Snapshot()
//	defer snap.Release()
//	_ = idx.Scan(ctx, snap, func(seg segmerge.Segment, doc segmerge.DocID, data []byte) error {
//	    return nil
//	})
//
// # Merging
//
// Merges run in the background after every flush and delete. ForceMerge and
// ForceMergeDeletes block until their target is reached. A merge that fails
// leaves the catalog unchanged; the failure is logged and reported to the
// MetricsObserver, never to the flushing caller.
//
// # Backpressure
//
// Flush and NotifyFlushed block while the number of queued and running
// merges reaches Config.MaxRunningMerges, or while the bytes of pending
// merges exceed Config.StallThresholdBytes. Stalled callers resume in
// arrival order.
//
// # Compound Segments
//
// Segments small relative to the index are packed into one container file.
// Config.UseCompoundFile decides for flushed segments. Merge outputs are
// judged against the index they join: Config.NoCFSRatio sets the threshold,
// 0 never packs, 1 always packs. A segment that dominates the index after a
// force merge therefore ends up loose even when its inputs were packed. A
// container can be compressed with Config.CompoundCodec.
//
// # Durability Model
//
// Every catalog change is written as a new manifest version before the call
// returns. A restarted process rebuilds the catalog from the manifest alone
// and removes files that no manifest references.
package segmerge
