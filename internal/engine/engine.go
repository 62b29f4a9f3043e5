package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/catalog"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/manifest"
	"github.com/hupe1980/segmerge/internal/merger"
	"github.com/hupe1980/segmerge/internal/policy"
	"github.com/hupe1980/segmerge/internal/resource"
	"github.com/hupe1980/segmerge/internal/scheduler"
	"github.com/hupe1980/segmerge/model"
)

// Engine owns the segment catalog of one index and keeps it merged.
type Engine struct {
	cfg     Config
	store   blobstore.BlobStore
	fs      fs.FileSystem
	logger  *slog.Logger
	metrics MetricsObserver
	policy  policy.MergePolicy

	rc        *resource.Controller
	catalog   *catalog.Catalog
	sched     *scheduler.Scheduler
	merger    *merger.Merger
	manifests *manifest.Store
	deleter   *fileDeleter

	manifestMu sync.Mutex
	manifest   *manifest.Manifest
	nextID     atomic.Uint64

	// mergeMu serializes merge selection and claiming.
	mergeMu sync.Mutex
	// deletesMu serializes delete generations.
	deletesMu sync.Mutex

	heldMu sync.Mutex
	held   map[*policy.Spec]*catalog.Snapshot

	reconsiderCh chan struct{}
	closeCh      chan struct{}
	wg           sync.WaitGroup
	closed       atomic.Bool
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Segments        int
	LiveDocs        int64
	DeletedDocs     int64
	TotalBytes      int64
	Generation      uint64
	MergingSegments int

	QueuedMerges      int
	RunningMerges     int
	PendingMergeBytes int64
	StalledFlushes    int
	MergesSubmitted   uint64
	MergesSucceeded   uint64
	MergesFailed      uint64
	MergesAborted     uint64
	MergeIOBytes      int64
	PendingDeletes    int
}

func newEngine(opts []Option) *Engine {
	e := &Engine{
		cfg:          DefaultConfig(),
		metrics:      &NoopMetricsObserver{},
		held:         make(map[*policy.Spec]*catalog.Snapshot),
		reconsiderCh: make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open opens or creates the index stored in dir.
func Open(dir string, opts ...Option) (*Engine, error) {
	e := newEngine(opts)
	if e.store == nil {
		e.store = blobstore.NewLocalStore(dir, blobstore.WithFileSystem(e.fs))
	}
	return e.init()
}

// OpenRemote opens or creates the index stored in store, e.g. an S3 bucket.
func OpenRemote(store blobstore.BlobStore, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidArgument)
	}
	e := newEngine(opts)
	e.store = store
	return e.init()
}

func (e *Engine) init() (*Engine, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.policy == nil {
		e.policy = policy.NewTieredMergePolicy(e.cfg.TieredConfig())
	}

	ctx := context.Background()

	e.deleter = newFileDeleter(e.store, e.logger.With("component", "deleter"))
	e.catalog = catalog.New(catalog.WithOnRelease(e.deleter.enqueue))
	e.manifests = manifest.NewStore(e.store)

	m, err := e.manifests.Load(ctx)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		m = manifest.New()
	case errors.Is(err, manifest.ErrCorrupt):
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	case err != nil:
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	segments := m.CatalogSegments()
	if err := e.catalog.Restore(segments); err != nil {
		return nil, fmt.Errorf("%w: restore catalog: %w", ErrCorrupt, err)
	}
	next := max(m.NextSegmentID, 1)
	for _, s := range segments {
		next = max(next, s.ID+1)
	}
	e.nextID.Store(uint64(next))
	e.manifest = m

	if err := sweep(ctx, e.store, segments, e.logger); err != nil {
		e.logger.Warn("failed to delete unreferenced files", "error", err)
	}

	e.rc = resource.NewController(e.cfg.resourceConfig())
	e.merger = merger.New(e.store,
		merger.WithResourceController(e.rc),
		merger.WithCodec(e.cfg.CompoundCodec),
		merger.WithLogger(e.logger.With("component", "merger")),
	)
	e.sched = scheduler.New(e.cfg.schedulerConfig(), e.rc, scheduler.Hooks{
		Run:     e.runMerge,
		Install: e.installMerge,
		Finish:  e.finishMerge,
	}, e.logger.With("component", "scheduler"))

	e.goSafe(e.runMergeLoop)
	e.goSafe(func() { e.deleter.run(e.closeCh) })

	e.logger.Info("engine opened", "segments", len(segments), "manifest", m.ID, "next_segment", next)

	// Pick up merges an earlier process did not get to.
	e.signalReconsider()
	return e, nil
}

// goSafe runs fn in a tracked goroutine and recovers from panics.
func (e *Engine) goSafe(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("panic recovered in background task", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// NewSegmentID allocates the ID of a segment about to be flushed.
func (e *Engine) NewSegmentID() model.SegmentID {
	return model.SegmentID(e.nextID.Add(1) - 1)
}

// observeID makes sure IDs allocated from now on are larger than id.
func (e *Engine) observeID(id model.SegmentID) {
	for {
		cur := e.nextID.Load()
		if uint64(id) < cur || e.nextID.CompareAndSwap(cur, uint64(id)+1) {
			return
		}
	}
}

// persist writes the current catalog as a new manifest version.
func (e *Engine) persist(ctx context.Context) error {
	e.manifestMu.Lock()
	defer e.manifestMu.Unlock()

	snap := e.catalog.Acquire()
	defer snap.Release()

	e.manifest.SetSegments(snap.Segments())
	e.manifest.NextSegmentID = model.SegmentID(e.nextID.Load())
	if err := e.manifests.Save(ctx, e.manifest); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	if err := e.manifests.Prune(ctx, e.cfg.ManifestHistory); err != nil {
		e.logger.Warn("failed to prune manifests", "error", err)
	}
	return nil
}

// Commit persists the catalog now.
func (e *Engine) Commit(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.persist(ctx)
}

// Snapshot returns a consistent view of the catalog. Files of the segments
// it contains stay readable until Release is called.
func (e *Engine) Snapshot() (*catalog.Snapshot, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.catalog.Acquire(), nil
}

// Segments returns the current ordered segment list.
func (e *Engine) Segments() []model.Segment {
	return e.catalog.Segments()
}

// Store returns the blob store holding the index files.
func (e *Engine) Store() blobstore.BlobStore {
	return e.store
}

// Stats returns catalog and merge counters.
func (e *Engine) Stats() Stats {
	snap := e.catalog.Acquire()
	defer snap.Release()

	live, deleted := snap.TotalDocs()
	ss := e.sched.Stats()
	return Stats{
		Segments:          snap.Len(),
		LiveDocs:          live,
		DeletedDocs:       deleted,
		TotalBytes:        snap.TotalBytes(),
		Generation:        snap.Generation(),
		MergingSegments:   len(e.catalog.Merging()),
		QueuedMerges:      ss.Queued,
		RunningMerges:     ss.Running,
		PendingMergeBytes: ss.PendingBytes,
		StalledFlushes:    ss.Stalled,
		MergesSubmitted:   ss.Submitted,
		MergesSucceeded:   ss.Succeeded,
		MergesFailed:      ss.Failed,
		MergesAborted:     ss.Aborted,
		MergeIOBytes:      e.rc.IOBytes(),
		PendingDeletes:    e.deleter.pendingLen(),
	}
}

// Close stops the engine and persists the catalog. With
// awaitPendingMerges it first waits for every merge, including merges
// cascading from completed ones; otherwise running merges are canceled and
// queued ones are dropped.
func (e *Engine) Close(ctx context.Context, awaitPendingMerges bool) error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	close(e.closeCh)
	e.wg.Wait()

	var errs []error
	if awaitPendingMerges {
		if err := e.awaitMerges(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.sched.Close()

	ctx = context.WithoutCancel(ctx)
	if err := e.persist(ctx); err != nil {
		errs = append(errs, err)
	}
	e.deleter.flush(ctx)

	st := e.sched.Stats()
	e.logger.Info("engine closed",
		"segments", len(e.catalog.Segments()),
		"merges_succeeded", st.Succeeded,
		"merges_failed", st.Failed,
		"merges_aborted", st.Aborted,
	)
	return errors.Join(errs...)
}
