package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/catalog"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

type obsolete struct {
	seg    model.Segment
	reason catalog.ReleaseReason
}

// fileDeleter removes the files of released catalog records. Releases
// happen under the catalog lock, so they are only queued there.
type fileDeleter struct {
	store  blobstore.BlobStore
	logger *slog.Logger

	mu      sync.Mutex
	pending []obsolete
	wake    chan struct{}
}

func newFileDeleter(store blobstore.BlobStore, logger *slog.Logger) *fileDeleter {
	return &fileDeleter{
		store:  store,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

func (d *fileDeleter) enqueue(seg model.Segment, reason catalog.ReleaseReason) {
	d.mu.Lock()
	d.pending = append(d.pending, obsolete{seg: seg, reason: reason})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *fileDeleter) run(closeCh <-chan struct{}) {
	for {
		select {
		case <-closeCh:
			return
		case <-d.wake:
			d.flush(context.Background())
		}
	}
}

// flush deletes everything queued so far.
func (d *fileDeleter) flush(ctx context.Context) {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, o := range batch {
		var err error
		switch o.reason {
		case catalog.Superseded:
			if o.seg.DelGen > 0 {
				err = d.store.Delete(ctx, segment.LiveDocsName(o.seg.ID, o.seg.DelGen))
			}
		default:
			err = segment.Remove(ctx, d.store, o.seg.ID)
		}
		if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			d.logger.Warn("failed to delete obsolete files", "segment", o.seg.String(), "reason", o.reason.String(), "error", err)
			continue
		}
		d.logger.Debug("deleted obsolete files", "segment", o.seg.String(), "reason", o.reason.String())
	}
}

func (d *fileDeleter) pendingLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// sweep deletes segment files the catalog does not reference, such as the
// partial output of a merge interrupted by a crash.
func sweep(ctx context.Context, store blobstore.BlobStore, segments []model.Segment, logger *slog.Logger) error {
	live := make(map[model.SegmentID]model.Segment, len(segments))
	for _, s := range segments {
		live[s.ID] = s
	}

	names, err := store.List(ctx, "_")
	if err != nil {
		return err
	}

	var orphans []string
	for _, name := range names {
		id, ok := segment.ParseName(name)
		if !ok {
			continue
		}
		seg, referenced := live[id]
		if referenced && (!strings.HasSuffix(name, ".liv") || name == segment.LiveDocsName(id, seg.DelGen)) {
			continue
		}
		orphans = append(orphans, name)
	}
	if len(orphans) == 0 {
		return nil
	}
	if err := blobstore.DeleteAll(ctx, store, orphans); err != nil {
		return err
	}
	logger.Info("deleted unreferenced files", "count", len(orphans), "names", orphans)
	return nil
}
