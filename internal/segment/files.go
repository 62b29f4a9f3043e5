package segment

import (
	"context"
	"fmt"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/model"
)

// Remove deletes every file of segment id, including all delete generations.
func Remove(ctx context.Context, store blobstore.BlobStore, id model.SegmentID) error {
	gens, err := store.List(ctx, fmt.Sprintf("_%d_", id))
	if err != nil {
		return err
	}
	names := append([]string{DataName(id), IndexName(id), CompoundName(id), InfoName(id)}, gens...)
	return blobstore.DeleteAll(ctx, store, names)
}

// RemoveLiveDocs deletes the delete generations of segment id older than keep.
func RemoveLiveDocs(ctx context.Context, store blobstore.BlobStore, id model.SegmentID, keep uint64) error {
	if keep <= 1 {
		return nil
	}
	names := make([]string, 0, keep-1)
	for gen := uint64(1); gen < keep; gen++ {
		names = append(names, LiveDocsName(id, gen))
	}
	return blobstore.DeleteAll(ctx, store, names)
}
