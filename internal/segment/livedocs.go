package segment

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/model"
)

const (
	livMagic   = 0x4c4d4753 // "SGML"
	livVersion = 1
)

// WriteLiveDocs persists the deleted documents of segment id as generation gen.
// It returns the file size.
func WriteLiveDocs(ctx context.Context, store blobstore.BlobStore, id model.SegmentID, gen uint64, deleted *roaring.Bitmap) (int64, error) {
	deleted.RunOptimize()
	payload, err := deleted.ToBytes()
	if err != nil {
		return 0, err
	}

	data := appendFrame(livMagic, livVersion, payload)
	if err := store.Put(ctx, LiveDocsName(id, gen), data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// ReadLiveDocs loads the deleted documents of segment id at generation gen.
// Generation 0 has no deletes.
func ReadLiveDocs(ctx context.Context, store blobstore.BlobStore, id model.SegmentID, gen uint64) (*roaring.Bitmap, error) {
	if gen == 0 {
		return roaring.New(), nil
	}

	name := LiveDocsName(id, gen)
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		return nil, err
	}
	payload, err := openFrame(name, data, livMagic, livVersion)
	if err != nil {
		return nil, err
	}

	bm := roaring.New()
	if err := bm.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return bm, nil
}
