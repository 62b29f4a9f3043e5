package segment

import (
	"context"
	"fmt"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/compound"
	ifs "github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/resource"
	"github.com/hupe1980/segmerge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("document-%04d", i))
	}
	out[n/2] = nil // empty records are allowed
	return out
}

func writeSegment(t *testing.T, store blobstore.BlobStore, id model.SegmentID, packed bool, data [][]byte, opts ...Option) model.Segment {
	t.Helper()
	w, err := NewWriter(context.Background(), store, id, opts...)
	require.NoError(t, err)
	for _, d := range data {
		require.NoError(t, w.Add(d))
	}
	seg, err := w.Finish(packed)
	require.NoError(t, err)
	return seg
}

func TestWriteRead(t *testing.T) {
	cases := []struct {
		name   string
		packed bool
		codec  compound.Codec
	}{
		{"Loose", false, compound.CodecNone},
		{"Compound", true, compound.CodecNone},
		{"CompoundLZ4", true, compound.CodecLZ4},
		{"CompoundZSTD", true, compound.CodecZSTD},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemoryStore()
			data := docs(300)

			seg := writeSegment(t, store, 7, tc.packed, data, WithCodec(tc.codec))
			assert.Equal(t, model.SegmentID(7), seg.ID)
			assert.Equal(t, int64(300), seg.LiveDocs)
			assert.Equal(t, tc.packed, seg.Compound)
			require.NoError(t, seg.Validate())

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			if tc.packed {
				assert.Equal(t, []string{"_7.cfs", "_7.si"}, names)
			} else {
				assert.Equal(t, []string{"_7.dat", "_7.idx", "_7.si"}, names)
			}

			var onDisk int64
			for _, n := range names {
				size, err := blobstore.Size(ctx, store, n)
				require.NoError(t, err)
				onDisk += size
			}
			assert.Equal(t, onDisk, seg.SizeBytes)

			r, err := Open(ctx, store, 7)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, tc.packed, r.Info().Compound)
			assert.Equal(t, tc.codec, r.Info().Codec)
			assert.Equal(t, int64(300), r.MaxDoc())

			got, err := r.Doc(42)
			require.NoError(t, err)
			assert.Equal(t, data[42], got)

			empty, err := r.Doc(150)
			require.NoError(t, err)
			assert.Empty(t, empty)

			_, err = r.Doc(300)
			assert.Error(t, err)

			var i int
			err = r.Iterate(ctx, func(doc model.DocID, d []byte) error {
				assert.Equal(t, model.DocID(i), doc)
				assert.Equal(t, string(data[i]), string(d))
				i++
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 300, i)
		})
	}
}

func TestIterate_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	writeSegment(t, store, 1, false, docs(10))

	raw, err := blobstore.ReadAll(ctx, store, DataName(1))
	require.NoError(t, err)
	raw[headerSize+2] ^= 0xFF
	require.NoError(t, store.Put(ctx, DataName(1), raw))

	r, err := Open(ctx, store, 1)
	require.NoError(t, err)
	defer r.Close()

	err = r.Iterate(ctx, func(model.DocID, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(context.Background(), blobstore.NewMemoryStore(), 3)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestOpen_InfoMismatch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	writeSegment(t, store, 1, false, docs(4))

	si, err := blobstore.ReadAll(ctx, store, InfoName(1))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, InfoName(2), si))

	_, err = ReadInfo(ctx, store, 2)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestWriter_AbortRemovesFiles(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	w, err := NewWriter(ctx, store, 5)
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("x")))
	w.Abort()

	assert.ErrorIs(t, w.Add([]byte("y")), ErrWriterClosed)
	_, err = w.Finish(false)
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Equal(t, 0, store.Len())
}

func TestWriter_FinishFaultCleansUp(t *testing.T) {
	ctx := context.Background()
	ffs := ifs.NewFaultyFS(nil)
	store := blobstore.NewLocalStore(t.TempDir(), blobstore.WithFileSystem(ffs))
	ffs.AddRule(".idx", ifs.Fault{FailAfterBytes: -1, FailOnSync: true})

	w, err := NewWriter(ctx, store, 9)
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("doc")))

	_, err = w.Finish(false)
	require.ErrorIs(t, err, ifs.ErrInjected)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestWriter_Throttled(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	store := blobstore.NewMemoryStore()
	writeSegment(t, store, 1, false, docs(50), WithResourceController(rc))

	r, err := Open(context.Background(), store, 1, WithResourceController(rc))
	require.NoError(t, err)
	defer r.Close()

	before := rc.IOBytes()
	require.NoError(t, r.Iterate(context.Background(), func(model.DocID, []byte) error { return nil }))
	assert.Greater(t, rc.IOBytes(), before)
}

func TestLiveDocs(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	bm, err := ReadLiveDocs(ctx, store, 4, 0)
	require.NoError(t, err)
	assert.True(t, bm.IsEmpty())

	deleted := roaring.BitmapOf(1, 5, 9)
	size, err := WriteLiveDocs(ctx, store, 4, 2, deleted)
	require.NoError(t, err)
	assert.Positive(t, size)

	got, err := ReadLiveDocs(ctx, store, 4, 2)
	require.NoError(t, err)
	assert.True(t, deleted.Equals(got))

	_, err = ReadLiveDocs(ctx, store, 4, 3)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	raw, err := blobstore.ReadAll(ctx, store, LiveDocsName(4, 2))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, store.Put(ctx, LiveDocsName(4, 2), raw))
	_, err = ReadLiveDocs(ctx, store, 4, 2)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	writeSegment(t, store, 1, true, docs(4))
	writeSegment(t, store, 10, false, docs(4))
	_, err := WriteLiveDocs(ctx, store, 1, 1, roaring.BitmapOf(0))
	require.NoError(t, err)
	_, err = WriteLiveDocs(ctx, store, 1, 2, roaring.BitmapOf(0, 1))
	require.NoError(t, err)

	require.NoError(t, RemoveLiveDocs(ctx, store, 1, 2))
	names, err := store.List(ctx, "_1_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_1_2.liv"}, names)

	require.NoError(t, Remove(ctx, store, 1))

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"_10.dat", "_10.idx", "_10.si"}, names)
}

func TestParseName(t *testing.T) {
	for name, want := range map[string]model.SegmentID{
		"_1.dat":    1,
		"_12.cfs":   12,
		"_3.si":     3,
		"_40_7.liv": 40,
		"_5.idx":    5,
	} {
		id, ok := ParseName(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, id, name)
	}
	for _, name := range []string{"CURRENT", "MANIFEST-000001.bin", "_x.dat", "_1.tmp", "_1", "_"} {
		_, ok := ParseName(name)
		assert.False(t, ok, name)
	}
}

func TestWriter_Size(t *testing.T) {
	store := blobstore.NewMemoryStore()
	w, err := NewWriter(context.Background(), store, 3)
	require.NoError(t, err)
	for _, d := range docs(20) {
		require.NoError(t, w.Add(d))
	}
	size := w.Size()

	seg, err := w.Finish(false)
	require.NoError(t, err)

	info, err := ReadInfo(context.Background(), store, 3)
	require.NoError(t, err)
	assert.Equal(t, info.DataBytes, size)
	assert.Greater(t, seg.SizeBytes, size)
}
