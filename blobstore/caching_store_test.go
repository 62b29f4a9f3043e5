package blobstore

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts backend reads of the wrapped store.
type countingStore struct {
	BlobStore
	reads atomic.Int64
}

func (s *countingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.BlobStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingBlob{Blob: b, reads: &s.reads}, nil
}

type countingBlob struct {
	Blob
	reads *atomic.Int64
}

func (b *countingBlob) ReadAt(p []byte, off int64) (int, error) {
	b.reads.Add(1)
	return b.Blob.ReadAt(p, off)
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestCachingStoreReadsThroughBlocks(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{BlobStore: NewMemoryStore()}
	data := payload(1000)
	require.NoError(t, inner.Put(ctx, "_1.dat", data))

	store := NewCachingStore(inner, 1<<20, WithBlockSize(64))
	b, err := store.Open(ctx, "_1.dat")
	require.NoError(t, err)
	defer b.Close()
	assert.EqualValues(t, 1000, b.Size())

	for _, tc := range []struct{ off, n int }{
		{0, 10}, {60, 10}, {100, 300}, {990, 10}, {0, 1000},
	} {
		buf := make([]byte, tc.n)
		n, err := b.ReadAt(buf, int64(tc.off))
		require.NoError(t, err)
		assert.Equal(t, tc.n, n)
		assert.Equal(t, data[tc.off:tc.off+tc.n], buf, "off %d len %d", tc.off, tc.n)
	}

	before := inner.reads.Load()
	buf := make([]byte, 1000)
	_, err = b.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, before, inner.reads.Load(), "fully cached blob must not hit the backend")

	hits, misses := store.Stats()
	assert.Positive(t, hits)
	assert.Positive(t, misses)
}

func TestCachingStoreReadPastEnd(t *testing.T) {
	ctx := context.Background()
	store := NewCachingStore(NewMemoryStore(), 1<<20, WithBlockSize(4))
	require.NoError(t, store.Put(ctx, "_1.liv", []byte("abcdef")))

	b, err := store.Open(ctx, "_1.liv")
	require.NoError(t, err)
	defer b.Close()

	buf := make([]byte, 8)
	n, err := b.ReadAt(buf, 3)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "def", string(buf[:n]))

	_, err = b.ReadAt(buf, 6)
	assert.ErrorIs(t, err, io.EOF)

	_, err = b.ReadAt(buf, -1)
	assert.Error(t, err)

	data, err := ReadAll(ctx, store, "_1.liv")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestCachingStoreInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	store := NewCachingStore(NewMemoryStore(), 1<<20, WithBlockSize(4))

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("MANIFEST-000001")))
	data, err := ReadAll(ctx, store, "CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000001", string(data))

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("MANIFEST-000002")))
	data, err = ReadAll(ctx, store, "CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000002", string(data))

	require.NoError(t, store.Delete(ctx, "CURRENT"))
	_, err = store.Open(ctx, "CURRENT")
	assert.ErrorIs(t, err, ErrNotFound)

	w, err := store.Create(ctx, "_2.dat")
	require.NoError(t, err)
	_, err = w.Write([]byte("xyz"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_2.dat"}, names)
}

func TestCachingStoreSurvivesEviction(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	data := payload(4096)
	require.NoError(t, inner.Put(ctx, "_1.dat", data))

	// Smaller than one read, so blocks are evicted while a read is served.
	store := NewCachingStore(inner, 512, WithBlockSize(64), WithFetchConcurrency(2))
	b, err := store.Open(ctx, "_1.dat")
	require.NoError(t, err)
	defer b.Close()

	buf := make([]byte, len(data))
	n, err := b.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf)
}

func TestCachingStoreDeleteBatch(t *testing.T) {
	ctx := context.Background()
	store := NewCachingStore(NewMemoryStore(), 1<<20, WithBlockSize(4))
	for _, name := range []string{"_1.dat", "_1.si", "_2.dat"} {
		require.NoError(t, store.Put(ctx, name, []byte("data")))
		_, err := ReadAll(ctx, store, name)
		require.NoError(t, err)
	}

	require.NoError(t, DeleteAll(ctx, store, []string{"_1.dat", "_1.si", "_9.dat"}))

	_, err := store.Open(ctx, "_1.dat")
	assert.ErrorIs(t, err, ErrNotFound)
	names, err := store.List(ctx, "_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_2.dat"}, names)
}
