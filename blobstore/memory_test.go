package blobstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	w, err := store.Create(ctx, "_3.si")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)

	_, err = store.Open(ctx, "_3.si")
	require.ErrorIs(t, err, ErrNotFound, "blob is published on close")

	require.NoError(t, w.Close())

	b, err := store.Open(ctx, "_3.si")
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Size())

	buf := make([]byte, 4)
	n, err := b.ReadAt(buf, 1)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "bc", string(buf[:n]))
	require.NoError(t, b.Close())

	src := []byte("xyz")
	require.NoError(t, store.Put(ctx, "_1.si", src))
	src[0] = 'Q'
	data, err := ReadAll(ctx, store, "_1.si")
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(data))

	names, err := store.List(ctx, "_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_1.si", "_3.si"}, names)

	size, err := Size(ctx, store, "_1.si")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	require.NoError(t, store.Delete(ctx, "_1.si"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Abort(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	w, err := store.Create(ctx, "x")
	require.NoError(t, err)
	_, _ = w.Write([]byte("data"))
	require.NoError(t, w.Abort())

	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_FailWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("bucket unavailable")

	store.FailWrites("_4.", boom)
	assert.ErrorIs(t, store.Put(ctx, "_4.si", []byte("x")), boom)

	w, err := store.Create(ctx, "_4.dat")
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Close(), boom)

	require.NoError(t, store.Put(ctx, "_5.si", []byte("y")))
	assert.Equal(t, 1, store.Len())

	store.FailWrites("_4.", nil)
	require.NoError(t, store.Put(ctx, "_4.si", []byte("x")))
	assert.Equal(t, 2, store.Len())
}
