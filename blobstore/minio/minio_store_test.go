package minio

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_KeyMapping(t *testing.T) {
	s := NewStore(nil, "b", "indexes/products/")
	assert.Equal(t, "indexes/products/_1.si", s.key("_1.si"))
	assert.Equal(t, "_1.si", s.name("indexes/products/_1.si"))

	root := NewStore(nil, "b", "")
	assert.Equal(t, "_1.si", root.key("_1.si"))
	assert.Equal(t, "_1.si", root.name("_1.si"))
}

func TestStore_Options(t *testing.T) {
	assert.EqualValues(t, DefaultPartSize, NewStore(nil, "b", "").partSize)
	assert.EqualValues(t, 64<<20, NewStore(nil, "b", "", WithPartSize(64<<20)).partSize)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}

// TestMinioStore_Integration requires a running MinIO instance.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping MinIO integration test: MINIO_ENDPOINT not set")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	bucket := "test-segmerge"

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")

	require.NoError(t, store.Put(ctx, "_1.si", []byte("hello minio world")))

	w, err := store.Create(ctx, "_2.dat")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := blobstore.ReadAll(ctx, store, "_1.si")
	require.NoError(t, err)
	assert.Equal(t, "hello minio world", string(data))

	names, err := store.List(ctx, "_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_1.si", "_2.dat"}, names)

	require.NoError(t, store.Delete(ctx, "_1.si"))
	require.NoError(t, blobstore.DeleteAll(ctx, store, []string{"_2.dat", "_9.dat"}))

	names, err = store.List(ctx, "_")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = store.Open(ctx, "_1.si")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
