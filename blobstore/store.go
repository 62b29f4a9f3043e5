package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for reading and writing immutable blobs.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create creates a blob for streaming writes. The blob becomes visible
	// when the writer is closed.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a write handle. Close publishes the blob, Abort discards it.
type WritableBlob interface {
	io.Writer
	io.Closer
	Sync() error
	Abort() error
}

// BatchDeleter is implemented by stores that remove many blobs per request.
// Missing blobs are not an error.
type BatchDeleter interface {
	DeleteBatch(ctx context.Context, names []string) error
}

// DeleteAll removes names from st, in batches when st is a BatchDeleter.
// Missing blobs are ignored.
func DeleteAll(ctx context.Context, st BlobStore, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if bd, ok := st.(BatchDeleter); ok {
		return bd.DeleteBatch(ctx, names)
	}
	var errs []error
	for _, name := range names {
		if err := st.Delete(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Mappable is an optional interface for Blobs that support memory mapping.
type Mappable interface {
	// Bytes returns the underlying byte slice.
	// The slice is valid until the Blob is closed.
	Bytes() ([]byte, error)
}

// ReadAll reads a whole blob into memory.
func ReadAll(ctx context.Context, st BlobStore, name string) ([]byte, error) {
	b, err := st.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	return io.ReadAll(io.NewSectionReader(b, 0, b.Size()))
}

// Size returns the size of a blob without reading it.
func Size(ctx context.Context, st BlobStore, name string) (int64, error) {
	b, err := st.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	defer b.Close()
	return b.Size(), nil
}
