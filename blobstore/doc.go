// Package blobstore provides the storage abstraction for segment files.
//
// A BlobStore is the "directory" an index lives in: flushed and merged
// segments, compound containers, live-docs files and manifests are all blobs.
// Blobs are immutable once their writer is closed. Implementations must be
// safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, mmap-backed reads, atomic rename on close
//   - MemoryStore: in-memory, for tests
//   - s3.Store / s3.DDBCommitStore: Amazon S3 (optionally DynamoDB commits)
//   - minio.Store: MinIO and other S3-compatible services
//   - CachingStore: block cache in front of any other store
//
// # Deleting Retired Files
//
// A finished merge retires several files per input segment at once.
// DeleteAll removes them in as few requests as the store allows: stores
// implementing BatchDeleter (S3, MinIO) delete in batches, others one by one.
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Open must return an error satisfying errors.Is(err, ErrNotFound) for
// missing blobs; Delete of a missing blob is not an error.
package blobstore
