// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: filesystem operations (open, remove, rename, etc.)
//
// # Implementations
//
//   - [OS]: the host file system
//   - [FaultyFS]: fault injection for tests (simulated merge I/O errors)
//
// Tests inject [FaultyFS] into the local blob store to make a merge fail
// mid-write:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("_7.dat", fs.Fault{FailAfterBytes: 128})
//	store := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
//
// [SyncDir] makes renames durable; the local blob store calls it after
// publishing every finished file.
//
// Filesystem calls take no context.Context. Cancellation of long merges is
// observed at document checkpoints by the merger, not at the syscall level.
package fs
