// Package catalog holds the live list of segments of one index.
//
// Every mutation (Append, UpdateDeletes, RetireAndReplace, Restore) runs under
// a single mutex and publishes a new immutable Snapshot through an atomic
// pointer, so readers never observe a half-applied merge. Snapshots are
// reference counted; a segment record stays alive while any snapshot that
// contains it is held, and the OnRelease hook fires only after the last such
// snapshot is released. That is the point at which a retired segment's files
// may be deleted.
//
// Merging claims live beside the snapshot: MarkMerging claims a set of
// segments all-or-nothing, so two in-flight merges never share an input.
package catalog
