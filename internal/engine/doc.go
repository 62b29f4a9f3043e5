// Package engine coordinates segment merging for one index.
//
// The engine orchestrates:
//   - the segment catalog and its ref-counted snapshots
//   - the merge policy, consulted synchronously after flushes and deletes
//   - the merge scheduler with its worker pool and write stall gate
//   - merge installation: carried-over deletes, retire-and-replace, manifest
//   - deferred deletion of files no snapshot can see anymore
package engine
