// Package model defines the core types shared by the merge subsystem.
//
// # Identity Types
//
//   - SegmentID: generation-ordered identifier of a segment (uint64)
//   - DocID: segment-local document ordinal (uint32)
//
// # Segment
//
// Segment is the immutable metadata record of one on-disk segment. Merges
// never mutate a segment: they write a new one and retire the inputs.
// Applying deletes yields a new record with a higher DelGen.
package model
