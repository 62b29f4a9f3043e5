// Package policy decides which segments to merge.
//
// A MergePolicy is a pure function of a Context: it reads a catalog snapshot
// and the set of segments already claimed by running merges, and returns merge
// Specs. It never mutates the catalog; the caller claims the
// returned inputs before submitting them.
//
// TieredMergePolicy buckets segments into size tiers and merges within a tier
// once it holds more than SegmentsPerTier segments. Forced merges reduce the
// segment count toward a target regardless of tiers, and forced-deletes merges
// rewrite segments whose deleted share exceeds a threshold.
package policy
