// Package testutil provides testing utilities for segmerge.
//
// This package is intended for use in tests and benchmarks only.
// It provides deterministic generators for document payloads, flush batch
// sizes and delete sets.
//
// # Documents
//
//	rng := testutil.NewRNG(seed)
//	docs := rng.Docs(100, 64)          // 100 docs of 64 random bytes
//	docs = testutil.SequentialDocs(5)  // "doc-0" ... "doc-4"
//
// # Skewed Batches
//
//	sizes := rng.ZipfBatches(20, 1000, 1.2)  // flush sizes with a heavy tail
//
// # Deletes
//
//	deleted := rng.Deletes(maxDoc, 0.1)  // roaring bitmap, ~10% of docs
package testutil
