// Package cache provides LRU caching for immutable blob blocks.
//
// # Block Cache
//
// Remote segment files are read in fixed-size blocks. ShardedLRU keeps the
// most recently read blocks in memory; every blob name maps to its blocks so
// a deleted or rewritten blob is invalidated without scanning the cache.
//
// Key features:
//   - Shard selection by maphash of the block key
//   - Per-shard mutex for minimal contention
//   - Capacity accounted in bytes
package cache
