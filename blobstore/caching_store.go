package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segmerge/internal/cache"
)

// DefaultBlockSize is the block size of a CachingStore.
const DefaultBlockSize = 64 * 1024

// CachingOption configures a CachingStore.
type CachingOption func(*CachingStore)

// WithBlockSize sets the cached block size. Values <= 0 are ignored.
func WithBlockSize(n int64) CachingOption {
	return func(s *CachingStore) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithFetchConcurrency limits the parallel backend reads of one ReadAt.
func WithFetchConcurrency(n int) CachingOption {
	return func(s *CachingStore) {
		if n > 0 {
			s.fetchLimit = n
		}
	}
}

// CachingStore wraps a BlobStore and adds block-level read caching.
// Writes pass through; Put, Create and Delete invalidate the blob's blocks.
type CachingStore struct {
	inner      BlobStore
	cache      cache.BlockCache
	blockSize  int64
	fetchLimit int
}

var _ BlobStore = (*CachingStore)(nil)

// NewCachingStore creates a CachingStore holding up to capacity bytes of
// blocks in memory.
func NewCachingStore(inner BlobStore, capacity int64, opts ...CachingOption) *CachingStore {
	s := &CachingStore{
		inner:      inner,
		cache:      cache.NewShardedLRU(capacity),
		blockSize:  DefaultBlockSize,
		fetchLimit: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the block cache hit and miss counts.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.cache.Stats()
}

// Open opens a blob whose reads go through the block cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{
		inner:     b,
		store:     s,
		name:      name,
		size:      b.Size(),
		blockSize: s.blockSize,
	}, nil
}

// Create passes through to the wrapped store.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.cache.Invalidate(name)
	return s.inner.Create(ctx, name)
}

// Put passes through to the wrapped store.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// DeleteBatch invalidates names and removes them from the wrapped store.
func (s *CachingStore) DeleteBatch(ctx context.Context, names []string) error {
	for _, name := range names {
		s.cache.Invalidate(name)
	}
	return DeleteAll(ctx, s.inner, names)
}

// Delete passes through to the wrapped store.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List passes through to the wrapped store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type cachingBlob struct {
	inner     Blob
	store     *CachingStore
	name      string
	size      int64
	blockSize int64
}

func (b *cachingBlob) Close() error { return b.inner.Close() }
func (b *cachingBlob) Size() int64  { return b.size }

func (b *cachingBlob) key(blk int64) cache.Key {
	return cache.Key{Name: b.name, Block: blk}
}

func (b *cachingBlob) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%s: negative offset %d", b.name, off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= b.size {
		return 0, io.EOF
	}

	end := min(off+int64(len(p)), b.size)
	first, last := off/b.blockSize, (end-1)/b.blockSize
	if err := b.fill(first, last); err != nil {
		return 0, err
	}

	n := 0
	for blk := first; blk <= last; blk++ {
		data, err := b.block(blk)
		if err != nil {
			return n, err
		}
		blkStart := blk * b.blockSize
		lo := max(blkStart, off) - blkStart
		hi := min(int64(len(data)), end-blkStart)
		if lo >= hi {
			break
		}
		n += copy(p[blkStart+lo-off:], data[lo:hi])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// fill loads the missing blocks in [first, last]. Contiguous missing blocks
// are fetched with one backend read each.
func (b *cachingBlob) fill(first, last int64) error {
	type run struct{ start, count int64 }
	var runs []run
	for blk := first; blk <= last; blk++ {
		if _, ok := b.store.cache.Get(b.key(blk)); ok {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == blk {
			runs[n-1].count++
			continue
		}
		runs = append(runs, run{start: blk, count: 1})
	}
	if len(runs) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(b.store.fetchLimit)
	for _, r := range runs {
		g.Go(func() error {
			start := r.start * b.blockSize
			buf, err := b.readRange(start, min(r.count*b.blockSize, b.size-start))
			if err != nil {
				return err
			}
			for i := int64(0); i < r.count; i++ {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))
				// Copy so a cached block does not pin the whole run.
				b.store.cache.Set(b.key(r.start+i), append([]byte(nil), buf[lo:hi]...))
			}
			return nil
		})
	}
	return g.Wait()
}

// block returns one block, reading it again if it was evicted after fill.
func (b *cachingBlob) block(blk int64) ([]byte, error) {
	if data, ok := b.store.cache.Get(b.key(blk)); ok {
		return data, nil
	}
	start := blk * b.blockSize
	data, err := b.readRange(start, min(b.blockSize, b.size-start))
	if err != nil {
		return nil, err
	}
	b.store.cache.Set(b.key(blk), data)
	return data, nil
}

func (b *cachingBlob) readRange(off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	m, err := b.inner.ReadAt(buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && int64(m) == n) {
		return nil, fmt.Errorf("%s: read %d bytes at %d: %w", b.name, n, off, err)
	}
	return buf[:m], nil
}
