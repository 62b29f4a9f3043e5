package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Docs returns num documents of size random bytes each.
func (r *RNG) Docs(num, size int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([][]byte, num)
	for i := range docs {
		docs[i] = make([]byte, size)
		_, _ = r.rand.Read(docs[i])
	}
	return docs
}

// VariableDocs returns num documents with sizes uniform in [minSize, maxSize].
func (r *RNG) VariableDocs(num, minSize, maxSize int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([][]byte, num)
	for i := range docs {
		size := minSize
		if maxSize > minSize {
			size += r.rand.Intn(maxSize - minSize + 1)
		}
		docs[i] = make([]byte, size)
		_, _ = r.rand.Read(docs[i])
	}
	return docs
}

// SequentialDocs returns "doc-0" ... "doc-(n-1)". The payload identifies the
// document, which makes doc maps easy to verify.
func SequentialDocs(n int) [][]byte {
	return PrefixedDocs("doc", 0, n)
}

// PrefixedDocs returns "<prefix>-<start>" ... "<prefix>-<start+n-1>".
func PrefixedDocs(prefix string, start, n int) [][]byte {
	docs := make([][]byte, n)
	for i := range docs {
		docs[i] = fmt.Appendf(nil, "%s-%d", prefix, start+i)
	}
	return docs
}

// Deletes returns a random delete set over [0, maxDoc) where each document is
// deleted with probability rate.
func (r *RNG) Deletes(maxDoc int, rate float64) *roaring.Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm := roaring.New()
	for doc := range maxDoc {
		if r.rand.Float64() < rate {
			bm.Add(uint32(doc))
		}
	}
	return bm
}

// Zipf returns a Zipfian-distributed value in [0, n).
// Uses Zipf's law: P(k) ∝ 1/k^s where s is the skew parameter.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}
	return n - 1
}

// ZipfBatches returns n flush batch sizes in [1, maxBatch]. Most batches are
// small and a few are large, like flushes triggered by a memory budget under
// bursty ingest.
func (r *RNG) ZipfBatches(n, maxBatch int, s float64) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = r.zipfLocked(maxBatch, s) + 1
	}
	return sizes
}
