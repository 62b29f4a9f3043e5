package queue

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intLess(a, b int) bool { return a < b }

func TestHeap_Order(t *testing.T) {
	h := New(intLess, 0)
	r := rand.New(rand.NewSource(42))

	var want []int
	for range 200 {
		v := r.Intn(1000)
		want = append(want, v)
		h.Push(v)
	}
	sort.Ints(want)

	top, ok := h.Peek()
	require.True(t, ok)
	assert.Equal(t, want[0], top)

	assert.Equal(t, want, h.Drain())
	assert.Equal(t, 0, h.Len())
}

func TestHeap_Empty(t *testing.T) {
	h := New(intLess, 4)
	_, ok := h.Pop()
	assert.False(t, ok)
	_, ok = h.Peek()
	assert.False(t, ok)
}

type seqItem struct {
	seq  uint64
	name string
}

func TestHeap_StructBySequence(t *testing.T) {
	h := New(func(a, b seqItem) bool { return a.seq < b.seq }, 0)
	h.Push(seqItem{3, "c"})
	h.Push(seqItem{1, "a"})
	h.Push(seqItem{2, "b"})

	var names []string
	for _, it := range h.Drain() {
		names = append(names, it.name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestHeap_Items(t *testing.T) {
	h := New(intLess, 4)
	for _, v := range []int{3, 1, 2} {
		h.Push(v)
	}
	items := h.Items()
	assert.ElementsMatch(t, []int{1, 2, 3}, items)

	items[0] = 99
	top, _ := h.Peek()
	assert.Equal(t, 1, top, "Items returns a copy")
}
