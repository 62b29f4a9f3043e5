package catalog

import (
	"sync/atomic"

	"github.com/hupe1980/segmerge/model"
)

// ReleaseReason tells the OnRelease hook why a record left the catalog.
type ReleaseReason int

const (
	// Retired records were merged away or dropped; all files may go.
	Retired ReleaseReason = iota
	// Superseded records were replaced by a newer delete generation of the
	// same segment; only their live-docs file is obsolete.
	Superseded
)

func (r ReleaseReason) String() string {
	if r == Superseded {
		return "superseded"
	}
	return "retired"
}

// record is one catalog entry, shared by every snapshot containing it.
type record struct {
	seg     model.Segment
	refs    atomic.Int64
	reason  atomic.Int32
	removed atomic.Bool
	release func(model.Segment, ReleaseReason)
	// next is the record that superseded this one. It holds a reference on
	// next so the data files outlive every older delete generation.
	next *record
}

func (r *record) incRef() { r.refs.Add(1) }

func (r *record) decRef() {
	if r.refs.Add(-1) != 0 || !r.removed.Load() {
		return
	}
	if r.release != nil {
		r.release(r.seg, ReleaseReason(r.reason.Load()))
	}
	if r.next != nil {
		r.next.decRef()
	}
}

// Snapshot is an immutable, reference-counted view of the catalog.
// Callers obtained through Catalog.Acquire must call Release exactly once.
type Snapshot struct {
	refs     atomic.Int64
	gen      uint64
	records  []*record
	segments []model.Segment
	byID     map[model.SegmentID]int
}

func newSnapshot(gen uint64, records []*record) *Snapshot {
	s := &Snapshot{
		gen:      gen,
		records:  records,
		segments: make([]model.Segment, len(records)),
		byID:     make(map[model.SegmentID]int, len(records)),
	}
	s.refs.Store(1)
	for i, r := range records {
		r.incRef()
		s.segments[i] = r.seg
		s.byID[r.seg.ID] = i
	}
	return s
}

func (s *Snapshot) tryAcquire() bool {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Retain adds a reference for another owner. The caller must already hold
// one.
func (s *Snapshot) Retain() *Snapshot {
	s.refs.Add(1)
	return s
}

// Release drops the caller's reference.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 {
		for _, r := range s.records {
			r.decRef()
		}
	}
}

// Generation increases with every catalog mutation.
func (s *Snapshot) Generation() uint64 { return s.gen }

// Len returns the number of segments.
func (s *Snapshot) Len() int { return len(s.segments) }

// Segments returns a copy of the ordered segment list.
func (s *Snapshot) Segments() []model.Segment {
	out := make([]model.Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Get returns the segment with the given ID.
func (s *Snapshot) Get(id model.SegmentID) (model.Segment, bool) {
	i, ok := s.byID[id]
	if !ok {
		return model.Segment{}, false
	}
	return s.segments[i], true
}

// TotalBytes sums the size of all segments.
func (s *Snapshot) TotalBytes() int64 {
	return model.TotalBytes(s.segments)
}

// TotalDocs returns the live and deleted document totals.
func (s *Snapshot) TotalDocs() (live, deleted int64) {
	for _, seg := range s.segments {
		live += seg.LiveDocs
		deleted += seg.DeletedDocs
	}
	return live, deleted
}
