package catalog

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/segmerge/model"
)

var (
	// ErrSegmentMissing is returned when a referenced segment is not in the catalog.
	ErrSegmentMissing = errors.New("segment not in catalog")
	// ErrDuplicateSegment is returned when a segment ID is already present.
	ErrDuplicateSegment = errors.New("duplicate segment")
	// ErrDeletesChanged is returned by RetireAndReplace when an input received
	// new deletes after the merge observed it.
	ErrDeletesChanged = errors.New("segment deletes changed")
	// ErrAlreadyMerging is returned when a segment is already claimed by a merge.
	ErrAlreadyMerging = errors.New("segment already merging")
	// ErrStaleDeletes is returned when a delete update does not advance DelGen.
	ErrStaleDeletes = errors.New("stale delete generation")
)

// MissingError lists the segments a mutation expected but did not find.
type MissingError struct {
	IDs []model.SegmentID
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%v: %v", ErrSegmentMissing, e.IDs)
}

func (e *MissingError) Unwrap() error { return ErrSegmentMissing }

// Option configures a Catalog.
type Option func(*Catalog)

// WithOnRelease registers fn to run when a removed segment record is no
// longer referenced by any snapshot.
func WithOnRelease(fn func(seg model.Segment, reason ReleaseReason)) Option {
	return func(c *Catalog) { c.onRelease = fn }
}

// Catalog is the authoritative list of live segments.
type Catalog struct {
	mu        sync.Mutex
	current   atomic.Pointer[Snapshot]
	merging   map[model.SegmentID]struct{}
	onRelease func(model.Segment, ReleaseReason)
}

// New creates an empty catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{merging: make(map[model.SegmentID]struct{})}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(newSnapshot(0, nil))
	return c
}

// Acquire returns the current snapshot with a reference held for the caller.
func (c *Catalog) Acquire() *Snapshot {
	for {
		s := c.current.Load()
		if s.tryAcquire() {
			return s
		}
	}
}

// Segments returns a copy of the current ordered segment list.
func (c *Catalog) Segments() []model.Segment {
	s := c.Acquire()
	defer s.Release()
	return s.Segments()
}

// Generation returns the current catalog generation.
func (c *Catalog) Generation() uint64 {
	return c.current.Load().gen
}

func (c *Catalog) newRecord(seg model.Segment) *record {
	return &record{seg: seg, release: c.onRelease}
}

// publish installs records as the new generation. Caller holds c.mu.
func (c *Catalog) publish(records []*record) {
	old := c.current.Load()
	c.current.Store(newSnapshot(old.gen+1, records))
	old.Release()
}

func remove(r *record, reason ReleaseReason) {
	r.reason.Store(int32(reason))
	r.removed.Store(true)
}

func supersede(old, next *record) {
	next.incRef()
	old.next = next
	remove(old, Superseded)
}

// Append adds a newly flushed segment at the end of the catalog.
func (c *Catalog) Append(seg model.Segment) error {
	if err := seg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current.Load()
	if _, ok := cur.byID[seg.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateSegment, seg.ID)
	}

	records := make([]*record, len(cur.records), len(cur.records)+1)
	copy(records, cur.records)
	c.publish(append(records, c.newRecord(seg)))
	return nil
}

// Restore replaces the whole catalog, e.g. with the segments of a loaded
// manifest. Records identical to a current one are kept. Dropped IDs are
// released as retired and IDs with a different DelGen as superseded.
func (c *Catalog) Restore(segments []model.Segment) error {
	seen := make(map[model.SegmentID]model.Segment, len(segments))
	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			return err
		}
		if _, ok := seen[seg.ID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateSegment, seg.ID)
		}
		seen[seg.ID] = seg
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current.Load()
	records := make([]*record, 0, len(segments))
	fresh := make(map[model.SegmentID]*record, len(segments))
	for _, seg := range segments {
		if i, ok := cur.byID[seg.ID]; ok && cur.records[i].seg == seg {
			records = append(records, cur.records[i])
			continue
		}
		r := c.newRecord(seg)
		fresh[seg.ID] = r
		records = append(records, r)
	}
	for _, r := range cur.records {
		next, ok := seen[r.seg.ID]
		switch {
		case !ok:
			remove(r, Retired)
		case next.DelGen != r.seg.DelGen:
			supersede(r, fresh[r.seg.ID])
		}
	}
	c.publish(records)
	return nil
}

// UpdateDeletes replaces the record of seg.ID with seg, which must carry a
// higher DelGen than the current record.
func (c *Catalog) UpdateDeletes(seg model.Segment) error {
	if err := seg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current.Load()
	i, ok := cur.byID[seg.ID]
	if !ok {
		return &MissingError{IDs: []model.SegmentID{seg.ID}}
	}
	if prev := cur.records[i].seg; seg.DelGen <= prev.DelGen {
		return fmt.Errorf("%w: segment %d gen %d <= %d", ErrStaleDeletes, seg.ID, seg.DelGen, prev.DelGen)
	}

	records := slices.Clone(cur.records)
	next := c.newRecord(seg)
	supersede(records[i], next)
	records[i] = next
	c.publish(records)
	return nil
}

// RetireAndReplace atomically removes the observed input segments and inserts
// out at the position of the first input. It fails with a *MissingError if an
// input is gone and with ErrDeletesChanged if an input's DelGen differs from
// the observed record; in both cases the catalog is unchanged.
func (c *Catalog) RetireAndReplace(observed []model.Segment, out model.Segment) error {
	if len(observed) == 0 {
		return errors.New("retire: no inputs")
	}
	if err := out.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current.Load()
	retired := make(map[model.SegmentID]struct{}, len(observed))
	var missing []model.SegmentID
	for _, in := range observed {
		i, ok := cur.byID[in.ID]
		if !ok {
			missing = append(missing, in.ID)
			continue
		}
		if cur.records[i].seg.DelGen != in.DelGen {
			return fmt.Errorf("%w: segment %d gen %d, observed %d", ErrDeletesChanged, in.ID, cur.records[i].seg.DelGen, in.DelGen)
		}
		retired[in.ID] = struct{}{}
	}
	if len(missing) > 0 {
		return &MissingError{IDs: missing}
	}
	if _, ok := cur.byID[out.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateSegment, out.ID)
	}

	records := make([]*record, 0, len(cur.records)-len(retired)+1)
	inserted := false
	for _, r := range cur.records {
		if _, ok := retired[r.seg.ID]; !ok {
			records = append(records, r)
			continue
		}
		remove(r, Retired)
		if !inserted {
			records = append(records, c.newRecord(out))
			inserted = true
		}
	}
	c.publish(records)
	return nil
}

// Drop removes segments without a replacement, e.g. segments whose documents
// are all deleted.
func (c *Catalog) Drop(ids []model.SegmentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current.Load()
	drop := make(map[model.SegmentID]struct{}, len(ids))
	var missing []model.SegmentID
	for _, id := range ids {
		if _, ok := cur.byID[id]; !ok {
			missing = append(missing, id)
		}
		drop[id] = struct{}{}
	}
	if len(missing) > 0 {
		return &MissingError{IDs: missing}
	}

	records := make([]*record, 0, len(cur.records))
	for _, r := range cur.records {
		if _, ok := drop[r.seg.ID]; ok {
			remove(r, Retired)
			continue
		}
		records = append(records, r)
	}
	c.publish(records)
	return nil
}

// MarkMerging claims ids for one merge. Either all are claimed or none.
func (c *Catalog) MarkMerging(ids []model.SegmentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current.Load()
	var missing []model.SegmentID
	for _, id := range ids {
		if _, ok := cur.byID[id]; !ok {
			missing = append(missing, id)
			continue
		}
		if _, ok := c.merging[id]; ok {
			return fmt.Errorf("%w: %d", ErrAlreadyMerging, id)
		}
	}
	if len(missing) > 0 {
		return &MissingError{IDs: missing}
	}
	if len(ids) != len(uniq(ids)) {
		return fmt.Errorf("%w: duplicate ids in claim", ErrAlreadyMerging)
	}

	for _, id := range ids {
		c.merging[id] = struct{}{}
	}
	return nil
}

func uniq(ids []model.SegmentID) map[model.SegmentID]struct{} {
	m := make(map[model.SegmentID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// Unmark releases merge claims. Unknown IDs are ignored.
func (c *Catalog) Unmark(ids []model.SegmentID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		delete(c.merging, id)
	}
}

// IsMerging reports whether id is claimed by a merge.
func (c *Catalog) IsMerging(id model.SegmentID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.merging[id]
	return ok
}

// Merging returns a copy of the claimed segment set.
func (c *Catalog) Merging() map[model.SegmentID]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[model.SegmentID]struct{}, len(c.merging))
	for id := range c.merging {
		out[id] = struct{}{}
	}
	return out
}

// AcquireWithMerging returns a snapshot and the merging set observed together.
func (c *Catalog) AcquireWithMerging() (*Snapshot, map[model.SegmentID]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[model.SegmentID]struct{}, len(c.merging))
	for id := range c.merging {
		out[id] = struct{}{}
	}
	return c.Acquire(), out
}
