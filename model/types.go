package model

import (
	"errors"
	"fmt"
)

// SegmentID is the unique identifier for a segment within an index.
// IDs are allocated in increasing order, so a larger ID is a younger segment.
type SegmentID uint64

// DocID is a dense, segment-local document ordinal.
// It is transient and changes when the segment is merged.
type DocID uint32

// ErrInvalidSegment is returned by Segment.Validate.
var ErrInvalidSegment = errors.New("invalid segment")

// Segment describes one immutable on-disk segment.
type Segment struct {
	ID SegmentID
	// LiveDocs is the number of documents that are not deleted.
	LiveDocs int64
	// DeletedDocs is the number of deleted documents whose space has not been
	// reclaimed by a merge yet.
	DeletedDocs int64
	// SizeBytes is the size of the segment's data files, live-docs excluded.
	SizeBytes int64
	// Compound reports whether the data files are packed in one container.
	Compound bool
	// FromForcedMerge marks segments written by an explicit force merge.
	FromForcedMerge bool
	// DelGen is the generation of the live-docs file. 0 means no deletes.
	DelGen uint64
}

// MaxDoc returns the number of documents ever written to the segment.
func (s Segment) MaxDoc() int64 {
	return s.LiveDocs + s.DeletedDocs
}

// DeleteRatio returns the fraction of documents that are deleted.
func (s Segment) DeleteRatio() float64 {
	maxDoc := s.MaxDoc()
	if maxDoc == 0 {
		return 0
	}
	return float64(s.DeletedDocs) / float64(maxDoc)
}

// ReclaimableBytes estimates the bytes a merge would free by dropping the
// deleted documents of this segment.
func (s Segment) ReclaimableBytes() int64 {
	return int64(float64(s.SizeBytes) * s.DeleteRatio())
}

// HasDeletes reports whether the segment carries deleted documents.
func (s Segment) HasDeletes() bool {
	return s.DeletedDocs > 0
}

// Validate checks the invariants every cataloged segment must hold.
func (s Segment) Validate() error {
	if s.SizeBytes <= 0 {
		return fmt.Errorf("%w: segment %d has size %d", ErrInvalidSegment, s.ID, s.SizeBytes)
	}
	if s.LiveDocs < 0 || s.DeletedDocs < 0 {
		return fmt.Errorf("%w: segment %d has negative doc counts", ErrInvalidSegment, s.ID)
	}
	return nil
}

// String returns a compact representation of the segment, e.g. "_7(12/3 c)".
func (s Segment) String() string {
	flags := ""
	if s.Compound {
		flags += " c"
	}
	if s.FromForcedMerge {
		flags += " f"
	}
	return fmt.Sprintf("_%d(%d/%d%s)", s.ID, s.LiveDocs, s.DeletedDocs, flags)
}

// IDs returns the IDs of the given segments in order.
func IDs(segments []Segment) []SegmentID {
	ids := make([]SegmentID, len(segments))
	for i, s := range segments {
		ids[i] = s.ID
	}
	return ids
}

// TotalBytes sums SizeBytes over the given segments.
func TotalBytes(segments []Segment) int64 {
	var total int64
	for _, s := range segments {
		total += s.SizeBytes
	}
	return total
}
