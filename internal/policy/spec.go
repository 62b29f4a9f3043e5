package policy

import (
	"fmt"
	"strings"

	"github.com/hupe1980/segmerge/model"
)

// Spec describes one merge: a set of input segments combined into one output.
type Spec struct {
	// Segments are the inputs as observed when the merge was selected.
	Segments []model.Segment
	// EstimatedBytes is the expected output size: the input sizes minus the
	// bytes held by deleted documents.
	EstimatedBytes int64
	// Compound is the packaging decision for the output.
	Compound bool
	// Forced marks merges requested by ForceMerge. Their outputs carry
	// FromForcedMerge.
	Forced bool
	// Seq is the submission sequence, assigned by the scheduler.
	Seq uint64
}

func newSpec(segments []model.Segment, forced bool) *Spec {
	return &Spec{
		Segments:       segments,
		EstimatedBytes: estimate(segments),
		Forced:         forced,
	}
}

// IDs returns the input segment IDs.
func (s *Spec) IDs() []model.SegmentID { return model.IDs(s.Segments) }

// InputBytes sums the input sizes.
func (s *Spec) InputBytes() int64 { return model.TotalBytes(s.Segments) }

// MaxDoc sums the documents ever written to the inputs.
func (s *Spec) MaxDoc() int64 {
	var n int64
	for _, seg := range s.Segments {
		n += seg.MaxDoc()
	}
	return n
}

// ReclaimedBytes estimates the bytes freed by dropping deleted documents.
func (s *Spec) ReclaimedBytes() int64 {
	var n int64
	for _, seg := range s.Segments {
		n += seg.ReclaimableBytes()
	}
	return n
}

func (s *Spec) String() string {
	parts := make([]string, len(s.Segments))
	for i, seg := range s.Segments {
		parts[i] = seg.String()
	}
	mode := ""
	if s.Forced {
		mode = " forced"
	}
	return fmt.Sprintf("merge#%d[%s] est=%d cfs=%t%s", s.Seq, strings.Join(parts, " "), s.EstimatedBytes, s.Compound, mode)
}

func estimate(segments []model.Segment) int64 {
	var n int64
	for _, seg := range segments {
		n += seg.SizeBytes - seg.ReclaimableBytes()
	}
	return max(n, 1)
}

// Context is the input of a MergePolicy.
type Context struct {
	// Segments is the ordered catalog snapshot.
	Segments []model.Segment
	// Merging holds the segments claimed by queued or running merges.
	Merging map[model.SegmentID]struct{}
	// Running are the merges already submitted.
	Running []*Spec
	// MaxRunningMerges caps len(Running) plus the newly proposed merges.
	// 0 means no cap.
	MaxRunningMerges int
}

// IsMerging reports whether id is claimed by a merge.
func (mc *Context) IsMerging(id model.SegmentID) bool {
	_, ok := mc.Merging[id]
	return ok
}

func (mc *Context) capacity(proposed int) bool {
	return mc.MaxRunningMerges <= 0 || len(mc.Running)+proposed < mc.MaxRunningMerges
}

// eligible returns the segments not claimed by any merge.
func (mc *Context) eligible(keep func(model.Segment) bool) []model.Segment {
	out := make([]model.Segment, 0, len(mc.Segments))
	for _, seg := range mc.Segments {
		if mc.IsMerging(seg.ID) || !keep(seg) {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// ProjectedBytes returns the index size as if the running merges and pending
// merges had completed: their inputs replaced by their estimated outputs.
func (mc *Context) ProjectedBytes(pending []*Spec) int64 {
	total := model.TotalBytes(mc.Segments)
	seen := make(map[model.SegmentID]struct{})
	apply := func(specs []*Spec) {
		for _, sp := range specs {
			for _, seg := range sp.Segments {
				if _, ok := seen[seg.ID]; ok {
					continue
				}
				seen[seg.ID] = struct{}{}
				total -= seg.SizeBytes
			}
			total += sp.EstimatedBytes
		}
	}
	apply(mc.Running)
	apply(pending)
	return max(total, 0)
}

// ProjectedCount returns the segment count once running merges complete.
func (mc *Context) ProjectedCount() int {
	n := len(mc.Segments)
	for _, sp := range mc.Running {
		n -= len(sp.Segments) - 1
	}
	return n
}

// MergePolicy selects merges.
type MergePolicy interface {
	// FindMerges returns the merges needed to keep the index in shape.
	FindMerges(mc *Context) []*Spec
	// FindForcedMerges returns merges that reduce the segment count toward
	// maxSegmentCount.
	FindForcedMerges(mc *Context, maxSegmentCount int) []*Spec
	// FindForcedDeletesMerges returns merges that reclaim deleted documents.
	FindForcedDeletesMerges(mc *Context) []*Spec
	// UseCompound decides the packaging of a segment of sizeBytes, projected
	// against the index after the running merges and pending have completed.
	UseCompound(mc *Context, sizeBytes int64, pending []*Spec) bool
}

// NoMergePolicy never merges and never packs. It is useful for bulk loads.
type NoMergePolicy struct{}

var _ MergePolicy = NoMergePolicy{}

func (NoMergePolicy) FindMerges(*Context) []*Spec { return nil }

func (NoMergePolicy) FindForcedMerges(*Context, int) []*Spec { return nil }

func (NoMergePolicy) FindForcedDeletesMerges(*Context) []*Spec { return nil }

func (NoMergePolicy) UseCompound(*Context, int64, []*Spec) bool { return false }
