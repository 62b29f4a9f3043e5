package policy

import (
	"cmp"
	"math"
	"slices"

	"github.com/hupe1980/segmerge/internal/compound"
	"github.com/hupe1980/segmerge/model"
)

const (
	// DefaultFloorSegmentBytes is the size small segments are rounded up to.
	DefaultFloorSegmentBytes = 2 << 20
	// DefaultMaxMergedSegmentBytes is the largest segment natural merges produce.
	DefaultMaxMergedSegmentBytes = 5 << 30
)

// TieredConfig tunes TieredMergePolicy. Values are expected to be validated
// by the caller.
type TieredConfig struct {
	FloorSegmentBytes           int64
	SegmentsPerTier             float64
	MaxMergeAtOnce              int
	MaxMergeAtOnceExplicit      int
	MaxMergedSegmentBytes       int64
	ReclaimDeletesWeight        float64
	ForceMergeDeletesPctAllowed float64
	Packager                    compound.Packager
}

// DefaultTieredConfig returns the default tuning.
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		FloorSegmentBytes:           DefaultFloorSegmentBytes,
		SegmentsPerTier:             10,
		MaxMergeAtOnce:              10,
		MaxMergeAtOnceExplicit:      30,
		MaxMergedSegmentBytes:       DefaultMaxMergedSegmentBytes,
		ReclaimDeletesWeight:        2,
		ForceMergeDeletesPctAllowed: 10,
	}
}

// TieredMergePolicy merges segments of comparable size.
type TieredMergePolicy struct {
	cfg TieredConfig
}

var _ MergePolicy = (*TieredMergePolicy)(nil)

// NewTieredMergePolicy creates a tiered policy.
func NewTieredMergePolicy(cfg TieredConfig) *TieredMergePolicy {
	return &TieredMergePolicy{cfg: cfg}
}

// Config returns the policy's tuning.
func (p *TieredMergePolicy) Config() TieredConfig { return p.cfg }

func bySize(a, b model.Segment) int {
	if c := cmp.Compare(a.SizeBytes, b.SizeBytes); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (p *TieredMergePolicy) floored(seg model.Segment) int64 {
	return max(seg.SizeBytes, p.cfg.FloorSegmentBytes)
}

// tierOf returns the tier index of a floored size; 0 is the smallest tier.
func (p *TieredMergePolicy) tierOf(floored int64) int {
	ratio := float64(floored) / float64(p.cfg.FloorSegmentBytes)
	if ratio <= 1 {
		return 0
	}
	return int(math.Floor(math.Log(ratio) / math.Log(p.cfg.SegmentsPerTier)))
}

// numTiers returns ceil(log(total/floor)/log(segmentsPerTier)), at least 1.
func (p *TieredMergePolicy) numTiers(totalFloored int64) int {
	ratio := float64(totalFloored) / float64(p.cfg.FloorSegmentBytes)
	if ratio <= 1 {
		return 1
	}
	return max(1, int(math.Ceil(math.Log(ratio)/math.Log(p.cfg.SegmentsPerTier))))
}

// FindMerges implements natural tiered merging.
func (p *TieredMergePolicy) FindMerges(mc *Context) []*Spec {
	eligible := mc.eligible(func(seg model.Segment) bool {
		return seg.SizeBytes < p.cfg.MaxMergedSegmentBytes
	})
	if len(eligible) < 2 || !mc.capacity(0) {
		return nil
	}
	slices.SortFunc(eligible, bySize)

	var totalFloored int64
	for _, seg := range eligible {
		totalFloored += p.floored(seg)
	}
	numTiers := p.numTiers(totalFloored)

	tiers := make([][]model.Segment, numTiers)
	for _, seg := range eligible {
		t := min(p.tierOf(p.floored(seg)), numTiers-1)
		tiers[t] = append(tiers[t], seg)
	}

	var specs []*Spec
	for t := numTiers - 1; t >= 0; t-- {
		tier := tiers[t]
		for len(tier) >= 2 && float64(len(tier)) > p.cfg.SegmentsPerTier {
			if !mc.capacity(len(specs)) {
				return specs
			}
			start, n := p.bestWindow(tier)
			if n == 0 {
				break
			}
			window := slices.Clone(tier[start : start+n])
			spec := newSpec(window, false)
			specs = append(specs, spec)
			spec.Compound = p.UseCompound(mc, spec.EstimatedBytes, specs)
			tier = slices.Delete(tier, start, start+n)
		}
	}
	return specs
}

// bestWindow scans contiguous windows of a size-sorted tier and returns the
// one with the lowest score. A window grows up to MaxMergeAtOnce segments
// while its estimated output fits MaxMergedSegmentBytes. Windows shorter than
// the full width are only candidates when the size cap cut them short.
func (p *TieredMergePolicy) bestWindow(tier []model.Segment) (start, n int) {
	width := min(p.cfg.MaxMergeAtOnce, len(tier))
	bestScore := math.Inf(1)

	for i := range tier {
		var est, reclaimed int64
		j := i
		capped := false
		for ; j < len(tier) && j-i < width; j++ {
			segEst := tier[j].SizeBytes - tier[j].ReclaimableBytes()
			if est+segEst > p.cfg.MaxMergedSegmentBytes {
				capped = true
				break
			}
			est += segEst
			reclaimed += tier[j].ReclaimableBytes()
		}
		size := j - i
		if size < 2 || (size < width && !capped) {
			continue
		}
		score := float64(est) - p.cfg.ReclaimDeletesWeight*float64(reclaimed)
		if score < bestScore || (score == bestScore && size < n) {
			bestScore, start, n = score, i, size
		}
	}
	return start, n
}

// FindForcedMerges proposes merges that bring the projected segment count
// down to maxSegmentCount, smallest segments first. With a target of one and
// a single segment left, that segment is rewritten unless it already is the
// result of a forced merge with no deletes and the right packaging.
func (p *TieredMergePolicy) FindForcedMerges(mc *Context, maxSegmentCount int) []*Spec {
	maxSegmentCount = max(maxSegmentCount, 1)
	eligible := mc.eligible(func(model.Segment) bool { return true })
	slices.SortFunc(eligible, bySize)

	projected := mc.ProjectedCount()
	var specs []*Spec
	for projected > maxSegmentCount && mc.capacity(len(specs)) {
		fanIn := min(p.cfg.MaxMergeAtOnceExplicit, projected-maxSegmentCount+1, len(eligible))
		if fanIn < 2 {
			break
		}
		spec := newSpec(slices.Clone(eligible[:fanIn]), true)
		specs = append(specs, spec)
		spec.Compound = p.UseCompound(mc, spec.EstimatedBytes, specs)
		eligible = eligible[fanIn:]
		projected -= fanIn - 1
	}

	if len(specs) == 0 && len(mc.Running) == 0 && maxSegmentCount == 1 &&
		len(mc.Segments) == 1 && len(eligible) == 1 && mc.capacity(0) {
		spec := newSpec([]model.Segment{eligible[0]}, true)
		spec.Compound = p.UseCompound(mc, spec.EstimatedBytes, []*Spec{spec})
		if !p.isMerged(eligible[0], spec.Compound) {
			specs = append(specs, spec)
		}
	}
	return specs
}

func (p *TieredMergePolicy) isMerged(seg model.Segment, compound bool) bool {
	return seg.FromForcedMerge && !seg.HasDeletes() && seg.Compound == compound
}

// FindForcedDeletesMerges rewrites segments whose deleted percentage exceeds
// ForceMergeDeletesPctAllowed, in size-contiguous groups of at most
// MaxMergeAtOnceExplicit segments. Single-segment groups are allowed.
func (p *TieredMergePolicy) FindForcedDeletesMerges(mc *Context) []*Spec {
	eligible := mc.eligible(func(seg model.Segment) bool {
		return seg.DeleteRatio()*100 > p.cfg.ForceMergeDeletesPctAllowed
	})
	slices.SortFunc(eligible, bySize)

	var specs []*Spec
	for len(eligible) > 0 && mc.capacity(len(specs)) {
		n := 1
		est := eligible[0].SizeBytes - eligible[0].ReclaimableBytes()
		for n < len(eligible) && n < p.cfg.MaxMergeAtOnceExplicit {
			next := eligible[n].SizeBytes - eligible[n].ReclaimableBytes()
			if est+next > p.cfg.MaxMergedSegmentBytes {
				break
			}
			est += next
			n++
		}
		spec := newSpec(slices.Clone(eligible[:n]), false)
		specs = append(specs, spec)
		spec.Compound = p.UseCompound(mc, spec.EstimatedBytes, specs)
		eligible = eligible[n:]
	}
	return specs
}

// UseCompound applies the packager's ratio rule against the projected index.
func (p *TieredMergePolicy) UseCompound(mc *Context, sizeBytes int64, pending []*Spec) bool {
	return p.cfg.Packager.Decide(sizeBytes, mc.ProjectedBytes(pending))
}
