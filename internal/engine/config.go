package engine

import (
	"runtime"

	"github.com/hupe1980/segmerge/internal/compound"
	"github.com/hupe1980/segmerge/internal/policy"
	"github.com/hupe1980/segmerge/internal/resource"
	"github.com/hupe1980/segmerge/internal/scheduler"
)

// Config holds the merge tuning of an engine.
type Config struct {
	// FloorSegmentBytes rounds small segments up when assigning tiers.
	FloorSegmentBytes int64
	// SegmentsPerTier is the number of segments a tier holds before it merges.
	SegmentsPerTier float64
	// MaxMergeAtOnce caps the inputs of a natural merge.
	MaxMergeAtOnce int
	// MaxMergeAtOnceExplicit caps the inputs of a forced merge.
	MaxMergeAtOnceExplicit int
	// MaxMergedSegmentBytes is the largest segment natural merges produce.
	MaxMergedSegmentBytes int64
	// NoCFSRatio is the largest share of the index a segment may have and
	// still be packed into a compound container. 0 never packs, 1 always.
	NoCFSRatio float64
	// UseCompoundFile packs newly flushed segments. Flushed segments were
	// never merged, so NoCFSRatio does not apply to them.
	UseCompoundFile bool
	// MaxCompoundBytes caps packed segments. 0 means unlimited.
	MaxCompoundBytes int64
	// ReclaimDeletesWeight favors merges that reclaim deleted documents.
	ReclaimDeletesWeight float64
	// ForceMergeDeletesPctAllowed is the deleted percentage above which
	// ForceMergeDeletes rewrites a segment.
	ForceMergeDeletesPctAllowed float64

	// MaxThreadCount is the number of merges that run at once.
	MaxThreadCount int
	// MaxRunningMerges caps queued plus running merges. Flushes stall at it.
	MaxRunningMerges int
	// StallThresholdBytes stalls flushes while the estimated bytes of queued
	// and running merges exceed it. 0 disables the byte limit.
	StallThresholdBytes int64
	// MergeIOBytesPerSec throttles merge IO. 0 means unlimited.
	MergeIOBytesPerSec int64
	// CompoundCodec compresses the entries of compound containers.
	CompoundCodec compound.Codec

	// ManifestHistory is the number of manifest versions kept.
	ManifestHistory int
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	threads := max(1, min(4, runtime.NumCPU()/2))
	tiered := policy.DefaultTieredConfig()
	return Config{
		FloorSegmentBytes:           tiered.FloorSegmentBytes,
		SegmentsPerTier:             tiered.SegmentsPerTier,
		MaxMergeAtOnce:              tiered.MaxMergeAtOnce,
		MaxMergeAtOnceExplicit:      tiered.MaxMergeAtOnceExplicit,
		MaxMergedSegmentBytes:       tiered.MaxMergedSegmentBytes,
		NoCFSRatio:                  0,
		UseCompoundFile:             false,
		ReclaimDeletesWeight:        tiered.ReclaimDeletesWeight,
		ForceMergeDeletesPctAllowed: tiered.ForceMergeDeletesPctAllowed,
		MaxThreadCount:              threads,
		MaxRunningMerges:            threads + 5,
		CompoundCodec:               compound.CodecNone,
		ManifestHistory:             2,
	}
}

// Validate checks every field. Values are never clamped.
func (c Config) Validate() error {
	switch {
	case c.FloorSegmentBytes <= 0:
		return &ConfigError{Field: "FloorSegmentBytes", Value: c.FloorSegmentBytes, Reason: "must be > 0"}
	case c.SegmentsPerTier < 2:
		return &ConfigError{Field: "SegmentsPerTier", Value: c.SegmentsPerTier, Reason: "must be >= 2"}
	case c.MaxMergeAtOnce < 2:
		return &ConfigError{Field: "MaxMergeAtOnce", Value: c.MaxMergeAtOnce, Reason: "must be >= 2"}
	case c.MaxMergeAtOnceExplicit < c.MaxMergeAtOnce:
		return &ConfigError{Field: "MaxMergeAtOnceExplicit", Value: c.MaxMergeAtOnceExplicit, Reason: "must be >= MaxMergeAtOnce"}
	case c.MaxMergedSegmentBytes <= c.FloorSegmentBytes:
		return &ConfigError{Field: "MaxMergedSegmentBytes", Value: c.MaxMergedSegmentBytes, Reason: "must be > FloorSegmentBytes"}
	case c.NoCFSRatio < 0 || c.NoCFSRatio > 1:
		return &ConfigError{Field: "NoCFSRatio", Value: c.NoCFSRatio, Reason: "must be in [0,1]"}
	case c.MaxCompoundBytes < 0:
		return &ConfigError{Field: "MaxCompoundBytes", Value: c.MaxCompoundBytes, Reason: "must be >= 0"}
	case c.ReclaimDeletesWeight < 0:
		return &ConfigError{Field: "ReclaimDeletesWeight", Value: c.ReclaimDeletesWeight, Reason: "must be >= 0"}
	case c.ForceMergeDeletesPctAllowed < 0 || c.ForceMergeDeletesPctAllowed > 100:
		return &ConfigError{Field: "ForceMergeDeletesPctAllowed", Value: c.ForceMergeDeletesPctAllowed, Reason: "must be in [0,100]"}
	case c.MaxThreadCount < 1:
		return &ConfigError{Field: "MaxThreadCount", Value: c.MaxThreadCount, Reason: "must be >= 1"}
	case c.MaxRunningMerges < 1:
		return &ConfigError{Field: "MaxRunningMerges", Value: c.MaxRunningMerges, Reason: "must be >= 1"}
	case c.StallThresholdBytes < 0:
		return &ConfigError{Field: "StallThresholdBytes", Value: c.StallThresholdBytes, Reason: "must be >= 0"}
	case c.MergeIOBytesPerSec < 0:
		return &ConfigError{Field: "MergeIOBytesPerSec", Value: c.MergeIOBytesPerSec, Reason: "must be >= 0"}
	case !c.CompoundCodec.Valid():
		return &ConfigError{Field: "CompoundCodec", Value: c.CompoundCodec, Reason: "unknown codec"}
	case c.ManifestHistory < 1:
		return &ConfigError{Field: "ManifestHistory", Value: c.ManifestHistory, Reason: "must be >= 1"}
	}
	return nil
}

// TieredConfig returns the tiered policy tuning of c.
func (c Config) TieredConfig() policy.TieredConfig {
	return policy.TieredConfig{
		FloorSegmentBytes:           c.FloorSegmentBytes,
		SegmentsPerTier:             c.SegmentsPerTier,
		MaxMergeAtOnce:              c.MaxMergeAtOnce,
		MaxMergeAtOnceExplicit:      c.MaxMergeAtOnceExplicit,
		MaxMergedSegmentBytes:       c.MaxMergedSegmentBytes,
		ReclaimDeletesWeight:        c.ReclaimDeletesWeight,
		ForceMergeDeletesPctAllowed: c.ForceMergeDeletesPctAllowed,
		Packager: compound.Packager{
			NoCFSRatio:       c.NoCFSRatio,
			MaxCompoundBytes: c.MaxCompoundBytes,
		},
	}
}

func (c Config) resourceConfig() resource.Config {
	return resource.Config{
		MaxWorkers:         int64(c.MaxThreadCount),
		IOLimitBytesPerSec: c.MergeIOBytesPerSec,
	}
}

func (c Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		MaxRunningMerges:    c.MaxRunningMerges,
		StallThresholdBytes: c.StallThresholdBytes,
	}
}
