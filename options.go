package segmerge

import (
	"github.com/hupe1980/segmerge/internal/engine"
)

type options struct {
	cfg             *Config
	policy          MergePolicy
	logger          *Logger
	metricsObserver MetricsObserver
	blockCacheBytes int64
}

// Option configures Open and OpenRemote.
type Option func(*options)

// WithConfig sets the merge tuning. Open rejects an invalid config with a
// *ConfigError; values are never clamped.
//
// Example:
//
//	cfg := segmerge.DefaultConfig()
//	cfg.SegmentsPerTier = 5
//	cfg.NoCFSRatio = 1
//	cfg.UseCompoundFile = true
//	idx, err := segmerge.Open("./data", segmerge.WithConfig(cfg))
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = &cfg
	}
}

// WithMergePolicy replaces the tiered merge policy built from the config.
//
// Use NoMergePolicy to disable merging entirely.
func WithMergePolicy(p MergePolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithLogger sets the structured logger.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetricsObserver sets the observer for flush, merge and stall events.
//
// See the metric package for a Prometheus implementation.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		o.metricsObserver = m
	}
}

// WithBlockCache caches up to capacity bytes of remote segment files in
// memory. It only applies to OpenRemote; local indexes are memory-mapped.
//
// Merges read every input segment once, so the cache mostly serves Scan
// and merges of segments that were just flushed.
func WithBlockCache(capacity int64) Option {
	return func(o *options) {
		o.blockCacheBytes = capacity
	}
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

func (o *options) engineOptions() []engine.Option {
	eopts := []engine.Option{
		engine.WithLogger(o.logger.Logger),
	}
	if o.cfg != nil {
		eopts = append(eopts, engine.WithConfig(*o.cfg))
	}
	if o.policy != nil {
		eopts = append(eopts, engine.WithMergePolicy(o.policy))
	}
	if o.metricsObserver != nil {
		eopts = append(eopts, engine.WithMetricsObserver(o.metricsObserver))
	}
	return eopts
}
