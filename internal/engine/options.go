package engine

import (
	"log/slog"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/policy"
)

// Option defines a configuration option for the Engine.
type Option func(*Engine)

// WithConfig sets the merge tuning. It is validated by Open.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithMergePolicy replaces the tiered policy built from the config.
func WithMergePolicy(p policy.MergePolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetricsObserver sets the metrics observer for the engine.
func WithMetricsObserver(observer MetricsObserver) Option {
	return func(e *Engine) {
		if observer != nil {
			e.metrics = observer
		}
	}
}

// WithFileSystem sets the file system of the local store.
// This is primarily used for testing and fault injection.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(e *Engine) {
		e.fs = fsys
	}
}

// WithBlobStore overrides the store Open would create for its directory.
func WithBlobStore(st blobstore.BlobStore) Option {
	return func(e *Engine) {
		if st != nil {
			e.store = st
		}
	}
}
