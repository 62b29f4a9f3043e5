package segmerge

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/engine"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

var (
	// ErrClosed is returned by every operation on a closed Index.
	ErrClosed = engine.ErrClosed

	// ErrInvalidArgument is returned for malformed input, e.g. an empty flush.
	ErrInvalidArgument = engine.ErrInvalidArgument

	// ErrCorrupt is returned when index files fail validation.
	ErrCorrupt = engine.ErrCorrupt

	// ErrNotFound is returned for unknown segments.
	ErrNotFound = engine.ErrNotFound

	// ErrInvalidSegment is returned for segment records that break the
	// catalog invariants, e.g. a non-positive size.
	ErrInvalidSegment = model.ErrInvalidSegment
)

// ConfigError reports an invalid tuning parameter. It matches
// ErrInvalidArgument.
type ConfigError = engine.ConfigError

// MergeIOError reports a merge whose reads or writes failed. The catalog
// keeps the merge inputs.
type MergeIOError = engine.MergeIOError

// CatalogConsistencyError reports a merge whose inputs were no longer in the
// catalog when its output was installed.
type CatalogConsistencyError = engine.CatalogConsistencyError

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Files that went missing below the catalog.
	if errors.Is(err, blobstore.ErrNotFound) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, segment.ErrCorrupt) && !errors.Is(err, ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if errors.Is(err, model.ErrInvalidSegment) && !errors.Is(err, ErrInvalidArgument) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return err
}
