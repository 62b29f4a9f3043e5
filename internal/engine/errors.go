package engine

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segmerge/internal/catalog"
	"github.com/hupe1980/segmerge/model"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrInvalidArgument is returned when an argument is invalid (e.g. empty flush, doc out of range).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCorrupt is returned when data corruption is detected (checksum mismatch, etc.).
	ErrCorrupt = errors.New("data corruption detected")

	// ErrNotFound is returned when a requested segment is not in the catalog.
	ErrNotFound = errors.New("not found")
)

// ConfigError reports an invalid tuning parameter.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidArgument }

// MergeIOError reports a merge that failed reading its inputs or writing its
// output. The index keeps its pre-merge state.
type MergeIOError struct {
	Seq      uint64
	Segments []model.SegmentID
	Err      error
}

func (e *MergeIOError) Error() string {
	return fmt.Sprintf("merge %d of %v failed: %v", e.Seq, e.Segments, e.Err)
}

func (e *MergeIOError) Unwrap() error { return e.Err }

// CatalogConsistencyError reports a merge whose inputs left the catalog
// before it could be installed. Its output was discarded.
type CatalogConsistencyError struct {
	Seq     uint64
	Missing []model.SegmentID
}

func (e *CatalogConsistencyError) Error() string {
	return fmt.Sprintf("merge %d: segments %v no longer in catalog", e.Seq, e.Missing)
}

func (e *CatalogConsistencyError) Unwrap() error { return catalog.ErrSegmentMissing }
