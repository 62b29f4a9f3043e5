package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/model"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// Manifest describes the segment catalog at a specific point in time.
type Manifest struct {
	Version       int
	ID            uint64
	CreatedAt     time.Time
	NextSegmentID model.SegmentID
	Segments      []SegmentInfo
}

// New creates a new empty manifest.
func New() *Manifest {
	return &Manifest{
		Version:       CurrentVersion,
		CreatedAt:     time.Now(),
		NextSegmentID: 1, // Start segment IDs at 1
	}
}

// SegmentInfo describes a single segment.
type SegmentInfo struct {
	ID              model.SegmentID
	LiveDocs        int64
	DeletedDocs     int64
	SizeBytes       int64
	DelGen          uint64
	Compound        bool
	FromForcedMerge bool
}

// FromSegment converts a catalog record.
func FromSegment(s model.Segment) SegmentInfo {
	return SegmentInfo{
		ID:              s.ID,
		LiveDocs:        s.LiveDocs,
		DeletedDocs:     s.DeletedDocs,
		SizeBytes:       s.SizeBytes,
		DelGen:          s.DelGen,
		Compound:        s.Compound,
		FromForcedMerge: s.FromForcedMerge,
	}
}

// Segment converts back to a catalog record.
func (s SegmentInfo) Segment() model.Segment {
	return model.Segment{
		ID:              s.ID,
		LiveDocs:        s.LiveDocs,
		DeletedDocs:     s.DeletedDocs,
		SizeBytes:       s.SizeBytes,
		DelGen:          s.DelGen,
		Compound:        s.Compound,
		FromForcedMerge: s.FromForcedMerge,
	}
}

// SetSegments replaces the recorded segments.
func (m *Manifest) SetSegments(segments []model.Segment) {
	m.Segments = make([]SegmentInfo, len(segments))
	for i, s := range segments {
		m.Segments[i] = FromSegment(s)
	}
}

// CatalogSegments returns the recorded segments as catalog records.
func (m *Manifest) CatalogSegments() []model.Segment {
	out := make([]model.Segment, len(m.Segments))
	for i, s := range m.Segments {
		out[i] = s.Segment()
	}
	return out
}

func fileName(id uint64) string {
	return fmt.Sprintf("%s-%06d.bin", ManifestFileName, id)
}

func parseFileName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, ManifestFileName+"-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".bin")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	return id, err == nil
}

// Store manages the manifest file and atomic updates.
type Store struct {
	store blobstore.BlobStore
	mu    sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{store: store}
}

// Load loads the current manifest.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	return s.LoadVersion(ctx, 0)
}

// LoadVersion loads a specific version ID. 0 means latest.
func (s *Store) LoadVersion(ctx context.Context, versionID uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fileName(versionID)
	if versionID == 0 {
		content, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
		if err != nil {
			// blobstore.ErrNotFound is os.ErrNotExist; a fresh directory has no CURRENT.
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		name = strings.TrimSpace(string(content))
		if _, ok := parseFileName(name); !ok {
			return nil, fmt.Errorf("%w: CURRENT points to %q", ErrCorrupt, name)
		}
	}

	content, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open manifest %s: %w", name, err)
	}
	return ReadBinary(bytes.NewReader(content))
}

// ListVersions returns the IDs of all stored manifests, ascending.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.store.List(ctx, ManifestFileName)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, f := range files {
		if id, ok := parseFileName(f); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Save atomically saves a new manifest. It bumps m.ID and m.CreatedAt.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now()

	var buf bytes.Buffer
	if err := m.WriteBinary(&buf); err != nil {
		return err
	}

	name := fileName(m.ID)
	if err := s.store.Put(ctx, name, buf.Bytes()); err != nil {
		return err
	}

	// Local: atomic rename in Put. S3: strong consistency on overwrites.
	return s.store.Put(ctx, CurrentFileName, []byte(name))
}

// DeleteVersion deletes the manifest file for the given version.
func (s *Store) DeleteVersion(ctx context.Context, versionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.Delete(ctx, fileName(versionID))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil
	}
	return err
}

// Prune deletes all but the newest keep manifests.
func (s *Store) Prune(ctx context.Context, keep int) error {
	ids, err := s.ListVersions(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= keep {
		return nil
	}
	var errs []error
	for _, id := range ids[:len(ids)-keep] {
		if err := s.DeleteVersion(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
