package segment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/segmerge/model"
)

const (
	extData     = ".dat"
	extIndex    = ".idx"
	extInfo     = ".si"
	extCompound = ".cfs"
	extLiveDocs = ".liv"
)

// DataName returns the name of the records file.
func DataName(id model.SegmentID) string { return fmt.Sprintf("_%d%s", id, extData) }

// IndexName returns the name of the offsets file.
func IndexName(id model.SegmentID) string { return fmt.Sprintf("_%d%s", id, extIndex) }

// InfoName returns the name of the segment info file.
func InfoName(id model.SegmentID) string { return fmt.Sprintf("_%d%s", id, extInfo) }

// CompoundName returns the name of the compound container.
func CompoundName(id model.SegmentID) string { return fmt.Sprintf("_%d%s", id, extCompound) }

// LiveDocsName returns the name of the deletes file for generation gen.
func LiveDocsName(id model.SegmentID, gen uint64) string {
	return fmt.Sprintf("_%d_%d%s", id, gen, extLiveDocs)
}

// DataFiles returns the files holding the segment's records.
func DataFiles(id model.SegmentID, compound bool) []string {
	if compound {
		return []string{CompoundName(id)}
	}
	return []string{DataName(id), IndexName(id)}
}

// ParseName extracts the segment ID from any segment file name.
func ParseName(name string) (model.SegmentID, bool) {
	if !strings.HasPrefix(name, "_") {
		return 0, false
	}
	rest := name[1:]
	end := strings.IndexAny(rest, "._")
	if end <= 0 {
		return 0, false
	}
	dot := strings.LastIndexByte(rest, '.')
	if dot < 0 {
		return 0, false
	}
	switch rest[dot:] {
	case extData, extIndex, extInfo, extCompound, extLiveDocs:
	default:
		return 0, false
	}
	id, err := strconv.ParseUint(rest[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return model.SegmentID(id), true
}
