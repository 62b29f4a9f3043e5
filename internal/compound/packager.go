package compound

// Packager decides whether a segment is packed into a compound container.
type Packager struct {
	// NoCFSRatio is the largest share of the projected index a segment may
	// have and still be packed. 0 never packs, 1 always packs.
	NoCFSRatio float64
	// MaxCompoundBytes caps the size of packed segments. 0 means unlimited.
	MaxCompoundBytes int64
}

// Decide reports whether a segment of candidateBytes is packed, given the
// projected total size of the index after pending merges complete.
func (p Packager) Decide(candidateBytes, projectedTotalBytes int64) bool {
	if p.NoCFSRatio <= 0 {
		return false
	}
	if p.MaxCompoundBytes > 0 && candidateBytes > p.MaxCompoundBytes {
		return false
	}
	if p.NoCFSRatio >= 1 {
		return true
	}
	if projectedTotalBytes <= 0 {
		return true
	}
	ratio := float64(candidateBytes) / float64(projectedTotalBytes)
	return ratio <= p.NoCFSRatio
}
