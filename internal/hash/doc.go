// Package hash provides the checksums guarding segmerge files.
//
// Segment index and data files, live-docs files, compound containers and
// manifests all carry a CRC32-Castagnoli checksum. Go's crc32 package uses
// the SSE4.2 and ARM CRC instructions when available.
//
// Small files seal their bytes with a trailer:
//
//	buf = hash.AppendTrailer(buf)
//	...
//	body, ok := hash.CheckTrailer(buf)
//
// Segment data is checksummed while it streams to the store:
//
//	h := hash.NewCRC32C()
//	h.Write(record)
//	sum := h.Sum32()
package hash
