package hash

import (
	"encoding/binary"
	"hash"
	"hash/crc32"
)

// TrailerSize is the length of the checksum written by AppendTrailer.
const TrailerSize = 4

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// NewCRC32C returns a streaming CRC32-Castagnoli hash.
func NewCRC32C() hash.Hash32 {
	return crc32.New(castagnoli)
}

// AppendTrailer appends the little-endian CRC32C of buf to buf.
func AppendTrailer(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, CRC32C(buf))
}

// CheckTrailer verifies a buffer produced by AppendTrailer and returns the
// bytes the trailer guards. ok is false if data is too short or the checksum
// does not match.
func CheckTrailer(data []byte) (body []byte, ok bool) {
	if len(data) < TrailerSize {
		return nil, false
	}
	body = data[:len(data)-TrailerSize]
	return body, CRC32C(body) == binary.LittleEndian.Uint32(data[len(body):])
}
