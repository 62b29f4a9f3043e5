package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/segmerge/internal/hash"
)

// frameHeaderSize is the prefix of .si and .liv files: magic, version and
// the CRC32C of the payload that follows.
const frameHeaderSize = 12

func appendFrame(magic, version uint32, payload []byte) []byte {
	out := make([]byte, 0, frameHeaderSize+len(payload))
	out = binary.LittleEndian.AppendUint32(out, magic)
	out = binary.LittleEndian.AppendUint32(out, version)
	out = binary.LittleEndian.AppendUint32(out, hash.CRC32C(payload))
	return append(out, payload...)
}

func openFrame(name string, data []byte, magic, version uint32) ([]byte, error) {
	if len(data) < frameHeaderSize || binary.LittleEndian.Uint32(data) != magic {
		return nil, fmt.Errorf("%w: %s: bad header", ErrCorrupt, name)
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != version {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, name, v)
	}
	payload := data[frameHeaderSize:]
	if hash.CRC32C(payload) != binary.LittleEndian.Uint32(data[8:]) {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrCorrupt, name)
	}
	return payload, nil
}
