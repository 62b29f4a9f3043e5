package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrailerRoundTrip(t *testing.T) {
	data := AppendTrailer([]byte("MANIFEST-000007"))
	assert.Len(t, data, 15+TrailerSize)

	body, ok := CheckTrailer(data)
	assert.True(t, ok)
	assert.Equal(t, "MANIFEST-000007", string(body))

	data[3] ^= 0xff
	_, ok = CheckTrailer(data)
	assert.False(t, ok)

	_, ok = CheckTrailer([]byte{1, 2})
	assert.False(t, ok)
}

func TestStreamingMatchesOneShot(t *testing.T) {
	h := NewCRC32C()
	_, _ = h.Write([]byte("seg"))
	_, _ = h.Write([]byte("ment"))
	assert.Equal(t, CRC32C([]byte("segment")), h.Sum32())
}
