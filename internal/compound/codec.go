package compound

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects how entry bodies are stored inside a container.
type Codec uint8

const (
	// CodecNone stores entries verbatim; they can be read in place.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast).
	CodecLZ4 Codec = 1
	// CodecZSTD uses ZSTD block compression (better ratio).
	CodecZSTD Codec = 2
)

// ErrUnknownCodec is returned for an unrecognized codec name or tag.
var ErrUnknownCodec = errors.New("unknown compound codec")

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// Valid reports whether c is a known codec.
func (c Codec) Valid() bool {
	return c <= CodecZSTD
}

// ParseCodec parses "none", "lz4" or "zstd" (case-insensitive, "" means none).
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZSTD, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

const (
	blockSize       = 64 * 1024
	blockHeaderSize = 8
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compressBlock frames one block as [raw uint32][compressed uint32][data].
// A compressed size of 0 marks a block stored raw because compression did not
// save at least 10%.
func compressBlock(dst, data []byte, codec Codec) ([]byte, error) {
	var compressed []byte
	switch codec {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CodecZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(data)))
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		dst = binary.LittleEndian.AppendUint32(dst, 0)
		return append(dst, data...), nil
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(compressed)))
	return append(dst, compressed...), nil
}

// decodeBlocks decodes a sequence of framed blocks.
func decodeBlocks(data []byte, codec Codec, rawLen int64) ([]byte, error) {
	out := make([]byte, 0, rawLen)
	for off := 0; off < len(data); {
		if off+blockHeaderSize > len(data) {
			return nil, errors.New("block too small for header")
		}
		raw := int(binary.LittleEndian.Uint32(data[off:]))
		comp := int(binary.LittleEndian.Uint32(data[off+4:]))
		off += blockHeaderSize

		if comp == 0 {
			if off+raw > len(data) {
				return nil, errors.New("block extends beyond data")
			}
			out = append(out, data[off:off+raw]...)
			off += raw
			continue
		}

		if off+comp > len(data) {
			return nil, errors.New("compressed block extends beyond data")
		}
		src := data[off : off+comp]
		off += comp

		switch codec {
		case CodecLZ4:
			start := len(out)
			out = append(out, make([]byte, raw)...)
			n, err := lz4.UncompressBlock(src, out[start:])
			if err != nil {
				return nil, err
			}
			if n != raw {
				return nil, errors.New("decompressed size mismatch")
			}
		case CodecZSTD:
			dec := getZstdDecoder()
			decoded, err := dec.DecodeAll(src, nil)
			zstdDecoderPool.Put(dec)
			if err != nil {
				return nil, err
			}
			if len(decoded) != raw {
				return nil, errors.New("decompressed size mismatch")
			}
			out = append(out, decoded...)
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
		}
	}
	if int64(len(out)) != rawLen {
		return nil, fmt.Errorf("decoded %d bytes, want %d", len(out), rawLen)
	}
	return out, nil
}

// blockWriter buffers writes into fixed-size blocks and compresses each.
type blockWriter struct {
	w      io.Writer
	codec  Codec
	buf    *bytes.Buffer
	frame  []byte
	stored int64
}

func newBlockWriter(w io.Writer, codec Codec) *blockWriter {
	return &blockWriter{
		w:     w,
		codec: codec,
		buf:   bytes.NewBuffer(make([]byte, 0, blockSize)),
	}
}

func (c *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		space := blockSize - c.buf.Len()
		if space == 0 {
			if err := c.flushBlock(); err != nil {
				return total, err
			}
			space = blockSize
		}
		n, _ := c.buf.Write(p[:min(len(p), space)])
		total += n
		p = p[n:]
	}
	return total, nil
}

func (c *blockWriter) flushBlock() error {
	if c.buf.Len() == 0 {
		return nil
	}
	frame, err := compressBlock(c.frame[:0], c.buf.Bytes(), c.codec)
	if err != nil {
		return err
	}
	c.frame = frame
	n, err := c.w.Write(frame)
	c.stored += int64(n)
	if err != nil {
		return err
	}
	c.buf.Reset()
	return nil
}

// Close flushes the trailing partial block.
func (c *blockWriter) Close() error {
	return c.flushBlock()
}
