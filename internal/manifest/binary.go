package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/segmerge/internal/conv"
	"github.com/hupe1980/segmerge/internal/encoding"
	"github.com/hupe1980/segmerge/internal/hash"
	"github.com/hupe1980/segmerge/model"
)

const (
	binaryMagic   = 0x464d4753 // "SGMF"
	binaryVersion = 1
	headerSize    = 16

	flagCompound        = 1 << 0
	flagFromForcedMerge = 1 << 1
)

// WriteBinary writes the manifest in binary format.
func (m *Manifest) WriteBinary(w io.Writer) error {
	pb := encoding.NewBuffer(make([]byte, 0, 32+len(m.Segments)*24))

	pb.WriteUint64(m.ID)
	pb.WriteUint64(uint64(m.CreatedAt.UnixNano()))
	pb.WriteUint64(uint64(m.NextSegmentID))
	pb.WriteUvarint(uint64(len(m.Segments)))

	for _, s := range m.Segments {
		pb.WriteUvarint(uint64(s.ID))
		pb.WriteUvarint(uint64(s.LiveDocs))
		pb.WriteUvarint(uint64(s.DeletedDocs))
		pb.WriteUvarint(uint64(s.SizeBytes))
		pb.WriteUvarint(s.DelGen)
		var flags uint8
		if s.Compound {
			flags |= flagCompound
		}
		if s.FromForcedMerge {
			flags |= flagFromForcedMerge
		}
		pb.WriteUint8(flags)
	}

	if err := pb.Err(); err != nil {
		return err
	}

	payload := pb.Bytes()
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadBinary reads a manifest written by WriteBinary.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != binaryVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrCorrupt, err)
	}
	if hash.CRC32C(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	pb := encoding.NewBuffer(payload)
	m := &Manifest{Version: int(version)}

	m.ID = pb.ReadUint64()
	m.CreatedAt = time.Unix(0, int64(pb.ReadUint64()))
	m.NextSegmentID = model.SegmentID(pb.ReadUint64())

	n, err := conv.Uint64ToInt(pb.ReadUvarint())
	if err != nil || n > pb.Remaining() {
		return nil, fmt.Errorf("%w: segment count exceeds payload", ErrCorrupt)
	}
	m.Segments = make([]SegmentInfo, n)
	for i := range m.Segments {
		s := &m.Segments[i]
		s.ID = model.SegmentID(pb.ReadUvarint())
		for _, dst := range [...]*int64{&s.LiveDocs, &s.DeletedDocs, &s.SizeBytes} {
			v, err := conv.Uint64ToInt64(pb.ReadUvarint())
			if err != nil {
				return nil, fmt.Errorf("%w: segment %d: %v", ErrCorrupt, s.ID, err)
			}
			*dst = v
		}
		s.DelGen = pb.ReadUvarint()
		flags := pb.ReadUint8()
		s.Compound = flags&flagCompound != 0
		s.FromForcedMerge = flags&flagFromForcedMerge != 0
	}

	if err := pb.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return m, nil
}
