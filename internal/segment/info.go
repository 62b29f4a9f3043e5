package segment

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/compound"
	"github.com/hupe1980/segmerge/internal/encoding"
	"github.com/hupe1980/segmerge/model"
)

const (
	infoMagic   = 0x49474d53 // "SGMI"
	infoVersion = 1

	flagCompound = 1 << 0
)

// ErrCorrupt is returned when a segment file fails validation.
var ErrCorrupt = errors.New("corrupt segment")

// Info is the content of a segment's .si file.
type Info struct {
	ID       model.SegmentID
	MaxDoc   int64
	Compound bool
	Codec    compound.Codec
	// DataBytes is the size of the files listed by DataFiles.
	DataBytes int64
}

// Files returns the segment's data files plus its info file.
func (i Info) Files() []string {
	return append(DataFiles(i.ID, i.Compound), InfoName(i.ID))
}

// Format:
// Magic (4 bytes)
// Version (4 bytes)
// Checksum (4 bytes) - CRC32C of payload
// Payload:
//
//	ID (8 bytes)
//	MaxDoc (8 bytes)
//	Flags (1 byte)
//	Codec (1 byte)
//	DataBytes (8 bytes)
func (i Info) marshal() []byte {
	pb := encoding.NewBuffer(make([]byte, 0, 26))
	pb.WriteUint64(uint64(i.ID))
	pb.WriteUint64(uint64(i.MaxDoc))
	var flags uint8
	if i.Compound {
		flags |= flagCompound
	}
	pb.WriteUint8(flags)
	pb.WriteUint8(uint8(i.Codec))
	pb.WriteUint64(uint64(i.DataBytes))
	payload := pb.Bytes()

	return appendFrame(infoMagic, infoVersion, payload)
}

func unmarshalInfo(data []byte) (Info, error) {
	payload, err := openFrame("segment info", data, infoMagic, infoVersion)
	if err != nil {
		return Info{}, err
	}

	pb := encoding.NewBuffer(payload)
	info := Info{
		ID:     model.SegmentID(pb.ReadUint64()),
		MaxDoc: int64(pb.ReadUint64()),
	}
	flags := pb.ReadUint8()
	info.Compound = flags&flagCompound != 0
	info.Codec = compound.Codec(pb.ReadUint8())
	info.DataBytes = int64(pb.ReadUint64())
	if pb.Err() != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrCorrupt, pb.Err())
	}
	return info, nil
}

// WriteInfo writes the .si file and returns its size.
func WriteInfo(ctx context.Context, store blobstore.BlobStore, info Info) (int64, error) {
	data := info.marshal()
	if err := store.Put(ctx, InfoName(info.ID), data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// ReadInfo reads the .si file of segment id.
func ReadInfo(ctx context.Context, store blobstore.BlobStore, id model.SegmentID) (Info, error) {
	data, err := blobstore.ReadAll(ctx, store, InfoName(id))
	if err != nil {
		return Info{}, err
	}
	info, err := unmarshalInfo(data)
	if err != nil {
		return Info{}, fmt.Errorf("segment %d: %w", id, err)
	}
	if info.ID != id {
		return Info{}, fmt.Errorf("%w: info of segment %d names segment %d", ErrCorrupt, id, info.ID)
	}
	return info, nil
}
