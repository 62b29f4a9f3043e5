package segment

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/compound"
	"github.com/hupe1980/segmerge/internal/conv"
	ihash "github.com/hupe1980/segmerge/internal/hash"
	"github.com/hupe1980/segmerge/internal/resource"
	"github.com/hupe1980/segmerge/model"
)

const (
	dataMagic    = 0x44474d53 // "SGMD"
	indexMagic   = 0x58474d53 // "SGMX"
	fileVersion  = 1
	headerSize   = 8
	writeBufSize = 64 * 1024
)

// ErrWriterClosed is returned when a finished or aborted writer is used.
var ErrWriterClosed = errors.New("segment writer closed")

// Option configures a Writer or Reader.
type Option func(*options)

type options struct {
	rc    *resource.Controller
	codec compound.Codec
}

// WithResourceController throttles segment IO through rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// WithCodec sets the entry codec used when the segment is packed.
func WithCodec(c compound.Codec) Option {
	return func(o *options) { o.codec = c }
}

// Writer writes a new segment.
type Writer struct {
	ctx     context.Context
	store   blobstore.BlobStore
	id      model.SegmentID
	opts    options
	dat     blobstore.WritableBlob
	bw      *bufio.Writer
	pos     uint64
	offsets []uint64
	crc     hash.Hash32
	closed  bool
}

// NewWriter starts segment id in store.
func NewWriter(ctx context.Context, store blobstore.BlobStore, id model.SegmentID, opts ...Option) (*Writer, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	dat, err := store.Create(ctx, DataName(id))
	if err != nil {
		return nil, err
	}

	var out io.Writer = dat
	if o.rc != nil {
		out = resource.NewRateLimitedWriter(ctx, dat, o.rc)
	}

	w := &Writer{
		ctx:     ctx,
		store:   store,
		id:      id,
		opts:    o,
		dat:     dat,
		bw:      bufio.NewWriterSize(out, writeBufSize),
		offsets: []uint64{headerSize},
		pos:     headerSize,
		crc:     ihash.NewCRC32C(),
	}

	hdr := binary.LittleEndian.AppendUint32(nil, dataMagic)
	hdr = binary.LittleEndian.AppendUint32(hdr, fileVersion)
	if _, err := w.bw.Write(hdr); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// ID returns the segment being written.
func (w *Writer) ID() model.SegmentID { return w.id }

// MaxDoc returns the number of documents added so far.
func (w *Writer) MaxDoc() int64 { return int64(len(w.offsets) - 1) }

// Size estimates the loose on-disk size of the data files if the segment
// were finished now.
func (w *Writer) Size() int64 {
	return int64(w.pos) + int64(20+len(w.offsets)*8)
}

// Add appends one document. Its DocID is the previous MaxDoc.
func (w *Writer) Add(doc []byte) error {
	if w.closed {
		return ErrWriterClosed
	}
	if _, err := conv.IntToUint32(len(w.offsets)); err != nil {
		return fmt.Errorf("segment %d is full: %w", w.id, err)
	}
	if _, err := w.bw.Write(doc); err != nil {
		return err
	}
	_, _ = w.crc.Write(doc)
	w.pos += uint64(len(doc))
	w.offsets = append(w.offsets, w.pos)
	return nil
}

// Finish completes the segment. When packed is true the data files are moved
// into a compound container. The returned segment has no deletes.
func (w *Writer) Finish(packed bool) (model.Segment, error) {
	if w.closed {
		return model.Segment{}, ErrWriterClosed
	}

	seg, err := w.finish(packed)
	if err != nil {
		w.Abort()
		return model.Segment{}, err
	}
	w.closed = true
	return seg, nil
}

func (w *Writer) finish(packed bool) (model.Segment, error) {
	if err := w.bw.Flush(); err != nil {
		return model.Segment{}, err
	}
	if err := w.dat.Close(); err != nil {
		return model.Segment{}, err
	}

	idx := w.marshalIndex()
	if err := w.store.Put(w.ctx, IndexName(w.id), idx); err != nil {
		return model.Segment{}, err
	}

	info := Info{
		ID:        w.id,
		MaxDoc:    w.MaxDoc(),
		DataBytes: int64(w.pos) + int64(len(idx)),
	}
	if packed {
		size, err := compound.Pack(w.ctx, w.store, CompoundName(w.id), DataFiles(w.id, false),
			compound.WithCodec(w.opts.codec), compound.WithResourceController(w.opts.rc))
		if err != nil {
			return model.Segment{}, fmt.Errorf("pack segment %d: %w", w.id, err)
		}
		info.Compound = true
		info.Codec = w.opts.codec
		info.DataBytes = size
	}

	siBytes, err := WriteInfo(w.ctx, w.store, info)
	if err != nil {
		return model.Segment{}, err
	}

	return model.Segment{
		ID:        w.id,
		LiveDocs:  info.MaxDoc,
		SizeBytes: info.DataBytes + siBytes,
		Compound:  info.Compound,
	}, nil
}

// Format:
// Magic (4 bytes) | Version (4 bytes) | NumDocs (4 bytes)
// Offsets ((NumDocs+1) * 8 bytes), absolute positions in the .dat file
// DataCRC32C (4 bytes) - CRC32C of all records
// IndexCRC32C (4 bytes) - CRC32C of everything before it
func (w *Writer) marshalIndex() []byte {
	buf := make([]byte, 0, 12+len(w.offsets)*8+8)
	buf = binary.LittleEndian.AppendUint32(buf, indexMagic)
	buf = binary.LittleEndian.AppendUint32(buf, fileVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(w.MaxDoc()))
	for _, off := range w.offsets {
		buf = binary.LittleEndian.AppendUint64(buf, off)
	}
	buf = binary.LittleEndian.AppendUint32(buf, w.crc.Sum32())
	return ihash.AppendTrailer(buf)
}

// Abort discards everything written so far.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.dat.Abort() // Intentionally ignore: cleanup path
	ctx := context.WithoutCancel(w.ctx)
	for _, name := range []string{DataName(w.id), IndexName(w.id), CompoundName(w.id), InfoName(w.id)} {
		_ = w.store.Delete(ctx, name) // Intentionally ignore: best-effort cleanup
	}
}
