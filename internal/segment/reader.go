package segment

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/compound"
	ihash "github.com/hupe1980/segmerge/internal/hash"
	"github.com/hupe1980/segmerge/internal/resource"
	"github.com/hupe1980/segmerge/model"
)

// Reader reads the records of a finished segment.
type Reader struct {
	info    Info
	rc      *resource.Controller
	dat     blobstore.Blob
	cfs     *compound.Reader
	offsets []uint64
	dataCRC uint32
}

// Open opens segment id, loose or packed, as recorded in its .si file.
func Open(ctx context.Context, store blobstore.BlobStore, id model.SegmentID, opts ...Option) (*Reader, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	info, err := ReadInfo(ctx, store, id)
	if err != nil {
		return nil, err
	}

	r := &Reader{info: info, rc: o.rc}

	var idx []byte
	if info.Compound {
		r.cfs, err = compound.Open(ctx, store, CompoundName(id))
		if err != nil {
			return nil, err
		}
		if idx, err = r.cfs.ReadFile(IndexName(id)); err == nil {
			r.dat, err = r.cfs.OpenFile(DataName(id))
		}
	} else {
		if idx, err = blobstore.ReadAll(ctx, store, IndexName(id)); err == nil {
			r.dat, err = store.Open(ctx, DataName(id))
		}
	}
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	if err := r.parseIndex(idx); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("segment %d: %w", id, err)
	}
	return r, nil
}

func (r *Reader) parseIndex(idx []byte) error {
	if len(idx) < 20 {
		return fmt.Errorf("%w: index too small", ErrCorrupt)
	}
	body, ok := ihash.CheckTrailer(idx)
	if !ok {
		return fmt.Errorf("%w: index checksum mismatch", ErrCorrupt)
	}
	if binary.LittleEndian.Uint32(idx) != indexMagic {
		return fmt.Errorf("%w: bad index magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(idx[4:]); v != fileVersion {
		return fmt.Errorf("%w: unsupported index version %d", ErrCorrupt, v)
	}
	n := int(binary.LittleEndian.Uint32(idx[8:]))
	if int64(n) != r.info.MaxDoc || len(body) != 12+(n+1)*8+4 {
		return fmt.Errorf("%w: index holds %d docs, info says %d", ErrCorrupt, n, r.info.MaxDoc)
	}

	r.offsets = make([]uint64, n+1)
	for i := range r.offsets {
		r.offsets[i] = binary.LittleEndian.Uint64(idx[12+i*8:])
		if i > 0 && r.offsets[i] < r.offsets[i-1] {
			return fmt.Errorf("%w: offsets not ascending", ErrCorrupt)
		}
	}
	if r.offsets[n] != uint64(r.dat.Size()) {
		return fmt.Errorf("%w: data size %d, index says %d", ErrCorrupt, r.dat.Size(), r.offsets[n])
	}
	r.dataCRC = binary.LittleEndian.Uint32(body[len(body)-4:])
	return nil
}

// Info returns the segment info.
func (r *Reader) Info() Info { return r.info }

// MaxDoc returns the number of records, deleted or not.
func (r *Reader) MaxDoc() int64 { return r.info.MaxDoc }

// Doc returns the record with the given DocID.
func (r *Reader) Doc(doc model.DocID) ([]byte, error) {
	if int64(doc) >= r.info.MaxDoc {
		return nil, fmt.Errorf("doc %d out of range [0,%d)", doc, r.info.MaxDoc)
	}
	start, end := r.offsets[doc], r.offsets[doc+1]
	buf := make([]byte, end-start)
	if len(buf) == 0 {
		return buf, nil
	}
	if _, err := r.dat.ReadAt(buf, int64(start)); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// Iterate streams every record in DocID order and verifies the data checksum
// once the last record was read. data is only valid during the callback.
func (r *Reader) Iterate(ctx context.Context, fn func(doc model.DocID, data []byte) error) error {
	var src io.Reader = io.NewSectionReader(r.dat, headerSize, r.dat.Size()-headerSize)
	if r.rc != nil {
		src = resource.NewRateLimitedReader(ctx, src, r.rc)
	}
	br := bufio.NewReaderSize(src, writeBufSize)
	crc := ihash.NewCRC32C()

	var buf []byte
	for i := int64(0); i < r.info.MaxDoc; i++ {
		n := int(r.offsets[i+1] - r.offsets[i])
		if cap(buf) < n {
			buf = make([]byte, n)
		}
		buf = buf[:n]
		if _, err := io.ReadFull(br, buf); err != nil {
			return fmt.Errorf("segment %d doc %d: %w", r.info.ID, i, err)
		}
		_, _ = crc.Write(buf)
		if err := fn(model.DocID(i), buf); err != nil {
			return err
		}
	}
	if crc.Sum32() != r.dataCRC {
		return fmt.Errorf("%w: segment %d data checksum mismatch", ErrCorrupt, r.info.ID)
	}
	return nil
}

// Close releases the segment files.
func (r *Reader) Close() error {
	var err error
	if r.dat != nil {
		err = r.dat.Close()
	}
	if r.cfs != nil {
		if cerr := r.cfs.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
