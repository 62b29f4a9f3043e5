package compound

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/encoding"
	"github.com/hupe1980/segmerge/internal/hash"
	"github.com/hupe1980/segmerge/internal/resource"
)

// Container layout:
//
//	Header: Magic (4 bytes) | Version (4 bytes)
//	Entry bodies, back to back
//	Table:  NumEntries (4 bytes) then per entry
//	          Name (string) | Offset (8) | Length (8) | RawLength (8) | Codec (1) | CRC32C (4)
//	        TableCRC32C (4 bytes)
//	Footer: TableOffset (8 bytes) | TableLength (4 bytes) | Magic (4 bytes)
const (
	magic      = 0x434d4753 // "SGMC"
	version    = 1
	headerSize = 8
	footerSize = 16
	copyChunk  = 64 * 1024
)

// ErrCorrupt is returned when a container fails validation.
var ErrCorrupt = errors.New("corrupt compound container")

// Entry describes one file packed in a container.
type Entry struct {
	Name      string
	Offset    int64
	Length    int64 // stored bytes
	RawLength int64 // original file size
	Codec     Codec
	CRC       uint32 // CRC32C of the original bytes
}

// PackOption configures Pack.
type PackOption func(*packOptions)

type packOptions struct {
	codec Codec
	rc    *resource.Controller
	keep  bool
}

// WithCodec compresses entry bodies with c.
func WithCodec(c Codec) PackOption {
	return func(o *packOptions) { o.codec = c }
}

// WithResourceController throttles container writes through rc.
func WithResourceController(rc *resource.Controller) PackOption {
	return func(o *packOptions) { o.rc = rc }
}

// KeepSources leaves the loose input files in place after packing.
func KeepSources() PackOption {
	return func(o *packOptions) { o.keep = true }
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Pack writes the named files of store into a single container called name
// and then deletes the loose files. It returns the container size.
// On error the partial container is discarded and the inputs are untouched.
func Pack(ctx context.Context, store blobstore.BlobStore, name string, files []string, opts ...PackOption) (int64, error) {
	o := packOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.codec.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCodec, o.codec)
	}

	wb, err := store.Create(ctx, name)
	if err != nil {
		return 0, err
	}

	size, err := writeContainer(ctx, store, wb, files, o)
	if err != nil {
		_ = wb.Abort() // Intentionally ignore: partial output is discarded
		return 0, err
	}
	if err := wb.Close(); err != nil {
		_ = store.Delete(ctx, name)
		return 0, err
	}

	if !o.keep {
		for _, f := range files {
			if err := store.Delete(ctx, f); err != nil {
				return size, fmt.Errorf("remove packed file %s: %w", f, err)
			}
		}
	}
	return size, nil
}

func writeContainer(ctx context.Context, store blobstore.BlobStore, wb blobstore.WritableBlob, files []string, o packOptions) (int64, error) {
	var out io.Writer = wb
	if o.rc != nil {
		out = resource.NewRateLimitedWriter(ctx, wb, o.rc)
	}
	cw := &countingWriter{w: out}

	hdr := binary.LittleEndian.AppendUint32(nil, magic)
	hdr = binary.LittleEndian.AppendUint32(hdr, version)
	if _, err := cw.Write(hdr); err != nil {
		return 0, err
	}

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		e, err := writeEntry(ctx, store, cw, f, o.codec)
		if err != nil {
			return 0, fmt.Errorf("pack %s: %w", f, err)
		}
		entries = append(entries, e)
	}

	table := encodeTable(entries)
	if table.Err() != nil {
		return 0, table.Err()
	}
	tableOffset := cw.n
	if _, err := cw.Write(table.Bytes()); err != nil {
		return 0, err
	}

	footer := binary.LittleEndian.AppendUint64(nil, uint64(tableOffset))
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(table.Bytes())))
	footer = binary.LittleEndian.AppendUint32(footer, magic)
	if _, err := cw.Write(footer); err != nil {
		return 0, err
	}
	return cw.n, nil
}

func writeEntry(ctx context.Context, store blobstore.BlobStore, cw *countingWriter, file string, codec Codec) (Entry, error) {
	src, err := store.Open(ctx, file)
	if err != nil {
		return Entry{}, err
	}
	defer src.Close()

	e := Entry{Name: file, Offset: cw.n, RawLength: src.Size(), Codec: codec}
	crc := hash.NewCRC32C()

	var dst io.Writer = cw
	var bw *blockWriter
	if codec != CodecNone {
		bw = newBlockWriter(cw, codec)
		dst = bw
	}

	buf := make([]byte, copyChunk)
	r := io.NewSectionReader(src, 0, src.Size())
	for {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			_, _ = crc.Write(buf[:n])
			if _, err := dst.Write(buf[:n]); err != nil {
				return Entry{}, err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Entry{}, rerr
		}
	}
	if bw != nil {
		if err := bw.Close(); err != nil {
			return Entry{}, err
		}
	}

	e.Length = cw.n - e.Offset
	e.CRC = crc.Sum32()
	return e, nil
}

func encodeTable(entries []Entry) *encoding.Buffer {
	pb := encoding.NewBuffer(make([]byte, 0, 4+len(entries)*48))
	pb.WriteUint32(uint32(len(entries)))
	for _, e := range entries {
		pb.WriteString(e.Name)
		pb.WriteUint64(uint64(e.Offset))
		pb.WriteUint64(uint64(e.Length))
		pb.WriteUint64(uint64(e.RawLength))
		pb.WriteUint8(uint8(e.Codec))
		pb.WriteUint32(e.CRC)
	}
	if pb.Err() != nil {
		return pb
	}
	return encoding.NewBuffer(hash.AppendTrailer(pb.Bytes()))
}

func decodeTable(data []byte) ([]Entry, error) {
	body, ok := hash.CheckTrailer(data)
	if !ok || len(body) < 4 {
		return nil, fmt.Errorf("%w: table checksum mismatch", ErrCorrupt)
	}

	pb := encoding.NewBuffer(body)
	n := pb.ReadUint32()
	if pb.Err() == nil && int(n) > pb.Remaining() {
		return nil, fmt.Errorf("%w: entry count %d", ErrCorrupt, n)
	}
	entries := make([]Entry, 0, n)
	for i := 0; i < int(n) && pb.Err() == nil; i++ {
		entries = append(entries, Entry{
			Name:      pb.ReadString(),
			Offset:    int64(pb.ReadUint64()),
			Length:    int64(pb.ReadUint64()),
			RawLength: int64(pb.ReadUint64()),
			Codec:     Codec(pb.ReadUint8()),
			CRC:       pb.ReadUint32(),
		})
	}
	if pb.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, pb.Err())
	}
	return entries, nil
}

// Reader reads files out of a container.
type Reader struct {
	blob    blobstore.Blob
	entries map[string]Entry
}

// Open opens the container called name.
func Open(ctx context.Context, store blobstore.BlobStore, name string) (*Reader, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	r, err := newReader(blob)
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return r, nil
}

func newReader(blob blobstore.Blob) (*Reader, error) {
	size := blob.Size()
	if size < headerSize+footerSize {
		return nil, fmt.Errorf("%w: too small (%d bytes)", ErrCorrupt, size)
	}

	hdr := make([]byte, headerSize)
	if _, err := blob.ReadAt(hdr, 0); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(hdr) != magic {
		return nil, fmt.Errorf("%w: bad header magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	footer := make([]byte, footerSize)
	if _, err := blob.ReadAt(footer, size-footerSize); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(footer[12:]) != magic {
		return nil, fmt.Errorf("%w: bad footer magic", ErrCorrupt)
	}
	tableOffset := int64(binary.LittleEndian.Uint64(footer))
	tableLen := int64(binary.LittleEndian.Uint32(footer[8:]))
	if tableOffset < headerSize || tableOffset+tableLen != size-footerSize {
		return nil, fmt.Errorf("%w: bad table bounds", ErrCorrupt)
	}

	table := make([]byte, tableLen)
	if _, err := blob.ReadAt(table, tableOffset); err != nil {
		return nil, err
	}
	entries, err := decodeTable(table)
	if err != nil {
		return nil, err
	}

	r := &Reader{blob: blob, entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Offset < headerSize || e.Offset+e.Length > tableOffset || !e.Codec.Valid() {
			return nil, fmt.Errorf("%w: bad entry %s", ErrCorrupt, e.Name)
		}
		r.entries[e.Name] = e
	}
	return r, nil
}

// Names returns the packed file names, sorted.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Entry returns the table entry for name.
func (r *Reader) Entry(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// ReadFile returns the verified contents of a packed file.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, blobstore.ErrNotFound)
	}

	stored := make([]byte, e.Length)
	if _, err := r.blob.ReadAt(stored, e.Offset); err != nil && !(errors.Is(err, io.EOF) && e.Length == 0) {
		return nil, err
	}

	data := stored
	if e.Codec != CodecNone {
		var err error
		data, err = decodeBlocks(stored, e.Codec, e.RawLength)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
		}
	}
	if hash.CRC32C(data) != e.CRC {
		return nil, fmt.Errorf("%w: %s checksum mismatch", ErrCorrupt, name)
	}
	return data, nil
}

// OpenFile returns a packed file as a blob. Uncompressed entries are read in
// place; compressed entries are decoded into memory and verified.
func (r *Reader) OpenFile(name string) (blobstore.Blob, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, blobstore.ErrNotFound)
	}
	if e.Codec == CodecNone {
		return &sectionBlob{SectionReader: io.NewSectionReader(r.blob, e.Offset, e.Length)}, nil
	}
	data, err := r.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return &bytesBlob{Reader: bytes.NewReader(data)}, nil
}

// Close closes the underlying blob.
func (r *Reader) Close() error {
	return r.blob.Close()
}

type sectionBlob struct {
	*io.SectionReader
}

func (b *sectionBlob) Close() error { return nil }

type bytesBlob struct {
	*bytes.Reader
}

func (b *bytesBlob) Close() error { return nil }
