package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNegativeOffset is returned by ReadAt for offsets below zero.
var ErrNegativeOffset = errors.New("mmap: negative offset")

// AccessPattern tells the kernel how a mapping will be read.
type AccessPattern int

const (
	// AccessDefault leaves read-ahead to the kernel.
	AccessDefault AccessPattern = iota
	// AccessSequential suits record data that merges stream front to back.
	AccessSequential
	// AccessRandom suits lookups of single records.
	AccessRandom
	// AccessWillNeed prefetches small files read in full, such as offset
	// indexes and segment info.
	AccessWillNeed
)

// Mapping is a read-only memory-mapped file.
type Mapping struct {
	data []byte
	f    *os.File
}

// Map maps the file at path read-only and applies the access hint. A failed
// hint does not fail the mapping.
func Map(path string, p AccessPattern) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &Mapping{f: f}, nil
	}
	if int64(int(size)) != size {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: %s: size %d exceeds address space", path, size)
	}

	data, err := mmap(f, int(size))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: %s: %w", path, err)
	}
	m := &Mapping{data: data, f: f}
	if p != AccessDefault {
		_ = madvise(data, p) // Intentionally ignore: hint only
	}
	return m, nil
}

// Bytes returns the mapped bytes. The slice is invalid after Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Size returns the mapped length.
func (m *Mapping) Size() int64 {
	return int64(len(m.data))
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if off >= int64(len(m.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file. Closing twice is a no-op.
func (m *Mapping) Close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.data != nil {
		err = munmap(m.data)
		m.data = nil
	}
	if m.f != nil {
		if cerr := m.f.Close(); err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}
