// Package encoding provides the little-endian payload buffer shared by the
// on-disk formats (manifest, segment info, live docs, compound tables).
//
// Writes append to the buffer; reads advance a cursor. The first error is
// sticky: every later call is a no-op, so callers check Err once at the end.
package encoding

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxStringLen is the longest string WriteString accepts.
const MaxStringLen = 65535

// Buffer is a sticky-error payload encoder/decoder.
type Buffer struct {
	buf []byte
	pos int
	err error
}

// NewBuffer wraps b. For writing pass b[:0] with spare capacity; for reading
// pass the full payload.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the encoded payload.
func (p *Buffer) Bytes() []byte { return p.buf }

// Err returns the first error encountered.
func (p *Buffer) Err() error { return p.err }

// Remaining returns the number of unread bytes.
func (p *Buffer) Remaining() int { return len(p.buf) - p.pos }

func (p *Buffer) WriteUint8(v uint8) {
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, v)
}

func (p *Buffer) WriteUint16(v uint16) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, v)
}

func (p *Buffer) WriteUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *Buffer) WriteUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *Buffer) WriteUvarint(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.AppendUvarint(p.buf, v)
}

func (p *Buffer) WriteString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > MaxStringLen {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

// WriteBytes writes a uvarint length prefix followed by b.
func (p *Buffer) WriteBytes(b []byte) {
	p.WriteUvarint(uint64(len(b)))
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, b...)
}

func (p *Buffer) need(n int) bool {
	if p.err != nil {
		return false
	}
	if n < 0 || p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (p *Buffer) ReadUint8() uint8 {
	if !p.need(1) {
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
	return v
}

func (p *Buffer) ReadUint16() uint16 {
	if !p.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(p.buf[p.pos:])
	p.pos += 2
	return v
}

func (p *Buffer) ReadUint32() uint32 {
	if !p.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *Buffer) ReadUint64() uint64 {
	if !p.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *Buffer) ReadUvarint() uint64 {
	if p.err != nil {
		return 0
	}
	v, n := binary.Uvarint(p.buf[p.pos:])
	if n <= 0 {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	p.pos += n
	return v
}

func (p *Buffer) ReadString() string {
	l := int(p.ReadUint16())
	if !p.need(l) {
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}

// ReadBytes reads a uvarint-prefixed byte slice. The result aliases the buffer.
func (p *Buffer) ReadBytes() []byte {
	l := p.ReadUvarint()
	if p.err != nil {
		return nil
	}
	if l > uint64(p.Remaining()) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+int(l)]
	p.pos += int(l)
	return b
}
