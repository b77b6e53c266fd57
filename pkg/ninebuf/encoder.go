package ninebuf

import (
	"encoding/binary"
)

// Buffer is a growable byte buffer used for 9P binary encoding.
// All multi-byte integers are written in little-endian byte order.
type Buffer struct {
	data []byte
}

// NewBuffer returns a Buffer pre-allocated with the given capacity.
func NewBuffer(cap int) *Buffer {
	return &Buffer{data: make([]byte, 0, cap)}
}

// Bytes returns the accumulated encoded bytes.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset clears the buffer for reuse.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// grow ensures room for n additional bytes, returning the write offset.
func (b *Buffer) grow(n int) int {
	off := len(b.data)
	need := off + n
	if need <= cap(b.data) {
		b.data = b.data[:need]
		return off
	}
	newCap := cap(b.data) * 2
	if newCap < need {
		newCap = need
	}
	tmp := make([]byte, need, newCap)
	copy(tmp, b.data)
	b.data = tmp
	return off
}

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) {
	off := b.grow(1)
	b.data[off] = v
}

// WriteUint16 appends a 16-bit unsigned integer in little-endian order.
func (b *Buffer) WriteUint16(v uint16) {
	off := b.grow(2)
	binary.LittleEndian.PutUint16(b.data[off:], v)
}

// WriteUint32 appends a 32-bit unsigned integer in little-endian order.
func (b *Buffer) WriteUint32(v uint32) {
	off := b.grow(4)
	binary.LittleEndian.PutUint32(b.data[off:], v)
}

// WriteUint64 appends a 64-bit unsigned integer in little-endian order.
func (b *Buffer) WriteUint64(v uint64) {
	off := b.grow(8)
	binary.LittleEndian.PutUint64(b.data[off:], v)
}

// WriteString appends a 9P string: uint16 length prefix followed by the
// UTF-8 bytes. Strings longer than 65535 bytes are truncated to fit the
// prefix; callers validate name lengths before encoding.
func (b *Buffer) WriteString(s string) {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	b.WriteUint16(uint16(len(s)))
	off := b.grow(len(s))
	copy(b.data[off:], s)
}

// WriteData appends a 9P data blob: uint32 count prefix followed by the
// bytes. Used by the Rread and Twrite payloads.
func (b *Buffer) WriteData(p []byte) {
	b.WriteUint32(uint32(len(p)))
	off := b.grow(len(p))
	copy(b.data[off:], p)
}

// WriteBytes appends raw bytes with no length prefix.
func (b *Buffer) WriteBytes(p []byte) {
	off := b.grow(len(p))
	copy(b.data[off:], p)
}
