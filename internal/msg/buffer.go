// Package msg implements the message buffers and the field codec used by the
// demo recorder. All multi-byte values are little endian.
package msg

import (
	"encoding/binary"
)

// Buffer is a bounded write buffer. A write that does not fit marks the
// buffer overflowed and is discarded together with the pending contents;
// further writes are ignored until Clear.
type Buffer struct {
	data       []byte
	maxSize    int
	overflowed bool
}

// NewBuffer creates a buffer holding at most maxSize bytes.
func NewBuffer(maxSize int) *Buffer {
	return &Buffer{
		data:    make([]byte, 0, maxSize),
		maxSize: maxSize,
	}
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the maximum size of the buffer.
func (b *Buffer) Cap() int { return b.maxSize }

// Bytes returns the buffer contents. The slice is only valid until the next
// write or Clear.
func (b *Buffer) Bytes() []byte { return b.data }

// Overflowed reports whether a write was dropped since the last Clear.
func (b *Buffer) Overflowed() bool { return b.overflowed }

// Clear empties the buffer and resets the overflow flag.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.overflowed = false
}

func (b *Buffer) grow(n int) []byte {
	if b.overflowed {
		return nil
	}
	if len(b.data)+n > b.maxSize {
		b.data = b.data[:0]
		b.overflowed = true
		return nil
	}
	start := len(b.data)
	b.data = append(b.data, make([]byte, n)...)
	return b.data[start:]
}

func (b *Buffer) WriteUint8(v uint8) {
	if p := b.grow(1); p != nil {
		p[0] = v
	}
}

func (b *Buffer) WriteInt8(v int8) { b.WriteUint8(uint8(v)) }

func (b *Buffer) WriteUint16(v uint16) {
	if p := b.grow(2); p != nil {
		binary.LittleEndian.PutUint16(p, v)
	}
}

func (b *Buffer) WriteInt16(v int16) { b.WriteUint16(uint16(v)) }

func (b *Buffer) WriteUint32(v uint32) {
	if p := b.grow(4); p != nil {
		binary.LittleEndian.PutUint32(p, v)
	}
}

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }

// WriteData appends raw bytes.
func (b *Buffer) WriteData(data []byte) {
	if p := b.grow(len(data)); p != nil {
		copy(p, data)
	}
}

// WriteString appends s followed by a terminating zero byte. Embedded zero
// bytes are not escaped.
func (b *Buffer) WriteString(s string) {
	if p := b.grow(len(s) + 1); p != nil {
		copy(p, s)
		p[len(s)] = 0
	}
}
