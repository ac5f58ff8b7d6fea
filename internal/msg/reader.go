package msg

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrShortRead is reported when a read runs past the end of a message.
var ErrShortRead = errors.New("msg: read past end of message")

// Reader decodes a single message. The first failed read sets a sticky error
// returned by Err; subsequent reads return zero values.
type Reader struct {
	data []byte
	pos  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Reset points the reader at a new message.
func (r *Reader) Reset(data []byte) {
	r.data = data
	r.pos = 0
	r.err = nil
}

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Offset() int    { return r.pos }
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// Done reports whether the whole message has been consumed.
func (r *Reader) Done() bool { return r.pos >= len(r.data) }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = ErrShortRead
		r.pos = len(r.data)
		return nil
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p
}

func (r *Reader) ReadUint8() uint8 {
	if p := r.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (r *Reader) ReadInt8() int8 { return int8(r.ReadUint8()) }

func (r *Reader) ReadUint16() uint16 {
	if p := r.take(2); p != nil {
		return binary.LittleEndian.Uint16(p)
	}
	return 0
}

func (r *Reader) ReadInt16() int16 { return int16(r.ReadUint16()) }

func (r *Reader) ReadUint32() uint32 {
	if p := r.take(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (r *Reader) ReadInt32() int32 { return int32(r.ReadUint32()) }

// ReadData returns the next n bytes. The slice aliases the message.
func (r *Reader) ReadData(n int) []byte {
	return r.take(n)
}

// ReadString reads a zero terminated string.
func (r *Reader) ReadString() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.data[r.pos:], 0)
	if i < 0 {
		r.err = ErrShortRead
		r.pos = len(r.data)
		return ""
	}
	s := string(r.data[r.pos : r.pos+i])
	r.pos += i + 1
	return s
}
