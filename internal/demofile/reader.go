package demofile

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/q2demo/demorec/pkg/core"
)

// Record is one decoded stream element.
type Record struct {
	Type RecordType
	// Prediction is set for extended server messages.
	Prediction Prediction
	// Sample is set for input samples.
	Sample InputSample
	// Data is the server message payload. It is only valid until the next
	// call on the Reader.
	Data []byte
}

// Lookahead is the result of Reader.PeekInputSample.
type Lookahead struct {
	Found  bool
	Sample InputSample
	// ElapsedMsec is the metadata of the last server message skipped on the
	// way to the sample.
	ElapsedMsec uint8
	Skipped     int
}

// Reader decodes records from a seekable stream.
type Reader struct {
	rs     io.ReadSeeker
	format Format
	pos    int64
	buf    []byte
	hdr    [1 + 4 + core.UserCmdSize]byte
}

// NewReader detects the format of rs and reads the first server message.
// The returned payload is owned by the caller. For FormatMVD the payload is
// nil and the reader cannot decode further records.
func NewReader(rs io.ReadSeeker) (*Reader, []byte, error) {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, nil, &IOError{Op: "seek", Err: err}
	}
	r := &Reader{rs: rs, pos: pos, buf: make([]byte, MaxMessage)}
	first, err := r.detect()
	if err != nil {
		return nil, nil, err
	}
	return r, first, nil
}

// DetectFormat reports the format of rs, leaving it positioned after the
// first server message.
func DetectFormat(rs io.ReadSeeker) (Format, error) {
	r, _, err := NewReader(rs)
	if err != nil {
		return 0, err
	}
	return r.format, nil
}

func (r *Reader) detect() ([]byte, error) {
	if err := r.readFull(r.hdr[:4]); err != nil {
		return nil, err
	}
	magic := binary.LittleEndian.Uint32(r.hdr[:4])

	switch magic {
	case MagicMVD:
		r.format = FormatMVD
		if err := r.readFull(r.hdr[:2]); err != nil {
			return nil, err
		}
		if binary.LittleEndian.Uint16(r.hdr[:2]) == 0 {
			return nil, ErrUnexpectedEOF
		}
		return nil, nil
	case MagicExtended:
		r.format = FormatExtended
		if err := r.readFull(r.hdr[:1+PredictionSize]); err != nil {
			return nil, err
		}
		if RecordType(r.hdr[0]) != RecordServerMessage {
			return nil, ErrInvalidFormat
		}
		if err := r.readFull(r.hdr[:4]); err != nil {
			return nil, err
		}
	default:
		r.format = FormatVanilla
	}

	n := binary.LittleEndian.Uint32(r.hdr[:4])
	if n == EndOfStream {
		return nil, ErrUnexpectedEOF
	}
	if n < MinFirstMessage || n > MaxMessage {
		return nil, ErrInvalidFormat
	}
	first := make([]byte, n)
	if err := r.readFull(first); err != nil {
		return nil, err
	}
	return first, nil
}

// Format returns the detected stream format.
func (r *Reader) Format() Format { return r.format }

// Offset returns the current stream position.
func (r *Reader) Offset() int64 { return r.pos }

// SeekTo moves the stream to an absolute record boundary.
func (r *Reader) SeekTo(off int64) error {
	pos, err := r.rs.Seek(off, io.SeekStart)
	if err != nil {
		return &IOError{Op: "seek", Err: err}
	}
	r.pos = pos
	return nil
}

func (r *Reader) readFull(p []byte) error {
	n, err := io.ReadFull(r.rs, p)
	r.pos += int64(n)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrUnexpectedEOF
	default:
		return &IOError{Op: "read", Err: err}
	}
}

// readMessage reads a length-prefixed payload. ok is false at the end of
// the stream.
func (r *Reader) readMessage() (data []byte, ok bool, err error) {
	if err := r.readFull(r.hdr[:4]); err != nil {
		return nil, false, err
	}
	n := binary.LittleEndian.Uint32(r.hdr[:4])
	if n == EndOfStream {
		return nil, false, nil
	}
	if n > MaxMessage {
		return nil, false, ErrInvalidFormat
	}
	if err := r.readFull(r.buf[:n]); err != nil {
		return nil, false, err
	}
	return r.buf[:n], true, nil
}

// Next decodes the next record. The end-of-stream sentinel is reported as
// a RecordEnd record, not an error.
func (r *Reader) Next() (Record, error) {
	var rec Record
	switch r.format {
	case FormatVanilla:
		rec.Type = RecordServerMessage
	case FormatExtended:
		if err := r.readFull(r.hdr[:1]); err != nil {
			return rec, err
		}
		rec.Type = RecordType(r.hdr[0])
		switch rec.Type {
		case RecordInputSample:
			s, err := r.readSample()
			rec.Sample = s
			return rec, err
		case RecordServerMessage:
			if err := r.readFull(r.hdr[:PredictionSize]); err != nil {
				return rec, err
			}
			rec.Prediction = getPrediction(r.hdr[:PredictionSize])
		default:
			return rec, ErrInvalidFormat
		}
	default:
		return rec, ErrInvalidFormat
	}

	data, ok, err := r.readMessage()
	if err != nil {
		return rec, err
	}
	if !ok {
		rec.Type = RecordEnd
		return rec, nil
	}
	rec.Data = data
	return rec, nil
}

func (r *Reader) readSample() (InputSample, error) {
	b := r.hdr[:4+core.UserCmdSize]
	if err := r.readFull(b); err != nil {
		return InputSample{}, err
	}
	return InputSample{
		ID:  binary.LittleEndian.Uint32(b),
		Cmd: GetUserCmd(b[4:]),
	}, nil
}

// PeekInputSample scans forward for the next input sample, skipping server
// messages, then restores the stream position. Reaching the end of the
// stream is not an error.
func (r *Reader) PeekInputSample() (Lookahead, error) {
	var la Lookahead
	if r.format != FormatExtended {
		return la, nil
	}
	start := r.pos
	la, err := r.scanSample()
	if serr := r.SeekTo(start); err == nil {
		err = serr
	}
	return la, err
}

func (r *Reader) scanSample() (Lookahead, error) {
	var la Lookahead
	for {
		rec, err := r.Next()
		if err != nil {
			return la, err
		}
		switch rec.Type {
		case RecordEnd:
			return la, nil
		case RecordInputSample:
			la.Found = true
			la.Sample = rec.Sample
			return la, nil
		default:
			la.ElapsedMsec = rec.Prediction.ElapsedMsec
			la.Skipped++
		}
	}
}
