package demofile

import (
	"encoding/binary"
	"io"

	"github.com/q2demo/demorec/pkg/core"
)

// Writer frames records onto an io.Writer.
type Writer struct {
	w       io.Writer
	format  Format
	scratch [1 + 4 + core.UserCmdSize]byte
	written int64
}

// NewWriter starts a stream. The extended format writes its magic first.
func NewWriter(w io.Writer, format Format) (*Writer, error) {
	dw := &Writer{w: w, format: format}
	if format == FormatExtended {
		binary.LittleEndian.PutUint32(dw.scratch[:4], MagicExtended)
		if err := dw.write(dw.scratch[:4]); err != nil {
			return nil, err
		}
	}
	return dw, nil
}

// Format returns the stream format.
func (w *Writer) Format() Format { return w.format }

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 { return w.written }

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	w.written += int64(n)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

func (w *Writer) writeServerTag(meta Prediction) error {
	if w.format != FormatExtended {
		return nil
	}
	w.scratch[0] = byte(RecordServerMessage)
	putPrediction(w.scratch[1:], meta)
	return w.write(w.scratch[:1+PredictionSize])
}

// WriteServerMessage writes one server message record. meta is ignored in
// the vanilla format.
func (w *Writer) WriteServerMessage(meta Prediction, payload []byte) error {
	if err := w.writeServerTag(meta); err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if err := w.write(hdr[:]); err != nil {
		return err
	}
	return w.write(payload)
}

// WriteInputSample writes an input sample record. Only the extended format
// carries input samples; other formats ignore the call.
func (w *Writer) WriteInputSample(s InputSample) error {
	if w.format != FormatExtended {
		return nil
	}
	w.scratch[0] = byte(RecordInputSample)
	binary.LittleEndian.PutUint32(w.scratch[1:], s.ID)
	PutUserCmd(w.scratch[5:], &s.Cmd)
	return w.write(w.scratch[:])
}

// WriteEnd writes the end-of-stream sentinel.
func (w *Writer) WriteEnd() error {
	if err := w.writeServerTag(Prediction{}); err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], EndOfStream)
	return w.write(hdr[:])
}
