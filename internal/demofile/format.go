// Package demofile implements the length-prefixed demo record stream.
//
// Vanilla layout:
//
//	[u32 len][payload] ... [u32 0xFFFFFFFF]
//
// Extended layout (prediction extension):
//
//	[u32 magic "DM2X"]
//	[u8 tag=1][u32 acked sample][u8 elapsed msec][u32 len][payload]
//	[u8 tag=0][u32 sample id][16 byte input sample]
//	...
//	[u8 tag=1][u32 0][u8 0][u32 0xFFFFFFFF]
//
// All integers are little endian.
package demofile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/q2demo/demorec/pkg/core"
)

// Format is the kind of demo stream.
type Format int

const (
	FormatVanilla Format = iota
	FormatExtended
	// FormatMVD is a multi-view demo. Only detection is supported.
	FormatMVD
)

func (f Format) String() string {
	switch f {
	case FormatVanilla:
		return "vanilla"
	case FormatExtended:
		return "extended"
	case FormatMVD:
		return "mvd"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

const (
	// MagicExtended starts an extended format stream.
	MagicExtended uint32 = 'D' | 'M'<<8 | '2'<<16 | 'X'<<24
	// MagicMVD starts a multi-view demo.
	MagicMVD uint32 = 'M' | 'V'<<8 | 'D'<<16 | '2'<<24

	// EndOfStream is the length value terminating a stream.
	EndOfStream uint32 = 0xFFFFFFFF

	// MinFirstMessage is the smallest plausible header record.
	MinFirstMessage = 64
	// MaxMessage is the largest record payload.
	MaxMessage = core.MaxMessageLen
)

// RecordType tags records in the extended format.
type RecordType uint8

const (
	RecordInputSample   RecordType = 0
	RecordServerMessage RecordType = 1
	// RecordEnd is never written as a tag; Reader.Next reports it for the
	// end-of-stream sentinel.
	RecordEnd RecordType = 0xFF
)

// PredictionSize is the size of the metadata preceding an extended server
// message.
const PredictionSize = 5

// Prediction is the metadata attached to every server message in the
// extended format.
type Prediction struct {
	// AckedSample is the id of the last input sample the server processed.
	AckedSample uint32
	// ElapsedMsec is how long the pending input sample has been built.
	ElapsedMsec uint8
}

// InputSample is one recorded input command.
type InputSample struct {
	ID  uint32
	Cmd core.UserCmd
}

var (
	// ErrInvalidFormat reports a structurally invalid stream.
	ErrInvalidFormat = errors.New("invalid demo format")
	// ErrUnexpectedEOF reports a truncated stream.
	ErrUnexpectedEOF = errors.New("unexpected end of demo")
)

// IOError wraps a failed read, write or seek on the underlying file.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("demo %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

func putPrediction(b []byte, p Prediction) {
	binary.LittleEndian.PutUint32(b, p.AckedSample)
	b[4] = p.ElapsedMsec
}

func getPrediction(b []byte) Prediction {
	return Prediction{
		AckedSample: binary.LittleEndian.Uint32(b),
		ElapsedMsec: b[4],
	}
}

// PutUserCmd encodes cmd into b, which must hold core.UserCmdSize bytes.
func PutUserCmd(b []byte, cmd *core.UserCmd) {
	b[0] = cmd.Msec
	b[1] = cmd.Buttons
	for i, a := range cmd.Angles {
		binary.LittleEndian.PutUint16(b[2+2*i:], uint16(a))
	}
	binary.LittleEndian.PutUint16(b[8:], uint16(cmd.Forward))
	binary.LittleEndian.PutUint16(b[10:], uint16(cmd.Side))
	binary.LittleEndian.PutUint16(b[12:], uint16(cmd.Up))
	b[14] = cmd.Impulse
	b[15] = cmd.LightLevel
}

// GetUserCmd decodes a core.UserCmdSize byte input sample.
func GetUserCmd(b []byte) core.UserCmd {
	var cmd core.UserCmd
	cmd.Msec = b[0]
	cmd.Buttons = b[1]
	for i := range cmd.Angles {
		cmd.Angles[i] = int16(binary.LittleEndian.Uint16(b[2+2*i:]))
	}
	cmd.Forward = int16(binary.LittleEndian.Uint16(b[8:]))
	cmd.Side = int16(binary.LittleEndian.Uint16(b[10:]))
	cmd.Up = int16(binary.LittleEndian.Uint16(b[12:]))
	cmd.Impulse = b[14]
	cmd.LightLevel = b[15]
	return cmd
}
