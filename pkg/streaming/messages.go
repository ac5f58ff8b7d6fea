// Package streaming defines the messages exchanged with a demo relay
// server. Control messages are JSON envelopes sent as text frames. Demo
// data follows as binary frames, one server message per frame.
package streaming

import (
	"encoding/json"
)

// Message type constants matching the relay protocol.
const (
	TypeStartDemo = "start_demo"
	TypeEndDemo   = "end_demo"
	TypeSeek      = "seek"
	TypeAck       = "ack"
)

// Envelope wraps all control messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartDemoPayload announces the demo whose messages follow.
type StartDemoPayload struct {
	Session string `json:"session"`
	Name    string `json:"name"`
	Map     string `json:"map"`
	POV     string `json:"pov"`
	Format  string `json:"format"`
}

// EndDemoPayload closes the stream.
type EndDemoPayload struct {
	Session string `json:"session"`
	Frames  int    `json:"frames"`
	Dropped int    `json:"dropped"`
}

// SeekPayload tells observers that the stream jumped. Observers discard
// their delta state and wait for the uncompressed frame that follows.
type SeekPayload struct {
	Session string `json:"session"`
	Frame   int    `json:"frame"`
}
