// Package relay forwards the server messages of a demo session to a
// broadcast relay over WebSocket. The relay is a pass-through sink: it
// never blocks the session and drops messages when the server can't keep up.
package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	ws "github.com/gorilla/websocket"

	"github.com/q2demo/demorec/internal/config"
	"github.com/q2demo/demorec/pkg/streaming"
)

// Relay streams demo messages to a relay server.
type Relay struct {
	conn    *connection
	cfg     config.RelayConfig
	session string
	frames  atomic.Int64
}

// New creates a relay client. Call Init to connect.
func New(cfg config.RelayConfig, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		conn: newConnection(logger.With("component", "relay")),
		cfg:  cfg,
	}
}

// Init connects to the relay server.
func (r *Relay) Init() error {
	return r.conn.dial(r.cfg.URL, r.cfg.Secret)
}

// Close disconnects from the relay server.
func (r *Relay) Close() error {
	return r.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// StartDemo announces a demo. The message is queued like demo data;
// the server ack is only logged.
func (r *Relay) StartDemo(p streaming.StartDemoPayload) error {
	if r.conn.isClosed() {
		return ErrClosed
	}
	data, err := marshalEnvelope(streaming.TypeStartDemo, p)
	if err != nil {
		return err
	}

	r.conn.setStart(data)
	r.session = p.Session
	r.frames.Store(0)
	r.conn.dropped.Store(0)

	if !r.conn.send(frame{kind: ws.TextMessage, data: data, start: true}) {
		return fmt.Errorf("relay queue full, %s not sent", streaming.TypeStartDemo)
	}
	return nil
}

// Send forwards one server message. The data is copied; the caller may
// reuse its buffer.
func (r *Relay) Send(data []byte) {
	if len(data) == 0 {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	if r.conn.send(frame{kind: ws.BinaryMessage, data: buf}) {
		r.frames.Add(1)
	}
}

// Seek tells observers the stream jumped to frame n.
func (r *Relay) Seek(n int) error {
	data, err := marshalEnvelope(streaming.TypeSeek, streaming.SeekPayload{Session: r.session, Frame: n})
	if err != nil {
		return err
	}
	if !r.conn.send(frame{kind: ws.TextMessage, data: data}) {
		return fmt.Errorf("relay queue full, %s not sent", streaming.TypeSeek)
	}
	return nil
}

// EndDemo closes the stream. Like StartDemo it does not wait for the
// server.
func (r *Relay) EndDemo() error {
	if r.conn.isClosed() {
		return ErrClosed
	}
	data, err := marshalEnvelope(streaming.TypeEndDemo, streaming.EndDemoPayload{
		Session: r.session,
		Frames:  int(r.frames.Load()),
		Dropped: int(r.conn.dropped.Load()),
	})
	if err != nil {
		return err
	}

	r.conn.setStart(nil)
	r.session = ""

	if !r.conn.send(frame{kind: ws.TextMessage, data: data}) {
		return fmt.Errorf("relay queue full, %s not sent", streaming.TypeEndDemo)
	}
	return nil
}

// Sent returns the number of messages queued since StartDemo.
func (r *Relay) Sent() int { return int(r.frames.Load()) }

// Dropped returns the number of messages dropped since StartDemo.
func (r *Relay) Dropped() int { return int(r.conn.dropped.Load()) }

// Acked returns the number of acks received from the server.
func (r *Relay) Acked() int { return int(r.conn.acked.Load()) }
