package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/q2demo/demorec/pkg/streaming"
)

const (
	sendChSize = 10_000
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
	writeWait  = 10 * time.Second
)

// ErrClosed is returned by control messages sent after Close.
var ErrClosed = errors.New("relay connection closed")

type frame struct {
	kind  int // ws.TextMessage or ws.BinaryMessage
	data  []byte
	start bool
}

// connection carries one demo stream to the relay server. A single write
// loop owns the socket: it redials lazily when a frame arrives after a
// failure, and replays the current start_demo first so observers can
// resync. Frames that arrive while the server is unreachable are dropped.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	start  []byte
	closed bool

	sendCh chan frame
	done   chan struct{}
	url    string

	// write loop only
	backoff time.Duration
	retryAt time.Time

	dropped atomic.Int64
	acked   atomic.Int64
	logger  *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:  make(chan frame, sendChSize),
		done:    make(chan struct{}),
		backoff: minBackoff,
		logger:  logger,
	}
}

// dial connects to rawURL and starts the write and read loops.
func (c *connection) dial(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	c.url = u.String()

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.writeLoop()
	return nil
}

func (c *connection) dialOnce() (*ws.Conn, error) {
	conn, _, err := ws.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.sendCh:
			conn := c.ensureConn(f.start)
			if conn == nil {
				c.drop()
				continue
			}
			if err := write(conn, f.kind, f.data); err != nil {
				c.logger.Warn("Relay write failed", "error", err)
				c.disconnect(conn)
				c.drop()
			}
		}
	}
}

// ensureConn returns the live socket, redialing when the backoff has
// passed. After a redial the cached start_demo is written first unless f
// is itself the start.
func (c *connection) ensureConn(isStart bool) *ws.Conn {
	c.mu.Lock()
	conn, start, closed := c.conn, c.start, c.closed
	c.mu.Unlock()
	if conn != nil || closed {
		return conn
	}
	if time.Now().Before(c.retryAt) {
		return nil
	}

	conn, err := c.dialOnce()
	if err != nil {
		c.logger.Warn("Relay redial failed", "error", err, "backoff", c.backoff)
		c.retryAt = time.Now().Add(c.backoff)
		c.backoff = min(c.backoff*2, maxBackoff)
		return nil
	}
	if start != nil && !isStart {
		if err := write(conn, ws.TextMessage, start); err != nil {
			c.logger.Warn("Failed to replay start_demo", "error", err)
			_ = conn.Close()
			c.retryAt = time.Now().Add(c.backoff)
			return nil
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.backoff = minBackoff
	c.logger.Info("Relay reconnected")
	go c.readLoop(conn)
	return conn
}

func write(conn *ws.Conn, kind int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, data)
}

func (c *connection) disconnect(conn *ws.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	c.retryAt = time.Now().Add(c.backoff)
}

// readLoop logs server acks until conn fails. Write errors drive the
// redial.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("Relay read ended", "error", err)
			}
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Non-ack message received", "raw", string(message))
			continue
		}
		c.acked.Add(1)
		c.logger.Debug("Relay acknowledged", "for", ack.For)
	}
}

func (c *connection) drop() {
	if c.dropped.Add(1) == 1 {
		c.logger.Warn("Relay is behind, dropping messages")
	}
}

// send queues a frame for the write loop without blocking. It reports
// false when the queue is full.
func (c *connection) send(f frame) bool {
	select {
	case c.sendCh <- f:
		return true
	default:
		c.drop()
		return false
	}
}

func (c *connection) setStart(data []byte) {
	c.mu.Lock()
	c.start = data
	c.mu.Unlock()
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close sends a close frame and stops the loops. Queued frames are
// discarded.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}
