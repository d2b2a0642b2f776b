package connection

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps one accepted WebSocket connection. Reads happen on the
// caller's goroutine via ReadMessage; writes are serialized through an
// internal pump so fanout from many sources never interleaves frames.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	ws *websocket.Conn

	send    chan []byte
	pending atomic.Int64 // bytes enqueued but not yet written
	state   atomic.Int32

	closeOnce sync.Once
	done      chan struct{}
}

// New wraps an upgraded WebSocket connection and starts its write pump.
// The connection is open on return.
func New(ws *websocket.Conn, cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conn{
		cfg:    cfg,
		logger: logger,
		ws:     ws,
		send:   make(chan []byte, cfg.SendQueueSize),
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))

	ws.SetReadLimit(cfg.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	go c.writePump()

	return c
}

// Send enqueues data for delivery. A full queue or a closed connection
// is reported as an error and the message is dropped; Send never blocks
// on a slow peer.
func (c *Conn) Send(data []byte) error {
	if c.State() != StateOpen {
		return ErrClosed
	}

	c.pending.Add(int64(len(data)))
	select {
	case c.send <- data:
		return nil
	default:
		c.pending.Add(-int64(len(data)))
		return ErrSendQueueFull
	}
}

// Buffered returns bytes accepted by Send but not yet written to the
// socket.
func (c *Conn) Buffered() int64 {
	return c.pending.Load()
}

// State returns the current transport liveness.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Close begins the closing handshake and releases the write pump. Safe
// to call from any goroutine and more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
	})
	return nil
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// ReadMessage returns the next inbound message. It must be called from
// a single goroutine. A read error closes the connection.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.Close()
		return nil, err
	}
	return data, nil
}

// writePump drains the send queue and keeps the peer alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.state.Store(int32(StateClosed))
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			c.ws.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.ws.WriteMessage(websocket.TextMessage, data)
			c.pending.Add(-int64(len(data)))
			if err != nil {
				c.logger.Debug("write failed", "remote", c.RemoteAddr(), "error", err)
				c.Close()
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "remote", c.RemoteAddr(), "error", err)
				c.Close()
			}
		}
	}
}
