package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrClosed        = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// State is the liveness of the underlying transport.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Transport is the send side of an accepted connection as seen by the
// registry and router. Liveness must be queried through State on every
// use, never cached.
type Transport interface {
	// Send enqueues a text message for delivery. It never blocks.
	Send(data []byte) error

	// State returns the current transport liveness.
	State() State

	// Buffered returns bytes accepted by Send but not yet written to
	// the socket.
	Buffered() int64

	// Close begins the closing handshake. Safe to call more than once.
	Close() error

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// Config configures an accepted WebSocket connection.
type Config struct {
	WriteTimeout  time.Duration // Write deadline per outbound message
	PongWait      time.Duration // Max time without a pong before the read side gives up
	PingInterval  time.Duration // Ping period; must be less than PongWait
	ReadLimit     int64         // Max inbound message size
	SendQueueSize int           // Outbound queue length in messages
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:  10 * time.Second,
		PongWait:      60 * time.Second,
		PingInterval:  54 * time.Second,
		ReadLimit:     1 << 20,
		SendQueueSize: 256,
	}
}
