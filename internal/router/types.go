package router

import "encoding/json"

// Envelope type names on the wire.
const (
	typeRegister           = "register"
	typeFrame              = "frame"
	typePolaroid           = "polaroid"
	typePhotographerStatus = "photographer_status"
	typeBroadcasterStatus  = "broadcaster_status"
)

// Role names accepted in a register envelope.
const (
	roleBroadcaster = "broadcaster"
	roleViewer      = "viewer"
)

// messageEnvelope extracts just the type discriminator.
type messageEnvelope struct {
	Type string `json:"type"`
}

// registerWire is an inbound register envelope.
type registerWire struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// photographerWire is an inbound photographer_status envelope.
type photographerWire struct {
	Taken bool `json:"taken"`
}

// frameWire is an inbound frame envelope. Payload and timestamp pass
// through opaquely; any identity fields the sender included are ignored
// and replaced from registry state.
type frameWire struct {
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// polaroidWire is an inbound polaroid envelope.
type polaroidWire struct {
	ImageURL  json.RawMessage `json:"imageUrl"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// broadcasterStatusOut announces a broadcaster coming or going.
type broadcasterStatusOut struct {
	Type          string `json:"type"`
	Online        bool   `json:"online"`
	BroadcasterID string `json:"broadcasterId"`
	Name          string `json:"name,omitempty"`
}

// photographerStatusOut announces the current photographer status.
type photographerStatusOut struct {
	Type  string `json:"type"`
	Taken bool   `json:"taken"`
}

// frameOut is the routing envelope fanned out to viewers. Identity
// comes from the source's stored registration, never from the inbound
// frame.
type frameOut struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	BroadcasterID string          `json:"broadcasterId"`
	Name          string          `json:"name"`
	Timestamp     json.RawMessage `json:"timestamp,omitempty"`
}

// polaroidOut is forwarded to every broadcaster.
type polaroidOut struct {
	Type      string          `json:"type"`
	ImageURL  json.RawMessage `json:"imageUrl"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Config configures the Router.
type Config struct {
	// MaxBufferedBytes is the per-viewer pending-outbound ceiling for
	// frame fanout. Frames to viewers above it are dropped outright:
	// no queue, no retry.
	MaxBufferedBytes int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBufferedBytes: 1 << 20, // 1 MiB
	}
}

// Stats contains runtime routing counters.
type Stats struct {
	Received      int64 // inbound envelopes seen
	Routed        int64 // envelopes that reached their routing action
	ParseErrors   int64 // malformed envelopes dropped
	Unauthorized  int64 // envelopes from the wrong role, dropped
	FramesDropped int64 // per-viewer frame drops from the byte ceiling
	SendErrors    int64 // per-target delivery failures during fanout
}
