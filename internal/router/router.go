// Package router interprets inbound envelopes and dispatches them
// across role groups: broadcaster frames fan out to viewers, viewer
// polaroids forward to broadcasters, and status changes broadcast to
// the viewer set. Every failure is isolated to the message or the
// single fanout target it occurred on.
package router

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/studiowire/relay/internal/connection"
	"github.com/studiowire/relay/internal/registry"
)

// Router dispatches inbound envelopes per the role-routing table and
// performs teardown and sweep notifications.
type Router struct {
	cfg      Config
	registry *registry.Registry
	logger   *slog.Logger

	mu            sync.Mutex
	received      int64
	routed        int64
	parseErrors   int64
	unauthorized  int64
	framesDropped int64
	sendErrors    int64
}

// New creates a Router over reg.
func New(cfg Config, reg *registry.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBufferedBytes <= 0 {
		cfg.MaxBufferedBytes = DefaultConfig().MaxBufferedBytes
	}

	return &Router{
		cfg:      cfg,
		registry: reg,
		logger:   logger,
	}
}

// HandleMessage routes one inbound envelope from src. Malformed input
// and role violations are counted, logged, and swallowed; they never
// affect the connection or its siblings.
func (r *Router) HandleMessage(src connection.Transport, data []byte) {
	r.count(&r.received)

	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.count(&r.parseErrors)
		r.logger.Warn("unparseable envelope", "remote", src.RemoteAddr(), "error", err)
		return
	}

	switch env.Type {
	case typeRegister:
		r.handleRegister(src, data)
	case typePhotographerStatus:
		r.handlePhotographerStatus(src, data)
	case typeFrame:
		r.handleFrame(src, data)
	case typePolaroid:
		r.handlePolaroid(src, data)
	default:
		r.logger.Debug("dropping unknown envelope type",
			"type", env.Type,
			"remote", src.RemoteAddr(),
		)
	}
}

// HandleDisconnect tears down src after its transport closed and
// notifies remaining peers.
func (r *Router) HandleDisconnect(src connection.Transport) {
	rem, ok := r.registry.Remove(src)
	if !ok {
		return
	}

	switch rem.Role {
	case registry.RoleBroadcaster:
		r.logger.Info("broadcaster disconnected", "broadcaster_id", rem.BroadcasterID)
		out, _ := json.Marshal(broadcasterStatusOut{
			Type:          typeBroadcasterStatus,
			Online:        false,
			BroadcasterID: rem.BroadcasterID,
		})
		r.fanout(r.registry.Viewers(), out, false)

	case registry.RoleViewer:
		r.logger.Info("viewer disconnected", "remote", src.RemoteAddr())
		if rem.PhotographerReleased {
			out, _ := json.Marshal(photographerStatusOut{
				Type:  typePhotographerStatus,
				Taken: false,
			})
			r.fanout(r.registry.Viewers(), out, false)
		}
	}
}

// NotifySwept announces sweep evictions so viewer-side broadcaster
// lists stay accurate. The evicted transports were already dead, so
// these are the only departure signals peers get.
func (r *Router) NotifySwept(res registry.SweepResult) {
	viewers := r.registry.Viewers()

	for _, id := range res.BroadcasterIDs {
		out, _ := json.Marshal(broadcasterStatusOut{
			Type:          typeBroadcasterStatus,
			Online:        false,
			BroadcasterID: id,
		})
		r.fanout(viewers, out, false)
	}

	if res.PhotographerReleased {
		out, _ := json.Marshal(photographerStatusOut{
			Type:  typePhotographerStatus,
			Taken: false,
		})
		r.fanout(viewers, out, false)
	}
}

// Stats returns current routing counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Received:      r.received,
		Routed:        r.routed,
		ParseErrors:   r.parseErrors,
		Unauthorized:  r.unauthorized,
		FramesDropped: r.framesDropped,
		SendErrors:    r.sendErrors,
	}
}

func (r *Router) handleRegister(src connection.Transport, data []byte) {
	var msg registerWire
	if err := json.Unmarshal(data, &msg); err != nil {
		r.count(&r.parseErrors)
		r.logger.Warn("malformed register", "remote", src.RemoteAddr(), "error", err)
		return
	}

	switch msg.Role {
	case roleBroadcaster:
		id, name, ok := r.registry.RegisterBroadcaster(src, msg.Name)
		if !ok {
			r.logger.Debug("ignoring register on classified connection", "remote", src.RemoteAddr())
			return
		}
		r.logger.Info("broadcaster registered", "broadcaster_id", id, "name", name)

		out, _ := json.Marshal(broadcasterStatusOut{
			Type:          typeBroadcasterStatus,
			Online:        true,
			BroadcasterID: id,
			Name:          name,
		})
		r.fanout(r.registry.Viewers(), out, false)
		r.count(&r.routed)

	case roleViewer:
		if !r.registry.RegisterViewer(src) {
			r.logger.Debug("ignoring register on classified connection", "remote", src.RemoteAddr())
			return
		}
		r.logger.Info("viewer registered", "remote", src.RemoteAddr())
		r.catchUp(src)
		r.count(&r.routed)

	default:
		r.count(&r.parseErrors)
		r.logger.Warn("register with unknown role", "role", msg.Role, "remote", src.RemoteAddr())
	}
}

// catchUp brings a newly registered viewer current: photographer status
// first, then one online status per live broadcaster, before any
// subsequent traffic reaches it.
func (r *Router) catchUp(v connection.Transport) {
	out, _ := json.Marshal(photographerStatusOut{
		Type:  typePhotographerStatus,
		Taken: r.registry.PhotographerTaken(),
	})
	r.send(v, out)

	for _, b := range r.registry.Broadcasters() {
		out, _ := json.Marshal(broadcasterStatusOut{
			Type:          typeBroadcasterStatus,
			Online:        true,
			BroadcasterID: b.ID,
			Name:          b.Name,
		})
		r.send(v, out)
	}
}

func (r *Router) handlePhotographerStatus(src connection.Transport, data []byte) {
	if role, ok := r.registry.Role(src); !ok || role != registry.RoleViewer {
		r.count(&r.unauthorized)
		return
	}

	var msg photographerWire
	if err := json.Unmarshal(data, &msg); err != nil {
		r.count(&r.parseErrors)
		r.logger.Warn("malformed photographer_status", "remote", src.RemoteAddr(), "error", err)
		return
	}

	r.registry.SetPhotographer(src, msg.Taken)

	out, _ := json.Marshal(photographerStatusOut{
		Type:  typePhotographerStatus,
		Taken: msg.Taken,
	})
	r.fanout(r.registry.Viewers(), out, false)
	r.count(&r.routed)
}

// handleFrame rebuilds the routing envelope from the source's stored
// identity and fans it out to viewers under the byte ceiling.
func (r *Router) handleFrame(src connection.Transport, data []byte) {
	ident, ok := r.registry.Identity(src)
	if !ok {
		r.count(&r.unauthorized)
		return
	}

	var msg frameWire
	if err := json.Unmarshal(data, &msg); err != nil {
		r.count(&r.parseErrors)
		r.logger.Warn("malformed frame", "broadcaster_id", ident.ID, "error", err)
		return
	}
	if len(msg.Data) == 0 {
		r.count(&r.parseErrors)
		r.logger.Warn("frame without data", "broadcaster_id", ident.ID)
		return
	}

	out, _ := json.Marshal(frameOut{
		Type:          typeFrame,
		Data:          msg.Data,
		BroadcasterID: ident.ID,
		Name:          ident.Name,
		Timestamp:     msg.Timestamp,
	})
	r.fanout(r.registry.Viewers(), out, true)
	r.count(&r.routed)
}

func (r *Router) handlePolaroid(src connection.Transport, data []byte) {
	if role, ok := r.registry.Role(src); !ok || role != registry.RoleViewer {
		r.count(&r.unauthorized)
		return
	}

	var msg polaroidWire
	if err := json.Unmarshal(data, &msg); err != nil {
		r.count(&r.parseErrors)
		r.logger.Warn("malformed polaroid", "remote", src.RemoteAddr(), "error", err)
		return
	}
	if len(msg.ImageURL) == 0 {
		r.count(&r.parseErrors)
		r.logger.Warn("polaroid without imageUrl", "remote", src.RemoteAddr())
		return
	}

	out, _ := json.Marshal(polaroidOut{
		Type:      typePolaroid,
		ImageURL:  msg.ImageURL,
		Timestamp: msg.Timestamp,
	})
	r.fanout(r.registry.BroadcasterConns(), out, false)
	r.count(&r.routed)
}

// fanout delivers payload to every target with per-target isolation.
// Targets whose transport is not open are skipped. When applyCeiling is
// set (frame path only), targets whose pending-outbound bytes exceed
// the ceiling are dropped for this message.
func (r *Router) fanout(targets []connection.Transport, payload []byte, applyCeiling bool) {
	for _, t := range targets {
		if t.State() != connection.StateOpen {
			continue
		}
		if applyCeiling && t.Buffered() > r.cfg.MaxBufferedBytes {
			r.count(&r.framesDropped)
			continue
		}
		r.send(t, payload)
	}
}

// send performs one isolated delivery.
func (r *Router) send(t connection.Transport, payload []byte) {
	if t.State() != connection.StateOpen {
		return
	}
	if err := t.Send(payload); err != nil {
		r.count(&r.sendErrors)
		r.logger.Debug("send failed", "remote", t.RemoteAddr(), "error", err)
	}
}

func (r *Router) count(field *int64) {
	r.mu.Lock()
	*field++
	r.mu.Unlock()
}
