// Package registry tracks live connections by role and enforces the
// single-photographer invariant. It is the only shared mutable state in
// the process: one mutex covers every read-modify-write sequence, and
// fanout callers work from snapshots taken under that lock.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/studiowire/relay/internal/connection"
)

// Role classifies a tracked connection. A connection is Unclassified
// until its first valid register message and never changes role again.
type Role int

const (
	RoleUnclassified Role = iota
	RoleBroadcaster
	RoleViewer
)

// String returns a human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleUnclassified:
		return "unclassified"
	case RoleBroadcaster:
		return "broadcaster"
	case RoleViewer:
		return "viewer"
	}
	return "unknown"
}

// BroadcasterInfo is a snapshot of one registered broadcaster.
type BroadcasterInfo struct {
	ID   string
	Name string
}

// Removal describes what a Remove call tore down.
type Removal struct {
	Role                 Role
	BroadcasterID        string // set when Role == RoleBroadcaster
	PhotographerReleased bool   // set when the removed viewer held photographer status
}

// SweepResult reports what SweepDead evicted.
type SweepResult struct {
	BroadcasterIDs       []string
	Viewers              int
	PhotographerReleased bool
}

// Empty reports whether the sweep removed nothing.
func (s SweepResult) Empty() bool {
	return len(s.BroadcasterIDs) == 0 && s.Viewers == 0 && !s.PhotographerReleased
}

// entry holds the role-tagged attributes for one tracked connection.
type entry struct {
	t             connection.Transport
	role          Role
	broadcasterID string
	displayName   string
	photographer  bool
}

// Registry owns all role membership state. Constructed once at process
// start and passed explicitly to the router, server, and sweeper.
type Registry struct {
	logger *slog.Logger

	mu           sync.Mutex
	conns        map[connection.Transport]*entry
	broadcasters map[string]*entry
	viewers      map[connection.Transport]*entry
	photographer *entry // back-reference only; viewers owns membership
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:       logger,
		conns:        make(map[connection.Transport]*entry),
		broadcasters: make(map[string]*entry),
		viewers:      make(map[connection.Transport]*entry),
	}
}

// Track admits a freshly accepted connection in the unclassified state.
func (r *Registry) Track(t connection.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[t]; ok {
		return
	}
	r.conns[t] = &entry{t: t, role: RoleUnclassified}
}

// RegisterBroadcaster classifies t as a broadcaster and allocates its
// identity. Registration on an untracked or already-classified
// connection is silently ignored (ok=false). An empty requestedName
// falls back to a positional placeholder computed from the broadcaster
// count before insertion.
func (r *Registry) RegisterBroadcaster(t connection.Transport, requestedName string) (id, name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, tracked := r.conns[t]
	if !tracked || e.role != RoleUnclassified {
		return "", "", false
	}

	name = requestedName
	if name == "" {
		name = fmt.Sprintf("Model %d", len(r.broadcasters)+1)
	}

	id = uuid.NewString()
	e.role = RoleBroadcaster
	e.broadcasterID = id
	e.displayName = name
	r.broadcasters[id] = e

	return id, name, true
}

// RegisterViewer classifies t as a viewer. Registration on an untracked
// or already-classified connection is silently ignored.
func (r *Registry) RegisterViewer(t connection.Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, tracked := r.conns[t]
	if !tracked || e.role != RoleUnclassified {
		return false
	}

	e.role = RoleViewer
	r.viewers[t] = e
	return true
}

// SetPhotographer rebinds or clears the photographer status. The rebind
// is unconditional: the last writer wins regardless of the current
// holder, and a clear drops whoever holds it. The wire protocol carries
// no acquire/release handshake, so the registry does not invent one.
// Returns false only when t is not a registered viewer.
func (r *Registry) SetPhotographer(t connection.Transport, taken bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.viewers[t]
	if !ok {
		return false
	}

	if r.photographer != nil {
		r.photographer.photographer = false
		r.photographer = nil
	}
	if taken {
		e.photographer = true
		r.photographer = e
	}
	return true
}

// PhotographerTaken reports whether some viewer currently holds the
// photographer status.
func (r *Registry) PhotographerTaken() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.photographer != nil
}

// Photographer returns the current holder's transport, if any.
func (r *Registry) Photographer() (connection.Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.photographer == nil {
		return nil, false
	}
	return r.photographer.t, true
}

// Role returns t's current role.
func (r *Registry) Role(t connection.Transport) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[t]
	if !ok {
		return RoleUnclassified, false
	}
	return e.role, true
}

// Identity returns the stored broadcaster identity for t. Routing never
// trusts identity fields carried in inbound messages.
func (r *Registry) Identity(t connection.Transport) (BroadcasterInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[t]
	if !ok || e.role != RoleBroadcaster {
		return BroadcasterInfo{}, false
	}
	return BroadcasterInfo{ID: e.broadcasterID, Name: e.displayName}, true
}

// Broadcasters returns a point-in-time snapshot of registered
// broadcasters. Order is unspecified.
func (r *Registry) Broadcasters() []BroadcasterInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BroadcasterInfo, 0, len(r.broadcasters))
	for id, e := range r.broadcasters {
		out = append(out, BroadcasterInfo{ID: id, Name: e.displayName})
	}
	return out
}

// Viewers returns the current viewer transports for fanout.
func (r *Registry) Viewers() []connection.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]connection.Transport, 0, len(r.viewers))
	for t := range r.viewers {
		out = append(out, t)
	}
	return out
}

// BroadcasterConns returns the current broadcaster transports for
// fanout.
func (r *Registry) BroadcasterConns() []connection.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]connection.Transport, 0, len(r.broadcasters))
	for _, e := range r.broadcasters {
		out = append(out, e.t)
	}
	return out
}

// Counts returns the number of registered broadcasters and viewers.
func (r *Registry) Counts() (broadcasters, viewers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.broadcasters), len(r.viewers)
}

// Remove tears down all registry state for t, whatever its role, and
// reports what was removed so the caller can notify remaining peers.
func (r *Registry) Remove(t connection.Transport) (Removal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(t)
}

func (r *Registry) removeLocked(t connection.Transport) (Removal, bool) {
	e, ok := r.conns[t]
	if !ok {
		return Removal{}, false
	}
	delete(r.conns, t)

	rem := Removal{Role: e.role}
	switch e.role {
	case RoleBroadcaster:
		rem.BroadcasterID = e.broadcasterID
		delete(r.broadcasters, e.broadcasterID)
	case RoleViewer:
		delete(r.viewers, t)
		if r.photographer == e {
			r.photographer = nil
			rem.PhotographerReleased = true
		}
	}

	// Clear attributes so a stale reference cannot be reused.
	*e = entry{}

	return rem, true
}

// SweepDead evicts every tracked connection whose transport is
// definitively closed. This is the safety net for close events that
// were never observed; staleness between a transport closing and the
// next sweep is tolerated.
func (r *Registry) SweepDead() SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SweepResult
	for t := range r.conns {
		if t.State() != connection.StateClosed {
			continue
		}

		rem, _ := r.removeLocked(t)
		switch rem.Role {
		case RoleBroadcaster:
			r.logger.Debug("swept dead broadcaster", "broadcaster_id", rem.BroadcasterID)
			res.BroadcasterIDs = append(res.BroadcasterIDs, rem.BroadcasterID)
		case RoleViewer:
			res.Viewers++
			if rem.PhotographerReleased {
				res.PhotographerReleased = true
			}
		}
	}
	return res
}
