package router

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/studiowire/relay/internal/connection"
	"github.com/studiowire/relay/internal/registry"
)

// fakeTransport records everything sent to it.
type fakeTransport struct {
	mu       sync.Mutex
	state    connection.State
	buffered int64
	sendErr  error
	sent     [][]byte
	addr     string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: connection.StateOpen, addr: "test:0"}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Buffered() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = connection.StateClosed
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return f.addr }

// messages decodes everything sent so far.
func (f *fakeTransport) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.sent))
	for _, raw := range f.sent {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("sent message is not JSON: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func newTestRouter() (*Router, *registry.Registry) {
	reg := registry.New(nil)
	return New(DefaultConfig(), reg, nil), reg
}

func registerBroadcaster(t *testing.T, r *Router, name string) *fakeTransport {
	t.Helper()
	c := newFakeTransport()
	r.registry.Track(c)
	payload := `{"type":"register","role":"broadcaster"`
	if name != "" {
		payload += `,"name":"` + name + `"`
	}
	payload += `}`
	r.HandleMessage(c, []byte(payload))
	return c
}

func registerViewer(t *testing.T, r *Router) *fakeTransport {
	t.Helper()
	c := newFakeTransport()
	r.registry.Track(c)
	r.HandleMessage(c, []byte(`{"type":"register","role":"viewer"}`))
	return c
}

func TestRegisterBroadcaster_BroadcastsToViewers(t *testing.T) {
	r, _ := newTestRouter()

	v := registerViewer(t, r)
	v.mu.Lock()
	v.sent = nil // discard catch-up
	v.mu.Unlock()

	b := registerBroadcaster(t, r, "Alice")

	msgs := v.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("viewer got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m["type"] != "broadcaster_status" || m["online"] != true || m["name"] != "Alice" {
		t.Errorf("unexpected status message: %v", m)
	}
	if m["broadcasterId"] == "" || m["broadcasterId"] == nil {
		t.Error("status message missing broadcasterId")
	}

	// The broadcaster itself receives nothing.
	if got := len(b.messages(t)); got != 0 {
		t.Errorf("broadcaster got %d messages, want 0", got)
	}
}

func TestRegisterViewer_CatchUp(t *testing.T) {
	r, _ := newTestRouter()

	registerBroadcaster(t, r, "")
	registerBroadcaster(t, r, "")
	registerBroadcaster(t, r, "")

	v := registerViewer(t, r)

	msgs := v.messages(t)
	if len(msgs) != 4 {
		t.Fatalf("viewer got %d catch-up messages, want 4", len(msgs))
	}

	// Photographer status arrives first, then one status per live
	// broadcaster.
	if msgs[0]["type"] != "photographer_status" {
		t.Errorf("first message type = %v, want photographer_status", msgs[0]["type"])
	}
	if msgs[0]["taken"] != false {
		t.Errorf("taken = %v, want false", msgs[0]["taken"])
	}

	ids := make(map[any]bool)
	for _, m := range msgs[1:] {
		if m["type"] != "broadcaster_status" || m["online"] != true {
			t.Errorf("unexpected catch-up message: %v", m)
		}
		ids[m["broadcasterId"]] = true
	}
	if len(ids) != 3 {
		t.Errorf("catch-up covered %d broadcasters, want 3", len(ids))
	}
}

func TestFrame_RebuiltFromStoredIdentity(t *testing.T) {
	r, _ := newTestRouter()

	b := registerBroadcaster(t, r, "")
	v := registerViewer(t, r)
	v.mu.Lock()
	v.sent = nil
	v.mu.Unlock()

	// Identity fields in the inbound frame are attacker-controlled and
	// must be replaced from registry state.
	r.HandleMessage(b, []byte(`{"type":"frame","data":"x","timestamp":1,"broadcasterId":"spoofed","name":"spoofed"}`))

	msgs := v.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("viewer got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m["type"] != "frame" {
		t.Errorf("type = %v, want frame", m["type"])
	}
	if m["data"] != "x" {
		t.Errorf("data = %v, want x", m["data"])
	}
	if m["name"] != "Model 1" {
		t.Errorf("name = %v, want Model 1", m["name"])
	}
	if m["timestamp"] != float64(1) {
		t.Errorf("timestamp = %v, want 1", m["timestamp"])
	}
	if m["broadcasterId"] == "spoofed" {
		t.Error("broadcasterId passed through from inbound frame")
	}
	ident, _ := r.registry.Identity(b)
	if m["broadcasterId"] != ident.ID {
		t.Errorf("broadcasterId = %v, want %v", m["broadcasterId"], ident.ID)
	}
}

func TestFrame_FromViewerDropped(t *testing.T) {
	r, _ := newTestRouter()

	v1 := registerViewer(t, r)
	v2 := registerViewer(t, r)
	v2.mu.Lock()
	v2.sent = nil
	v2.mu.Unlock()

	r.HandleMessage(v1, []byte(`{"type":"frame","data":"x"}`))

	if got := len(v2.messages(t)); got != 0 {
		t.Errorf("viewer got %d messages from unauthorized frame, want 0", got)
	}
	if stats := r.Stats(); stats.Unauthorized != 1 {
		t.Errorf("Unauthorized = %d, want 1", stats.Unauthorized)
	}
}

func TestFrame_BackpressureCeiling(t *testing.T) {
	r, _ := newTestRouter()

	b := registerBroadcaster(t, r, "")
	slow := registerViewer(t, r)
	fast := registerViewer(t, r)
	for _, v := range []*fakeTransport{slow, fast} {
		v.mu.Lock()
		v.sent = nil
		v.mu.Unlock()
	}

	slow.mu.Lock()
	slow.buffered = 2 << 20 // over the 1 MiB ceiling
	slow.mu.Unlock()

	r.HandleMessage(b, []byte(`{"type":"frame","data":"x","timestamp":1}`))

	if got := len(slow.messages(t)); got != 0 {
		t.Errorf("slow viewer got %d messages, want 0 (dropped, not queued)", got)
	}
	if got := len(fast.messages(t)); got != 1 {
		t.Errorf("fast viewer got %d messages, want 1", got)
	}
	if stats := r.Stats(); stats.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", stats.FramesDropped)
	}
}

func TestFrame_CeilingDoesNotApplyToStatus(t *testing.T) {
	r, _ := newTestRouter()

	slow := registerViewer(t, r)
	slow.mu.Lock()
	slow.sent = nil
	slow.buffered = 2 << 20
	slow.mu.Unlock()

	registerBroadcaster(t, r, "Alice")

	// Control messages ignore the byte ceiling.
	if got := len(slow.messages(t)); got != 1 {
		t.Errorf("slow viewer got %d status messages, want 1", got)
	}
}

func TestFanout_SendErrorIsolated(t *testing.T) {
	r, _ := newTestRouter()

	b := registerBroadcaster(t, r, "")
	bad := registerViewer(t, r)
	good := registerViewer(t, r)
	good.mu.Lock()
	good.sent = nil
	good.mu.Unlock()

	bad.mu.Lock()
	bad.sendErr = errors.New("write failed")
	bad.mu.Unlock()

	r.HandleMessage(b, []byte(`{"type":"frame","data":"x"}`))

	if got := len(good.messages(t)); got != 1 {
		t.Errorf("healthy viewer got %d messages, want 1", got)
	}
	if stats := r.Stats(); stats.SendErrors != 1 {
		t.Errorf("SendErrors = %d, want 1", stats.SendErrors)
	}
}

func TestFanout_SkipsClosedTransport(t *testing.T) {
	r, _ := newTestRouter()

	b := registerBroadcaster(t, r, "")
	gone := registerViewer(t, r)
	gone.Close()

	before := len(gone.messages(t))
	r.HandleMessage(b, []byte(`{"type":"frame","data":"x"}`))

	if after := len(gone.messages(t)); after != before {
		t.Errorf("closed viewer message count went %d -> %d, want unchanged", before, after)
	}
}

func TestPhotographerStatus_Broadcast(t *testing.T) {
	r, _ := newTestRouter()

	v1 := registerViewer(t, r)
	v2 := registerViewer(t, r)
	for _, v := range []*fakeTransport{v1, v2} {
		v.mu.Lock()
		v.sent = nil
		v.mu.Unlock()
	}

	r.HandleMessage(v1, []byte(`{"type":"photographer_status","taken":true}`))

	for i, v := range []*fakeTransport{v1, v2} {
		msgs := v.messages(t)
		if len(msgs) != 1 {
			t.Fatalf("viewer %d got %d messages, want 1", i+1, len(msgs))
		}
		if msgs[0]["type"] != "photographer_status" || msgs[0]["taken"] != true {
			t.Errorf("viewer %d got %v", i+1, msgs[0])
		}
	}
}

func TestPhotographerStatus_RaceLastWriteWins(t *testing.T) {
	r, reg := newTestRouter()

	v1 := registerViewer(t, r)
	v2 := registerViewer(t, r)
	for _, v := range []*fakeTransport{v1, v2} {
		v.mu.Lock()
		v.sent = nil
		v.mu.Unlock()
	}

	r.HandleMessage(v1, []byte(`{"type":"photographer_status","taken":true}`))
	r.HandleMessage(v2, []byte(`{"type":"photographer_status","taken":true}`))

	holder, ok := reg.Photographer()
	if !ok || holder != v2 {
		t.Error("photographer holder should be v2 (last write wins)")
	}

	// Both claims broadcast; both viewers see both, both taken:true.
	for i, v := range []*fakeTransport{v1, v2} {
		msgs := v.messages(t)
		if len(msgs) != 2 {
			t.Fatalf("viewer %d got %d broadcasts, want 2", i+1, len(msgs))
		}
		for _, m := range msgs {
			if m["taken"] != true {
				t.Errorf("viewer %d got taken = %v, want true", i+1, m["taken"])
			}
		}
	}
}

func TestPhotographerStatus_FromBroadcasterDropped(t *testing.T) {
	r, reg := newTestRouter()

	b := registerBroadcaster(t, r, "")
	r.HandleMessage(b, []byte(`{"type":"photographer_status","taken":true}`))

	if reg.PhotographerTaken() {
		t.Error("broadcaster must not acquire photographer status")
	}
	if stats := r.Stats(); stats.Unauthorized != 1 {
		t.Errorf("Unauthorized = %d, want 1", stats.Unauthorized)
	}
}

func TestPolaroid_ForwardedToBroadcasters(t *testing.T) {
	r, _ := newTestRouter()

	b1 := registerBroadcaster(t, r, "")
	b2 := registerBroadcaster(t, r, "")
	v := registerViewer(t, r)

	r.HandleMessage(v, []byte(`{"type":"polaroid","imageUrl":"http://x/y.jpg","timestamp":7}`))

	for i, b := range []*fakeTransport{b1, b2} {
		msgs := b.messages(t)
		if len(msgs) != 1 {
			t.Fatalf("broadcaster %d got %d messages, want 1", i+1, len(msgs))
		}
		m := msgs[0]
		if m["type"] != "polaroid" || m["imageUrl"] != "http://x/y.jpg" || m["timestamp"] != float64(7) {
			t.Errorf("broadcaster %d got %v", i+1, m)
		}
	}
}

func TestPolaroid_FromBroadcasterDropped(t *testing.T) {
	r, _ := newTestRouter()

	b1 := registerBroadcaster(t, r, "")
	b2 := registerBroadcaster(t, r, "")
	b2.mu.Lock()
	b2.sent = nil
	b2.mu.Unlock()

	r.HandleMessage(b1, []byte(`{"type":"polaroid","imageUrl":"http://x"}`))

	if got := len(b2.messages(t)); got != 0 {
		t.Errorf("broadcaster got %d messages from unauthorized polaroid, want 0", got)
	}
}

func TestMalformedInput_Isolated(t *testing.T) {
	r, _ := newTestRouter()

	b := registerBroadcaster(t, r, "")
	v := registerViewer(t, r)
	v.mu.Lock()
	v.sent = nil
	v.mu.Unlock()

	for _, payload := range []string{
		`not json`,
		`{"type":"frame"}`,                // missing data
		`{"type":"register","role":"x"}`,  // unknown role
		`{"type":"polaroid"}`,             // missing imageUrl, wrong role anyway
		`{"type":"something_unexpected"}`, // unknown type
		``,
	} {
		r.HandleMessage(b, []byte(payload))
	}

	// Connection survives; a valid frame still routes.
	r.HandleMessage(b, []byte(`{"type":"frame","data":"ok"}`))

	msgs := v.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("viewer got %d messages, want 1", len(msgs))
	}
	if msgs[0]["data"] != "ok" {
		t.Errorf("data = %v, want ok", msgs[0]["data"])
	}

	stats := r.Stats()
	if stats.ParseErrors == 0 {
		t.Error("expected parse errors to be counted")
	}
}

func TestHandleDisconnect_Broadcaster(t *testing.T) {
	r, _ := newTestRouter()

	b := registerBroadcaster(t, r, "")
	ident, _ := r.registry.Identity(b)

	v := registerViewer(t, r)
	v.mu.Lock()
	v.sent = nil
	v.mu.Unlock()

	b.Close()
	r.HandleDisconnect(b)

	msgs := v.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("viewer got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m["type"] != "broadcaster_status" || m["online"] != false {
		t.Errorf("unexpected teardown message: %v", m)
	}
	if m["broadcasterId"] != ident.ID {
		t.Errorf("broadcasterId = %v, want %v", m["broadcasterId"], ident.ID)
	}

	broadcasters, _ := r.registry.Counts()
	if broadcasters != 0 {
		t.Errorf("broadcasters = %d after disconnect, want 0", broadcasters)
	}
}

func TestHandleDisconnect_PhotographerViewer(t *testing.T) {
	r, _ := newTestRouter()

	holder := registerViewer(t, r)
	other := registerViewer(t, r)
	r.HandleMessage(holder, []byte(`{"type":"photographer_status","taken":true}`))

	other.mu.Lock()
	other.sent = nil
	other.mu.Unlock()

	holder.Close()
	r.HandleDisconnect(holder)

	msgs := other.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("remaining viewer got %d messages, want 1", len(msgs))
	}
	if msgs[0]["type"] != "photographer_status" || msgs[0]["taken"] != false {
		t.Errorf("unexpected release message: %v", msgs[0])
	}
}

func TestHandleDisconnect_PlainViewerSilent(t *testing.T) {
	r, _ := newTestRouter()

	v := registerViewer(t, r)
	other := registerViewer(t, r)
	other.mu.Lock()
	other.sent = nil
	other.mu.Unlock()

	v.Close()
	r.HandleDisconnect(v)

	if got := len(other.messages(t)); got != 0 {
		t.Errorf("viewer got %d messages for non-photographer departure, want 0", got)
	}
}

func TestHandleDisconnect_Unknown(t *testing.T) {
	r, _ := newTestRouter()

	// Never registered, never tracked; must be a no-op.
	r.HandleDisconnect(newFakeTransport())
}

func TestNotifySwept(t *testing.T) {
	r, _ := newTestRouter()

	v := registerViewer(t, r)
	v.mu.Lock()
	v.sent = nil
	v.mu.Unlock()

	r.NotifySwept(registry.SweepResult{
		BroadcasterIDs:       []string{"dead-1", "dead-2"},
		Viewers:              1,
		PhotographerReleased: true,
	})

	msgs := v.messages(t)
	if len(msgs) != 3 {
		t.Fatalf("viewer got %d sweep notifications, want 3", len(msgs))
	}
	if msgs[0]["type"] != "broadcaster_status" || msgs[0]["online"] != false {
		t.Errorf("unexpected first notification: %v", msgs[0])
	}
	if msgs[2]["type"] != "photographer_status" || msgs[2]["taken"] != false {
		t.Errorf("unexpected last notification: %v", msgs[2])
	}
}

func TestStatsCounters(t *testing.T) {
	r, _ := newTestRouter()

	b := registerBroadcaster(t, r, "")
	registerViewer(t, r)
	r.HandleMessage(b, []byte(`{"type":"frame","data":"x"}`))
	r.HandleMessage(b, []byte(`bad`))

	stats := r.Stats()
	if stats.Received != 4 {
		t.Errorf("Received = %d, want 4", stats.Received)
	}
	if stats.Routed != 3 {
		t.Errorf("Routed = %d, want 3", stats.Routed)
	}
	if stats.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", stats.ParseErrors)
	}
}
