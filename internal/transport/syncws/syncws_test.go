package syncws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fluxgrid/internal/protocol"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connect(t *testing.T, url, session, name string, onSnap func(protocol.SnapshotMsg)) *Channel {
	t.Helper()
	ch := NewChannel(ChannelConfig{
		URL:        url,
		SessionID:  session,
		ClientName: name,
		OnSnapshot: onSnap,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func TestPresenceMembership(t *testing.T) {
	hub, url := startHub(t)

	a := connect(t, url, "sess-1", "a", nil)
	waitFor(t, func() bool { return hub.Peers("sess-1") == 1 }, "first peer registered")

	b := connect(t, url, "sess-1", "b", nil)
	waitFor(t, func() bool { return hub.Peers("sess-1") == 2 }, "second peer registered")
	waitFor(t, func() bool { return a.Peers() == 2 }, "first peer sees updated membership")

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, func() bool { return hub.Peers("sess-1") == 1 }, "membership drops on leave")
}

func TestSessionsAreIsolated(t *testing.T) {
	_, url := startHub(t)

	got := make(chan protocol.SnapshotMsg, 8)
	connect(t, url, "sess-b", "listener", func(m protocol.SnapshotMsg) { got <- m })

	sender := connect(t, url, "sess-a", "sender", nil)
	sender.Broadcast(protocol.SnapshotPayload{ET: 1, SafetyStatus: "safe"})

	select {
	case m := <-got:
		t.Fatalf("snapshot crossed sessions: %+v", m)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBroadcastThrottle(t *testing.T) {
	_, url := startHub(t)

	got := make(chan protocol.SnapshotMsg, 32)
	connect(t, url, "sess-1", "receiver", func(m protocol.SnapshotMsg) { got <- m })

	sender := connect(t, url, "sess-1", "sender", nil)
	now := time.Unix(9000, 0)
	sender.SetClock(func() time.Time { return now })

	// 20 broadcasts inside 200 ms at a 100 ms gate: at most 2 sends.
	for i := 0; i < 10; i++ {
		sender.Broadcast(protocol.SnapshotPayload{ET: float64(i), SafetyStatus: "safe"})
	}
	now = now.Add(100 * time.Millisecond)
	for i := 10; i < 20; i++ {
		sender.Broadcast(protocol.SnapshotPayload{ET: float64(i), SafetyStatus: "safe"})
	}

	var received []protocol.SnapshotMsg
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case m := <-got:
			received = append(received, m)
		case <-deadline:
			break loop
		}
	}
	if len(received) != 2 {
		t.Fatalf("received %d snapshots, want 2", len(received))
	}
	if received[0].Payload.ET != 0 || received[1].Payload.ET != 10 {
		t.Fatalf("wrong snapshots passed the gate: %+v", received)
	}
	if received[0].From == "" {
		t.Fatalf("hub must stamp the sender id")
	}
}

func TestMalformedSnapshotDroppedSilently(t *testing.T) {
	_, url := startHub(t)

	got := make(chan protocol.SnapshotMsg, 8)
	connect(t, url, "sess-1", "receiver", func(m protocol.SnapshotMsg) { got <- m })

	// Raw peer: handshake by hand, then send garbage.
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		SessionID:       "sess-1",
	}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err != nil { // WELCOME
		t.Fatalf("welcome: %v", err)
	}

	bad := `{"type":"SNAPSHOT","session_id":"sess-1","payload":{"safety_status":"meltdown"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(bad)); err != nil {
		t.Fatalf("write bad: %v", err)
	}
	good := `{"type":"SNAPSHOT","protocol_version":"1.0","session_id":"sess-1","timestamp_ms":1,"payload":{"e_t":2.0,"safety_status":"warning"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(good)); err != nil {
		t.Fatalf("write good: %v", err)
	}

	select {
	case m := <-got:
		if m.Payload.SafetyStatus != "warning" {
			t.Fatalf("unexpected snapshot: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("valid snapshot after a malformed one was not delivered")
	}
	select {
	case m := <-got:
		t.Fatalf("malformed snapshot delivered: %+v", m)
	default:
	}
}

func TestBroadcastWhileDisconnected(t *testing.T) {
	ch := NewChannel(ChannelConfig{URL: "ws://127.0.0.1:0", SessionID: "s"})
	ch.Broadcast(protocol.SnapshotPayload{ET: 1, SafetyStatus: "safe"}) // must not panic
	if ch.Connected() {
		t.Fatalf("channel must report disconnected")
	}
	ch.TrackPresence(map[string]string{"role": "viewer"}) // no-op
}

func TestCloseFlipsConnectedSynchronously(t *testing.T) {
	_, url := startHub(t)
	ch := connect(t, url, "sess-1", "a", nil)
	if !ch.Connected() {
		t.Fatalf("expected connected after handshake")
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ch.Connected() {
		t.Fatalf("connected must be false immediately after Close")
	}
}
