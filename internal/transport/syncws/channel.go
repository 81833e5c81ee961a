package syncws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fluxgrid/internal/protocol"
)

// ChannelConfig configures the client side of the sync channel.
type ChannelConfig struct {
	URL        string
	SessionID  string
	ClientName string
	// MinInterval is the broadcast throttle gate; sends inside the window
	// are silently dropped, never queued. Zero selects 100 ms.
	MinInterval time.Duration
	Logger      *log.Logger

	// OnSnapshot surfaces inbound peer snapshots. Received state is never
	// auto-applied.
	OnSnapshot func(protocol.SnapshotMsg)
	// OnPresence reports the session's membership count on every change.
	OnPresence func(peers int)
}

// Channel is one peer's connection to the hub.
type Channel struct {
	cfg ChannelConfig
	now func() time.Time

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	lastSend  time.Time
	peerID    string
	peers     int
}

func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 100 * time.Millisecond
	}
	return &Channel{cfg: cfg, now: time.Now}
}

// SetClock overrides the throttle's time source for tests.
func (c *Channel) SetClock(now func() time.Time) { c.now = now }

// Connect dials the hub, performs the HELLO/WELCOME handshake and starts
// the reader.
func (c *Channel) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("sync dial: %w", err)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		SessionID:       c.cfg.SessionID,
		ClientName:      c.cfg.ClientName,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("sync hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("sync welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(raw, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return fmt.Errorf("sync: expected WELCOME")
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.peerID = welcome.PeerID
	c.peers = welcome.Peers
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.connected = false
			}
			c.mu.Unlock()
			return
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeSnapshot:
			msg, err := protocol.ValidateSnapshot(raw)
			if err != nil {
				// Malformed payloads are dropped silently.
				continue
			}
			if cb := c.cfg.OnSnapshot; cb != nil {
				cb(msg)
			}
		case protocol.TypePresence:
			var pres protocol.PresenceMsg
			if err := json.Unmarshal(raw, &pres); err != nil {
				continue
			}
			c.mu.Lock()
			c.peers = pres.Peers
			c.mu.Unlock()
			if cb := c.cfg.OnPresence; cb != nil {
				cb(pres.Peers)
			}
		}
	}
}

// Broadcast shares a derived-state snapshot with the session's peers. Calls
// inside the throttle window are silent no-ops; calls while disconnected
// are logged no-ops. Nothing is ever queued or retried.
func (c *Channel) Broadcast(payload protocol.SnapshotPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Printf("sync: broadcast while disconnected, dropping")
		}
		return
	}
	now := c.now()
	if !c.lastSend.IsZero() && now.Sub(c.lastSend) < c.cfg.MinInterval {
		return
	}
	// The gate has passed: the timestamp advances even if the write fails.
	c.lastSend = now

	msg := protocol.SnapshotMsg{
		Type:            protocol.TypeSnapshot,
		ProtocolVersion: protocol.Version,
		SessionID:       c.cfg.SessionID,
		TimestampMs:     now.UnixMilli(),
		Payload:         payload,
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Printf("sync: broadcast failed: %v", err)
	}
}

// TrackPresence updates this peer's presence metadata; a no-op while
// disconnected.
func (c *Channel) TrackPresence(meta map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	msg := protocol.PresenceUpdateMsg{
		Type:            protocol.TypePresence,
		ProtocolVersion: protocol.Version,
		SessionID:       c.cfg.SessionID,
		Meta:            meta,
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Printf("sync: presence update failed: %v", err)
	}
}

// Connected reports the channel's observable connection state.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// PeerID returns the id the hub assigned on welcome.
func (c *Channel) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Peers returns the last observed membership count.
func (c *Channel) Peers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers
}

// Close tears the connection down. connected flips to false synchronously;
// the reader goroutine exits on the closed socket.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
