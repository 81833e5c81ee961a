// Package syncws carries the realtime sync channel: a websocket hub that
// relays derived-state snapshots between the peers of a session, plus the
// client channel used to talk to it.
package syncws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fluxgrid/internal/persistence"
	"fluxgrid/internal/protocol"
)

// Hub is the broadcast/subscribe relay, one logical channel per session id.
type Hub struct {
	log *log.Logger
	rec *persistence.Tiered

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id    string
	peers map[string]*peer
}

type peer struct {
	id   string
	name string
	out  chan []byte
	meta map[string]string
}

// NewHub builds a hub. rec may be nil; relayed snapshots are recorded
// best-effort.
func NewHub(logger *log.Logger, rec *persistence.Tiered) *Hub {
	return &Hub{
		log: logger,
		rec: rec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}
}

// Peers reports the current membership count of a session.
func (h *Hub) Peers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.sessions[sessionID]
	if s == nil {
		return 0
	}
	return len(s.peers)
}

// Handler upgrades a connection, runs the HELLO handshake and relays
// messages until the peer disconnects.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		p, sessionID, ok := h.handshake(conn)
		if !ok {
			return
		}
		defer h.leave(sessionID, p.id)

		done := make(chan struct{})
		defer close(done)

		// Writer goroutine: the only writer on this conn after handshake.
		go func() {
			for {
				select {
				case <-done:
					return
				case b, ok := <-p.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeSnapshot:
				h.relaySnapshot(sessionID, p.id, msg)
			case protocol.TypePresence:
				h.updatePresence(sessionID, p.id, msg)
			default:
				// Unknown types are dropped silently.
			}
		}
	}
}

func (h *Hub) handshake(conn *websocket.Conn) (*peer, string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, "", false
	}
	_ = conn.SetReadDeadline(time.Time{})

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"),
			time.Now().Add(time.Second))
		return nil, "", false
	}
	if hello.ProtocolVersion != protocol.Version || hello.SessionID == "" {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad HELLO"),
			time.Now().Add(time.Second))
		return nil, "", false
	}

	p := &peer{
		id:   fmt.Sprintf("P%d", h.nextID.Add(1)),
		name: hello.ClientName,
		out:  make(chan []byte, 64),
		meta: hello.Meta,
	}

	h.mu.Lock()
	s := h.sessions[hello.SessionID]
	if s == nil {
		s = &session{id: hello.SessionID, peers: map[string]*peer{}}
		h.sessions[hello.SessionID] = s
	}
	s.peers[p.id] = p
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       hello.SessionID,
		PeerID:          p.id,
		Peers:           len(s.peers),
	}
	h.mu.Unlock()

	b, _ := json.Marshal(welcome)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		h.leave(hello.SessionID, p.id)
		return nil, "", false
	}

	h.fanoutPresence(hello.SessionID)
	return p, hello.SessionID, true
}

func (h *Hub) leave(sessionID, peerID string) {
	h.mu.Lock()
	if s := h.sessions[sessionID]; s != nil {
		delete(s.peers, peerID)
		if len(s.peers) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()
	h.fanoutPresence(sessionID)
}

// relaySnapshot validates, stamps the sender and fans the snapshot out to
// the other peers of the session. Malformed payloads are dropped silently.
func (h *Hub) relaySnapshot(sessionID, fromID string, raw []byte) {
	msg, err := protocol.ValidateSnapshot(raw)
	if err != nil {
		return
	}
	if msg.SessionID != sessionID {
		return
	}
	msg.From = fromID
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	s := h.sessions[sessionID]
	if s == nil {
		h.mu.Unlock()
		return
	}
	for id, p := range s.peers {
		if id == fromID {
			continue
		}
		sendLatest(p.out, b)
	}
	h.mu.Unlock()

	if h.rec != nil {
		h.rec.Append(persistence.Record{Kind: persistence.KindSyncSnapshot, Payload: msg})
	}
}

func (h *Hub) updatePresence(sessionID, peerID string, raw []byte) {
	var upd protocol.PresenceUpdateMsg
	if err := json.Unmarshal(raw, &upd); err != nil || upd.SessionID != sessionID {
		return
	}
	h.mu.Lock()
	if s := h.sessions[sessionID]; s != nil {
		if p := s.peers[peerID]; p != nil {
			p.meta = upd.Meta
		}
	}
	h.mu.Unlock()
	h.fanoutPresence(sessionID)
}

// fanoutPresence recomputes membership and pushes a PRESENCE message to
// every peer of the session.
func (h *Hub) fanoutPresence(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.sessions[sessionID]
	if s == nil {
		return
	}
	metas := make(map[string]map[string]string, len(s.peers))
	for id, p := range s.peers {
		if p.meta != nil {
			metas[id] = p.meta
		}
	}
	msg := protocol.PresenceMsg{
		Type:            protocol.TypePresence,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Peers:           len(s.peers),
		Metas:           metas,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, p := range s.peers {
		sendLatest(p.out, b)
	}
}

// sendLatest drops the oldest queued message when the peer's buffer is
// full; a slow dashboard only ever lags, it never stalls the hub.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
