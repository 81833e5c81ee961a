package protocol

// HELLO (client -> hub): joins the logical channel for a session.
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	SessionID       string            `json:"session_id"`
	ClientName      string            `json:"client_name,omitempty"`
	Meta            map[string]string `json:"meta,omitempty"`
}

// WELCOME (hub -> client).
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	PeerID          string `json:"peer_id"`
	Peers           int    `json:"peers"`
}

// SnapshotPayload is the derived-state snapshot shared across peers. It is
// advisory: receivers surface it via callback and never auto-apply it.
type SnapshotPayload struct {
	ET                 float64 `json:"e_t"`
	GrowthRate         float64 `json:"energy_growth_rate"`
	Readiness          float64 `json:"readiness"`
	SuccessProbability float64 `json:"success_probability_pct"`
	SafetyStatus       string  `json:"safety_status"`
	Trend              string  `json:"energy_trend,omitempty"`
}

// SNAPSHOT (client -> hub -> peers). TimestampMs and From are stamped by
// the sender and hub respectively.
type SnapshotMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	From            string          `json:"from,omitempty"`
	TimestampMs     int64           `json:"timestamp_ms"`
	Payload         SnapshotPayload `json:"payload"`
}

// PRESENCE (hub -> clients): membership changed. Metas carries the latest
// presence metadata per peer id.
type PresenceMsg struct {
	Type            string                       `json:"type"`
	ProtocolVersion string                       `json:"protocol_version"`
	SessionID       string                       `json:"session_id"`
	Peers           int                          `json:"peers"`
	Metas           map[string]map[string]string `json:"metas,omitempty"`
}

// PRESENCE (client -> hub): updates this peer's metadata.
type PresenceUpdateMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	SessionID       string            `json:"session_id"`
	Meta            map[string]string `json:"meta"`
}
