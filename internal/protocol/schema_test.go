package protocol

import "testing"

func TestValidateSnapshotAcceptsWellFormed(t *testing.T) {
	raw := []byte(`{
	  "type":"SNAPSHOT",
	  "protocol_version":"1.0",
	  "session_id":"sess-1",
	  "timestamp_ms":1700000000000,
	  "payload":{"e_t":1.25,"energy_growth_rate":4.2,"readiness":88,"success_probability_pct":79,"safety_status":"safe"}
	}`)
	msg, err := ValidateSnapshot(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if msg.SessionID != "sess-1" {
		t.Fatalf("session id = %q, want sess-1", msg.SessionID)
	}
	if msg.Payload.ET != 1.25 {
		t.Fatalf("e_t = %v, want 1.25", msg.Payload.ET)
	}
}

func TestValidateSnapshotRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing payload", `{"type":"SNAPSHOT","session_id":"s"}`},
		{"empty session", `{"type":"SNAPSHOT","session_id":"","payload":{"e_t":1,"safety_status":"safe"}}`},
		{"bad status", `{"type":"SNAPSHOT","session_id":"s","payload":{"e_t":1,"safety_status":"meltdown"}}`},
		{"e_t as string", `{"type":"SNAPSHOT","session_id":"s","payload":{"e_t":"1.0","safety_status":"safe"}}`},
		{"wrong type", `{"type":"HELLO","session_id":"s","payload":{"e_t":1,"safety_status":"safe"}}`},
	}
	for _, c := range cases {
		if _, err := ValidateSnapshot([]byte(c.raw)); err == nil {
			t.Fatalf("%s: expected rejection", c.name)
		}
	}
}
