package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// snapshotSchema constrains inbound SNAPSHOT messages. Anything that fails
// here is dropped silently by the transport.
const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "session_id", "payload"],
  "properties": {
    "type": {"const": "SNAPSHOT"},
    "protocol_version": {"type": "string"},
    "session_id": {"type": "string", "minLength": 1},
    "from": {"type": "string"},
    "timestamp_ms": {"type": "integer"},
    "payload": {
      "type": "object",
      "required": ["e_t", "safety_status"],
      "properties": {
        "e_t": {"type": "number"},
        "energy_growth_rate": {"type": "number"},
        "readiness": {"type": "number"},
        "success_probability_pct": {"type": "number"},
        "safety_status": {"type": "string", "enum": ["safe", "warning", "emergency"]},
        "energy_trend": {"type": "string"}
      }
    }
  }
}`

var compiledSnapshotSchema = jsonschema.MustCompileString("snapshot.schema.json", snapshotSchema)

// ValidateSnapshot checks a raw SNAPSHOT message against the schema and
// decodes it on success.
func ValidateSnapshot(raw []byte) (SnapshotMsg, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return SnapshotMsg{}, fmt.Errorf("snapshot: %w", err)
	}
	if err := compiledSnapshotSchema.Validate(generic); err != nil {
		return SnapshotMsg{}, fmt.Errorf("snapshot: %w", err)
	}
	var msg SnapshotMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return SnapshotMsg{}, fmt.Errorf("snapshot: %w", err)
	}
	return msg, nil
}
