// Package akashic implements the Akashic Record: the append-only,
// hash-chained, replayable event log that is HiveForge's single source of
// truth, together with the typed event taxonomy and the deterministic
// projections folded from it.
//
// Every stream is one JSONL file under the vault. Events are never mutated
// and never deleted; state is always a pure function of a stream's events.
package akashic

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Event is one immutable record in a stream.
//
// Hash is the SHA-256 digest of the canonical JSON serialization of all
// fields except hash itself. PrevHash chains events within a stream;
// Parents records causal antecedents across streams and is independent of
// the chain.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	RunID     string                 `json:"run_id"`
	TaskID    string                 `json:"task_id,omitempty"`
	ColonyID  string                 `json:"colony_id,omitempty"`
	WorkerID  string                 `json:"worker_id,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	Hash      string                 `json:"hash"`
	PrevHash  string                 `json:"prev_hash"` // empty means null (first event)
	Parents   []string               `json:"parents"`

	// Extra preserves unknown top-level fields across parse/serialize
	// round trips (readers MUST preserve unknown fields).
	Extra map[string]json.RawMessage `json:"-"`
}

// NewEvent creates an unsealed event with a fresh time-ordered id.
// The hash is assigned by Log.Append once the chain position is known.
func NewEvent(eventType EventType, actor, runID string, payload map[string]interface{}) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:        NewEventID(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		RunID:     runID,
		Payload:   payload,
	}
}

// NewEventID returns a UUIDv7: 128-bit, millisecond time-ordered, and
// lexicographically sortable in its canonical string form.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4
		// rather than panicking in the append path.
		return uuid.NewString()
	}
	return id.String()
}

// canonicalMap builds the serialization map with keys in their natural
// (sorted-by-encoding/json) order. includeHash=false is the digest input.
func (e *Event) canonicalMap(includeHash bool) map[string]interface{} {
	m := make(map[string]interface{}, 12+len(e.Extra))
	m["id"] = e.ID
	m["type"] = string(e.Type)
	m["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	m["actor"] = e.Actor
	m["run_id"] = e.RunID
	if e.TaskID != "" {
		m["task_id"] = e.TaskID
	}
	if e.ColonyID != "" {
		m["colony_id"] = e.ColonyID
	}
	if e.WorkerID != "" {
		m["worker_id"] = e.WorkerID
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	m["payload"] = payload
	if e.PrevHash == "" {
		m["prev_hash"] = nil
	} else {
		m["prev_hash"] = e.PrevHash
	}
	parents := e.Parents
	if parents == nil {
		parents = []string{}
	}
	m["parents"] = parents
	if includeHash {
		m["hash"] = e.Hash
	}
	for k, raw := range e.Extra {
		if _, taken := m[k]; !taken {
			m[k] = raw
		}
	}
	return m
}

// CanonicalJSON returns the canonical serialization of the sealed event:
// one JSON object with keys sorted, suitable for a log line.
func (e *Event) CanonicalJSON() ([]byte, error) {
	return json.Marshal(e.canonicalMap(true))
}

// ComputeHash returns the SHA-256 hex digest of the canonical serialization
// with the hash field omitted.
func (e *Event) ComputeHash() (string, error) {
	data, err := json.Marshal(e.canonicalMap(false))
	if err != nil {
		return "", fmt.Errorf("canonicalize event %s: %w", e.ID, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and assigns the event hash. PrevHash must be set first.
func (e *Event) Seal() error {
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// VerifyHash recomputes the digest and compares it to the stored hash.
func (e *Event) VerifyHash() error {
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	if h != e.Hash {
		return fmt.Errorf("event %s: hash mismatch (stored %s, computed %s)", e.ID, e.Hash, h)
	}
	return nil
}

// knownEventFields are the base-schema keys; everything else is preserved
// verbatim in Extra.
var knownEventFields = map[string]bool{
	"id": true, "type": true, "timestamp": true, "actor": true,
	"run_id": true, "task_id": true, "colony_id": true, "worker_id": true,
	"payload": true, "hash": true, "prev_hash": true, "parents": true,
}

// ParseEvent decodes one serialized log line into an Event, preserving any
// unknown top-level fields. Unknown event types parse normally; taxonomy
// dispatch (Decode) is where they become UnknownEvent variants.
func ParseEvent(line []byte) (*Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("parse event line: %w", err)
	}

	e := &Event{}
	if err := unmarshalField(raw, "id", &e.ID); err != nil {
		return nil, err
	}
	var typ string
	if err := unmarshalField(raw, "type", &typ); err != nil {
		return nil, err
	}
	e.Type = EventType(typ)

	var ts string
	if err := unmarshalField(raw, "timestamp", &ts); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse event %s timestamp: %w", e.ID, err)
	}
	e.Timestamp = parsed

	_ = unmarshalField(raw, "actor", &e.Actor)
	_ = unmarshalField(raw, "run_id", &e.RunID)
	_ = unmarshalField(raw, "task_id", &e.TaskID)
	_ = unmarshalField(raw, "colony_id", &e.ColonyID)
	_ = unmarshalField(raw, "worker_id", &e.WorkerID)
	_ = unmarshalField(raw, "hash", &e.Hash)

	if prev, ok := raw["prev_hash"]; ok && string(prev) != "null" {
		if err := json.Unmarshal(prev, &e.PrevHash); err != nil {
			return nil, fmt.Errorf("parse event %s prev_hash: %w", e.ID, err)
		}
	}
	if p, ok := raw["payload"]; ok {
		if err := json.Unmarshal(p, &e.Payload); err != nil {
			return nil, fmt.Errorf("parse event %s payload: %w", e.ID, err)
		}
	}
	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
	if p, ok := raw["parents"]; ok && string(p) != "null" {
		if err := json.Unmarshal(p, &e.Parents); err != nil {
			return nil, fmt.Errorf("parse event %s parents: %w", e.ID, err)
		}
	}

	for k, v := range raw {
		if !knownEventFields[k] {
			if e.Extra == nil {
				e.Extra = make(map[string]json.RawMessage)
			}
			e.Extra[k] = v
		}
	}
	return e, nil
}

func unmarshalField(raw map[string]json.RawMessage, key string, dst *string) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("parse event field %q: %w", key, err)
	}
	return nil
}

// PayloadString reads a string payload field, returning "" when absent or
// of another type.
func (e *Event) PayloadString(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadFloat reads a numeric payload field. JSON numbers decode to
// float64; integer-typed values stored by producers are accepted too.
func (e *Event) PayloadFloat(key string) float64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// PayloadBool reads a boolean payload field.
func (e *Event) PayloadBool(key string) bool {
	v, _ := e.Payload[key].(bool)
	return v
}

// SortEventsByID orders events by their lexicographically sortable ids.
// UUIDv7 ids make this a time order.
func SortEventsByID(events []*Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
}
