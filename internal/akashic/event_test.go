package akashic

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalRoundTripIsFixedPoint(t *testing.T) {
	e := NewEvent(EventTaskCompleted, "worker-1", "run-1", map[string]interface{}{
		"result": map[string]interface{}{"path": "hello.txt"},
		"score":  0.5,
	})
	e.TaskID = "t1"
	e.Parents = []string{"p1", "p2"}
	require.NoError(t, e.Seal())

	first, err := e.CanonicalJSON()
	require.NoError(t, err)

	parsed, err := ParseEvent(first)
	require.NoError(t, err)
	second, err := parsed.CanonicalJSON()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second), "canonical serialization must be a fixed point under parse")
}

func TestParsePreservesUnknownFields(t *testing.T) {
	line := []byte(`{"actor":"queen","custom_field":{"a":1},"hash":"","id":"e1",` +
		`"parents":[],"payload":{},"prev_hash":null,"run_id":"run-1",` +
		`"timestamp":"2026-01-02T03:04:05Z","type":"task.created"}`)

	e, err := ParseEvent(line)
	require.NoError(t, err)
	require.Contains(t, e.Extra, "custom_field")

	out, err := e.CanonicalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"custom_field":{"a":1}`)
}

func TestHashIgnoresFieldOrder(t *testing.T) {
	base := NewEvent(EventRunStarted, "queen", "run-1", map[string]interface{}{"goal": "g"})
	h1, err := base.ComputeHash()
	require.NoError(t, err)

	// Same logical event reconstructed from its serialization hashes
	// identically.
	require.NoError(t, base.Seal())
	line, err := base.CanonicalJSON()
	require.NoError(t, err)
	parsed, err := ParseEvent(line)
	require.NoError(t, err)
	h2, err := parsed.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestEventIDsAreTimeOrdered(t *testing.T) {
	a := NewEventID()
	time.Sleep(2 * time.Millisecond)
	b := NewEventID()
	assert.Less(t, a, b, "UUIDv7 ids sort by creation time")
}

func TestDecodeUnknownType(t *testing.T) {
	known := NewEvent(EventTaskCreated, "queen", "run-1", nil)
	_, ok := Decode(known).(KnownEvent)
	assert.True(t, ok)

	future := NewEvent(EventType("holo.deck_engaged"), "queen", "run-1",
		map[string]interface{}{"program": "42"})
	v := Decode(future)
	u, ok := v.(UnknownEvent)
	require.True(t, ok, "unknown discriminant must map to UnknownEvent, not fail")
	assert.Equal(t, "42", u.Event.PayloadString("program"))
}

func TestProjectionDeterminism(t *testing.T) {
	events := []*Event{
		NewEvent(EventRunStarted, "queen", "run-1", map[string]interface{}{"goal": "write hello"}),
		NewEvent(EventTaskCreated, "queen", "run-1", map[string]interface{}{"task_id": "t1", "title": "create file"}),
		NewEvent(EventTaskAssigned, "queen", "run-1", map[string]interface{}{"task_id": "t1", "assignee": "worker-1"}),
		NewEvent(EventTaskProgressed, "worker-1", "run-1", map[string]interface{}{"task_id": "t1", "progress": 50.0}),
		NewEvent(EventTaskCompleted, "worker-1", "run-1", map[string]interface{}{"task_id": "t1", "result": map[string]interface{}{"path": "hello.txt"}}),
		NewEvent(EventRunCompleted, "queen", "run-1", nil),
	}

	p1 := Project("run-1", events)
	p2 := Project("run-1", events)
	if diff := cmp.Diff(p1, p2); diff != "" {
		t.Errorf("projection is not deterministic (-first +second):\n%s", diff)
	}

	assert.Equal(t, RunCompleted, p1.Status)
	assert.Equal(t, 6, p1.EventCount)
	require.Contains(t, p1.Tasks, "t1")
	assert.Equal(t, TaskCompleted, p1.Tasks["t1"].Status)
	assert.Empty(t, p1.IncompleteTaskIDs())
}

func TestProjectionRetryAndUnknowns(t *testing.T) {
	events := []*Event{
		NewEvent(EventTaskCreated, "queen", "run-1", map[string]interface{}{"task_id": "t1"}),
		NewEvent(EventTaskAssigned, "queen", "run-1", map[string]interface{}{"task_id": "t1", "assignee": "w"}),
		NewEvent(EventTaskFailed, "w", "run-1", map[string]interface{}{"task_id": "t1", "reason": "boom"}),
		NewEvent(EventTaskCreated, "queen", "run-1", map[string]interface{}{"task_id": "t1"}),
		NewEvent(EventType("future.thing"), "queen", "run-1", nil),
	}
	p := Project("run-1", events)

	assert.Equal(t, TaskPending, p.Tasks["t1"].Status)
	assert.Equal(t, 1, p.Tasks["t1"].RetryCount, "re-creation after failure counts a retry")
	assert.Equal(t, "boom", p.Tasks["t1"].Error)
	assert.Equal(t, 1, p.UnknownCount)
	assert.Equal(t, []string{"t1"}, p.IncompleteTaskIDs())
}

func TestLineageBoundedWalk(t *testing.T) {
	log := newTestLog(t)

	a, err := log.Append("run-1", NewEvent(EventRunStarted, "queen", "run-1", nil))
	require.NoError(t, err)
	b, err := log.Append("run-1", NewEvent(EventTaskCreated, "queen", "run-1", nil))
	require.NoError(t, err)

	c := NewEvent(EventTaskCompleted, "worker-1", "run-1", nil)
	c.Parents = []string{b.ID}
	c, err = log.Append("run-1", c)
	require.NoError(t, err)

	full, err := Lineage(log, c.ID, 10)
	require.NoError(t, err)
	assert.False(t, full.Truncated)
	ids := []string{}
	for _, anc := range full.Ancestors {
		ids = append(ids, anc.ID)
	}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)

	shallow, err := Lineage(log, c.ID, 1)
	require.NoError(t, err)
	assert.True(t, shallow.Truncated, "depth bound must truncate, never recurse forever")
	assert.Len(t, shallow.Ancestors, 1)
}
