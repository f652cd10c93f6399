package akashic

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := NewLog(t.TempDir(), 2*time.Second)
	require.NoError(t, err)
	return log
}

func TestAppendChainsHashes(t *testing.T) {
	log := newTestLog(t)

	first, err := log.Append("run-1", NewEvent(EventRunStarted, "queen", "run-1", map[string]interface{}{"goal": "g"}))
	require.NoError(t, err)
	assert.Empty(t, first.PrevHash, "first event must have null prev_hash")
	assert.NotEmpty(t, first.Hash)

	second, err := log.Append("run-1", NewEvent(EventTaskCreated, "queen", "run-1", nil))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)

	ok, reason, err := log.VerifyChain("run-1")
	require.NoError(t, err)
	assert.True(t, ok, reason)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	log := newTestLog(t)
	for i := 0; i < 3; i++ {
		_, err := log.Append("run-1", NewEvent(EventSystemHeartbeat, "queen", "run-1", nil))
		require.NoError(t, err)
	}

	path, err := log.StreamPath("run-1")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	tampered := bytes.Replace(data, []byte(`"system.heartbeat"`), []byte(`"system.tampered00"`), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	ok, reason, err := log.VerifyChain("run-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "hash mismatch")
}

func TestAppendRecoversTailPastLargeEvent(t *testing.T) {
	// An event larger than the initial 8 KiB window forces the backward
	// scan to widen before it finds a complete line.
	log := newTestLog(t)

	big := NewEvent(EventTaskCompleted, "worker-1", "run-1", map[string]interface{}{
		"result": strings.Repeat("x", 32*1024),
	})
	sealed, err := log.Append("run-1", big)
	require.NoError(t, err)

	next, err := log.Append("run-1", NewEvent(EventRunCompleted, "queen", "run-1", nil))
	require.NoError(t, err)
	assert.Equal(t, sealed.Hash, next.PrevHash)
}

func TestAppendSkipsBrokenLastLine(t *testing.T) {
	log := newTestLog(t)
	sealed, err := log.Append("run-1", NewEvent(EventRunStarted, "queen", "run-1", nil))
	require.NoError(t, err)

	// Simulate a crash mid-write: a truncated JSON fragment with no
	// trailing newline.
	path, err := log.StreamPath("run-1")
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"broken","type":"task.cre`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	next, err := log.Append("run-1", NewEvent(EventRunCompleted, "queen", "run-1", nil))
	require.NoError(t, err)
	assert.Equal(t, sealed.Hash, next.PrevHash, "broken tail line must be skipped, not chained to")
}

func TestTailWindowStripsContinuationBytes(t *testing.T) {
	// Multibyte payload text makes window boundaries land inside code
	// points; the tail scan must still find the last line.
	log := newTestLog(t)
	filler := strings.Repeat("ログイン機能を作って", 600) // well past 8 KiB of UTF-8
	_, err := log.Append("run-1", NewEvent(EventTaskCreated, "queen", "run-1", map[string]interface{}{"title": filler}))
	require.NoError(t, err)
	last, err := log.Append("run-1", NewEvent(EventTaskCompleted, "queen", "run-1", map[string]interface{}{"note": filler}))
	require.NoError(t, err)

	got, err := log.LastEvent("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, last.ID, got.ID)
}

func TestStreamIDValidation(t *testing.T) {
	log := newTestLog(t)
	for _, id := range []string{"../escape", "a/b", "", "run 1", "run\x001"} {
		_, err := log.Append(id, NewEvent(EventRunStarted, "queen", "r", nil))
		assert.ErrorIs(t, err, ErrInvalidStreamID, "id %q", id)
	}
	_, err := log.Append("Run_1-ok", NewEvent(EventRunStarted, "queen", "r", nil))
	assert.NoError(t, err)
}

func TestReplaySince(t *testing.T) {
	log := newTestLog(t)
	early := NewEvent(EventRunStarted, "queen", "run-1", nil)
	early.Timestamp = time.Now().UTC().Add(-time.Hour)
	_, err := log.Append("run-1", early)
	require.NoError(t, err)
	_, err = log.Append("run-1", NewEvent(EventSystemHeartbeat, "queen", "run-1", nil))
	require.NoError(t, err)

	all, err := log.Replay("run-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	recent, err := log.ReplaySince("run-1", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	assert.Equal(t, EventSystemHeartbeat, recent[0].Type)
}

func TestVaultLayout(t *testing.T) {
	log := newTestLog(t)
	_, err := log.Append("run-1", NewEvent(EventRunStarted, "queen", "run-1", nil))
	require.NoError(t, err)
	_, err = log.Append("hive-main", NewEvent(EventColonyCreated, "beekeeper", "hive-main", nil))
	require.NoError(t, err)

	// Run streams sit at the vault root; hive streams under hives/.
	assert.FileExists(t, filepath.Join(log.Root(), "run-1", "events.jsonl"))
	assert.FileExists(t, filepath.Join(log.Root(), "hives", "hive-main", "events.jsonl"))

	ids, err := log.ListStreams()
	require.NoError(t, err)
	assert.Equal(t, []string{"hive-main", "run-1"}, ids)
}

func TestListStreamsAndExport(t *testing.T) {
	log := newTestLog(t)
	for _, id := range []string{"beta", "alpha"} {
		_, err := log.Append(id, NewEvent(EventRunStarted, "queen", id, nil))
		require.NoError(t, err)
	}

	ids, err := log.ListStreams()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)

	var buf bytes.Buffer
	require.NoError(t, log.ExportStream("alpha", &buf))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	err = log.ExportStream("missing", &buf)
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestLockTimeout(t *testing.T) {
	log, err := NewLog(t.TempDir(), 100*time.Millisecond)
	require.NoError(t, err)

	path, err := log.StreamPath("run-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	// Hold the sidecar as another process would.
	require.NoError(t, os.WriteFile(path+".lock", []byte("9999"), 0o644))

	_, err = log.Append("run-1", NewEvent(EventRunStarted, "queen", "run-1", nil))
	assert.ErrorIs(t, err, ErrLockTimeout)
}
