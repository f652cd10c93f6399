package hive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/messenger"
	"github.com/k-iijima/hiveforge/internal/sentinel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newMonitorFixture(t *testing.T) (*Monitor, *akashic.Log) {
	t.Helper()
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)
	gov := config.Default().Governance
	gov.MaxLoopCount = 5
	return NewMonitor(log, sentinel.NewScanner(gov)), log
}

func appendEvent(t *testing.T, log *akashic.Log, runID string, typ akashic.EventType, payload map[string]interface{}) {
	t.Helper()
	_, err := log.Append(runID, akashic.NewEvent(typ, "test", runID, payload))
	require.NoError(t, err)
}

func eventTypes(t *testing.T, log *akashic.Log, runID string) []akashic.EventType {
	t.Helper()
	events, err := log.Replay(runID)
	require.NoError(t, err)
	out := make([]akashic.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestAlertPrecedesSuspension(t *testing.T) {
	m, log := newMonitorFixture(t)

	msgr := messenger.NewMessenger()
	locks := messenger.NewLockManager()
	q := NewQueen("col-1", log, msgr, locks)
	m.AttachQueen(q)

	msgr.Register("peer")
	_, err := msgr.Send("peer", "col-1", "work", nil, messenger.PriorityNormal, "")
	require.NoError(t, err)
	require.True(t, locks.TryAcquire("db", "col-1"))

	appendEvent(t, log, "run-1", akashic.EventRunStarted, map[string]interface{}{"goal": "g"})
	for i := 0; i < 6; i++ {
		appendEvent(t, log, "run-1", akashic.EventTaskFailed, map[string]interface{}{"task_id": "x", "reason": "boom"})
	}

	alerts, err := m.ScanNow("run-1")
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, sentinel.AlertLoopDetected, alerts[0].AlertType)
	assert.Equal(t, sentinel.SeverityCritical, alerts[0].Severity)

	types := eventTypes(t, log, "run-1")
	alertIdx, suspendIdx := -1, -1
	for i, typ := range types {
		if typ == akashic.EventSentinelAlertRaised && alertIdx == -1 {
			alertIdx = i
		}
		if typ == akashic.EventColonySuspended && suspendIdx == -1 {
			suspendIdx = i
		}
	}
	require.NotEqual(t, -1, alertIdx)
	require.NotEqual(t, -1, suspendIdx)
	assert.Less(t, alertIdx, suspendIdx, "the alert is appended before the suspension it causes")

	// The suspended colony drained: queue discarded, locks released.
	assert.Equal(t, 0, msgr.Pending("col-1"))
	assert.Empty(t, locks.Holder("db"))
}

func TestAlertsAreRaisedOnce(t *testing.T) {
	m, log := newMonitorFixture(t)

	appendEvent(t, log, "run-1", akashic.EventRunStarted, nil)
	for i := 0; i < 6; i++ {
		appendEvent(t, log, "run-1", akashic.EventTaskFailed, map[string]interface{}{"task_id": "x"})
	}

	first, err := m.ScanNow("run-1")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := m.ScanNow("run-1")
	require.NoError(t, err)
	assert.Empty(t, second, "a raised alert is not re-raised")

	count := 0
	for _, typ := range eventTypes(t, log, "run-1") {
		if typ == akashic.EventSentinelAlertRaised {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestWatchRaisesAlertsAsEventsArrive(t *testing.T) {
	m, log := newMonitorFixture(t)

	appendEvent(t, log, "run-1", akashic.EventRunStarted, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_ = m.Watch(ctx, "run-1")
	}()

	// Give the watcher a moment to establish its directory watch.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 6; i++ {
		appendEvent(t, log, "run-1", akashic.EventTaskFailed, map[string]interface{}{"task_id": "x"})
	}

	require.Eventually(t, func() bool {
		for _, typ := range eventTypes(t, log, "run-1") {
			if typ == akashic.EventColonySuspended {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "the watcher-driven scan suspends the colony")

	cancel()
	<-watchDone
}
