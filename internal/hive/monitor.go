package hive

import (
	"context"
	"fmt"
	"sync"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/sentinel"
)

// monitorWindow bounds how many recent events each scan considers.
const monitorWindow = 256

// Monitor connects the stream watcher to the sentinel scanner. Every
// raised alert is appended to the stream before any suspension it
// causes, so replay always shows the cause ahead of the effect.
type Monitor struct {
	Log     *akashic.Log
	Scanner *sentinel.Scanner

	mu     sync.Mutex
	queens map[string]*Queen
	raised map[string]bool
	recent map[string][]*akashic.Event
}

// NewMonitor creates a monitor over the log.
func NewMonitor(log *akashic.Log, scanner *sentinel.Scanner) *Monitor {
	return &Monitor{
		Log:     log,
		Scanner: scanner,
		queens:  map[string]*Queen{},
		raised:  map[string]bool{},
		recent:  map[string][]*akashic.Event{},
	}
}

// AttachQueen lets the monitor drain the queen's colony on suspension.
func (m *Monitor) AttachQueen(q *Queen) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queens[q.ColonyID] = q
}

// Watch tails the run's stream until the context is cancelled, scanning
// after each appended event. Blocks; run it in its own goroutine.
func (m *Monitor) Watch(ctx context.Context, runID string) error {
	w, err := akashic.NewWatcher(m.Log, runID)
	if err != nil {
		return classify(err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		case e, ok := <-w.Events():
			if !ok {
				return nil
			}
			m.observe(runID, e)
			m.scan(runID, m.window(runID))
		}
	}
}

// ScanNow synchronously replays the stream and raises any findings.
func (m *Monitor) ScanNow(runID string) ([]sentinel.Alert, error) {
	events, err := m.Log.Replay(runID)
	if err != nil {
		return nil, classify(err)
	}
	if len(events) > monitorWindow {
		events = events[len(events)-monitorWindow:]
	}
	return m.scan(runID, events), nil
}

func (m *Monitor) observe(runID string, e *akashic.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := append(m.recent[runID], e)
	if len(window) > monitorWindow {
		window = window[len(window)-monitorWindow:]
	}
	m.recent[runID] = window
}

func (m *Monitor) window(runID string) []*akashic.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recent[runID]
}

// scan runs the detectors and handles each new alert: append the alert
// event, then suspend on critical severity.
func (m *Monitor) scan(runID string, events []*akashic.Event) []sentinel.Alert {
	var newAlerts []sentinel.Alert
	for _, alert := range m.Scanner.Scan(events) {
		key := fmt.Sprintf("%s/%s/%s/%s", runID, alert.AlertType, alert.TaskID, alert.ColonyID)
		m.mu.Lock()
		seen := m.raised[key]
		m.raised[key] = true
		m.mu.Unlock()
		if seen {
			continue
		}
		newAlerts = append(newAlerts, alert)
		m.raise(runID, alert)
	}
	return newAlerts
}

func (m *Monitor) raise(runID string, alert sentinel.Alert) {
	e := akashic.NewEvent(akashic.EventSentinelAlertRaised, "sentinel", runID, map[string]interface{}{
		"alert_type": alert.AlertType,
		"severity":   alert.Severity,
		"message":    alert.Message,
		"task_id":    alert.TaskID,
		"colony_id":  alert.ColonyID,
	})
	if _, err := m.Log.Append(runID, e); err != nil {
		logging.HiveError("append alert on %s: %v", runID, err)
		return
	}
	if alert.Severity == sentinel.SeverityCritical {
		m.suspend(runID, alert)
	}
}

// suspend appends colony.suspended after the alert that caused it. A
// queen attached for the colony also drains its queues and locks.
func (m *Monitor) suspend(runID string, alert sentinel.Alert) {
	m.mu.Lock()
	q := m.queens[alert.ColonyID]
	if q == nil && alert.ColonyID == "" && len(m.queens) == 1 {
		for _, only := range m.queens {
			q = only
		}
	}
	m.mu.Unlock()

	if q != nil {
		if err := q.Suspend(runID, alert.AlertType); err != nil {
			logging.HiveError("suspend colony %s on %s: %v", q.ColonyID, runID, err)
		}
		return
	}
	e := akashic.NewEvent(akashic.EventColonySuspended, "sentinel", runID, map[string]interface{}{
		"colony_id": alert.ColonyID,
		"reason":    alert.AlertType,
	})
	e.ColonyID = alert.ColonyID
	if _, err := m.Log.Append(runID, e); err != nil {
		logging.HiveError("append suspension on %s: %v", runID, err)
	}
}
