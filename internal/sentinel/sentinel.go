// Package sentinel scans event streams for runaway behavior: loops, event
// floods, cost overruns, policy violations and KPI drift. Critical alerts
// translate into colony suspension by the monitor loop, which always
// appends the alert before the suspension it causes.
package sentinel

import (
	"fmt"
	"strings"
	"time"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/types"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert types.
const (
	AlertLoopDetected      = "loop_detected"
	AlertRunawayDetected   = "runaway_detected"
	AlertCostExceeded      = "cost_exceeded"
	AlertSecurityViolation = "security_violation"
	AlertKPIDegradation    = "kpi_degradation"
)

// Alert is one anomaly finding.
type Alert struct {
	AlertType string                 `json:"alert_type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	TaskID    string                 `json:"task_id,omitempty"`
	ColonyID  string                 `json:"colony_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Scanner runs every detector over a window of events.
type Scanner struct {
	gov config.GovernanceConfig
}

// NewScanner creates a scanner bound to the governance constants.
func NewScanner(gov config.GovernanceConfig) *Scanner {
	return &Scanner{gov: gov}
}

// Scan applies all detectors and returns the raised alerts.
func (s *Scanner) Scan(events []*akashic.Event) []Alert {
	var alerts []Alert
	alerts = append(alerts, s.scanLoops(events)...)
	alerts = append(alerts, s.scanRate(events)...)
	alerts = append(alerts, s.scanCost(events)...)
	alerts = append(alerts, s.scanSecurity(events)...)
	for _, a := range alerts {
		logging.SentinelWarn("%s (%s): %s", a.AlertType, a.Severity, a.Message)
	}
	return alerts
}

// scanLoops raises loop_detected when one task keeps failing, and when
// the recent event types churn between exactly two values.
func (s *Scanner) scanLoops(events []*akashic.Event) []Alert {
	var alerts []Alert

	failures := map[string]int{}
	for _, e := range events {
		if e.Type != akashic.EventTaskFailed && e.Type != akashic.EventColonyFailed {
			continue
		}
		id := e.TaskID
		if id == "" {
			id = e.PayloadString("task_id")
		}
		failures[id]++
	}
	for id, n := range failures {
		if n >= s.gov.MaxLoopCount {
			alerts = append(alerts, Alert{
				AlertType: AlertLoopDetected,
				Severity:  SeverityCritical,
				TaskID:    id,
				Message:   fmt.Sprintf("task %s failed %d times (limit %d)", id, n, s.gov.MaxLoopCount),
				Details:   map[string]interface{}{"failure_count": n},
			})
		}
	}

	// Cyclic event pattern: the last 2·N types alternate between exactly
	// two distinct values.
	window := 2 * s.gov.MaxOscillations
	if len(events) >= window && window >= 4 {
		tail := events[len(events)-window:]
		a, b := tail[0].Type, tail[1].Type
		if a != b {
			cyclic := true
			for i, e := range tail {
				want := a
				if i%2 == 1 {
					want = b
				}
				if e.Type != want {
					cyclic = false
					break
				}
			}
			if cyclic {
				alerts = append(alerts, Alert{
					AlertType: AlertLoopDetected,
					Severity:  SeverityCritical,
					Message:   fmt.Sprintf("cyclic event pattern: %s <-> %s over %d events", a, b, window),
					Details:   map[string]interface{}{"pattern": []string{string(a), string(b)}},
				})
			}
		}
	}
	return alerts
}

// scanRate raises runaway_detected when more than max_event_rate events
// fall inside the trailing rate window.
func (s *Scanner) scanRate(events []*akashic.Event) []Alert {
	if s.gov.MaxEventRate <= 0 || len(events) == 0 {
		return nil
	}
	window := s.gov.RateWindow
	if window <= 0 {
		window = 60 * time.Second
	}
	cutoff := events[len(events)-1].Timestamp.Add(-window)
	recent := 0
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			recent++
		}
	}
	if recent > s.gov.MaxEventRate {
		return []Alert{{
			AlertType: AlertRunawayDetected,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("%d events within %s (limit %d)", recent, window, s.gov.MaxEventRate),
			Details:   map[string]interface{}{"count": recent},
		}}
	}
	return nil
}

// scanCost sums llm.response costs against the ceiling.
func (s *Scanner) scanCost(events []*akashic.Event) []Alert {
	if s.gov.MaxCost <= 0 {
		return nil
	}
	total := 0.0
	for _, e := range events {
		if e.Type == akashic.EventLLMResponse {
			total += e.PayloadFloat("cost")
		}
	}
	if total > s.gov.MaxCost {
		return []Alert{{
			AlertType: AlertCostExceeded,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("accumulated cost %.4f exceeds ceiling %.4f", total, s.gov.MaxCost),
			Details:   map[string]interface{}{"total_cost": total},
		}}
	}
	return nil
}

// scanSecurity checks each worker.started against the action policy:
// irreversible tool invocations must carry confirmed=true.
func (s *Scanner) scanSecurity(events []*akashic.Event) []Alert {
	var alerts []Alert
	for _, e := range events {
		if e.Type != akashic.EventWorkerStarted {
			continue
		}
		class := classifyAction(e)
		if class == types.ActionIrreversible && !e.PayloadBool("confirmed") {
			alerts = append(alerts, Alert{
				AlertType: AlertSecurityViolation,
				Severity:  SeverityCritical,
				TaskID:    e.TaskID,
				ColonyID:  e.ColonyID,
				Message: fmt.Sprintf("unconfirmed irreversible tool %q by worker %s",
					e.PayloadString("tool_name"), e.WorkerID),
				Details: map[string]interface{}{"tool_name": e.PayloadString("tool_name")},
			})
		}
	}
	return alerts
}

var irreversibleTools = []string{
	"delete", "drop", "rm", "deploy", "publish", "push",
	"truncate", "purge", "send",
}

// classifyAction maps a worker.started event to its action class. An
// explicit action_class payload field overrides the tool-name heuristic.
func classifyAction(e *akashic.Event) types.ActionClass {
	if override := e.PayloadString("action_class"); override != "" {
		return types.ActionClass(strings.ToUpper(override))
	}
	tool := strings.ToLower(e.PayloadString("tool_name"))
	for _, marker := range irreversibleTools {
		if strings.Contains(tool, marker) {
			return types.ActionIrreversible
		}
	}
	for _, marker := range []string{"write", "edit", "create", "update", "move"} {
		if strings.Contains(tool, marker) {
			return types.ActionReversible
		}
	}
	return types.ActionReadOnly
}
