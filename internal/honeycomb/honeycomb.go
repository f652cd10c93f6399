// Package honeycomb finalizes finished runs into episodes and computes
// KPI scores over them. Episodes are derived entirely from the event
// log and indexed in SQLite for cheap per-colony and per-template
// lookups.
package honeycomb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/logging"
)

// Episode outcomes.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomePartial = "PARTIAL"
	OutcomeFailure = "FAILURE"
)

// Failure classes, coarsest-match first during classification.
const (
	FailureTimeout        = "timeout"
	FailureEnvironment    = "environment"
	FailureIntegration    = "integration"
	FailureSpecification  = "specification"
	FailureDesign         = "design"
	FailureImplementation = "implementation"
)

var (
	ErrRunNotFinished = errors.New("run has no terminal event")
	ErrEpisodeExists  = errors.New("episode already recorded for run")
)

// Episode is the finalized record of one run.
type Episode struct {
	RunID             string             `json:"run_id"`
	ColonyID          string             `json:"colony_id,omitempty"`
	TemplateUsed      string             `json:"template_used,omitempty"`
	Outcome           string             `json:"outcome"`
	DurationSecs      float64            `json:"duration_seconds"`
	TokenCount        int                `json:"token_count"`
	FailureClass      string             `json:"failure_class,omitempty"`
	InterventionCount int                `json:"sentinel_intervention_count"`
	KPIScores         map[string]float64 `json:"kpi_scores"`
	TaskFeatures      map[string]float64 `json:"task_features,omitempty"`
	ParentEpisodeIDs  []string           `json:"parent_episode_ids,omitempty"`
	RecordedAt        string             `json:"recorded_at"`
}

// Recorder turns finished run streams into stored episodes.
type Recorder struct {
	log   *akashic.Log
	store *Store
}

// NewRecorder creates a recorder writing into store. store may be nil
// for scan-only use.
func NewRecorder(log *akashic.Log, store *Store) *Recorder {
	return &Recorder{log: log, store: store}
}

// RecordOptions carries caller-known context the stream cannot supply.
type RecordOptions struct {
	TemplateUsed     string
	TaskFeatures     map[string]float64
	ParentEpisodeIDs []string
}

// RecordEpisode scans the run's stream, derives the episode, and
// indexes it. A run without a terminal event is not recordable.
func (r *Recorder) RecordEpisode(runID string, opts RecordOptions) (*Episode, error) {
	events, err := r.log.Replay(runID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	if len(events) == 0 {
		return nil, ErrRunNotFinished
	}

	ep, err := buildEpisode(runID, events)
	if err != nil {
		return nil, err
	}
	ep.TemplateUsed = opts.TemplateUsed
	ep.TaskFeatures = opts.TaskFeatures
	ep.ParentEpisodeIDs = opts.ParentEpisodeIDs

	if r.store != nil {
		if err := r.store.Put(ep); err != nil {
			return nil, err
		}
	}
	logging.Honeycomb("episode recorded for %s: %s in %.1fs (%d tokens, %d interventions)",
		runID, ep.Outcome, ep.DurationSecs, ep.TokenCount, ep.InterventionCount)
	return ep, nil
}

// buildEpisode folds one finished stream into an Episode.
func buildEpisode(runID string, events []*akashic.Event) (*Episode, error) {
	ep := &Episode{RunID: runID}

	var (
		terminal          akashic.EventType
		lastFailureReason string
		anyTaskFailed     bool
	)
	for _, e := range events {
		if ep.ColonyID == "" && e.ColonyID != "" {
			ep.ColonyID = e.ColonyID
		}
		switch e.Type {
		case akashic.EventRunCompleted, akashic.EventRunFailed, akashic.EventRunAborted:
			terminal = e.Type
			if r := e.PayloadString("reason"); r != "" {
				lastFailureReason = r
			}
		case akashic.EventTaskFailed:
			anyTaskFailed = true
			if r := e.PayloadString("reason"); r != "" {
				lastFailureReason = r
			}
		case akashic.EventWorkerFailed, akashic.EventColonyFailed:
			if r := e.PayloadString("reason"); r != "" {
				lastFailureReason = r
			}
		case akashic.EventLLMResponse:
			ep.TokenCount += int(e.PayloadFloat("total_tokens"))
		case akashic.EventSentinelAlertRaised, akashic.EventSystemEmergencyStop, akashic.EventColonySuspended:
			ep.InterventionCount++
		}
	}
	if terminal == "" {
		return nil, ErrRunNotFinished
	}

	ep.DurationSecs = events[len(events)-1].Timestamp.Sub(events[0].Timestamp).Seconds()
	ep.RecordedAt = events[len(events)-1].Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")

	switch terminal {
	case akashic.EventRunCompleted:
		if anyTaskFailed {
			ep.Outcome = OutcomePartial
		} else {
			ep.Outcome = OutcomeSuccess
		}
	default:
		ep.Outcome = OutcomeFailure
	}
	if ep.Outcome != OutcomeSuccess {
		ep.FailureClass = ClassifyFailure(lastFailureReason)
	}
	ep.KPIScores = episodeKPI(ep)
	return ep, nil
}

// ClassifyFailure maps a failure reason onto a coarse class by keyword.
// An unmatched or empty reason reads as an implementation failure.
func ClassifyFailure(reason string) string {
	r := strings.ToLower(reason)
	switch {
	case containsAny(r, "timeout", "timed out", "deadline"):
		return FailureTimeout
	case containsAny(r, "permission", "network", "disk", "environment", "missing dependency", "not installed"):
		return FailureEnvironment
	case containsAny(r, "integration", "incompatible", "interface mismatch", "api change"):
		return FailureIntegration
	case containsAny(r, "requirement", "ambiguous", "underspecified", "specification"):
		return FailureSpecification
	case containsAny(r, "design", "architecture"):
		return FailureDesign
	default:
		return FailureImplementation
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
