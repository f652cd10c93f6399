package hive

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/pipeline"
)

// Handlers exposes the public operations over one vault. The HTTP/MCP
// facade dispatches into these functions; every failure is a *Error.
type Handlers struct {
	Log       *akashic.Log
	Cache     *akashic.ProjectionCache
	Side      *akashic.SideStore
	Approvals *pipeline.ApprovalStore
	Gov       config.GovernanceConfig
	Actor     string
}

// NewHandlers wires the handler set over a log.
func NewHandlers(log *akashic.Log, gov config.GovernanceConfig, actor string) *Handlers {
	if actor == "" {
		actor = "beekeeper"
	}
	return &Handlers{
		Log:       log,
		Cache:     akashic.NewProjectionCache(log),
		Side:      akashic.NewSideStore(log),
		Approvals: pipeline.NewApprovalStore(log.Root()),
		Gov:       gov,
		Actor:     actor,
	}
}

func (h *Handlers) append(runID string, typ akashic.EventType, payload map[string]interface{}) (*akashic.Event, error) {
	e, err := h.Log.Append(runID, akashic.NewEvent(typ, h.Actor, runID, payload))
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

// projection loads the run's folded state; an empty stream is unknown.
func (h *Handlers) projection(runID string) (*akashic.RunProjection, error) {
	p, err := h.Cache.Get(runID)
	if err != nil {
		return nil, classify(err)
	}
	if p.EventCount == 0 {
		return nil, NewError(CodeNotFound, "unknown run %s", runID)
	}
	return p, nil
}

// openRun additionally rejects terminal runs: COMPLETED, FAILED and
// ABORTED runs accept no further task or requirement mutations.
func (h *Handlers) openRun(runID string) (*akashic.RunProjection, error) {
	p, err := h.projection(runID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case akashic.RunCompleted, akashic.RunFailed, akashic.RunAborted:
		return nil, NewError(CodeConflict, "run %s is %s", runID, p.Status).
			With("run_status", p.Status)
	}
	return p, nil
}

// =============================================================================
// RUN LIFECYCLE
// =============================================================================

// StartRun opens a new run stream. An empty runID generates one.
func (h *Handlers) StartRun(runID, goal string) (string, error) {
	if runID == "" {
		runID = "run-" + uuid.NewString()
	}
	if n, err := h.Log.CountEvents(runID); err != nil {
		return "", classify(err)
	} else if n > 0 {
		return "", NewError(CodeConflict, "run %s already exists", runID)
	}
	if _, err := h.append(runID, akashic.EventRunStarted, map[string]interface{}{"goal": goal}); err != nil {
		return "", err
	}
	logging.Hive("run %s started: %s", runID, goal)
	return runID, nil
}

// CompleteRun closes the run. Without force, incomplete tasks are a
// conflict carrying their ids. With force, each incomplete task is
// cancelled before the run closes. Completing a completed run is a
// no-op.
func (h *Handlers) CompleteRun(runID string, force bool) error {
	p, err := h.projection(runID)
	if err != nil {
		return err
	}
	if p.Status == akashic.RunCompleted {
		return nil
	}
	if p.Status == akashic.RunFailed || p.Status == akashic.RunAborted {
		return NewError(CodeConflict, "run %s is %s", runID, p.Status).With("run_status", p.Status)
	}

	incomplete := p.IncompleteTaskIDs()
	if len(incomplete) > 0 {
		if !force {
			return NewError(CodeConflict, "run %s has incomplete tasks", runID).
				With("incomplete_task_ids", incomplete)
		}
		for _, taskID := range incomplete {
			if _, err := h.append(runID, akashic.EventTaskFailed, map[string]interface{}{
				"task_id": taskID,
				"reason":  "run force-completed",
			}); err != nil {
				return err
			}
		}
	}
	_, err = h.append(runID, akashic.EventRunCompleted, map[string]interface{}{"forced": force})
	return err
}

// Heartbeat records liveness on the run stream.
func (h *Handlers) Heartbeat(runID string) error {
	if _, err := h.projection(runID); err != nil {
		return err
	}
	_, err := h.append(runID, akashic.EventSystemHeartbeat, nil)
	return err
}

// EmergencyStop aborts the run and rejects its pending approvals.
// Colony drains (queues, locks) are the monitor's responsibility.
func (h *Handlers) EmergencyStop(runID, reason string) error {
	if _, err := h.projection(runID); err != nil {
		return err
	}
	if _, err := h.append(runID, akashic.EventSystemEmergencyStop, map[string]interface{}{"reason": reason}); err != nil {
		return err
	}
	pending, err := h.Approvals.Pending()
	if err != nil {
		return classify(err)
	}
	for _, req := range pending {
		if req.RunID != runID {
			continue
		}
		if _, err := h.Approvals.Resolve(req.RequestID, false, "emergency stop"); err != nil {
			return classify(err)
		}
	}
	logging.Hive("run %s emergency-stopped: %s", runID, reason)
	return nil
}

// =============================================================================
// TASKS
// =============================================================================

// CreateTask registers a new task on an open run.
func (h *Handlers) CreateTask(runID, taskID, title string) (string, error) {
	if _, err := h.openRun(runID); err != nil {
		return "", err
	}
	if taskID == "" {
		taskID = "task-" + uuid.NewString()
	}
	_, err := h.append(runID, akashic.EventTaskCreated, map[string]interface{}{
		"task_id": taskID,
		"title":   title,
	})
	return taskID, err
}

func (h *Handlers) task(runID, taskID string) (*akashic.RunProjection, error) {
	p, err := h.openRun(runID)
	if err != nil {
		return nil, err
	}
	if _, ok := p.Tasks[taskID]; !ok {
		return nil, NewError(CodeNotFound, "unknown task %s on run %s", taskID, runID)
	}
	return p, nil
}

// AssignTask hands a task to a worker.
func (h *Handlers) AssignTask(runID, taskID, assignee string) error {
	if _, err := h.task(runID, taskID); err != nil {
		return err
	}
	_, err := h.append(runID, akashic.EventTaskAssigned, map[string]interface{}{
		"task_id":  taskID,
		"assignee": assignee,
	})
	return err
}

// ReportProgress records task progress in [0,100].
func (h *Handlers) ReportProgress(runID, taskID string, progress float64, message string) error {
	if progress < 0 || progress > 100 {
		return NewError(CodeValidationFailed, "progress %v out of range", progress)
	}
	if _, err := h.task(runID, taskID); err != nil {
		return err
	}
	_, err := h.append(runID, akashic.EventTaskProgressed, map[string]interface{}{
		"task_id":  taskID,
		"progress": progress,
		"message":  message,
	})
	return err
}

// CompleteTask records a task result.
func (h *Handlers) CompleteTask(runID, taskID string, result map[string]interface{}) error {
	if _, err := h.task(runID, taskID); err != nil {
		return err
	}
	_, err := h.append(runID, akashic.EventTaskCompleted, map[string]interface{}{
		"task_id": taskID,
		"result":  result,
	})
	return err
}

// FailTask records a task failure.
func (h *Handlers) FailTask(runID, taskID, reason string) error {
	if _, err := h.task(runID, taskID); err != nil {
		return err
	}
	_, err := h.append(runID, akashic.EventTaskFailed, map[string]interface{}{
		"task_id": taskID,
		"reason":  reason,
	})
	return err
}

// =============================================================================
// REQUIREMENTS (user-confirmation bridge)
// =============================================================================

// CreateRequirement surfaces a question needing user resolution.
func (h *Handlers) CreateRequirement(runID, question string) (string, error) {
	if _, err := h.openRun(runID); err != nil {
		return "", err
	}
	requirementID := "req-" + uuid.NewString()
	_, err := h.append(runID, akashic.EventRequirementCreated, map[string]interface{}{
		"requirement_id": requirementID,
		"question":       question,
	})
	return requirementID, err
}

// ResolveRequirement records the user's decision. A requirement can be
// resolved exactly once.
func (h *Handlers) ResolveRequirement(runID, requirementID string, approved bool, answer string) error {
	p, err := h.projection(runID)
	if err != nil {
		return err
	}
	req, ok := p.Requirements[requirementID]
	if !ok {
		return NewError(CodeNotFound, "unknown requirement %s on run %s", requirementID, runID)
	}
	if req.Status != akashic.RequirementPending {
		return NewError(CodeConflict, "requirement %s already %s", requirementID, req.Status).
			With("requirement_status", req.Status)
	}
	typ := akashic.EventRequirementApproved
	if !approved {
		typ = akashic.EventRequirementRejected
	}
	_, err = h.append(runID, typ, map[string]interface{}{
		"requirement_id": requirementID,
		"answer":         answer,
	})
	return err
}

// =============================================================================
// AUDIT AND INSPECTION
// =============================================================================

// VerifyColony checks the run's hash chain.
func (h *Handlers) VerifyColony(runID string) (bool, string, error) {
	if _, err := h.projection(runID); err != nil {
		return false, "", err
	}
	ok, reason, err := h.Log.VerifyChain(runID)
	if err != nil {
		return false, "", classify(err)
	}
	return ok, reason, nil
}

// GetGuardReport returns the payload of the newest guard verdict event.
func (h *Handlers) GetGuardReport(runID string) (map[string]interface{}, error) {
	events, err := h.Log.Replay(runID)
	if err != nil {
		return nil, classify(err)
	}
	for i := len(events) - 1; i >= 0; i-- {
		switch events[i].Type {
		case akashic.EventGuardPassed, akashic.EventGuardConditionalPassed, akashic.EventGuardFailed:
			return events[i].Payload, nil
		}
	}
	return nil, NewError(CodeNotFound, "no guard report on run %s", runID)
}

// RecordDecision appends an auditable decision.
func (h *Handlers) RecordDecision(runID, decision, rationale string) error {
	if _, err := h.projection(runID); err != nil {
		return err
	}
	_, err := h.append(runID, akashic.EventDecisionRecorded, map[string]interface{}{
		"decision":  decision,
		"rationale": rationale,
	})
	return err
}

// GetLineage walks the causal ancestry of one event, bounded by the
// configured depth.
func (h *Handlers) GetLineage(eventID string) (*akashic.LineageResult, error) {
	result, err := akashic.Lineage(h.Log, eventID, h.Gov.LineageMaxDepth)
	if err != nil {
		return nil, NewError(CodeNotFound, "%s", err.Error())
	}
	return result, nil
}

// =============================================================================
// SIDE RECORDS: CONFERENCES, INTERVENTIONS, ESCALATIONS
// =============================================================================

// StartConference opens a conference record on the run's side store.
func (h *Handlers) StartConference(runID, topic string, participants []string) (string, error) {
	if _, err := h.projection(runID); err != nil {
		return "", err
	}
	rec, err := h.Side.Append(runID, akashic.SideConferences, h.Actor, map[string]interface{}{
		"phase":        "start",
		"topic":        topic,
		"participants": participants,
	})
	if err != nil {
		return "", classify(err)
	}
	return rec.ID, nil
}

// EndConference closes a conference with its conclusion.
func (h *Handlers) EndConference(runID, conferenceID, conclusion string) error {
	if _, err := h.Side.Get(runID, akashic.SideConferences, conferenceID); err != nil {
		return NewError(CodeNotFound, "unknown conference %s on run %s", conferenceID, runID)
	}
	_, err := h.Side.Append(runID, akashic.SideConferences, h.Actor, map[string]interface{}{
		"phase":         "end",
		"conference_id": conferenceID,
		"conclusion":    conclusion,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// UserIntervene records a direct user instruction, both as a side
// record and as an auditable event on the stream.
func (h *Handlers) UserIntervene(runID, instruction string) (string, error) {
	if _, err := h.projection(runID); err != nil {
		return "", err
	}
	rec, err := h.Side.Append(runID, akashic.SideInterventions, "user", map[string]interface{}{
		"instruction": instruction,
	})
	if err != nil {
		return "", classify(err)
	}
	_, err = h.append(runID, akashic.EventInterventionRecorded, map[string]interface{}{
		"intervention_id": rec.ID,
		"source":          "user",
	})
	return rec.ID, err
}

// QueenEscalate records a queen-to-beekeeper escalation.
func (h *Handlers) QueenEscalate(runID, colonyID, reason string) (string, error) {
	if _, err := h.projection(runID); err != nil {
		return "", err
	}
	rec, err := h.Side.Append(runID, akashic.SideEscalations, fmt.Sprintf("queen/%s", colonyID), map[string]interface{}{
		"colony_id": colonyID,
		"reason":    reason,
	})
	if err != nil {
		return "", classify(err)
	}
	_, err = h.append(runID, akashic.EventInterventionRecorded, map[string]interface{}{
		"intervention_id": rec.ID,
		"source":          "queen",
		"colony_id":       colonyID,
	})
	return rec.ID, err
}

// BeekeeperFeedback records guidance issued back to a colony.
func (h *Handlers) BeekeeperFeedback(runID, colonyID, feedback string) (string, error) {
	if _, err := h.projection(runID); err != nil {
		return "", err
	}
	rec, err := h.Side.Append(runID, akashic.SideInterventions, h.Actor, map[string]interface{}{
		"colony_id": colonyID,
		"feedback":  feedback,
	})
	if err != nil {
		return "", classify(err)
	}
	return rec.ID, nil
}

// ListInterventions returns the run's intervention records.
func (h *Handlers) ListInterventions(runID string) ([]*akashic.SideRecord, error) {
	return h.listSide(runID, akashic.SideInterventions)
}

// GetIntervention returns one intervention record.
func (h *Handlers) GetIntervention(runID, id string) (*akashic.SideRecord, error) {
	return h.getSide(runID, akashic.SideInterventions, id)
}

// ListEscalations returns the run's escalation records.
func (h *Handlers) ListEscalations(runID string) ([]*akashic.SideRecord, error) {
	return h.listSide(runID, akashic.SideEscalations)
}

// GetEscalation returns one escalation record.
func (h *Handlers) GetEscalation(runID, id string) (*akashic.SideRecord, error) {
	return h.getSide(runID, akashic.SideEscalations, id)
}

func (h *Handlers) listSide(runID, kind string) ([]*akashic.SideRecord, error) {
	if _, err := h.projection(runID); err != nil {
		return nil, err
	}
	records, err := h.Side.List(runID, kind)
	if err != nil {
		return nil, classify(err)
	}
	return records, nil
}

func (h *Handlers) getSide(runID, kind, id string) (*akashic.SideRecord, error) {
	if _, err := h.projection(runID); err != nil {
		return nil, err
	}
	rec, err := h.Side.Get(runID, kind, id)
	if err != nil {
		return nil, NewError(CodeNotFound, "unknown %s record %s on run %s", kind, id, runID)
	}
	return rec, nil
}
