package hive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/guard"
	"github.com/k-iijima/hiveforge/internal/orchestrator"
	"github.com/k-iijima/hiveforge/internal/pipeline"
	"github.com/k-iijima/hiveforge/internal/planner"
	"github.com/k-iijima/hiveforge/internal/types"
)

func newHandlers(t *testing.T) (*Handlers, *akashic.Log) {
	t.Helper()
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)
	return NewHandlers(log, config.Default().Governance, "beekeeper"), log
}

func requireCode(t *testing.T, err error, code Code) *Error {
	t.Helper()
	he, ok := AsError(err)
	require.True(t, ok, "expected a typed boundary error, got %v", err)
	assert.Equal(t, code, he.Code)
	return he
}

func TestHappyPathRun(t *testing.T) {
	h, _ := newHandlers(t)

	runID, err := h.StartRun("run-1", "Write hello.txt with body 'hi'")
	require.NoError(t, err)
	require.Equal(t, "run-1", runID)

	taskID, err := h.CreateTask(runID, "", "create file")
	require.NoError(t, err)
	require.NoError(t, h.AssignTask(runID, taskID, "worker-1"))
	require.NoError(t, h.ReportProgress(runID, taskID, 50, "writing"))
	require.NoError(t, h.CompleteTask(runID, taskID, map[string]interface{}{"path": "hello.txt"}))
	require.NoError(t, h.CompleteRun(runID, false))

	p, err := h.Cache.Get(runID)
	require.NoError(t, err)
	assert.Equal(t, akashic.RunCompleted, p.Status)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, akashic.TaskCompleted, p.Tasks[taskID].Status)
	assert.Equal(t, 6, p.EventCount)

	ok, reason, err := h.VerifyColony(runID)
	require.NoError(t, err)
	assert.True(t, ok, reason)
}

func TestCompleteRunConflictAndForce(t *testing.T) {
	h, log := newHandlers(t)

	runID, err := h.StartRun("", "goal")
	require.NoError(t, err)
	taskID, err := h.CreateTask(runID, "t1", "pending work")
	require.NoError(t, err)

	he := requireCode(t, h.CompleteRun(runID, false), CodeConflict)
	assert.Equal(t, []string{taskID}, he.Detail["incomplete_task_ids"])

	require.NoError(t, h.CompleteRun(runID, true))
	events, err := log.Replay(runID)
	require.NoError(t, err)
	var kinds []akashic.EventType
	for _, e := range events {
		kinds = append(kinds, e.Type)
	}
	require.Equal(t, akashic.EventTaskFailed, kinds[len(kinds)-2])
	require.Equal(t, akashic.EventRunCompleted, kinds[len(kinds)-1])
	assert.Equal(t, "run force-completed", events[len(events)-2].PayloadString("reason"))

	// Force-completing a completed run is a no-op.
	require.NoError(t, h.CompleteRun(runID, true))
	after, err := log.CountEvents(runID)
	require.NoError(t, err)
	assert.Equal(t, len(events), after)
}

func TestClosedRunRejectsMutations(t *testing.T) {
	h, _ := newHandlers(t)
	runID, err := h.StartRun("", "goal")
	require.NoError(t, err)
	require.NoError(t, h.CompleteRun(runID, false))

	_, err = h.CreateTask(runID, "t1", "late")
	requireCode(t, err, CodeConflict)
	_, err = h.CreateRequirement(runID, "too late?")
	requireCode(t, err, CodeConflict)
}

func TestStartRunConflictsOnExisting(t *testing.T) {
	h, _ := newHandlers(t)
	_, err := h.StartRun("run-1", "goal")
	require.NoError(t, err)
	_, err = h.StartRun("run-1", "again")
	requireCode(t, err, CodeConflict)
}

func TestUnknownRunIsNotFound(t *testing.T) {
	h, _ := newHandlers(t)
	requireCode(t, h.Heartbeat("nope"), CodeNotFound)
	requireCode(t, h.FailTask("nope", "t1", "x"), CodeNotFound)
	_, err := h.ListInterventions("nope")
	requireCode(t, err, CodeNotFound)
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	h, _ := newHandlers(t)
	runID, err := h.StartRun("", "goal")
	require.NoError(t, err)
	requireCode(t, h.CompleteTask(runID, "ghost", nil), CodeNotFound)
}

func TestProgressValidation(t *testing.T) {
	h, _ := newHandlers(t)
	runID, _ := h.StartRun("", "goal")
	taskID, _ := h.CreateTask(runID, "", "work")
	requireCode(t, h.ReportProgress(runID, taskID, 101, ""), CodeValidationFailed)
	requireCode(t, h.ReportProgress(runID, taskID, -1, ""), CodeValidationFailed)
}

func TestRequirementBridge(t *testing.T) {
	h, _ := newHandlers(t)
	runID, err := h.StartRun("", "goal")
	require.NoError(t, err)

	reqID, err := h.CreateRequirement(runID, "deploy to production?")
	require.NoError(t, err)

	p, err := h.Cache.Get(runID)
	require.NoError(t, err)
	require.Contains(t, p.Requirements, reqID)
	assert.Equal(t, akashic.RequirementPending, p.Requirements[reqID].Status)

	require.NoError(t, h.ResolveRequirement(runID, reqID, true, "yes"))
	p, _ = h.Cache.Get(runID)
	assert.Equal(t, akashic.RequirementApproved, p.Requirements[reqID].Status)
	assert.Equal(t, "yes", p.Requirements[reqID].Answer)

	requireCode(t, h.ResolveRequirement(runID, reqID, false, "no"), CodeConflict)
	requireCode(t, h.ResolveRequirement(runID, "ghost", true, ""), CodeNotFound)
}

func TestGuardReportLookup(t *testing.T) {
	h, log := newHandlers(t)
	runID, err := h.StartRun("", "goal")
	require.NoError(t, err)

	_, err = h.GetGuardReport(runID)
	requireCode(t, err, CodeNotFound)

	_, err = log.Append(runID, akashic.NewEvent(akashic.EventGuardFailed, "guard", runID,
		map[string]interface{}{"verdict": "FAIL", "remand_reason": "duplicate task ids"}))
	require.NoError(t, err)

	report, err := h.GetGuardReport(runID)
	require.NoError(t, err)
	assert.Equal(t, "FAIL", report["verdict"])
}

func TestRecordDecisionAndLineage(t *testing.T) {
	h, log := newHandlers(t)
	runID, err := h.StartRun("", "goal")
	require.NoError(t, err)
	require.NoError(t, h.RecordDecision(runID, "use sqlite", "single file, no server"))

	last, err := log.LastEvent(runID)
	require.NoError(t, err)
	require.Equal(t, akashic.EventDecisionRecorded, last.Type)

	lineage, err := h.GetLineage(last.ID)
	require.NoError(t, err)
	require.Len(t, lineage.Ancestors, 1, "auto-linked to the run.started event")

	_, err = h.GetLineage("ghost-event")
	requireCode(t, err, CodeNotFound)
}

func TestConferenceRecords(t *testing.T) {
	h, _ := newHandlers(t)
	runID, err := h.StartRun("", "goal")
	require.NoError(t, err)

	confID, err := h.StartConference(runID, "design review", []string{"queen", "beekeeper"})
	require.NoError(t, err)
	require.NoError(t, h.EndConference(runID, confID, "approved with changes"))
	requireCode(t, h.EndConference(runID, "ghost", ""), CodeNotFound)
}

func TestInterventionAndEscalationRecords(t *testing.T) {
	h, log := newHandlers(t)
	runID, err := h.StartRun("", "goal")
	require.NoError(t, err)

	intID, err := h.UserIntervene(runID, "stop touching the database")
	require.NoError(t, err)
	escID, err := h.QueenEscalate(runID, "col-1", "worker stuck on lock")
	require.NoError(t, err)
	_, err = h.BeekeeperFeedback(runID, "col-1", "prefer smaller tasks")
	require.NoError(t, err)

	interventions, err := h.ListInterventions(runID)
	require.NoError(t, err)
	assert.Len(t, interventions, 2, "user intervention plus beekeeper feedback")

	got, err := h.GetIntervention(runID, intID)
	require.NoError(t, err)
	assert.Equal(t, "stop touching the database", got.Data["instruction"])

	escalations, err := h.ListEscalations(runID)
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	esc, err := h.GetEscalation(runID, escID)
	require.NoError(t, err)
	assert.Equal(t, "col-1", esc.Data["colony_id"])

	// Interventions leave an auditable trail on the stream itself.
	last, err := log.LastEvent(runID)
	require.NoError(t, err)
	assert.Equal(t, akashic.EventInterventionRecorded, last.Type)

	_, err = h.GetIntervention(runID, "ghost")
	requireCode(t, err, CodeNotFound)
}

func TestEmergencyStopRejectsPendingApprovals(t *testing.T) {
	h, _ := newHandlers(t)
	runID, err := h.StartRun("", "goal")
	require.NoError(t, err)

	plan := &orchestrator.TaskPlan{PlanID: "p1", Goal: "deploy", Tasks: []orchestrator.PlanTask{{TaskID: "t1", Goal: "deploy"}}}
	req, err := h.Approvals.Create(runID, "deploy", plan, types.ActionIrreversible, nil)
	require.NoError(t, err)

	require.NoError(t, h.EmergencyStop(runID, "operator abort"))

	resolved, err := h.Approvals.Get(req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ApprovalRejected, resolved.Status)

	p, err := h.Cache.Get(runID)
	require.NoError(t, err)
	assert.Equal(t, akashic.RunAborted, p.Status)
}

// failingLLM forces the planner onto its fallback path.
type failingLLM struct{}

func (failingLLM) Complete(context.Context, string) (string, error) {
	return "", errors.New("backend down")
}
func (failingLLM) CompleteWithSystem(context.Context, string, string) (string, error) {
	return "", errors.New("backend down")
}
func (failingLLM) CompleteWithTools(context.Context, string, []types.Turn, []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return nil, errors.New("backend down")
}

func TestBeekeeperHandleGoal(t *testing.T) {
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)

	execFn := func(_ context.Context, taskID, goal string, _ map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"done": goal}, nil
	}
	pipe := pipeline.New(log,
		planner.New(failingLLM{}),
		guard.NewVerifier(log, guard.DefaultRules(0.3)...),
		orchestrator.New(4),
		types.TrustDelegated,
		execFn)

	bk := &Beekeeper{Log: log, Pipeline: pipe}
	result, err := bk.HandleGoal(context.Background(), "run-1", "write hello.txt", pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Succeeded, "fallback plan carries a single task")
}
