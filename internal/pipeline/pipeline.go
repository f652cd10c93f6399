// Package pipeline drives a goal from planning through guarded validation,
// the approval gate, and orchestrated execution, recording every step in
// the run stream. Pending approvals persist in the vault so a process
// restart can still resume them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/guard"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/orchestrator"
	"github.com/k-iijima/hiveforge/internal/planner"
	"github.com/k-iijima/hiveforge/internal/types"
)

// Result statuses.
const (
	StatusCompleted        = "completed"
	StatusApprovalRequired = "approval_required"
	StatusRejected         = "rejected"
)

var (
	// ErrValidationFailed indicates the plan was remanded by Guard L1.
	ErrValidationFailed = errors.New("plan validation failed")

	// ErrRequestResolved indicates a second resolution of an approval
	// request; resolution is once-only.
	ErrRequestResolved = errors.New("approval request already resolved")

	// ErrRequestNotFound indicates an unknown approval request id.
	ErrRequestNotFound = errors.New("approval request not found")
)

// ColonyResult aggregates one pipeline execution.
type ColonyResult struct {
	RunID     string                   `json:"run_id"`
	Status    string                   `json:"status"`
	PlanID    string                   `json:"plan_id,omitempty"`
	RequestID string                   `json:"request_id,omitempty"`
	Action    string                   `json:"action_class,omitempty"`
	Tasks     orchestrator.TaskContext `json:"tasks,omitempty"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Reason    string                   `json:"reason,omitempty"`
}

// Options tune one execution.
type Options struct {
	// ActionClassOverride skips heuristic classification when set.
	ActionClassOverride types.ActionClass
	// PreApproved marks the execution as already confirmed by the user,
	// bypassing the approval gate.
	PreApproved bool
	// ContextData is handed to the planner.
	ContextData map[string]interface{}
}

// Pipeline wires planner, guard, orchestrator and the log.
type Pipeline struct {
	log       *akashic.Log
	planner   *planner.Planner
	verifier  *guard.Verifier
	orch      *orchestrator.Orchestrator
	approvals *ApprovalStore
	trust     types.TrustLevel
	execFn    orchestrator.ExecuteFn
}

// New assembles a pipeline. execFn executes individual tasks; tests
// usually inject a recording stub.
func New(log *akashic.Log, p *planner.Planner, v *guard.Verifier, orch *orchestrator.Orchestrator,
	trust types.TrustLevel, execFn orchestrator.ExecuteFn) *Pipeline {
	return &Pipeline{
		log:       log,
		planner:   p,
		verifier:  v,
		orch:      orch,
		approvals: NewApprovalStore(log.Root()),
		trust:     trust,
		execFn:    execFn,
	}
}

// ExecuteGoal plans and runs a goal end to end.
func (p *Pipeline) ExecuteGoal(ctx context.Context, runID, goal string, opts Options) (*ColonyResult, error) {
	p.emit(runID, akashic.EventPipelineStarted, map[string]interface{}{"goal": goal})

	plan, err := p.planner.Plan(ctx, goal, opts.ContextData)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, runID, goal, plan, opts)
}

// run is the common tail shared by fresh executions and approval resumes.
func (p *Pipeline) run(ctx context.Context, runID, goal string, plan *orchestrator.TaskPlan, opts Options) (*ColonyResult, error) {
	if plan.Fallback {
		p.emit(runID, akashic.EventPlanFallbackActivated, map[string]interface{}{
			"plan_id": plan.PlanID, "goal": goal,
		})
	}

	report, err := p.verifier.Verify(runID, plan)
	if err != nil {
		return nil, err
	}
	if report.Verdict == guard.VerdictFail {
		p.emit(runID, akashic.EventPlanValidationFailed, map[string]interface{}{
			"plan_id":       plan.PlanID,
			"remand_reason": report.RemandReason,
		})
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, report.RemandReason)
	}

	action := opts.ActionClassOverride
	if action == "" {
		action = ClassifyPlan(plan)
	}
	if !opts.PreApproved && p.trust.RequiresConfirmation(action) {
		req, err := p.approvals.Create(runID, goal, plan, action, opts.ContextData)
		if err != nil {
			return nil, err
		}
		p.emit(runID, akashic.EventPlanApprovalRequired, map[string]interface{}{
			"plan_id":      plan.PlanID,
			"request_id":   req.RequestID,
			"action_class": action.Wire(),
		})
		logging.Pipeline("run %s awaiting approval %s (%s)", runID, req.RequestID, action)
		return &ColonyResult{
			RunID:     runID,
			Status:    StatusApprovalRequired,
			PlanID:    plan.PlanID,
			RequestID: req.RequestID,
			Action:    action.Wire(),
		}, nil
	}

	taskCtx, err := p.orch.Execute(ctx, plan, p.execFn)
	if err != nil {
		return nil, err
	}

	result := &ColonyResult{
		RunID:  runID,
		Status: StatusCompleted,
		PlanID: plan.PlanID,
		Action: action.Wire(),
		Tasks:  taskCtx,
	}
	for _, out := range taskCtx {
		if out.Status == orchestrator.StatusCompleted {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	p.emit(runID, akashic.EventPipelineCompleted, map[string]interface{}{
		"plan_id":   plan.PlanID,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	return result, nil
}

// ResumeWithApproval resolves a pending approval request and, when
// approved, re-enters the pipeline with the persisted plan. A request can
// be resolved exactly once.
func (p *Pipeline) ResumeWithApproval(ctx context.Context, requestID string, approved bool, reason string) (*ColonyResult, error) {
	req, err := p.approvals.Resolve(requestID, approved, reason)
	if err != nil {
		return nil, err
	}

	if !approved {
		logging.Pipeline("approval %s rejected: %s", requestID, reason)
		return &ColonyResult{
			RunID:     req.RunID,
			Status:    StatusRejected,
			PlanID:    req.Plan.PlanID,
			RequestID: requestID,
			Reason:    reason,
		}, nil
	}

	return p.run(ctx, req.RunID, req.Goal, req.Plan, Options{
		PreApproved:         true,
		ActionClassOverride: req.Action,
		ContextData:         req.ContextData,
	})
}

func (p *Pipeline) emit(runID string, eventType akashic.EventType, payload map[string]interface{}) {
	e := akashic.NewEvent(eventType, "pipeline", runID, payload)
	if _, err := p.log.Append(runID, e); err != nil {
		logging.Pipeline("record %s on %s failed: %v", eventType, runID, err)
	}
}

// =============================================================================
// ACTION CLASSIFICATION
// =============================================================================

var irreversibleMarkers = []string{
	"delete", "drop", "destroy", "remove", "deploy", "publish",
	"migrate", "truncate", "purge", "send email", "payment",
}

var reversibleMarkers = []string{
	"write", "create", "modify", "update", "edit", "install",
	"rename", "move", "append", "commit",
}

// ClassifyPlan derives the plan's action class from its goals: the widest
// blast radius of any task wins.
func ClassifyPlan(plan *orchestrator.TaskPlan) types.ActionClass {
	class := types.ActionReadOnly
	texts := []string{plan.Goal}
	for _, t := range plan.Tasks {
		texts = append(texts, t.Goal)
	}
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, marker := range irreversibleMarkers {
			if strings.Contains(lower, marker) {
				return types.ActionIrreversible
			}
		}
		for _, marker := range reversibleMarkers {
			if strings.Contains(lower, marker) {
				class = types.ActionReversible
			}
		}
	}
	return class
}
