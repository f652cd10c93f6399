package akashic

import "encoding/json"

// EventType is the dotted-namespace discriminator of an event. The
// enumeration is open: streams written by newer versions may carry types
// this version does not know, and replay yields them as UnknownEvent
// variants instead of failing.
type EventType string

// =============================================================================
// EVENT TAXONOMY
// =============================================================================

const (
	// Hive lifecycle
	EventHiveCreated EventType = "hive.created"
	EventHiveClosed  EventType = "hive.closed"

	// Colony lifecycle
	EventColonyCreated   EventType = "colony.created"
	EventColonyStarted   EventType = "colony.started"
	EventColonyCompleted EventType = "colony.completed"
	EventColonyFailed    EventType = "colony.failed"
	EventColonySuspended EventType = "colony.suspended"
	EventColonyResumed   EventType = "colony.resumed"

	// Run lifecycle
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunAborted   EventType = "run.aborted"

	// Task lifecycle
	EventTaskCreated    EventType = "task.created"
	EventTaskAssigned   EventType = "task.assigned"
	EventTaskProgressed EventType = "task.progressed"
	EventTaskCompleted  EventType = "task.completed"
	EventTaskFailed     EventType = "task.failed"
	EventTaskBlocked    EventType = "task.blocked"
	EventTaskUnblocked  EventType = "task.unblocked"

	// Requirements (user confirmation bridge)
	EventRequirementCreated  EventType = "requirement.created"
	EventRequirementApproved EventType = "requirement.approved"
	EventRequirementRejected EventType = "requirement.rejected"

	// Decisions, conflicts, operations, interventions
	EventDecisionRecorded     EventType = "decision.recorded"
	EventConflictDetected     EventType = "conflict.detected"
	EventConflictResolved     EventType = "conflict.resolved"
	EventOperationStarted     EventType = "operation.started"
	EventOperationCompleted   EventType = "operation.completed"
	EventInterventionRecorded EventType = "intervention.recorded"

	// Worker activity
	EventWorkerStarted   EventType = "worker.started"
	EventWorkerProgress  EventType = "worker.progress"
	EventWorkerCompleted EventType = "worker.completed"
	EventWorkerFailed    EventType = "worker.failed"

	// Guard verdicts
	EventGuardPassed            EventType = "guard.passed"
	EventGuardConditionalPassed EventType = "guard.conditional_passed"
	EventGuardFailed            EventType = "guard.failed"

	// Sentinel
	EventSentinelAlertRaised EventType = "sentinel.alert_raised"

	// Pipeline and plans
	EventPipelineStarted       EventType = "pipeline.started"
	EventPipelineCompleted     EventType = "pipeline.completed"
	EventPlanFallbackActivated EventType = "plan.fallback_activated"
	EventPlanValidationFailed  EventType = "plan.validation_failed"
	EventPlanApprovalRequired  EventType = "plan.approval_required"

	// System
	EventSystemHeartbeat     EventType = "system.heartbeat"
	EventSystemEmergencyStop EventType = "system.emergency_stop"

	// Requirement analysis
	EventRAIntakeReceived    EventType = "ra.intake.received"
	EventRATriageCompleted   EventType = "ra.triage.completed"
	EventRAContextEnriched   EventType = "ra.context.enriched"
	EventRAWebSearched       EventType = "ra.web.searched"
	EventRAHypothesisBuilt   EventType = "ra.hypothesis.built"
	EventRAClarifyGenerated  EventType = "ra.clarify.generated"
	EventRAUserResponded     EventType = "ra.user.responded"
	EventRASpecSynthesized   EventType = "ra.spec.synthesized"
	EventRAChallengeReviewed EventType = "ra.challenge.reviewed"
	EventRARefereeCompared   EventType = "ra.referee.compared"
	EventRAGateDecided       EventType = "ra.gate.decided"
	EventRACompleted         EventType = "ra.completed"

	// GitHub mirror notifications (projected, no mirror implemented)
	EventGithubIssueOpened EventType = "github.issue_opened"
	EventGithubIssueClosed EventType = "github.issue_closed"

	// LLM accounting
	EventLLMResponse EventType = "llm.response"
)

// knownTypes is the closed set this version dispatches on.
var knownTypes = map[EventType]bool{
	EventHiveCreated: true, EventHiveClosed: true,
	EventColonyCreated: true, EventColonyStarted: true,
	EventColonyCompleted: true, EventColonyFailed: true,
	EventColonySuspended: true, EventColonyResumed: true,
	EventRunStarted: true, EventRunCompleted: true,
	EventRunFailed: true, EventRunAborted: true,
	EventTaskCreated: true, EventTaskAssigned: true,
	EventTaskProgressed: true, EventTaskCompleted: true,
	EventTaskFailed: true, EventTaskBlocked: true, EventTaskUnblocked: true,
	EventRequirementCreated: true, EventRequirementApproved: true,
	EventRequirementRejected: true,
	EventDecisionRecorded:    true, EventConflictDetected: true,
	EventConflictResolved: true, EventOperationStarted: true,
	EventOperationCompleted: true, EventInterventionRecorded: true,
	EventWorkerStarted: true, EventWorkerProgress: true,
	EventWorkerCompleted: true, EventWorkerFailed: true,
	EventGuardPassed: true, EventGuardConditionalPassed: true,
	EventGuardFailed:         true,
	EventSentinelAlertRaised: true,
	EventPipelineStarted:     true, EventPipelineCompleted: true,
	EventPlanFallbackActivated: true, EventPlanValidationFailed: true,
	EventPlanApprovalRequired: true,
	EventSystemHeartbeat:      true, EventSystemEmergencyStop: true,
	EventRAIntakeReceived: true, EventRATriageCompleted: true,
	EventRAContextEnriched: true, EventRAWebSearched: true,
	EventRAHypothesisBuilt: true, EventRAClarifyGenerated: true,
	EventRAUserResponded: true, EventRASpecSynthesized: true,
	EventRAChallengeReviewed: true, EventRARefereeCompared: true,
	EventRAGateDecided: true, EventRACompleted: true,
	EventGithubIssueOpened: true, EventGithubIssueClosed: true,
	EventLLMResponse: true,
}

// Known reports whether this version's taxonomy includes the type.
func (t EventType) Known() bool { return knownTypes[t] }

// Namespace returns the leading segment of the dotted type ("task" for
// "task.created").
func (t EventType) Namespace() string {
	s := string(t)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i]
		}
	}
	return s
}

// =============================================================================
// VARIANT DISPATCH
// =============================================================================

// Variant is a decoded event, dispatched on the type discriminator.
type Variant interface {
	EventType() EventType
}

// KnownEvent wraps an event whose type this version recognizes.
type KnownEvent struct {
	Event *Event
}

func (k KnownEvent) EventType() EventType { return k.Event.Type }

// UnknownEvent wraps an event with an unrecognized discriminant. The
// original payload and raw fields ride along untouched so that rewriting
// the stream loses nothing.
type UnknownEvent struct {
	Event *Event
}

func (u UnknownEvent) EventType() EventType { return u.Event.Type }

// Decode maps an event onto its taxonomy variant. Unknown discriminants
// yield UnknownEvent rather than an error.
func Decode(e *Event) Variant {
	if e.Type.Known() {
		return KnownEvent{Event: e}
	}
	return UnknownEvent{Event: e}
}

// ParseLine decodes a serialized log line into its taxonomy variant.
func ParseLine(line []byte) (Variant, error) {
	e, err := ParseEvent(line)
	if err != nil {
		return nil, err
	}
	return Decode(e), nil
}

// ParseMap decodes an already-deserialized map into its taxonomy variant.
func ParseMap(m map[string]interface{}) (Variant, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return ParseLine(data)
}
