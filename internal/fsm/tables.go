package fsm

import (
	"github.com/k-iijima/hiveforge/internal/akashic"
)

// Hive states.
const (
	HiveActive = "ACTIVE"
	HiveIdle   = "IDLE"
	HiveClosed = "CLOSED"
)

// Requirement-analysis states.
const (
	RAIntake                  = "INTAKE"
	RATriage                  = "TRIAGE"
	RAContextEnrich           = "CONTEXT_ENRICH"
	RAWebResearch             = "WEB_RESEARCH"
	RAHypothesisBuild         = "HYPOTHESIS_BUILD"
	RAClarifyGen              = "CLARIFY_GEN"
	RAUserFeedback            = "USER_FEEDBACK"
	RASpecSynthesis           = "SPEC_SYNTHESIS"
	RAChallengeReview         = "CHALLENGE_REVIEW"
	RARefereeCompare          = "REFEREE_COMPARE"
	RAGuardGate               = "GUARD_GATE"
	RAExecutionReady          = "EXECUTION_READY"
	RAExecutionReadyWithRisks = "EXECUTION_READY_WITH_RISKS"
	RAAbandoned               = "ABANDONED"
)

// NewRunMachine builds the run lifecycle machine.
// RUNNING is both initial and the only non-terminal state.
func NewRunMachine() *Machine {
	m := NewMachine("run", akashic.RunRunning)
	m.AddTransition(akashic.RunRunning, akashic.EventRunCompleted, akashic.RunCompleted)
	m.AddTransition(akashic.RunRunning, akashic.EventRunFailed, akashic.RunFailed)
	m.AddTransition(akashic.RunRunning, akashic.EventRunAborted, akashic.RunAborted)
	m.AddTransition(akashic.RunRunning, akashic.EventSystemEmergencyStop, akashic.RunAborted)
	return m
}

// NewTaskMachine builds the task lifecycle machine. Re-creation out of
// FAILED is guarded by the retry budget: the event's retry_count payload
// must stay under maxRetries.
func NewTaskMachine(maxRetries int) *Machine {
	m := NewMachine("task", akashic.TaskPending)
	m.AddTransition(akashic.TaskPending, akashic.EventTaskAssigned, akashic.TaskInProgress)
	m.AddTransition(akashic.TaskInProgress, akashic.EventTaskBlocked, akashic.TaskBlocked)
	m.AddTransition(akashic.TaskBlocked, akashic.EventTaskUnblocked, akashic.TaskInProgress)
	m.AddTransition(akashic.TaskInProgress, akashic.EventTaskCompleted, akashic.TaskCompleted)
	m.AddTransition(akashic.TaskInProgress, akashic.EventTaskFailed, akashic.TaskFailed)
	m.AddGuardedTransition(akashic.TaskFailed, akashic.EventTaskCreated, akashic.TaskPending,
		func(e *akashic.Event) bool {
			return int(e.PayloadFloat("retry_count")) < maxRetries
		})
	return m
}

// NewRequirementMachine builds the confirmation-request machine.
func NewRequirementMachine() *Machine {
	m := NewMachine("requirement", akashic.RequirementPending)
	m.AddTransition(akashic.RequirementPending, akashic.EventRequirementApproved, akashic.RequirementApproved)
	m.AddTransition(akashic.RequirementPending, akashic.EventRequirementRejected, akashic.RequirementRejected)
	return m
}

// NewHiveMachine builds the hive activity machine. The caller supplies
// lastColony, consulted when a colony completes: the hive only goes IDLE
// when no other colony remains active.
func NewHiveMachine(lastColony Guard) *Machine {
	if lastColony == nil {
		lastColony = func(*akashic.Event) bool { return true }
	}
	m := NewMachine("hive", HiveIdle)
	m.AddTransition(HiveIdle, akashic.EventColonyStarted, HiveActive)
	m.AddTransition(HiveIdle, akashic.EventColonyCreated, HiveActive)
	m.AddGuardedTransition(HiveActive, akashic.EventColonyCompleted, HiveIdle, lastColony)
	m.AddTransition(HiveActive, akashic.EventHiveClosed, HiveClosed)
	m.AddTransition(HiveIdle, akashic.EventHiveClosed, HiveClosed)
	return m
}

// NewColonyMachine builds the colony lifecycle machine, including the
// suspension loop driven by Sentinel verdicts.
func NewColonyMachine() *Machine {
	m := NewMachine("colony", akashic.ColonyPending)
	m.AddTransition(akashic.ColonyPending, akashic.EventColonyStarted, akashic.ColonyInProgress)
	m.AddTransition(akashic.ColonyInProgress, akashic.EventColonyCompleted, akashic.ColonyCompleted)
	m.AddTransition(akashic.ColonyInProgress, akashic.EventColonyFailed, akashic.ColonyFailed)
	m.AddTransition(akashic.ColonyInProgress, akashic.EventColonySuspended, akashic.ColonySuspended)
	m.AddTransition(akashic.ColonySuspended, akashic.EventColonyResumed, akashic.ColonyInProgress)
	m.AddTransition(akashic.ColonySuspended, akashic.EventColonyFailed, akashic.ColonyFailed)
	return m
}

// raOutcome reads the completion event's outcome discriminator.
func raOutcome(want string) Guard {
	return func(e *akashic.Event) bool { return e.PayloadString("outcome") == want }
}

// NewRAMachine builds the requirement-analysis machine. Branching
// transitions dispatch on payload fields of the recorded ra.* events:
// clarify on question count, user feedback on its disposition, challenge
// review on its verdict, gate on pass/fail, and the terminal state on the
// completion event's outcome.
func NewRAMachine() *Machine {
	m := NewMachine("ra", RAIntake)

	m.AddTransition(RAIntake, akashic.EventRAIntakeReceived, RATriage)
	m.AddTransition(RATriage, akashic.EventRATriageCompleted, RAContextEnrich)

	// Enrichment either proceeds straight to hypothesis building or
	// detours through web research first.
	m.AddGuardedTransition(RAContextEnrich, akashic.EventRAContextEnriched, RAWebResearch,
		func(e *akashic.Event) bool { return e.PayloadBool("web_research_needed") })
	m.AddTransition(RAContextEnrich, akashic.EventRAContextEnriched, RAHypothesisBuild)
	m.AddTransition(RAWebResearch, akashic.EventRAWebSearched, RAHypothesisBuild)

	m.AddTransition(RAHypothesisBuild, akashic.EventRAHypothesisBuilt, RAClarifyGen)

	// No open questions means synthesis can start immediately.
	m.AddGuardedTransition(RAClarifyGen, akashic.EventRAClarifyGenerated, RAUserFeedback,
		func(e *akashic.Event) bool { return e.PayloadFloat("question_count") > 0 })
	m.AddTransition(RAClarifyGen, akashic.EventRAClarifyGenerated, RASpecSynthesis)

	m.AddGuardedTransition(RAUserFeedback, akashic.EventRAUserResponded, RAHypothesisBuild,
		func(e *akashic.Event) bool { return e.PayloadString("disposition") == "rework" })
	m.AddGuardedTransition(RAUserFeedback, akashic.EventRAUserResponded, RAAbandoned,
		func(e *akashic.Event) bool { return e.PayloadString("disposition") == "abandon" })
	m.AddTransition(RAUserFeedback, akashic.EventRAUserResponded, RASpecSynthesis)

	m.AddTransition(RASpecSynthesis, akashic.EventRASpecSynthesized, RAChallengeReview)

	m.AddGuardedTransition(RAChallengeReview, akashic.EventRAChallengeReviewed, RASpecSynthesis,
		func(e *akashic.Event) bool { return e.PayloadString("verdict") == "rework" })
	m.AddGuardedTransition(RAChallengeReview, akashic.EventRAChallengeReviewed, RARefereeCompare,
		func(e *akashic.Event) bool { return e.PayloadString("verdict") == "compare" })
	m.AddTransition(RAChallengeReview, akashic.EventRAChallengeReviewed, RAGuardGate)
	m.AddTransition(RARefereeCompare, akashic.EventRARefereeCompared, RAGuardGate)

	// Gate failure loops back to clarification.
	m.AddGuardedTransition(RAGuardGate, akashic.EventRAGateDecided, RAClarifyGen,
		func(e *akashic.Event) bool { return !e.PayloadBool("passed") })
	m.AddGuardedTransition(RAGuardGate, akashic.EventRAGateDecided, RAGuardGate,
		func(e *akashic.Event) bool { return e.PayloadBool("passed") })

	m.AddGuardedTransition(RAGuardGate, akashic.EventRACompleted, RAExecutionReady,
		raOutcome(RAExecutionReady))
	m.AddGuardedTransition(RAGuardGate, akashic.EventRACompleted, RAExecutionReadyWithRisks,
		raOutcome(RAExecutionReadyWithRisks))
	m.AddGuardedTransition(RAGuardGate, akashic.EventRACompleted, RAAbandoned,
		raOutcome(RAAbandoned))

	return m
}
