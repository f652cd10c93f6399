package ra

import (
	"context"
	"fmt"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/fsm"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/types"
)

// Analyzer drives the requirement-analysis state machine. Construct one
// per intake. Collaborators left nil fall back to the stubs, so the full
// pipeline runs without any LLM or network dependency.
type Analyzer struct {
	Log  *akashic.Log
	Ask  types.AskFunc
	Seed string // actor recorded on emitted events

	Scorer      AmbiguityScorer
	Forager     ContextForager
	Researcher  WebResearcher
	Miner       IntentMiner
	Mapper      AssumptionMapper
	Challenger  RiskChallenger
	Clarifier   ClarifyGenerator
	Synthesizer SpecSynthesizer
	Reviewer    DraftReviewer
	Comparer    RefereeComparer
	Gate        GuardGate

	// RiskThreshold splits EXECUTION_READY from
	// EXECUTION_READY_WITH_RISKS on residual risk.
	RiskThreshold float64
	// MaxGateLoops bounds the gate-fail clarify loop.
	MaxGateLoops int
	// MaxReviewRounds bounds consecutive rework verdicts per clarify
	// pass.
	MaxReviewRounds int
}

func (a *Analyzer) defaults() {
	if a.Scorer == nil {
		a.Scorer = HeuristicScorer{}
	}
	if a.Forager == nil {
		a.Forager = StubForager{}
	}
	if a.Researcher == nil {
		a.Researcher = StubResearcher{}
	}
	if a.Miner == nil {
		a.Miner = StubMiner{}
	}
	if a.Mapper == nil {
		a.Mapper = StubMapper{}
	}
	if a.Challenger == nil {
		a.Challenger = StubChallenger{}
	}
	if a.Clarifier == nil {
		a.Clarifier = StubClarifier{}
	}
	if a.Synthesizer == nil {
		a.Synthesizer = StubSynthesizer{}
	}
	if a.Reviewer == nil {
		a.Reviewer = StubReviewer{}
	}
	if a.Comparer == nil {
		a.Comparer = StubComparer{}
	}
	if a.Gate == nil {
		a.Gate = StubGate{}
	}
	if a.Seed == "" {
		a.Seed = "ra"
	}
	if a.RiskThreshold <= 0 {
		a.RiskThreshold = 0.5
	}
	if a.MaxGateLoops <= 0 {
		a.MaxGateLoops = 3
	}
	if a.MaxReviewRounds <= 0 {
		a.MaxReviewRounds = 3
	}
}

// emit appends an ra.* event and advances the machine with it.
func (a *Analyzer) emit(machine *fsm.Machine, runID string, typ akashic.EventType, payload map[string]interface{}) error {
	e := akashic.NewEvent(typ, a.Seed, runID, payload)
	if a.Log != nil {
		if _, err := a.Log.Append(runID, e); err != nil {
			return fmt.Errorf("record %s: %w", typ, err)
		}
	}
	if _, err := machine.Fire(e); err != nil {
		return err
	}
	return nil
}

// Analyze runs the full pipeline on an intake text, recording every
// transition on the run stream, and returns the analysis with its terminal
// outcome.
func (a *Analyzer) Analyze(ctx context.Context, runID, rawText string) (*Analysis, error) {
	a.defaults()
	machine := fsm.NewRAMachine()
	analysis := &Analysis{RunID: runID, RawText: rawText}

	// Intake.
	if err := a.emit(machine, runID, akashic.EventRAIntakeReceived,
		map[string]interface{}{"raw_text": rawText}); err != nil {
		return nil, err
	}

	// Triage.
	scores, path := a.Scorer.Score(rawText)
	analysis.Scores, analysis.Path = scores, path
	logging.RA("intake triaged as %s (ambiguity %.2f)", path, scores.Ambiguity)
	if err := a.emit(machine, runID, akashic.EventRATriageCompleted, map[string]interface{}{
		"path":                string(path),
		"ambiguity":           scores.Ambiguity,
		"context_sufficiency": scores.ContextSufficiency,
		"execution_risk":      scores.ExecutionRisk,
	}); err != nil {
		return nil, err
	}

	// Context enrichment.
	evidence, err := a.Forager.Gather(ctx, rawText)
	if err != nil {
		return nil, fmt.Errorf("context forage: %w", err)
	}
	intent, err := a.Miner.Mine(ctx, rawText, evidence)
	if err != nil {
		return nil, fmt.Errorf("intent mining: %w", err)
	}
	analysis.Intent = intent

	webNeeded := path == PathFullAnalysis && len(intent.Unknowns) > 0
	if err := a.emit(machine, runID, akashic.EventRAContextEnriched, map[string]interface{}{
		"evidence_count":      len(evidence),
		"unknown_count":       len(intent.Unknowns),
		"web_research_needed": webNeeded,
	}); err != nil {
		return nil, err
	}

	if webNeeded {
		findings, err := a.Researcher.Research(ctx, intent.Unknowns)
		if err != nil {
			return nil, fmt.Errorf("web research: %w", err)
		}
		if err := a.emit(machine, runID, akashic.EventRAWebSearched, map[string]interface{}{
			"finding_count": len(findings),
		}); err != nil {
			return nil, err
		}
	}

	// Hypothesis building.
	assumptions, err := a.Mapper.Map(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("assumption mapping: %w", err)
	}
	risks, err := a.Challenger.Challenge(ctx, intent, assumptions)
	if err != nil {
		return nil, fmt.Errorf("risk challenge: %w", err)
	}
	if err := a.emit(machine, runID, akashic.EventRAHypothesisBuilt, map[string]interface{}{
		"assumption_count": len(assumptions),
		"risk_count":       len(risks),
	}); err != nil {
		return nil, err
	}

	// Clarify loop; gate failures re-enter here. Drafts accumulate
	// across passes so the referee can compare every version.
	var drafts []SpecDraft
	for loop := 0; ; loop++ {
		round, err := a.Clarifier.Generate(ctx, intent, assumptions)
		if err != nil {
			return nil, fmt.Errorf("clarify generation: %w", err)
		}
		analysis.Rounds++
		if err := a.emit(machine, runID, akashic.EventRAClarifyGenerated, map[string]interface{}{
			"round":          analysis.Rounds,
			"question_count": float64(len(round.Questions)),
		}); err != nil {
			return nil, err
		}

		if len(round.Questions) > 0 {
			answered, disposition := a.askQuestions(ctx, round.Questions)
			analysis.Answers = append(analysis.Answers, answered...)
			if err := a.emit(machine, runID, akashic.EventRAUserResponded, map[string]interface{}{
				"disposition": disposition,
				"answers":     answersPayload(answered),
			}); err != nil {
				return nil, err
			}
			if disposition == "abandon" {
				return a.complete(machine, runID, analysis, fsm.RAAbandoned)
			}
		}

		// Synthesis, challenge review, and optional referee comparison.
		draft, err := a.synthesizeAndReview(ctx, machine, runID, rawText, intent, assumptions, risks, analysis, &drafts)
		if err != nil {
			return nil, err
		}
		analysis.Draft = &draft

		decision, err := a.Gate.Decide(ctx, draft, risks)
		if err != nil {
			return nil, fmt.Errorf("gate decision: %w", err)
		}
		analysis.Decision = decision
		if err := a.emit(machine, runID, akashic.EventRAGateDecided, map[string]interface{}{
			"passed":        decision.Passed,
			"residual_risk": decision.ResidualRisk,
		}); err != nil {
			return nil, err
		}

		if decision.Passed {
			outcome := fsm.RAExecutionReady
			if decision.ResidualRisk > a.RiskThreshold {
				outcome = fsm.RAExecutionReadyWithRisks
			}
			return a.complete(machine, runID, analysis, outcome)
		}
		if loop+1 >= a.MaxGateLoops {
			logging.RA("gate failed %d times, abandoning", a.MaxGateLoops)
			return a.complete(machine, runID, analysis, fsm.RAAbandoned)
		}
		// The machine is already back in CLARIFY_GEN after the failed
		// gate decision.
	}
}

// synthesizeAndReview drives synthesis through the challenge review and,
// on a compare verdict, the referee comparison. A rework verdict
// re-synthesizes the draft; when the rework budget runs out the verdict
// is forced to compare (several drafts exist) or pass (only one), so the
// analysis always reaches the gate.
func (a *Analyzer) synthesizeAndReview(ctx context.Context, machine *fsm.Machine, runID, rawText string,
	intent IntentGraph, assumptions []Assumption, risks []FailureHypothesis,
	analysis *Analysis, drafts *[]SpecDraft) (SpecDraft, error) {

	for round := 1; ; round++ {
		draft, err := a.Synthesizer.Synthesize(ctx, rawText, intent, assumptions, analysis.Answers)
		if err != nil {
			return SpecDraft{}, fmt.Errorf("spec synthesis: %w", err)
		}
		draft.Version = len(*drafts) + 1
		*drafts = append(*drafts, draft)
		if err := a.emit(machine, runID, akashic.EventRASpecSynthesized, map[string]interface{}{
			"draft_id": draft.DraftID,
			"version":  draft.Version,
			"goal":     draft.Goal,
		}); err != nil {
			return SpecDraft{}, err
		}

		review, err := a.Reviewer.Review(ctx, draft, risks)
		if err != nil {
			return SpecDraft{}, fmt.Errorf("challenge review: %w", err)
		}
		verdict := review.Verdict
		if verdict == "" {
			verdict = ReviewPass
		}
		if verdict == ReviewRework && round >= a.MaxReviewRounds {
			logging.RA("review budget of %d reworks exhausted on run %s", a.MaxReviewRounds, runID)
			if len(*drafts) > 1 {
				verdict = ReviewCompare
			} else {
				verdict = ReviewPass
			}
		}
		if err := a.emit(machine, runID, akashic.EventRAChallengeReviewed, map[string]interface{}{
			"verdict":    verdict,
			"note_count": len(review.Notes),
			"risk_count": len(risks),
		}); err != nil {
			return SpecDraft{}, err
		}

		switch verdict {
		case ReviewRework:
			continue
		case ReviewCompare:
			best, err := a.Comparer.Compare(ctx, *drafts)
			if err != nil {
				return SpecDraft{}, fmt.Errorf("referee compare: %w", err)
			}
			if err := a.emit(machine, runID, akashic.EventRARefereeCompared, map[string]interface{}{
				"winner_draft_id": best.DraftID,
				"candidate_count": len(*drafts),
			}); err != nil {
				return SpecDraft{}, err
			}
			return best, nil
		default:
			return draft, nil
		}
	}
}

// complete records the terminal event and returns the analysis. The
// completion event only drives the machine when fired from GUARD_GATE;
// abandonment from user feedback already left the machine terminal.
func (a *Analyzer) complete(machine *fsm.Machine, runID string, analysis *Analysis, outcome string) (*Analysis, error) {
	analysis.Outcome = outcome
	e := akashic.NewEvent(akashic.EventRACompleted, a.Seed, runID,
		map[string]interface{}{"outcome": outcome})
	if a.Log != nil {
		if _, err := a.Log.Append(runID, e); err != nil {
			return nil, err
		}
	}
	if machine.State() == fsm.RAGuardGate {
		if _, err := machine.Fire(e); err != nil {
			return nil, err
		}
	}
	logging.RA("analysis of run %s completed: %s", runID, outcome)
	return analysis, nil
}

// askQuestions surfaces each question through the Ask callback. A missing
// callback or an ask failure abandons the analysis rather than guessing.
func (a *Analyzer) askQuestions(ctx context.Context, questions []Question) ([]Question, string) {
	if a.Ask == nil {
		return nil, "abandon"
	}
	answered := make([]Question, 0, len(questions))
	for _, q := range questions {
		answer, err := a.Ask(ctx, q.Text, q.Options)
		if err != nil {
			logging.RA("clarification %q unanswered: %v", q.Text, err)
			return answered, "abandon"
		}
		q.Answer = answer
		answered = append(answered, q)
	}
	return answered, "proceed"
}

func answersPayload(questions []Question) []interface{} {
	out := make([]interface{}, 0, len(questions))
	for _, q := range questions {
		out = append(out, map[string]interface{}{"question": q.Text, "answer": q.Answer})
	}
	return out
}
