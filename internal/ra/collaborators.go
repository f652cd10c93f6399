package ra

import (
	"context"

	"github.com/k-iijima/hiveforge/internal/akashic"
)

// Collaborator interfaces. Every stage of the analysis is injectable; the
// stub implementations below keep the pipeline drivable with no LLM or
// network access at all.

// AmbiguityScorer rates an intake text and picks the analysis path.
type AmbiguityScorer interface {
	Score(text string) (Scores, AnalysisPath)
}

// ContextForager gathers internal evidence: past decisions, related runs.
type ContextForager interface {
	Gather(ctx context.Context, text string) ([]Evidence, error)
}

// WebResearcher resolves open unknowns against external sources.
type WebResearcher interface {
	Research(ctx context.Context, unknowns []string) ([]Finding, error)
}

// IntentMiner extracts goals and unknowns from the intake text.
type IntentMiner interface {
	Mine(ctx context.Context, text string, evidence []Evidence) (IntentGraph, error)
}

// AssumptionMapper turns intent into explicit assumptions.
type AssumptionMapper interface {
	Map(ctx context.Context, intent IntentGraph) ([]Assumption, error)
}

// RiskChallenger produces failure hypotheses for the intent.
type RiskChallenger interface {
	Challenge(ctx context.Context, intent IntentGraph, assumptions []Assumption) ([]FailureHypothesis, error)
}

// ClarifyGenerator turns open unknowns into user questions.
type ClarifyGenerator interface {
	Generate(ctx context.Context, intent IntentGraph, assumptions []Assumption) (ClarificationRound, error)
}

// SpecSynthesizer builds a spec draft from everything gathered.
type SpecSynthesizer interface {
	Synthesize(ctx context.Context, text string, intent IntentGraph,
		assumptions []Assumption, answers []Question) (SpecDraft, error)
}

// Challenge-review verdicts. "rework" sends the draft back to synthesis;
// "compare" hands the accumulated drafts to the referee.
const (
	ReviewPass    = "pass"
	ReviewRework  = "rework"
	ReviewCompare = "compare"
)

// Review is the challenge reviewer's verdict on one draft.
type Review struct {
	Verdict string   `json:"verdict"`
	Notes   []string `json:"notes,omitempty"`
}

// DraftReviewer challenges a synthesized draft before the gate sees it.
type DraftReviewer interface {
	Review(ctx context.Context, draft SpecDraft, risks []FailureHypothesis) (Review, error)
}

// RefereeComparer picks the best of several drafts. Invoked only when
// more than one draft exists.
type RefereeComparer interface {
	Compare(ctx context.Context, drafts []SpecDraft) (SpecDraft, error)
}

// GuardGate renders the completeness verdict on the final draft.
type GuardGate interface {
	Decide(ctx context.Context, draft SpecDraft, risks []FailureHypothesis) (GateDecision, error)
}

// =============================================================================
// STUBS
// =============================================================================

// StubForager gathers nothing.
type StubForager struct{}

func (StubForager) Gather(context.Context, string) ([]Evidence, error) { return nil, nil }

// StubResearcher finds nothing.
type StubResearcher struct{}

func (StubResearcher) Research(context.Context, []string) ([]Finding, error) { return nil, nil }

// StubMiner treats the whole text as a single goal with no unknowns.
type StubMiner struct{}

func (StubMiner) Mine(_ context.Context, text string, _ []Evidence) (IntentGraph, error) {
	return IntentGraph{Goals: []string{text}}, nil
}

// StubMapper produces no assumptions.
type StubMapper struct{}

func (StubMapper) Map(context.Context, IntentGraph) ([]Assumption, error) { return nil, nil }

// StubChallenger raises no hypotheses.
type StubChallenger struct{}

func (StubChallenger) Challenge(context.Context, IntentGraph, []Assumption) ([]FailureHypothesis, error) {
	return nil, nil
}

// StubClarifier asks no questions.
type StubClarifier struct{}

func (StubClarifier) Generate(context.Context, IntentGraph, []Assumption) (ClarificationRound, error) {
	return ClarificationRound{}, nil
}

// StubSynthesizer wraps the intake text into a minimal draft: mined
// goals become acceptance criteria, confirmed assumptions and answered
// questions become constraints, and open unknowns stay open items.
type StubSynthesizer struct{}

func (StubSynthesizer) Synthesize(_ context.Context, text string, intent IntentGraph,
	assumptions []Assumption, answers []Question) (SpecDraft, error) {
	draft := SpecDraft{
		DraftID:            akashic.NewEventID(),
		Version:            1,
		Goal:               text,
		AcceptanceCriteria: intent.Goals,
		OpenItems:          intent.Unknowns,
	}
	for _, a := range assumptions {
		if a.Status == AssumptionRejected {
			continue
		}
		draft.Constraints = append(draft.Constraints, a.Text)
	}
	for _, q := range answers {
		if q.Answer == "" {
			draft.OpenItems = append(draft.OpenItems, q.Text)
			continue
		}
		draft.Constraints = append(draft.Constraints, q.Text+": "+q.Answer)
	}
	return draft, nil
}

// StubReviewer passes every draft.
type StubReviewer struct{}

func (StubReviewer) Review(context.Context, SpecDraft, []FailureHypothesis) (Review, error) {
	return Review{Verdict: ReviewPass}, nil
}

// StubComparer returns the first draft.
type StubComparer struct{}

func (StubComparer) Compare(_ context.Context, drafts []SpecDraft) (SpecDraft, error) {
	return drafts[0], nil
}

// StubGate always passes with no residual risk.
type StubGate struct{}

func (StubGate) Decide(context.Context, SpecDraft, []FailureHypothesis) (GateDecision, error) {
	return GateDecision{Passed: true}, nil
}
