package ra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/fsm"
)

// fixedScorer pins the analysis path.
type fixedScorer struct {
	path AnalysisPath
}

func (s fixedScorer) Score(string) (Scores, AnalysisPath) {
	return Scores{Ambiguity: 0.8, ContextSufficiency: 0.2, ExecutionRisk: 0.6}, s.path
}

// oneQuestionClarifier asks a single fixed question once, then nothing.
type oneQuestionClarifier struct {
	text  string
	asked bool
}

func (c *oneQuestionClarifier) Generate(context.Context, IntentGraph, []Assumption) (ClarificationRound, error) {
	if c.asked {
		return ClarificationRound{}, nil
	}
	c.asked = true
	return ClarificationRound{Round: 1, Questions: []Question{{ID: "q1", Text: c.text}}}, nil
}

// failThenPassGate fails the first n decisions.
type failThenPassGate struct {
	failures int
}

func (g *failThenPassGate) Decide(context.Context, SpecDraft, []FailureHypothesis) (GateDecision, error) {
	if g.failures > 0 {
		g.failures--
		return GateDecision{Passed: false, Reasons: []string{"incomplete"}}, nil
	}
	return GateDecision{Passed: true}, nil
}

func eventTypes(t *testing.T, log *akashic.Log, runID string) []akashic.EventType {
	t.Helper()
	events, err := log.Replay(runID)
	require.NoError(t, err)
	out := make([]akashic.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestClarifyLoopJapaneseIntake(t *testing.T) {
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)

	var askedQuestion string
	analyzer := &Analyzer{
		Log:       log,
		Scorer:    fixedScorer{path: PathFullAnalysis},
		Clarifier: &oneQuestionClarifier{text: "OAuth2を使用しますか？"},
		Ask: func(_ context.Context, question string, _ []string) (string, error) {
			askedQuestion = question
			return "いいえ", nil
		},
	}

	analysis, err := analyzer.Analyze(context.Background(), "run-1", "ログイン機能を作って")
	require.NoError(t, err)

	assert.Equal(t, fsm.RAExecutionReady, analysis.Outcome)
	assert.Equal(t, "OAuth2を使用しますか？", askedQuestion)
	require.Len(t, analysis.Answers, 1)
	assert.Equal(t, "いいえ", analysis.Answers[0].Answer)
	require.NotNil(t, analysis.Draft)
	assert.Equal(t, "ログイン機能を作って", analysis.Draft.Goal)
	assert.Equal(t, 1, analysis.Draft.Version)
	assert.Contains(t, analysis.Draft.Constraints, "OAuth2を使用しますか？: いいえ",
		"answered clarifications become draft constraints")

	assert.Equal(t, []akashic.EventType{
		akashic.EventRAIntakeReceived,
		akashic.EventRATriageCompleted,
		akashic.EventRAContextEnriched,
		akashic.EventRAHypothesisBuilt,
		akashic.EventRAClarifyGenerated,
		akashic.EventRAUserResponded,
		akashic.EventRASpecSynthesized,
		akashic.EventRAChallengeReviewed,
		akashic.EventRAGateDecided,
		akashic.EventRACompleted,
	}, eventTypes(t, log, "run-1"))

	events, err := log.Replay("run-1")
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, fsm.RAExecutionReady, last.PayloadString("outcome"))
}

func TestStubPipelineNeedsNoCollaborators(t *testing.T) {
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)

	analysis, err := (&Analyzer{Log: log}).Analyze(context.Background(), "run-1", "add a --version flag to the CLI tool")
	require.NoError(t, err)
	assert.Equal(t, fsm.RAExecutionReady, analysis.Outcome)
	assert.Equal(t, 1, analysis.Rounds)
}

func TestGateFailureLoopsBackToClarify(t *testing.T) {
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)

	analyzer := &Analyzer{
		Log:          log,
		Gate:         &failThenPassGate{failures: 1},
		MaxGateLoops: 3,
	}
	analysis, err := analyzer.Analyze(context.Background(), "run-1", "ship it")
	require.NoError(t, err)
	assert.Equal(t, fsm.RAExecutionReady, analysis.Outcome)
	assert.Equal(t, 2, analysis.Rounds, "failed gate re-enters clarification")

	seen := eventTypes(t, log, "run-1")
	gateDecisions := 0
	for _, typ := range seen {
		if typ == akashic.EventRAGateDecided {
			gateDecisions++
		}
	}
	assert.Equal(t, 2, gateDecisions)
}

func TestGateExhaustionAbandons(t *testing.T) {
	analyzer := &Analyzer{
		Gate:         &failThenPassGate{failures: 10},
		MaxGateLoops: 2,
	}
	analysis, err := analyzer.Analyze(context.Background(), "run-1", "ship it")
	require.NoError(t, err)
	assert.Equal(t, fsm.RAAbandoned, analysis.Outcome)
}

func TestUnanswerableQuestionAbandons(t *testing.T) {
	analyzer := &Analyzer{
		Clarifier: &oneQuestionClarifier{text: "which database?"},
		Ask: func(context.Context, string, []string) (string, error) {
			return "", errors.New("timeout")
		},
	}
	analysis, err := analyzer.Analyze(context.Background(), "run-1", "migrate the data")
	require.NoError(t, err)
	assert.Equal(t, fsm.RAAbandoned, analysis.Outcome)
}

func TestResidualRiskOutcome(t *testing.T) {
	riskyGate := &staticGate{decision: GateDecision{Passed: true, ResidualRisk: 0.9}}
	analysis, err := (&Analyzer{Gate: riskyGate, RiskThreshold: 0.5}).
		Analyze(context.Background(), "run-1", "rewrite everything")
	require.NoError(t, err)
	assert.Equal(t, fsm.RAExecutionReadyWithRisks, analysis.Outcome)
}

type staticGate struct {
	decision GateDecision
}

func (g *staticGate) Decide(context.Context, SpecDraft, []FailureHypothesis) (GateDecision, error) {
	return g.decision, nil
}

// scriptedReviewer returns its verdicts in order, then passes.
type scriptedReviewer struct {
	verdicts []string
}

func (r *scriptedReviewer) Review(context.Context, SpecDraft, []FailureHypothesis) (Review, error) {
	if len(r.verdicts) == 0 {
		return Review{Verdict: ReviewPass}, nil
	}
	v := r.verdicts[0]
	r.verdicts = r.verdicts[1:]
	return Review{Verdict: v, Notes: []string{"draft under-specified"}}, nil
}

// recordingComparer notes the candidate count and picks the first draft.
type recordingComparer struct {
	candidates int
}

func (c *recordingComparer) Compare(_ context.Context, drafts []SpecDraft) (SpecDraft, error) {
	c.candidates = len(drafts)
	return drafts[0], nil
}

func TestReworkVerdictResynthesizes(t *testing.T) {
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)

	analyzer := &Analyzer{
		Log:      log,
		Reviewer: &scriptedReviewer{verdicts: []string{ReviewRework}},
	}
	analysis, err := analyzer.Analyze(context.Background(), "run-1", "ship it")
	require.NoError(t, err)
	assert.Equal(t, fsm.RAExecutionReady, analysis.Outcome)
	require.NotNil(t, analysis.Draft)
	assert.Equal(t, 2, analysis.Draft.Version, "the rework verdict produced a second draft")

	synthesized, reviewed := 0, 0
	for _, typ := range eventTypes(t, log, "run-1") {
		switch typ {
		case akashic.EventRASpecSynthesized:
			synthesized++
		case akashic.EventRAChallengeReviewed:
			reviewed++
		}
	}
	assert.Equal(t, 2, synthesized)
	assert.Equal(t, 2, reviewed)
}

func TestCompareVerdictInvokesReferee(t *testing.T) {
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)

	comparer := &recordingComparer{}
	analyzer := &Analyzer{
		Log:      log,
		Reviewer: &scriptedReviewer{verdicts: []string{ReviewRework, ReviewCompare}},
		Comparer: comparer,
	}
	analysis, err := analyzer.Analyze(context.Background(), "run-1", "ship it")
	require.NoError(t, err)
	assert.Equal(t, fsm.RAExecutionReady, analysis.Outcome)
	assert.Equal(t, 2, comparer.candidates, "every synthesized version reaches the referee")
	require.NotNil(t, analysis.Draft)
	assert.Equal(t, 1, analysis.Draft.Version, "the referee's winner becomes the final draft")
	assert.Contains(t, eventTypes(t, log, "run-1"), akashic.EventRARefereeCompared)
}

func TestReviewBudgetForcesProgress(t *testing.T) {
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)

	analyzer := &Analyzer{
		Log:             log,
		Reviewer:        &scriptedReviewer{verdicts: []string{ReviewRework, ReviewRework, ReviewRework, ReviewRework}},
		MaxReviewRounds: 2,
	}
	analysis, err := analyzer.Analyze(context.Background(), "run-1", "ship it")
	require.NoError(t, err)
	assert.Equal(t, fsm.RAExecutionReady, analysis.Outcome,
		"an exhausted rework budget still reaches the gate")
	assert.Contains(t, eventTypes(t, log, "run-1"), akashic.EventRARefereeCompared,
		"the accumulated drafts are settled by comparison")
}

// recordingResearcher notes every research call.
type recordingResearcher struct {
	calls int
}

func (r *recordingResearcher) Research(context.Context, []string) ([]Finding, error) {
	r.calls++
	return nil, nil
}

func TestFullAnalysisWithoutUnknownsSkipsResearch(t *testing.T) {
	log, err := akashic.NewLog(t.TempDir(), time.Second)
	require.NoError(t, err)

	researcher := &recordingResearcher{}
	analyzer := &Analyzer{
		Log:        log,
		Scorer:     fixedScorer{path: PathFullAnalysis},
		Researcher: researcher,
	}
	_, err = analyzer.Analyze(context.Background(), "run-1", "migrate the data")
	require.NoError(t, err)

	assert.Equal(t, 0, researcher.calls, "no unknowns means no web research")
	assert.NotContains(t, eventTypes(t, log, "run-1"), akashic.EventRAWebSearched)
}

func TestHeuristicScorerPaths(t *testing.T) {
	scorer := HeuristicScorer{}

	_, path := scorer.Score("ログイン機能を作って")
	assert.Equal(t, PathFullAnalysis, path, "short vague Japanese intake needs full analysis")

	_, path = scorer.Score("Add a --version flag to the hiveforge CLI that prints the module version and commit hash, then exit with status 0.")
	assert.Equal(t, PathInstantPass, path)
}
