// Package ra implements requirement analysis: the guarded pipeline that
// keeps under-specified goals from reaching execution. An Analyzer drives
// the analysis state machine through injectable collaborators, records an
// ra.* event for every transition, and surfaces open questions to the
// user before any work is dispatched.
package ra

// Analysis paths chosen by the ambiguity scorer.
type AnalysisPath string

const (
	PathInstantPass    AnalysisPath = "INSTANT_PASS"
	PathAssumptionPass AnalysisPath = "ASSUMPTION_PASS"
	PathFullAnalysis   AnalysisPath = "FULL_ANALYSIS"
)

// Scores is the ambiguity scorer's verdict on an intake text.
type Scores struct {
	Ambiguity          float64 `json:"ambiguity"`
	ContextSufficiency float64 `json:"context_sufficiency"`
	ExecutionRisk      float64 `json:"execution_risk"`
}

// Evidence is one piece of internal context gathered by the forager.
type Evidence struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// Finding is one external research result.
type Finding struct {
	Query   string `json:"query"`
	Summary string `json:"summary"`
	URL     string `json:"url,omitempty"`
}

// IntentGraph is the mined structure of a goal: what the user wants and
// what is still unknown.
type IntentGraph struct {
	Goals    []string `json:"goals"`
	Unknowns []string `json:"unknowns"`
}

// Assumption statuses.
const (
	AssumptionOpen      = "OPEN"
	AssumptionConfirmed = "CONFIRMED"
	AssumptionRejected  = "REJECTED"
)

// Assumption is one working hypothesis about the goal.
type Assumption struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
}

// FailureHypothesis is one way the work could go wrong.
type FailureHypothesis struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Likelihood  float64 `json:"likelihood"`
	Impact      string  `json:"impact"`
}

// Question is one clarification put to the user.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	Answer  string   `json:"answer,omitempty"`
}

// ClarificationRound bundles the questions of one clarify pass.
type ClarificationRound struct {
	Round     int        `json:"round"`
	Questions []Question `json:"questions"`
}

// SpecDraft is a synthesized specification candidate. Version counts
// synthesis passes: reworks and re-syntheses after a failed gate each
// produce the next version.
type SpecDraft struct {
	DraftID            string   `json:"draft_id"`
	Version            int      `json:"version"`
	Goal               string   `json:"goal"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Constraints        []string `json:"constraints"`
	NonGoals           []string `json:"non_goals"`
	OpenItems          []string `json:"open_items"`
}

// GateDecision is the completeness verdict on a draft.
type GateDecision struct {
	Passed       bool     `json:"passed"`
	ResidualRisk float64  `json:"residual_risk"`
	Reasons      []string `json:"reasons,omitempty"`
}

// Analysis is the overall result of one intake.
type Analysis struct {
	RunID    string       `json:"run_id"`
	RawText  string       `json:"raw_text"`
	Scores   Scores       `json:"scores"`
	Path     AnalysisPath `json:"path"`
	Intent   IntentGraph  `json:"intent"`
	Draft    *SpecDraft   `json:"draft,omitempty"`
	Outcome  string       `json:"outcome"`
	Rounds   int          `json:"clarification_rounds"`
	Answers  []Question   `json:"answers,omitempty"`
	Decision GateDecision `json:"gate_decision"`
}
