// Package guard verifies task plans before dispatch. L1 rules are
// structural and binding; L2 rules are advisory quality checks. The
// verdict and full report are appended to the run stream.
package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/orchestrator"
)

// Rule levels.
const (
	LevelL1 = "L1"
	LevelL2 = "L2"
)

// Verdicts.
const (
	VerdictPass            = "PASS"
	VerdictConditionalPass = "CONDITIONAL_PASS"
	VerdictFail            = "FAIL"
)

// Evidence types attached to rule results.
const (
	EvidenceStructure = "plan_structure"
	EvidenceCoverage  = "goal_coverage"
)

// RuleResult is one rule's finding.
type RuleResult struct {
	RuleName     string                 `json:"rule_name"`
	Level        string                 `json:"level"`
	Passed       bool                   `json:"passed"`
	Message      string                 `json:"message"`
	EvidenceType string                 `json:"evidence_type,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// Rule evaluates one property of a plan.
type Rule interface {
	Name() string
	Level() string
	Evaluate(plan *orchestrator.TaskPlan) RuleResult
}

// Report is the full verification outcome.
type Report struct {
	Verdict      string       `json:"verdict"`
	Results      []RuleResult `json:"results"`
	RemandReason string       `json:"remand_reason,omitempty"`
	EvaluatedAt  time.Time    `json:"evaluated_at"`
}

// Failures lists the failed rule results.
func (r *Report) Failures() []RuleResult {
	var out []RuleResult
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Verifier runs a rule set over plans and records verdicts.
type Verifier struct {
	rules []Rule
	log   *akashic.Log
}

// NewVerifier creates a verifier over the given rules. The log may be nil
// in unit tests; verdict events are then skipped.
func NewVerifier(log *akashic.Log, rules ...Rule) *Verifier {
	return &Verifier{rules: rules, log: log}
}

// DefaultRules returns the built-in L1 structure rules plus the L2
// goal-coverage rule with the given threshold.
func DefaultRules(coverageThreshold float64) []Rule {
	return []Rule{
		NonEmptyPlanRule{},
		UniqueTaskIDsRule{},
		ResolvedDependenciesRule{},
		AcyclicPlanRule{},
		GoalsPresentRule{},
		GoalCoverageRule{Threshold: coverageThreshold},
	}
}

// Verify evaluates every rule, renders the report, and appends the
// matching guard verdict event to the run stream.
func (v *Verifier) Verify(streamID string, plan *orchestrator.TaskPlan) (*Report, error) {
	report := &Report{Verdict: VerdictPass, EvaluatedAt: time.Now().UTC()}
	var remand []string
	l1Failed, l2Failed := false, false

	for _, rule := range v.rules {
		res := rule.Evaluate(plan)
		report.Results = append(report.Results, res)
		if res.Passed {
			continue
		}
		remand = append(remand, res.Message)
		if res.Level == LevelL1 {
			l1Failed = true
		} else {
			l2Failed = true
		}
	}

	switch {
	case l1Failed:
		report.Verdict = VerdictFail
	case l2Failed:
		report.Verdict = VerdictConditionalPass
	}
	report.RemandReason = strings.Join(remand, "; ")
	logging.Guard("plan %s verdict %s", plan.PlanID, report.Verdict)

	if v.log != nil {
		eventType := akashic.EventGuardPassed
		switch report.Verdict {
		case VerdictConditionalPass:
			eventType = akashic.EventGuardConditionalPassed
		case VerdictFail:
			eventType = akashic.EventGuardFailed
		}
		e := akashic.NewEvent(eventType, "guard", streamID, map[string]interface{}{
			"plan_id":       plan.PlanID,
			"verdict":       report.Verdict,
			"remand_reason": report.RemandReason,
			"results":       resultsPayload(report.Results),
		})
		if _, err := v.log.Append(streamID, e); err != nil {
			return report, fmt.Errorf("record guard verdict: %w", err)
		}
	}
	return report, nil
}

func resultsPayload(results []RuleResult) []interface{} {
	out := make([]interface{}, 0, len(results))
	for _, r := range results {
		entry := map[string]interface{}{
			"rule_name": r.RuleName,
			"level":     r.Level,
			"passed":    r.Passed,
			"message":   r.Message,
		}
		if r.EvidenceType != "" {
			entry["evidence_type"] = r.EvidenceType
		}
		if len(r.Details) > 0 {
			entry["details"] = r.Details
		}
		out = append(out, entry)
	}
	return out
}
