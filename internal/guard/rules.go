package guard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/k-iijima/hiveforge/internal/orchestrator"
)

// =============================================================================
// L1 STRUCTURE RULES
// =============================================================================

// NonEmptyPlanRule rejects plans without tasks.
type NonEmptyPlanRule struct{}

func (NonEmptyPlanRule) Name() string  { return "non_empty_plan" }
func (NonEmptyPlanRule) Level() string { return LevelL1 }

func (r NonEmptyPlanRule) Evaluate(plan *orchestrator.TaskPlan) RuleResult {
	res := RuleResult{RuleName: r.Name(), Level: r.Level(), EvidenceType: EvidenceStructure, Passed: true, Message: "plan has tasks"}
	if plan == nil || len(plan.Tasks) == 0 {
		res.Passed = false
		res.Message = "plan contains no tasks"
	}
	return res
}

// UniqueTaskIDsRule rejects duplicate or empty task ids.
type UniqueTaskIDsRule struct{}

func (UniqueTaskIDsRule) Name() string  { return "unique_task_ids" }
func (UniqueTaskIDsRule) Level() string { return LevelL1 }

func (r UniqueTaskIDsRule) Evaluate(plan *orchestrator.TaskPlan) RuleResult {
	res := RuleResult{RuleName: r.Name(), Level: r.Level(), EvidenceType: EvidenceStructure, Passed: true, Message: "task ids unique"}
	seen := map[string]bool{}
	var dups []string
	for _, t := range plan.Tasks {
		if t.TaskID == "" || seen[t.TaskID] {
			dups = append(dups, t.TaskID)
		}
		seen[t.TaskID] = true
	}
	if len(dups) > 0 {
		res.Passed = false
		res.Message = fmt.Sprintf("duplicate task ids: %s", strings.Join(dups, ", "))
		res.Details = map[string]interface{}{"duplicates": dups}
	}
	return res
}

// ResolvedDependenciesRule rejects dependencies on unknown tasks.
type ResolvedDependenciesRule struct{}

func (ResolvedDependenciesRule) Name() string  { return "resolved_dependencies" }
func (ResolvedDependenciesRule) Level() string { return LevelL1 }

func (r ResolvedDependenciesRule) Evaluate(plan *orchestrator.TaskPlan) RuleResult {
	res := RuleResult{RuleName: r.Name(), Level: r.Level(), EvidenceType: EvidenceStructure, Passed: true, Message: "dependencies resolve"}
	known := map[string]bool{}
	for _, t := range plan.Tasks {
		known[t.TaskID] = true
	}
	var missing []string
	for _, t := range plan.Tasks {
		for _, dep := range t.DependsOn {
			if !known[dep] {
				missing = append(missing, fmt.Sprintf("%s->%s", t.TaskID, dep))
			}
		}
	}
	if len(missing) > 0 {
		res.Passed = false
		res.Message = fmt.Sprintf("unresolved dependencies: %s", strings.Join(missing, ", "))
	}
	return res
}

// AcyclicPlanRule rejects plans whose dependency graph has a cycle.
type AcyclicPlanRule struct{}

func (AcyclicPlanRule) Name() string  { return "acyclic_plan" }
func (AcyclicPlanRule) Level() string { return LevelL1 }

func (r AcyclicPlanRule) Evaluate(plan *orchestrator.TaskPlan) RuleResult {
	res := RuleResult{RuleName: r.Name(), Level: r.Level(), EvidenceType: EvidenceStructure, Passed: true, Message: "plan is acyclic"}
	err := orchestrator.Validate(plan)
	if errors.Is(err, orchestrator.ErrCyclicPlan) {
		res.Passed = false
		res.Message = "plan dependency graph contains a cycle"
	}
	return res
}

// GoalsPresentRule rejects tasks with no goal text.
type GoalsPresentRule struct{}

func (GoalsPresentRule) Name() string  { return "goals_present" }
func (GoalsPresentRule) Level() string { return LevelL1 }

func (r GoalsPresentRule) Evaluate(plan *orchestrator.TaskPlan) RuleResult {
	res := RuleResult{RuleName: r.Name(), Level: r.Level(), EvidenceType: EvidenceStructure, Passed: true, Message: "all tasks carry goals"}
	var missing []string
	for _, t := range plan.Tasks {
		if strings.TrimSpace(t.Goal) == "" {
			missing = append(missing, t.TaskID)
		}
	}
	if len(missing) > 0 {
		res.Passed = false
		res.Message = fmt.Sprintf("tasks without goals: %s", strings.Join(missing, ", "))
	}
	return res
}

// =============================================================================
// L2 QUALITY RULES
// =============================================================================

// GoalCoverageRule checks that the plan's task goals collectively cover the
// run goal's vocabulary: the fraction of goal tokens that reappear in some
// task goal must reach the threshold.
type GoalCoverageRule struct {
	Threshold float64
}

func (GoalCoverageRule) Name() string  { return "goal_coverage" }
func (GoalCoverageRule) Level() string { return LevelL2 }

func (r GoalCoverageRule) Evaluate(plan *orchestrator.TaskPlan) RuleResult {
	res := RuleResult{RuleName: r.Name(), Level: r.Level(), EvidenceType: EvidenceCoverage, Passed: true}

	goalTokens := tokenize(plan.Goal)
	if len(goalTokens) == 0 {
		res.Message = "run goal has no tokens to cover"
		return res
	}
	taskTokens := map[string]bool{}
	for _, t := range plan.Tasks {
		for tok := range tokenize(t.Goal) {
			taskTokens[tok] = true
		}
	}
	covered := 0
	for tok := range goalTokens {
		if taskTokens[tok] {
			covered++
		}
	}
	ratio := float64(covered) / float64(len(goalTokens))
	res.Message = fmt.Sprintf("goal token coverage %.2f (threshold %.2f)", ratio, r.Threshold)
	res.Details = map[string]interface{}{"coverage": ratio, "threshold": r.Threshold}
	if ratio < r.Threshold {
		res.Passed = false
	}
	return res
}

// tokenize lowercases and splits on non-letter, non-digit runes.
func tokenize(s string) map[string]bool {
	tokens := map[string]bool{}
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(field) > 1 {
			tokens[field] = true
		}
	}
	return tokens
}
