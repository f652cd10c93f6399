// Package planner turns a run goal into a task plan by prompting the LLM
// and parsing its JSON answer. Malformed output never fails a run: the
// planner degrades to a single-task plan carrying the original goal.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/orchestrator"
	"github.com/k-iijima/hiveforge/internal/types"
)

const systemPrompt = `You decompose a software goal into a JSON task plan.
Respond with a single JSON object:
{"tasks": [{"task_id": "t1", "goal": "...", "depends_on": []}]}
Task ids must be unique, dependencies must reference earlier task ids, and
the graph must be acyclic. Respond with JSON only.`

// Planner produces task plans.
type Planner struct {
	llm types.LLMClient
}

// New creates a planner over the given LLM client.
func New(llm types.LLMClient) *Planner {
	return &Planner{llm: llm}
}

// planDocument is the shape the LLM is asked to produce.
type planDocument struct {
	Tasks []struct {
		TaskID    string   `json:"task_id"`
		Goal      string   `json:"goal"`
		DependsOn []string `json:"depends_on"`
	} `json:"tasks"`
}

// Plan asks the LLM to decompose the goal. Any malformed or empty answer
// yields the single-task fallback plan with Fallback set; the pipeline
// records plan.fallback_activated for those.
func (p *Planner) Plan(ctx context.Context, goal string, contextData map[string]interface{}) (*orchestrator.TaskPlan, error) {
	prompt := fmt.Sprintf("Goal: %s", goal)
	if len(contextData) > 0 {
		if extra, err := json.Marshal(contextData); err == nil {
			prompt += fmt.Sprintf("\nContext: %s", extra)
		}
	}

	raw, err := p.llm.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		logging.Pipeline("planner LLM call failed, using fallback plan: %v", err)
		return FallbackPlan(goal), nil
	}

	plan, perr := parsePlan(goal, raw)
	if perr != nil {
		logging.Pipeline("planner output unusable (%v), using fallback plan", perr)
		return FallbackPlan(goal), nil
	}
	return plan, nil
}

// FallbackPlan is the degenerate one-task plan used when decomposition
// fails.
func FallbackPlan(goal string) *orchestrator.TaskPlan {
	return &orchestrator.TaskPlan{
		PlanID:   akashic.NewEventID(),
		Goal:     goal,
		Fallback: true,
		Tasks: []orchestrator.PlanTask{
			{TaskID: "t1", Goal: goal},
		},
	}
}

// parsePlan decodes the LLM answer, tolerating markdown code fences and
// leading prose around the JSON object.
func parsePlan(goal, raw string) (*orchestrator.TaskPlan, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("no JSON object in answer")
	}
	var doc planDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("plan has zero tasks")
	}

	plan := &orchestrator.TaskPlan{
		PlanID: akashic.NewEventID(),
		Goal:   goal,
	}
	for _, t := range doc.Tasks {
		plan.Tasks = append(plan.Tasks, orchestrator.PlanTask{
			TaskID:    t.TaskID,
			Goal:      t.Goal,
			DependsOn: t.DependsOn,
		})
	}
	return plan, nil
}

// extractJSON returns the outermost {...} of the answer, stripping
// ```json fences when present.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
