// Package orchestrator executes task plans as layered DAGs: tasks whose
// dependencies are all satisfied run in parallel, layer by layer, and a
// failure skips its transitive dependents without aborting the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/k-iijima/hiveforge/internal/logging"
)

// PlanTask is one node of a task plan.
type PlanTask struct {
	TaskID    string                 `json:"task_id"`
	Goal      string                 `json:"goal"`
	DependsOn []string               `json:"depends_on,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TaskPlan is a DAG of tasks produced by the planner.
type TaskPlan struct {
	PlanID   string     `json:"plan_id"`
	Goal     string     `json:"goal"`
	Tasks    []PlanTask `json:"tasks"`
	Fallback bool       `json:"fallback,omitempty"`
}

// Task execution statuses in the output context.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusSkipped   = "SKIPPED"
)

// TaskOutcome is one task's slot in the output TaskContext.
type TaskOutcome struct {
	TaskID  string                 `json:"task_id"`
	Status  string                 `json:"status"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Outputs map[string]interface{} `json:"outputs,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// TaskContext maps task ids to their outcomes.
type TaskContext map[string]*TaskOutcome

// Failed returns the ids of tasks that failed or were skipped, sorted by
// plan order.
func (tc TaskContext) Failed(plan *TaskPlan) []string {
	var ids []string
	for _, t := range plan.Tasks {
		if out, ok := tc[t.TaskID]; ok && out.Status != StatusCompleted {
			ids = append(ids, t.TaskID)
		}
	}
	return ids
}

// ExecuteFn runs one task. contextData is the merged outputs of the task's
// direct dependencies. The returned map becomes the task's outputs.
type ExecuteFn func(ctx context.Context, taskID, goal string, contextData map[string]interface{}) (map[string]interface{}, error)

// Validation errors.
var (
	ErrEmptyPlan       = errors.New("plan has no tasks")
	ErrDuplicateTaskID = errors.New("duplicate task id")
	ErrUnresolvedDep   = errors.New("dependency on unknown task")
	ErrCyclicPlan      = errors.New("plan dependency graph has a cycle")
	ErrMissingGoal     = errors.New("task has no goal")
)

// Validate checks the plan is a well-formed DAG: non-empty, unique ids,
// resolvable dependencies, goals present, no cycles.
func Validate(plan *TaskPlan) error {
	if plan == nil || len(plan.Tasks) == 0 {
		return ErrEmptyPlan
	}
	seen := make(map[string]bool, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if t.TaskID == "" {
			return fmt.Errorf("%w: empty id", ErrDuplicateTaskID)
		}
		if seen[t.TaskID] {
			return fmt.Errorf("%w: %s", ErrDuplicateTaskID, t.TaskID)
		}
		seen[t.TaskID] = true
		if t.Goal == "" {
			return fmt.Errorf("%w: %s", ErrMissingGoal, t.TaskID)
		}
	}
	for _, t := range plan.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("%w: %s depends on %s", ErrUnresolvedDep, t.TaskID, dep)
			}
		}
	}
	if _, err := layers(plan); err != nil {
		return err
	}
	return nil
}

// layers computes Kahn layers: layer 0 holds tasks with no dependencies,
// layer n tasks whose dependencies all sit in earlier layers. A non-empty
// remainder means a cycle.
func layers(plan *TaskPlan) ([][]PlanTask, error) {
	indegree := make(map[string]int, len(plan.Tasks))
	dependents := make(map[string][]string)
	byID := make(map[string]PlanTask, len(plan.Tasks))
	for _, t := range plan.Tasks {
		byID[t.TaskID] = t
		indegree[t.TaskID] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.TaskID)
		}
	}

	var result [][]PlanTask
	placed := 0
	current := make([]string, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if indegree[t.TaskID] == 0 {
			current = append(current, t.TaskID)
		}
	}
	for len(current) > 0 {
		layer := make([]PlanTask, 0, len(current))
		var next []string
		for _, id := range current {
			layer = append(layer, byID[id])
			placed++
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		result = append(result, layer)
		current = next
	}
	if placed != len(plan.Tasks) {
		return nil, ErrCyclicPlan
	}
	return result, nil
}

// Orchestrator executes validated plans.
type Orchestrator struct {
	maxParallel int
}

// New creates an orchestrator. maxParallel bounds concurrent tasks within
// a layer; zero means unbounded.
func New(maxParallel int) *Orchestrator {
	return &Orchestrator{maxParallel: maxParallel}
}

// Execute runs the plan through execFn layer by layer. Between layers
// there is a strict happens-before; within a layer, none. A failed task
// does not abort the run: its transitive dependents are marked SKIPPED
// and independent tasks keep executing. Context cancellation stops
// dispatch between layers.
func (o *Orchestrator) Execute(ctx context.Context, plan *TaskPlan, execFn ExecuteFn) (TaskContext, error) {
	if err := Validate(plan); err != nil {
		return nil, err
	}
	planLayers, err := layers(plan)
	if err != nil {
		return nil, err
	}

	results := TaskContext{}
	var mu sync.Mutex

	failed := func(id string) bool {
		out, ok := results[id]
		return ok && out.Status != StatusCompleted
	}

	for i, layer := range planLayers {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		logging.Orchestrator("dispatching layer %d (%d tasks)", i, len(layer))

		g, gctx := errgroup.WithContext(ctx)
		if o.maxParallel > 0 {
			g.SetLimit(o.maxParallel)
		}
		for _, task := range layer {
			task := task

			mu.Lock()
			skip := false
			for _, dep := range task.DependsOn {
				if failed(dep) {
					skip = true
					break
				}
			}
			if skip {
				results[task.TaskID] = &TaskOutcome{
					TaskID: task.TaskID,
					Status: StatusSkipped,
					Error:  "dependency failed",
				}
				mu.Unlock()
				continue
			}
			contextData := map[string]interface{}{}
			for _, dep := range task.DependsOn {
				for k, v := range results[dep].Outputs {
					contextData[k] = v
				}
			}
			mu.Unlock()

			g.Go(func() error {
				outputs, execErr := execFn(gctx, task.TaskID, task.Goal, contextData)
				mu.Lock()
				defer mu.Unlock()
				if execErr != nil {
					logging.Orchestrator("task %s failed: %v", task.TaskID, execErr)
					results[task.TaskID] = &TaskOutcome{
						TaskID: task.TaskID,
						Status: StatusFailed,
						Error:  execErr.Error(),
					}
					// Failure is recorded, not propagated: sibling tasks
					// in this layer must keep running.
					return nil
				}
				results[task.TaskID] = &TaskOutcome{
					TaskID:  task.TaskID,
					Status:  StatusCompleted,
					Result:  outputs,
					Outputs: outputs,
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
	}
	return results, nil
}
