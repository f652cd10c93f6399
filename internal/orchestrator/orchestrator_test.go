package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func diamondPlan() *TaskPlan {
	return &TaskPlan{
		PlanID: "p1",
		Goal:   "diamond",
		Tasks: []PlanTask{
			{TaskID: "a", Goal: "root"},
			{TaskID: "b", Goal: "left", DependsOn: []string{"a"}},
			{TaskID: "c", Goal: "right", DependsOn: []string{"a"}},
			{TaskID: "d", Goal: "join", DependsOn: []string{"b", "c"}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		plan *TaskPlan
		want error
	}{
		{"empty", &TaskPlan{}, ErrEmptyPlan},
		{"duplicate", &TaskPlan{Tasks: []PlanTask{
			{TaskID: "t1", Goal: "g"}, {TaskID: "t1", Goal: "g"},
		}}, ErrDuplicateTaskID},
		{"unresolved", &TaskPlan{Tasks: []PlanTask{
			{TaskID: "t1", Goal: "g", DependsOn: []string{"ghost"}},
		}}, ErrUnresolvedDep},
		{"cycle", &TaskPlan{Tasks: []PlanTask{
			{TaskID: "t1", Goal: "g", DependsOn: []string{"t2"}},
			{TaskID: "t2", Goal: "g", DependsOn: []string{"t1"}},
		}}, ErrCyclicPlan},
		{"no goal", &TaskPlan{Tasks: []PlanTask{{TaskID: "t1"}}}, ErrMissingGoal},
		{"valid", diamondPlan(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.plan)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestExecuteOrderAndContextMerging(t *testing.T) {
	var mu sync.Mutex
	order := map[string]int{}
	seq := 0

	results, err := New(0).Execute(context.Background(), diamondPlan(),
		func(_ context.Context, taskID, _ string, contextData map[string]interface{}) (map[string]interface{}, error) {
			mu.Lock()
			order[taskID] = seq
			seq++
			mu.Unlock()
			if taskID == "d" {
				// Join task sees the merged outputs of both parents.
				if contextData["from_b"] != "b" || contextData["from_c"] != "c" {
					return nil, fmt.Errorf("missing dependency outputs: %v", contextData)
				}
			}
			return map[string]interface{}{"from_" + taskID: taskID}, nil
		})
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.Contains(t, results, id)
		assert.Equal(t, StatusCompleted, results[id].Status)
	}
	assert.Less(t, order["a"], order["b"])
	assert.Less(t, order["a"], order["c"])
	assert.Greater(t, order["d"], order["b"])
	assert.Greater(t, order["d"], order["c"])
}

func TestFailureSkipsTransitiveDependents(t *testing.T) {
	plan := &TaskPlan{
		PlanID: "p2",
		Tasks: []PlanTask{
			{TaskID: "a", Goal: "fails"},
			{TaskID: "b", Goal: "independent"},
			{TaskID: "c", Goal: "child", DependsOn: []string{"a"}},
			{TaskID: "d", Goal: "grandchild", DependsOn: []string{"c"}},
		},
	}
	results, err := New(0).Execute(context.Background(), plan,
		func(_ context.Context, taskID, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
			if taskID == "a" {
				return nil, errors.New("boom")
			}
			return nil, nil
		})
	require.NoError(t, err, "a task failure must not abort the run")

	assert.Equal(t, StatusFailed, results["a"].Status)
	assert.Equal(t, StatusCompleted, results["b"].Status, "independent task still runs")
	assert.Equal(t, StatusSkipped, results["c"].Status)
	assert.Equal(t, "dependency failed", results["c"].Error)
	assert.Equal(t, StatusSkipped, results["d"].Status, "skips propagate transitively")
	assert.Equal(t, []string{"a", "c", "d"}, results.Failed(plan))
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	plan := &TaskPlan{
		Tasks: []PlanTask{
			{TaskID: "a", Goal: "g"},
			{TaskID: "b", Goal: "g", DependsOn: []string{"a"}},
		},
	}
	executed := map[string]bool{}
	var mu sync.Mutex

	_, err := New(0).Execute(ctx, plan,
		func(_ context.Context, taskID, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
			mu.Lock()
			executed[taskID] = true
			mu.Unlock()
			cancel()
			return nil, nil
		})
	assert.ErrorIs(t, err, context.Canceled)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, executed["a"])
	assert.False(t, executed["b"], "cancellation stops dispatch between layers")
}

func TestParallelismWithinLayer(t *testing.T) {
	plan := &TaskPlan{Tasks: []PlanTask{
		{TaskID: "a", Goal: "g"},
		{TaskID: "b", Goal: "g"},
		{TaskID: "c", Goal: "g"},
	}}

	var mu sync.Mutex
	running, peak := 0, 0

	_, err := New(0).Execute(context.Background(), plan,
		func(_ context.Context, _, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil, nil
		})
	require.NoError(t, err)
	assert.Greater(t, peak, 1, "tasks in one layer run concurrently")
}
