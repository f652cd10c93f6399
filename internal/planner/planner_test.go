package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-iijima/hiveforge/internal/types"
)

// scriptedLLM returns canned answers in order.
type scriptedLLM struct {
	answers []string
	err     error
	calls   int
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *scriptedLLM) CompleteWithSystem(_ context.Context, _, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.calls >= len(s.answers) {
		return "", errors.New("no scripted answer left")
	}
	answer := s.answers[s.calls]
	s.calls++
	return answer, nil
}

func (s *scriptedLLM) CompleteWithTools(context.Context, string, []types.Turn, []types.ToolDefinition) (*types.LLMToolResponse, error) {
	return nil, errors.New("not scripted")
}

func TestPlanParsesCleanJSON(t *testing.T) {
	llm := &scriptedLLM{answers: []string{
		`{"tasks": [{"task_id": "t1", "goal": "write file", "depends_on": []},
		            {"task_id": "t2", "goal": "verify file", "depends_on": ["t1"]}]}`,
	}}
	plan, err := New(llm).Plan(context.Background(), "write and verify", nil)
	require.NoError(t, err)
	assert.False(t, plan.Fallback)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, []string{"t1"}, plan.Tasks[1].DependsOn)
	assert.Equal(t, "write and verify", plan.Goal)
}

func TestPlanToleratesMarkdownFences(t *testing.T) {
	llm := &scriptedLLM{answers: []string{
		"Here is your plan:\n```json\n{\"tasks\": [{\"task_id\": \"t1\", \"goal\": \"do it\"}]}\n```\nGood luck!",
	}}
	plan, err := New(llm).Plan(context.Background(), "goal", nil)
	require.NoError(t, err)
	assert.False(t, plan.Fallback)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "do it", plan.Tasks[0].Goal)
}

func TestPlanFallsBackOnGarbage(t *testing.T) {
	for _, answer := range []string{"I cannot help with that.", `{"tasks": []}`, `{"tasks": [`} {
		llm := &scriptedLLM{answers: []string{answer}}
		plan, err := New(llm).Plan(context.Background(), "the goal", nil)
		require.NoError(t, err, "answer %q", answer)
		assert.True(t, plan.Fallback, "answer %q", answer)
		require.Len(t, plan.Tasks, 1)
		assert.Equal(t, "the goal", plan.Tasks[0].Goal)
	}
}

func TestPlanFallsBackOnLLMError(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("rate limited")}
	plan, err := New(llm).Plan(context.Background(), "goal", nil)
	require.NoError(t, err)
	assert.True(t, plan.Fallback)
}
