package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/types"
)

var (
	// ErrIterationBudget indicates the loop hit its iteration ceiling
	// without the model finishing.
	ErrIterationBudget = errors.New("iteration budget exhausted")

	// ErrToolUseRequired indicates the model kept answering in prose when
	// a tool call was mandatory.
	ErrToolUseRequired = errors.New("model did not use a required tool")
)

const workerSystemPrompt = `You are a worker executing one concrete task.
Use the provided tools to act; report the final outcome as plain text when
the task is done.`

// runLoop drives the ReAct conversation: model answers, requested tools
// run, observations go back in, until the model stops calling tools or the
// budget runs out. Tool failures become observation text so the model can
// recover; they never abort the loop.
func (w *Worker) runLoop(ctx context.Context, runID, goal string, registry *ToolRegistry) (string, error) {
	turns := []types.Turn{{Role: "user", Text: goal}}
	var defs []types.ToolDefinition
	if registry != nil {
		defs = registry.Definitions()
	}

	toolUseRetries := 0
	for iteration := 0; iteration < w.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := w.llm.CompleteWithTools(ctx, workerSystemPrompt, turns, defs)
		if err != nil {
			return "", fmt.Errorf("llm call: %w", err)
		}
		w.recordUsage(runID, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			if w.cfg.RequireToolUse && toolUseRetries < w.cfg.ToolUseRetries {
				toolUseRetries++
				logging.WorkerDebug("no tool call, retry %d/%d", toolUseRetries, w.cfg.ToolUseRetries)
				turns = append(turns,
					types.Turn{Role: "assistant", Text: resp.Text},
					types.Turn{Role: "user", Text: "Use one of the provided tools to make progress."})
				continue
			}
			if w.cfg.RequireToolUse && toolUseRetries >= w.cfg.ToolUseRetries {
				return "", ErrToolUseRequired
			}
			return resp.Text, nil
		}

		turns = append(turns, types.Turn{Role: "assistant", Text: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			observation := w.invokeTool(ctx, registry, call)
			turns = append(turns, types.Turn{Role: "tool", ToolResult: &observation})
		}
	}
	return "", fmt.Errorf("%w after %d iterations", ErrIterationBudget, w.cfg.MaxIterations)
}

// invokeTool executes one call. Errors are folded into the observation
// rather than raised.
func (w *Worker) invokeTool(ctx context.Context, registry *ToolRegistry, call types.ToolCall) types.ToolResult {
	result := types.ToolResult{CallID: call.ID, Name: call.Name}
	if registry == nil {
		result.IsError = true
		result.Content = fmt.Sprintf("tool %q is not available", call.Name)
		return result
	}
	content, err := registry.Invoke(ctx, call.Name, call.Args)
	if err != nil {
		logging.WorkerDebug("tool %s failed: %v", call.Name, err)
		result.IsError = true
		result.Content = fmt.Sprintf("tool %q failed: %v", call.Name, err)
		return result
	}
	result.Content = content
	return result
}

// recordUsage appends an llm.response event so Sentinel cost accounting
// sees every call.
func (w *Worker) recordUsage(runID string, usage types.UsageMetadata) {
	if w.log == nil {
		return
	}
	e := akashic.NewEvent(akashic.EventLLMResponse, w.ID, runID, map[string]interface{}{
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
		"total_tokens":  usage.TotalTokens,
		"cost":          usage.Cost,
	})
	e.WorkerID = w.ID
	if _, err := w.log.Append(runID, e); err != nil {
		logging.Worker("record llm usage failed: %v", err)
	}
}
