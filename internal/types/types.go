// Package types provides shared type definitions used across HiveForge packages.
// This package exists to break import cycles between the hive boundary, the
// pipeline, and the worker runtime. Types in this package should be
// foundational data structures with no complex dependencies.
package types

import (
	"context"
	"strings"
)

// =============================================================================
// TRUST AND ACTION POLICY
// =============================================================================

// TrustLevel is the user-chosen policy binding approvals.
type TrustLevel string

const (
	TrustReportOnly     TrustLevel = "REPORT_ONLY"
	TrustProposeConfirm TrustLevel = "PROPOSE_CONFIRM"
	TrustDelegated      TrustLevel = "DELEGATED"
)

// ActionClass classifies the blast radius of a plan or tool invocation.
type ActionClass string

const (
	ActionReadOnly     ActionClass = "READ_ONLY"
	ActionReversible   ActionClass = "REVERSIBLE"
	ActionIrreversible ActionClass = "IRREVERSIBLE"
)

// Wire returns the lowercase form recorded in event payloads and results.
func (c ActionClass) Wire() string {
	return strings.ToLower(string(c))
}

// RequiresConfirmation reports whether the given action class must be
// confirmed by the user under this trust level. Only PROPOSE_CONFIRM gates
// irreversible actions; REPORT_ONLY never executes so nothing is gated here,
// and DELEGATED trusts the hive outright.
func (t TrustLevel) RequiresConfirmation(class ActionClass) bool {
	return t == TrustProposeConfirm && class == ActionIrreversible
}

// =============================================================================
// LLM CLIENT ABSTRACTION
// =============================================================================

// LLMClient defines the interface for LLM interactions. Implementations live
// in internal/llm; tests inject scripted fakes.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// CompleteWithTools sends a conversation with tool definitions and returns
	// the response with any tool calls. This enables the worker ReAct loop.
	CompleteWithTools(ctx context.Context, systemPrompt string, turns []Turn, tools []ToolDefinition) (*LLMToolResponse, error)
}

// Turn is one entry in a worker conversation. Exactly one of Text or
// ToolResult is set for user-role turns; assistant turns may carry ToolCalls.
type Turn struct {
	Role       string       `json:"role"` // "user", "assistant", "tool"
	Text       string       `json:"text,omitempty"`
	ToolCalls  []ToolCall   `json:"tool_calls,omitempty"`
	ToolResult *ToolResult  `json:"tool_result,omitempty"`
}

// ToolDefinition describes a tool the LLM can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"arguments"`
}

// ToolResult carries the outcome of executing a tool call back to the LLM.
// Failures become Content text rather than errors so the model can recover.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// UsageMetadata captures token usage metrics from the LLM.
type UsageMetadata struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost,omitempty"`
}

// LLMToolResponse contains both text response and tool calls from the LLM.
type LLMToolResponse struct {
	Text         string        `json:"text"`
	ToolCalls    []ToolCall    `json:"tool_calls"`
	FinishReason string        `json:"finish_reason"` // "end_turn", "tool_use", ...
	Usage        UsageMetadata `json:"usage"`
}

// ToolHandler executes one named tool. Failures are returned as errors and
// converted to observation text by the worker loop, never raised to the run.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (string, error)

// =============================================================================
// USER CONFIRMATION
// =============================================================================

// AskFunc surfaces a question to the user and blocks until an answer or the
// timeout elapses. Implementations are provided by the Beekeeper surface.
type AskFunc func(ctx context.Context, question string, options []string) (string, error)
