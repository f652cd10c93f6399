// Package llm provides the Gemini-backed implementation of the LLM
// client abstraction used by the planner, the worker runtime, and the
// requirement-analysis collaborators.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/types"
)

// Per-million-token pricing used for the cost estimate attached to
// usage metadata. Governance ceilings compare against this estimate.
const (
	inputPricePerMillion  = 0.10
	outputPricePerMillion = 0.40
)

var ErrEmptyResponse = errors.New("llm returned no candidates")

var _ types.LLMClient = (*GeminiClient)(nil)

// GeminiClient implements types.LLMClient over the Google GenAI API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a client from the LLM configuration.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model, timeout: cfg.Timeout}, nil
}

// Close releases the underlying client. The unified GenAI SDK's
// *genai.Client holds no resources that need explicit release.
func (c *GeminiClient) Close() error {
	return nil
}

// Complete sends a single user prompt and returns the text response.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a user prompt under a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(systemPrompt, nil))
	if err != nil {
		return "", fmt.Errorf("genai generate failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Text(), nil
}

// CompleteWithTools sends a conversation plus tool declarations and
// returns the text and any tool calls the model requested.
func (c *GeminiClient) CompleteWithTools(ctx context.Context, systemPrompt string, turns []types.Turn, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		contents = append(contents, contentFromTurn(turn))
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents,
		c.generateConfig(systemPrompt, toolsFromDefinitions(tools)))
	if err != nil {
		return nil, fmt.Errorf("genai generate failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	out := &types.LLMToolResponse{}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil {
			call := types.ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
			if call.ID == "" {
				call.ID = fmt.Sprintf("%s-%d", call.Name, len(out.ToolCalls))
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_use"
	} else {
		out.FinishReason = "end_turn"
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = types.UsageMetadata{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
		out.Usage.Cost = estimateCost(out.Usage)
	}
	return out, nil
}

func (c *GeminiClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *GeminiClient) generateConfig(systemPrompt string, tools []*genai.Tool) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	cfg.Tools = tools
	return cfg
}

// contentFromTurn maps one conversation turn onto the wire shape. Tool
// results travel back as function-response parts under the user role.
func contentFromTurn(turn types.Turn) *genai.Content {
	if turn.ToolResult != nil {
		response := map[string]any{"output": turn.ToolResult.Content}
		if turn.ToolResult.IsError {
			response = map[string]any{"error": turn.ToolResult.Content}
		}
		return &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromFunctionResponse(turn.ToolResult.Name, response)},
		}
	}

	role := genai.RoleUser
	if turn.Role == "assistant" {
		role = genai.RoleModel
	}
	parts := []*genai.Part{}
	if turn.Text != "" {
		parts = append(parts, genai.NewPartFromText(turn.Text))
	}
	for _, call := range turn.ToolCalls {
		parts = append(parts, genai.NewPartFromFunctionCall(call.Name, call.Args))
	}
	return &genai.Content{Role: role, Parts: parts}
}

func toolsFromDefinitions(defs []types.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaFromMap(def.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// schemaFromMap converts a JSON-schema-shaped map into the typed wire
// schema. Only the subset tools actually declare is handled: object,
// string, number, integer, boolean, array, enum, required.
func schemaFromMap(m map[string]interface{}) *genai.Schema {
	if len(m) == 0 {
		return &genai.Schema{Type: genai.TypeObject}
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = schemaType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		s.Properties = map[string]*genai.Schema{}
		for name, raw := range props {
			if sub, ok := raw.(map[string]interface{}); ok {
				s.Properties[name] = schemaFromMap(sub)
			}
		}
	}
	if items, ok := m["items"].(map[string]interface{}); ok {
		s.Items = schemaFromMap(items)
	}
	if req, ok := m["required"].([]interface{}); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if enum, ok := m["enum"].([]interface{}); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}

func estimateCost(u types.UsageMetadata) float64 {
	return float64(u.InputTokens)/1e6*inputPricePerMillion +
		float64(u.OutputTokens)/1e6*outputPricePerMillion
}
