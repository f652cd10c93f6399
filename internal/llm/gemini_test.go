package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/k-iijima/hiveforge/internal/types"
)

func TestSchemaFromMap(t *testing.T) {
	schema := schemaFromMap(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "target file"},
			"mode": map[string]interface{}{"type": "string", "enum": []interface{}{"append", "overwrite"}},
			"size": map[string]interface{}{"type": "integer"},
		},
		"required": []interface{}{"path"},
	})

	assert.Equal(t, genai.TypeObject, schema.Type)
	require.Contains(t, schema.Properties, "path")
	assert.Equal(t, genai.TypeString, schema.Properties["path"].Type)
	assert.Equal(t, "target file", schema.Properties["path"].Description)
	assert.Equal(t, []string{"append", "overwrite"}, schema.Properties["mode"].Enum)
	assert.Equal(t, genai.TypeInteger, schema.Properties["size"].Type)
	assert.Equal(t, []string{"path"}, schema.Required)
}

func TestSchemaFromMapEmptyDefaultsToObject(t *testing.T) {
	assert.Equal(t, genai.TypeObject, schemaFromMap(nil).Type)
}

func TestContentFromTurnRoles(t *testing.T) {
	user := contentFromTurn(types.Turn{Role: "user", Text: "hello"})
	assert.Equal(t, genai.RoleUser, user.Role)
	require.Len(t, user.Parts, 1)
	assert.Equal(t, "hello", user.Parts[0].Text)

	assistant := contentFromTurn(types.Turn{
		Role: "assistant",
		Text: "calling a tool",
		ToolCalls: []types.ToolCall{
			{ID: "c1", Name: "write_file", Args: map[string]interface{}{"path": "a.txt"}},
		},
	})
	assert.Equal(t, genai.RoleModel, assistant.Role)
	require.Len(t, assistant.Parts, 2)
	require.NotNil(t, assistant.Parts[1].FunctionCall)
	assert.Equal(t, "write_file", assistant.Parts[1].FunctionCall.Name)
}

func TestContentFromTurnToolResults(t *testing.T) {
	ok := contentFromTurn(types.Turn{Role: "tool", ToolResult: &types.ToolResult{
		CallID: "c1", Name: "write_file", Content: "ok",
	}})
	require.Len(t, ok.Parts, 1)
	require.NotNil(t, ok.Parts[0].FunctionResponse)
	assert.Equal(t, map[string]any{"output": "ok"}, ok.Parts[0].FunctionResponse.Response)

	failed := contentFromTurn(types.Turn{Role: "tool", ToolResult: &types.ToolResult{
		CallID: "c2", Name: "write_file", Content: "disk full", IsError: true,
	}})
	assert.Equal(t, map[string]any{"error": "disk full"}, failed.Parts[0].FunctionResponse.Response)
}

func TestToolsFromDefinitions(t *testing.T) {
	assert.Nil(t, toolsFromDefinitions(nil))

	tools := toolsFromDefinitions([]types.ToolDefinition{
		{Name: "read_file", Description: "read a file"},
		{Name: "write_file"},
	})
	require.Len(t, tools, 1)
	require.Len(t, tools[0].FunctionDeclarations, 2)
	assert.Equal(t, "read_file", tools[0].FunctionDeclarations[0].Name)
}

func TestEstimateCost(t *testing.T) {
	cost := estimateCost(types.UsageMetadata{InputTokens: 1_000_000, OutputTokens: 500_000})
	assert.InDelta(t, 0.30, cost, 1e-9)
}
