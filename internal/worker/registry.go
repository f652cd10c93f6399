package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/k-iijima/hiveforge/internal/types"
)

// ToolRegistry holds the named tools a worker may invoke.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

type registeredTool struct {
	def     types.ToolDefinition
	handler types.ToolHandler
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: map[string]registeredTool{}}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(def types.ToolDefinition, handler types.ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = registeredTool{def: def, handler: handler}
}

// Definitions lists the registered tool definitions, sorted by name for
// stable prompts.
func (r *ToolRegistry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke runs a tool by name.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return tool.handler(ctx, args)
}
