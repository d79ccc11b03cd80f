// Package agent implements the dialogue nodes: the fronting sales
// assistant, the criteria extractor, the catalog query stage, the
// reference assistant, and the tool execution stage they share.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/archiq/assistant/types"
)

// Tool is an executable capability exposed to the model.
type Tool interface {
	Definition() types.ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// Confirmable marks a tool whose execution needs the user's explicit
// approval before it runs. The turn pauses at the tool stage until the
// decision arrives.
type Confirmable interface {
	RequiresApproval() bool
}

type FuncTool struct {
	def              types.ToolDefinition
	fn               func(ctx context.Context, args json.RawMessage) (any, error)
	requiresApproval bool
}

func NewFuncTool(name, description string, schema map[string]any, fn func(ctx context.Context, args json.RawMessage) (any, error)) *FuncTool {
	return &FuncTool{
		def: types.ToolDefinition{
			Name:        name,
			Description: description,
			JSONSchema:  schema,
		},
		fn: fn,
	}
}

// WithApproval flags the tool as side-effecting.
func (t *FuncTool) WithApproval() *FuncTool {
	t.requiresApproval = true
	return t
}

func (t *FuncTool) Definition() types.ToolDefinition {
	return t.def
}

func (t *FuncTool) RequiresApproval() bool {
	return t.requiresApproval
}

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("tool %q has no execute function", t.def.Name)
	}
	return t.fn(ctx, args)
}

// Registry is an explicit, injected tool set. There is no process-global
// registration; each node receives exactly the registry it should see.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	name := strings.TrimSpace(t.Definition().Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func requiresApproval(t Tool) bool {
	c, ok := t.(Confirmable)
	return ok && c.RequiresApproval()
}
