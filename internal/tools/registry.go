package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Registry is an in-memory, thread-safe Lookup. It holds builtin tools and
// tools registered programmatically by embedders and tests.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry. Returns error on duplicate ID.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Capability == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool or its capability is nil")
	}
	if tool.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", tool.ID)
	}

	r.tools[tool.ID] = tool
	return nil
}

// RegisterFunc registers a Go function under id.
func (r *Registry) RegisterFunc(id, name string, fn func(ctx context.Context, inputs map[string]any) (any, error)) error {
	return r.Register(&Tool{ID: id, Name: name, Capability: Func(fn)})
}

// Lookup retrieves a tool by ID.
func (r *Registry) Lookup(_ context.Context, id string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[id]
	if !ok {
		return nil, NotFound(id)
	}
	return t, nil
}

// Remove deletes a tool. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, id)
}

// List returns all registered tools sorted by ID.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Has checks if a tool is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

var _ Lookup = (*Registry)(nil)
