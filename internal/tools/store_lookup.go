package tools

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// DefinitionSource loads tool definitions; store.LibSQLStore satisfies it.
// A missing tool is reported with a NOT_FOUND or TOOL_NOT_FOUND FlowError.
type DefinitionSource interface {
	GetTool(ctx context.Context, id string) (*schema.ToolDefinition, error)
}

type cachedTool struct {
	updatedAt time.Time
	tool      *Tool
}

// StoreLookup resolves tools from a DefinitionSource and compiles their code
// on first use. Compiled tools are cached per ID and recompiled when the
// definition's UpdatedAt changes.
type StoreLookup struct {
	source   DefinitionSource
	compiler Compiler

	mu    sync.RWMutex
	cache map[string]cachedTool
}

// NewStoreLookup creates a StoreLookup.
func NewStoreLookup(source DefinitionSource, compiler Compiler) *StoreLookup {
	return &StoreLookup{
		source:   source,
		compiler: compiler,
		cache:    make(map[string]cachedTool),
	}
}

// Lookup loads the definition for id and returns its compiled tool.
func (s *StoreLookup) Lookup(ctx context.Context, id string) (*Tool, error) {
	def, err := s.source.GetTool(ctx, id)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) || schema.IsCode(err, schema.ErrCodeToolNotFound) {
			return nil, NotFound(id)
		}
		return nil, err
	}

	s.mu.RLock()
	cached, ok := s.cache[id]
	s.mu.RUnlock()
	if ok && cached.updatedAt.Equal(def.UpdatedAt) {
		return cached.tool, nil
	}

	tool, err := s.compile(def)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[id] = cachedTool{updatedAt: def.UpdatedAt, tool: tool}
	s.mu.Unlock()
	return tool, nil
}

func (s *StoreLookup) compile(def *schema.ToolDefinition) (*Tool, error) {
	capability, err := s.compiler.Compile(def.EffectiveRuntime(), def.Code)
	if err != nil {
		if fe, ok := schema.AsFlowError(err); ok {
			return nil, fe
		}
		return nil, schema.NewErrorf(schema.ErrCodeInvalidConfig, "tool %q does not compile: %v", def.ID, err).WithCause(err)
	}
	return &Tool{
		ID:         def.ID,
		Name:       def.Name,
		Definition: def,
		Capability: WithTimeout(capability, def.TimeoutDuration()),
	}, nil
}

// Invalidate drops the cached compilation for id.
func (s *StoreLookup) Invalidate(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}

var _ Lookup = (*StoreLookup)(nil)
