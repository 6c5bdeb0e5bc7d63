package engine

import (
	"sort"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Context is the mutable variable store of a single run. It is owned by the
// run's traversal and is never shared, so it carries no lock.
type Context struct {
	vars map[string]any
}

// NewContext seeds a run context from the workflow variables and the
// caller's input. Input keys override variables with the same name.
// Both maps are deep-copied and normalized.
func NewContext(variables, input map[string]any) *Context {
	vars := make(map[string]any, len(variables)+len(input))
	for k, v := range variables {
		vars[k] = schema.DeepCopy(schema.Normalize(v))
	}
	for k, v := range input {
		vars[k] = schema.DeepCopy(schema.Normalize(v))
	}
	return &Context{vars: vars}
}

// Get returns the value bound to key, or nil.
func (c *Context) Get(key string) any {
	return c.vars[key]
}

// Lookup returns the value bound to key and whether it is bound.
func (c *Context) Lookup(key string) (any, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Set binds key to the normalized value.
func (c *Context) Set(key string, value any) {
	c.vars[key] = schema.Normalize(value)
}

// Merge overwrites each key of delta in the context. Keys absent from
// delta are left alone.
func (c *Context) Merge(delta map[string]any) {
	for k, v := range delta {
		c.Set(k, v)
	}
}

// Snapshot returns a deep copy of the context.
func (c *Context) Snapshot() map[string]any {
	return schema.DeepCopyMap(c.vars)
}

// Keys returns the bound keys in sorted order.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.vars))
	for k := range c.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of bound keys.
func (c *Context) Len() int {
	return len(c.vars)
}

// view exposes the live map to the expression evaluator, which only reads it.
func (c *Context) view() map[string]any {
	return c.vars
}
