package schema

import "time"

// Tool runtimes understood by the scripting package.
const (
	RuntimeJS    = "js"
	RuntimeLua   = "lua"
	RuntimeShell = "shell"
	RuntimeExpr  = "expr"
	RuntimeCEL   = "cel"
	RuntimeJQ    = "jq"

	// RuntimeBuiltin marks tools implemented in Go and registered at startup.
	RuntimeBuiltin = "builtin"
)

// ToolDefinition is a catalogued Step Capability: a named script body plus
// the declared shape of its inputs and outputs.
type ToolDefinition struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string          `json:"category,omitempty" yaml:"category,omitempty"`
	Runtime     string          `json:"runtime,omitempty" yaml:"runtime,omitempty"` // js | lua | shell | expr | cel | jq (default: js)
	Code        string          `json:"code" yaml:"code"`
	Parameters  []ParameterSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Outputs     []ParameterSpec `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Timeout     string          `json:"timeout,omitempty" yaml:"timeout,omitempty"` // e.g. "30s"
	CreatedAt   time.Time       `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt   time.Time       `json:"updated_at,omitempty" yaml:"-"`
}

// ParameterSpec declares one input or output of a tool.
type ParameterSpec struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"` // string | number | boolean | object | array | any
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// EffectiveRuntime returns the runtime, defaulting to js.
func (d *ToolDefinition) EffectiveRuntime() string {
	if d.Runtime == "" {
		return RuntimeJS
	}
	return d.Runtime
}

// TimeoutDuration parses Timeout; an empty or invalid value yields zero.
func (d *ToolDefinition) TimeoutDuration() time.Duration {
	if d.Timeout == "" {
		return 0
	}
	dur, err := time.ParseDuration(d.Timeout)
	if err != nil {
		return 0
	}
	return dur
}
