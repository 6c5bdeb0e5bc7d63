package scripting

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/isolation"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Config configures the script runtimes.
type Config struct {
	// Isolator runs shell scripts. Defaults to isolation.NewIsolator().
	Isolator isolation.Isolator
	// ShellTimeout bounds every shell invocation when the caller's context
	// carries no deadline. Zero means no bound.
	ShellTimeout time.Duration
	// ShellEnv is the environment passed to shell scripts.
	ShellEnv []string
	Logger   *slog.Logger
}

// precompiler is implemented by the expression engines.
type precompiler interface {
	expressions.Engine
	Precompile(expression string) error
}

// Compiler turns tool and code-node bodies into capabilities.
// It implements tools.Compiler.
type Compiler struct {
	cfg     Config
	engines map[string]precompiler
}

// NewCompiler creates a Compiler with every runtime available.
func NewCompiler(cfg Config) (*Compiler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Isolator == nil {
		iso, err := isolation.NewIsolator()
		if err != nil {
			return nil, err
		}
		cfg.Isolator = iso
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	return &Compiler{
		cfg: cfg,
		engines: map[string]precompiler{
			schema.RuntimeExpr: expressions.NewExprEngine(),
			schema.RuntimeCEL:  celEngine,
			schema.RuntimeJQ:   expressions.NewGoJQEngine(),
		},
	}, nil
}

// Compile returns the capability for code under runtime. An empty runtime
// means js.
func (c *Compiler) Compile(runtime, code string) (tools.Capability, error) {
	runtime = strings.ToLower(strings.TrimSpace(runtime))
	if runtime == "" {
		runtime = schema.RuntimeJS
	}
	if strings.TrimSpace(code) == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidConfig, "%s script is empty", runtime)
	}

	switch runtime {
	case schema.RuntimeJS, "javascript":
		return compileJS(code)
	case schema.RuntimeLua:
		return compileLua(code)
	case schema.RuntimeShell, "sh":
		return &shellScript{code: code, cfg: c.cfg}, nil
	}

	if engine, ok := c.engines[runtime]; ok {
		if err := engine.Precompile(code); err != nil {
			return nil, err
		}
		return &expressionProgram{engine: engine, program: code}, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeInvalidConfig, "unknown runtime %q (want one of %s)",
		runtime, strings.Join(Runtimes(), ", "))
}

// Runtimes lists the runtime names Compile accepts.
func Runtimes() []string {
	out := []string{
		schema.RuntimeJS, schema.RuntimeLua, schema.RuntimeShell,
		schema.RuntimeExpr, schema.RuntimeCEL, schema.RuntimeJQ,
	}
	sort.Strings(out)
	return out
}

var _ tools.Compiler = (*Compiler)(nil)
