package isolation

import (
	"context"
	"os/exec"
	"time"
)

// ResourceLimits specifies constraints for an isolated script process.
type ResourceLimits struct {
	Timeout time.Duration `json:"timeout,omitempty"`
	// Env replaces the child environment. Nil means an empty environment
	// plus PATH, so scripts never inherit the host's secrets.
	Env []string `json:"env,omitempty"`
	// Dir is the working directory; empty keeps the caller's.
	Dir string `json:"dir,omitempty"`
}

// IsolatorCaps describes what a platform's isolator can enforce.
type IsolatorCaps struct {
	CanEnforceTimeout bool `json:"can_enforce_timeout"`
	CanKillTree       bool `json:"can_kill_tree"`
	CanScrubEnv       bool `json:"can_scrub_env"`
}

// Isolator wraps a command with platform-specific process isolation.
// Implementations are picked at startup by NewIsolator: Linux gets process
// group isolation, every other platform the fallback.
type Isolator interface {
	Wrap(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) (*exec.Cmd, func(), error)
	Capabilities() IsolatorCaps
}

// defaultPath is the PATH handed to scripts when limits.Env is nil.
const defaultPath = "PATH=/usr/local/bin:/usr/bin:/bin"

// waitDelay bounds how long Wait blocks on pipe drain after a kill.
const waitDelay = 5 * time.Second

// wrapCommand clones cmd onto an exec.CommandContext bound to ctx (plus the
// optional timeout). kill is installed as the Cancel hook.
func wrapCommand(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits, kill func(*exec.Cmd) error) (*exec.Cmd, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if limits.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
	}

	// exec.Cmd.Cancel is only honored for cmds created via exec.CommandContext.
	wrapped := exec.CommandContext(execCtx, cmd.Path, cmd.Args[1:]...)
	wrapped.Args = cmd.Args
	wrapped.Dir = cmd.Dir
	if limits.Dir != "" {
		wrapped.Dir = limits.Dir
	}
	wrapped.Env = limits.Env
	if wrapped.Env == nil {
		wrapped.Env = []string{defaultPath}
	}
	wrapped.Stdin = cmd.Stdin
	wrapped.Stdout = cmd.Stdout
	wrapped.Stderr = cmd.Stderr
	wrapped.SysProcAttr = cmd.SysProcAttr

	wrapped.Cancel = func() error {
		if wrapped.Process == nil {
			return nil
		}
		return kill(wrapped)
	}
	wrapped.WaitDelay = waitDelay

	cleanup := func() {
		if cancel != nil {
			cancel()
		}
	}
	return wrapped, cleanup, nil
}
