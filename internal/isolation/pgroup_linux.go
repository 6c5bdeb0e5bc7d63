//go:build linux

package isolation

import (
	"context"
	"os/exec"
	"syscall"
)

// Compile-time interface check.
var _ Isolator = (*ProcessGroupIsolator)(nil)

// ProcessGroupIsolator starts each script in its own process group and kills
// the whole group on timeout or cancellation, so background children spawned
// by a shell script do not outlive the step.
type ProcessGroupIsolator struct{}

// NewProcessGroupIsolator creates a ProcessGroupIsolator.
func NewProcessGroupIsolator() *ProcessGroupIsolator {
	return &ProcessGroupIsolator{}
}

// Wrap behaves like FallbackIsolator.Wrap and additionally places the child
// in a new process group.
func (p *ProcessGroupIsolator) Wrap(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) (*exec.Cmd, func(), error) {
	wrapped, cleanup, err := wrapCommand(ctx, cmd, limits, func(c *exec.Cmd) error {
		// Negative pid targets the group.
		if err := syscall.Kill(-c.Process.Pid, syscall.SIGKILL); err != nil {
			return c.Process.Kill()
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if wrapped.SysProcAttr == nil {
		wrapped.SysProcAttr = &syscall.SysProcAttr{}
	}
	wrapped.SysProcAttr.Setpgid = true
	return wrapped, cleanup, nil
}

// Capabilities reports timeout, tree kill and environment scrubbing.
func (p *ProcessGroupIsolator) Capabilities() IsolatorCaps {
	return IsolatorCaps{CanEnforceTimeout: true, CanKillTree: true, CanScrubEnv: true}
}
