package isolation

import (
	"context"
	"os/exec"
)

// Compile-time interface check.
var _ Isolator = (*FallbackIsolator)(nil)

// FallbackIsolator provides minimal process isolation using os/exec, a
// timeout and a scrubbed environment. Only the direct child is killed on
// cancellation.
type FallbackIsolator struct{}

// NewFallbackIsolator creates a FallbackIsolator.
func NewFallbackIsolator() *FallbackIsolator {
	return &FallbackIsolator{}
}

// Wrap clones the command onto a context-aware exec.Cmd with timeout enforcement.
// The returned cleanup function must always be called after process completion.
// The caller must use the returned *exec.Cmd, not the original.
func (f *FallbackIsolator) Wrap(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) (*exec.Cmd, func(), error) {
	return wrapCommand(ctx, cmd, limits, func(c *exec.Cmd) error {
		return c.Process.Kill()
	})
}

// Capabilities reports timeout and environment scrubbing only.
func (f *FallbackIsolator) Capabilities() IsolatorCaps {
	return IsolatorCaps{CanEnforceTimeout: true, CanScrubEnv: true}
}
