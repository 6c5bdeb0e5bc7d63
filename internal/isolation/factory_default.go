//go:build !linux

package isolation

import "log/slog"

// NewIsolator returns the platform-appropriate Isolator.
// On non-Linux platforms, returns FallbackIsolator (timeout-only enforcement).
func NewIsolator() (Isolator, error) {
	slog.Warn("isolation: process group isolation unavailable, using fallback (timeout only)")
	return NewFallbackIsolator(), nil
}
