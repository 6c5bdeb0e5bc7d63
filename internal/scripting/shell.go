package scripting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"strings"

	"github.com/rendis/nodeflow/internal/isolation"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

const maxShellOutput = 10 * 1024 * 1024 // 10MB

// shellScript runs code with /bin/sh -c. The script reads
// {"inputs": ..., "context": ...} as JSON on stdin; stdout is parsed as JSON
// when valid and returned as trimmed text otherwise.
type shellScript struct {
	code string
	cfg  Config
}

func (s *shellScript) Invoke(ctx context.Context, inputs, vars map[string]any) (*tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, interrupted(err)
	}

	payload, err := json.Marshal(map[string]any{
		"inputs":  schema.NormalizeMap(inputs),
		"context": schema.NormalizeMap(vars),
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "encode shell stdin: %v", err).WithCause(err)
	}

	cmd := exec.Command("/bin/sh", "-c", s.code)
	cmd.Stdin = bytes.NewReader(payload)

	wrapped, cleanup, err := s.cfg.Isolator.Wrap(ctx, cmd, isolation.ResourceLimits{
		Timeout: s.cfg.ShellTimeout,
		Env:     s.cfg.ShellEnv,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, interrupted(ctx.Err())
		}
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "shell isolation failed: %v", err).WithCause(err)
	}
	defer cleanup()

	var stdout, stderr bytes.Buffer
	wrapped.Stdout = &limitedWriter{w: &stdout, limit: maxShellOutput}
	wrapped.Stderr = &limitedWriter{w: &stderr, limit: maxShellOutput}

	runErr := wrapped.Run()
	diagnostics := stderrLines(stderr.String())

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, interrupted(ctx.Err())
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
			if exitCode == -1 {
				// Killed by the isolator's own timeout.
				return nil, interrupted(context.DeadlineExceeded)
			}
		}
		details := map[string]any{"runtime": "shell", "exit_code": exitCode}
		if len(diagnostics) > 0 {
			details["stderr"] = diagnostics
		}
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "shell script failed: %v", runErr).
			WithCause(runErr).
			WithDetails(details)
	}

	return &tools.Result{Value: parseShellOutput(stdout.Bytes()), Diagnostics: diagnostics}, nil
}

func parseShellOutput(out []byte) any {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		var parsed any
		if err := json.Unmarshal(trimmed, &parsed); err == nil {
			return parsed
		}
	}
	return string(trimmed)
}

func stderrLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// limitedWriter discards bytes beyond limit. Write always reports len(p)
// so the child never blocks on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
