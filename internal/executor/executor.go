// Package executor runs generated Python code in an isolated, time-bounded
// process and reports the outcome as data.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/raie-dev/raie-server/internal/domain"
)

// DefaultTimeout is the hard wall-clock limit applied when the caller does
// not configure one.
const DefaultTimeout = 15 * time.Second

// Runner executes a script file within a timeout. Implementations must
// terminate the process on expiry and report outcomes as results, never
// panicking or leaking the child past the deadline.
type Runner interface {
	Run(ctx context.Context, path string, timeout time.Duration) *domain.ExecutionResult
}

// Executor writes code to a private temporary file and delegates execution to
// a Runner. The file is unique per call and removed on every exit path.
type Executor struct {
	runner  Runner
	timeout time.Duration
}

// New creates an Executor. A non-positive timeout falls back to
// DefaultTimeout.
func New(runner Runner, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{runner: runner, timeout: timeout}
}

// Timeout returns the configured per-execution wall-clock limit.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute runs code and reports the outcome. Internal faults (temp-file I/O,
// process spawn) are converted into a failed result rather than surfaced as
// errors, so callers can always feed the result into the next attempt.
func (e *Executor) Execute(ctx context.Context, code string) *domain.ExecutionResult {
	f, err := os.CreateTemp("", "raie-*.py")
	if err != nil {
		return faultResult(fmt.Sprintf("create temporary file: %v", err))
	}
	path := f.Name()
	defer func() {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			slog.Warn("Failed to remove temporary script", "path", path, "error", removeErr)
		}
	}()

	if _, err := f.WriteString(code); err != nil {
		_ = f.Close()
		return faultResult(fmt.Sprintf("write temporary file: %v", err))
	}
	if err := f.Close(); err != nil {
		return faultResult(fmt.Sprintf("close temporary file: %v", err))
	}

	return e.runner.Run(ctx, path, e.timeout)
}

// TimeoutStderr synthesizes the stderr text reported when a run exceeds its
// wall-clock limit without producing output of its own.
func TimeoutStderr(timeout time.Duration) string {
	return fmt.Sprintf("execution timed out after %d seconds", int(timeout.Seconds()))
}

func faultResult(diag string) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		Success:  false,
		Stderr:   diag,
		ExitCode: -1,
	}
}
