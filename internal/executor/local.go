package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/raie-dev/raie-server/internal/domain"
)

// killGracePeriod bounds how long a timed-out child may linger between
// SIGKILL and Wait returning.
const killGracePeriod = 2 * time.Second

// LocalRunner runs scripts as a child process of the server using the host
// Python interpreter.
type LocalRunner struct {
	python string
}

// NewLocalRunner creates a subprocess-backed runner. pythonBin defaults to
// "python3" when empty.
func NewLocalRunner(pythonBin string) *LocalRunner {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	return &LocalRunner{python: pythonBin}
}

// Run executes the script at path, capturing stdout and stderr in full.
// The process is killed when timeout expires; the result then carries
// TimedOut=true and a synthesized stderr if the child wrote none.
func (r *LocalRunner) Run(ctx context.Context, path string, timeout time.Duration) *domain.ExecutionResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.python, path)
	cmd.Dir = os.TempDir()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGracePeriod

	err := cmd.Run()

	res := &domain.ExecutionResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		if res.Stderr == "" {
			res.Stderr = TimeoutStderr(timeout)
		}
		return res
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// The process could not even start (missing interpreter,
			// permission denied). Report the local diagnostic as stderr.
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = fmt.Sprintf("start process: %v", err)
			}
		}
		return res
	}

	res.Success = true
	return res
}
