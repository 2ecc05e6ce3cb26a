package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/raie-dev/raie-server/internal/analyzer"
	"github.com/raie-dev/raie-server/internal/domain"
	"github.com/raie-dev/raie-server/internal/executor"
	"github.com/raie-dev/raie-server/internal/generator"
	"github.com/raie-dev/raie-server/internal/runlog"
	"github.com/raie-dev/raie-server/internal/store"
)

const (
	// DefaultMaxAttempts is the attempt limit used when none is configured.
	DefaultMaxAttempts = 5
	// maxAttemptCeiling caps the configurable attempt limit.
	maxAttemptCeiling = 10
)

// Runner drives the full attempt loop for one task: generate code, execute
// it, classify failures, and feed the accumulated history back into the next
// generation until success or the attempt limit.
type Runner struct {
	gen         *generator.Generator
	exec        *executor.Executor
	repo        store.Repository
	notifier    Notifier
	runLog      runlog.Logger
	maxAttempts int
}

// NewRunner creates a session runner. maxAttempts is clamped to [1, 10];
// non-positive values fall back to DefaultMaxAttempts. notifier and runLog
// may be nil.
func NewRunner(gen *generator.Generator, exec *executor.Executor, repo store.Repository, notifier Notifier, runLog runlog.Logger, maxAttempts int) *Runner {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxAttempts > maxAttemptCeiling {
		maxAttempts = maxAttemptCeiling
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if runLog == nil {
		runLog = runlog.Noop()
	}
	return &Runner{
		gen:         gen,
		exec:        exec,
		repo:        repo,
		notifier:    notifier,
		runLog:      runLog,
		maxAttempts: maxAttempts,
	}
}

// MaxAttempts returns the default attempt limit.
func (r *Runner) MaxAttempts() int {
	return r.maxAttempts
}

// clampAttempts resolves a per-run attempt limit against the configured
// default and the hard ceiling.
func (r *Runner) clampAttempts(requested int) int {
	if requested <= 0 {
		return r.maxAttempts
	}
	if requested > maxAttemptCeiling {
		return maxAttemptCeiling
	}
	return requested
}

// Run executes the attempt loop for a task and returns the finished session.
// maxAttempts overrides the configured limit for this run; non-positive
// values fall back to the default. The session is persisted incrementally; a
// persistence failure is logged but does not abort the run. The only error
// returns are context cancellation and a failure to record the session
// before the first attempt.
func (r *Runner) Run(ctx context.Context, userID, task string, maxAttempts int) (*domain.Session, error) {
	limit := r.clampAttempts(maxAttempts)
	now := time.Now()
	session := &domain.Session{
		ID:        newSessionID(),
		UserID:    userID,
		Task:      task,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.repo.InsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}

	slog.Info("session started",
		"session_id", session.ID,
		"user_id", userID,
		"max_attempts", limit)

	for len(session.Attempts) < limit {
		if err := ctx.Err(); err != nil {
			return session, err
		}
		number := session.Attempts.NextNumber()

		r.notify(session, Event{
			Type:    EventAttemptStarted,
			Attempt: number,
		})
		r.logRun(session, runlog.Event{
			Kind:    runlog.KindPrompt,
			Attempt: number,
			Content: task,
			Meta:    map[string]any{"prior_failures": len(session.Attempts.Failures())},
		})

		code, err := r.gen.Generate(ctx, task, number, session.Attempts)
		if err != nil {
			if ctx.Err() != nil {
				return session, ctx.Err()
			}
			// A generation failure consumes an attempt so a flaky model
			// cannot loop forever.
			slog.Warn("code generation failed",
				"session_id", session.ID,
				"attempt", number,
				"error", err)
			r.recordAttempt(ctx, session, domain.Attempt{
				Number:    number,
				Outcome:   domain.OutcomeFailure,
				Stderr:    fmt.Sprintf("code generation failed: %v", err),
				Category:  domain.CategoryUnknown,
				Timestamp: time.Now(),
			})
			r.notify(session, Event{
				Type:     EventAnalyzed,
				Attempt:  number,
				Category: domain.CategoryUnknown,
				Message:  "code generation failed",
			})
			continue
		}

		r.notify(session, Event{
			Type:    EventCodeGenerated,
			Attempt: number,
			Code:    code,
		})
		r.logRun(session, runlog.Event{
			Kind:    runlog.KindCompletion,
			Attempt: number,
			Content: code,
		})

		result := r.exec.Execute(ctx, code)
		if ctx.Err() != nil {
			return session, ctx.Err()
		}

		r.notify(session, Event{
			Type:    EventExecuted,
			Attempt: number,
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
		})
		r.logRun(session, runlog.Event{
			Kind:    runlog.KindExecution,
			Attempt: number,
			Content: result.Stderr,
			Meta: map[string]any{
				"success":   result.Success,
				"exit_code": result.ExitCode,
				"timed_out": result.TimedOut,
			},
		})

		if result.Success {
			r.recordAttempt(ctx, session, domain.Attempt{
				Number:    number,
				Code:      code,
				Outcome:   domain.OutcomeSuccess,
				Stdout:    result.Stdout,
				Timestamp: time.Now(),
			})
			session.Succeeded = true
			session.FinalCode = code
			r.finish(ctx, session, number)
			return session, nil
		}

		category, metadata := analyzer.Categorize(result.Stderr)
		r.recordAttempt(ctx, session, domain.Attempt{
			Number:    number,
			Code:      code,
			Outcome:   domain.OutcomeFailure,
			Stdout:    result.Stdout,
			Stderr:    result.Stderr,
			Category:  category,
			Metadata:  metadata,
			Timestamp: time.Now(),
		})
		r.notify(session, Event{
			Type:     EventAnalyzed,
			Attempt:  number,
			Category: category,
			Message:  analyzer.Suggestion(category),
		})

		slog.Info("attempt failed",
			"session_id", session.ID,
			"attempt", number,
			"category", category,
			"timed_out", result.TimedOut)
	}

	r.finish(ctx, session, limit)
	return session, nil
}

func (r *Runner) recordAttempt(ctx context.Context, session *domain.Session, attempt domain.Attempt) {
	session.Attempts = append(session.Attempts, attempt)
	session.UpdatedAt = attempt.Timestamp
	if err := r.repo.AppendAttempt(ctx, session.ID, attempt); err != nil {
		slog.Warn("failed to persist attempt",
			"session_id", session.ID,
			"attempt", attempt.Number,
			"error", err)
	}
}

func (r *Runner) finish(ctx context.Context, session *domain.Session, attempts int) {
	session.UpdatedAt = time.Now()
	if err := r.repo.FinishSession(ctx, session); err != nil {
		slog.Warn("failed to persist session outcome",
			"session_id", session.ID,
			"error", err)
	}

	r.notify(session, Event{
		Type:      EventSessionFinished,
		Attempt:   attempts,
		Succeeded: session.Succeeded,
		Code:      session.FinalCode,
	})
	r.logRun(session, runlog.Event{
		Kind:    runlog.KindOutcome,
		Attempt: attempts,
		Content: session.FinalCode,
		Meta:    map[string]any{"succeeded": session.Succeeded},
	})

	slog.Info("session finished",
		"session_id", session.ID,
		"user_id", session.UserID,
		"succeeded", session.Succeeded,
		"attempts", attempts)
}

func (r *Runner) notify(session *domain.Session, event Event) {
	event.SessionID = session.ID
	r.notifier.Notify(session.UserID, event)
}

func (r *Runner) logRun(session *domain.Session, event runlog.Event) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	event.UserID = session.UserID
	event.SessionID = session.ID
	r.runLog.Log(event)
}

// newSessionID returns a 32-character random hex identifier.
func newSessionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand read failures are not recoverable.
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(buf[:])
}
