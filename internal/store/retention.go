package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/raie-dev/raie-server/internal/shared"
)

const retentionWorkerInterval = 5 * time.Minute

// StartRetentionWorker runs a background goroutine that periodically purges
// sessions that have gone unchanged for longer than the retention window.
func StartRetentionWorker(ctx context.Context, repo Repository, retention time.Duration) {
	ticker := time.NewTicker(retentionWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("retention worker started", "interval", retentionWorkerInterval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				purgeWithRetry(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// purgeWithRetry purges expired sessions with exponential backoff to handle
// SQLITE_BUSY errors.
func purgeWithRetry(ctx context.Context, repo Repository, retention time.Duration) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		deleted, err := repo.PurgeOlderThan(ctx, retention)
		if err == nil {
			if deleted > 0 {
				slog.Info("retention worker purged expired sessions", "count", deleted)
			}
			return
		}

		if shared.IsSQLiteConflictError(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
				slog.Debug("retention worker purge hit SQLITE_BUSY, retrying",
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		if ctx.Err() != nil {
			slog.Debug("retention worker purge canceled", "error", err)
			return
		}

		slog.Error("retention worker failed to purge expired sessions", "error", err)
		return
	}
}
