// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/raie-dev/raie-server/internal/domain"
)

// Repository defines the interface for persisting sessions and their
// attempts within the working session.
type Repository interface {
	// InsertSession records a new session before its first attempt.
	InsertSession(ctx context.Context, session *domain.Session) error

	// AppendAttempt records a completed attempt for a session. Attempt
	// numbers must be contiguous and strictly increasing from 1.
	AppendAttempt(ctx context.Context, sessionID string, attempt domain.Attempt) error

	// FinishSession records the final outcome and code of a session.
	FinishSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session with its attempts. Returns nil when the
	// session does not exist or belongs to another user.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error)

	// ListSessions retrieves a user's sessions, most recent first, without
	// attempt bodies.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// ClearSessions removes all of a user's sessions and attempts.
	ClearSessions(ctx context.Context, userID string) (int64, error)

	// PurgeOlderThan removes sessions unchanged for longer than retention.
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
