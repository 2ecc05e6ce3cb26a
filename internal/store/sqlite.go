package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/raie-dev/raie-server/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		task TEXT NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		final_code TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS attempts (
		session_id TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		code TEXT NOT NULL,
		outcome TEXT NOT NULL,
		stdout TEXT NOT NULL,
		stderr TEXT NOT NULL,
		category TEXT,
		line_number INTEGER,
		symbol TEXT,
		missing_module TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, attempt_number),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertSession records a new session before its first attempt.
func (s *SQLiteStore) InsertSession(ctx context.Context, session *domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO sessions (session_id, user_id, task, succeeded, final_code, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var finalCode interface{}
	if session.FinalCode != "" {
		finalCode = session.FinalCode
	}

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.Task,
		boolToInt(session.Succeeded), finalCode,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// AppendAttempt records a completed attempt for a session.
func (s *SQLiteStore) AppendAttempt(ctx context.Context, sessionID string, attempt domain.Attempt) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO attempts (
		session_id, attempt_number, code, outcome, stdout, stderr,
		category, line_number, symbol, missing_module, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var category interface{}
	if attempt.Category != "" {
		category = string(attempt.Category)
	}
	var lineNumber interface{}
	if attempt.Metadata.LineNumber > 0 {
		lineNumber = attempt.Metadata.LineNumber
	}
	var symbol interface{}
	if attempt.Metadata.Symbol != "" {
		symbol = attempt.Metadata.Symbol
	}
	var missingModule interface{}
	if attempt.Metadata.MissingModule != "" {
		missingModule = attempt.Metadata.MissingModule
	}

	_, err := s.db.ExecContext(ctx, query,
		sessionID, attempt.Number, attempt.Code, string(attempt.Outcome),
		attempt.Stdout, attempt.Stderr,
		category, lineNumber, symbol, missingModule,
		attempt.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}

	touch := `UPDATE sessions SET updated_at = ? WHERE session_id = ?`
	if _, err := s.db.ExecContext(ctx, touch, attempt.Timestamp.Unix(), sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// FinishSession records the final outcome and code of a session.
func (s *SQLiteStore) FinishSession(ctx context.Context, session *domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `UPDATE sessions SET succeeded = ?, final_code = ?, updated_at = ? WHERE session_id = ?`

	var finalCode interface{}
	if session.FinalCode != "" {
		finalCode = session.FinalCode
	}

	result, err := s.db.ExecContext(ctx, query,
		boolToInt(session.Succeeded), finalCode,
		session.UpdatedAt.Unix(), session.ID,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("FinishSession affected 0 rows", "session_id", session.ID)
	}
	return nil
}

// GetSession retrieves a session with its attempts. Returns nil when the
// session does not exist or belongs to another user.
func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, task, succeeded, final_code, created_at, updated_at
		FROM sessions WHERE session_id = ? AND user_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID, userID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	attempts, err := s.loadAttempts(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.Attempts = attempts

	return session, nil
}

// ListSessions retrieves a user's sessions, most recent first, without
// attempt bodies.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `
		SELECT session_id, user_id, task, succeeded, final_code, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// ClearSessions removes all of a user's sessions and attempts.
func (s *SQLiteStore) ClearSessions(ctx context.Context, userID string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deleteAttempts := `
		DELETE FROM attempts WHERE session_id IN
		(SELECT session_id FROM sessions WHERE user_id = ?)`
	if _, err := s.db.ExecContext(ctx, deleteAttempts, userID); err != nil {
		return 0, fmt.Errorf("clear attempts: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	return result.RowsAffected()
}

// PurgeOlderThan removes sessions unchanged for longer than retention.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-retention).Unix()

	deleteAttempts := `
		DELETE FROM attempts WHERE session_id IN
		(SELECT session_id FROM sessions WHERE updated_at < ?)`
	if _, err := s.db.ExecContext(ctx, deleteAttempts, threshold); err != nil {
		return 0, fmt.Errorf("purge attempts: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadAttempts(ctx context.Context, sessionID string) ([]domain.Attempt, error) {
	query := `
		SELECT attempt_number, code, outcome, stdout, stderr,
		       category, line_number, symbol, missing_module, created_at
		FROM attempts WHERE session_id = ? ORDER BY attempt_number ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close attempt rows", "error", closeErr)
		}
	}()

	var attempts []domain.Attempt
	for rows.Next() {
		var attempt domain.Attempt
		var outcome string
		var category, symbol, missingModule sql.NullString
		var lineNumber sql.NullInt64
		var createdAt int64

		if err := rows.Scan(
			&attempt.Number, &attempt.Code, &outcome,
			&attempt.Stdout, &attempt.Stderr,
			&category, &lineNumber, &symbol, &missingModule, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}

		attempt.Outcome = domain.Outcome(outcome)
		attempt.Category = domain.Category(category.String)
		attempt.Metadata.LineNumber = int(lineNumber.Int64)
		attempt.Metadata.Symbol = symbol.String
		attempt.Metadata.MissingModule = missingModule.String
		attempt.Timestamp = time.Unix(createdAt, 0)
		attempts = append(attempts, attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}

	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var succeeded int
	var finalCode sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.ID, &session.UserID, &session.Task,
		&succeeded, &finalCode, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Succeeded = succeeded != 0
	session.FinalCode = finalCode.String
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	return &session, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
