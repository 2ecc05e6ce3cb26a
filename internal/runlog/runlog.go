// Package runlog provides asynchronous NDJSON logging of prompts,
// completions, and execution outcomes, one file per user session.
package runlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config controls run logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one NDJSON line in a session's run log.
type Event struct {
	Timestamp string         `json:"ts"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Attempt   int            `json:"attempt,omitempty"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Event kinds.
const (
	KindPrompt     = "prompt"
	KindCompletion = "completion"
	KindExecution  = "execution"
	KindOutcome    = "outcome"
)

// Logger records run events. Log must never block the attempt loop; events
// are dropped when the queue is full.
type Logger interface {
	Log(event Event)
	Close() error
}

// NewLogger creates a run logger. When disabled, a no-op logger is returned.
func NewLogger(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("run log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run log directory: %w", err)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &fileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	l.wg.Add(1)
	go l.worker()
	return l, nil
}

type fileLogger struct {
	dir     string
	queue   chan Event
	done    chan struct{}
	logger  *slog.Logger
	closing sync.Once
	wg      sync.WaitGroup
}

// Log enqueues an event, stamping the timestamp when absent. Drops the event
// when the queue is full or the logger is closed.
func (l *fileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("run log queue full, dropping event", "kind", event.Kind, "user_id", event.UserID)
	}
}

// Close drains the queue and stops the worker.
func (l *fileLogger) Close() error {
	l.closing.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *fileLogger) worker() {
	defer l.wg.Done()

	write := func(event Event) {
		if err := l.append(event); err != nil {
			l.logger.Warn("failed to write run log event", "error", err, "user_id", event.UserID)
		}
	}

	for {
		select {
		case event := <-l.queue:
			write(event)
		case <-l.done:
			for {
				select {
				case event := <-l.queue:
					write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *fileLogger) append(event Event) error {
	userDir := filepath.Join(l.dir, sanitizePathComponent(event.UserID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return fmt.Errorf("create user log directory: %w", err)
	}

	path := filepath.Join(userDir, sanitizePathComponent(event.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run log file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Debug("failed to close run log file", "path", path, "error", closeErr)
		}
	}()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run log event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append run log event: %w", err)
	}
	return nil
}

// sanitizePathComponent keeps log file names inside the log directory.
func sanitizePathComponent(s string) string {
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	clean := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			clean = append(clean, r)
		default:
			clean = append(clean, '_')
		}
	}
	return string(clean)
}

type noopLogger struct{}

func (noopLogger) Log(Event)    {}
func (noopLogger) Close() error { return nil }

// Noop returns a logger that discards everything.
func Noop() Logger {
	return noopLogger{}
}
