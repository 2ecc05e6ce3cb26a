package runlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewLogger(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Log(Event{
		UserID:    "user-1",
		SessionID: "sess-1",
		Kind:      KindPrompt,
		Attempt:   1,
		Content:   "compute factorial of 5",
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	path := filepath.Join(dir, "user-1", "sess-1.ndjson")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var got Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &got); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if got.Kind != KindPrompt || got.Content != "compute factorial of 5" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.Timestamp == "" {
		t.Error("expected timestamp to be stamped")
	}
	if _, err := time.Parse(time.RFC3339Nano, got.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339Nano: %v", err)
	}
}

func TestLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Log(Event{UserID: "u", SessionID: "s", Kind: KindOutcome})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestLoggerSanitizesPathComponents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewLogger(Config{Enabled: true, Dir: dir, QueueSize: 4}, slog.Default())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Log(Event{UserID: "../evil", SessionID: "a/b", Kind: KindOutcome})
	logger.Log(Event{UserID: "..", SessionID: ".", Kind: KindOutcome})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, ".._evil", "a_b.ndjson")); err != nil {
		t.Errorf("expected sanitized log path: %v", err)
	}
	// Bare dot components would escape the log directory untouched.
	if _, err := os.Stat(filepath.Join(dir, "unknown", "unknown.ndjson")); err != nil {
		t.Errorf("expected dot components mapped to unknown: %v", err)
	}
}
