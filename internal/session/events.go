// Package session drives the generate-execute-analyze attempt loop.
package session

import (
	"github.com/raie-dev/raie-server/internal/domain"
)

// EventType identifies a progress event within a run.
type EventType string

const (
	EventAttemptStarted  EventType = "attempt_started"
	EventCodeGenerated   EventType = "code_generated"
	EventExecuted        EventType = "executed"
	EventAnalyzed        EventType = "analyzed"
	EventSessionFinished EventType = "session_finished"
)

// Event is a progress update published while a session runs. The UI renders
// these live over WebSocket.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Attempt   int             `json:"attempt,omitempty"`
	Code      string          `json:"code,omitempty"`
	Stdout    string          `json:"stdout,omitempty"`
	Stderr    string          `json:"stderr,omitempty"`
	Category  domain.Category `json:"category,omitempty"`
	Succeeded bool            `json:"succeeded,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Notifier receives progress events for a user's session. Implementations
// must not block the attempt loop.
type Notifier interface {
	Notify(userID string, event Event)
}

// NoopNotifier discards events.
type NoopNotifier struct{}

// Notify implements Notifier.
func (NoopNotifier) Notify(string, Event) {}
