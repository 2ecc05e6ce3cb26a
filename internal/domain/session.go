package domain

import (
	"encoding/json"
	"time"
)

// Session is one end-to-end run from task description to success or attempt
// exhaustion. History is owned by the session and mutated only by the
// orchestrator.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Task      string    `json:"task"`
	Attempts  History   `json:"attempts"`
	Succeeded bool      `json:"succeeded"`
	FinalCode string    `json:"final_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttemptCount returns the number of completed attempts.
func (s *Session) AttemptCount() int {
	return len(s.Attempts)
}

// SuccessRate returns the fraction of attempts that succeeded, in percent.
func (s *Session) SuccessRate() float64 {
	if len(s.Attempts) == 0 {
		return 0
	}
	var ok int
	for _, a := range s.Attempts {
		if !a.Failed() {
			ok++
		}
	}
	return float64(ok) / float64(len(s.Attempts)) * 100
}

// MarshalJSON adds the derived attempt metrics to the serialized session so
// clients render them without recomputing over the history.
func (s *Session) MarshalJSON() ([]byte, error) {
	type plain Session
	return json.Marshal(struct {
		*plain
		AttemptCount int     `json:"attempt_count"`
		SuccessRate  float64 `json:"success_rate"`
	}{(*plain)(s), s.AttemptCount(), s.SuccessRate()})
}
