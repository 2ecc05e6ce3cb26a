package domain

import (
	"encoding/json"
	"testing"
)

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		name     string
		attempts History
		want     float64
	}{
		{"no attempts", nil, 0},
		{"all failed", History{{Number: 1, Outcome: OutcomeFailure}, {Number: 2, Outcome: OutcomeFailure}}, 0},
		{"one of two", History{{Number: 1, Outcome: OutcomeFailure}, {Number: 2, Outcome: OutcomeSuccess}}, 50},
		{"first try", History{{Number: 1, Outcome: OutcomeSuccess}}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{Attempts: tt.attempts}
			if got := s.SuccessRate(); got != tt.want {
				t.Errorf("SuccessRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHistoryNextNumber(t *testing.T) {
	var h History
	if got := h.NextNumber(); got != 1 {
		t.Errorf("NextNumber() on empty history = %d, want 1", got)
	}
	h = append(h, Attempt{Number: 1, Outcome: OutcomeFailure})
	h = append(h, Attempt{Number: 2, Outcome: OutcomeFailure})
	if got := h.NextNumber(); got != 3 {
		t.Errorf("NextNumber() = %d, want 3", got)
	}
}

func TestSessionMarshalJSONIncludesMetrics(t *testing.T) {
	s := &Session{
		ID:     "sess-1",
		UserID: "user-1",
		Task:   "print hello",
		Attempts: History{
			{Number: 1, Outcome: OutcomeFailure, Category: CategoryName},
			{Number: 2, Outcome: OutcomeSuccess},
		},
		Succeeded: true,
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["attempt_count"] != float64(2) {
		t.Errorf("attempt_count = %v, want 2", got["attempt_count"])
	}
	if got["success_rate"] != float64(50) {
		t.Errorf("success_rate = %v, want 50", got["success_rate"])
	}
	if got["id"] != "sess-1" {
		t.Errorf("id = %v, want sess-1", got["id"])
	}
}
