// Package domain contains core domain types for the RAIE server.
package domain

import (
	"time"
)

// Outcome is the result of a single generate-execute cycle.
type Outcome string

const (
	// OutcomeSuccess means the generated code ran to completion with exit code 0.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means generation failed, the code raised, exited non-zero,
	// or timed out.
	OutcomeFailure Outcome = "failure"
)

// Category is the coarse classification of a runtime failure.
type Category string

const (
	CategorySyntax      Category = "syntax"
	CategoryImport      Category = "import"
	CategoryName        Category = "name"
	CategoryType        Category = "type"
	CategoryIndex       Category = "index"
	CategoryKey         Category = "key"
	CategoryIndentation Category = "indentation"
	CategoryUnknown     Category = "unknown"
)

// ErrorMetadata carries details extracted from a traceback.
type ErrorMetadata struct {
	LineNumber    int    `json:"line_number,omitempty"`
	Symbol        string `json:"symbol,omitempty"`
	MissingModule string `json:"missing_module,omitempty"`
}

// Attempt records one full generate-execute-classify cycle. Immutable once
// appended to a session history.
type Attempt struct {
	Number    int           `json:"number"`
	Code      string        `json:"code"`
	Outcome   Outcome       `json:"outcome"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Category  Category      `json:"category,omitempty"`
	Metadata  ErrorMetadata `json:"metadata,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Failed reports whether the attempt did not succeed.
func (a Attempt) Failed() bool {
	return a.Outcome != OutcomeSuccess
}

// History is the ordered, append-only sequence of attempts within a session.
// Attempt numbers are strictly increasing and contiguous starting at 1.
type History []Attempt

// Failures returns the failed attempts in chronological order.
func (h History) Failures() []Attempt {
	var failed []Attempt
	for _, a := range h {
		if a.Failed() {
			failed = append(failed, a)
		}
	}
	return failed
}

// Last returns the most recent attempt, or a zero Attempt for empty history.
func (h History) Last() Attempt {
	if len(h) == 0 {
		return Attempt{}
	}
	return h[len(h)-1]
}

// NextNumber returns the attempt number the next cycle must carry.
func (h History) NextNumber() int {
	return len(h) + 1
}

// ExecutionResult reports the outcome of running generated code once.
// It is transient: produced by the executor, consumed within one loop
// iteration.
type ExecutionResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
	ExitCode int    `json:"exit_code"`
}
