// Package generator obtains Python code from a language model with
// attempt-escalated guidance.
package generator

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the model responds with no usable code.
var ErrEmptyCompletion = errors.New("language model returned empty completion")

// CompletionRequest is a single system/user prompt pair with sampling
// parameters.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Transport is the opaque language-model call: synchronous, single-shot per
// generator invocation. Retrying belongs to the attempt loop, not here.
type Transport interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
