package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/raie-dev/raie-server/internal/domain"
)

// maxCompletionTokens bounds completion length; generous enough for detailed
// standalone scripts.
const maxCompletionTokens = 1500

// Generator builds attempt-aware prompts and obtains generated code from the
// language model.
type Generator struct {
	transport Transport
}

// New creates a Generator over a transport.
func New(transport Transport) *Generator {
	return &Generator{transport: transport}
}

// Generate produces code for the given attempt. The prompt escalates with the
// attempt number (baseline, debugging, expert recovery) and folds the session
// history into the user prompt. Transport failures and empty completions are
// returned as errors; retrying is the attempt loop's job.
func (g *Generator) Generate(ctx context.Context, task string, attempt int, history domain.History) (string, error) {
	tier := tierFor(attempt)

	raw, err := g.transport.Complete(ctx, CompletionRequest{
		SystemPrompt: tier.system,
		UserPrompt:   tier.user(task, attempt, history),
		Temperature:  temperatureFor(attempt),
		MaxTokens:    maxCompletionTokens,
	})
	if err != nil {
		return "", fmt.Errorf("language model call: %w", err)
	}

	code := Clean(raw)
	if code == "" {
		return "", ErrEmptyCompletion
	}
	return code, nil
}

// Clean strips markdown code fences (with or without a language tag) from
// generated text, leaving everything else untouched. Every line that opens or
// closes a fence is dropped, so cleaning already-clean code is a no-op.
func Clean(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.Contains(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
