package generator

import (
	"fmt"
	"strings"

	"github.com/raie-dev/raie-server/internal/analyzer"
	"github.com/raie-dev/raie-server/internal/domain"
)

const basePrompt = "You are an expert Python programmer with strong debugging skills."

const baselineRules = basePrompt + `

Generate clean, working Python code based on the user's request.

Rules:
1. Use only the Python standard library (no external packages)
2. Include all necessary imports
3. Add error handling and input validation
4. Test your code mentally before outputting
5. Return ONLY executable Python code (no markdown formatting)`

const debuggingRules = basePrompt + `

You are now in DEBUGGING MODE. Previous attempts have failed.

Critical rules:
1. ANALYZE the previous failures carefully
2. Use ONLY Python standard library modules
3. Add comprehensive error handling with try-except blocks
4. Validate all inputs before processing
5. Avoid the error categories listed in the learning context
6. Return ONLY executable Python code (no markdown)

Focus on robust, defensive code that handles edge cases.`

const recoveryRules = basePrompt + `

You are now in EXPERT RECOVERY MODE. Multiple attempts have failed.

Critical debugging protocol:
1. COMPLETELY REWRITE the approach; do not patch the previous code
2. Use the SIMPLEST possible solution that works
3. Break complex problems into smaller, testable functions
4. Use only built-in Python functions and the standard library
5. Consider alternative algorithms
6. Return ONLY executable Python code (no markdown)

Priority: working code over elegant code.`

// promptTier binds an attempt-number range to its prompt builders. Tiers are
// evaluated in order; hi == 0 means unbounded.
type promptTier struct {
	lo, hi int
	system string
	user   func(task string, attempt int, history domain.History) string
}

var tiers = []promptTier{
	{lo: 1, hi: 1, system: baselineRules, user: baselineUserPrompt},
	{lo: 2, hi: 3, system: debuggingRules, user: debuggingUserPrompt},
	{lo: 4, hi: 0, system: recoveryRules, user: recoveryUserPrompt},
}

// tierFor selects the prompt tier for an attempt number.
func tierFor(attempt int) promptTier {
	for _, t := range tiers {
		if attempt >= t.lo && (t.hi == 0 || attempt <= t.hi) {
			return t
		}
	}
	return tiers[0]
}

func baselineUserPrompt(task string, attempt int, _ domain.History) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original task: %s\n", task)
	fmt.Fprintf(&b, "\nGenerate working Python code for attempt %d. Focus on correctness over elegance.", attempt)
	return b.String()
}

// debuggingUserPrompt anchors the model on the most recent failure: learning
// context plus the last attempt's code and stderr verbatim.
func debuggingUserPrompt(task string, attempt int, history domain.History) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original task: %s\n", task)

	if lc := analyzer.BuildLearningContext(history); lc != "" {
		b.WriteString("\n" + lc)
	}

	if last := history.Last(); last.Failed() && last.Number > 0 {
		fmt.Fprintf(&b, "\n=== ATTEMPT %d FOCUS ===\n", attempt)
		fmt.Fprintf(&b, "Last error category: %s\n", last.Category)
		fmt.Fprintf(&b, "Suggestion: %s\n", analyzer.Suggestion(last.Category))
		if last.Code != "" {
			fmt.Fprintf(&b, "\nPrevious code:\n%s\n", last.Code)
		}
		if last.Stderr != "" {
			fmt.Fprintf(&b, "\nPrevious error output:\n%s\n", last.Stderr)
		}
	}

	fmt.Fprintf(&b, "\nGenerate working Python code for attempt %d. Focus on correctness over elegance.", attempt)
	return b.String()
}

func recoveryUserPrompt(task string, attempt int, history domain.History) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original task: %s\n", task)

	if lc := analyzer.BuildLearningContext(history); lc != "" {
		b.WriteString("\n" + lc)
	}

	b.WriteString("\nCRITICAL: multiple failures detected. Consider:\n")
	b.WriteString("- a completely different approach\n")
	b.WriteString("- a simpler algorithm\n")
	b.WriteString("- a more basic implementation\n")
	b.WriteString("- extensive error handling\n")

	fmt.Fprintf(&b, "\nGenerate working Python code for attempt %d. Focus on correctness over elegance.", attempt)
	return b.String()
}

// temperatureFor lowers sampling randomness as attempts accumulate,
// bottoming out at 0.1.
func temperatureFor(attempt int) float64 {
	t := 0.3 - float64(attempt)*0.05
	if t < 0.1 {
		return 0.1
	}
	return t
}
