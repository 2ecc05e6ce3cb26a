package analyzer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/raie-dev/raie-server/internal/domain"
)

// stderrContextLimit caps how much of each attempt's stderr is folded into
// the learning context, keeping prompts bounded. The last N characters are
// kept since Python puts the exception class at the end of the traceback.
const stderrContextLimit = 500

// suggestionTable maps a category to a one-line fix suggestion emitted into
// the learning context.
var suggestionTable = map[domain.Category]string{
	domain.CategorySyntax:      "check syntax and indentation",
	domain.CategoryImport:      "use only standard-library modules",
	domain.CategoryName:        "ensure all variables are defined before use",
	domain.CategoryType:        "verify argument types and counts",
	domain.CategoryIndex:       "add bounds checking",
	domain.CategoryKey:         "check key existence before access",
	domain.CategoryIndentation: "normalize whitespace",
	domain.CategoryUnknown:     "review the full traceback",
}

// Suggestion returns the static fix hint for a category.
func Suggestion(category domain.Category) string {
	if s, ok := suggestionTable[category]; ok {
		return s
	}
	return suggestionTable[domain.CategoryUnknown]
}

// BuildLearningContext folds the failed attempts of a history into a single
// chronological narrative for the next generation prompt. It is a pure,
// deterministic function of the history; an empty history yields an empty
// string so callers need no special-casing.
func BuildLearningContext(history domain.History) string {
	failures := history.Failures()
	if len(failures) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("=== LEARNING FROM PREVIOUS ATTEMPTS ===\n")
	for _, a := range failures {
		category := a.Category
		if category == "" {
			category = domain.CategoryUnknown
		}
		fmt.Fprintf(&b, "Attempt %d failed with %s error: %s\n", a.Number, category, Suggestion(category))
		if stderr := TruncateStderr(a.Stderr); stderr != "" {
			fmt.Fprintf(&b, "Error output:\n%s\n", stderr)
		}
	}
	return b.String()
}

// TruncateStderr keeps the tail of stderr within stderrContextLimit
// characters.
func TruncateStderr(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) <= stderrContextLimit {
		return stderr
	}
	cut := len(stderr) - stderrContextLimit
	// Never slice mid-rune.
	for cut < len(stderr) && !utf8.RuneStart(stderr[cut]) {
		cut++
	}
	return stderr[cut:]
}
