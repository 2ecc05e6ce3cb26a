// Package analyzer turns raw Python tracebacks into structured error
// classifications and folds attempt history into a prompt-ready narrative.
package analyzer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/raie-dev/raie-server/internal/domain"
)

// classMapping maps a Python exception class name to a category. The table is
// ordered so the first match wins.
type classMapping struct {
	class    string
	category domain.Category
}

// Evaluated against the leading token of the last non-empty traceback line.
// IndentationError must precede the generic fallback but needs no special
// ordering against SyntaxError because class names are matched exactly.
var classTable = []classMapping{
	{"SyntaxError", domain.CategorySyntax},
	{"IndentationError", domain.CategoryIndentation},
	{"TabError", domain.CategoryIndentation},
	{"ModuleNotFoundError", domain.CategoryImport},
	{"ImportError", domain.CategoryImport},
	{"NameError", domain.CategoryName},
	{"TypeError", domain.CategoryType},
	{"IndexError", domain.CategoryIndex},
	{"KeyError", domain.CategoryKey},
}

var (
	linePattern    = regexp.MustCompile(`line (\d+)`)
	symbolPattern  = regexp.MustCompile(`'([^']+)'`)
	modulePattern  = regexp.MustCompile(`[Nn]o module named '([^']+)'`)
	definedPattern = regexp.MustCompile(`name '([^']+)' is not defined`)
)

// Categorize classifies stderr into a category plus extracted metadata. It
// inspects the exception class name on the last non-empty line of the
// traceback. Malformed or empty stderr yields CategoryUnknown with empty
// metadata; Categorize never fails.
func Categorize(stderr string) (domain.Category, domain.ErrorMetadata) {
	var meta domain.ErrorMetadata

	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return domain.CategoryUnknown, meta
	}

	last := lastNonEmptyLine(stderr)
	class := leadingToken(last)

	category := domain.CategoryUnknown
	for _, m := range classTable {
		if m.class == class {
			category = m.category
			break
		}
	}

	// Deepest "line N" occurrence points at the failing frame.
	if matches := linePattern.FindAllStringSubmatch(stderr, -1); len(matches) > 0 {
		if n, err := strconv.Atoi(matches[len(matches)-1][1]); err == nil {
			meta.LineNumber = n
		}
	}

	switch category {
	case domain.CategoryImport:
		if m := modulePattern.FindStringSubmatch(stderr); m != nil {
			meta.MissingModule = m[1]
			meta.Symbol = m[1]
		}
	case domain.CategoryName:
		if m := definedPattern.FindStringSubmatch(last); m != nil {
			meta.Symbol = m[1]
		}
	default:
		if m := symbolPattern.FindStringSubmatch(last); m != nil {
			meta.Symbol = m[1]
		}
	}

	return category, meta
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// leadingToken returns the exception class name: everything up to the first
// ':' on the line, trimmed. A bare class name ("KeyError") is returned as is.
func leadingToken(line string) string {
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}
