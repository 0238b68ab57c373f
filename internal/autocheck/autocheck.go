// Package autocheck scores document content before it enters human review.
// Results are advisory: they are stored on the review and never block it.
package autocheck

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"docflow/internal/store"
)

type Checker interface {
	Check(ctx context.Context, content string) (store.AutoCheck, error)
}

// Empty is the recorded result when a check could not be produced.
func Empty() store.AutoCheck {
	return store.AutoCheck{Score: 0, Issues: []store.Issue{}}
}

// Heuristic is a local checker used when no external scoring service is
// configured.
type Heuristic struct {
	MinWords     int
	MaxLineRunes int
}

func NewHeuristic() Heuristic {
	return Heuristic{MinWords: 50, MaxLineRunes: 200}
}

func (h Heuristic) Check(ctx context.Context, content string) (store.AutoCheck, error) {
	if err := ctx.Err(); err != nil {
		return store.AutoCheck{}, err
	}

	issues := make([]store.Issue, 0)
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		issues = append(issues, store.Issue{
			Severity:    store.SeverityError,
			Title:       "Empty document",
			Description: "The document has no content.",
		})
		return store.AutoCheck{Score: score(issues), Issues: issues}, nil
	}

	if words := len(strings.Fields(trimmed)); words < h.MinWords {
		issues = append(issues, store.Issue{
			Severity:    store.SeverityWarning,
			Title:       "Short document",
			Description: fmt.Sprintf("The document has %d words; at least %d are expected.", words, h.MinWords),
			Suggestion:  "Expand the content before requesting approval.",
		})
	}

	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "TODO") || strings.Contains(line, "TBD") {
			issues = append(issues, store.Issue{
				Severity:    store.SeverityWarning,
				Title:       "Unresolved placeholder",
				Description: "The document still contains a placeholder marker.",
				Location:    fmt.Sprintf("line %d", i+1),
			})
		}
		if h.MaxLineRunes > 0 && utf8.RuneCountInString(line) > h.MaxLineRunes {
			issues = append(issues, store.Issue{
				Severity:    store.SeveritySuggestion,
				Title:       "Long line",
				Description: fmt.Sprintf("Line is longer than %d characters.", h.MaxLineRunes),
				Location:    fmt.Sprintf("line %d", i+1),
				Suggestion:  "Split the sentence or paragraph.",
			})
		}
		if strings.TrimRight(line, " \t") != line {
			issues = append(issues, store.Issue{
				Severity:    store.SeveritySuggestion,
				Title:       "Trailing whitespace",
				Description: "Line ends with whitespace.",
				Location:    fmt.Sprintf("line %d", i+1),
			})
		}
	}

	return store.AutoCheck{Score: score(issues), Issues: issues}, nil
}

func score(issues []store.Issue) int {
	total := 100
	for _, issue := range issues {
		switch issue.Severity {
		case store.SeverityError:
			total -= 100
		case store.SeverityWarning:
			total -= 10
		case store.SeveritySuggestion:
			total -= 2
		}
	}
	return clamp(total)
}

func clamp(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
