package engine

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"mjgateway/internal/domain"
)

// NormalizePrompt folds the free-text prompt into a canonical form for
// correlation: NFKC so fullwidth punctuation from translated prompts
// compares equal to ASCII, lowercased, runs of whitespace collapsed.
func NormalizePrompt(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// normalizeDescribeRef normalizes a "/describe <file> R" description by
// dropping the file extension, so a task recorded with the uploaded
// filename still matches the bare CDN basename.
func normalizeDescribeRef(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if i == 0 || f == "R" {
			continue
		}
		if dot := strings.LastIndex(f, "."); dot > 0 {
			fields[i] = f[:dot]
		}
	}
	return strings.Join(fields, " ")
}

// promptCondition builds the normalized final-prompt predicate used by
// every content-matching rule.
func promptCondition(prompt string, actions ...domain.TaskAction) *domain.Condition {
	cond := domain.NewCondition().WithFinalPromptEn(prompt)
	cond.ActionSet = actions
	cond.Normalize = NormalizePrompt
	return cond
}
