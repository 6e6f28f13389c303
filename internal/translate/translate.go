// Package translate resolves submitted prompts into the upstream
// platform's working language. The algorithm behind TranslateToEnglish
// is a collaborator concern; this package ships an identity
// implementation and an OpenAI-backed one.
package translate

import (
	"context"
	"strings"
)

// Translator converts free text into English. Implementations return
// the input unchanged when they cannot improve on it.
type Translator interface {
	TranslateToEnglish(ctx context.Context, text string) (string, error)
}

// Noop returns prompts unchanged, for deployments that accept English
// input only.
type Noop struct{}

func (Noop) TranslateToEnglish(_ context.Context, text string) (string, error) {
	return text, nil
}

// PromptEnglish translates a full prompt while preserving its
// parameter tail: everything after the first " --" passes through
// untouched, and each " --no " segment is translated on its own so
// negative prompts survive the round trip.
func PromptEnglish(ctx context.Context, tr Translator, prompt string) string {
	segments := strings.Split(translateHead(ctx, tr, prompt), " --no ")
	if len(segments) == 1 {
		return segments[0]
	}
	out := segments[0]
	for _, seg := range segments[1:] {
		out += " --no " + translateHead(ctx, tr, seg)
	}
	return out
}

// translateHead translates the text before the first parameter flag
// and reattaches the flags verbatim.
func translateHead(ctx context.Context, tr Translator, text string) string {
	head, tail := text, ""
	if i := strings.Index(text, " --"); i > 0 {
		head, tail = text[:i], text[i:]
	}
	translated, err := tr.TranslateToEnglish(ctx, head)
	if err != nil || strings.TrimSpace(translated) == "" {
		return text
	}
	return strings.TrimSpace(translated) + tail
}
