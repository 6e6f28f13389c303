package translate

import (
	"context"
	"strings"
	"testing"
)

// upperTranslator fakes a real translation by uppercasing, which makes
// it visible which segments were sent through the translator.
type upperTranslator struct{}

func (upperTranslator) TranslateToEnglish(_ context.Context, text string) (string, error) {
	return strings.ToUpper(text), nil
}

func TestPromptEnglishPreservesParameterTail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain prompt", "a cat", "A CAT"},
		{"parameters untouched", "a cat --ar 16:9 --v 5", "A CAT --ar 16:9 --v 5"},
		{"no-segment translated separately", "a cat --no dogs", "A CAT --no DOGS"},
		{"no-segment with params", "a cat --no dogs --ar 1:1", "A CAT --no DOGS --ar 1:1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := PromptEnglish(context.Background(), upperTranslator{}, tc.in); got != tc.want {
				t.Fatalf("PromptEnglish(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestPromptEnglishNoopKeepsInput(t *testing.T) {
	in := "一只猫 --ar 1:1"
	if got := PromptEnglish(context.Background(), Noop{}, in); got != in {
		t.Fatalf("PromptEnglish with Noop = %q, want input unchanged", got)
	}
}
