// Package banned screens translated prompts against a configured word
// list before anything is dispatched upstream.
package banned

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// List is a compiled banned-word list. Matching is case-insensitive
// and word-bounded so "grape" does not flag "grapefruit".
type List struct {
	words    []string
	patterns []*regexp.Regexp
}

// Load reads one word or phrase per line from path; blank lines and
// '#' comments are skipped. An empty path yields an empty list that
// bans nothing.
func Load(path string) (*List, error) {
	l := &List{}
	if path == "" {
		return l, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open banned words: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}
		l.add(word)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read banned words: %w", err)
	}
	return l, nil
}

// NewList compiles an in-memory word list, mainly for tests.
func NewList(words ...string) *List {
	l := &List{}
	for _, w := range words {
		l.add(w)
	}
	return l
}

func (l *List) add(word string) {
	l.words = append(l.words, word)
	l.patterns = append(l.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(word)+`\b`))
}

// Check returns the first banned word found in the prompt, if any.
func (l *List) Check(prompt string) (string, bool) {
	for i, re := range l.patterns {
		if re.MatchString(prompt) {
			return l.words[i], true
		}
	}
	return "", false
}

// Len reports how many entries the list carries.
func (l *List) Len() int { return len(l.words) }
