package banned

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckWordBoundaries(t *testing.T) {
	l := NewList("blood", "gun fight")

	tests := []struct {
		name   string
		prompt string
		word   string
		banned bool
	}{
		{"exact word", "a pool of blood", "blood", true},
		{"case insensitive", "BLOOD everywhere", "blood", true},
		{"substring not flagged", "bloodhound portrait", "", false},
		{"phrase", "an old west gun fight", "gun fight", true},
		{"clean prompt", "a cat on a sofa", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			word, banned := l.Check(tc.prompt)
			if banned != tc.banned || word != tc.word {
				t.Fatalf("Check(%q) = %q/%v, want %q/%v", tc.prompt, word, banned, tc.word, tc.banned)
			}
		})
	}
}

func TestLoadSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	content := "# comment\nblood\n\n  gun fight  \n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
}

func TestLoadEmptyPathBansNothing(t *testing.T) {
	l, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, banned := l.Check("anything at all"); banned {
		t.Fatal("empty list banned a prompt")
	}
}
