package domain

import "testing"

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"not_start to submitted", StatusNotStart, StatusSubmitted, true},
		{"submitted to in_progress", StatusSubmitted, StatusInProgress, true},
		{"submitted to modal", StatusSubmitted, StatusModal, true},
		{"submitted straight to failure", StatusSubmitted, StatusFailure, true},
		{"in_progress to success", StatusInProgress, StatusSuccess, true},
		{"in_progress back to submitted", StatusInProgress, StatusSubmitted, false},
		{"modal to in_progress", StatusModal, StatusInProgress, true},
		{"in_progress back to modal", StatusInProgress, StatusModal, false},
		{"success to failure", StatusSuccess, StatusFailure, false},
		{"failure to success", StatusFailure, StatusSuccess, false},
		{"success to success", StatusSuccess, StatusSuccess, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransition(tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestTaskFinalPromptFallback(t *testing.T) {
	task := NewTask(ActionImagine)
	task.PromptEn = "a cat"
	if got := task.FinalPrompt(); got != "a cat" {
		t.Fatalf("FinalPrompt() = %q, want promptEn fallback", got)
	}
	task.SetProperty(PropertyFinalPrompt, "a cat --v 5")
	if got := task.FinalPrompt(); got != "a cat --v 5" {
		t.Fatalf("FinalPrompt() = %q, want final prompt property", got)
	}
}

func TestTaskCloneIsolatesProperties(t *testing.T) {
	task := NewTask(ActionImagine)
	task.SetProperty(PropertyMessageID, "m1")
	cp := task.Clone()
	cp.SetProperty(PropertyMessageID, "m2")
	if task.PropertyString(PropertyMessageID) != "m1" {
		t.Fatal("mutating a clone leaked into the original task")
	}
}

func TestConditionMatches(t *testing.T) {
	task := NewTask(ActionUpscale)
	task.Status = StatusInProgress
	task.Description = "/up 1001 U2"
	task.PromptEn = "A  Cat"
	task.SetProperty(PropertyMessageID, "m1")

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"empty matches", NewCondition(), true},
		{"action in set", NewCondition().WithActions(ActionUpscale, ActionVariation), true},
		{"action not in set", NewCondition().WithActions(ActionImagine), false},
		{"description equal", NewCondition().WithDescription("/up 1001 U2"), true},
		{"description differs", NewCondition().WithDescription("/up 1001 U3"), false},
		{"status in set", NewCondition().WithStatuses(StatusInProgress, StatusSubmitted), true},
		{"property equal", NewCondition().WithProperty(PropertyMessageID, "m1"), true},
		{"property differs", NewCondition().WithProperty(PropertyMessageID, "m2"), false},
		{"id set", NewCondition().WithID(task.ID), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cond.Matches(task); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConditionNormalizedPromptMatch(t *testing.T) {
	task := NewTask(ActionImagine)
	task.SetProperty(PropertyFinalPrompt, "A  Cat")
	cond := NewCondition().WithFinalPromptEn("a cat")
	if cond.Matches(task) {
		t.Fatal("prompt matched without a normalizer")
	}
	cond.Normalize = func(s string) string {
		out := make([]rune, 0, len(s))
		for _, r := range s {
			if r == ' ' {
				continue
			}
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out = append(out, r)
		}
		return string(out)
	}
	if !cond.Matches(task) {
		t.Fatal("normalized prompt did not match")
	}
}
