package domain

import "fmt"

// Condition is a predicate over task fields and properties, built per
// lookup. The dispatcher uses it for duplicate-submission detection and
// the correlator for event-to-task matching; it is never persisted.
type Condition struct {
	IDs           []string
	ActionSet     []TaskAction
	StatusSet     []TaskStatus
	Description   string
	FinalPromptEn string
	PropertyKey   string
	PropertyValue any

	// Normalize, when set, is applied to both sides of the description
	// and final-prompt comparisons so free-text matching can ignore
	// case and whitespace differences.
	Normalize func(string) string
}

// NewCondition returns an empty condition matching every task.
func NewCondition() *Condition { return &Condition{} }

func (c *Condition) WithID(ids ...string) *Condition {
	c.IDs = append(c.IDs, ids...)
	return c
}

func (c *Condition) WithActions(actions ...TaskAction) *Condition {
	c.ActionSet = append(c.ActionSet, actions...)
	return c
}

func (c *Condition) WithStatuses(statuses ...TaskStatus) *Condition {
	c.StatusSet = append(c.StatusSet, statuses...)
	return c
}

func (c *Condition) WithDescription(description string) *Condition {
	c.Description = description
	return c
}

func (c *Condition) WithFinalPromptEn(prompt string) *Condition {
	c.FinalPromptEn = prompt
	return c
}

func (c *Condition) WithProperty(key string, value any) *Condition {
	c.PropertyKey = key
	c.PropertyValue = value
	return c
}

// Matches reports whether the task satisfies every clause set on the
// condition. Unset clauses match everything.
func (c *Condition) Matches(t *Task) bool {
	if t == nil {
		return false
	}
	if len(c.IDs) > 0 && !containsString(c.IDs, t.ID) {
		return false
	}
	if len(c.ActionSet) > 0 && !containsAction(c.ActionSet, t.Action) {
		return false
	}
	if len(c.StatusSet) > 0 && !containsStatus(c.StatusSet, t.Status) {
		return false
	}
	if c.Description != "" && !c.equalText(c.Description, t.Description) {
		return false
	}
	if c.FinalPromptEn != "" && !c.equalText(c.FinalPromptEn, t.FinalPrompt()) {
		return false
	}
	// Compare property values by their printed form: numbers round-trip
	// through JSON stores as float64.
	if c.PropertyKey != "" && fmt.Sprint(t.Property(c.PropertyKey)) != fmt.Sprint(c.PropertyValue) {
		return false
	}
	return true
}

func (c *Condition) equalText(want, got string) bool {
	if c.Normalize != nil {
		return c.Normalize(want) == c.Normalize(got)
	}
	return want == got
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsAction(set []TaskAction, v TaskAction) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsStatus(set []TaskStatus, v TaskStatus) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
