package domain

import (
	"fmt"
	"math/rand"
	"time"
)

// TaskAction enumerates the supported command families.
type TaskAction string

const (
	ActionImagine   TaskAction = "IMAGINE"
	ActionUpscale   TaskAction = "UPSCALE"
	ActionVariation TaskAction = "VARIATION"
	ActionReroll    TaskAction = "REROLL"
	ActionDescribe  TaskAction = "DESCRIBE"
	ActionBlend     TaskAction = "BLEND"
)

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	StatusNotStart   TaskStatus = "NOT_START"
	StatusSubmitted  TaskStatus = "SUBMITTED"
	StatusModal      TaskStatus = "MODAL"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusFailure    TaskStatus = "FAILURE"
	StatusSuccess    TaskStatus = "SUCCESS"
)

// statusRank orders lifecycle states so regressions can be rejected.
// Either MODAL or IN_PROGRESS may follow SUBMITTED; a modal task that
// gets confirmed still advances to IN_PROGRESS, never the reverse.
var statusRank = map[TaskStatus]int{
	StatusNotStart:   0,
	StatusSubmitted:  1,
	StatusModal:      2,
	StatusInProgress: 3,
	StatusFailure:    4,
	StatusSuccess:    4,
}

// Terminal reports whether s permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// CanTransition reports whether moving from s to next keeps the
// lifecycle moving forward. Terminal states accept nothing.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// Task property keys shared between the dispatcher and the correlator.
const (
	PropertyFinalPrompt       = "finalPrompt"
	PropertyMessageID         = "messageId"
	PropertyProgressMessageID = "progressMessageId"
	PropertyMessageHash       = "messageHash"
	PropertyFlags             = "flags"
	PropertyNonce             = "nonce"
	PropertyNotifyHook        = "notifyHook"
	PropertyInstanceID        = "discordInstanceId"
	PropertyChangeIndex       = "changeIndex"
	PropertyDimensions        = "dimensions"
)

// Task is one submitted image-generation job and its lifecycle state.
// Status, progress and properties are only ever written through the
// store's Update so readers observe consistent snapshots.
type Task struct {
	ID          string         `json:"id"`
	Action      TaskAction     `json:"action"`
	Status      TaskStatus     `json:"status"`
	Prompt      string         `json:"prompt"`
	PromptEn    string         `json:"promptEn"`
	Description string         `json:"description"`
	State       string         `json:"state,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	Progress    string         `json:"progress,omitempty"`
	FailReason  string         `json:"failReason,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	SubmitTime  int64          `json:"submitTime"`
	StartTime   int64          `json:"startTime,omitempty"`
	FinishTime  int64          `json:"finishTime,omitempty"`

	// InputImages carries decoded attachments from submission to
	// dispatch within one process; it is never serialized.
	InputImages []DataURL `json:"-"`
}

// NewTask creates a task in NOT_START with a fresh id and submit time.
func NewTask(action TaskAction) *Task {
	return &Task{
		ID:         NewTaskID(),
		Action:     action,
		Status:     StatusNotStart,
		Properties: map[string]any{},
		SubmitTime: time.Now().UnixMilli(),
	}
}

// NewTaskID returns a unix-millisecond prefix plus a random suffix.
// Uniqueness and rough submission ordering are all callers rely on.
func NewTaskID() string {
	return fmt.Sprintf("%d%03d", time.Now().UnixMilli(), rand.Intn(1000))
}

// SetProperty records correlation metadata on the task.
func (t *Task) SetProperty(key string, value any) *Task {
	if t.Properties == nil {
		t.Properties = map[string]any{}
	}
	t.Properties[key] = value
	return t
}

// Property returns the raw property value, or nil.
func (t *Task) Property(key string) any {
	if t.Properties == nil {
		return nil
	}
	return t.Properties[key]
}

// PropertyString returns the property as a string, or "".
func (t *Task) PropertyString(key string) string {
	if v, ok := t.Property(key).(string); ok {
		return v
	}
	return ""
}

// PropertyInt returns the property as an int, or 0. JSON round-trips
// store numbers as float64, so both forms are accepted.
func (t *Task) PropertyInt(key string) int {
	switch v := t.Property(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// FinalPrompt returns the resolved prompt the correlator matches on,
// falling back to the translated prompt before the first event lands.
func (t *Task) FinalPrompt() string {
	if v := t.PropertyString(PropertyFinalPrompt); v != "" {
		return v
	}
	return t.PromptEn
}

// Clone returns a deep copy safe to hand outside the store's lock.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Properties != nil {
		cp.Properties = make(map[string]any, len(t.Properties))
		for k, v := range t.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

// Fail marks the task FAILURE with the given reason and stamps the
// finish time. It does not bypass transition checks; callers go
// through the store.
func (t *Task) Fail(reason string) {
	t.Status = StatusFailure
	t.FailReason = reason
	t.FinishTime = time.Now().UnixMilli()
}

// Succeed marks the task SUCCESS and stamps the finish time.
func (t *Task) Succeed() {
	t.Status = StatusSuccess
	t.FinishTime = time.Now().UnixMilli()
}
