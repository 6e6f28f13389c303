package domain

// Submit result codes returned to API callers. The gateway favors
// terminal-state recording over raised errors, so every submission path
// resolves to one of these rather than propagating an exception.
const (
	CodeSuccess         = 1
	CodeNotFound        = 3
	CodeValidationError = 4
	CodeBannedPrompt    = 5
	CodeFailure         = 9
	CodeExisted         = 21
	CodeBusy            = 23
)

// SubmitResult is the envelope every /submit endpoint returns. Result
// carries the task id when one was created or already existed.
type SubmitResult struct {
	Code        int            `json:"code"`
	Description string         `json:"description"`
	Result      string         `json:"result,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// SubmitOK reports an accepted submission carrying the new task id.
func SubmitOK(taskID string) *SubmitResult {
	return &SubmitResult{Code: CodeSuccess, Description: "success", Result: taskID}
}

// SubmitFail reports a rejected submission.
func SubmitFail(code int, description string) *SubmitResult {
	return &SubmitResult{Code: code, Description: description}
}

// SubmitOf builds a result with an explicit code and task id.
func SubmitOf(code int, description, taskID string) *SubmitResult {
	return &SubmitResult{Code: code, Description: description, Result: taskID}
}

// SetProperty attaches out-of-band metadata to the result.
func (r *SubmitResult) SetProperty(key string, value any) *SubmitResult {
	if r.Properties == nil {
		r.Properties = map[string]any{}
	}
	r.Properties[key] = value
	return r
}
