package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"mjgateway/internal/discord"
	"mjgateway/internal/domain"
	"mjgateway/internal/translate"
)

type baseSubmitRequest struct {
	NotifyHook string `json:"notifyHook"`
	State      string `json:"state"`
}

type imagineRequest struct {
	baseSubmitRequest
	Prompt      string   `json:"prompt"`
	Base64Array []string `json:"base64Array"`
}

type changeRequest struct {
	baseSubmitRequest
	TaskID string `json:"taskId"`
	Action string `json:"action"`
	Index  int    `json:"index"`
}

type simpleChangeRequest struct {
	baseSubmitRequest
	Content string `json:"content"`
}

type describeRequest struct {
	baseSubmitRequest
	Base64 string `json:"base64"`
}

type blendRequest struct {
	baseSubmitRequest
	Base64Array []string `json:"base64Array"`
	Dimensions  string   `json:"dimensions"`
}

// SubmitImagine handles POST /submit/imagine.
func (a *App) SubmitImagine(w http.ResponseWriter, r *http.Request) {
	var req imagineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "invalid request body"))
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "prompt can not be empty"))
		return
	}
	images, err := decodeDataURLs(req.Base64Array)
	if err != nil {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, err.Error()))
		return
	}
	promptEn := translate.PromptEnglish(r.Context(), a.Translator, prompt)
	if word, banned := a.Banned.Check(promptEn); banned {
		res := domain.SubmitFail(domain.CodeBannedPrompt, "banned prompt").
			SetProperty("promptEn", promptEn).
			SetProperty("bannedWord", word)
		a.result(w, res)
		return
	}

	task := a.newTask(domain.ActionImagine, req.baseSubmitRequest)
	task.Prompt = prompt
	task.PromptEn = promptEn
	task.Description = "/imagine " + prompt
	task.InputImages = images
	a.submit(w, r, task)
}

var changeActions = map[string]domain.TaskAction{
	"UPSCALE":   domain.ActionUpscale,
	"VARIATION": domain.ActionVariation,
	"REROLL":    domain.ActionReroll,
}

// SubmitChange handles POST /submit/change.
func (a *App) SubmitChange(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "invalid request body"))
		return
	}
	if req.TaskID == "" {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "taskId can not be empty"))
		return
	}
	action, ok := changeActions[strings.ToUpper(req.Action)]
	if !ok {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "action must be UPSCALE, VARIATION or REROLL"))
		return
	}
	if action != domain.ActionReroll && (req.Index < 1 || req.Index > 4) {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "index must be between 1 and 4"))
		return
	}
	a.change(w, r, req.TaskID, action, req.Index, req.baseSubmitRequest)
}

// "1320098173412871 U2", "1320098173412871 R"
var simpleChangePattern = regexp.MustCompile(`^(\S+)\s+(?:([UV])([1-4])|(R))$`)

// SubmitSimpleChange handles POST /submit/simple-change, the compact
// form where the change is spelled inside a single content string.
func (a *App) SubmitSimpleChange(w http.ResponseWriter, r *http.Request) {
	var req simpleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "invalid request body"))
		return
	}
	m := simpleChangePattern.FindStringSubmatch(strings.TrimSpace(req.Content))
	if m == nil {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "content must look like \"<taskId> U1\" or \"<taskId> R\""))
		return
	}
	targetID := m[1]
	action := domain.ActionReroll
	index := 0
	switch m[2] {
	case "U":
		action = domain.ActionUpscale
	case "V":
		action = domain.ActionVariation
	}
	if m[3] != "" {
		index = int(m[3][0] - '0')
	}
	a.change(w, r, targetID, action, index, req.baseSubmitRequest)
}

// SubmitDescribe handles POST /submit/describe.
func (a *App) SubmitDescribe(w http.ResponseWriter, r *http.Request) {
	var req describeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "invalid request body"))
		return
	}
	if req.Base64 == "" {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "base64 can not be empty"))
		return
	}
	img, err := decodeDataURL(req.Base64)
	if err != nil {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, err.Error()))
		return
	}

	task := a.newTask(domain.ActionDescribe, req.baseSubmitRequest)
	// The description records the upload filename; the correlator joins
	// the describe result back to this task through the CDN basename.
	task.Description = "/describe " + task.ID + "." + discord.ExtensionForMime(img.MimeType)
	task.InputImages = []domain.DataURL{img}
	a.submit(w, r, task)
}

// SubmitBlend handles POST /submit/blend.
func (a *App) SubmitBlend(w http.ResponseWriter, r *http.Request) {
	var req blendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "invalid request body"))
		return
	}
	if len(req.Base64Array) < 2 || len(req.Base64Array) > 5 {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "base64Array must hold 2 to 5 images"))
		return
	}
	dimensions := strings.ToUpper(req.Dimensions)
	switch dimensions {
	case "":
		dimensions = "SQUARE"
	case "PORTRAIT", "SQUARE", "LANDSCAPE":
	default:
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "dimensions must be PORTRAIT, SQUARE or LANDSCAPE"))
		return
	}
	images, err := decodeDataURLs(req.Base64Array)
	if err != nil {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, err.Error()))
		return
	}

	task := a.newTask(domain.ActionBlend, req.baseSubmitRequest)
	task.Description = fmt.Sprintf("/blend %s %d", task.ID, len(images))
	task.SetProperty(domain.PropertyDimensions, "--"+strings.ToLower(dimensions))
	task.InputImages = images
	a.submit(w, r, task)
}

// change runs the shared path behind /submit/change and
// /submit/simple-change: resolve the target, reject duplicates, derive
// the child task.
func (a *App) change(w http.ResponseWriter, r *http.Request, targetID string, action domain.TaskAction, index int, base baseSubmitRequest) {
	ctx := r.Context()
	description := "/up " + targetID + " " + changeSuffix(action, index)

	// Upscaling the same image twice yields the identical result
	// upstream, so an existing upscale is reported instead of re-run.
	if action == domain.ActionUpscale {
		existing, err := a.Engine.Store().FindOne(ctx, domain.NewCondition().WithDescription(description))
		if err == nil && existing != nil {
			res := domain.SubmitOf(domain.CodeExisted, "job already executed", existing.ID).
				SetProperty("status", string(existing.Status))
			if existing.ImageURL != "" {
				res.SetProperty("imageUrl", existing.ImageURL)
			}
			a.result(w, res)
			return
		}
	}

	target, err := a.Engine.Store().Get(ctx, targetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.result(w, domain.SubmitFail(domain.CodeNotFound, "target task not found"))
			return
		}
		a.Logger.Error().Err(err).Str("task", targetID).Msg("load change target failed")
		a.result(w, domain.SubmitFail(domain.CodeFailure, "store unavailable"))
		return
	}
	if target.Status != domain.StatusSuccess {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "target task is not finished"))
		return
	}
	if target.PropertyString(domain.PropertyMessageHash) == "" {
		a.result(w, domain.SubmitFail(domain.CodeValidationError, "target task has no result message"))
		return
	}

	task := a.newTask(action, base)
	task.Prompt = target.Prompt
	task.PromptEn = target.PromptEn
	task.Description = description
	if action == domain.ActionReroll && target.Action == domain.ActionDescribe {
		// A reroll of a describe completes as a fresh describe result;
		// the inherited description is what the correlator matches the
		// CDN basename against.
		task.Description = target.Description + " R"
	}
	task.SetProperty(domain.PropertyFinalPrompt, target.FinalPrompt())
	task.SetProperty(domain.PropertyMessageID, target.PropertyString(domain.PropertyMessageID))
	task.SetProperty(domain.PropertyMessageHash, target.PropertyString(domain.PropertyMessageHash))
	task.SetProperty(domain.PropertyFlags, target.Property(domain.PropertyFlags))
	if index > 0 {
		task.SetProperty(domain.PropertyChangeIndex, index)
	}
	// Pin the child to the account that holds the target's message.
	if instance := target.PropertyString(domain.PropertyInstanceID); instance != "" {
		task.SetProperty(domain.PropertyInstanceID, instance)
	}
	a.submit(w, r, task)
}

func changeSuffix(action domain.TaskAction, index int) string {
	switch action {
	case domain.ActionUpscale:
		return fmt.Sprintf("U%d", index)
	case domain.ActionVariation:
		return fmt.Sprintf("V%d", index)
	default:
		return "R"
	}
}

// newTask builds a task carrying the request's shared fields.
func (a *App) newTask(action domain.TaskAction, base baseSubmitRequest) *domain.Task {
	task := domain.NewTask(action)
	task.State = base.State
	task.SetProperty(domain.PropertyNonce, uuid.NewString())
	hook := base.NotifyHook
	if hook == "" {
		hook = a.NotifyHook
	}
	if hook != "" {
		task.SetProperty(domain.PropertyNotifyHook, hook)
	}
	return task
}

// submit hands the task to the engine and writes the envelope. With
// ?wait=true the response is delayed until the task turns terminal or
// the wait budget runs out, and carries the final state as properties.
func (a *App) submit(w http.ResponseWriter, r *http.Request, task *domain.Task) {
	res := a.Engine.Submit(r.Context(), task)
	if res.Code == domain.CodeSuccess && wantsWait(r) {
		snap, err := a.Engine.WaitUntilTerminal(r.Context(), task.ID, a.WaitTimeout)
		if err != nil {
			a.Logger.Warn().Err(err).Str("task", task.ID).Msg("wait after submit failed")
		} else {
			res.SetProperty("status", string(snap.Status))
			if snap.ImageURL != "" {
				res.SetProperty("imageUrl", snap.ImageURL)
			}
			if snap.FailReason != "" {
				res.SetProperty("failReason", snap.FailReason)
			}
		}
	}
	a.result(w, res)
}

func wantsWait(r *http.Request) bool {
	v := r.URL.Query().Get("wait")
	return v == "true" || v == "1"
}

func decodeDataURLs(values []string) ([]domain.DataURL, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]domain.DataURL, 0, len(values))
	for i, v := range values {
		img, err := decodeDataURL(v)
		if err != nil {
			return nil, fmt.Errorf("base64Array[%d]: %w", i, err)
		}
		out = append(out, img)
	}
	return out, nil
}

// decodeDataURL parses a "data:<mime>;base64,<payload>" image. A bare
// base64 string is accepted and treated as PNG.
func decodeDataURL(value string) (domain.DataURL, error) {
	mimeType := "image/png"
	payload := value
	if strings.HasPrefix(value, "data:") {
		comma := strings.Index(value, ",")
		if comma < 0 {
			return domain.DataURL{}, errors.New("malformed data url")
		}
		meta := value[len("data:"):comma]
		payload = value[comma+1:]
		if !strings.HasSuffix(meta, ";base64") {
			return domain.DataURL{}, errors.New("data url must be base64 encoded")
		}
		if mt := strings.TrimSuffix(meta, ";base64"); mt != "" {
			mimeType = mt
		}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return domain.DataURL{}, errors.New("invalid base64 image")
	}
	if len(data) == 0 {
		return domain.DataURL{}, errors.New("empty image")
	}
	return domain.DataURL{MimeType: mimeType, Data: data}, nil
}
