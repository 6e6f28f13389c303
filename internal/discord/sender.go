package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"mjgateway/internal/domain"
)

// Published identifiers of the upstream bot's application commands.
// These are stable platform constants, not deployment configuration.
const (
	mjApplicationID    = "936929561302675456"
	imagineCommandID   = "938956540159881230"
	describeCommandID  = "1092492867185950852"
	blendCommandID     = "1062880104792997970"
	commandVersionImg  = "1166847114203123795"
	commandVersionDesc = "1166847114203123796"
	commandVersionBlnd = "1166847114203123797"
)

const defaultAPIBase = "https://discord.com/api/v9"

// Sender emits exactly one outbound interaction per dispatched task
// using the credentials of the account the dispatcher picked. The
// platform's acknowledgment means accepted-for-delivery only; job
// completion arrives later on the event stream.
type Sender struct {
	apiBase string
	client  *http.Client
	logger  zerolog.Logger
}

// NewSender creates a sender against the given API base (empty means
// the platform default).
func NewSender(apiBase string, logger zerolog.Logger) *Sender {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Sender{
		apiBase: apiBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Send renders the task into its interaction payload and posts it on
// the account's session.
func (s *Sender) Send(ctx context.Context, account domain.Account, task *domain.Task) error {
	payload, err := s.buildPayload(ctx, account, task)
	if err != nil {
		return err
	}
	return s.postInteraction(ctx, account, payload)
}

func (s *Sender) buildPayload(ctx context.Context, account domain.Account, task *domain.Task) (map[string]any, error) {
	switch task.Action {
	case domain.ActionImagine:
		prompt := task.PromptEn
		if len(task.InputImages) > 0 {
			urls, err := s.uploadAll(ctx, account, task.ID, task.InputImages)
			if err != nil {
				return nil, err
			}
			for i := len(urls) - 1; i >= 0; i-- {
				prompt = urls[i] + " " + prompt
			}
		}
		return s.commandPayload(account, task, imagineCommandID, "imagine", commandVersionImg, []map[string]any{
			{"type": 3, "name": "prompt", "value": prompt},
		}, nil), nil

	case domain.ActionUpscale:
		return s.componentPayload(account, task, fmt.Sprintf("MJ::JOB::upsample::%d::%s",
			task.PropertyInt(domain.PropertyChangeIndex), task.PropertyString(domain.PropertyMessageHash))), nil

	case domain.ActionVariation:
		return s.componentPayload(account, task, fmt.Sprintf("MJ::JOB::variation::%d::%s",
			task.PropertyInt(domain.PropertyChangeIndex), task.PropertyString(domain.PropertyMessageHash))), nil

	case domain.ActionReroll:
		return s.componentPayload(account, task, fmt.Sprintf("MJ::JOB::reroll::0::%s::SOLO",
			task.PropertyString(domain.PropertyMessageHash))), nil

	case domain.ActionDescribe:
		if len(task.InputImages) != 1 {
			return nil, fmt.Errorf("describe requires exactly one image")
		}
		uploaded, err := s.upload(ctx, account, uploadName(task.ID, 0, task.InputImages[0]), task.InputImages[0])
		if err != nil {
			return nil, err
		}
		return s.commandPayload(account, task, describeCommandID, "describe", commandVersionDesc, []map[string]any{
			{"type": 11, "name": "image", "value": 0},
		}, []map[string]any{
			{"id": "0", "filename": uploaded.filename, "uploaded_filename": uploaded.uploadedFilename},
		}), nil

	case domain.ActionBlend:
		options := make([]map[string]any, 0, len(task.InputImages)+1)
		attachments := make([]map[string]any, 0, len(task.InputImages))
		for i, img := range task.InputImages {
			uploaded, err := s.upload(ctx, account, uploadName(task.ID, i, img), img)
			if err != nil {
				return nil, err
			}
			options = append(options, map[string]any{
				"type": 11, "name": fmt.Sprintf("image%d", i+1), "value": i,
			})
			attachments = append(attachments, map[string]any{
				"id": fmt.Sprint(i), "filename": uploaded.filename, "uploaded_filename": uploaded.uploadedFilename,
			})
		}
		if dims := task.PropertyString(domain.PropertyDimensions); dims != "" {
			options = append(options, map[string]any{"type": 3, "name": "dimensions", "value": dims})
		}
		return s.commandPayload(account, task, blendCommandID, "blend", commandVersionBlnd, options, attachments), nil
	}
	return nil, fmt.Errorf("unsupported action %s", task.Action)
}

func (s *Sender) commandPayload(account domain.Account, task *domain.Task, commandID, name, version string, options, attachments []map[string]any) map[string]any {
	data := map[string]any{
		"version": version,
		"id":      commandID,
		"name":    name,
		"type":    1,
		"options": options,
	}
	if attachments != nil {
		data["attachments"] = attachments
	}
	return map[string]any{
		"type":           2,
		"application_id": mjApplicationID,
		"guild_id":       account.GuildID,
		"channel_id":     account.ChannelID,
		"session_id":     account.SessionID,
		"nonce":          task.PropertyString(domain.PropertyNonce),
		"data":           data,
	}
}

func (s *Sender) componentPayload(account domain.Account, task *domain.Task, customID string) map[string]any {
	return map[string]any{
		"type":           3,
		"application_id": mjApplicationID,
		"guild_id":       account.GuildID,
		"channel_id":     account.ChannelID,
		"session_id":     account.SessionID,
		"message_flags":  task.PropertyInt(domain.PropertyFlags),
		"message_id":     task.PropertyString(domain.PropertyMessageID),
		"nonce":          task.PropertyString(domain.PropertyNonce),
		"data": map[string]any{
			"component_type": 2,
			"custom_id":      customID,
		},
	}
}

func (s *Sender) postInteraction(ctx context.Context, account domain.Account, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/interactions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.authorize(req, account)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post interaction: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("interaction rejected: %s: %s", resp.Status, detail)
	}
	return nil
}

type uploadedFile struct {
	filename         string
	uploadedFilename string
}

func (s *Sender) uploadAll(ctx context.Context, account domain.Account, taskID string, images []domain.DataURL) ([]string, error) {
	urls := make([]string, 0, len(images))
	for i, img := range images {
		uploaded, err := s.upload(ctx, account, uploadName(taskID, i, img), img)
		if err != nil {
			return nil, err
		}
		msgURL, err := s.sendAttachmentMessage(ctx, account, uploaded)
		if err != nil {
			return nil, err
		}
		urls = append(urls, msgURL)
	}
	return urls, nil
}

// upload reserves an attachment slot on the account's channel and PUTs
// the bytes to the signed URL the platform hands back.
func (s *Sender) upload(ctx context.Context, account domain.Account, filename string, img domain.DataURL) (*uploadedFile, error) {
	reserve := map[string]any{
		"files": []map[string]any{{"filename": filename, "file_size": len(img.Data), "id": "0"}},
	}
	body, _ := json.Marshal(reserve)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/channels/%s/attachments", s.apiBase, account.ChannelID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	s.authorize(req, account)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reserve attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("reserve attachment: %s", resp.Status)
	}
	var out struct {
		Attachments []struct {
			UploadURL      string `json:"upload_url"`
			UploadFilename string `json:"upload_filename"`
		} `json:"attachments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode attachment slot: %w", err)
	}
	if len(out.Attachments) == 0 {
		return nil, fmt.Errorf("no attachment slot returned")
	}
	put, err := http.NewRequestWithContext(ctx, http.MethodPut, out.Attachments[0].UploadURL, bytes.NewReader(img.Data))
	if err != nil {
		return nil, err
	}
	put.Header.Set("Content-Type", img.MimeType)
	putResp, err := s.client.Do(put)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload attachment: %s", putResp.Status)
	}
	return &uploadedFile{filename: filename, uploadedFilename: out.Attachments[0].UploadFilename}, nil
}

// sendAttachmentMessage posts the uploaded file as a plain message so
// its CDN URL can be referenced from an image prompt.
func (s *Sender) sendAttachmentMessage(ctx context.Context, account domain.Account, uploaded *uploadedFile) (string, error) {
	payload := map[string]any{
		"content": "",
		"attachments": []map[string]any{
			{"id": "0", "filename": uploaded.filename, "uploaded_filename": uploaded.uploadedFilename},
		},
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/channels/%s/messages", s.apiBase, account.ChannelID), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	s.authorize(req, account)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send attachment message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("send attachment message: %s", resp.Status)
	}
	var out struct {
		Attachments []struct {
			URL string `json:"url"`
		} `json:"attachments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode attachment message: %w", err)
	}
	if len(out.Attachments) == 0 {
		return "", fmt.Errorf("attachment message returned no attachments")
	}
	return out.Attachments[0].URL, nil
}

func (s *Sender) authorize(req *http.Request, account domain.Account) {
	req.Header.Set("Authorization", account.UserToken)
	if account.UserAgent != "" {
		req.Header.Set("User-Agent", account.UserAgent)
	}
}

func uploadName(taskID string, index int, img domain.DataURL) string {
	ext := ExtensionForMime(img.MimeType)
	if index == 0 {
		return taskID + "." + ext
	}
	return fmt.Sprintf("%s-%d.%s", taskID, index, ext)
}

// ExtensionForMime guesses the file suffix for an uploaded image. The
// describe flow embeds it in the task description, so the sender and
// the submit handler must agree on it.
func ExtensionForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
