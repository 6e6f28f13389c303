package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const openAIDefaultTimeout = 15 * time.Second

const translateSystemPrompt = "Translate the user's text into English. Reply with the translation only, no commentary. If the text is already English, reply with it unchanged."

// OpenAIOptions configures the OpenAI-backed translator.
type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAITranslator translates prompts through a chat-completion call.
// Any API failure falls back to the untranslated text at the caller.
type OpenAITranslator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAITranslator validates options and builds the translator.
func NewOpenAITranslator(opts OpenAIOptions) (*OpenAITranslator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAITranslator{apiKey: opts.APIKey, model: model, baseURL: baseURL, client: client}, nil
}

// TranslateToEnglish sends the text through the chat endpoint.
func (t *OpenAITranslator) TranslateToEnglish(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	payload := openAIChatRequest{
		Model: t.model,
		Messages: []openAIMessage{
			{Role: "system", Content: translateSystemPrompt},
			{Role: "user", Content: text},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal translation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translation request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translation request: %s", resp.Status)
	}
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("translation response had no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
