// Package notify delivers task change callbacks to caller-supplied
// webhooks. Delivery is fire-and-forget: a failing hook is logged and
// never rolls back task state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"mjgateway/internal/domain"
)

// WebhookNotifier posts the task snapshot to the hook recorded on the
// task, falling back to a process-wide default hook.
type WebhookNotifier struct {
	client      *http.Client
	defaultHook string
	logger      zerolog.Logger
}

// NewWebhookNotifier creates a notifier with the given default hook
// (empty disables the fallback).
func NewWebhookNotifier(defaultHook string, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client:      &http.Client{Timeout: 10 * time.Second},
		defaultHook: defaultHook,
		logger:      logger,
	}
}

// Notify posts the snapshot asynchronously. Tasks without a hook are
// skipped; callers poll or wait instead.
func (n *WebhookNotifier) Notify(_ context.Context, task *domain.Task) {
	hook := task.PropertyString(domain.PropertyNotifyHook)
	if hook == "" {
		hook = n.defaultHook
	}
	if hook == "" {
		return
	}
	go n.post(hook, task)
}

func (n *WebhookNotifier) post(hook string, task *domain.Task) {
	body, err := json.Marshal(task)
	if err != nil {
		n.logger.Error().Err(err).Str("task", task.ID).Msg("marshal notification")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn().Err(err).Str("hook", hook).Msg("build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("task", task.ID).Str("hook", hook).Msg("notify hook unreachable")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		n.logger.Warn().Str("task", task.ID).Str("hook", hook).Str("status", resp.Status).Msg("notify hook rejected")
	}
}
