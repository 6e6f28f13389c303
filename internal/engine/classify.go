package engine

import (
	"context"
	"errors"
	"regexp"

	"mjgateway/internal/domain"
)

// failureEmbedColor marks upstream error embeds (red).
const failureEmbedColor = 16711680

// recognized interaction names; anything else falls through to shape
// matching with no action constraint.
var interactionActions = map[string][]domain.TaskAction{
	"imagine":  {domain.ActionImagine},
	"blend":    {domain.ActionBlend},
	"describe": {domain.ActionDescribe},
}

// OnEvent classifies one decoded upstream event and drives the matched
// task's transition. Events are at-least-once with no cross-account
// ordering, so everything here correlates by content alone, never by
// arrival order. Unmatched traffic is expected chat noise: it is
// logged and dropped, never an error.
func (e *Engine) OnEvent(ctx context.Context, ev domain.EventRecord) {
	if !ev.AuthorIsBot {
		return
	}
	if ev.Kind == domain.EventDelete {
		// Deletions carry no lifecycle signal worth correlating.
		return
	}
	if ev.MessageHash == "" && len(ev.Attachments) > 0 {
		ev.MessageHash = hashFromFilename(ev.Attachments[0].Filename)
	}

	// Interaction metadata beats content shape: upstream free text is
	// ambiguous across actions, the interaction name is not.
	allowed := interactionActions[ev.InteractionName]
	if ev.InteractionName == "describe" {
		e.handleDescribe(ctx, ev)
		return
	}
	if allowed != nil && isModalAck(ev) {
		e.handleModalAck(ctx, ev, allowed)
		return
	}
	if ev.InteractionName == "blend" && ev.Kind == domain.EventCreate {
		if p := parseContent(ev.Content, reWaitingStart); p != nil {
			e.handleBlendStart(ctx, ev, p.prompt)
			return
		}
	}

	if e.classifyContent(ctx, ev, allowed) {
		return
	}
	e.logger.Debug().Str("message", ev.MessageID).Msg("event discarded, no pattern matched")
}

// isModalAck detects the empty ephemeral message the platform emits
// when a command opened a modal instead of starting a job.
func isModalAck(ev domain.EventRecord) bool {
	return ev.Kind == domain.EventCreate && ev.Content == "" &&
		len(ev.Embeds) == 0 && len(ev.Attachments) == 0 && ev.Flags&64 != 0
}

// classifyContent walks the per-action pattern rules in priority
// order. The first rule whose pattern parses consumes the event, even
// when no task matches it afterwards; a less specific shape must never
// hijack a more specific one.
func (e *Engine) classifyContent(ctx context.Context, ev domain.EventRecord, allowed []domain.TaskAction) bool {
	if ev.Kind == domain.EventCreate {
		if p := parseContent(ev.Content, reWaitingStart); p != nil {
			e.handleStart(ctx, ev, p.prompt, allowed)
			return true
		}
	}
	if ev.Kind == domain.EventUpdate {
		if prompt, percent, ok := parseProgress(ev.Content); ok {
			e.handleProgress(ctx, ev, prompt, percent, allowed)
			return true
		}
	}
	if ev.Kind == domain.EventCreate && ev.HasImage() {
		if prompt, index, ok := parseUpscaleImage(ev.Content); ok {
			e.finishSuccess(ctx, ev, prompt,
				e.upscaleIndexCondition(prompt, index, allowed))
			return true
		}
		for _, re := range []*regexp.Regexp{reUpscaledMode, reUpscaled} {
			if p := parseContent(ev.Content, re); p != nil {
				e.finishSuccess(ctx, ev, p.prompt,
					intersectCondition(p.prompt, allowed, domain.ActionUpscale))
				return true
			}
		}
		// Reroll completions reuse the variations shapes, so both
		// actions share one candidate set and FIFO decides.
		for _, re := range []*regexp.Regexp{reVariationsMode, reVariations} {
			if p := parseContent(ev.Content, re); p != nil {
				e.finishSuccess(ctx, ev, p.prompt,
					intersectCondition(p.prompt, allowed, domain.ActionVariation, domain.ActionReroll))
				return true
			}
		}
		if p := parseCompletion(ev.Content); p != nil {
			e.finishSuccess(ctx, ev, p.prompt,
				intersectCondition(p.prompt, allowed, domain.ActionImagine, domain.ActionReroll, domain.ActionBlend))
			return true
		}
	}
	if len(ev.Embeds) > 0 && ev.Embeds[0].Color == failureEmbedColor {
		e.handleFailureEmbed(ctx, ev)
		return true
	}
	if ev.Kind == domain.EventCreate && ev.InteractionName == "" && ev.Content == "" {
		if em := firstEmbedWithImage(ev); em != nil {
			e.handleDescribeReroll(ctx, ev, em)
			return true
		}
	}
	return false
}

// handleStart moves a submitted task to IN_PROGRESS on the upstream
// "Waiting to start" acknowledgment and pins the resolved final prompt
// for later matching.
func (e *Engine) handleStart(ctx context.Context, ev domain.EventRecord, prompt string, allowed []domain.TaskAction) {
	cond := intersectCondition(prompt, allowed,
		domain.ActionImagine, domain.ActionUpscale, domain.ActionVariation, domain.ActionReroll, domain.ActionBlend)
	if cond == nil {
		return
	}
	// NOT_START is included to cover the window where the upstream ack
	// outruns the submit path's own SUBMITTED write.
	cond.WithStatuses(domain.StatusNotStart, domain.StatusSubmitted, domain.StatusModal)
	task, err := e.store.FindRunning(ctx, cond)
	if err != nil {
		e.logUnmatched(ev, err)
		return
	}
	snap, ok := e.transition(ctx, task.ID, domain.StatusInProgress, func(t *domain.Task) {
		t.Progress = "0%"
		t.SetProperty(domain.PropertyFinalPrompt, prompt)
		t.SetProperty(domain.PropertyProgressMessageID, ev.MessageID)
	})
	if ok {
		e.notify(ctx, snap)
	}
}

// handleProgress refreshes progress and the preview image; the status
// stays non-terminal.
func (e *Engine) handleProgress(ctx context.Context, ev domain.EventRecord, prompt, percent string, allowed []domain.TaskAction) {
	cond := intersectCondition(prompt, allowed,
		domain.ActionImagine, domain.ActionUpscale, domain.ActionVariation, domain.ActionReroll, domain.ActionBlend)
	if cond == nil {
		return
	}
	task, err := e.store.FindRunning(ctx, cond)
	if err != nil {
		e.logUnmatched(ev, err)
		return
	}
	imageURL := e.rewrite(ev.FirstImageURL())
	snap, ok := e.transition(ctx, task.ID, domain.StatusInProgress, func(t *domain.Task) {
		t.Progress = percent
		if imageURL != "" {
			t.ImageURL = imageURL
		}
		t.SetProperty(domain.PropertyFinalPrompt, prompt)
		t.SetProperty(domain.PropertyProgressMessageID, ev.MessageID)
	})
	if ok {
		e.notify(ctx, snap)
	}
}

// handleDescribe completes a DESCRIBE task. Results carry no prompt to
// match on; the join key is the uploaded filename echoed back in the
// embed image's CDN URL.
func (e *Engine) handleDescribe(ctx context.Context, ev domain.EventRecord) {
	em := firstEmbedWithImage(ev)
	if em == nil {
		e.logger.Debug().Str("message", ev.MessageID).Msg("describe event without image embed discarded")
		return
	}
	cond := domain.NewCondition().
		WithActions(domain.ActionDescribe).
		WithDescription("/describe " + cdnFilename(em.Image.URL))
	task, err := e.store.FindRunning(ctx, cond)
	if err != nil {
		e.logUnmatched(ev, err)
		return
	}
	description := em.Description
	e.finishTask(ctx, task.ID, ev, func(t *domain.Task) {
		t.Prompt = description
		t.PromptEn = description
		t.SetProperty(domain.PropertyFinalPrompt, description)
	})
}

// handleDescribeReroll completes a reroll chained onto a describe
// result. The synthetic "/describe <file> R" description assigned at
// submission is matched against the completed image's CDN basename.
func (e *Engine) handleDescribeReroll(ctx context.Context, ev domain.EventRecord, em *domain.Embed) {
	cond := domain.NewCondition().
		WithActions(domain.ActionReroll).
		WithDescription("/describe " + filenameBase(em.Image.URL) + " R")
	cond.Normalize = normalizeDescribeRef
	task, err := e.store.FindRunning(ctx, cond)
	if err != nil {
		e.logUnmatched(ev, err)
		return
	}
	description := em.Description
	e.finishTask(ctx, task.ID, ev, func(t *domain.Task) {
		t.Prompt = description
		t.PromptEn = description
		t.SetProperty(domain.PropertyFinalPrompt, description)
		t.SetProperty("rollType", "describe")
	})
}

// handleBlendStart binds a blend acknowledgment to the earliest
// outstanding blend task. A blend is submitted without any prompt, so
// prompt matching cannot identify it; the interaction tag plus FIFO
// does, and the subject the upstream invented is pinned as the final
// prompt so progress and completion events correlate like any other
// action's.
func (e *Engine) handleBlendStart(ctx context.Context, ev domain.EventRecord, prompt string) {
	cond := domain.NewCondition().
		WithActions(domain.ActionBlend).
		WithStatuses(domain.StatusNotStart, domain.StatusSubmitted, domain.StatusModal)
	task, err := e.store.FindRunning(ctx, cond)
	if err != nil {
		e.logUnmatched(ev, err)
		return
	}
	snap, ok := e.transition(ctx, task.ID, domain.StatusInProgress, func(t *domain.Task) {
		t.Progress = "0%"
		t.SetProperty(domain.PropertyFinalPrompt, prompt)
		t.SetProperty(domain.PropertyProgressMessageID, ev.MessageID)
	})
	if ok {
		e.notify(ctx, snap)
	}
}

// handleModalAck parks the earliest submitted task of the interaction's
// action in MODAL until upstream confirms it.
func (e *Engine) handleModalAck(ctx context.Context, ev domain.EventRecord, allowed []domain.TaskAction) {
	cond := domain.NewCondition().WithStatuses(domain.StatusSubmitted)
	cond.ActionSet = allowed
	task, err := e.store.FindRunning(ctx, cond)
	if err != nil {
		e.logUnmatched(ev, err)
		return
	}
	snap, ok := e.transition(ctx, task.ID, domain.StatusModal, func(t *domain.Task) {
		t.SetProperty(domain.PropertyProgressMessageID, ev.MessageID)
	})
	if ok {
		e.notify(ctx, snap)
	}
}

// handleFailureEmbed terminates the task an upstream error embed
// refers to, correlating by the echoed command in the footer first and
// the bold subject text second.
func (e *Engine) handleFailureEmbed(ctx context.Context, ev domain.EventRecord) {
	em := ev.Embeds[0]
	reason := em.Title
	if em.Description != "" {
		if reason != "" {
			reason += ": "
		}
		reason += em.Description
	}

	var task *domain.Task
	var err error
	if em.Footer != nil && em.Footer.Text != "" {
		cond := domain.NewCondition().WithDescription(em.Footer.Text)
		cond.Normalize = NormalizePrompt
		task, err = e.store.FindRunning(ctx, cond)
		if errors.Is(err, domain.ErrNotFound) {
			task, err = e.store.FindRunning(ctx, promptCondition(em.Footer.Text))
		}
	}
	if task == nil {
		if bold := embedPrompt(em.Description); bold != "" {
			task, err = e.store.FindRunning(ctx, promptCondition(bold))
		}
	}
	if task == nil {
		e.logUnmatched(ev, err)
		return
	}
	snap, ok := e.transition(ctx, task.ID, domain.StatusFailure, func(t *domain.Task) {
		t.FailReason = reason
		t.SetProperty(domain.PropertyMessageID, ev.MessageID)
	})
	if ok {
		e.afterTerminal(ctx, snap)
	}
}

// finishSuccess resolves the matched running task for a completion
// event and finishes it.
func (e *Engine) finishSuccess(ctx context.Context, ev domain.EventRecord, prompt string, cond *domain.Condition) {
	if cond == nil {
		return
	}
	task, err := e.store.FindRunning(ctx, cond)
	if err != nil {
		e.logUnmatched(ev, err)
		return
	}
	e.finishTask(ctx, task.ID, ev, func(t *domain.Task) {
		t.SetProperty(domain.PropertyFinalPrompt, prompt)
	})
}

// finishTask applies the SUCCESS transition with the completion
// metadata every action shares, then runs the terminal hooks.
func (e *Engine) finishTask(ctx context.Context, taskID string, ev domain.EventRecord, extra func(*domain.Task)) {
	imageURL := e.rewrite(ev.FirstImageURL())
	snap, ok := e.transition(ctx, taskID, domain.StatusSuccess, func(t *domain.Task) {
		t.Progress = "100%"
		if imageURL != "" {
			t.ImageURL = imageURL
		}
		t.SetProperty(domain.PropertyMessageID, ev.MessageID)
		if ev.MessageHash != "" {
			t.SetProperty(domain.PropertyMessageHash, ev.MessageHash)
		}
		t.SetProperty(domain.PropertyFlags, ev.Flags)
		if extra != nil {
			extra(t)
		}
	})
	if ok {
		e.afterTerminal(ctx, snap)
	}
}

// upscaleIndexCondition narrows an "Image #n" completion to the
// upscale task submitted for that grid index.
func (e *Engine) upscaleIndexCondition(prompt string, index int, allowed []domain.TaskAction) *domain.Condition {
	cond := intersectCondition(prompt, allowed, domain.ActionUpscale)
	if cond == nil {
		return nil
	}
	return cond.WithProperty(domain.PropertyChangeIndex, index)
}

func (e *Engine) logUnmatched(ev domain.EventRecord, err error) {
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Error().Err(err).Str("message", ev.MessageID).Msg("task lookup failed")
		return
	}
	e.logger.Debug().Str("message", ev.MessageID).Str("content", ev.Content).Msg("no running task matched event")
}

// intersectCondition builds the normalized prompt predicate over the
// rule's action family, narrowed by the interaction constraint. A nil
// return means the constraint excludes the whole family.
func intersectCondition(prompt string, allowed []domain.TaskAction, base ...domain.TaskAction) *domain.Condition {
	actions := base
	if allowed != nil {
		actions = nil
		for _, b := range base {
			for _, a := range allowed {
				if a == b {
					actions = append(actions, b)
				}
			}
		}
		if len(base) > 0 && len(actions) == 0 {
			return nil
		}
	}
	return promptCondition(prompt, actions...)
}

func firstEmbedWithImage(ev domain.EventRecord) *domain.Embed {
	for i := range ev.Embeds {
		if ev.Embeds[i].Image != nil && ev.Embeds[i].Image.URL != "" {
			return &ev.Embeds[i]
		}
	}
	return nil
}
