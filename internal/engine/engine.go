// Package engine is the concurrency core of the gateway: the task
// lifecycle state machine, the account-pool dispatch path, and the
// event correlator that joins the upstream free-text stream back to
// outstanding tasks.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mjgateway/internal/domain"
	"mjgateway/internal/pool"
)

// Sender is the command-emitter boundary: it renders a task into the
// one outbound command for the chosen account and returns once the
// transport accepts it for delivery (not on completion).
type Sender interface {
	Send(ctx context.Context, account domain.Account, task *domain.Task) error
}

// Notifier is the fire-and-forget fan-out called on every status
// change. Failures in it never roll back task state.
type Notifier interface {
	Notify(ctx context.Context, task *domain.Task)
}

// URLRewriter maps an upstream CDN URL onto its public mirror. It is
// pure; implementations fall back to the raw URL on any parse error.
type URLRewriter interface {
	Rewrite(rawURL string) string
}

// Options configures an Engine.
type Options struct {
	Store    domain.TaskStore
	Pool     *pool.AccountPool
	Sender   Sender
	Notifier Notifier
	Rewriter URLRewriter
	Logger   zerolog.Logger

	// DispatchTimeout bounds how long a submitted task may sit without
	// any upstream acknowledgment before the gateway fails it locally
	// and frees its slot. Zero disables the watchdog.
	DispatchTimeout time.Duration
}

// Engine wires the store, the dispatcher and the correlator together.
type Engine struct {
	store           domain.TaskStore
	pool            *pool.AccountPool
	sender          Sender
	notifier        Notifier
	rewriter        URLRewriter
	waiter          *Waiter
	logger          zerolog.Logger
	dispatchTimeout time.Duration
}

// New creates an engine from its collaborators.
func New(opts Options) *Engine {
	return &Engine{
		store:           opts.Store,
		pool:            opts.Pool,
		sender:          opts.Sender,
		notifier:        opts.Notifier,
		rewriter:        opts.Rewriter,
		waiter:          NewWaiter(),
		logger:          opts.Logger,
		dispatchTimeout: opts.DispatchTimeout,
	}
}

// Store exposes the task store for read-only API handlers.
func (e *Engine) Store() domain.TaskStore { return e.store }

// Pool exposes the account pool for the status endpoint.
func (e *Engine) Pool() *pool.AccountPool { return e.pool }

// Submit runs the submission path: store the task, admit it onto an
// account, emit its command. Every outcome is recorded on the task
// itself; the returned result is what the API hands back to callers.
func (e *Engine) Submit(ctx context.Context, task *domain.Task) *domain.SubmitResult {
	if err := e.store.Create(ctx, task); err != nil {
		if errors.Is(err, domain.ErrDuplicateTask) {
			return domain.SubmitFail(domain.CodeFailure, "task id collision")
		}
		e.logger.Error().Err(err).Str("task", task.ID).Msg("store create failed")
		return domain.SubmitFail(domain.CodeFailure, "store unavailable")
	}

	account, err := e.pool.Admit(task)
	if err != nil {
		reason := "no account capacity"
		if errors.Is(err, domain.ErrNoAccount) {
			reason = "no account available"
		}
		e.failTask(ctx, task.ID, reason)
		return domain.SubmitOf(domain.CodeBusy, reason, task.ID)
	}
	// Record the dispatch account before any event can race us.
	if _, err := e.store.Update(ctx, task.ID, func(t *domain.Task) {
		t.SetProperty(domain.PropertyInstanceID, account.InstanceID)
	}); err != nil {
		e.logger.Error().Err(err).Str("task", task.ID).Msg("record dispatch account failed")
	}

	if err := e.sender.Send(ctx, account, task); err != nil {
		e.logger.Warn().Err(err).Str("task", task.ID).Msg("dispatch failed")
		e.failTask(ctx, task.ID, "dispatch failed")
		return domain.SubmitOf(domain.CodeFailure, "dispatch failed", task.ID)
	}

	snap, ok := e.transition(ctx, task.ID, domain.StatusSubmitted, nil)
	if ok {
		e.notify(ctx, snap)
	}
	e.scheduleDispatchTimeout(task.ID)
	return domain.SubmitOK(task.ID)
}

// WaitUntilTerminal suspends the caller until the task turns terminal
// or the timeout elapses, returning the latest snapshot either way.
func (e *Engine) WaitUntilTerminal(ctx context.Context, taskID string, timeout time.Duration) (*domain.Task, error) {
	return e.waiter.WaitUntilTerminal(ctx, e.store, taskID, timeout)
}

// scheduleDispatchTimeout fails a task that upstream never
// acknowledged. The decision is unilateral and local; no cancellation
// message exists on the platform.
func (e *Engine) scheduleDispatchTimeout(taskID string) {
	if e.dispatchTimeout <= 0 {
		return
	}
	time.AfterFunc(e.dispatchTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := e.store.Get(ctx, taskID)
		if err != nil || snap.Status != domain.StatusSubmitted {
			return
		}
		e.logger.Warn().Str("task", taskID).Msg("no upstream acknowledgment, failing locally")
		e.failTask(ctx, taskID, "dispatch timeout")
	})
}

// transition advances the task status, applying extra mutations under
// the same store section. Regressions are rejected; same-status writes
// (progress refreshes) pass through. The bool reports whether the
// write happened.
func (e *Engine) transition(ctx context.Context, taskID string, next domain.TaskStatus, extra func(*domain.Task)) (*domain.Task, bool) {
	applied := false
	snap, err := e.store.Update(ctx, taskID, func(t *domain.Task) {
		if t.Status.Terminal() {
			return
		}
		if t.Status != next && !t.Status.CanTransition(next) {
			return
		}
		applied = true
		if t.Status != next {
			t.Status = next
			switch next {
			case domain.StatusInProgress:
				if t.StartTime == 0 {
					t.StartTime = time.Now().UnixMilli()
				}
			case domain.StatusSuccess, domain.StatusFailure:
				t.FinishTime = time.Now().UnixMilli()
			}
		}
		if extra != nil {
			extra(t)
		}
	})
	if err != nil {
		e.logger.Error().Err(err).Str("task", taskID).Msg("task update failed")
		return nil, false
	}
	if !applied {
		e.logger.Debug().Str("task", taskID).Str("status", string(snap.Status)).Str("next", string(next)).Msg("transition rejected")
		return snap, false
	}
	return snap, true
}

// failTask records a terminal failure and runs the terminal hooks.
func (e *Engine) failTask(ctx context.Context, taskID, reason string) {
	snap, ok := e.transition(ctx, taskID, domain.StatusFailure, func(t *domain.Task) {
		t.FailReason = reason
	})
	if ok {
		e.afterTerminal(ctx, snap)
	}
}

// afterTerminal frees the account slot, fans out the notification and
// wakes any blocked submitters. Only terminal transitions reach here.
func (e *Engine) afterTerminal(ctx context.Context, task *domain.Task) {
	e.pool.Release(task)
	e.notify(ctx, task)
	e.waiter.Wake(task.ID)
}

func (e *Engine) notify(ctx context.Context, task *domain.Task) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, task)
}

func (e *Engine) rewrite(rawURL string) string {
	if rawURL == "" || e.rewriter == nil {
		return rawURL
	}
	return e.rewriter.Rewrite(rawURL)
}
