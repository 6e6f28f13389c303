package engine

import (
	"context"
	"sync"
	"time"

	"mjgateway/internal/domain"
)

// Waiter lets a submitting call block until its task turns terminal.
// Wake-up is a broadcast per task id implemented as a closed channel,
// so zero, one or many waiters all observe it; waiters re-check the
// store on every wake, which makes spurious wakeups harmless.
type Waiter struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

// NewWaiter creates an empty waiter registry.
func NewWaiter() *Waiter {
	return &Waiter{chans: map[string]chan struct{}{}}
}

func (w *Waiter) channel(taskID string) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.chans[taskID]
	if !ok {
		ch = make(chan struct{})
		w.chans[taskID] = ch
	}
	return ch
}

// Wake broadcasts to every waiter currently parked on the task id.
// Waking a task nobody waits on is a no-op.
func (w *Waiter) Wake(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.chans[taskID]; ok {
		close(ch)
		delete(w.chans, taskID)
	}
}

// WaitUntilTerminal blocks until the task reaches SUCCESS or FAILURE,
// the timeout elapses, or ctx is canceled. It always returns the
// latest snapshot it saw; a timeout is a valid "still pending" result,
// not an error.
func (w *Waiter) WaitUntilTerminal(ctx context.Context, store domain.TaskStore, taskID string, timeout time.Duration) (*domain.Task, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		// Park before reading so a wake between the read and the
		// select cannot be missed.
		ch := w.channel(taskID)
		snap, err := store.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if snap.Status.Terminal() {
			return snap, nil
		}
		select {
		case <-ch:
		case <-deadline.C:
			return snap, nil
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}
