package domain

import "context"

// TaskStore is the concurrent task index. FindOne and FindRunning scan
// in submission order (earliest submit time first) so ambiguous
// free-text matches resolve to the oldest outstanding task. All status
// and property writes funnel through Update so readers never observe a
// partially-written task.
type TaskStore interface {
	// Create inserts the task, failing with ErrDuplicateTask on an id
	// collision.
	Create(ctx context.Context, task *Task) error

	// Get returns a snapshot of the task or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// FindOne returns a snapshot of the earliest-submitted task
	// matching the condition, or ErrNotFound.
	FindOne(ctx context.Context, cond *Condition) (*Task, error)

	// FindRunning is FindOne restricted to non-terminal tasks; a
	// finished task's description may coincidentally match new text.
	FindRunning(ctx context.Context, cond *Condition) (*Task, error)

	// Update applies mutate to the stored task under the store's
	// synchronization and returns the resulting snapshot.
	Update(ctx context.Context, id string, mutate func(*Task)) (*Task, error)

	// List returns snapshots of all tasks in submission order.
	List(ctx context.Context) ([]*Task, error)
}
