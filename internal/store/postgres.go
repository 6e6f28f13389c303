package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mjgateway/internal/domain"
)

// PostgresStore is a TaskStore backed by PostgreSQL. Task properties
// are stored as JSONB; condition matching happens in Go against rows
// fetched in submit-time order so every store implementation shares
// one predicate semantics.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL for the tasks table. The migration runner applies
// it at startup; it is exposed for operators who manage DDL themselves.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    action      TEXT NOT NULL,
    status      TEXT NOT NULL,
    prompt      TEXT NOT NULL DEFAULT '',
    prompt_en   TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    state       TEXT NOT NULL DEFAULT '',
    image_url   TEXT NOT NULL DEFAULT '',
    progress    TEXT NOT NULL DEFAULT '',
    fail_reason TEXT NOT NULL DEFAULT '',
    properties  JSONB NOT NULL DEFAULT '{}',
    submit_time BIGINT NOT NULL,
    start_time  BIGINT NOT NULL DEFAULT 0,
    finish_time BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_submit_time ON tasks (submit_time);
`

const taskColumns = `id, action, status, prompt, prompt_en, description, state, image_url, progress, fail_reason, properties, submit_time, start_time, finish_time`

// EnsureSchema creates the tasks table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Create inserts the task, failing with ErrDuplicateTask on collision.
func (s *PostgresStore) Create(ctx context.Context, task *domain.Task) error {
	props, err := json.Marshal(task.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	query := `
INSERT INTO tasks (` + taskColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING;
`
	tag, err := s.pool.Exec(ctx, query,
		task.ID,
		task.Action,
		task.Status,
		task.Prompt,
		task.PromptEn,
		task.Description,
		task.State,
		task.ImageURL,
		task.Progress,
		task.FailReason,
		props,
		task.SubmitTime,
		task.StartTime,
		task.FinishTime,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", task.ID, domain.ErrDuplicateTask)
	}
	return nil
}

// Get fetches a task by its identifier.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1;`
	task, err := scanTask(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return task, nil
}

// FindOne returns the earliest-submitted task matching cond.
func (s *PostgresStore) FindOne(ctx context.Context, cond *domain.Condition) (*domain.Task, error) {
	return s.scan(ctx, cond, false)
}

// FindRunning is FindOne restricted to non-terminal tasks.
func (s *PostgresStore) FindRunning(ctx context.Context, cond *domain.Condition) (*domain.Task, error) {
	return s.scan(ctx, cond, true)
}

func (s *PostgresStore) scan(ctx context.Context, cond *domain.Condition, runningOnly bool) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if runningOnly {
		query += ` WHERE status NOT IN ('SUCCESS', 'FAILURE')`
	}
	query += ` ORDER BY submit_time ASC, id ASC;`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if cond.Matches(task) {
			return task, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return nil, domain.ErrNotFound
}

// Update applies mutate inside a transaction holding a row lock.
func (s *PostgresStore) Update(ctx context.Context, id string, mutate func(*domain.Task)) (*domain.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 FOR UPDATE;`
	task, err := scanTask(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	mutate(task)
	props, err := json.Marshal(task.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	_, err = tx.Exec(ctx, `
UPDATE tasks
SET status = $2,
    prompt = $3,
    prompt_en = $4,
    image_url = $5,
    progress = $6,
    fail_reason = $7,
    properties = $8,
    start_time = $9,
    finish_time = $10
WHERE id = $1;
`,
		task.ID,
		task.Status,
		task.Prompt,
		task.PromptEn,
		task.ImageURL,
		task.Progress,
		task.FailReason,
		props,
		task.StartTime,
		task.FinishTime,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return task, nil
}

// List returns all tasks in submission order.
func (s *PostgresStore) List(ctx context.Context) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY submit_time ASC, id ASC;`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var props []byte
	if err := row.Scan(
		&task.ID,
		&task.Action,
		&task.Status,
		&task.Prompt,
		&task.PromptEn,
		&task.Description,
		&task.State,
		&task.ImageURL,
		&task.Progress,
		&task.FailReason,
		&props,
		&task.SubmitTime,
		&task.StartTime,
		&task.FinishTime,
	); err != nil {
		return nil, err
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &task.Properties); err != nil {
			return nil, fmt.Errorf("decode properties: %w", err)
		}
	}
	return &task, nil
}
