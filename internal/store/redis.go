package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mjgateway/internal/domain"
)

const redisKeyPrefix = "mj-task-store"

// RedisStore is a TaskStore backed by Redis, for deployments that want
// tasks to survive a gateway restart. Each task lives under its own
// key with a TTL; a sorted set indexed by submit time preserves the
// FIFO scan order the correlator depends on. Writes are serialized by
// a process-local mutex: one gateway process owns the store.
type RedisStore struct {
	mu  sync.Mutex
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed store. Tasks expire after ttl
// (zero means no expiry).
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisTaskKey(id string) string { return redisKeyPrefix + "::" + id }

func redisIndexKey() string { return redisKeyPrefix + "::ids" }

// Create inserts the task, failing with ErrDuplicateTask on collision.
func (s *RedisStore) Create(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, redisTaskKey(task.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	if !ok {
		return fmt.Errorf("task %s: %w", task.ID, domain.ErrDuplicateTask)
	}
	return s.rdb.ZAdd(ctx, redisIndexKey(), redis.Z{
		Score:  float64(task.SubmitTime),
		Member: task.ID,
	}).Err()
}

// Get returns the task or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	payload, err := s.rdb.Get(ctx, redisTaskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	var task domain.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// FindOne returns the earliest-submitted task matching cond.
func (s *RedisStore) FindOne(ctx context.Context, cond *domain.Condition) (*domain.Task, error) {
	return s.scan(ctx, cond, false)
}

// FindRunning is FindOne restricted to non-terminal tasks.
func (s *RedisStore) FindRunning(ctx context.Context, cond *domain.Condition) (*domain.Task, error) {
	return s.scan(ctx, cond, true)
}

func (s *RedisStore) scan(ctx context.Context, cond *domain.Condition, runningOnly bool) (*domain.Task, error) {
	ids, err := s.rdb.ZRange(ctx, redisIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	for _, id := range ids {
		task, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// Expired entry still referenced by the index.
			continue
		}
		if err != nil {
			return nil, err
		}
		if runningOnly && task.Status.Terminal() {
			continue
		}
		if cond.Matches(task) {
			return task, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Update applies mutate under the store mutex and writes the task back
// with its TTL refreshed.
func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*domain.Task)) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(task)
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	if err := s.rdb.Set(ctx, redisTaskKey(id), payload, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store task: %w", err)
	}
	return task, nil
}

// List returns all tasks in submission order.
func (s *RedisStore) List(ctx context.Context) ([]*domain.Task, error) {
	ids, err := s.rdb.ZRange(ctx, redisIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	out := make([]*domain.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

// Delete removes a task and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rdb.Del(ctx, redisTaskKey(id))
	s.rdb.ZRem(ctx, redisIndexKey(), id)
}
