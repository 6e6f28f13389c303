// Package store provides TaskStore implementations: an in-process map
// for single-instance deployments plus Redis and PostgreSQL variants
// sharing the same read/write contract.
package store

import (
	"context"
	"fmt"
	"sync"

	"mjgateway/internal/domain"
)

// MemoryStore is the in-process TaskStore. Tasks are kept in insertion
// order, which is submission order for ids minted at submit time, so
// the FIFO tie-break for ambiguous matches falls out of the scan.
// It never evicts; a TTL sweeper outside the core may prune terminal
// tasks through Delete.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Task
	order []string
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*domain.Task{}}
}

// Create inserts the task, failing with ErrDuplicateTask on collision.
func (s *MemoryStore) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[task.ID]; ok {
		return fmt.Errorf("task %s: %w", task.ID, domain.ErrDuplicateTask)
	}
	s.byID[task.ID] = task.Clone()
	s.order = append(s.order, task.ID)
	return nil
}

// Get returns a snapshot of the task or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t.Clone(), nil
}

// FindOne returns the earliest-submitted task matching cond.
func (s *MemoryStore) FindOne(_ context.Context, cond *domain.Condition) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scan(cond, false)
}

// FindRunning is FindOne restricted to non-terminal tasks.
func (s *MemoryStore) FindRunning(_ context.Context, cond *domain.Condition) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scan(cond, true)
}

func (s *MemoryStore) scan(cond *domain.Condition, runningOnly bool) (*domain.Task, error) {
	for _, id := range s.order {
		t := s.byID[id]
		if runningOnly && t.Status.Terminal() {
			continue
		}
		if cond.Matches(t) {
			return t.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

// Update applies mutate under the store lock and returns the result.
func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*domain.Task)) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	mutate(t)
	return t.Clone(), nil
}

// List returns snapshots of all tasks in submission order.
func (s *MemoryStore) List(_ context.Context) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out, nil
}

// Delete removes a task. Only the external TTL sweeper calls this; the
// core never evicts.
func (s *MemoryStore) Delete(_ context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
