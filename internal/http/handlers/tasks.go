package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mjgateway/internal/domain"
)

// TaskFetch handles GET /task/{id}/fetch.
func (a *App) TaskFetch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := a.Engine.Store().Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "task not found")
			return
		}
		a.Logger.Error().Err(err).Str("task", id).Msg("fetch task failed")
		a.error(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	a.json(w, http.StatusOK, task)
}

// TaskWait handles GET /task/{id}/wait: it blocks until the task turns
// terminal or the wait budget elapses and returns the latest snapshot
// either way. Callers inspect status to tell the two apart.
func (a *App) TaskWait(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := a.Engine.WaitUntilTerminal(r.Context(), id, a.WaitTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "task not found")
			return
		}
		a.Logger.Error().Err(err).Str("task", id).Msg("wait task failed")
		a.error(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	a.json(w, http.StatusOK, task)
}

// TaskList handles GET /task/list.
func (a *App) TaskList(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.Engine.Store().List(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("list tasks failed")
		a.error(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	a.json(w, http.StatusOK, tasks)
}

// TaskListByCondition handles POST /task/list-by-condition, resolving
// a batch of task ids in one round trip.
func (a *App) TaskListByCondition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tasks := make([]*domain.Task, 0, len(req.IDs))
	for _, id := range req.IDs {
		task, err := a.Engine.Store().Get(r.Context(), id)
		if err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	a.json(w, http.StatusOK, tasks)
}

// Accounts handles GET /account/list with the pool's live view.
func (a *App) Accounts(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Engine.Pool().Snapshot())
}
