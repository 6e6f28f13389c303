package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"mjgateway/internal/domain"
)

func getWithID(t *testing.T, handler http.HandlerFunc, id string) *httptest.ResponseRecorder {
	t.Helper()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestTaskFetch(t *testing.T) {
	app, _ := newTestApp()
	seedSuccess(t, app, "100", "/imagine a cat", domain.ActionImagine)

	rec := getWithID(t, app.TaskFetch, "100")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var task domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.ID != "100" || task.Status != domain.StatusSuccess {
		t.Fatalf("task = %s/%s, want 100/SUCCESS", task.ID, task.Status)
	}
}

func TestTaskFetchNotFound(t *testing.T) {
	app, _ := newTestApp()

	if rec := getWithID(t, app.TaskFetch, "404"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTaskListByCondition(t *testing.T) {
	app, _ := newTestApp()
	seedSuccess(t, app, "100", "/imagine a cat", domain.ActionImagine)
	seedSuccess(t, app, "200", "/imagine a dog", domain.ActionImagine)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ids":["100","404","200"]}`))
	rec := httptest.NewRecorder()
	app.TaskListByCondition(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var tasks []*domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len = %d, want 2 (unknown ids skipped)", len(tasks))
	}
}

func TestAccountsSnapshot(t *testing.T) {
	app, _ := newTestApp()

	rec := httptest.NewRecorder()
	app.Accounts(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "acc-1") {
		t.Fatalf("snapshot body missing account: %s", rec.Body.String())
	}
}
