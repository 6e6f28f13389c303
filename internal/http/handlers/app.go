package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"mjgateway/internal/banned"
	"mjgateway/internal/domain"
	"mjgateway/internal/engine"
	"mjgateway/internal/translate"
)

// App bundles the collaborators every handler needs.
type App struct {
	Logger     zerolog.Logger
	Engine     *engine.Engine
	Translator translate.Translator
	Banned     *banned.List

	// NotifyHook is the default callback applied to tasks submitted
	// without one of their own.
	NotifyHook string

	// WaitTimeout bounds ?wait=true submissions and /task/{id}/wait.
	WaitTimeout time.Duration
}

func NewApp(logger zerolog.Logger, eng *engine.Engine, tr translate.Translator, bl *banned.List) *App {
	if tr == nil {
		tr = translate.Noop{}
	}
	if bl == nil {
		bl = banned.NewList()
	}
	return &App{Logger: logger, Engine: eng, Translator: tr, Banned: bl, WaitTimeout: 5 * time.Minute}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// result writes a submit envelope. The API reports submission outcomes
// in the envelope code, not the HTTP status, so callers get one
// decoding path.
func (a *App) result(w http.ResponseWriter, res *domain.SubmitResult) {
	a.json(w, http.StatusOK, res)
}

func (a *App) error(w http.ResponseWriter, httpCode int, message string) {
	a.json(w, httpCode, map[string]string{"error": message})
}
