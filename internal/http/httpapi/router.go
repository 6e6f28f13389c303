package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mjgateway/internal/http/handlers"
	"mjgateway/internal/middleware"
)

// Options carries the router's cross-cutting settings.
type Options struct {
	APISecret       string
	AllowedOrigins  []string
	RateLimitPerMin int
}

// NewRouter assembles the API surface. The submit and task routes sit
// behind the shared-secret check; health stays open for probes.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthSecret(opts.APISecret))

		r.Route("/submit", func(r chi.Router) {
			r.Post("/imagine", app.SubmitImagine)
			r.Post("/change", app.SubmitChange)
			r.Post("/simple-change", app.SubmitSimpleChange)
			r.Post("/describe", app.SubmitDescribe)
			r.Post("/blend", app.SubmitBlend)
		})

		r.Route("/task", func(r chi.Router) {
			r.Get("/list", app.TaskList)
			r.Post("/list-by-condition", app.TaskListByCondition)
			r.Get("/{id}/fetch", app.TaskFetch)
			r.Get("/{id}/wait", app.TaskWait)
		})

		r.Get("/account/list", app.Accounts)
	})

	return r
}
