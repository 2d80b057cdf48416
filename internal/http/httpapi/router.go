package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genflow/internal/http/handlers"
	"genflow/internal/infra"
	"genflow/internal/middleware"
	"genflow/internal/telemetry"
)

// Options configures the API router.
type Options struct {
	JWTSecret       string
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options, logger infra.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", telemetry.Handler())

	// Vendors authenticate with the shared webhook token, not a user JWT.
	r.Post("/v1/webhooks/{provider}", app.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/v1/generations", app.CreateGeneration)
		r.Get("/v1/generations/{task_id}", app.GetGeneration)
		r.Get("/v1/credits", app.Credits)
	})

	return r
}
