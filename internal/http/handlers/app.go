package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"genflow/internal/infra"
	"genflow/internal/middleware"
	"genflow/internal/reconciler"
)

// App carries the dependencies shared by every HTTP handler.
type App struct {
	Reconciler   *reconciler.Reconciler
	WebhookToken string
	Logger       infra.Logger
	// Ping reports backend readiness. Nil means always ready.
	Ping func(ctx context.Context) error
}

func NewApp(rec *reconciler.Reconciler, webhookToken string, logger infra.Logger) *App {
	return &App{
		Reconciler:   rec,
		WebhookToken: webhookToken,
		Logger:       logger.With().Str("component", "http").Logger(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, errorResponse{Error: kind, Message: msg})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}
