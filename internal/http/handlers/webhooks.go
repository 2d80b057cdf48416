package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"genflow/internal/domain"
)

const maxWebhookBytes = 1 << 20

// Webhook applies a provider callback. The shared token travels in the query
// string because vendors only echo back the callback URL they were given.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if a.WebhookToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.WebhookToken)) != 1 {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
		return
	}
	provider := domain.ProviderName(chi.URLParam(r, "provider"))
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "payload too large")
		return
	}

	task, err := a.Reconciler.ApplyWebhook(r.Context(), provider, payload)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Acknowledge so the vendor stops redelivering a task we never recorded.
			a.json(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		if errors.Is(err, domain.ErrProviderParse) {
			a.error(w, http.StatusBadRequest, "bad_request", "malformed webhook payload")
			return
		}
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": string(task.Status), "task_id": task.ID})
}
