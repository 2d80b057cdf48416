package handlers

import (
	"errors"
	"net/http"

	"genflow/internal/domain"
)

// fail maps a core error onto an HTTP status. Unexpected errors are logged
// and reported without detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: verr.Error(), Field: verr.Field})
	case errors.Is(err, domain.ErrProviderRejected):
		a.error(w, http.StatusUnprocessableEntity, "provider_rejected", err.Error())
	case errors.Is(err, domain.ErrProviderNotConfigured):
		a.error(w, http.StatusBadRequest, "provider_not_configured", err.Error())
	case errors.Is(err, domain.ErrWebhookUnsupported):
		a.error(w, http.StatusBadRequest, "webhook_unsupported", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, domain.ErrDuplicateTask), errors.Is(err, domain.ErrDuplicateCharge):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrProviderTransient):
		a.error(w, http.StatusServiceUnavailable, "provider_unavailable", "provider temporarily unavailable")
	case errors.Is(err, domain.ErrProviderParse):
		a.error(w, http.StatusBadGateway, "provider_bad_response", "provider returned an unreadable response")
	default:
		a.Logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
