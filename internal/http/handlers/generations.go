package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"genflow/internal/domain"
	"genflow/internal/reconciler"
)

const maxRequestBytes = 256 << 10

type generationRequest struct {
	Provider  string         `json:"provider"`
	MediaType string         `json:"media_type"`
	Model     string         `json:"model"`
	Params    map[string]any `json:"params"`
}

type taskResponse struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	ExternalTaskID string          `json:"external_task_id"`
	MediaType      string          `json:"media_type"`
	Model          string          `json:"model"`
	Status         string          `json:"status"`
	Params         json.RawMessage `json:"params,omitempty"`
	TaskInfo       json.RawMessage `json:"task_info,omitempty"`
	TaskResult     json.RawMessage `json:"task_result,omitempty"`
	Credits        int64           `json:"credits"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func newTaskResponse(t *domain.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		Provider:       string(t.Provider),
		ExternalTaskID: t.ExternalTaskID,
		MediaType:      string(t.MediaType),
		Model:          t.Model,
		Status:         string(t.Status),
		Params:         t.Params,
		TaskInfo:       t.TaskInfo,
		TaskResult:     t.TaskResult,
		Credits:        t.CreditAmount,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// CreateGeneration submits a generation job and returns the PENDING task.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			a.error(w, http.StatusBadRequest, "bad_request", "empty payload")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	task, err := a.Reconciler.Submit(r.Context(), reconciler.SubmitRequest{
		UserID:    userID,
		Provider:  domain.ProviderName(req.Provider),
		MediaType: domain.MediaType(req.MediaType),
		Model:     req.Model,
		Params:    req.Params,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/generations/"+task.ID)
	a.json(w, http.StatusAccepted, newTaskResponse(task))
}

// GetGeneration reconciles the caller's task with its provider and returns
// it. Tasks owned by someone else are reported as not found.
func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	taskID := chi.URLParam(r, "task_id")
	stored, err := a.Reconciler.Task(r.Context(), taskID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if stored.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	task, err := a.Reconciler.Query(r.Context(), taskID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newTaskResponse(task))
}
