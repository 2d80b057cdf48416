// Package reconciler owns the task lifecycle: it submits jobs to providers,
// merges polled or pushed provider state into the task store and settles the
// credit ledger when a task ends.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/ledger"
	"genflow/internal/providers"
	"genflow/internal/telemetry"
)

const (
	defaultMaxParamsBytes = 64 << 10
	maxModelLength        = 200
)

// errStale aborts a merge transaction whose precondition no longer holds.
var errStale = errors.New("task no longer active")

// Pricing decides how many credits a job costs.
type Pricing struct {
	Image  int64
	Video  int64
	Music  int64
	Models map[string]int64
}

// Credits returns the price of one job, preferring a per-model override.
func (p Pricing) Credits(mediaType domain.MediaType, model string) int64 {
	if n, ok := p.Models[model]; ok && n > 0 {
		return n
	}
	switch mediaType {
	case domain.MediaTypeVideo:
		return p.Video
	case domain.MediaTypeMusic:
		return p.Music
	default:
		return p.Image
	}
}

// Options tunes a Reconciler.
type Options struct {
	Pricing Pricing
	// CallbackURL returns the webhook URL handed to providers that push
	// updates. Nil disables callbacks.
	CallbackURL    func(provider domain.ProviderName) string
	MaxParamsBytes int
	Clock          func() time.Time
}

// SubmitRequest is a caller's generation request.
type SubmitRequest struct {
	UserID    string
	Provider  domain.ProviderName
	MediaType domain.MediaType
	Model     string
	Params    map[string]any
}

// Reconciler drives generation tasks through their lifecycle.
type Reconciler struct {
	store          domain.Store
	registry       *providers.Registry
	ledger         *ledger.Ledger
	logger         infra.Logger
	pricing        Pricing
	callbackURL    func(domain.ProviderName) string
	maxParamsBytes int
	now            func() time.Time
	flight         singleflight.Group

	mu      sync.Mutex
	flights map[string]*flightCtx
}

// flightCtx is the context of a shared provider call. It is cancelled when
// the last waiter leaves.
type flightCtx struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New wires a reconciler.
func New(store domain.Store, registry *providers.Registry, ledger *ledger.Ledger, logger infra.Logger, opts Options) *Reconciler {
	r := &Reconciler{
		store:          store,
		registry:       registry,
		ledger:         ledger,
		logger:         logger.With().Str("component", "reconciler").Logger(),
		pricing:        opts.Pricing,
		callbackURL:    opts.CallbackURL,
		maxParamsBytes: opts.MaxParamsBytes,
		now:            opts.Clock,
		flights:        map[string]*flightCtx{},
	}
	if r.maxParamsBytes <= 0 {
		r.maxParamsBytes = defaultMaxParamsBytes
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Submit validates and prices the request, hands it to the provider and
// records the task together with its CHARGE. The write runs detached from
// the caller's cancellation: once the vendor accepted the job it is recorded
// with its charge or not at all.
func (r *Reconciler) Submit(ctx context.Context, req SubmitRequest) (*domain.Task, error) {
	params, err := r.validate(&req)
	if err != nil {
		r.countSubmit(req, "invalid")
		return nil, err
	}

	adapter, ok := r.registry.Resolve(req.Provider)
	if !ok {
		r.countSubmit(req, "not_configured")
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotConfigured, req.Provider)
	}
	provider := adapter.Name()
	desc, _ := r.registry.Descriptor(provider)
	if len(desc.Capabilities) > 0 && !desc.Has(providers.CapabilitySubmit) {
		r.countSubmit(req, "not_configured")
		return nil, fmt.Errorf("%w: %s does not accept submissions", domain.ErrProviderNotConfigured, provider)
	}

	cost := r.pricing.Credits(req.MediaType, req.Model)
	if cost <= 0 {
		r.countSubmit(req, "invalid")
		return nil, domain.Invalid("model", "has no price configured")
	}
	remaining, err := r.ledger.RemainingCredits(ctx, req.UserID)
	if err != nil {
		r.countSubmit(req, "persist_error")
		return nil, err
	}
	if remaining < cost {
		r.countSubmit(req, "insufficient_credits")
		return nil, fmt.Errorf("%w: need %d, have %d", domain.ErrInsufficientCredits, cost, remaining)
	}

	taskID := uuid.NewString()
	spec := providers.SubmitSpec{
		TaskID:    taskID,
		MediaType: req.MediaType,
		Model:     req.Model,
		Params:    req.Params,
	}
	if r.callbackURL != nil && desc.Has(providers.CapabilityWebhook) {
		spec.CallbackURL = r.callbackURL(provider)
	}

	externalID, err := adapter.Submit(ctx, spec)
	if err != nil {
		r.countSubmit(req, "provider_error")
		r.logger.Warn().Err(err).Str("provider", string(provider)).Str("model", req.Model).Msg("provider rejected submission")
		return nil, err
	}

	now := r.now().UTC()
	task := &domain.Task{
		ID:             taskID,
		UserID:         req.UserID,
		Provider:       provider,
		ExternalTaskID: externalID,
		MediaType:      req.MediaType,
		Model:          req.Model,
		Status:         domain.TaskStatusPending,
		Params:         params,
		CreditID:       uuid.NewString(),
		CreditAmount:   cost,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	persistCtx := context.WithoutCancel(ctx)
	err = r.store.WithinTx(persistCtx, func(tx domain.Store) error {
		if err := tx.Tasks().Create(persistCtx, task); err != nil {
			return err
		}
		_, err := r.ledger.Within(tx).ChargeAs(persistCtx, task.CreditID, task.UserID, task.CreditAmount, task.ID)
		return err
	})
	if err != nil {
		r.countSubmit(req, "persist_error")
		r.logger.Error().Err(err).
			Str("provider", string(provider)).
			Str("external_task_id", externalID).
			Msg("vendor accepted job but task could not be recorded")
		return nil, err
	}

	r.countSubmit(req, "ok")
	r.logger.Info().
		Str("task_id", task.ID).
		Str("user_id", task.UserID).
		Str("provider", string(provider)).
		Str("external_task_id", externalID).
		Int64("credits", cost).
		Msg("task submitted")
	return task.Clone(), nil
}

// Task returns the stored task without contacting the provider. Task ids are
// UUIDs; anything else cannot exist.
func (r *Reconciler) Task(ctx context.Context, taskID string) (*domain.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, domain.Invalid("task_id", "is required")
	}
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, domain.ErrNotFound
	}
	return r.store.Tasks().GetByID(ctx, taskID)
}

// Query reconciles a task with its provider and returns the stored result.
// Terminal tasks are returned without a network call. Concurrent queries for
// one task in this process share a single provider call; a caller that gives
// up returns at once, and the call is aborted when no caller is left.
func (r *Reconciler) Query(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := r.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, nil
	}

	fctx := r.joinFlight(ctx, taskID)
	defer r.leaveFlight(taskID)
	ch := r.flight.DoChan(taskID, func() (any, error) {
		return r.refresh(fctx, taskID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Task).Clone(), nil
	}
}

func (r *Reconciler) joinFlight(ctx context.Context, taskID string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flights[taskID]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flightCtx{ctx: fctx, cancel: cancel}
		r.flights[taskID] = f
	}
	f.waiters++
	return f.ctx
}

func (r *Reconciler) leaveFlight(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flights[taskID]
	if !ok {
		return
	}
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	delete(r.flights, taskID)
	// A later caller must not join a flight whose context is already gone.
	r.flight.Forget(taskID)
}

func (r *Reconciler) refresh(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := r.store.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, nil
	}
	adapter, ok := r.registry.Resolve(task.Provider)
	if !ok {
		telemetry.ReconcileOutcomes.WithLabelValues("query", "not_configured").Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotConfigured, task.Provider)
	}
	env, err := adapter.Query(ctx, task.ExternalTaskID, task.MediaType, task.Model)
	if err != nil {
		telemetry.ReconcileOutcomes.WithLabelValues("query", "provider_error").Inc()
		r.logger.Warn().Err(err).Str("task_id", task.ID).Str("provider", string(task.Provider)).Msg("provider query failed")
		return nil, err
	}
	// Once the provider answered, the result is recorded even if every
	// caller has left.
	updated, _, err := r.merge(context.WithoutCancel(ctx), task, env, "query")
	return updated, err
}

// ApplyWebhook merges a provider callback into the matching task.
func (r *Reconciler) ApplyWebhook(ctx context.Context, provider domain.ProviderName, payload []byte) (*domain.Task, error) {
	adapter, ok := r.registry.Resolve(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotConfigured, provider)
	}
	parser, ok := r.registry.WebhookParser(provider)
	if !ok {
		telemetry.ReconcileOutcomes.WithLabelValues("webhook", "unsupported").Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrWebhookUnsupported, provider)
	}
	ev, err := parser.ParseWebhook(ctx, payload)
	if err != nil {
		telemetry.ReconcileOutcomes.WithLabelValues("webhook", "parse_error").Inc()
		return nil, err
	}
	task, err := r.store.Tasks().GetByExternalID(ctx, adapter.Name(), ev.ExternalTaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			telemetry.ReconcileOutcomes.WithLabelValues("webhook", "unknown_task").Inc()
			r.logger.Warn().Str("provider", string(provider)).Str("external_task_id", ev.ExternalTaskID).Msg("webhook for unknown task")
		}
		return nil, err
	}
	updated, _, err := r.merge(ctx, task, ev.Envelope, "webhook")
	return updated, err
}

// Credits returns the user's remaining credits.
func (r *Reconciler) Credits(ctx context.Context, userID string) (int64, error) {
	return r.ledger.RemainingCredits(ctx, userID)
}

// merge applies env to stored and reports whether it wrote. Unchanged state
// performs no write. A changed state is written only while the stored task is
// still active; a task that turned terminal concurrently is reloaded and
// returned as is.
func (r *Reconciler) merge(ctx context.Context, stored *domain.Task, env domain.Envelope, source string) (*domain.Task, bool, error) {
	if stored.Status.IsTerminal() {
		telemetry.ReconcileOutcomes.WithLabelValues(source, "terminal").Inc()
		return stored, false, nil
	}

	next := stored.Status
	if env.Status != next && stored.Status.CanTransition(env.Status) {
		next = env.Status
	}
	info := domain.CompactJSON(env.Info)
	if next == stored.Status && domain.SameInfo(stored.TaskInfo, info) {
		telemetry.ReconcileOutcomes.WithLabelValues(source, "unchanged").Inc()
		return stored, false, nil
	}

	updated := stored.Clone()
	updated.Status = next
	updated.TaskInfo = info
	updated.TaskResult = nil
	if next == domain.TaskStatusSucceeded {
		updated.TaskResult = normalizeResult(stored.MediaType, env.Result)
	}
	updated.UpdatedAt = r.now().UTC()

	writeCtx := context.WithoutCancel(ctx)
	refunded := false
	err := r.store.WithinTx(writeCtx, func(tx domain.Store) error {
		ok, err := tx.Tasks().UpdateIfActive(writeCtx, updated)
		if err != nil {
			return err
		}
		if !ok {
			return errStale
		}
		if next.NeedsRefund() {
			_, refunded, err = r.ledger.Within(tx).Refund(writeCtx, updated.ID)
			return err
		}
		return nil
	})
	if errors.Is(err, errStale) {
		telemetry.ReconcileOutcomes.WithLabelValues(source, "stale").Inc()
		r.logger.Debug().Str("task_id", stored.ID).Msg("task settled concurrently; returning stored state")
		current, err := r.store.Tasks().GetByID(ctx, stored.ID)
		return current, false, err
	}
	if err != nil {
		telemetry.ReconcileOutcomes.WithLabelValues(source, "persist_error").Inc()
		return nil, false, err
	}

	telemetry.ReconcileOutcomes.WithLabelValues(source, "updated").Inc()
	if next.IsTerminal() {
		telemetry.TasksSettled.WithLabelValues(string(updated.Provider), string(next)).Inc()
		r.logger.Info().
			Str("task_id", updated.ID).
			Str("provider", string(updated.Provider)).
			Str("status", string(next)).
			Bool("refunded", refunded).
			Str("source", source).
			Msg("task settled")
	}
	return updated, true, nil
}

func (r *Reconciler) validate(req *SubmitRequest) (json.RawMessage, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Model = strings.TrimSpace(req.Model)
	req.Provider = domain.ProviderName(strings.TrimSpace(string(req.Provider)))

	if req.UserID == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	if req.Provider == "" {
		return nil, domain.Invalid("provider", "is required")
	}
	mediaType, ok := domain.ParseMediaType(string(req.MediaType))
	if !ok {
		return nil, domain.Invalid("media_type", "must be image, video or music")
	}
	req.MediaType = mediaType
	if req.Model == "" {
		return nil, domain.Invalid("model", "is required")
	}
	if len(req.Model) > maxModelLength {
		return nil, domain.Invalid("model", "is too long")
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	raw, err := json.Marshal(req.Params)
	if err != nil {
		return nil, domain.Invalid("params", "must be JSON encodable")
	}
	if len(raw) > r.maxParamsBytes {
		return nil, domain.Invalid("params", "exceeds size limit")
	}
	return raw, nil
}

func (r *Reconciler) countSubmit(req SubmitRequest, outcome string) {
	telemetry.TasksSubmitted.WithLabelValues(string(req.Provider), string(req.MediaType), outcome).Inc()
}

// normalizeResult fills asset kinds the provider could not know, such as
// for callbacks that do not echo the media type.
func normalizeResult(mediaType domain.MediaType, raw json.RawMessage) json.RawMessage {
	raw = domain.CompactJSON(raw)
	if raw == nil {
		return nil
	}
	var result domain.TaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return raw
	}
	changed := false
	for i := range result.Assets {
		if result.Assets[i].Kind == "" {
			result.Assets[i].Kind = domain.AssetKindFor(mediaType)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	out, err := json.Marshal(result)
	if err != nil {
		return raw
	}
	return domain.CompactJSON(out)
}
