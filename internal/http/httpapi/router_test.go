package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genflow/internal/adapter/memory"
	"genflow/internal/domain"
	"genflow/internal/http/handlers"
	"genflow/internal/infra"
	"genflow/internal/ledger"
	"genflow/internal/middleware"
	"genflow/internal/providers"
	"genflow/internal/reconciler"
)

const (
	jwtSecret    = "test-jwt-secret"
	webhookToken = "hook-token"
)

type fakeVendor struct {
	mu       sync.Mutex
	env      domain.Envelope
	queryErr error
	event    providers.WebhookEvent
}

func (f *fakeVendor) Name() domain.ProviderName { return domain.ProviderReplicate }

func (f *fakeVendor) Submit(ctx context.Context, spec providers.SubmitSpec) (string, error) {
	if spec.Model == "reject/me" {
		return "", &domain.ProviderError{Provider: domain.ProviderReplicate, Op: "submit", StatusCode: 422, Kind: domain.ErrProviderRejected}
	}
	return "pred-" + spec.TaskID[:8], nil
}

func (f *fakeVendor) Query(ctx context.Context, externalTaskID string, mediaType domain.MediaType, model string) (domain.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return domain.Envelope{}, f.queryErr
	}
	return f.env, nil
}

func (f *fakeVendor) ParseWebhook(ctx context.Context, payload []byte) (providers.WebhookEvent, error) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.ID == "" {
		return providers.WebhookEvent{}, &domain.ProviderError{Provider: domain.ProviderReplicate, Op: "webhook", Kind: domain.ErrProviderParse}
	}
	ev := f.event
	ev.ExternalTaskID = body.ID
	return ev, nil
}

type harness struct {
	store  *memory.Store
	vendor *fakeVendor
	server http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	store.GrantCredits("alice", 20, nil)
	vendor := &fakeVendor{env: domain.Envelope{Status: domain.TaskStatusProcessing, Info: json.RawMessage(`{"vendor_status":"processing"}`)}}

	registry := providers.NewRegistry(infra.NopLogger())
	registry.Register(providers.Descriptor{
		Name:         domain.ProviderReplicate,
		Capabilities: []providers.Capability{providers.CapabilitySubmit, providers.CapabilityQuery, providers.CapabilityWebhook},
	}, vendor)
	rec := reconciler.New(store, registry, ledger.New(store, infra.NopLogger()), infra.NopLogger(), reconciler.Options{
		Pricing: reconciler.Pricing{Image: 2, Video: 10, Music: 5},
	})
	app := handlers.NewApp(rec, webhookToken, infra.NopLogger())
	return &harness{
		store:  store,
		vendor: vendor,
		server: NewRouter(app, Options{JWTSecret: jwtSecret, RateLimitPerMin: 100}, infra.NopLogger()),
	}
}

func (h *harness) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		token, err := middleware.SignJWT(jwtSecret, middleware.TokenClaims{Sub: user, Exp: time.Now().Add(time.Hour).Unix()})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (h *harness) submit(t *testing.T) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/v1/generations", "alice",
		`{"provider":"replicate","media_type":"image","model":"black-forest-labs/flux-schnell","params":{"prompt":"a lighthouse"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "/v1/generations/"+body["id"].(string), rec.Header().Get("Location"))
	return body["id"].(string)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerationsRequireAuth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/v1/generations", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitAndQuery(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t)

	rec := h.do(t, http.MethodGet, "/v1/credits", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 18, decode(t, rec)["remaining"])

	rec = h.do(t, http.MethodGet, "/v1/generations/"+id, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "PROCESSING", body["status"])
	assert.Equal(t, map[string]any{"vendor_status": "processing"}, body["task_info"])
}

func TestQueryOtherUsersTaskIsNotFound(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t)
	rec := h.do(t, http.MethodGet, "/v1/generations/"+id, "mallory", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryMalformedTaskIDIsNotFound(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/generations/not-a-uuid", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	assert.Equal(t, "not_found", decode(t, rec)["error"])
}

func TestQueryProviderUnavailable(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t)
	h.vendor.queryErr = &domain.ProviderError{Provider: domain.ProviderReplicate, Op: "query", StatusCode: 503, Kind: domain.ErrProviderTransient}

	rec := h.do(t, http.MethodGet, "/v1/generations/"+id, "alice", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.vendor.queryErr = &domain.ProviderError{Provider: domain.ProviderReplicate, Op: "query", Kind: domain.ErrProviderParse}
	rec = h.do(t, http.MethodGet, "/v1/generations/"+id, "alice", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSubmitErrorMapping(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		user string
		body string
		want int
		kind string
	}{
		{"malformed json", "alice", `{`, http.StatusBadRequest, "bad_request"},
		{"bad media type", "alice", `{"provider":"replicate","media_type":"hologram","model":"a/b"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown provider", "alice", `{"provider":"midjourney","media_type":"image","model":"a/b"}`, http.StatusBadRequest, "provider_not_configured"},
		{"vendor rejects", "alice", `{"provider":"replicate","media_type":"image","model":"reject/me"}`, http.StatusUnprocessableEntity, "provider_rejected"},
		{"no credits", "bob", `{"provider":"replicate","media_type":"image","model":"a/b"}`, http.StatusPaymentRequired, "insufficient_credits"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/v1/generations", tc.user, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Equal(t, tc.kind, decode(t, rec)["error"])
		})
	}
	assert.Empty(t, h.store.LedgerEntries())
}

func TestWebhook(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t)
	task, err := h.store.Tasks().GetByID(context.Background(), id)
	require.NoError(t, err)

	h.vendor.event = providers.WebhookEvent{Envelope: domain.Envelope{
		Status: domain.TaskStatusFailed,
		Info:   json.RawMessage(`{"vendor_status":"failed","error":"NSFW"}`),
	}}

	rec := h.do(t, http.MethodPost, "/v1/webhooks/replicate?token=wrong", "", `{"id":"`+task.ExternalTaskID+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/webhooks/replicate?token="+webhookToken, "", `{"id":"`+task.ExternalTaskID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "FAILED", decode(t, rec)["status"])

	rec = h.do(t, http.MethodGet, "/v1/credits", "alice", "")
	assert.EqualValues(t, 20, decode(t, rec)["remaining"], "failed task is refunded")

	rec = h.do(t, http.MethodPost, "/v1/webhooks/replicate?token="+webhookToken, "", `{"id":"`+task.ExternalTaskID+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "redelivery is acknowledged")
	assert.Len(t, h.store.LedgerEntries(), 2)

	rec = h.do(t, http.MethodPost, "/v1/webhooks/replicate?token="+webhookToken, "", `{"id":"unknown"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])

	rec = h.do(t, http.MethodPost, "/v1/webhooks/replicate?token="+webhookToken, "", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/webhooks/dashscope?token="+webhookToken, "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
