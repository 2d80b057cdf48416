package replicate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genflow/internal/domain"
	"genflow/internal/providers"
)

func newAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New(Options{
		APIToken:  "r8_token",
		BaseURL:   srv.URL,
		Transport: providers.TransportOptions{RetryBase: time.Millisecond},
	})
	require.NoError(t, err)
	return a
}

func TestSubmitByModelName(t *testing.T) {
	var body map[string]any
	a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/models/black-forest-labs/flux-schnell/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8_token", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
	}))

	id, err := a.Submit(context.Background(), providers.SubmitSpec{
		MediaType:   domain.MediaTypeImage,
		Model:       "black-forest-labs/flux-schnell",
		Params:      map[string]any{"prompt": "a fox"},
		CallbackURL: "https://example.com/hook",
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", id)
	assert.Equal(t, map[string]any{"prompt": "a fox"}, body["input"])
	assert.Equal(t, "https://example.com/hook", body["webhook"])
	assert.NotContains(t, body, "version")
}

func TestSubmitByVersion(t *testing.T) {
	var body map[string]any
	a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predictions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"id":"pred-2","status":"starting"}`))
	}))
	id, err := a.Submit(context.Background(), providers.SubmitSpec{
		MediaType: domain.MediaTypeMusic,
		Model:     "meta/musicgen:abc123",
		Params:    map[string]any{"prompt": "jazz"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-2", id)
	assert.Equal(t, "abc123", body["version"])
	assert.NotContains(t, body, "webhook")
}

func TestSubmitRejectsBadModel(t *testing.T) {
	a := newAdapter(t, http.NotFoundHandler())
	_, err := a.Submit(context.Background(), providers.SubmitSpec{MediaType: domain.MediaTypeImage, Model: "flux"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestQueryStatuses(t *testing.T) {
	cases := map[string]domain.TaskStatus{
		"starting":   domain.TaskStatusPending,
		"processing": domain.TaskStatusProcessing,
		"failed":     domain.TaskStatusFailed,
		"canceled":   domain.TaskStatusCancelled,
		"aborted":    domain.TaskStatusCancelled,
	}
	for vendor, want := range cases {
		t.Run(vendor, func(t *testing.T) {
			a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/predictions/p", r.URL.Path)
				_, _ = w.Write([]byte(`{"id":"p","status":"` + vendor + `"}`))
			}))
			env, err := a.Query(context.Background(), "p", domain.MediaTypeImage, "o/n")
			require.NoError(t, err)
			assert.Equal(t, want, env.Status)
			assert.Nil(t, env.Result)
		})
	}
}

func TestQuerySucceededOutputShapes(t *testing.T) {
	cases := []struct {
		name   string
		output string
		urls   int
	}{
		{"single", `"https://replicate.delivery/a.webp"`, 1},
		{"list", `["https://replicate.delivery/a.webp","https://replicate.delivery/b.webp"]`, 2},
		{"object", `{"url":"https://replicate.delivery/a.webp"}`, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"id":"p","status":"succeeded","output":` + tc.output + `,"metrics":{"predict_time":1.5}}`))
			}))
			env, err := a.Query(context.Background(), "p", domain.MediaTypeImage, "o/n")
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStatusSucceeded, env.Status)
			var res domain.TaskResult
			require.NoError(t, json.Unmarshal(env.Result, &res))
			require.Len(t, res.Assets, tc.urls)
			assert.Equal(t, "image/webp", res.Assets[0].MIME)
			assert.JSONEq(t, `{"vendor_status":"succeeded","predict_time":1.5}`, string(env.Info))
		})
	}
}

func TestQueryFailureIsEnvelopeNotError(t *testing.T) {
	a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p","status":"failed","error":"CUDA out of memory"}`))
	}))
	env, err := a.Query(context.Background(), "p", domain.MediaTypeVideo, "o/n")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, env.Status)
	assert.Contains(t, string(env.Info), "CUDA out of memory")
}

func TestParseWebhook(t *testing.T) {
	a := newAdapter(t, http.NotFoundHandler())
	ev, err := a.ParseWebhook(context.Background(), []byte(`{"id":"p7","status":"succeeded","output":["https://replicate.delivery/x.mp4"]}`))
	require.NoError(t, err)
	assert.Equal(t, "p7", ev.ExternalTaskID)
	assert.Equal(t, domain.TaskStatusSucceeded, ev.Envelope.Status)
	assert.Contains(t, string(ev.Envelope.Result), "x.mp4")

	_, err = a.ParseWebhook(context.Background(), []byte(`{"status":"succeeded"}`))
	assert.ErrorIs(t, err, domain.ErrProviderParse)
}
