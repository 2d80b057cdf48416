package kie

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
		APIKey:    "kie-key",
		BaseURL:   srv.URL,
		Transport: providers.TransportOptions{RetryBase: time.Millisecond, MaxRetries: 1},
	})
	require.NoError(t, err)
	return a
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, providers.ErrMissingAPIKey)
}

func TestSubmitImageJob(t *testing.T) {
	var body map[string]any
	a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/createTask", r.URL.Path)
		assert.Equal(t, "Bearer kie-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"job-1"}}`))
	}))

	id, err := a.Submit(context.Background(), providers.SubmitSpec{
		MediaType:   domain.MediaTypeImage,
		Model:       "google/nano-banana",
		Params:      map[string]any{"prompt": "a cat"},
		CallbackURL: "https://example.com/v1/webhooks/kie",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, "google/nano-banana", body["model"])
	assert.Equal(t, "https://example.com/v1/webhooks/kie", body["callBackUrl"])
	assert.Equal(t, map[string]any{"prompt": "a cat"}, body["input"])
}

func TestSubmitMusicUsesGenerateEndpoint(t *testing.T) {
	var body map[string]any
	a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/generate", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"suno-1"}}`))
	}))

	id, err := a.Submit(context.Background(), providers.SubmitSpec{
		MediaType: domain.MediaTypeMusic,
		Model:     "V4_5",
		Params:    map[string]any{"prompt": "lofi beat", "instrumental": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "suno-1", id)
	assert.Equal(t, "V4_5", body["model"])
	assert.Equal(t, "lofi beat", body["prompt"])
	assert.Equal(t, true, body["instrumental"])
	assert.Equal(t, false, body["customMode"])
	assert.NotContains(t, body, "callBackUrl")
}

func TestSubmitVendorCodeClassification(t *testing.T) {
	a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":402,"msg":"insufficient balance"}`))
	}))
	_, err := a.Submit(context.Background(), providers.SubmitSpec{MediaType: domain.MediaTypeImage, Model: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderRejected)

	a = newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":500,"msg":"server busy"}`))
	}))
	_, err = a.Submit(context.Background(), providers.SubmitSpec{MediaType: domain.MediaTypeImage, Model: "m"})
	assert.ErrorIs(t, err, domain.ErrProviderTransient)
}

func TestQueryJobStates(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		status domain.TaskStatus
	}{
		{"waiting", `{"taskId":"j","state":"waiting"}`, domain.TaskStatusPending},
		{"generating", `{"taskId":"j","state":"generating"}`, domain.TaskStatusProcessing},
		{"fail", `{"taskId":"j","state":"fail","failCode":"500","failMsg":"nsfw"}`, domain.TaskStatusFailed},
		{"unknown", `{"taskId":"j","state":"teleporting"}`, domain.TaskStatusProcessing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/jobs/recordInfo", r.URL.Path)
				assert.Equal(t, "j", r.URL.Query().Get("taskId"))
				_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":` + tc.data + `}`))
			}))
			env, err := a.Query(context.Background(), "j", domain.MediaTypeImage, "m")
			require.NoError(t, err)
			assert.Equal(t, tc.status, env.Status)
			assert.Nil(t, env.Result)
			assert.Contains(t, string(env.Info), `"vendor_status"`)
		})
	}
}

func TestQueryJobSuccessBuildsResult(t *testing.T) {
	a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"j","state":"success",
			"resultJson":"{\"resultUrls\":[\"https://cdn.kie.ai/out.mp4\"]}","costTime":1200}}`))
	}))
	env, err := a.Query(context.Background(), "j", domain.MediaTypeVideo, "veo3")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, env.Status)
	assert.JSONEq(t, `{"assets":[{"url":"https://cdn.kie.ai/out.mp4","kind":"video","mime":"video/mp4"}]}`, string(env.Result))
	assert.JSONEq(t, `{"vendor_status":"success","cost_time_ms":1200}`, string(env.Info))
}

func TestQueryMusic(t *testing.T) {
	a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/generate/record-info", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"s","status":"SUCCESS",
			"response":{"sunoData":[{"id":"t1","audioUrl":"https://cdn.kie.ai/1","title":"One"}]}}}`))
	}))
	env, err := a.Query(context.Background(), "s", domain.MediaTypeMusic, "V4_5")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, env.Status)
	assert.JSONEq(t, `{"assets":[{"url":"https://cdn.kie.ai/1","kind":"audio"}],"metadata":{"titles":["One"]}}`, string(env.Result))
}

func TestQueryMusicSensitiveWordFails(t *testing.T) {
	a := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"s","status":"SENSITIVE_WORD_ERROR","errorMessage":"blocked"}}`))
	}))
	env, err := a.Query(context.Background(), "s", domain.MediaTypeMusic, "V4_5")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, env.Status)
	assert.Contains(t, string(env.Info), "blocked")
}

func TestParseWebhookJob(t *testing.T) {
	a := newAdapter(t, http.NotFoundHandler())
	ev, err := a.ParseWebhook(context.Background(), []byte(`{"code":200,"msg":"ok","data":{"taskId":"j9","state":"success","resultJson":"{\"resultUrls\":[\"https://x/y.png\"]}"}}`))
	require.NoError(t, err)
	assert.Equal(t, "j9", ev.ExternalTaskID)
	assert.Equal(t, domain.TaskStatusSucceeded, ev.Envelope.Status)
	assert.Contains(t, string(ev.Envelope.Result), "https://x/y.png")
}

func TestParseWebhookMusicStages(t *testing.T) {
	a := newAdapter(t, http.NotFoundHandler())
	ev, err := a.ParseWebhook(context.Background(), []byte(`{"code":200,"msg":"ok","data":{"callbackType":"first","task_id":"s1","data":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, "s1", ev.ExternalTaskID)
	assert.Equal(t, domain.TaskStatusProcessing, ev.Envelope.Status)

	ev, err = a.ParseWebhook(context.Background(), []byte(`{"code":400,"msg":"lyrics rejected","data":{"callbackType":"error","task_id":"s1"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, ev.Envelope.Status)
	assert.Contains(t, string(ev.Envelope.Info), "lyrics rejected")
}

func TestParseWebhookMalformed(t *testing.T) {
	a := newAdapter(t, http.NotFoundHandler())
	_, err := a.ParseWebhook(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrProviderParse)
	_, err = a.ParseWebhook(context.Background(), []byte(`{"code":200,"data":{"state":"success"}}`))
	assert.ErrorIs(t, err, domain.ErrProviderParse)
}
