// Package fal integrates the fal.ai queue API.
package fal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"genflow/internal/domain"
	"genflow/internal/providers"
)

const defaultQueueURL = "https://queue.fal.run"

// Options configures the fal adapter.
type Options struct {
	APIKey    string
	QueueURL  string
	Transport providers.TransportOptions
}

// Adapter talks to the fal queue.
type Adapter struct {
	apiKey   string
	queueURL string
	http     *providers.Transport
}

var statuses = providers.StatusMap{
	"in_queue":    domain.TaskStatusPending,
	"in_progress": domain.TaskStatusProcessing,
	"completed":   domain.TaskStatusSucceeded,
}

var webhookStatuses = providers.StatusMap{
	"ok":    domain.TaskStatusSucceeded,
	"error": domain.TaskStatusFailed,
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	Error         any    `json:"error,omitempty"`
}

type webhookPayload struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Error     any             `json:"error"`
}

// New constructs the adapter.
func New(opts Options) (*Adapter, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, providers.ErrMissingAPIKey
	}
	queueURL := strings.TrimRight(strings.TrimSpace(opts.QueueURL), "/")
	if queueURL == "" {
		queueURL = defaultQueueURL
	}
	return &Adapter{
		apiKey:   key,
		queueURL: queueURL,
		http:     providers.NewTransport(domain.ProviderFal, opts.Transport),
	}, nil
}

func (a *Adapter) Name() domain.ProviderName { return domain.ProviderFal }

func (a *Adapter) Submit(ctx context.Context, spec providers.SubmitSpec) (string, error) {
	model := strings.Trim(strings.TrimSpace(spec.Model), "/")
	if strings.Count(model, "/") < 1 {
		return "", domain.Invalid("model", "must be owner/app[/path]")
	}
	endpoint := a.queueURL + "/" + model
	if spec.CallbackURL != "" {
		endpoint += "?fal_webhook=" + url.QueryEscape(spec.CallbackURL)
	}
	body := spec.Params
	if body == nil {
		body = map[string]any{}
	}
	var resp submitResponse
	if _, err := a.http.Do(ctx, providers.Request{
		Op:     "submit",
		Method: http.MethodPost,
		URL:    endpoint,
		Header: a.header(),
		Body:   body,
	}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.RequestID) == "" {
		return "", a.http.Parse("submit", errors.New("missing request_id"))
	}
	return resp.RequestID, nil
}

// Query polls the request status and fetches the result once it completes.
func (a *Adapter) Query(ctx context.Context, externalTaskID string, mediaType domain.MediaType, model string) (domain.Envelope, error) {
	base := a.queueURL + "/" + appID(model) + "/requests/" + url.PathEscape(externalTaskID)

	var st statusResponse
	if _, err := a.http.Do(ctx, providers.Request{
		Op:     "query",
		Method: http.MethodGet,
		URL:    base + "/status",
		Header: a.header(),
	}, &st); err != nil {
		return domain.Envelope{}, err
	}

	status := a.http.MapStatus(statuses, st.Status)
	info := map[string]any{"vendor_status": st.Status}
	if st.QueuePosition != nil {
		info["queue_position"] = *st.QueuePosition
	}
	if status == domain.TaskStatusSucceeded && st.Error != nil {
		status = domain.TaskStatusFailed
		info["error"] = st.Error
	}

	out := domain.Envelope{Status: status}
	if status == domain.TaskStatusSucceeded {
		raw, err := a.http.Do(ctx, providers.Request{
			Op:     "result",
			Method: http.MethodGet,
			URL:    base,
			Header: a.header(),
		}, nil)
		if err != nil {
			return domain.Envelope{}, err
		}
		result, err := a.result("query", raw, mediaType)
		if err != nil {
			return domain.Envelope{}, err
		}
		out.Result = result
	}
	encoded, err := domain.MarshalInfo(info)
	if err != nil {
		return domain.Envelope{}, a.http.Parse("query", err)
	}
	out.Info = encoded
	return out, nil
}

// ParseWebhook decodes a fal completion callback.
func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (providers.WebhookEvent, error) {
	var hook webhookPayload
	if err := json.Unmarshal(payload, &hook); err != nil {
		return providers.WebhookEvent{}, a.http.Parse("webhook", err)
	}
	if strings.TrimSpace(hook.RequestID) == "" {
		return providers.WebhookEvent{}, a.http.Parse("webhook", errors.New("missing request_id"))
	}
	status := a.http.MapStatus(webhookStatuses, hook.Status)
	info := map[string]any{"vendor_status": hook.Status}
	if hook.Error != nil {
		info["error"] = hook.Error
	}
	env := domain.Envelope{Status: status}
	if status == domain.TaskStatusSucceeded {
		result, err := a.result("webhook", hook.Payload, "")
		if err != nil {
			return providers.WebhookEvent{}, err
		}
		env.Result = result
	}
	encoded, err := domain.MarshalInfo(info)
	if err != nil {
		return providers.WebhookEvent{}, a.http.Parse("webhook", err)
	}
	env.Info = encoded
	return providers.WebhookEvent{ExternalTaskID: hook.RequestID, Envelope: env}, nil
}

func (a *Adapter) result(op string, raw []byte, mediaType domain.MediaType) (json.RawMessage, error) {
	var payload map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, a.http.Parse(op, err)
		}
	}
	var meta map[string]any
	if seed, ok := payload["seed"]; ok {
		meta = map[string]any{"seed": seed}
	}
	result, err := providers.BuildResult(mediaType, collectURLs(payload), meta)
	if err != nil {
		return nil, a.http.Parse(op, err)
	}
	return result, nil
}

// collectURLs gathers output file URLs from the result keys fal models use.
func collectURLs(payload map[string]any) []string {
	var out []string
	add := func(v any) {
		if obj, ok := v.(map[string]any); ok {
			if u, ok := obj["url"].(string); ok && u != "" {
				out = append(out, u)
			}
		}
	}
	for _, key := range []string{"images", "videos", "audios"} {
		if list, ok := payload[key].([]any); ok {
			for _, item := range list {
				add(item)
			}
		}
	}
	for _, key := range []string{"image", "video", "audio", "audio_file", "audio_url"} {
		add(payload[key])
	}
	return out
}

// appID returns the owner/app prefix of a model path; queue request URLs are
// addressed by app, not by endpoint.
func appID(model string) string {
	parts := strings.Split(strings.Trim(strings.TrimSpace(model), "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "/")
}

func (a *Adapter) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Key "+a.apiKey)
	return h
}

var (
	_ providers.Adapter       = (*Adapter)(nil)
	_ providers.WebhookParser = (*Adapter)(nil)
)
