// Package replicate integrates the Replicate predictions API.
package replicate

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

const defaultBaseURL = "https://api.replicate.com"

// Options configures the Replicate adapter.
type Options struct {
	APIToken  string
	BaseURL   string
	Transport providers.TransportOptions
}

// Adapter talks to Replicate.
type Adapter struct {
	token   string
	baseURL string
	http    *providers.Transport
}

var statuses = providers.StatusMap{
	"starting":   domain.TaskStatusPending,
	"processing": domain.TaskStatusProcessing,
	"succeeded":  domain.TaskStatusSucceeded,
	"failed":     domain.TaskStatusFailed,
	"canceled":   domain.TaskStatusCancelled,
	"aborted":    domain.TaskStatusCancelled,
}

type prediction struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Version string          `json:"version"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Error   any             `json:"error"`
	Metrics struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics"`
}

// New constructs the adapter.
func New(opts Options) (*Adapter, error) {
	token := strings.TrimSpace(opts.APIToken)
	if token == "" {
		return nil, providers.ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		token:   token,
		baseURL: baseURL,
		http:    providers.NewTransport(domain.ProviderReplicate, opts.Transport),
	}, nil
}

func (a *Adapter) Name() domain.ProviderName { return domain.ProviderReplicate }

// Submit creates a prediction. A model written as owner/name:version is run
// by version; owner/name runs the model's latest deployment.
func (a *Adapter) Submit(ctx context.Context, spec providers.SubmitSpec) (string, error) {
	body := map[string]any{"input": spec.Params}
	if spec.CallbackURL != "" {
		body["webhook"] = spec.CallbackURL
		body["webhook_events_filter"] = []string{"start", "completed"}
	}

	endpoint := ""
	model, version, hasVersion := strings.Cut(strings.TrimSpace(spec.Model), ":")
	switch {
	case hasVersion && version != "":
		endpoint = a.baseURL + "/v1/predictions"
		body["version"] = version
	case strings.Count(model, "/") == 1:
		owner, name, _ := strings.Cut(model, "/")
		endpoint = a.baseURL + "/v1/models/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/predictions"
	default:
		return "", domain.Invalid("model", "must be owner/name or owner/name:version")
	}

	var pred prediction
	if _, err := a.http.Do(ctx, providers.Request{
		Op:     "submit",
		Method: http.MethodPost,
		URL:    endpoint,
		Header: a.header(),
		Body:   body,
	}, &pred); err != nil {
		return "", err
	}
	if strings.TrimSpace(pred.ID) == "" {
		return "", a.http.Parse("submit", errors.New("missing prediction id"))
	}
	return pred.ID, nil
}

func (a *Adapter) Query(ctx context.Context, externalTaskID string, mediaType domain.MediaType, model string) (domain.Envelope, error) {
	var pred prediction
	if _, err := a.http.Do(ctx, providers.Request{
		Op:     "query",
		Method: http.MethodGet,
		URL:    a.baseURL + "/v1/predictions/" + url.PathEscape(externalTaskID),
		Header: a.header(),
	}, &pred); err != nil {
		return domain.Envelope{}, err
	}
	return a.envelope("query", pred, mediaType)
}

// ParseWebhook decodes a prediction pushed by Replicate.
func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (providers.WebhookEvent, error) {
	var pred prediction
	if err := json.Unmarshal(payload, &pred); err != nil {
		return providers.WebhookEvent{}, a.http.Parse("webhook", err)
	}
	if strings.TrimSpace(pred.ID) == "" {
		return providers.WebhookEvent{}, a.http.Parse("webhook", errors.New("missing prediction id"))
	}
	env, err := a.envelope("webhook", pred, "")
	return providers.WebhookEvent{ExternalTaskID: pred.ID, Envelope: env}, err
}

func (a *Adapter) envelope(op string, pred prediction, mediaType domain.MediaType) (domain.Envelope, error) {
	status := a.http.MapStatus(statuses, pred.Status)
	info := map[string]any{"vendor_status": pred.Status}
	if pred.Metrics.PredictTime > 0 {
		info["predict_time"] = pred.Metrics.PredictTime
	}
	if pred.Error != nil {
		info["error"] = pred.Error
	}
	out := domain.Envelope{Status: status}
	if status == domain.TaskStatusSucceeded {
		urls, err := outputURLs(pred.Output)
		if err != nil {
			return domain.Envelope{}, a.http.Parse(op, err)
		}
		result, err := providers.BuildResult(mediaType, urls, nil)
		if err != nil {
			return domain.Envelope{}, a.http.Parse(op, err)
		}
		out.Result = result
	}
	raw, err := domain.MarshalInfo(info)
	if err != nil {
		return domain.Envelope{}, a.http.Parse(op, err)
	}
	out.Info = raw
	return out, nil
}

// outputURLs accepts the output shapes Replicate models return: a single URL,
// a list of URLs, or an object with a url field.
func outputURLs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if s, ok := obj["url"].(string); ok {
			return []string{s}, nil
		}
		return nil, nil
	}
	return nil, errors.New("unrecognised output shape")
}

func (a *Adapter) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.token)
	return h
}

var (
	_ providers.Adapter       = (*Adapter)(nil)
	_ providers.WebhookParser = (*Adapter)(nil)
)
