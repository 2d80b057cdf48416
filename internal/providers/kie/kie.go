// Package kie integrates the Kie.ai job API (image and video models) and its
// Suno music endpoints.
package kie

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

const defaultBaseURL = "https://api.kie.ai"

// Options configures the Kie.ai adapter.
type Options struct {
	APIKey    string
	BaseURL   string
	Transport providers.TransportOptions
}

// Adapter talks to Kie.ai.
type Adapter struct {
	apiKey  string
	baseURL string
	http    *providers.Transport
}

var jobStatuses = providers.StatusMap{
	"waiting":    domain.TaskStatusPending,
	"queuing":    domain.TaskStatusPending,
	"generating": domain.TaskStatusProcessing,
	"success":    domain.TaskStatusSucceeded,
	"fail":       domain.TaskStatusFailed,
}

var musicStatuses = providers.StatusMap{
	"pending":               domain.TaskStatusPending,
	"text_success":          domain.TaskStatusProcessing,
	"first_success":         domain.TaskStatusProcessing,
	"success":               domain.TaskStatusSucceeded,
	"create_task_failed":    domain.TaskStatusFailed,
	"generate_audio_failed": domain.TaskStatusFailed,
	"callback_exception":    domain.TaskStatusFailed,
	"sensitive_word_error":  domain.TaskStatusFailed,
}

// callbackStages maps the callbackType of Suno callbacks.
var callbackStages = providers.StatusMap{
	"text":     domain.TaskStatusProcessing,
	"first":    domain.TaskStatusProcessing,
	"complete": domain.TaskStatusSucceeded,
	"error":    domain.TaskStatusFailed,
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type createData struct {
	TaskID string `json:"taskId"`
}

type jobRecord struct {
	TaskID       string `json:"taskId"`
	Model        string `json:"model"`
	State        string `json:"state"`
	ResultJSON   string `json:"resultJson"`
	FailCode     string `json:"failCode"`
	FailMsg      string `json:"failMsg"`
	CostTime     int64  `json:"costTime"`
	CompleteTime int64  `json:"completeTime"`
	CreateTime   int64  `json:"createTime"`
}

type jobResult struct {
	ResultURLs []string `json:"resultUrls"`
}

type musicTrack struct {
	ID             string  `json:"id"`
	AudioURL       string  `json:"audioUrl"`
	StreamAudioURL string  `json:"streamAudioUrl"`
	ImageURL       string  `json:"imageUrl"`
	Title          string  `json:"title"`
	Tags           string  `json:"tags"`
	Duration       float64 `json:"duration"`
}

type musicRecord struct {
	TaskID   string `json:"taskId"`
	Status   string `json:"status"`
	Response struct {
		SunoData []musicTrack `json:"sunoData"`
	} `json:"response"`
	ErrorCode    any    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type musicCallback struct {
	CallbackType string `json:"callbackType"`
	TaskID       string `json:"task_id"`
	Data         []struct {
		ID       string  `json:"id"`
		AudioURL string  `json:"audio_url"`
		ImageURL string  `json:"image_url"`
		Title    string  `json:"title"`
		Duration float64 `json:"duration"`
	} `json:"data"`
}

// New constructs the adapter.
func New(opts Options) (*Adapter, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, providers.ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		apiKey:  key,
		baseURL: baseURL,
		http:    providers.NewTransport(domain.ProviderKie, opts.Transport),
	}, nil
}

func (a *Adapter) Name() domain.ProviderName { return domain.ProviderKie }

// Submit creates a job. Music goes to the Suno generate endpoint, everything
// else to the generic job API.
func (a *Adapter) Submit(ctx context.Context, spec providers.SubmitSpec) (string, error) {
	var body map[string]any
	path := "/api/v1/jobs/createTask"
	if spec.MediaType == domain.MediaTypeMusic {
		path = "/api/v1/generate"
		body = providers.ParamsWithout(spec.Params)
		body["model"] = spec.Model
		if _, ok := body["customMode"]; !ok {
			body["customMode"] = false
		}
		if _, ok := body["instrumental"]; !ok {
			body["instrumental"] = false
		}
		if spec.CallbackURL != "" {
			body["callBackUrl"] = spec.CallbackURL
		}
	} else {
		body = map[string]any{
			"model": spec.Model,
			"input": spec.Params,
		}
		if spec.CallbackURL != "" {
			body["callBackUrl"] = spec.CallbackURL
		}
	}

	var env envelope
	if _, err := a.http.Do(ctx, providers.Request{
		Op:     "submit",
		Method: http.MethodPost,
		URL:    a.baseURL + path,
		Header: a.header(),
		Body:   body,
	}, &env); err != nil {
		return "", err
	}
	if env.Code != http.StatusOK {
		return "", a.http.FromVendorCode("submit", env.Code, env.Msg)
	}
	var data createData
	if err := json.Unmarshal(env.Data, &data); err != nil || strings.TrimSpace(data.TaskID) == "" {
		return "", a.http.Parse("submit", errors.New("missing taskId in response"))
	}
	return data.TaskID, nil
}

func (a *Adapter) Query(ctx context.Context, externalTaskID string, mediaType domain.MediaType, model string) (domain.Envelope, error) {
	path := "/api/v1/jobs/recordInfo"
	if mediaType == domain.MediaTypeMusic {
		path = "/api/v1/generate/record-info"
	}
	var env envelope
	if _, err := a.http.Do(ctx, providers.Request{
		Op:     "query",
		Method: http.MethodGet,
		URL:    a.baseURL + path + "?taskId=" + url.QueryEscape(externalTaskID),
		Header: a.header(),
	}, &env); err != nil {
		return domain.Envelope{}, err
	}
	if env.Code != http.StatusOK {
		return domain.Envelope{}, a.http.FromVendorCode("query", env.Code, env.Msg)
	}
	if mediaType == domain.MediaTypeMusic {
		var rec musicRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return domain.Envelope{}, a.http.Parse("query", err)
		}
		return a.musicEnvelope(rec)
	}
	var rec jobRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		return domain.Envelope{}, a.http.Parse("query", err)
	}
	return a.jobEnvelope(rec, mediaType)
}

// ParseWebhook accepts both callback shapes: job callbacks carry the same
// record as recordInfo, Suno callbacks carry a callbackType stage.
func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (providers.WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return providers.WebhookEvent{}, a.http.Parse("webhook", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &fields); err != nil {
		return providers.WebhookEvent{}, a.http.Parse("webhook", err)
	}

	if _, ok := fields["callbackType"]; ok {
		var cb musicCallback
		if err := json.Unmarshal(env.Data, &cb); err != nil {
			return providers.WebhookEvent{}, a.http.Parse("webhook", err)
		}
		if strings.TrimSpace(cb.TaskID) == "" {
			return providers.WebhookEvent{}, a.http.Parse("webhook", errors.New("missing task_id"))
		}
		out, err := a.musicCallbackEnvelope(env, cb)
		return providers.WebhookEvent{ExternalTaskID: cb.TaskID, Envelope: out}, err
	}

	var rec jobRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		return providers.WebhookEvent{}, a.http.Parse("webhook", err)
	}
	if strings.TrimSpace(rec.TaskID) == "" {
		return providers.WebhookEvent{}, a.http.Parse("webhook", errors.New("missing taskId"))
	}
	out, err := a.jobEnvelope(rec, "")
	return providers.WebhookEvent{ExternalTaskID: rec.TaskID, Envelope: out}, err
}

func (a *Adapter) jobEnvelope(rec jobRecord, mediaType domain.MediaType) (domain.Envelope, error) {
	status := a.http.MapStatus(jobStatuses, rec.State)
	info := map[string]any{"vendor_status": rec.State}
	if rec.Model != "" {
		info["model"] = rec.Model
	}
	if rec.CostTime > 0 {
		info["cost_time_ms"] = rec.CostTime
	}
	if status == domain.TaskStatusFailed {
		info["fail_code"] = rec.FailCode
		info["fail_msg"] = rec.FailMsg
	}
	out := domain.Envelope{Status: status}
	if status == domain.TaskStatusSucceeded {
		var res jobResult
		if strings.TrimSpace(rec.ResultJSON) != "" {
			if err := json.Unmarshal([]byte(rec.ResultJSON), &res); err != nil {
				return domain.Envelope{}, a.http.Parse("query", err)
			}
		}
		result, err := providers.BuildResult(mediaType, res.ResultURLs, nil)
		if err != nil {
			return domain.Envelope{}, a.http.Parse("query", err)
		}
		out.Result = result
	}
	raw, err := domain.MarshalInfo(info)
	if err != nil {
		return domain.Envelope{}, a.http.Parse("query", err)
	}
	out.Info = raw
	return out, nil
}

func (a *Adapter) musicEnvelope(rec musicRecord) (domain.Envelope, error) {
	status := a.http.MapStatus(musicStatuses, rec.Status)
	info := map[string]any{"vendor_status": rec.Status}
	if status == domain.TaskStatusFailed {
		info["error_code"] = rec.ErrorCode
		info["error_message"] = rec.ErrorMessage
	}
	out := domain.Envelope{Status: status}
	if status == domain.TaskStatusSucceeded {
		urls := make([]string, 0, len(rec.Response.SunoData))
		titles := make([]string, 0, len(rec.Response.SunoData))
		for _, track := range rec.Response.SunoData {
			urls = append(urls, track.AudioURL)
			titles = append(titles, track.Title)
		}
		result, err := providers.BuildResult(domain.MediaTypeMusic, urls, map[string]any{"titles": titles})
		if err != nil {
			return domain.Envelope{}, a.http.Parse("query", err)
		}
		out.Result = result
	}
	raw, err := domain.MarshalInfo(info)
	if err != nil {
		return domain.Envelope{}, a.http.Parse("query", err)
	}
	out.Info = raw
	return out, nil
}

func (a *Adapter) musicCallbackEnvelope(env envelope, cb musicCallback) (domain.Envelope, error) {
	status := a.http.MapStatus(callbackStages, cb.CallbackType)
	if env.Code != http.StatusOK {
		status = domain.TaskStatusFailed
	}
	info := map[string]any{"vendor_status": cb.CallbackType}
	if status == domain.TaskStatusFailed {
		info["error_code"] = env.Code
		info["error_message"] = env.Msg
	}
	out := domain.Envelope{Status: status}
	if status == domain.TaskStatusSucceeded {
		urls := make([]string, 0, len(cb.Data))
		for _, track := range cb.Data {
			urls = append(urls, track.AudioURL)
		}
		result, err := providers.BuildResult(domain.MediaTypeMusic, urls, nil)
		if err != nil {
			return domain.Envelope{}, a.http.Parse("webhook", err)
		}
		out.Result = result
	}
	raw, err := domain.MarshalInfo(info)
	if err != nil {
		return domain.Envelope{}, a.http.Parse("webhook", err)
	}
	out.Info = raw
	return out, nil
}

func (a *Adapter) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.apiKey)
	return h
}

var (
	_ providers.Adapter       = (*Adapter)(nil)
	_ providers.WebhookParser = (*Adapter)(nil)
)
