// Package dashscope integrates Alibaba DashScope (Qwen image and Wan video
// models) through its asynchronous task API.
package dashscope

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"genflow/internal/domain"
	"genflow/internal/providers"
)

const defaultBaseURL = "https://dashscope-intl.aliyuncs.com/api/v1"

// Options configures the DashScope adapter.
type Options struct {
	APIKey       string
	BaseURL      string
	DefaultSize  string
	PromptExtend bool
	Watermark    bool
	Transport    providers.TransportOptions
}

// Adapter talks to DashScope.
type Adapter struct {
	apiKey       string
	baseURL      string
	defaultSize  string
	promptExtend bool
	watermark    bool
	http         *providers.Transport
}

// UNKNOWN is deliberately absent: it is reported as an anomaly and kept as
// PROCESSING.
var statuses = providers.StatusMap{
	"pending":   domain.TaskStatusPending,
	"running":   domain.TaskStatusProcessing,
	"succeeded": domain.TaskStatusSucceeded,
	"failed":    domain.TaskStatusFailed,
	"canceled":  domain.TaskStatusCancelled,
}

// inputKeys are the params that belong in the request input block; anything
// else is sent as a generation parameter.
var inputKeys = []string{"prompt", "negative_prompt", "img_url", "ref_img"}

type asyncRequest struct {
	Model      string         `json:"model"`
	Input      map[string]any `json:"input"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type taskOutput struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	Results    []struct {
		URL  string `json:"url"`
		Code string `json:"code"`
	} `json:"results"`
	VideoURL   string `json:"video_url"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	SubmitTime string `json:"submit_time"`
	EndTime    string `json:"end_time"`
}

type taskResponse struct {
	RequestID string     `json:"request_id"`
	Output    taskOutput `json:"output"`
	Usage     struct {
		ImageCount int     `json:"image_count"`
		Duration   float64 `json:"duration"`
	} `json:"usage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New constructs the adapter with defaults applied.
func New(opts Options) (*Adapter, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, providers.ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	defaultSize := strings.TrimSpace(opts.DefaultSize)
	if defaultSize == "" {
		defaultSize = "1328*1328"
	}
	return &Adapter{
		apiKey:       key,
		baseURL:      baseURL,
		defaultSize:  defaultSize,
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		http:         providers.NewTransport(domain.ProviderDashScope, opts.Transport),
	}, nil
}

func (a *Adapter) Name() domain.ProviderName { return domain.ProviderDashScope }

func (a *Adapter) Submit(ctx context.Context, spec providers.SubmitSpec) (string, error) {
	var path string
	switch spec.MediaType {
	case domain.MediaTypeImage:
		path = "/services/aigc/text2image/image-synthesis"
	case domain.MediaTypeVideo:
		path = "/services/aigc/video-generation/video-synthesis"
	default:
		return "", domain.Invalid("media_type", "not supported by dashscope")
	}
	for _, k := range inputKeys {
		if v, ok := spec.Params[k]; ok && v != nil {
			if _, isString := v.(string); !isString {
				return "", domain.Invalid("params."+k, "must be a string")
			}
		}
	}
	if spec.Prompt() == "" {
		return "", domain.Invalid("params.prompt", "is required")
	}

	payload := asyncRequest{
		Model:      spec.Model,
		Input:      map[string]any{},
		Parameters: providers.ParamsWithout(spec.Params, inputKeys...),
	}
	for _, k := range inputKeys {
		if v := providers.ParamString(spec.Params, k); v != "" {
			payload.Input[k] = v
		}
	}
	if spec.MediaType == domain.MediaTypeImage {
		if _, ok := payload.Parameters["size"]; !ok {
			payload.Parameters["size"] = a.defaultSize
		}
		if _, ok := payload.Parameters["prompt_extend"]; !ok && a.promptExtend {
			payload.Parameters["prompt_extend"] = true
		}
		if _, ok := payload.Parameters["watermark"]; !ok {
			payload.Parameters["watermark"] = a.watermark
		}
	}
	if len(payload.Parameters) == 0 {
		payload.Parameters = nil
	}

	header := a.header()
	header.Set("X-DashScope-Async", "enable")
	var resp taskResponse
	if _, err := a.http.Do(ctx, providers.Request{
		Op:     "submit",
		Method: http.MethodPost,
		URL:    a.baseURL + path,
		Header: header,
		Body:   payload,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Code != "" {
		return "", a.http.Rejected("submit", 0, errors.New(resp.Message+" ("+resp.Code+")"))
	}
	if strings.TrimSpace(resp.Output.TaskID) == "" {
		return "", a.http.Parse("submit", errors.New("missing task_id"))
	}
	a.http.Logger().Debug().
		Str("model", spec.Model).
		Str("request_id", resp.RequestID).
		Str("task_id", resp.Output.TaskID).
		Msg("dashscope: task submitted")
	return resp.Output.TaskID, nil
}

func (a *Adapter) Query(ctx context.Context, externalTaskID string, mediaType domain.MediaType, model string) (domain.Envelope, error) {
	var resp taskResponse
	if _, err := a.http.Do(ctx, providers.Request{
		Op:     "query",
		Method: http.MethodGet,
		URL:    a.baseURL + "/tasks/" + url.PathEscape(externalTaskID),
		Header: a.header(),
	}, &resp); err != nil {
		return domain.Envelope{}, err
	}

	out := resp.Output
	status := a.http.MapStatus(statuses, out.TaskStatus)
	info := map[string]any{"vendor_status": out.TaskStatus}
	if out.EndTime != "" {
		info["end_time"] = out.EndTime
	}
	if status == domain.TaskStatusFailed {
		info["code"] = out.Code
		info["message"] = out.Message
	}

	env := domain.Envelope{Status: status}
	if status == domain.TaskStatusSucceeded {
		urls := make([]string, 0, len(out.Results)+1)
		for _, r := range out.Results {
			if r.URL != "" {
				urls = append(urls, r.URL)
			}
		}
		if out.VideoURL != "" {
			urls = append(urls, out.VideoURL)
		}
		var meta map[string]any
		if resp.Usage.ImageCount > 0 || resp.Usage.Duration > 0 {
			meta = map[string]any{}
			if resp.Usage.ImageCount > 0 {
				meta["image_count"] = resp.Usage.ImageCount
			}
			if resp.Usage.Duration > 0 {
				meta["duration"] = resp.Usage.Duration
			}
		}
		result, err := providers.BuildResult(mediaType, urls, meta)
		if err != nil {
			return domain.Envelope{}, a.http.Parse("query", err)
		}
		env.Result = result
	}
	raw, err := domain.MarshalInfo(info)
	if err != nil {
		return domain.Envelope{}, a.http.Parse("query", err)
	}
	env.Info = raw
	return env, nil
}

func (a *Adapter) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.apiKey)
	return h
}

var _ providers.Adapter = (*Adapter)(nil)
