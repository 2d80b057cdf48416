// Package providers defines the contract every AI vendor adapter implements,
// the registry the reconciler resolves adapters from, and the HTTP transport
// the vendor packages share.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/url"
	"path"
	"strings"

	"genflow/internal/domain"
)

// ErrMissingAPIKey indicates that an adapter was configured without credentials.
var ErrMissingAPIKey = errors.New("providers: api key is required")

// SubmitSpec carries a vendor-agnostic generation request.
type SubmitSpec struct {
	TaskID      string
	MediaType   domain.MediaType
	Model       string
	Params      map[string]any
	CallbackURL string
}

// Prompt returns the trimmed "prompt" parameter.
func (s SubmitSpec) Prompt() string {
	return ParamString(s.Params, "prompt")
}

// Adapter translates between the core and one vendor's wire protocol.
// Vendor-reported failures are returned as a FAILED envelope, never as an
// error; errors are reserved for transport and parse problems.
type Adapter interface {
	Name() domain.ProviderName
	Submit(ctx context.Context, spec SubmitSpec) (string, error)
	Query(ctx context.Context, externalTaskID string, mediaType domain.MediaType, model string) (domain.Envelope, error)
}

// WebhookEvent is a parsed vendor callback.
type WebhookEvent struct {
	ExternalTaskID string
	Envelope       domain.Envelope
}

// WebhookParser is implemented by adapters whose vendor pushes callbacks.
// Callbacks do not always say which media type a job produced, so asset
// kinds in a parsed result may be empty until the reconciler fills them in.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte) (WebhookEvent, error)
}

// ParamString returns params[key] as a trimmed string, or "".
func ParamString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ParamsWithout returns a shallow copy of params without the given keys.
func ParamsWithout(params map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// BuildResult normalizes vendor output URLs into a TaskResult document.
func BuildResult(mediaType domain.MediaType, urls []string, metadata map[string]any) (json.RawMessage, error) {
	result := domain.TaskResult{Assets: make([]domain.Asset, 0, len(urls)), Metadata: metadata}
	kind := domain.AssetKindFor(mediaType)
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		result.Assets = append(result.Assets, domain.Asset{URL: u, Kind: kind, MIME: guessMIME(u)})
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return domain.CompactJSON(raw), nil
}

var mediaMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
}

func guessMIME(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if ext == "" {
		return ""
	}
	if t, ok := mediaMIME[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			return t[:i]
		}
		return t
	}
	return ""
}
