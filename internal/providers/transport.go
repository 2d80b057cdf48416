package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/telemetry"
	"genflow/pkg/retry"
)

const maxResponseBytes = 4 << 20

// TransportOptions configures the HTTP transport shared by vendor adapters.
type TransportOptions struct {
	HTTPClient *http.Client
	// Timeout bounds a single attempt. Defaults to 10s.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryBase is the first backoff delay. Defaults to 500ms.
	RetryBase time.Duration
	Logger    *infra.Logger
}

// Transport performs vendor HTTP calls with a per-attempt timeout, bounded
// retries for transient failures and error classification.
type Transport struct {
	provider   domain.ProviderName
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration
	logger     infra.Logger
}

// Request describes one vendor call. Body is JSON-encoded when non-nil.
type Request struct {
	Op     string
	Method string
	URL    string
	Header http.Header
	Body   any
}

// NewTransport builds a transport for provider with defaults applied.
func NewTransport(provider domain.ProviderName, opts TransportOptions) *Transport {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Transport{
		provider:   provider,
		httpClient: httpClient,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		logger:     logger.With().Str("provider", string(provider)).Logger(),
	}
}

// Logger returns the provider-scoped logger.
func (t *Transport) Logger() *infra.Logger {
	return &t.logger
}

// Do sends req and returns the raw 2xx response body. When out is non-nil the
// body is decoded into it; a decode failure is reported as ErrProviderParse.
func (t *Transport) Do(ctx context.Context, req Request, out any) ([]byte, error) {
	var payload []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, t.Rejected(req.Op, 0, fmt.Errorf("encode request: %w", err))
		}
		payload = encoded
	}

	start := time.Now()
	var body []byte
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: t.maxRetries + 1,
		BaseDelay:   t.retryBase,
		MaxDelay:    8 * t.retryBase,
		Retryable:   domain.IsTransient,
		OnRetry: func(attempt int, err error) {
			telemetry.ProviderRetries.WithLabelValues(string(t.provider), req.Op).Inc()
			t.logger.Warn().Err(err).Str("op", req.Op).Int("attempt", attempt).Msg("provider call failed; retrying")
		},
	}, func(ctx context.Context) error {
		var attemptErr error
		body, attemptErr = t.attempt(ctx, req, payload)
		return attemptErr
	})
	telemetry.ProviderLatencySeconds.WithLabelValues(string(t.provider), req.Op).Observe(time.Since(start).Seconds())

	if err != nil {
		var perr *domain.ProviderError
		if !errors.As(err, &perr) {
			// Context cancelled between attempts.
			err = t.Transient(req.Op, 0, err)
		}
		telemetry.ProviderCalls.WithLabelValues(string(t.provider), req.Op, resultLabel(err)).Inc()
		return nil, err
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			perr := t.Parse(req.Op, fmt.Errorf("decode response: %w", err))
			telemetry.ProviderCalls.WithLabelValues(string(t.provider), req.Op, resultLabel(perr)).Inc()
			return nil, perr
		}
	}
	telemetry.ProviderCalls.WithLabelValues(string(t.provider), req.Op, "ok").Inc()
	return body, nil
}

func (t *Transport) attempt(ctx context.Context, req Request, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return nil, t.Rejected(req.Op, 0, fmt.Errorf("build request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if payload != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, t.Transient(req.Op, 0, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, t.Transient(req.Op, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, t.Transient(req.Op, resp.StatusCode, errors.New(snippet(raw)))
	default:
		return nil, t.Rejected(req.Op, resp.StatusCode, errors.New(snippet(raw)))
	}
}

// Transient builds a retryable provider error.
func (t *Transport) Transient(op string, status int, err error) error {
	return &domain.ProviderError{Provider: t.provider, Op: op, StatusCode: status, Kind: domain.ErrProviderTransient, Err: err}
}

// Rejected builds a non-retryable provider error for a refused request.
func (t *Transport) Rejected(op string, status int, err error) error {
	return &domain.ProviderError{Provider: t.provider, Op: op, StatusCode: status, Kind: domain.ErrProviderRejected, Err: err}
}

// Parse builds a provider error for a payload that could not be understood.
func (t *Transport) Parse(op string, err error) error {
	return &domain.ProviderError{Provider: t.provider, Op: op, Kind: domain.ErrProviderParse, Err: err}
}

// FromVendorCode classifies an error code carried inside a 2xx response
// envelope the way HTTP status codes are classified.
func (t *Transport) FromVendorCode(op string, code int, msg string) error {
	err := fmt.Errorf("vendor code %d: %s", code, msg)
	if code == http.StatusTooManyRequests || code >= 500 {
		return t.Transient(op, code, err)
	}
	return t.Rejected(op, code, err)
}

// StatusMap maps lower-cased vendor status strings to task statuses.
type StatusMap map[string]domain.TaskStatus

// MapStatus looks raw up in table. Unknown values are logged, counted and
// treated as PROCESSING.
func (t *Transport) MapStatus(table StatusMap, raw string) domain.TaskStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if st, ok := table[key]; ok {
		return st
	}
	telemetry.UnknownStatuses.WithLabelValues(string(t.provider)).Inc()
	t.logger.Warn().Str("vendor_status", raw).Msg("unknown provider status; treating as processing")
	return domain.TaskStatusProcessing
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderTransient):
		return "transient"
	case errors.Is(err, domain.ErrProviderParse):
		return "parse"
	case errors.Is(err, domain.ErrProviderRejected):
		return "rejected"
	default:
		return "error"
	}
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}
