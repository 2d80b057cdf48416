package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// ProviderConfig holds credentials and endpoints for one AI vendor.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	// QueueURL is only used by vendors that split submission and result hosts.
	QueueURL string
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	StoreDriver      string
	RedisURL         string
	JWTSecret        string
	WebhookToken     string
	PublicBaseURL    string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	ProviderTimeout   time.Duration
	ProviderRetries   int
	ProviderRetryBase time.Duration
	Kie               ProviderConfig
	Replicate         ProviderConfig
	Fal               ProviderConfig
	DashScope         ProviderConfig

	DashScopeDefaultSize  string
	DashScopePromptExtend bool
	DashScopeWatermark    bool

	CreditsImage          int64
	CreditsVideo          int64
	CreditsMusic          int64
	CreditsModelOverrides map[string]int64

	SweepSchedule     string
	SweepBatchSize    int
	SweepConcurrency  int
	TaskMaxAge        time.Duration
	SweepLeaseTTL     time.Duration
	WorkerMetricsAddr string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		WebhookToken:     os.Getenv("WEBHOOK_TOKEN"),
		PublicBaseURL:    strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT_SECONDS", time.Second, 15),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT_SECONDS", time.Second, 30),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT_SECONDS", time.Second, 60),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		ProviderTimeout:   getEnvDuration("PROVIDER_TIMEOUT_SECONDS", time.Second, 10),
		ProviderRetries:   getEnvInt("PROVIDER_MAX_RETRIES", 2),
		ProviderRetryBase: getEnvDuration("PROVIDER_RETRY_BASE_MS", time.Millisecond, 500),
		Kie: ProviderConfig{
			APIKey:  os.Getenv("KIE_API_KEY"),
			BaseURL: getEnv("KIE_BASE_URL", "https://api.kie.ai"),
		},
		Replicate: ProviderConfig{
			APIKey:  os.Getenv("REPLICATE_API_TOKEN"),
			BaseURL: getEnv("REPLICATE_BASE_URL", "https://api.replicate.com"),
		},
		Fal: ProviderConfig{
			APIKey:   os.Getenv("FAL_KEY"),
			QueueURL: getEnv("FAL_QUEUE_URL", "https://queue.fal.run"),
		},
		DashScope: ProviderConfig{
			APIKey:  os.Getenv("DASHSCOPE_API_KEY"),
			BaseURL: getEnv("DASHSCOPE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		},

		DashScopeDefaultSize:  getEnv("DASHSCOPE_DEFAULT_SIZE", "1328*1328"),
		DashScopePromptExtend: getEnvBool("DASHSCOPE_PROMPT_EXTEND", false),
		DashScopeWatermark:    getEnvBool("DASHSCOPE_WATERMARK", false),

		CreditsImage: int64(getEnvInt("CREDITS_IMAGE", 2)),
		CreditsVideo: int64(getEnvInt("CREDITS_VIDEO", 10)),
		CreditsMusic: int64(getEnvInt("CREDITS_MUSIC", 5)),

		SweepSchedule:     getEnv("SWEEP_SCHEDULE", "@every 30s"),
		SweepBatchSize:    getEnvInt("SWEEP_BATCH_SIZE", 100),
		SweepConcurrency:  getEnvInt("SWEEP_CONCURRENCY", 4),
		TaskMaxAge:        getEnvDuration("TASK_MAX_AGE_MINUTES", time.Minute, 24*60),
		SweepLeaseTTL:     getEnvDuration("SWEEP_LEASE_TTL_SECONDS", time.Second, 120),
		WorkerMetricsAddr: getEnv("WORKER_METRICS_ADDR", ":9091"),
	}

	overrides, err := parseModelOverrides(os.Getenv("CREDITS_MODEL_OVERRIDES"))
	if err != nil {
		return nil, err
	}
	cfg.CreditsModelOverrides = overrides

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.ProviderTimeout <= 0 {
		return nil, fmt.Errorf("PROVIDER_TIMEOUT_SECONDS must be positive")
	}
	if cfg.ProviderRetries < 0 {
		cfg.ProviderRetries = 0
	}
	if cfg.CreditsImage <= 0 || cfg.CreditsVideo <= 0 || cfg.CreditsMusic <= 0 {
		return nil, fmt.Errorf("CREDITS_IMAGE, CREDITS_VIDEO and CREDITS_MUSIC must be positive")
	}

	return cfg, nil
}

// ValidateAPI checks the settings only the api process needs.
func (c *Config) ValidateAPI() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

// CallbackURL builds the public webhook URL for a provider. It returns ""
// unless both PUBLIC_BASE_URL and WEBHOOK_TOKEN are set; the webhook endpoint
// rejects unauthenticated callbacks.
func (c *Config) CallbackURL(provider string) string {
	if c == nil || c.PublicBaseURL == "" || c.WebhookToken == "" {
		return ""
	}
	return c.PublicBaseURL + "/v1/webhooks/" + provider + "?token=" + url.QueryEscape(c.WebhookToken)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// parseModelOverrides reads "model=credits,model=credits".
func parseModelOverrides(raw string) (map[string]int64, error) {
	out := map[string]int64{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("CREDITS_MODEL_OVERRIDES: malformed entry %q", part)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(part[idx+1:]), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CREDITS_MODEL_OVERRIDES: invalid credits in %q", part)
		}
		out[strings.TrimSpace(part[:idx])] = n
	}
	return out, nil
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads an integer count of unit.
func getEnvDuration(key string, unit time.Duration, fallback int) time.Duration {
	return unit * time.Duration(getEnvInt(key, fallback))
}
