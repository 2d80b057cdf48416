// Package bootstrap assembles the generation core once per process. The api,
// worker and genctl binaries share it so they resolve providers and price
// jobs identically.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"genflow/internal/adapter/memory"
	"genflow/internal/adapter/repo"
	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/infra/credentials"
	"genflow/internal/ledger"
	"genflow/internal/providers"
	"genflow/internal/providers/dashscope"
	"genflow/internal/providers/fal"
	"genflow/internal/providers/kie"
	"genflow/internal/providers/replicate"
	"genflow/internal/reconciler"
)

// Core is the wired generation bundle.
type Core struct {
	Store      domain.Store
	Registry   *providers.Registry
	Ledger     *ledger.Ledger
	Reconciler *reconciler.Reconciler
}

// Backend is the storage a process runs against. Runner and Credentials are
// nil for the memory driver.
type Backend struct {
	Store       domain.Store
	Runner      *infra.SQLRunner
	Credentials *credentials.Store
	close       func()
}

// Close releases the database pool, if any.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// CredentialRepository returns the credential store, or a nil interface for
// the memory driver.
func (b *Backend) CredentialRepository() domain.CredentialRepository {
	if b == nil || b.Credentials == nil {
		return nil
	}
	return b.Credentials
}

// OpenBackend connects the store selected by STORE_DRIVER.
func OpenBackend(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Backend, error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		logger.Warn().Msg("using in-memory store; tasks and credits are lost on restart")
		return &Backend{Store: memory.NewStore()}, nil
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		return &Backend{
			Store:       repo.NewStore(runner),
			Runner:      runner,
			Credentials: credentials.NewStore(runner),
			close:       pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// NewCore registers every provider that has an API key and wires the ledger
// and reconciler on top of store. creds may be nil.
func NewCore(ctx context.Context, cfg *infra.Config, store domain.Store, creds domain.CredentialRepository, logger infra.Logger) (*Core, error) {
	registry := providers.NewRegistry(logger)
	transport := providers.TransportOptions{
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderRetries,
		RetryBase:  cfg.ProviderRetryBase,
		Logger:     &logger,
	}
	webhook := []providers.Capability{providers.CapabilitySubmit, providers.CapabilityQuery, providers.CapabilityWebhook}
	pollOnly := []providers.Capability{providers.CapabilitySubmit, providers.CapabilityQuery}

	if key := apiKey(ctx, cfg.Kie.APIKey, creds, domain.ProviderKie, logger); key != "" {
		a, err := kie.New(kie.Options{APIKey: key, BaseURL: cfg.Kie.BaseURL, Transport: transport})
		if err != nil {
			return nil, err
		}
		registry.Register(descriptor(domain.ProviderKie, webhook, cfg.Kie.BaseURL), a)
	}
	if key := apiKey(ctx, cfg.Replicate.APIKey, creds, domain.ProviderReplicate, logger); key != "" {
		a, err := replicate.New(replicate.Options{APIToken: key, BaseURL: cfg.Replicate.BaseURL, Transport: transport})
		if err != nil {
			return nil, err
		}
		registry.Register(descriptor(domain.ProviderReplicate, webhook, cfg.Replicate.BaseURL), a)
	}
	if key := apiKey(ctx, cfg.Fal.APIKey, creds, domain.ProviderFal, logger); key != "" {
		a, err := fal.New(fal.Options{APIKey: key, QueueURL: cfg.Fal.QueueURL, Transport: transport})
		if err != nil {
			return nil, err
		}
		registry.Register(descriptor(domain.ProviderFal, webhook, cfg.Fal.QueueURL), a)
	}
	if key := apiKey(ctx, cfg.DashScope.APIKey, creds, domain.ProviderDashScope, logger); key != "" {
		a, err := dashscope.New(dashscope.Options{
			APIKey:       key,
			BaseURL:      cfg.DashScope.BaseURL,
			DefaultSize:  cfg.DashScopeDefaultSize,
			PromptExtend: cfg.DashScopePromptExtend,
			Watermark:    cfg.DashScopeWatermark,
			Transport:    transport,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(descriptor(domain.ProviderDashScope, pollOnly, cfg.DashScope.BaseURL), a)
	}

	if len(registry.Names()) == 0 {
		logger.Warn().Msg("no provider has an api key; every submission will fail")
	}

	l := ledger.New(store, logger)
	rec := reconciler.New(store, registry, l, logger, reconciler.Options{
		Pricing: reconciler.Pricing{
			Image:  cfg.CreditsImage,
			Video:  cfg.CreditsVideo,
			Music:  cfg.CreditsMusic,
			Models: cfg.CreditsModelOverrides,
		},
		CallbackURL: func(p domain.ProviderName) string { return cfg.CallbackURL(string(p)) },
	})
	return &Core{Store: store, Registry: registry, Ledger: l, Reconciler: rec}, nil
}

// SweepOptions maps the sweep settings of cfg.
func SweepOptions(cfg *infra.Config) reconciler.SweepOptions {
	return reconciler.SweepOptions{
		Limit:       cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
		MaxAge:      cfg.TaskMaxAge,
	}
}

// apiKey prefers the environment and falls back to the credential store.
func apiKey(ctx context.Context, fromEnv string, creds domain.CredentialRepository, provider domain.ProviderName, logger infra.Logger) string {
	if key := strings.TrimSpace(fromEnv); key != "" {
		return key
	}
	if creds == nil {
		return ""
	}
	key, err := creds.Token(ctx, string(provider))
	if err != nil {
		logger.Warn().Err(err).Str("provider", string(provider)).Msg("failed to load api key from store")
		return ""
	}
	if key == "" {
		logger.Info().Str("provider", string(provider)).Msg("provider disabled: no api key")
	}
	return key
}

func descriptor(name domain.ProviderName, caps []providers.Capability, baseURL string) providers.Descriptor {
	return providers.Descriptor{
		Name:         name,
		Capabilities: caps,
		Config:       map[string]string{"base_url": baseURL},
	}
}
