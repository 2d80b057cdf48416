package providers

import (
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"genflow/internal/domain"
	"genflow/internal/infra"
)

// Capability names an optional feature of a provider integration.
type Capability string

const (
	CapabilitySubmit  Capability = "submit"
	CapabilityQuery   Capability = "query"
	CapabilityWebhook Capability = "webhook"
)

// Descriptor describes a registered provider. Config holds non-secret
// settings such as base URLs and model defaults.
type Descriptor struct {
	Name         domain.ProviderName
	Capabilities []Capability
	Config       map[string]string
}

// Has reports whether the descriptor declares capability c.
func (d Descriptor) Has(c Capability) bool {
	return slices.Contains(d.Capabilities, c)
}

type registration struct {
	desc    Descriptor
	adapter Adapter
}

// Registry maps provider names to adapters. It is built once per process and
// is safe for concurrent lookups.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.ProviderName]registration
	logger  infra.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger infra.Logger) *Registry {
	return &Registry{
		entries: make(map[domain.ProviderName]registration),
		logger:  logger.With().Str("component", "provider_registry").Logger(),
	}
}

// Register adds adapter under desc.Name. Registering a name twice replaces
// the earlier adapter and logs a warning.
func (r *Registry) Register(desc Descriptor, adapter Adapter) {
	name := foldName(string(desc.Name))
	desc.Name = name

	r.mu.Lock()
	_, replaced := r.entries[name]
	r.entries[name] = registration{desc: desc, adapter: adapter}
	r.mu.Unlock()

	if replaced {
		r.logger.Warn().Str("provider", string(name)).Msg("provider registered twice; replacing previous adapter")
		return
	}
	caps := make([]string, 0, len(desc.Capabilities))
	for _, c := range desc.Capabilities {
		caps = append(caps, string(c))
	}
	r.logger.Info().Str("provider", string(name)).Strs("capabilities", caps).Msg("provider registered")
}

// Resolve returns the adapter registered under name.
func (r *Registry) Resolve(name domain.ProviderName) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[foldName(string(name))]
	if !ok {
		return nil, false
	}
	return e.adapter, true
}

// Descriptor returns the descriptor registered under name.
func (r *Registry) Descriptor(name domain.ProviderName) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[foldName(string(name))]
	return e.desc, ok
}

// WebhookParser returns the webhook parser for name when the provider
// declares the webhook capability and its adapter can parse callbacks.
func (r *Registry) WebhookParser(name domain.ProviderName) (WebhookParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[foldName(string(name))]
	if !ok || !e.desc.Has(CapabilityWebhook) {
		return nil, false
	}
	parser, ok := e.adapter.(WebhookParser)
	return parser, ok
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []domain.ProviderName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProviderName, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// foldName builds a fresh Caser per call; a cases.Caser is not safe for
// concurrent use.
func foldName(name string) domain.ProviderName {
	return domain.ProviderName(cases.Fold().String(strings.TrimSpace(name)))
}
