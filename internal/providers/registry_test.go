package providers

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genflow/internal/domain"
)

type fakeAdapter struct {
	name domain.ProviderName
	tag  string
}

func (f *fakeAdapter) Name() domain.ProviderName { return f.name }

func (f *fakeAdapter) Submit(context.Context, SubmitSpec) (string, error) { return f.tag, nil }

func (f *fakeAdapter) Query(context.Context, string, domain.MediaType, string) (domain.Envelope, error) {
	return domain.Envelope{Status: domain.TaskStatusPending}, nil
}

type fakeWebhookAdapter struct{ fakeAdapter }

func (f *fakeWebhookAdapter) ParseWebhook(context.Context, []byte) (WebhookEvent, error) {
	return WebhookEvent{}, nil
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	a := &fakeAdapter{name: domain.ProviderKie}
	reg.Register(Descriptor{Name: domain.ProviderKie, Capabilities: []Capability{CapabilitySubmit, CapabilityQuery}}, a)

	got, ok := reg.Resolve(domain.ProviderKie)
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = reg.Resolve(" KIE ")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Same(t, a, got)

	_, ok = reg.Resolve("midjourney")
	assert.False(t, ok)
}

func TestRegistryDuplicateLastWriteWins(t *testing.T) {
	var buf bytes.Buffer
	reg := NewRegistry(zerolog.New(&buf))
	first := &fakeAdapter{name: domain.ProviderFal, tag: "first"}
	second := &fakeAdapter{name: domain.ProviderFal, tag: "second"}

	reg.Register(Descriptor{Name: domain.ProviderFal}, first)
	reg.Register(Descriptor{Name: "FAL"}, second)

	got, ok := reg.Resolve(domain.ProviderFal)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Contains(t, buf.String(), "registered twice")
	assert.Equal(t, []domain.ProviderName{domain.ProviderFal}, reg.Names())
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	for _, name := range []domain.ProviderName{domain.ProviderReplicate, domain.ProviderDashScope, domain.ProviderKie} {
		reg.Register(Descriptor{Name: name}, &fakeAdapter{name: name})
	}
	assert.Equal(t, []domain.ProviderName{domain.ProviderDashScope, domain.ProviderKie, domain.ProviderReplicate}, reg.Names())
}

func TestRegistryWebhookParser(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.Register(Descriptor{Name: domain.ProviderReplicate, Capabilities: []Capability{CapabilityWebhook}},
		&fakeWebhookAdapter{fakeAdapter{name: domain.ProviderReplicate}})
	reg.Register(Descriptor{Name: domain.ProviderFal},
		&fakeWebhookAdapter{fakeAdapter{name: domain.ProviderFal}})
	reg.Register(Descriptor{Name: domain.ProviderDashScope, Capabilities: []Capability{CapabilityWebhook}},
		&fakeAdapter{name: domain.ProviderDashScope})

	_, ok := reg.WebhookParser(domain.ProviderReplicate)
	assert.True(t, ok)
	_, ok = reg.WebhookParser(domain.ProviderFal)
	assert.False(t, ok, "capability not declared")
	_, ok = reg.WebhookParser(domain.ProviderDashScope)
	assert.False(t, ok, "adapter cannot parse callbacks")
	_, ok = reg.WebhookParser(domain.ProviderKie)
	assert.False(t, ok, "not registered")

	desc, ok := reg.Descriptor(domain.ProviderReplicate)
	require.True(t, ok)
	assert.True(t, desc.Has(CapabilityWebhook))
	assert.False(t, desc.Has(CapabilitySubmit))
}

func TestBuildResult(t *testing.T) {
	raw, err := BuildResult(domain.MediaTypeImage, []string{"https://cdn.example.com/a.png?sig=1", " ", "https://cdn.example.com/b"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"assets":[
		{"url":"https://cdn.example.com/a.png?sig=1","kind":"image","mime":"image/png"},
		{"url":"https://cdn.example.com/b","kind":"image"}
	]}`, string(raw))

	raw, err = BuildResult(domain.MediaTypeMusic, []string{"https://cdn.example.com/b"}, map[string]any{"title": "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"assets":[{"url":"https://cdn.example.com/b","kind":"audio"}],"metadata":{"title":"x"}}`, string(raw))
}
