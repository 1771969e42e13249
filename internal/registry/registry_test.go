package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAlias(t *testing.T) {
	r := New()

	assert.Equal(t, "gpt-4o", r.ResolveAlias("gpt-4o-latest"))
	assert.Equal(t, "claude-3-opus-20240229", r.ResolveAlias("claude-3-opus"))
	// Canonical names pass through.
	assert.Equal(t, "gpt-4o", r.ResolveAlias("gpt-4o"))
	// Unknown names pass through untouched.
	assert.Equal(t, "some-future-model", r.ResolveAlias("some-future-model"))
}

func TestPricing(t *testing.T) {
	r := New()

	entry, ok := r.Pricing("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "openai", entry.Provider)
	assert.InDelta(t, 0.010, entry.InputPer1K, 1e-9)
	assert.InDelta(t, 0.020, entry.OutputPer1K, 1e-9)
	assert.Equal(t, "USD", entry.Currency)

	// Aliases resolve before the price lookup.
	aliased, ok := r.Pricing("claude-3-5-sonnet")
	require.True(t, ok)
	assert.Equal(t, "anthropic", aliased.Provider)

	_, ok = r.Pricing("unknown-model")
	assert.False(t, ok)
}

func TestProviderFor(t *testing.T) {
	r := New()

	tests := map[string]string{
		"gpt-4o":                     "openai",
		"o1-preview":                 "openai",
		"text-embedding-3-small":     "openai",
		"claude-3-5-sonnet-20241022": "anthropic",
		"gemini-1.5-flash":           "google",
		"command-r-plus":             "cohere",
		"mistral-large-latest":       "mistral",
		"mixtral-8x7b":               "mistral",
		"codestral-latest":           "mistral",
		// Unknown models fall back to prefix heuristics.
		"gpt-5-preview":    "openai",
		"claude-4-opus":    "anthropic",
		"gemini-2.0-flash": "google",
		"command-x":        "cohere",
		"totally-unknown":  "openai",
	}
	for model, want := range tests {
		assert.Equal(t, want, r.ProviderFor(model), "model %s", model)
	}
}

func TestModelsByProvider(t *testing.T) {
	r := New()

	openai := r.ModelsByProvider("openai")
	assert.Contains(t, openai, "gpt-4o")
	assert.Contains(t, openai, "gpt-4o-mini")
	assert.NotContains(t, openai, "claude-3-opus-20240229")

	assert.Empty(t, r.ModelsByProvider("nonexistent"))

	all := r.SupportedModels()
	assert.GreaterOrEqual(t, len(all), 20)
}
