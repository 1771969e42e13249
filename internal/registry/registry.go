// Package registry holds the static model table: pricing, context windows,
// capabilities, and model aliases. It is read-only after construction and is
// the canonical pricing source on the request path.
package registry

import (
	"sort"
	"strings"
)

// PricingEntry is the curated price record for one model. Prices are USD per
// 1000 tokens.
type PricingEntry struct {
	Model         string
	Provider      string
	InputPer1K    float64
	OutputPer1K   float64
	Currency      string
	EffectiveDate string
	ContextWindow int
	Capabilities  []string
}

// Registry resolves model identifiers to providers and pricing.
type Registry struct {
	entries map[string]PricingEntry
	aliases map[string]string
}

// New builds the registry from the built-in model table.
func New() *Registry {
	r := &Registry{
		entries: make(map[string]PricingEntry, len(modelTable)),
		aliases: make(map[string]string, len(aliasTable)),
	}
	for _, e := range modelTable {
		r.entries[e.Model] = e
	}
	for alias, canonical := range aliasTable {
		r.aliases[alias] = canonical
	}
	return r
}

// ResolveAlias maps an alias to its canonical model id. Unknown ids pass
// through unchanged.
func (r *Registry) ResolveAlias(model string) string {
	if canonical, ok := r.aliases[model]; ok {
		return canonical
	}
	return model
}

// Pricing returns the price entry for a canonical model id.
func (r *Registry) Pricing(model string) (PricingEntry, bool) {
	e, ok := r.entries[r.ResolveAlias(model)]
	return e, ok
}

// ProviderFor returns the provider that serves a model. Unknown models fall
// back to prefix heuristics, then to openai.
func (r *Registry) ProviderFor(model string) string {
	if e, ok := r.entries[r.ResolveAlias(model)]; ok {
		return e.Provider
	}
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "text-embedding"):
		return "openai"
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini-"):
		return "google"
	case strings.HasPrefix(model, "command"):
		return "cohere"
	case strings.HasPrefix(model, "mistral-"), strings.HasPrefix(model, "mixtral-"), strings.HasPrefix(model, "codestral-"):
		return "mistral"
	}
	return "openai"
}

// ModelsByProvider lists the canonical model ids served by a provider,
// sorted for stable output.
func (r *Registry) ModelsByProvider(provider string) []string {
	var models []string
	for id, e := range r.entries {
		if e.Provider == provider {
			models = append(models, id)
		}
	}
	sort.Strings(models)
	return models
}

// SupportedModels lists every canonical model id, sorted.
func (r *Registry) SupportedModels() []string {
	models := make([]string, 0, len(r.entries))
	for id := range r.entries {
		models = append(models, id)
	}
	sort.Strings(models)
	return models
}

// Providers lists the distinct providers present in the table, sorted.
func (r *Registry) Providers() []string {
	seen := make(map[string]struct{})
	for _, e := range r.entries {
		seen[e.Provider] = struct{}{}
	}
	providers := make([]string, 0, len(seen))
	for p := range seen {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}
