package registry

// modelTable is the curated price list. Prices are USD per 1000 tokens; the
// effective date records the provider price sheet the entry was taken from.
var modelTable = []PricingEntry{
	// OpenAI
	{Model: "gpt-4o", Provider: "openai", InputPer1K: 0.010, OutputPer1K: 0.020, Currency: "USD", EffectiveDate: "2024-08-01", ContextWindow: 128000, Capabilities: []string{"chat", "tools", "vision"}},
	{Model: "gpt-4o-mini", Provider: "openai", InputPer1K: 0.00015, OutputPer1K: 0.0006, Currency: "USD", EffectiveDate: "2024-07-18", ContextWindow: 128000, Capabilities: []string{"chat", "tools", "vision"}},
	{Model: "gpt-4-turbo", Provider: "openai", InputPer1K: 0.010, OutputPer1K: 0.030, Currency: "USD", EffectiveDate: "2024-04-09", ContextWindow: 128000, Capabilities: []string{"chat", "tools", "vision"}},
	{Model: "gpt-4", Provider: "openai", InputPer1K: 0.030, OutputPer1K: 0.060, Currency: "USD", EffectiveDate: "2023-06-13", ContextWindow: 8192, Capabilities: []string{"chat", "tools"}},
	{Model: "gpt-3.5-turbo", Provider: "openai", InputPer1K: 0.0005, OutputPer1K: 0.0015, Currency: "USD", EffectiveDate: "2024-02-16", ContextWindow: 16385, Capabilities: []string{"chat", "tools"}},
	{Model: "o1-preview", Provider: "openai", InputPer1K: 0.015, OutputPer1K: 0.060, Currency: "USD", EffectiveDate: "2024-09-12", ContextWindow: 128000, Capabilities: []string{"chat", "reasoning"}},
	{Model: "o1-mini", Provider: "openai", InputPer1K: 0.003, OutputPer1K: 0.012, Currency: "USD", EffectiveDate: "2024-09-12", ContextWindow: 128000, Capabilities: []string{"chat", "reasoning"}},
	{Model: "text-embedding-3-small", Provider: "openai", InputPer1K: 0.00002, OutputPer1K: 0, Currency: "USD", EffectiveDate: "2024-01-25", ContextWindow: 8191, Capabilities: []string{"embeddings"}},
	{Model: "text-embedding-3-large", Provider: "openai", InputPer1K: 0.00013, OutputPer1K: 0, Currency: "USD", EffectiveDate: "2024-01-25", ContextWindow: 8191, Capabilities: []string{"embeddings"}},

	// Anthropic
	{Model: "claude-3-opus-20240229", Provider: "anthropic", InputPer1K: 0.015, OutputPer1K: 0.075, Currency: "USD", EffectiveDate: "2024-02-29", ContextWindow: 200000, Capabilities: []string{"chat", "tools", "vision"}},
	{Model: "claude-3-sonnet-20240229", Provider: "anthropic", InputPer1K: 0.003, OutputPer1K: 0.015, Currency: "USD", EffectiveDate: "2024-02-29", ContextWindow: 200000, Capabilities: []string{"chat", "tools", "vision"}},
	{Model: "claude-3-haiku-20240307", Provider: "anthropic", InputPer1K: 0.00025, OutputPer1K: 0.00125, Currency: "USD", EffectiveDate: "2024-03-07", ContextWindow: 200000, Capabilities: []string{"chat", "tools", "vision"}},
	{Model: "claude-3-5-sonnet-20241022", Provider: "anthropic", InputPer1K: 0.003, OutputPer1K: 0.015, Currency: "USD", EffectiveDate: "2024-10-22", ContextWindow: 200000, Capabilities: []string{"chat", "tools", "vision"}},
	{Model: "claude-3-5-haiku-20241022", Provider: "anthropic", InputPer1K: 0.0008, OutputPer1K: 0.004, Currency: "USD", EffectiveDate: "2024-10-22", ContextWindow: 200000, Capabilities: []string{"chat", "tools"}},

	// Google
	{Model: "gemini-1.5-pro", Provider: "google", InputPer1K: 0.00125, OutputPer1K: 0.005, Currency: "USD", EffectiveDate: "2024-09-24", ContextWindow: 2000000, Capabilities: []string{"chat", "tools", "vision"}},
	{Model: "gemini-1.5-flash", Provider: "google", InputPer1K: 0.000075, OutputPer1K: 0.0003, Currency: "USD", EffectiveDate: "2024-09-24", ContextWindow: 1000000, Capabilities: []string{"chat", "tools", "vision"}},
	{Model: "gemini-1.0-pro", Provider: "google", InputPer1K: 0.0005, OutputPer1K: 0.0015, Currency: "USD", EffectiveDate: "2024-02-15", ContextWindow: 32760, Capabilities: []string{"chat"}},

	// Cohere
	{Model: "command-r-plus", Provider: "cohere", InputPer1K: 0.0025, OutputPer1K: 0.010, Currency: "USD", EffectiveDate: "2024-08-30", ContextWindow: 128000, Capabilities: []string{"chat", "tools"}},
	{Model: "command-r", Provider: "cohere", InputPer1K: 0.00015, OutputPer1K: 0.0006, Currency: "USD", EffectiveDate: "2024-08-30", ContextWindow: 128000, Capabilities: []string{"chat", "tools"}},
	{Model: "command-light", Provider: "cohere", InputPer1K: 0.0003, OutputPer1K: 0.0006, Currency: "USD", EffectiveDate: "2023-11-02", ContextWindow: 4096, Capabilities: []string{"chat"}},

	// Mistral
	{Model: "mistral-large-latest", Provider: "mistral", InputPer1K: 0.002, OutputPer1K: 0.006, Currency: "USD", EffectiveDate: "2024-11-18", ContextWindow: 128000, Capabilities: []string{"chat", "tools"}},
	{Model: "mistral-small-latest", Provider: "mistral", InputPer1K: 0.0002, OutputPer1K: 0.0006, Currency: "USD", EffectiveDate: "2024-09-17", ContextWindow: 32000, Capabilities: []string{"chat", "tools"}},
	{Model: "mixtral-8x7b", Provider: "mistral", InputPer1K: 0.0007, OutputPer1K: 0.0007, Currency: "USD", EffectiveDate: "2023-12-11", ContextWindow: 32000, Capabilities: []string{"chat"}},
	{Model: "codestral-latest", Provider: "mistral", InputPer1K: 0.0002, OutputPer1K: 0.0006, Currency: "USD", EffectiveDate: "2024-05-29", ContextWindow: 32000, Capabilities: []string{"chat", "code"}},
}

// aliasTable maps convenience names to canonical model ids.
var aliasTable = map[string]string{
	"gpt-4o-latest":       "gpt-4o",
	"gpt-4-turbo-preview": "gpt-4-turbo",
	"gpt-3.5":             "gpt-3.5-turbo",
	"claude-3-opus":       "claude-3-opus-20240229",
	"claude-3-sonnet":     "claude-3-sonnet-20240229",
	"claude-3-haiku":      "claude-3-haiku-20240307",
	"claude-3-5-sonnet":   "claude-3-5-sonnet-20241022",
	"claude-3-5-haiku":    "claude-3-5-haiku-20241022",
	"gemini-pro":          "gemini-1.5-pro",
	"gemini-flash":        "gemini-1.5-flash",
	"mistral-large":       "mistral-large-latest",
	"mistral-small":       "mistral-small-latest",
	"codestral":           "codestral-latest",
}
