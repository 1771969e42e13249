// Package pricing computes monetary cost from token usage against the
// curated model price table.
package pricing

import (
	"fmt"
	"math"

	"github.com/als-ai/gateway/internal/registry"
)

// defaultExpectedOutputTokens is assumed for pre-call estimates when the
// caller gives no better figure.
const defaultExpectedOutputTokens = 150

// Usage is the token count pair extracted from a provider response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is the computed cost for one response.
type Result struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
	Currency     string  `json:"currency"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputRate    float64 `json:"input_rate"`
	OutputRate   float64 `json:"output_rate"`
}

// Estimate is a pre-call cost guess used for limiter admission.
type Estimate struct {
	InputTokens     int     `json:"input_tokens"`
	ExpectedOutput  int     `json:"expected_output_tokens"`
	EstimatedCost   float64 `json:"estimated_cost"`
	Currency        string  `json:"currency"`
	Confidence      float64 `json:"confidence"`
	PricingKnown    bool    `json:"pricing_known"`
}

// Calculator prices token usage. MinimumCost, when positive, floors every
// non-zero total.
type Calculator struct {
	registry    *registry.Registry
	MinimumCost float64
}

func NewCalculator(reg *registry.Registry) *Calculator {
	return &Calculator{registry: reg}
}

// EstimateTokens approximates the token count of a text: one token per four
// characters, rounded up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / 4.0))
}

// Estimate predicts the cost of a call before it is made. Confidence is 0.7
// when pricing is known, 0 otherwise.
func (c *Calculator) Estimate(provider, model, inputText string, expectedOutputTokens int) Estimate {
	if expectedOutputTokens <= 0 {
		expectedOutputTokens = defaultExpectedOutputTokens
	}
	inputTokens := EstimateTokens(inputText)

	est := Estimate{
		InputTokens:    inputTokens,
		ExpectedOutput: expectedOutputTokens,
		Currency:       "USD",
	}

	entry, ok := c.registry.Pricing(model)
	if !ok || entry.Provider != provider {
		return est
	}

	est.PricingKnown = true
	est.Confidence = 0.7
	est.Currency = entry.Currency
	est.EstimatedCost = round6(float64(inputTokens)/1000*entry.InputPer1K +
		float64(expectedOutputTokens)/1000*entry.OutputPer1K)
	return est
}

// Calculate prices actual usage. All monetary fields are rounded to six
// decimal places.
func (c *Calculator) Calculate(provider, model string, usage Usage) (Result, error) {
	entry, ok := c.registry.Pricing(model)
	if !ok || entry.Provider != provider {
		return Result{}, fmt.Errorf("no pricing for model %q on provider %q", model, provider)
	}

	inputCost := float64(usage.InputTokens) / 1000 * entry.InputPer1K
	outputCost := float64(usage.OutputTokens) / 1000 * entry.OutputPer1K
	total := inputCost + outputCost
	if c.MinimumCost > 0 && total > 0 && total < c.MinimumCost {
		total = c.MinimumCost
	}

	return Result{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		InputCost:    round6(inputCost),
		OutputCost:   round6(outputCost),
		TotalCost:    round6(total),
		Currency:     entry.Currency,
		Provider:     provider,
		Model:        model,
		InputRate:    entry.InputPer1K,
		OutputRate:   entry.OutputPer1K,
	}, nil
}

// Efficiency scores how much context a model offers per dollar of average
// token price. Zero when pricing is unknown or free.
func (c *Calculator) Efficiency(provider, model string) int {
	entry, ok := c.registry.Pricing(model)
	if !ok || entry.Provider != provider {
		return 0
	}
	avg := (entry.InputPer1K + entry.OutputPer1K) / 2
	if avg <= 0 || entry.ContextWindow <= 0 {
		return 0
	}
	return int(math.Floor(float64(entry.ContextWindow) / 1000 / (avg * 1000)))
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
