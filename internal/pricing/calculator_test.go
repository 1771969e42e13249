package pricing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/als-ai/gateway/internal/registry"
)

func newTestCalculator() *Calculator {
	return NewCalculator(registry.New())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func TestCalculateSingleTokenEach(t *testing.T) {
	c := newTestCalculator()

	result, err := c.Calculate("openai", "gpt-4o", Usage{InputTokens: 1, OutputTokens: 1})
	require.NoError(t, err)

	assert.InDelta(t, 0.000010, result.InputCost, 1e-9)
	assert.InDelta(t, 0.000020, result.OutputCost, 1e-9)
	assert.InDelta(t, 0.000030, result.TotalCost, 1e-9)
	assert.Equal(t, "USD", result.Currency)
	assert.Equal(t, "gpt-4o", result.Model)
}

func TestCalculateRoundsHalfUp(t *testing.T) {
	c := newTestCalculator()

	// 5 input tokens on gpt-4o-mini cost 0.00000075, which rounds up at the
	// sixth decimal place.
	result, err := c.Calculate("openai", "gpt-4o-mini", Usage{InputTokens: 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.000001, result.TotalCost, 1e-9)
}

func TestCalculateZeroUsage(t *testing.T) {
	c := newTestCalculator()

	result, err := c.Calculate("openai", "gpt-4o", Usage{})
	require.NoError(t, err)
	assert.Zero(t, result.TotalCost)
	assert.Zero(t, result.InputCost)
}

func TestCalculateUnknownModel(t *testing.T) {
	c := newTestCalculator()

	_, err := c.Calculate("openai", "no-such-model", Usage{InputTokens: 100, OutputTokens: 100})
	assert.Error(t, err)
}

func TestCalculateProviderMismatch(t *testing.T) {
	c := newTestCalculator()

	// A known model priced under a different provider must not be billed at
	// the other provider's rates.
	_, err := c.Calculate("anthropic", "gpt-4o", Usage{InputTokens: 100, OutputTokens: 100})
	assert.Error(t, err)
}

func TestCalculateMinimumCostFloor(t *testing.T) {
	c := newTestCalculator()
	c.MinimumCost = 0.0001

	result, err := c.Calculate("openai", "gpt-4o", Usage{InputTokens: 1, OutputTokens: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0001, result.TotalCost, 1e-9)

	// Zero usage stays free; the floor applies only to non-zero totals.
	free, err := c.Calculate("openai", "gpt-4o", Usage{})
	require.NoError(t, err)
	assert.Zero(t, free.TotalCost)
}

func TestEstimate(t *testing.T) {
	c := newTestCalculator()

	// 400 characters estimate to 100 input tokens; default expected output
	// is applied when the caller passes zero.
	est := c.Estimate("openai", "gpt-4o", strings.Repeat("a", 400), 0)
	assert.Equal(t, 100, est.InputTokens)
	assert.Equal(t, 150, est.ExpectedOutput)
	assert.True(t, est.PricingKnown)
	assert.InDelta(t, 0.7, est.Confidence, 1e-9)
	// 100 in × 0.010/1K + 150 out × 0.020/1K
	assert.InDelta(t, 0.004, est.EstimatedCost, 1e-9)

	unknown := c.Estimate("openai", "no-such-model", "hello world", 0)
	assert.False(t, unknown.PricingKnown)
	assert.Zero(t, unknown.EstimatedCost)
	assert.Zero(t, unknown.Confidence)
}

func TestEfficiency(t *testing.T) {
	c := newTestCalculator()

	// gpt-4o: 128K context, 0.015 avg per 1K tokens.
	assert.Equal(t, 8, c.Efficiency("openai", "gpt-4o"))
	// gpt-4o-mini is far cheaper per token of context.
	assert.Greater(t, c.Efficiency("openai", "gpt-4o-mini"), c.Efficiency("openai", "gpt-4o"))

	assert.Zero(t, c.Efficiency("anthropic", "gpt-4o"))
	assert.Zero(t, c.Efficiency("openai", "no-such-model"))
}

func TestEstimateAliasedModel(t *testing.T) {
	c := newTestCalculator()

	direct := c.Estimate("anthropic", "claude-3-5-sonnet-20241022", "some prompt text", 50)
	aliased := c.Estimate("anthropic", "claude-3-5-sonnet", "some prompt text", 50)
	assert.Equal(t, direct.EstimatedCost, aliased.EstimatedCost)
}
