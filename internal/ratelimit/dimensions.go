package ratelimit

import (
	"fmt"
	"time"

	"github.com/als-ai/gateway/internal/config"
	"github.com/als-ai/gateway/internal/models"
)

// Dimension is one of the six rate-limit counters.
type Dimension string

const (
	RequestsPerMinute Dimension = "requests_per_minute"
	RequestsPerHour   Dimension = "requests_per_hour"
	RequestsPerDay    Dimension = "requests_per_day"
	CostPerMinute     Dimension = "cost_per_minute"
	CostPerHour       Dimension = "cost_per_hour"
	CostPerDay        Dimension = "cost_per_day"
)

// requestDimensions and costDimensions are ordered minute → hour → day;
// checks walk them in that order and the first failure wins.
var (
	requestDimensions = []Dimension{RequestsPerMinute, RequestsPerHour, RequestsPerDay}
	costDimensions    = []Dimension{CostPerMinute, CostPerHour, CostPerDay}
)

// Window returns the sliding window covered by the dimension.
func (d Dimension) Window() time.Duration {
	switch d {
	case RequestsPerMinute, CostPerMinute:
		return time.Minute
	case RequestsPerHour, CostPerHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// IsCost reports whether samples carry fractional currency amounts rather
// than unit request counts.
func (d Dimension) IsCost() bool {
	switch d {
	case CostPerMinute, CostPerHour, CostPerDay:
		return true
	}
	return false
}

// Key builds the distributed-tier key for a tenant and dimension.
func (d Dimension) Key(tenantID string) string {
	return fmt.Sprintf("rl:%s:%s", tenantID, d)
}

// Decision is the outcome of a limit check on one dimension.
type Decision struct {
	Dimension   Dimension `json:"dimension"`
	Allowed     bool      `json:"allowed"`
	Limit       float64   `json:"limit"`
	Used        float64   `json:"used"`
	Remaining   float64   `json:"remaining"`
	ResetTime   time.Time `json:"reset_time"`
	RetryAfter  int       `json:"retry_after_seconds,omitempty"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// EffectiveLimits resolves the limits that apply to a tenant: config defaults,
// overlaid by the tier table, overlaid by explicit per-tenant overrides. A
// zero resolved limit means the dimension is unlimited and is skipped.
func EffectiveLimits(defaults config.LimitsConfig, tenant *models.Tenant) models.LimitSet {
	base := models.LimitSet{
		RequestsPerMinute: &defaults.RequestsPerMinute,
		RequestsPerHour:   &defaults.RequestsPerHour,
		RequestsPerDay:    &defaults.RequestsPerDay,
		CostPerMinute:     &defaults.CostPerMinute,
		CostPerHour:       &defaults.CostPerHour,
		CostPerDay:        &defaults.CostPerDay,
	}
	if tenant == nil {
		return base
	}
	tier := models.TierLimits(tenant.Tier)
	merged := base.Merge(&tier)
	return merged.Merge(tenant.LimitOverrides)
}

// limitFor extracts the resolved ceiling for one dimension. The boolean is
// false when the dimension is unlimited.
func limitFor(limits models.LimitSet, d Dimension) (float64, bool) {
	switch d {
	case RequestsPerMinute:
		return intLimit(limits.RequestsPerMinute)
	case RequestsPerHour:
		return intLimit(limits.RequestsPerHour)
	case RequestsPerDay:
		return intLimit(limits.RequestsPerDay)
	case CostPerMinute:
		return floatLimit(limits.CostPerMinute)
	case CostPerHour:
		return floatLimit(limits.CostPerHour)
	case CostPerDay:
		return floatLimit(limits.CostPerDay)
	}
	return 0, false
}

func intLimit(v *int) (float64, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}
	return float64(*v), true
}

func floatLimit(v *float64) (float64, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}
	return *v, true
}
