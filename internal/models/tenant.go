package models

import (
	"net"
	"regexp"
	"strings"
	"time"
)

// Tier identifies a tenant's pricing tier. Limits are monotone across tiers.
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// LimitSet is a per-tenant set of rate and cost ceilings. Nil fields mean
// "use the tier default"; a resolved zero means the dimension is unlimited.
type LimitSet struct {
	RequestsPerMinute *int     `json:"requests_per_minute,omitempty"`
	RequestsPerHour   *int     `json:"requests_per_hour,omitempty"`
	RequestsPerDay    *int     `json:"requests_per_day,omitempty"`
	CostPerMinute     *float64 `json:"cost_per_minute,omitempty"`
	CostPerHour       *float64 `json:"cost_per_hour,omitempty"`
	CostPerDay        *float64 `json:"cost_per_day,omitempty"`
}

// Tenant is a paying organization resolved from the admin backend.
type Tenant struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Tier             Tier      `json:"tier"`
	Active           bool      `json:"active"`
	AllowedProviders []string  `json:"allowed_providers,omitempty"`
	LimitOverrides   *LimitSet `json:"limit_overrides,omitempty"`
	MonthlyBudget    float64   `json:"monthly_budget,omitempty"`
	WebhookURL       string    `json:"webhook_url,omitempty"`
}

// Credential is a single API token belonging to a tenant. The plaintext never
// reaches this struct; the hash is the sole lookup key.
type Credential struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	KeyHash          string     `json:"key_hash"`
	KeyPreview       string     `json:"key_preview"`
	Active           bool       `json:"active"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Scopes           []string   `json:"scopes,omitempty"`
	AllowedIPs       []string   `json:"allowed_ips,omitempty"`
	AllowedEndpoints []string   `json:"allowed_endpoints,omitempty"`
	AllowedProviders []string   `json:"allowed_providers,omitempty"`
	UsageCount       int64      `json:"usage_count,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
}

// TenantContext is the per-request bundle attached after authentication.
type TenantContext struct {
	Tenant     *Tenant
	Credential *Credential
	RequestID  string
	ClientIP   string
	UserAgent  string
	ArrivedAt  time.Time
	Cached     bool
}

// TenantQuotas are optional monthly/daily budget caps from the admin backend.
type TenantQuotas struct {
	MonthlyLimit float64 `json:"monthly_limit"`
	DailyLimit   float64 `json:"daily_limit"`
	Currency     string  `json:"currency"`
}

// Expired reports whether the credential's expiry has passed.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// IPAllowed checks the client IP against the credential allowlist. Entries may
// be exact addresses, CIDR ranges, or "*". An empty list allows everything.
func (c *Credential) IPAllowed(clientIP string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	ip := net.ParseIP(clientIP)
	for _, entry := range c.AllowedIPs {
		if entry == "*" || entry == clientIP {
			return true
		}
		if strings.Contains(entry, "/") && ip != nil {
			if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// EndpointAllowed checks the request path against the credential's allowed
// endpoint patterns: exact match, prefix match with a trailing "*", or a
// regular expression delimited by slashes. An empty list allows everything.
func (c *Credential) EndpointAllowed(path string) bool {
	if len(c.AllowedEndpoints) == 0 {
		return true
	}
	for _, pattern := range c.AllowedEndpoints {
		switch {
		case pattern == path:
			return true
		case strings.HasSuffix(pattern, "*"):
			if strings.HasPrefix(path, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		case len(pattern) > 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/"):
			if re, err := regexp.Compile(pattern[1 : len(pattern)-1]); err == nil && re.MatchString(path) {
				return true
			}
		}
	}
	return false
}

// ProviderAllowed reports whether the provider sits in the intersection of
// the credential's and the tenant's provider allowlists. An empty list or a
// "*" entry means all providers.
func ProviderAllowed(provider string, tenant *Tenant, cred *Credential) bool {
	return listPermits(cred.AllowedProviders, provider) && listPermits(tenant.AllowedProviders, provider)
}

func listPermits(list []string, item string) bool {
	if len(list) == 0 {
		return true
	}
	for _, entry := range list {
		if entry == "*" || entry == item {
			return true
		}
	}
	return false
}

// TierLimits returns the default limit set for a tier. Higher tiers are
// strictly looser on every dimension.
func TierLimits(tier Tier) LimitSet {
	switch tier {
	case TierStarter:
		return limitSet(60, 1000, 10000, 1, 10, 100)
	case TierProfessional:
		return limitSet(300, 10000, 100000, 5, 50, 500)
	case TierEnterprise:
		return limitSet(1000, 50000, 500000, 25, 250, 2500)
	default: // free
		return limitSet(20, 200, 1000, 0.5, 2, 10)
	}
}

func limitSet(rpm, rph, rpd int, cpm, cph, cpd float64) LimitSet {
	return LimitSet{
		RequestsPerMinute: &rpm,
		RequestsPerHour:   &rph,
		RequestsPerDay:    &rpd,
		CostPerMinute:     &cpm,
		CostPerHour:       &cph,
		CostPerDay:        &cpd,
	}
}

// Merge overlays non-nil fields of other onto s and returns the result.
func (s LimitSet) Merge(other *LimitSet) LimitSet {
	if other == nil {
		return s
	}
	if other.RequestsPerMinute != nil {
		s.RequestsPerMinute = other.RequestsPerMinute
	}
	if other.RequestsPerHour != nil {
		s.RequestsPerHour = other.RequestsPerHour
	}
	if other.RequestsPerDay != nil {
		s.RequestsPerDay = other.RequestsPerDay
	}
	if other.CostPerMinute != nil {
		s.CostPerMinute = other.CostPerMinute
	}
	if other.CostPerHour != nil {
		s.CostPerHour = other.CostPerHour
	}
	if other.CostPerDay != nil {
		s.CostPerDay = other.CostPerDay
	}
	return s
}
