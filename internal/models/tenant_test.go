package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredentialExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&Credential{}).Expired(now))
	assert.False(t, (&Credential{ExpiresAt: &future}).Expired(now))
	assert.True(t, (&Credential{ExpiresAt: &past}).Expired(now))
}

func TestIPAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		ip      string
		want    bool
	}{
		{"empty list allows all", nil, "10.1.2.3", true},
		{"exact match", []string{"203.0.113.5"}, "203.0.113.5", true},
		{"exact mismatch", []string{"203.0.113.5"}, "203.0.113.6", false},
		{"cidr match", []string{"10.0.0.0/8"}, "10.42.0.1", true},
		{"cidr mismatch", []string{"10.0.0.0/8"}, "192.168.1.1", false},
		{"wildcard", []string{"*"}, "198.51.100.7", true},
		{"second entry matches", []string{"203.0.113.5", "192.168.0.0/16"}, "192.168.4.4", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &Credential{AllowedIPs: tt.allowed}
			assert.Equal(t, tt.want, cred.IPAllowed(tt.ip))
		})
	}
}

func TestEndpointAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		path    string
		want    bool
	}{
		{"empty list allows all", nil, "/proxy/openai/v1/chat/completions", true},
		{"exact", []string{"/proxy/openai/v1/chat/completions"}, "/proxy/openai/v1/chat/completions", true},
		{"exact mismatch", []string{"/proxy/openai/v1/embeddings"}, "/proxy/openai/v1/chat/completions", false},
		{"prefix wildcard", []string{"/proxy/openai/*"}, "/proxy/openai/v1/chat/completions", true},
		{"prefix wildcard mismatch", []string{"/proxy/openai/*"}, "/proxy/anthropic/v1/messages", false},
		{"regex", []string{"/^/proxy/(openai|anthropic)//"}, "/proxy/anthropic/v1/messages", true},
		{"regex mismatch", []string{"/^/proxy/google//"}, "/proxy/openai/v1/chat/completions", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &Credential{AllowedEndpoints: tt.allowed}
			assert.Equal(t, tt.want, cred.EndpointAllowed(tt.path))
		})
	}
}

func TestProviderAllowedIntersection(t *testing.T) {
	tenant := &Tenant{AllowedProviders: []string{"openai", "anthropic"}}
	cred := &Credential{AllowedProviders: []string{"openai"}}

	assert.True(t, ProviderAllowed("openai", tenant, cred))
	// Tenant allows it but the credential does not.
	assert.False(t, ProviderAllowed("anthropic", tenant, cred))
	// Neither side lists it.
	assert.False(t, ProviderAllowed("google", tenant, cred))

	// Empty lists and wildcards permit everything.
	assert.True(t, ProviderAllowed("google", &Tenant{}, &Credential{}))
	assert.True(t, ProviderAllowed("google", &Tenant{AllowedProviders: []string{"*"}}, &Credential{}))
}

func TestTierLimitsMonotonic(t *testing.T) {
	free := TierLimits(TierFree)
	starter := TierLimits(TierStarter)
	pro := TierLimits(TierProfessional)
	ent := TierLimits(TierEnterprise)

	assert.Less(t, *free.RequestsPerMinute, *starter.RequestsPerMinute)
	assert.Less(t, *starter.RequestsPerMinute, *pro.RequestsPerMinute)
	assert.Less(t, *pro.RequestsPerMinute, *ent.RequestsPerMinute)
	assert.Less(t, *free.CostPerDay, *starter.CostPerDay)
	assert.Less(t, *pro.CostPerDay, *ent.CostPerDay)
}

func TestLimitSetMerge(t *testing.T) {
	base := TierLimits(TierStarter)
	override := 500
	merged := base.Merge(&LimitSet{RequestsPerMinute: &override})

	assert.Equal(t, 500, *merged.RequestsPerMinute)
	// Untouched fields keep the base values.
	assert.Equal(t, *base.RequestsPerHour, *merged.RequestsPerHour)
	assert.Equal(t, *base.CostPerDay, *merged.CostPerDay)

	// Nil override is a no-op.
	same := base.Merge(nil)
	assert.Equal(t, *base.RequestsPerMinute, *same.RequestsPerMinute)
}
