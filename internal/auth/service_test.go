package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/backend"
	"github.com/als-ai/gateway/internal/cache"
	"github.com/als-ai/gateway/internal/config"
	"github.com/als-ai/gateway/internal/models"
	"github.com/als-ai/gateway/internal/proxyerr"
)

// fakeBackend serves the verify-key endpoint with a configurable resolution
// and counts lookups.
type fakeBackend struct {
	srv     *httptest.Server
	lookups atomic.Int64

	tenant *models.Tenant
	cred   *models.Credential
	status int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		tenant: &models.Tenant{ID: "tenant-1", Name: "Acme", Tier: models.TierStarter, Active: true},
		cred:   &models.Credential{ID: "key-1", TenantID: "tenant-1", Active: true},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/verify-key", func(w http.ResponseWriter, r *http.Request) {
		fb.lookups.Add(1)
		if fb.status != 0 {
			w.WriteHeader(fb.status)
			return
		}
		_ = json.NewEncoder(w).Encode(backend.VerifyKeyResponse{
			Company: fb.tenant,
			APIKey:  fb.cred,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func newTestService(t *testing.T, fb *fakeBackend) *Service {
	t.Helper()
	local, err := cache.NewLocal(100, 5*time.Minute)
	require.NoError(t, err)
	tiered := cache.NewTiered(nil, local, zap.NewNop(), 5*time.Minute)
	client := backend.NewClient(config.BackendConfig{
		URL:     fb.srv.URL,
		Token:   "backend-token",
		Timeout: 5 * time.Second,
	}, zap.NewNop())
	return NewService(tiered, client, zap.NewNop())
}

func authedRequest(path string) *http.Request {
	r := httptest.NewRequest("POST", path, nil)
	r.Header.Set("Authorization", "Bearer "+validLiveKey)
	r.RemoteAddr = "203.0.113.10:52100"
	return r
}

func TestAuthenticateSuccess(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)

	tc, perr := svc.Authenticate(authedRequest("/proxy/openai/v1/chat/completions"), "req-1")
	require.Nil(t, perr)
	assert.Equal(t, "tenant-1", tc.Tenant.ID)
	assert.Equal(t, "key-1", tc.Credential.ID)
	assert.Equal(t, "203.0.113.10", tc.ClientIP)
	assert.False(t, tc.Cached)
}

func TestAuthenticateSecondRequestServedFromCache(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)

	_, perr := svc.Authenticate(authedRequest("/proxy/openai/v1/chat/completions"), "req-1")
	require.Nil(t, perr)
	_, perr = svc.Authenticate(authedRequest("/proxy/openai/v1/chat/completions"), "req-2")
	require.Nil(t, perr)

	assert.Equal(t, int64(1), fb.lookups.Load())
}

func TestAuthenticateUnknownKey(t *testing.T) {
	fb := newFakeBackend(t)
	fb.status = http.StatusNotFound
	svc := newTestService(t, fb)

	_, perr := svc.Authenticate(authedRequest("/proxy/openai/v1/chat/completions"), "req-1")
	require.NotNil(t, perr)
	assert.Equal(t, proxyerr.KindCredentialNotFound, perr.Kind)
}

func TestAuthenticateGateOrder(t *testing.T) {
	expired := time.Now().Add(-time.Hour)

	tests := []struct {
		name   string
		mutate func(*fakeBackend)
		path   string
		want   proxyerr.Kind
	}{
		{
			name:   "suspended tenant",
			mutate: func(fb *fakeBackend) { fb.tenant.Active = false },
			path:   "/proxy/openai/v1/chat/completions",
			want:   proxyerr.KindTenantSuspended,
		},
		{
			name: "suspended tenant wins over revoked credential",
			mutate: func(fb *fakeBackend) {
				fb.tenant.Active = false
				fb.cred.Active = false
			},
			path: "/proxy/openai/v1/chat/completions",
			want: proxyerr.KindTenantSuspended,
		},
		{
			name:   "revoked credential",
			mutate: func(fb *fakeBackend) { fb.cred.Active = false },
			path:   "/proxy/openai/v1/chat/completions",
			want:   proxyerr.KindCredentialRevoked,
		},
		{
			name:   "expired credential",
			mutate: func(fb *fakeBackend) { fb.cred.ExpiresAt = &expired },
			path:   "/proxy/openai/v1/chat/completions",
			want:   proxyerr.KindCredentialExpired,
		},
		{
			name:   "ip not allowed",
			mutate: func(fb *fakeBackend) { fb.cred.AllowedIPs = []string{"10.0.0.0/8"} },
			path:   "/proxy/openai/v1/chat/completions",
			want:   proxyerr.KindIPNotAllowed,
		},
		{
			name:   "endpoint not allowed",
			mutate: func(fb *fakeBackend) { fb.cred.AllowedEndpoints = []string{"/proxy/openai/v1/embeddings"} },
			path:   "/proxy/openai/v1/chat/completions",
			want:   proxyerr.KindEndpointNotAllowed,
		},
		{
			name:   "provider not allowed",
			mutate: func(fb *fakeBackend) { fb.cred.AllowedProviders = []string{"anthropic"} },
			path:   "/proxy/openai/v1/chat/completions",
			want:   proxyerr.KindProviderNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend(t)
			tt.mutate(fb)
			svc := newTestService(t, fb)

			_, perr := svc.Authenticate(authedRequest(tt.path), "req-1")
			require.NotNil(t, perr)
			assert.Equal(t, tt.want, perr.Kind)
		})
	}
}

func TestGatesRunOnCachedEntries(t *testing.T) {
	fb := newFakeBackend(t)
	fb.cred.AllowedEndpoints = []string{"/proxy/openai/*"}
	svc := newTestService(t, fb)

	_, perr := svc.Authenticate(authedRequest("/proxy/openai/v1/chat/completions"), "req-1")
	require.Nil(t, perr)

	// Cached resolution still enforces per-request gates.
	_, perr = svc.Authenticate(authedRequest("/proxy/anthropic/v1/messages"), "req-2")
	require.NotNil(t, perr)
	assert.Equal(t, proxyerr.KindEndpointNotAllowed, perr.Kind)
	assert.Equal(t, int64(1), fb.lookups.Load())
}

func TestInvalidateForcesBackendLookup(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)

	req := authedRequest("/proxy/openai/v1/chat/completions")
	_, perr := svc.Authenticate(req, "req-1")
	require.Nil(t, perr)

	require.NoError(t, svc.Invalidate(req.Context(), HashKey(validLiveKey)))

	_, perr = svc.Authenticate(authedRequest("/proxy/openai/v1/chat/completions"), "req-2")
	require.Nil(t, perr)
	assert.Equal(t, int64(2), fb.lookups.Load())
}

func TestSeenTenantsAndRefresh(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)

	req := authedRequest("/proxy/openai/v1/chat/completions")
	_, perr := svc.Authenticate(req, "req-1")
	require.Nil(t, perr)

	assert.Equal(t, []string{"tenant-1"}, svc.SeenTenants())

	svc.RefreshTenant(req.Context(), "tenant-1")
	_, perr = svc.Authenticate(authedRequest("/proxy/openai/v1/chat/completions"), "req-2")
	require.Nil(t, perr)
	assert.Equal(t, int64(2), fb.lookups.Load())
}
