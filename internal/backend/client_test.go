package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/config"
	"github.com/als-ai/gateway/internal/models"
	"github.com/als-ai/gateway/internal/proxyerr"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.BackendConfig{
		URL:     srv.URL,
		Token:   "backend-token",
		Timeout: 2 * time.Second,
	}, zap.NewNop())
}

func TestVerifyKey(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/verify-key", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "somehash", body["api_key_hash"])

		_ = json.NewEncoder(w).Encode(VerifyKeyResponse{
			Company: &models.Tenant{ID: "co-1", Name: "Acme"},
			APIKey:  &models.Credential{ID: "key-1"},
		})
	}))

	out, err := c.VerifyKey(context.Background(), "somehash")
	require.NoError(t, err)
	assert.Equal(t, "co-1", out.Company.ID)
	assert.Equal(t, "key-1", out.APIKey.ID)
	assert.Equal(t, "Bearer backend-token", gotAuth)
}

func TestVerifyKeyStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   proxyerr.Kind
	}{
		{http.StatusNotFound, proxyerr.KindCredentialNotFound},
		{http.StatusUnauthorized, proxyerr.KindCredentialNotFound},
		{http.StatusForbidden, proxyerr.KindCredentialRevoked},
		{http.StatusInternalServerError, proxyerr.KindBackendError},
	}
	for _, tt := range tests {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := c.VerifyKey(context.Background(), "somehash")
		var perr *proxyerr.Error
		require.ErrorAs(t, err, &perr, "status %d", tt.status)
		assert.Equal(t, tt.kind, perr.Kind, "status %d", tt.status)
	}
}

func TestVerifyKeyIncompleteResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(VerifyKeyResponse{})
	}))
	_, err := c.VerifyKey(context.Background(), "somehash")
	assert.Error(t, err)
}

func TestGetVendorKeyAbsent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	key, err := c.GetVendorKey(context.Background(), "co-1", "openai")
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestGetQuotasAbsent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	quotas, err := c.GetQuotas(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Nil(t, quotas)
}

func TestFireAndForgetDropHook(t *testing.T) {
	var delivered atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	var drops atomic.Int32
	c.OnDrop(func() { drops.Add(1) })

	c.PostAuthEvent(AuthEvent{RequestID: "req-1", Success: true})

	assert.Eventually(t, func() bool {
		return delivered.Load() == 1 && drops.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
