package proxyerr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKindStatusMapping(t *testing.T) {
	tests := map[Kind]int{
		KindMissingCredential:    http.StatusBadRequest,
		KindMalformedCredential:  http.StatusBadRequest,
		KindInvalidRequest:       http.StatusBadRequest,
		KindCredentialNotFound:   http.StatusUnauthorized,
		KindCredentialExpired:    http.StatusUnauthorized,
		KindCredentialRevoked:    http.StatusUnauthorized,
		KindTenantSuspended:      http.StatusForbidden,
		KindIPNotAllowed:         http.StatusForbidden,
		KindEndpointNotAllowed:   http.StatusForbidden,
		KindProviderNotAllowed:   http.StatusForbidden,
		KindRateLimitExceeded:    http.StatusTooManyRequests,
		KindQuotaExceeded:        http.StatusTooManyRequests,
		KindTimeout:              http.StatusGatewayTimeout,
		KindUpstreamError:        http.StatusBadGateway,
		KindBackendError:         http.StatusBadGateway,
		KindDistributedTierError: http.StatusBadGateway,
	}
	for kind, want := range tests {
		assert.Equal(t, want, kind.Status(), "kind %s", kind)
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	err := New(KindRateLimitExceeded, "limit exceeded for requests_per_minute").
		WithRetryAfter(17).
		WithDetails(map[string]interface{}{"dimension": "requests_per_minute"})

	WriteError(w, zap.NewNop(), "req-42", err)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "17", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "RateLimitExceeded", env.Error)
	assert.Equal(t, "limit exceeded for requests_per_minute", env.Message)
	assert.Equal(t, http.StatusTooManyRequests, env.Code)
	assert.Equal(t, "req-42", env.RequestID)
	assert.Equal(t, 17, env.RetryAfter)
	assert.Equal(t, "requests_per_minute", env.Details["dimension"])
	assert.Contains(t, env.Documentation, "RateLimitExceeded")
	assert.NotEmpty(t, env.Timestamp)
}

func TestWriteErrorSetsWWWAuthenticate(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, zap.NewNop(), "req-1", New(KindCredentialNotFound, "credential not recognized"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="als-gateway", error="invalid_token"`, w.Header().Get("WWW-Authenticate"))
}

func TestWriteErrorShapesUnknownErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, zap.NewNop(), "req-1", errors.New("something exploded internally"))

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "UpstreamError", env.Error)
	// Internal error text must not leak to the client.
	assert.NotContains(t, env.Message, "exploded")
}

func TestRetryableKinds(t *testing.T) {
	assert.True(t, KindRateLimitExceeded.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindUpstreamError.Retryable())
	assert.False(t, KindMissingCredential.Retryable())
	assert.False(t, KindTenantSuspended.Retryable())
	assert.False(t, KindProviderNotAllowed.Retryable())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindBackendError, "backend unreachable", cause)
	assert.ErrorIs(t, err, cause)
}
