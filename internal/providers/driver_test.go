package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/proxyerr"
	"github.com/als-ai/gateway/internal/retry"
)

// fastRetry keeps test runs quick while preserving the attempt count.
func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}
}

func testDriver(t *testing.T, upstream *httptest.Server, provider string) *Driver {
	t.Helper()
	d := NewDriver(zap.NewNop(), 10*time.Second)
	cfg := d.configs[provider]
	cfg.BaseURL = upstream.URL
	cfg.Retry = fastRetry()
	return d
}

func TestCallSuccess(t *testing.T) {
	var gotAuth, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp-1","model":"gpt-4o","choices":[{"finish_reason":"stop","message":{"content":"hi"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	}))
	defer upstream.Close()

	d := testDriver(t, upstream, "openai")
	result, perr := d.Call(context.Background(), "openai", "sk-upstream", EndpointChat, "gpt-4o",
		[]byte(`{"model":"gpt-4o"}`), false)
	require.Nil(t, perr)

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "Bearer sk-upstream", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, 1, result.Usage.InputTokens)
	assert.Equal(t, 1, result.Usage.OutputTokens)
	assert.Equal(t, "stop", result.Meta.FinishReason)
	assert.Equal(t, "resp-1", result.Meta.RequestID)
	assert.Zero(t, result.Retries)
}

func TestCallRetriesOverloadedThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(529)
			return
		}
		_, _ = w.Write([]byte(`{"id":"ok","usage":{"input_tokens":5,"output_tokens":7}}`))
	}))
	defer upstream.Close()

	d := testDriver(t, upstream, "anthropic")
	result, perr := d.Call(context.Background(), "anthropic", "sk-ant", EndpointChat, "claude-3-5-sonnet-20241022",
		[]byte(`{"max_tokens":10}`), false)
	require.Nil(t, perr)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Retries)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, 5, result.Usage.InputTokens)
}

func TestCallDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer upstream.Close()

	d := testDriver(t, upstream, "openai")
	_, perr := d.Call(context.Background(), "openai", "sk", EndpointChat, "gpt-4o", []byte(`{}`), false)
	require.NotNil(t, perr)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, proxyerr.KindUpstreamError, perr.Kind)
	assert.Equal(t, "bad model", perr.Details["upstream_message"])
}

func TestCallExhaustsRetriesOn429(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	d := testDriver(t, upstream, "openai")
	result, perr := d.Call(context.Background(), "openai", "sk", EndpointChat, "gpt-4o", []byte(`{}`), false)
	require.NotNil(t, perr)

	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, 2, result.Retries)
	assert.Equal(t, proxyerr.KindRateLimitExceeded, perr.Kind)
}

func TestCallUnknownProvider(t *testing.T) {
	d := NewDriver(zap.NewNop(), time.Second)
	_, perr := d.Call(context.Background(), "nope", "sk", EndpointChat, "m", []byte(`{}`), false)
	require.NotNil(t, perr)
	assert.Equal(t, proxyerr.KindProviderNotAllowed, perr.Kind)
}

func TestCallUnsupportedEndpoint(t *testing.T) {
	d := NewDriver(zap.NewNop(), time.Second)
	// Anthropic has no embeddings surface.
	_, perr := d.Call(context.Background(), "anthropic", "sk", EndpointEmbeddings, "m", []byte(`{}`), false)
	require.NotNil(t, perr)
	assert.Equal(t, proxyerr.KindEndpointNotAllowed, perr.Kind)
}

func TestCallModelPathSubstitution(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1}}`))
	}))
	defer upstream.Close()

	d := testDriver(t, upstream, "google")
	_, perr := d.Call(context.Background(), "google", "gk", EndpointChat, "gemini-1.5-flash",
		[]byte(`{"contents":[]}`), false)
	require.Nil(t, perr)
	assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", gotPath)
}

func TestCallTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer upstream.Close()

	d := testDriver(t, upstream, "openai")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, perr := d.Call(ctx, "openai", "sk", EndpointChat, "gpt-4o", []byte(`{}`), false)
	require.NotNil(t, perr)
	assert.Equal(t, proxyerr.KindTimeout, perr.Kind)
}
