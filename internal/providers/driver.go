package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/pricing"
	"github.com/als-ai/gateway/internal/proxyerr"
	"github.com/als-ai/gateway/internal/retry"
)

// maxStreamTail bounds how much of a streamed response is buffered for the
// trailing usage scan.
const maxStreamTail = 64 * 1024

// Result is the outcome of one upstream call after retries.
type Result struct {
	Success     bool
	StatusCode  int
	Body        []byte
	ContentType string
	Usage       pricing.Usage
	Meta        ResponseMeta
	Retries     int
	Latency     time.Duration

	// Stream is set instead of Body for streaming responses; the caller
	// owns closing it.
	Stream io.ReadCloser
}

// Driver executes upstream calls for every configured provider.
type Driver struct {
	configs map[string]*Config
	client  *http.Client
	logger  *zap.Logger
}

func NewDriver(logger *zap.Logger, timeout time.Duration) *Driver {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Driver{
		configs: BuiltinConfigs(),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Config returns the declarative configuration for a provider.
func (d *Driver) Config(provider string) (*Config, bool) {
	cfg, ok := d.configs[provider]
	return cfg, ok
}

// Providers lists the configured provider names.
func (d *Driver) Providers() []string {
	names := make([]string, 0, len(d.configs))
	for name := range d.configs {
		names = append(names, name)
	}
	return names
}

// Probe checks basic reachability of a provider's API host. Any HTTP
// response counts as reachable; an auth rejection still proves the host
// is up.
func (d *Driver) Probe(ctx context.Context, provider string) (time.Duration, error) {
	cfg, ok := d.configs[provider]
	if !ok {
		return 0, fmt.Errorf("unknown provider: %s", provider)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return time.Since(start), err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return time.Since(start), nil
}

// callError carries the upstream status through the retry loop so the
// retryable predicate can consult the provider's status table.
type callError struct {
	status int
	body   []byte
	err    error
}

func (e *callError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("upstream status %d", e.status)
}

func (e *callError) Unwrap() error { return e.err }

// Call sends a translated request to the provider and returns the parsed
// result. Retries follow the provider's policy; only retryable statuses and
// transport failures are retried.
func (d *Driver) Call(ctx context.Context, provider, secret string, endpoint Endpoint, model string, body []byte, stream bool) (*Result, *proxyerr.Error) {
	cfg, ok := d.configs[provider]
	if !ok {
		return nil, proxyerr.New(proxyerr.KindProviderNotAllowed, "unknown provider: "+provider)
	}
	pathTemplate, ok := cfg.Paths[endpoint]
	if !ok {
		return nil, proxyerr.New(proxyerr.KindEndpointNotAllowed,
			fmt.Sprintf("provider %s does not support %s", provider, endpoint))
	}
	url := cfg.BaseURL + strings.ReplaceAll(pathTemplate, "{model}", model)

	start := time.Now()
	result := &Result{}

	attempt := func(ctx context.Context, n int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return &callError{err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		if stream {
			req.Header.Set("Accept", "text/event-stream")
		}
		cfg.AuthorizeRequest(req, secret)

		resp, err := d.client.Do(req)
		if err != nil {
			return &callError{err: err}
		}

		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxStreamTail))
			_ = resp.Body.Close()
			return &callError{status: resp.StatusCode, body: respBody}
		}

		result.StatusCode = resp.StatusCode
		result.ContentType = resp.Header.Get("Content-Type")
		if stream {
			result.Stream = resp.Body
			return nil
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return &callError{err: err}
		}
		result.Body = respBody
		return nil
	}

	retries, err := retry.Do(ctx, cfg.Retry, attempt, func(err error) bool {
		var ce *callError
		if !errors.As(err, &ce) {
			return false
		}
		if ce.err != nil {
			// Transport failures and timeouts are retryable while the
			// caller's context is still live.
			return ctx.Err() == nil
		}
		return cfg.RetryableStatus(ce.status)
	})
	result.Retries = retries
	result.Latency = time.Since(start)

	if err != nil {
		d.logger.Warn("Upstream call failed",
			zap.String("provider", provider),
			zap.String("model", model),
			zap.Int("retries", retries),
			zap.Error(err))
		return result, d.classify(ctx, cfg, err)
	}

	result.Success = true
	if !stream {
		result.Usage = ExtractUsage(cfg, result.Body)
		result.Meta = ExtractMeta(cfg, result.Body)
	}
	return result, nil
}

// classify converts the final attempt error into the stable vocabulary.
func (d *Driver) classify(ctx context.Context, cfg *Config, err error) *proxyerr.Error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return proxyerr.Wrap(proxyerr.KindTimeout, "upstream call timed out", err)
	}

	var ce *callError
	if errors.As(err, &ce) {
		if ce.err != nil {
			return proxyerr.Wrap(proxyerr.KindUpstreamError, "upstream unreachable", ce.err)
		}
		kind := cfg.ErrorKind(ce.status)
		msg := fmt.Sprintf("%s returned status %d", cfg.Name, ce.status)
		perr := proxyerr.New(kind, msg)
		if detail := upstreamMessage(ce.body); detail != "" {
			perr = perr.WithDetails(map[string]interface{}{"upstream_message": detail})
		}
		return perr
	}
	return proxyerr.Wrap(proxyerr.KindUpstreamError, "upstream call failed", err)
}

// upstreamMessage extracts a human-readable error from a provider error body.
func upstreamMessage(body []byte) string {
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjsonGet(body, path); v != "" {
			return v
		}
	}
	return ""
}
