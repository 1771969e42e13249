// Package pipeline orchestrates a proxied request end to end: authenticate,
// estimate, admit, call the provider, price the response, and account for it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/auth"
	"github.com/als-ai/gateway/internal/backend"
	"github.com/als-ai/gateway/internal/config"
	"github.com/als-ai/gateway/internal/models"
	"github.com/als-ai/gateway/internal/pricing"
	"github.com/als-ai/gateway/internal/providers"
	"github.com/als-ai/gateway/internal/proxyerr"
	"github.com/als-ai/gateway/internal/ratelimit"
	"github.com/als-ai/gateway/internal/registry"
	"github.com/als-ai/gateway/internal/secrets"
	"github.com/als-ai/gateway/internal/telemetry"
)

// Pipeline wires the per-request stages together. One instance serves all
// proxy traffic.
type Pipeline struct {
	cfg      *config.Config
	auth     *auth.Service
	limiter  *ratelimit.Limiter
	registry *registry.Registry
	calc     *pricing.Calculator
	driver   *providers.Driver
	backend  *backend.Client
	box      *secrets.Box
	redis    *redis.Client
	recorder *telemetry.Recorder
	logger   *zap.Logger
}

type Options struct {
	Config     *config.Config
	Auth       *auth.Service
	Limiter    *ratelimit.Limiter
	Registry   *registry.Registry
	Calculator *pricing.Calculator
	Driver     *providers.Driver
	Backend    *backend.Client
	Box        *secrets.Box
	Redis      *redis.Client
	Recorder   *telemetry.Recorder
	Logger     *zap.Logger
}

func New(opts Options) *Pipeline {
	return &Pipeline{
		cfg:      opts.Config,
		auth:     opts.Auth,
		limiter:  opts.Limiter,
		registry: opts.Registry,
		calc:     opts.Calculator,
		driver:   opts.Driver,
		backend:  opts.Backend,
		box:      opts.Box,
		redis:    opts.Redis,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
}

// Handle proxies one request to the named provider. rest is the path below
// /proxy/{provider}/, e.g. v1/chat/completions.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request, provider, rest string) {
	requestID := requestIDOf(r)
	w.Header().Set("X-Request-ID", requestID)

	tc, perr := p.auth.Authenticate(r, requestID)
	if perr != nil {
		proxyerr.WriteError(w, p.logger, requestID, perr)
		return
	}

	if _, ok := p.driver.Config(provider); !ok {
		proxyerr.WriteError(w, p.logger, requestID,
			proxyerr.New(proxyerr.KindProviderNotAllowed, "unknown provider: "+provider))
		return
	}

	endpoint := classifyEndpoint(rest)
	if endpoint == providers.EndpointModels {
		p.serveModels(w, provider)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, p.cfg.Server.MaxRequestSize))
	if err != nil {
		proxyerr.WriteError(w, p.logger, requestID,
			proxyerr.Wrap(proxyerr.KindUpstreamError, "failed to read request body", err))
		return
	}
	_ = r.Body.Close()

	if !gjson.ValidBytes(body) {
		proxyerr.WriteError(w, p.logger, requestID,
			proxyerr.New(proxyerr.KindInvalidRequest, "request body is not valid JSON"))
		return
	}

	model := p.resolveModel(body, provider)
	streamed := gjson.GetBytes(body, "stream").Bool()

	estimate := p.calc.Estimate(provider, model, inputText(body), 0)

	limits := ratelimit.EffectiveLimits(p.cfg.Limits, tc.Tenant)
	decisions, primary, limErr := p.limiter.CheckAll(r.Context(), tc.Tenant.ID, limits, estimate.EstimatedCost)
	if limErr != nil {
		// Distributed tier errors are absorbed by the local fallback; an
		// error here means the check itself could not run.
		proxyerr.WriteError(w, p.logger, requestID,
			proxyerr.Wrap(proxyerr.KindDistributedTierError, "rate limit check failed", limErr))
		return
	}
	ratelimit.SetRateHeaders(w.Header(), primary, decisions)
	if primary != nil && !primary.Allowed {
		perr := proxyerr.New(proxyerr.KindRateLimitExceeded,
			fmt.Sprintf("limit exceeded for %s", primary.Dimension)).
			WithRetryAfter(primary.RetryAfter).
			WithDetails(map[string]interface{}{
				"dimension": string(primary.Dimension),
				"limit":     primary.Limit,
				"reset":     primary.ResetTime.Unix(),
			})
		p.record(tc, provider, model, endpoint, perr.Kind.Status(), pricing.Usage{}, 0, 0, 0, streamed, string(perr.Kind))
		proxyerr.WriteError(w, p.logger, requestID, perr)
		return
	}

	// The monthly cap is enforced from the running counter that accounting
	// maintains, so a breach on one request rejects the ones after it.
	if tc.Tenant.MonthlyBudget > 0 {
		if spent := p.bumpMonthly(r.Context(), tc.Tenant.ID, 0); spent >= tc.Tenant.MonthlyBudget {
			perr := proxyerr.New(proxyerr.KindQuotaExceeded, "monthly budget exhausted").
				WithDetails(map[string]interface{}{
					"monthly_budget": tc.Tenant.MonthlyBudget,
					"monthly_spent":  spent,
				})
			p.record(tc, provider, model, endpoint, perr.Kind.Status(), pricing.Usage{}, 0, 0, 0, streamed, string(perr.Kind))
			proxyerr.WriteError(w, p.logger, requestID, perr)
			return
		}
	}

	secret, perr := p.providerSecret(r.Context(), tc.Tenant.ID, provider)
	if perr != nil {
		proxyerr.WriteError(w, p.logger, requestID, perr)
		return
	}

	upstream, err2 := providers.TransformRequest(mustConfig(p.driver, provider), body, model)
	if err2 != nil {
		proxyerr.WriteError(w, p.logger, requestID,
			proxyerr.Wrap(proxyerr.KindInvalidRequest, "request translation failed", err2))
		return
	}

	callCtx := r.Context()
	if p.cfg.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, p.cfg.Server.RequestTimeout)
		defer cancel()
	}

	result, perr := p.driver.Call(callCtx, provider, secret, endpoint, model, upstream, streamed)
	if perr != nil {
		p.record(tc, provider, model, endpoint, perr.Kind.Status(), pricing.Usage{}, 0,
			latencyOf(result), retriesOf(result), streamed, string(perr.Kind))
		proxyerr.WriteError(w, p.logger, requestID, perr)
		return
	}

	if streamed {
		p.finishStream(w, r, tc, provider, model, endpoint, limits, result)
		return
	}
	p.finishJSON(w, r, tc, provider, model, endpoint, limits, result)
}

// finishJSON prices the buffered response, writes cost headers, and accounts.
func (p *Pipeline) finishJSON(w http.ResponseWriter, r *http.Request, tc *models.TenantContext,
	provider, model string, endpoint providers.Endpoint, limits models.LimitSet, result *providers.Result) {

	cost, _ := p.calc.Calculate(provider, model, result.Usage)

	// Accounting must survive a client disconnect after the provider call.
	acctCtx := context.WithoutCancel(r.Context())
	monthlyAfter := p.bumpMonthly(acctCtx, tc.Tenant.ID, cost.TotalCost)
	quotas, _ := p.backend.GetQuotas(acctCtx, tc.Tenant.ID)

	pricing.SetCostHeaders(w.Header(), cost, monthlyAfter-cost.TotalCost, quotas)
	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)

	p.account(acctCtx, tc, provider, model, endpoint, limits, result, cost, false)
}

// finishStream copies upstream bytes through as they arrive, then scans the
// buffered tail for the final usage frame. No usage frame means zero cost.
func (p *Pipeline) finishStream(w http.ResponseWriter, r *http.Request, tc *models.TenantContext,
	provider, model string, endpoint providers.Endpoint, limits models.LimitSet, result *providers.Result) {

	defer func() { _ = result.Stream.Close() }()

	contentType := result.ContentType
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(result.StatusCode)

	flusher, _ := w.(http.Flusher)
	tail := newTailBuffer(maxStreamTail)
	buf := make([]byte, 32*1024)
	for {
		n, err := result.Stream.Read(buf)
		if n > 0 {
			tail.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			break
		}
	}

	cfg := mustConfig(p.driver, provider)
	usage := providers.ScanStreamUsage(cfg, tail.Bytes())
	result.Usage = usage
	cost, _ := p.calc.Calculate(provider, model, usage)

	acctCtx := context.WithoutCancel(r.Context())
	p.bumpMonthly(acctCtx, tc.Tenant.ID, cost.TotalCost)
	p.account(acctCtx, tc, provider, model, endpoint, limits, result, cost, true)
}

// account records the completed request: sliding-window counters, usage
// telemetry, and the backend cost tick. All best effort.
func (p *Pipeline) account(ctx context.Context, tc *models.TenantContext, provider, model string,
	endpoint providers.Endpoint, limits models.LimitSet, result *providers.Result, cost pricing.Result, streamed bool) {

	p.limiter.IncrementAll(ctx, tc.Tenant.ID, limits, cost.TotalCost)
	if cost.TotalCost > 0 {
		p.backend.PostCostTick(tc.Tenant.ID, cost.TotalCost, model, provider)
	}
	p.record(tc, provider, model, endpoint, result.StatusCode, result.Usage, cost.TotalCost,
		result.Latency, result.Retries, streamed, "")
}

func (p *Pipeline) record(tc *models.TenantContext, provider, model string, endpoint providers.Endpoint,
	status int, usage pricing.Usage, cost float64, latency time.Duration, retries int, streamed bool, errorKind string) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(telemetry.Event{
		RequestID:    tc.RequestID,
		TenantID:     tc.Tenant.ID,
		KeyID:        tc.Credential.ID,
		Provider:     provider,
		Model:        model,
		Endpoint:     string(endpoint),
		StatusCode:   status,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         cost,
		Currency:     "USD",
		Latency:      latency,
		Retries:      retries,
		Streamed:     streamed,
		AuthCached:   tc.Cached,
		ErrorKind:    errorKind,
		Timestamp:    time.Now().UTC(),
	})
}

// providerSecret resolves the upstream key: the tenant's own encrypted key
// first, then the shared system key.
func (p *Pipeline) providerSecret(ctx context.Context, tenantID, provider string) (string, *proxyerr.Error) {
	vendorKey, err := p.backend.GetVendorKey(ctx, tenantID, provider)
	if err != nil {
		p.logger.Warn("Vendor key lookup failed, trying system key",
			zap.String("tenant", tenantID), zap.String("provider", provider), zap.Error(err))
	}
	if vendorKey != nil && vendorKey.IsActive && p.box != nil {
		secret, err := p.box.Open(vendorKey.EncryptedKey)
		if err == nil {
			return secret, nil
		}
		p.logger.Error("Vendor key decryption failed, falling back to system key",
			zap.String("tenant", tenantID), zap.String("provider", provider), zap.Error(err))
	}

	if key := p.cfg.Providers.SystemKey(provider); key != "" {
		return key, nil
	}
	return "", proxyerr.New(proxyerr.KindNoProviderCredential,
		"no credential available for provider "+provider)
}

// bumpMonthly maintains the running monthly cost total used for the
// X-Cost-Monthly-Total header. Returns the new total, best effort.
func (p *Pipeline) bumpMonthly(ctx context.Context, tenantID string, cost float64) float64 {
	if p.redis == nil {
		return 0
	}
	key := fmt.Sprintf("cost:monthly:%s:%s", tenantID, time.Now().UTC().Format("2006-01"))
	if cost <= 0 {
		total, err := p.redis.Get(ctx, key).Float64()
		if err != nil {
			return 0
		}
		return total
	}
	pipe := p.redis.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, cost)
	pipe.Expire(ctx, key, 35*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Debug("Monthly cost bump failed", zap.String("tenant", tenantID), zap.Error(err))
		return 0
	}
	return incr.Val()
}

// serveModels answers model listing locally; the registry is canonical for
// what the gateway will price and route.
func (p *Pipeline) serveModels(w http.ResponseWriter, provider string) {
	type entry struct {
		ID         string `json:"id"`
		Object     string `json:"object"`
		OwnedBy    string `json:"owned_by"`
		Efficiency int    `json:"efficiency,omitempty"`
	}
	names := p.registry.ModelsByProvider(provider)
	out := struct {
		Object string  `json:"object"`
		Data   []entry `json:"data"`
	}{Object: "list", Data: make([]entry, 0, len(names))}
	for _, name := range names {
		out.Data = append(out.Data, entry{
			ID:         name,
			Object:     "model",
			OwnedBy:    provider,
			Efficiency: p.calc.Efficiency(provider, name),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// resolveModel picks the request model (alias-resolved) or the provider
// default when the body names none.
func (p *Pipeline) resolveModel(body []byte, provider string) string {
	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		if cfg, ok := p.driver.Config(provider); ok {
			return cfg.DefaultModel
		}
		return ""
	}
	return p.registry.ResolveAlias(model)
}

// classifyEndpoint maps the proxied path suffix onto an operation.
func classifyEndpoint(rest string) providers.Endpoint {
	switch {
	case strings.Contains(rest, "chat/completions"), strings.HasSuffix(rest, "/messages"), rest == "messages":
		return providers.EndpointChat
	case strings.Contains(rest, "embeddings"):
		return providers.EndpointEmbeddings
	case strings.Contains(rest, "models"):
		return providers.EndpointModels
	case strings.Contains(rest, "completions"):
		return providers.EndpointCompletions
	default:
		return providers.EndpointChat
	}
}

// inputText concatenates message contents for token estimation.
func inputText(body []byte) string {
	var sb strings.Builder
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		if content := msg.Get("content"); content.Type == gjson.String {
			sb.WriteString(content.String())
			sb.WriteString("\n")
		}
		return true
	})
	if sb.Len() == 0 {
		if prompt := gjson.GetBytes(body, "prompt"); prompt.Type == gjson.String {
			return prompt.String()
		}
		if input := gjson.GetBytes(body, "input"); input.Type == gjson.String {
			return input.String()
		}
	}
	return sb.String()
}

func requestIDOf(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func latencyOf(r *providers.Result) time.Duration {
	if r == nil {
		return 0
	}
	return r.Latency
}

func retriesOf(r *providers.Result) int {
	if r == nil {
		return 0
	}
	return r.Retries
}
