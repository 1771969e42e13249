package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/config"
	"github.com/als-ai/gateway/internal/models"
	"github.com/als-ai/gateway/internal/proxyerr"
)

// bestEffortTimeout bounds fire-and-forget calls (audit events, usage ticks).
const bestEffortTimeout = 5 * time.Second

// Client talks to the administrative backend that owns tenant records and
// credentials. Every call carries the backend bearer token and a request id.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	onDrop     func()
}

// OnDrop registers a callback invoked whenever a best-effort delivery fails.
// Must be called before the client is shared across goroutines.
func (c *Client) OnDrop(fn func()) {
	c.onDrop = fn
}

func NewClient(cfg config.BackendConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.URL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// VerifyKeyResponse is the backend's resolution of a credential hash.
type VerifyKeyResponse struct {
	Company *models.Tenant     `json:"company"`
	APIKey  *models.Credential `json:"api_key"`
}

// VerifyKey resolves a credential hash to its tenant and credential records.
// 404 and 401 mean the credential does not exist; 403 means it was revoked;
// 5xx is a retryable backend failure.
func (c *Client) VerifyKey(ctx context.Context, keyHash string) (*VerifyKeyResponse, error) {
	body := map[string]interface{}{
		"api_key_hash":        keyHash,
		"include_company":     true,
		"include_permissions": true,
	}

	resp, err := c.do(ctx, http.MethodPost, "/auth/verify-key", body)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindBackendError, "backend unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusUnauthorized:
		return nil, proxyerr.New(proxyerr.KindCredentialNotFound, "credential not recognized")
	case resp.StatusCode == http.StatusForbidden:
		return nil, proxyerr.New(proxyerr.KindCredentialRevoked, "credential revoked")
	case resp.StatusCode >= 500:
		return nil, proxyerr.New(proxyerr.KindBackendError,
			fmt.Sprintf("backend returned %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, proxyerr.New(proxyerr.KindBackendError,
			fmt.Sprintf("unexpected backend status %d", resp.StatusCode))
	}

	var out VerifyKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindBackendError, "invalid verify-key response", err)
	}
	if out.Company == nil || out.APIKey == nil {
		return nil, proxyerr.New(proxyerr.KindBackendError, "incomplete verify-key response")
	}
	return &out, nil
}

// GetTenant fetches a tenant record, used by the periodic limit-override refresh.
func (c *Client) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	resp, err := c.do(ctx, http.MethodGet, "/companies/"+tenantID, nil)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindBackendError, "backend unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, proxyerr.New(proxyerr.KindTenantNotFound, "tenant not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, proxyerr.New(proxyerr.KindBackendError,
			fmt.Sprintf("backend returned %d", resp.StatusCode))
	}

	var tenant models.Tenant
	if err := json.NewDecoder(resp.Body).Decode(&tenant); err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindBackendError, "invalid tenant response", err)
	}
	return &tenant, nil
}

// GetQuotas fetches cost quotas for a tenant. Returns (nil, nil) when the
// tenant has no quotas configured.
func (c *Client) GetQuotas(ctx context.Context, tenantID string) (*models.TenantQuotas, error) {
	resp, err := c.do(ctx, http.MethodGet, "/companies/"+tenantID+"/quotas", nil)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindBackendError, "backend unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, proxyerr.New(proxyerr.KindBackendError,
			fmt.Sprintf("backend returned %d", resp.StatusCode))
	}

	var quotas models.TenantQuotas
	if err := json.NewDecoder(resp.Body).Decode(&quotas); err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindBackendError, "invalid quotas response", err)
	}
	return &quotas, nil
}

// VendorKey is a tenant-supplied provider credential, encrypted at rest.
type VendorKey struct {
	EncryptedKey string `json:"encrypted_key"`
	IsActive     bool   `json:"is_active"`
}

// GetVendorKey fetches a tenant's own key for a provider. Returns (nil, nil)
// when the tenant has not supplied one, so the caller falls back to the
// shared system key.
func (c *Client) GetVendorKey(ctx context.Context, tenantID, provider string) (*VendorKey, error) {
	resp, err := c.do(ctx, http.MethodGet, "/vendor-keys/"+tenantID+"/"+provider, nil)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindBackendError, "backend unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, proxyerr.New(proxyerr.KindBackendError,
			fmt.Sprintf("backend returned %d", resp.StatusCode))
	}

	var key VendorKey
	if err := json.NewDecoder(resp.Body).Decode(&key); err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindBackendError, "invalid vendor key response", err)
	}
	return &key, nil
}

// AuthEvent is the audit record emitted for every authentication attempt.
type AuthEvent struct {
	RequestID  string `json:"request_id"`
	TenantID   string `json:"company_id,omitempty"`
	KeyID      string `json:"api_key_id,omitempty"`
	KeyPreview string `json:"key_preview,omitempty"`
	Success    bool   `json:"success"`
	ErrorKind  string `json:"error_kind,omitempty"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent"`
	Path       string `json:"path"`
	Cached     bool   `json:"cached"`
}

// PostAuthEvent delivers an auth audit entry. Best effort.
func (c *Client) PostAuthEvent(event AuthEvent) {
	c.fireAndForget("/auth/events", event)
}

// PostAuthError delivers an auth error audit entry. Best effort.
func (c *Client) PostAuthError(event AuthEvent) {
	c.fireAndForget("/logs/auth-errors", event)
}

// PostUsageEvent delivers a full request usage record. Best effort.
func (c *Client) PostUsageEvent(tenantID string, event interface{}) {
	c.fireAndForget("/companies/"+tenantID+"/usage/events", event)
}

// PostCostTick appends a cost sample to the tenant's usage ledger. Best effort.
func (c *Client) PostCostTick(tenantID string, cost float64, model, provider string) {
	c.fireAndForget("/companies/"+tenantID+"/usage/cost", map[string]interface{}{
		"cost":     cost,
		"model":    model,
		"provider": provider,
		"at":       time.Now().UTC().Format(time.RFC3339),
	})
}

// fireAndForget posts in a detached goroutine with its own deadline. Failures
// are logged and never surface.
func (c *Client) fireAndForget(path string, payload interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
		defer cancel()

		resp, err := c.do(ctx, http.MethodPost, path, payload)
		if err != nil {
			c.logger.Debug("Best-effort backend call failed",
				zap.String("path", path), zap.Error(err))
			if c.onDrop != nil {
				c.onDrop()
			}
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 && c.onDrop != nil {
			c.onDrop()
		}
	}()
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}
