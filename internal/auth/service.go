package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/als-ai/gateway/internal/backend"
	"github.com/als-ai/gateway/internal/cache"
	"github.com/als-ai/gateway/internal/models"
	"github.com/als-ai/gateway/internal/proxyerr"
)

// cacheKeyPrefix namespaces auth entries in both cache tiers.
const cacheKeyPrefix = "auth:"

// entry is the cached resolution of a credential hash.
type entry struct {
	Tenant     *models.Tenant     `json:"tenant"`
	Credential *models.Credential `json:"credential"`
}

// Service orchestrates extraction, the two-tier cache, backend resolution,
// and the validity gates. Concurrent misses for the same hash coalesce into
// a single backend round-trip.
type Service struct {
	extractor *Extractor
	cache     *cache.Tiered
	backend   *backend.Client
	logger    *zap.Logger

	group singleflight.Group

	// credential hashes observed per tenant since startup, for the
	// periodic limit refresh.
	seenMu  sync.Mutex
	seenIDs map[string]map[string]struct{}
}

func NewService(tiered *cache.Tiered, backendClient *backend.Client, logger *zap.Logger) *Service {
	return &Service{
		extractor: NewExtractor(logger),
		cache:     tiered,
		backend:   backendClient,
		logger:    logger,
		seenIDs:   make(map[string]map[string]struct{}),
	}
}

// Authenticate resolves the request credential to a TenantContext or fails
// with a stable error kind. On success the context carries the tenant and
// credential records that passed every gate.
func (s *Service) Authenticate(r *http.Request, requestID string) (*models.TenantContext, *proxyerr.Error) {
	arrived := time.Now()
	clientIP := clientIPOf(r)

	extracted, extractErr := s.extractor.Extract(r)
	if extractErr != nil {
		s.auditFailure(requestID, "", extractErr, r, clientIP)
		return nil, extractErr
	}

	ent, cached, resolveErr := s.resolve(r.Context(), extracted.Hash)
	if resolveErr != nil {
		s.auditFailure(requestID, extracted.Preview, resolveErr, r, clientIP)
		return nil, resolveErr
	}

	if gateErr := s.applyGates(ent, clientIP, r.URL.Path, arrived); gateErr != nil {
		s.auditFailure(requestID, extracted.Preview, gateErr, r, clientIP)
		return nil, gateErr
	}

	tc := &models.TenantContext{
		Tenant:     ent.Tenant,
		Credential: ent.Credential,
		RequestID:  requestID,
		ClientIP:   clientIP,
		UserAgent:  r.UserAgent(),
		ArrivedAt:  arrived,
		Cached:     cached,
	}

	s.markSeen(ent.Tenant.ID, extracted.Hash)

	// Audit trail and credential usage bump, off the hot path.
	s.backend.PostAuthEvent(backend.AuthEvent{
		RequestID:  requestID,
		TenantID:   ent.Tenant.ID,
		KeyID:      ent.Credential.ID,
		KeyPreview: extracted.Preview,
		Success:    true,
		ClientIP:   clientIP,
		UserAgent:  r.UserAgent(),
		Path:       r.URL.Path,
		Cached:     cached,
	})

	return tc, nil
}

// resolve loads the entry from the cache, falling back to the backend on a
// miss. The singleflight group guarantees one in-flight backend resolution
// per hash.
func (s *Service) resolve(ctx context.Context, hash string) (*entry, bool, *proxyerr.Error) {
	key := cacheKeyPrefix + hash

	var cachedEntry entry
	if _, err := s.cache.Get(ctx, key, &cachedEntry); err == nil {
		return &cachedEntry, true, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("Auth cache read failed, forcing backend lookup", zap.Error(err))
	}

	result, err, _ := s.group.Do(hash, func() (interface{}, error) {
		resp, verifyErr := s.backend.VerifyKey(ctx, hash)
		if verifyErr != nil {
			return nil, verifyErr
		}
		ent := &entry{Tenant: resp.Company, Credential: resp.APIKey}
		if setErr := s.cache.Set(ctx, key, ent); setErr != nil {
			s.logger.Warn("Auth cache write failed", zap.Error(setErr))
		}
		return ent, nil
	})
	if err != nil {
		var pe *proxyerr.Error
		if errors.As(err, &pe) {
			return nil, false, pe
		}
		return nil, false, proxyerr.Wrap(proxyerr.KindBackendError, "credential resolution failed", err)
	}

	return result.(*entry), false, nil
}

// applyGates runs the validity checks in their specified order; the first
// failure wins.
func (s *Service) applyGates(ent *entry, clientIP, path string, now time.Time) *proxyerr.Error {
	tenant, cred := ent.Tenant, ent.Credential

	if !tenant.Active {
		return proxyerr.New(proxyerr.KindTenantSuspended, "tenant is suspended")
	}
	if !cred.Active {
		return proxyerr.New(proxyerr.KindCredentialRevoked, "credential is revoked")
	}
	if cred.Expired(now) {
		return proxyerr.New(proxyerr.KindCredentialExpired, "credential has expired")
	}
	if !cred.IPAllowed(clientIP) {
		return proxyerr.New(proxyerr.KindIPNotAllowed, "client IP not in credential allowlist")
	}
	if !cred.EndpointAllowed(path) {
		return proxyerr.New(proxyerr.KindEndpointNotAllowed, "endpoint not permitted for this credential")
	}
	if provider := providerFromPath(path); provider != "" {
		if !models.ProviderAllowed(provider, tenant, cred) {
			return proxyerr.New(proxyerr.KindProviderNotAllowed, "provider not permitted").
				WithDetails(map[string]interface{}{"provider": provider})
		}
	}
	return nil
}

// Invalidate drops the cached resolution for a credential hash from both
// tiers. The next lookup goes back to the backend.
func (s *Service) Invalidate(ctx context.Context, hash string) error {
	return s.cache.Invalidate(ctx, cacheKeyPrefix+hash)
}

// SeenTenants returns the ids of tenants authenticated since startup.
func (s *Service) SeenTenants() []string {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	ids := make([]string, 0, len(s.seenIDs))
	for id := range s.seenIDs {
		ids = append(ids, id)
	}
	return ids
}

// RefreshTenant drops every cached resolution for a tenant's credentials so
// the next request picks up changed limit overrides or revocations.
func (s *Service) RefreshTenant(ctx context.Context, tenantID string) {
	s.seenMu.Lock()
	hashes := make([]string, 0, len(s.seenIDs[tenantID]))
	for h := range s.seenIDs[tenantID] {
		hashes = append(hashes, h)
	}
	s.seenMu.Unlock()

	for _, hash := range hashes {
		if err := s.Invalidate(ctx, hash); err != nil {
			s.logger.Warn("Tenant refresh invalidation failed",
				zap.String("tenant", tenantID), zap.Error(err))
		}
	}
}

func (s *Service) markSeen(tenantID, hash string) {
	s.seenMu.Lock()
	if s.seenIDs[tenantID] == nil {
		s.seenIDs[tenantID] = make(map[string]struct{})
	}
	s.seenIDs[tenantID][hash] = struct{}{}
	s.seenMu.Unlock()
}

func (s *Service) auditFailure(requestID, preview string, pe *proxyerr.Error, r *http.Request, clientIP string) {
	s.backend.PostAuthError(backend.AuthEvent{
		RequestID:  requestID,
		KeyPreview: preview,
		Success:    false,
		ErrorKind:  string(pe.Kind),
		ClientIP:   clientIP,
		UserAgent:  r.UserAgent(),
		Path:       r.URL.Path,
	})
}

// providerFromPath pulls the vendor segment out of /proxy/<vendor>/... paths.
func providerFromPath(path string) string {
	const prefix = "/proxy/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(path, prefix)
	vendor, _, _ := strings.Cut(rest, "/")
	return vendor
}

// clientIPOf trusts chi's RealIP middleware having rewritten RemoteAddr.
func clientIPOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
