// Package maintenance runs the background housekeeping loops: the local
// cache sweep and the periodic tenant refresh.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/auth"
	"github.com/als-ai/gateway/internal/backend"
	"github.com/als-ai/gateway/internal/cache"
)

const (
	defaultSweepInterval   = 6 * time.Hour
	defaultRefreshInterval = 24 * time.Hour
)

// Janitor owns the periodic housekeeping. Run blocks until the context is
// canceled.
type Janitor struct {
	local   *cache.Local
	auth    *auth.Service
	backend *backend.Client
	logger  *zap.Logger

	sweepEvery   time.Duration
	refreshEvery time.Duration
}

func NewJanitor(local *cache.Local, authSvc *auth.Service, backendClient *backend.Client, logger *zap.Logger) *Janitor {
	return &Janitor{
		local:        local,
		auth:         authSvc,
		backend:      backendClient,
		logger:       logger,
		sweepEvery:   defaultSweepInterval,
		refreshEvery: defaultRefreshInterval,
	}
}

func (j *Janitor) Run(ctx context.Context) {
	sweep := time.NewTicker(j.sweepEvery)
	refresh := time.NewTicker(j.refreshEvery)
	defer sweep.Stop()
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			removed := j.local.SweepExpired()
			j.logger.Debug("Local cache sweep complete", zap.Int("removed", removed))
		case <-refresh.C:
			j.refreshTenants(ctx)
		}
	}
}

// refreshTenants re-reads every seen tenant from the backend and drops stale
// cached credentials so changed limit overrides take effect.
func (j *Janitor) refreshTenants(ctx context.Context) {
	for _, tenantID := range j.auth.SeenTenants() {
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		tenant, err := j.backend.GetTenant(reqCtx, tenantID)
		cancel()
		if err != nil {
			j.logger.Warn("Tenant refresh lookup failed",
				zap.String("tenant", tenantID), zap.Error(err))
			continue
		}
		if tenant == nil {
			continue
		}
		j.auth.RefreshTenant(ctx, tenantID)
	}
	j.logger.Info("Tenant limit refresh complete")
}
