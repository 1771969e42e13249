package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrCacheMiss is returned when neither tier holds a live entry.
var ErrCacheMiss = errors.New("cache miss")

// envelope is the wire form stored in both tiers. ExpiresAt is authoritative;
// the tier TTLs are a backstop.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Tiered maps keys to JSON values across the distributed tier (Redis) and the
// per-process local tier. Reads prefer the distributed tier; a local hit
// backfills it. Either tier failing is logged and skipped; a total read
// failure is reported as a miss so callers fall through to their source of
// truth, never as a hard error.
type Tiered struct {
	redis  *redis.Client
	local  *Local
	logger *zap.Logger
	ttl    time.Duration
}

// NewTiered creates a two-tier cache with the given TTL for both tiers.
func NewTiered(redisClient *redis.Client, local *Local, logger *zap.Logger, ttl time.Duration) *Tiered {
	return &Tiered{
		redis:  redisClient,
		local:  local,
		logger: logger,
		ttl:    ttl,
	}
}

// Get loads the value for key into dest. The second return reports whether
// the hit came from the distributed tier.
func (t *Tiered) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if t.redis != nil {
		raw, err := t.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if ok := t.decode(key, raw, dest); ok {
				return true, nil
			}
		case errors.Is(err, redis.Nil):
			// fall through to local tier
		default:
			t.logger.Warn("Distributed tier read failed, trying local tier",
				zap.String("key", key), zap.Error(err))
		}
	}

	raw, ok := t.local.Get(key)
	if !ok {
		return false, ErrCacheMiss
	}
	if !t.decode(key, raw, dest) {
		return false, ErrCacheMiss
	}

	// Backfill the distributed tier so sibling processes see the entry.
	if t.redis != nil {
		go func(payload []byte) {
			bctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := t.redis.Set(bctx, key, payload, t.ttl).Err(); err != nil {
				t.logger.Debug("Cache backfill failed", zap.String("key", key), zap.Error(err))
			}
		}(raw)
	}

	return false, nil
}

// Set writes the value to both tiers in parallel.
func (t *Tiered) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	now := time.Now()
	raw, err := json.Marshal(envelope{
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(t.ttl),
	})
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.local.Set(key, raw, t.ttl)
		return nil
	})
	if t.redis != nil {
		g.Go(func() error {
			if err := t.redis.Set(gctx, key, raw, t.ttl).Err(); err != nil {
				t.logger.Warn("Distributed tier write failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Invalidate deletes the key from both tiers in parallel.
func (t *Tiered) Invalidate(ctx context.Context, key string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.local.Delete(key)
		return nil
	})
	if t.redis != nil {
		g.Go(func() error {
			if err := t.redis.Del(gctx, key).Err(); err != nil {
				t.logger.Warn("Distributed tier delete failed", zap.String("key", key), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// decode unwraps an envelope, enforcing its embedded expiry.
func (t *Tiered) decode(key string, raw []byte, dest interface{}) bool {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.logger.Warn("Corrupt cache envelope", zap.String("key", key), zap.Error(err))
		return false
	}
	if time.Now().After(env.ExpiresAt) {
		return false
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		t.logger.Warn("Corrupt cache value", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
