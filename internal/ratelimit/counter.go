package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CounterLimiter is the memory-frugal secondary algorithm: two fixed windows
// (current and previous) per key, with the previous window weighted by how
// far the current window has progressed. It trades the log's exactness for
// O(1) storage per key.
type CounterLimiter struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewCounterLimiter(client *redis.Client, logger *zap.Logger) *CounterLimiter {
	return &CounterLimiter{client: client, logger: logger, now: time.Now}
}

// Check estimates usage as prev*(1-progress)+curr and admits the request if
// the estimate plus amount stays within limit. Checks never mutate the
// counters; admitted usage is recorded separately via Increment.
func (c *CounterLimiter) Check(ctx context.Context, tenantID string, d Dimension, limit, amount float64) (Decision, error) {
	window := d.Window()
	now := c.now()
	windowMs := window.Milliseconds()
	nowMs := now.UnixMilli()

	currIdx := nowMs / windowMs
	progress := float64(nowMs%windowMs) / float64(windowMs)

	base := d.Key(tenantID)
	currKey := fmt.Sprintf("%s:%d", base, currIdx)
	prevKey := fmt.Sprintf("%s:%d", base, currIdx-1)

	pipe := c.client.TxPipeline()
	currCmd := pipe.Get(ctx, currKey)
	prevCmd := pipe.Get(ctx, prevKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Decision{}, fmt.Errorf("counter window read: %w", err)
	}

	curr, _ := currCmd.Float64()
	prev, _ := prevCmd.Float64()
	estimated := prev*(1-progress) + curr

	decision := Decision{
		Dimension:   d,
		Limit:       limit,
		Used:        estimated,
		WindowStart: now.Add(-window),
		WindowEnd:   now,
	}

	if estimated+amount > limit {
		decision.Allowed = false
		decision.Remaining = 0
		remainder := time.Duration(windowMs-nowMs%windowMs) * time.Millisecond
		decision.ResetTime = now.Add(remainder)
		decision.RetryAfter = int(math.Ceil(remainder.Seconds()))
		if decision.RetryAfter < 1 {
			decision.RetryAfter = 1
		}
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = limit - estimated - amount
	decision.ResetTime = now.Add(window)
	return decision, nil
}

// Increment adds amount to the current window counter.
func (c *CounterLimiter) Increment(ctx context.Context, tenantID string, d Dimension, amount float64) error {
	window := d.Window()
	nowMs := c.now().UnixMilli()
	currIdx := nowMs / window.Milliseconds()
	currKey := fmt.Sprintf("%s:%d", d.Key(tenantID), currIdx)

	pipe := c.client.Pipeline()
	pipe.IncrByFloat(ctx, currKey, amount)
	pipe.Expire(ctx, currKey, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Counter window increment failed", zap.String("key", currKey), zap.Error(err))
		return err
	}
	return nil
}
