package ratelimit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/models"
)

// Limiter enforces per-tenant sliding-window rate and cost limits against
// the distributed tier, with a local in-process engine as fallback when the
// distributed tier is unreachable. Fallback never relaxes limits; it may
// diverge across replicas until the distributed tier returns.
type Limiter struct {
	client   *redis.Client
	fallback *localEngine
	logger   *zap.Logger
	metrics  *Metrics

	// counter, when set, replaces the log-based pipeline with the sliding
	// window counter algorithm on the distributed tier.
	counter *CounterLimiter

	fallbackActive atomic.Bool

	// now is swappable for tests.
	now func() time.Time
}

func NewLimiter(client *redis.Client, logger *zap.Logger, metrics *Metrics) *Limiter {
	return &Limiter{
		client:   client,
		fallback: newLocalEngine(),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Check decides whether adding amount to the tenant's dimension would exceed
// limit. The decision is atomic against the distributed tier; the probe
// sample inserted by the pipeline is always compensated away, so a check
// never mutates the counters (usage is recorded by IncrementAll after a
// successful provider call).
func (l *Limiter) Check(ctx context.Context, tenantID string, d Dimension, limit, amount float64) (Decision, error) {
	if l.client != nil {
		decision, err := l.checkDistributed(ctx, tenantID, d, limit, amount)
		if err == nil {
			l.fallbackActive.Store(false)
			if l.metrics != nil {
				l.metrics.SetFallbackActive(false)
				l.metrics.ObserveDecision(d, decision.Allowed)
			}
			return decision, nil
		}
		l.logger.Warn("Distributed tier unreachable, rate limiting via local fallback",
			zap.String("tenant", tenantID),
			zap.String("dimension", string(d)),
			zap.Error(err))
	}
	decision := l.fallback.check(tenantID, d, limit, amount, l.now())
	l.fallbackActive.Store(true)
	if l.metrics != nil {
		l.metrics.SetFallbackActive(true)
		l.metrics.ObserveDecision(d, decision.Allowed)
	}
	return decision, nil
}

// FallbackActive reports whether the most recent check ran on the local
// fallback engine.
func (l *Limiter) FallbackActive() bool {
	return l.fallbackActive.Load()
}

// UseCounterAlgorithm switches the distributed tier to the sliding window
// counter: two fixed windows per key with the previous one weighted by
// window progress. The local fallback engine stays log based.
func (l *Limiter) UseCounterAlgorithm() {
	if l.client == nil {
		return
	}
	l.counter = NewCounterLimiter(l.client, l.logger)
	l.counter.now = func() time.Time { return l.now() }
}

func (l *Limiter) checkDistributed(ctx context.Context, tenantID string, d Dimension, limit, amount float64) (Decision, error) {
	if l.counter != nil {
		return l.counter.Check(ctx, tenantID, d, limit, amount)
	}
	return l.checkRedis(ctx, tenantID, d, limit, amount)
}

// checkRedis runs the log-based sliding window pipeline.
func (l *Limiter) checkRedis(ctx context.Context, tenantID string, d Dimension, limit, amount float64) (Decision, error) {
	key := d.Key(tenantID)
	window := d.Window()
	now := l.now()
	nowMs := now.UnixMilli()
	windowStartMs := nowMs - window.Milliseconds()
	member := sampleMember(nowMs, amount)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", windowStartMs))
	cardCmd := pipe.ZCard(ctx, key)
	var rangeCmd *redis.ZSliceCmd
	if d.IsCost() {
		rangeCmd = pipe.ZRangeWithScores(ctx, key, 0, -1)
	}
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
	pipe.Expire(ctx, key, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	// The probe sample only exists to make the read atomic; remove it
	// unconditionally so a check leaves the set untouched.
	defer func() {
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			l.logger.Warn("Failed to remove rate limit probe", zap.String("key", key), zap.Error(err))
		}
	}()

	var used float64
	if d.IsCost() {
		for _, z := range rangeCmd.Val() {
			if m, ok := z.Member.(string); ok && m != member {
				used += sampleAmount(m)
			}
		}
	} else {
		used = float64(cardCmd.Val())
	}

	return decide(d, limit, used, amount, now, oldestSampleTime(oldestCmd.Val(), nowMs)), nil
}

// decide applies the shared admission arithmetic for both engines.
func decide(d Dimension, limit, used, amount float64, now time.Time, oldest time.Time) Decision {
	window := d.Window()
	effective := used + amount

	decision := Decision{
		Dimension:   d,
		Limit:       limit,
		Used:        used,
		WindowStart: now.Add(-window),
		WindowEnd:   now,
	}

	if effective > limit {
		decision.Allowed = false
		decision.Remaining = 0
		reset := oldest.Add(window)
		if reset.Before(now) {
			reset = now.Add(time.Second)
		}
		decision.ResetTime = reset
		decision.RetryAfter = int(math.Ceil(reset.Sub(now).Seconds()))
		if decision.RetryAfter < 1 {
			decision.RetryAfter = 1
		}
		return decision
	}

	decision.Allowed = true
	decision.Remaining = limit - effective
	decision.ResetTime = now.Add(window)
	return decision
}

// CheckAll walks the applicable dimensions in order (requests minute → hour →
// day, then cost dimensions when an estimate is supplied); the first failure
// wins. On success it returns every per-dimension decision plus the most
// restrictive one for the primary headers.
func (l *Limiter) CheckAll(ctx context.Context, tenantID string, limits models.LimitSet, estimatedCost float64) ([]Decision, *Decision, error) {
	var decisions []Decision

	check := func(d Dimension, amount float64) (*Decision, error) {
		limit, bounded := limitFor(limits, d)
		if !bounded {
			return nil, nil
		}
		decision, err := l.Check(ctx, tenantID, d, limit, amount)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, decision)
		if !decision.Allowed {
			return &decision, nil
		}
		return nil, nil
	}

	for _, d := range requestDimensions {
		if rejected, err := check(d, 1); err != nil {
			return nil, nil, err
		} else if rejected != nil {
			return decisions, rejected, nil
		}
	}
	if estimatedCost > 0 {
		for _, d := range costDimensions {
			if rejected, err := check(d, estimatedCost); err != nil {
				return nil, nil, err
			} else if rejected != nil {
				return decisions, rejected, nil
			}
		}
	}

	return decisions, mostRestrictive(decisions), nil
}

// IncrementAll records a completed request in every bounded dimension:
// amount 1 for request dimensions, the actual cost for cost dimensions.
// Failures are logged and never surface.
func (l *Limiter) IncrementAll(ctx context.Context, tenantID string, limits models.LimitSet, actualCost float64) {
	now := l.now()
	nowMs := now.UnixMilli()

	record := func(d Dimension, amount float64) {
		if _, bounded := limitFor(limits, d); !bounded {
			return
		}
		if l.client != nil {
			if l.counter != nil {
				if err := l.counter.Increment(ctx, tenantID, d, amount); err == nil {
					return
				}
				l.fallback.record(tenantID, d, amount, now)
				return
			}
			key := d.Key(tenantID)
			pipe := l.client.TxPipeline()
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: sampleMember(nowMs, amount)})
			pipe.Expire(ctx, key, d.Window()+time.Minute)
			if _, err := pipe.Exec(ctx); err == nil {
				return
			} else {
				l.logger.Warn("Rate limit increment failed, recording locally",
					zap.String("key", key), zap.Error(err))
			}
		}
		l.fallback.record(tenantID, d, amount, now)
	}

	for _, d := range requestDimensions {
		record(d, 1)
	}
	if actualCost > 0 {
		for _, d := range costDimensions {
			record(d, actualCost)
		}
	}
}

// mostRestrictive picks the decision with the smallest remaining fraction of
// its limit; nil when no dimension was bounded.
func mostRestrictive(decisions []Decision) *Decision {
	var worst *Decision
	worstRatio := math.Inf(1)
	for i := range decisions {
		d := &decisions[i]
		if d.Limit <= 0 {
			continue
		}
		ratio := d.Remaining / d.Limit
		if ratio < worstRatio {
			worstRatio = ratio
			worst = d
		}
	}
	return worst
}

// sampleMember encodes a usage sample. The random suffix keeps simultaneous
// samples with equal amounts from colliding in the sorted set.
func sampleMember(nowMs int64, amount float64) string {
	return fmt.Sprintf("%d:%s:%s", nowMs,
		strconv.FormatFloat(amount, 'f', -1, 64),
		strconv.FormatInt(rand.Int63(), 36))
}

// sampleAmount parses the amount field out of a sample member.
func sampleAmount(member string) float64 {
	parts := strings.Split(member, ":")
	if len(parts) < 2 {
		return 0
	}
	amount, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0
	}
	return amount
}

// oldestSampleTime extracts the timestamp of the oldest live sample; falls
// back to now when the set was empty.
func oldestSampleTime(zs []redis.Z, nowMs int64) time.Time {
	if len(zs) == 0 {
		return time.UnixMilli(nowMs)
	}
	return time.UnixMilli(int64(zs[0].Score))
}
