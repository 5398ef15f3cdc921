package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ovillere/dinerate/internal/cache"
	"github.com/ovillere/dinerate/internal/config"
	"github.com/ovillere/dinerate/internal/logging"
)

const globalKey = "ratelimit:global"

// RedisLimiter implements sliding-window rate limiting on Redis sorted
// sets. Redis failures fail open: the durable duplicate-guard check in
// persistence still applies.
type RedisLimiter struct {
	redis  *cache.Redis
	cfg    *config.RateLimitConfig
	logger zerolog.Logger
}

// NewRedisLimiter creates a redis-backed limiter
func NewRedisLimiter(redis *cache.Redis, cfg *config.RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		redis:  redis,
		cfg:    cfg,
		logger: logging.NewLogger("ratelimit"),
	}
}

// Allow checks the cooldown block, the minimum inter-submission
// interval and both sliding windows, then records the attempt.
func (r *RedisLimiter) Allow(ctx context.Context, pseudonymID string) (Decision, error) {
	now := time.Now()
	window := windowOrDefault(r.cfg)
	idKey := fmt.Sprintf("ratelimit:id:%s", pseudonymID)
	blockKey := fmt.Sprintf("ratelimit:block:%s", pseudonymID)

	// Cooldown block from a previous burst violation
	ttl, err := r.redis.Client.TTL(ctx, blockKey).Result()
	if err != nil {
		return r.failOpen(err, pseudonymID), nil
	}
	if ttl > 0 {
		return denied(ReasonBlocked, ttl), nil
	}

	// Minimum interval below the burst threshold stops scripted rapid-fire
	if r.cfg.MinInterval > 0 {
		last, err := r.redis.Client.ZRevRangeWithScores(ctx, idKey, 0, 0).Result()
		if err != nil {
			return r.failOpen(err, pseudonymID), nil
		}
		if len(last) > 0 {
			lastAt := time.Unix(0, int64(last[0].Score))
			if since := now.Sub(lastAt); since < r.cfg.MinInterval {
				return denied(ReasonTooFast, r.cfg.MinInterval-since), nil
			}
		}
	}

	windowStart := now.Add(-window)

	pipe := r.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, idKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	idCount := pipe.ZCard(ctx, idKey)
	pipe.ZRemRangeByScore(ctx, globalKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	globalCount := pipe.ZCard(ctx, globalKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.failOpen(err, pseudonymID), nil
	}

	// Burst violation arms the cooldown block
	if idCount.Val() >= int64(r.cfg.BurstLimit) {
		if err := r.redis.Client.Set(ctx, blockKey, "1", r.cfg.Cooldown).Err(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to set cooldown block")
		}
		return denied(ReasonBurst, r.cfg.Cooldown), nil
	}

	if r.cfg.GlobalLimit > 0 && globalCount.Val() >= int64(r.cfg.GlobalLimit) {
		return denied(ReasonGlobalBurst, window), nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), pseudonymID)
	record := r.redis.Client.Pipeline()
	record.ZAdd(ctx, idKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	record.Expire(ctx, idKey, window*2)
	record.ZAdd(ctx, globalKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	record.Expire(ctx, globalKey, window*2)
	if _, err := record.Exec(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record rate limit entry")
	}

	remaining := int64(r.cfg.BurstLimit) - idCount.Val() - 1
	if remaining < 0 {
		remaining = 0
	}
	return allowed(remaining), nil
}

// Reset clears rate-limit state for an identity
func (r *RedisLimiter) Reset(ctx context.Context, pseudonymID string) error {
	return r.redis.Client.Del(ctx,
		fmt.Sprintf("ratelimit:id:%s", pseudonymID),
		fmt.Sprintf("ratelimit:block:%s", pseudonymID),
	).Err()
}

func (r *RedisLimiter) failOpen(err error, pseudonymID string) Decision {
	r.logger.Error().Err(err).
		Str("pseudonym_id", logging.MaskIdentity(pseudonymID)).
		Msg("Rate limit check failed, allowing request")
	return allowed(int64(r.cfg.BurstLimit))
}
