package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLimiter counts admissions in a per-minute redis bucket so several
// gateway instances share one budget. The window is minute-aligned rather
// than sliding; deployments that need the exact window run a single
// instance with the in-memory limiter.
type RedisLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisLimiter(addr, password string, db int, logger *zap.Logger) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLimiter{client: client, logger: logger}, nil
}

func (l *RedisLimiter) bucket(platform, userID string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", platform, userID, now.UTC().Format("2006-01-02-15-04"))
}

func (l *RedisLimiter) Allow(ctx context.Context, platform, userID string, limit int) (bool, error) {
	key := l.bucket(platform, userID, time.Now())

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit bucket: %w", err)
	}
	if count == 1 {
		// Without the expiry the bucket would outlive its minute and deny
		// the key forever.
		if err := l.client.Expire(ctx, key, 2*Window).Err(); err != nil {
			l.logger.Error("Failed to set rate limit bucket expiry",
				zap.Error(err),
				zap.String("key", key))
		}
	}

	if count > int64(limit) {
		l.logger.Warn("Rate limit exceeded",
			zap.String("platform", platform),
			zap.String("user_id", userID),
			zap.Int("limit", limit))
		return false, nil
	}
	return true, nil
}

func (l *RedisLimiter) Remaining(ctx context.Context, platform, userID string, limit int) (int, error) {
	key := l.bucket(platform, userID, time.Now())

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit bucket: %w", err)
	}

	if remaining := limit - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
