package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares the per-customer window across metering instances
// with a sorted set of dispatch timestamps per customer.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(redisURL string) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisRateLimiter{client: client}, nil
}

// NewRedisRateLimiterWithClient wraps an existing client, for tests.
func NewRedisRateLimiterWithClient(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, customerID string, limit int) (bool, error) {
	key := "llmmeter:dispatch:" + customerID
	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-time.Minute).UnixNano(), 10)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if int(countCmd.Val()) >= limit {
		return false, nil
	}

	// Record the dispatch only once it is admitted, so denied attempts do
	// not extend the customer's backoff.
	pipe = r.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})
	pipe.Expire(ctx, key, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return true, nil
}

func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}
