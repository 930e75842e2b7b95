package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 20
	rateLimitKeyPrefix = "practice-sync:ratelimit"
	rateWindow         = time.Second
	minRetryWait       = 5 * time.Millisecond
)

// windowScript counts one call against a window key and returns the count.
// The key outlives its window by one period so late callers still see it.
var windowScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter keeps outbound sends under the provider's per-second quota
// across every process sharing the Redis instance. Windows are aligned to
// wall-clock seconds.
type RedisRateLimiter struct {
	client goredis.Scripter
	limit  int64
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client goredis.Scripter, limitPerSec int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	return &RedisRateLimiter{
		client: client,
		limit:  int64(limitPerSec),
		now:    time.Now,
		sleep:  sleepCtx,
	}, nil
}

// Allow takes a slot in the current window if one is left.
func (r *RedisRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	retryIn, err := r.reserve(ctx, bucket)
	if err != nil {
		return false, err
	}
	return retryIn == 0, nil
}

// Wait blocks until a slot is taken, sleeping to the next window boundary
// each time the current window is full.
func (r *RedisRateLimiter) Wait(ctx context.Context, bucket string) error {
	for {
		retryIn, err := r.reserve(ctx, bucket)
		if err != nil {
			return err
		}
		if retryIn == 0 {
			return nil
		}
		if err := r.sleep(ctx, max(retryIn, minRetryWait)); err != nil {
			return err
		}
	}
}

// reserve counts a call and returns zero when it fits, or the time left in
// the current window when it does not.
func (r *RedisRateLimiter) reserve(ctx context.Context, bucket string) (time.Duration, error) {
	bucket = strings.ToLower(strings.TrimSpace(bucket))
	if bucket == "" {
		return 0, errors.New("rate limit bucket is required")
	}

	now := r.now().UTC()
	window := now.Truncate(rateWindow)
	key := fmt.Sprintf("%s:%s:%d", rateLimitKeyPrefix, bucket, window.Unix())

	n, err := windowScript.Run(ctx, r.client, []string{key}, (2 * rateWindow).Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if n <= r.limit {
		return 0, nil
	}
	return window.Add(rateWindow).Sub(now), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
