// Package admission rate-limits producers before their calls reach the
// pipeline. The local limiter is a per-source token bucket; the Redis
// limiter shares one bucket across kernel instances.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter admits or rejects one proposed call by source.
type Limiter interface {
	Allow(ctx context.Context, source string) (bool, error)
}

// LocalLimiter keeps one token bucket per source.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

// NewLocalLimiter admits perSecond sustained calls per source with the
// given burst.
func NewLocalLimiter(perSecond float64, burst int) *LocalLimiter {
	if burst < 1 {
		burst = 1
	}
	return &LocalLimiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Limit(perSecond),
		burst:   burst,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, source string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[source]
	if !ok {
		bucket = rate.NewLimiter(l.rate, l.burst)
		l.buckets[source] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

// tokenBucketScript refills and consumes atomically so concurrent
// kernels share one bucket per source.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local refill = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * refill
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter is the distributed token bucket.
type RedisLimiter struct {
	client    redis.Scripter
	perSecond float64
	burst     int
	clock     func() time.Time
}

func NewRedisLimiter(client redis.Scripter, perSecond float64, burst int) *RedisLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RedisLimiter{
		client:    client,
		perSecond: perSecond,
		burst:     burst,
		clock:     time.Now,
	}
}

func (l *RedisLimiter) WithClock(clock func() time.Time) *RedisLimiter {
	l.clock = clock
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, source string) (bool, error) {
	key := fmt.Sprintf("admission:%s", source)
	now := float64(l.clock().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, l.perSecond, l.burst, now).Int()
	if err != nil {
		return false, fmt.Errorf("admission: redis limiter: %w", err)
	}
	return res == 1, nil
}
