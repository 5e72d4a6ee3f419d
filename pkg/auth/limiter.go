package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// LimitPolicy is a token-bucket rate limit: sustained requests per minute
// with a burst allowance.
type LimitPolicy struct {
	RPM   int
	Burst int
}

// Limiter answers whether one more request from actor is allowed.
type Limiter interface {
	Allow(ctx context.Context, actor string) (bool, error)
}

// LocalLimiter keeps one token bucket per actor in process memory.
// Suitable for single-instance deployments and tests.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	policy  LimitPolicy
}

func NewLocalLimiter(policy LimitPolicy) *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*rate.Limiter), policy: policy}
}

func (l *LocalLimiter) Allow(ctx context.Context, actor string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[actor]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(l.policy.RPM)/60.0), l.policy.Burst)
		l.buckets[actor] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

// tokenBucketScript runs the refill-and-consume step atomically in Redis.
// KEYS[1] = bucket key; ARGV = rate (tokens/sec), capacity, cost, now.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter shares token buckets across instances through Redis.
type RedisLimiter struct {
	client *redis.Client
	policy LimitPolicy
}

func NewRedisLimiter(client *redis.Client, policy LimitPolicy) *RedisLimiter {
	return &RedisLimiter{client: client, policy: policy}
}

func (l *RedisLimiter) Allow(ctx context.Context, actor string) (bool, error) {
	key := fmt.Sprintf("covenant:limiter:%s", actor)
	perSecond := float64(l.policy.RPM) / 60.0
	if perSecond <= 0 {
		perSecond = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key},
		perSecond, l.policy.Burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	return allowed == 1, nil
}
