package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key ("vault_limit:<caller>:<operation>")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, fractional)
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
redis.call("EXPIRE", key, 120)

return allowed
`)

// RedisLimiter draws every node's calls from shared Redis token buckets.
type RedisLimiter struct {
	client   *redis.Client
	policies map[string]Policy
	fallback Policy
}

// NewRedisLimiter connects to Redis at addr.
func NewRedisLimiter(addr, password string, db int) *RedisLimiter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiter{
		client:   rdb,
		policies: make(map[string]Policy),
		fallback: DefaultPolicy,
	}
}

// SetPolicy overrides the policy for one operation.
func (l *RedisLimiter) SetPolicy(operation string, p Policy) {
	l.policies[operation] = p
}

// Check fails with ErrRateLimited when the shared bucket is empty.
// A Redis error is surfaced rather than silently admitting the call.
func (l *RedisLimiter) Check(caller, operation string) error {
	p, ok := l.policies[operation]
	if !ok {
		p = l.fallback
	}
	refill := float64(p.PerMinute) / 60.0
	if refill <= 0 {
		refill = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6
	key := fmt.Sprintf("vault_limit:%s:%s", caller, operation)

	res, err := tokenBucketScript.Run(context.Background(), l.client, []string{key},
		refill, p.Burst, 1, now).Result()
	if err != nil {
		return fmt.Errorf("redis limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	if allowed != 1 {
		return fmt.Errorf("%w: %s %s", ErrRateLimited, caller, operation)
	}
	return nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
