package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// allowScript counts a hit and makes sure the window key expires. Running
// both in one script means a crash or a failed round trip can never leave a
// counter without a TTL. Returns the count and the milliseconds left.
var allowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// DistributedRateLimiter implements fixed-window rate limiting in Redis,
// so limits are shared across API instances
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts the request in the current window and returns whether it is
// within the limit, how many requests remain and when the window resets
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Duration, error) {
	res, err := allowScript.Run(ctx, rl.redis, []string{rl.key(key)}, rl.config.WindowDuration.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("redis error: %w", err)
	}
	if len(res) != 2 {
		return false, 0, 0, fmt.Errorf("redis error: unexpected rate limit reply %v", res)
	}

	count := int(res[0])
	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.config.RequestsPerWindow, remaining, time.Duration(res[1]) * time.Millisecond, nil
}
