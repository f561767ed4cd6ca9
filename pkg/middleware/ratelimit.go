package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sakconstructions/storefront/pkg/async"
	"github.com/sakconstructions/storefront/pkg/auth"
	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/httputil"
	"github.com/sakconstructions/storefront/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate (memory limiter only)
	BurstSize int
}

// FromConfig converts the service configuration
func FromConfig(cfg config.RateLimitConfig) *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: cfg.Requests,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.Burst,
	}
}

// MemoryRateLimiter implements per-process rate limiting with a token bucket
type MemoryRateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryRateLimiter creates a new in-memory rate limiter
func NewMemoryRateLimiter(config *RateLimitConfig) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (rl *MemoryRateLimiter) capacity() float64 {
	return float64(rl.config.RequestsPerWindow + rl.config.BurstSize)
}

// Allow takes a token for key and reports whether the request may proceed
func (rl *MemoryRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.capacity(), lastUpdate: now}
		rl.buckets[key] = b
	}

	// refill proportionally to elapsed time
	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
	if b.tokens > rl.capacity() {
		b.tokens = rl.capacity()
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns the number of whole tokens left for key
func (rl *MemoryRateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		return int(rl.capacity())
	}
	return int(b.tokens)
}

// Cleanup removes idle buckets
func (rl *MemoryRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup removes idle in-memory buckets every window until ctx is done.
// The returned channel closes when the loop has stopped.
func (rl *RateLimiter) StartCleanup(ctx context.Context) <-chan struct{} {
	return async.Go(ctx, rl.logger, "rate limiter cleanup", func(ctx context.Context) error {
		ticker := time.NewTicker(rl.memory.config.WindowDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.memory.Cleanup()
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// RateLimiter limits requests with Redis when available and falls back to
// the in-memory limiter when Redis is not configured or errors
type RateLimiter struct {
	config      *RateLimitConfig
	distributed *DistributedRateLimiter
	memory      *MemoryRateLimiter
	logger      *observability.Logger
}

// NewRateLimiter creates a rate limiter. redisClient may be nil.
func NewRateLimiter(config *RateLimitConfig, redisClient *redis.Client, logger *observability.Logger) *RateLimiter {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	rl := &RateLimiter{
		config: config,
		memory: NewMemoryRateLimiter(config),
		logger: logger.WithField("component", "rate_limiter"),
	}
	if redisClient != nil {
		rl.distributed = NewDistributedRateLimiter(redisClient, config, "sak:ratelimit")
	}
	return rl
}

// Allow reports whether the request identified by key may proceed, how many
// remain and how long a refused caller should wait
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Duration) {
	if rl.distributed != nil {
		allowed, remaining, resetIn, err := rl.distributed.Allow(ctx, key)
		if err == nil {
			return allowed, remaining, resetIn
		}
		rl.logger.WithError(err).Warn("Redis rate limit failed, using in-memory limiter")
	}
	allowed := rl.memory.Allow(key)
	return allowed, rl.memory.Remaining(key), rl.config.WindowDuration
}

// Middleware limits requests per caller for one route group. Callers are
// keyed by authenticated user id, else by client IP.
func (rl *RateLimiter) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":ip:" + httputil.ClientIP(r)
			if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
				key = scope + ":user:" + principal.UserID
			}

			allowed, remaining, retryAfter := rl.Allow(r.Context(), key)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter.Seconds())))
				httputil.WriteTooManyRequests(w, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
