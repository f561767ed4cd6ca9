package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/httputil"
	"github.com/sakconstructions/storefront/pkg/observability"
)

var quietLogger = observability.NewLogger(observability.ErrorLevel, io.Discard)

func TestMemoryRateLimiter_Allow(t *testing.T) {
	cfg := &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2}
	limiter := NewMemoryRateLimiter(cfg)
	now := time.Unix(1000, 0)
	limiter.now = func() time.Time { return now }

	allowed := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("k") {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed)
	assert.Equal(t, 0, limiter.Remaining("k"))

	// half a window refills half the rate
	now = now.Add(500 * time.Millisecond)
	allowed = 0
	for i := 0; i < 10; i++ {
		if limiter.Allow("k") {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestMemoryRateLimiter_Cleanup(t *testing.T) {
	limiter := NewMemoryRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second})
	now := time.Unix(1000, 0)
	limiter.now = func() time.Time { return now }

	limiter.Allow("old")
	now = now.Add(3 * time.Second)
	limiter.Allow("fresh")
	limiter.Cleanup()

	assert.NotContains(t, limiter.buckets, "old")
	assert.Contains(t, limiter.buckets, "fresh")
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestDistributedRateLimiter_FixedWindow(t *testing.T) {
	mr, client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, remaining, resetIn, err := limiter.Allow(ctx, "ip:1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2-i, remaining)
		assert.Equal(t, time.Minute, resetIn)
	}
	ok, remaining, _, err := limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, remaining)
	assert.Equal(t, time.Minute, mr.TTL("test:ip:1"))

	mr.FastForward(20 * time.Second)
	_, _, resetIn, err := limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, resetIn, "later hits do not extend the window")

	mr.FastForward(40 * time.Second)
	ok, _, _, err = limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedRateLimiter_CounterWithoutTTLRecovers(t *testing.T) {
	mr, client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	// a counter left over the limit with no expiry
	require.NoError(t, mr.Set("test:ip:2", "10"))
	assert.Zero(t, mr.TTL("test:ip:2"))

	ok, _, resetIn, err := limiter.Allow(ctx, "ip:2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, resetIn)
	assert.Equal(t, time.Minute, mr.TTL("test:ip:2"))

	mr.FastForward(time.Minute)
	ok, remaining, _, err := limiter.Allow(ctx, "ip:2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, remaining)
}

func TestRateLimiter_FallsBackToMemory(t *testing.T) {
	mr, client := setupRedis(t)
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, client, quietLogger)
	mr.Close()

	ok, _, _ := limiter.Allow(context.Background(), "k")
	assert.True(t, ok)
	ok, _, _ = limiter.Allow(context.Background(), "k")
	assert.True(t, ok)
	ok, _, retryAfter := limiter.Allow(context.Background(), "k")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestFromConfig_Burst(t *testing.T) {
	rl := FromConfig(config.RateLimitConfig{Requests: 2, Window: time.Minute, Burst: 3})
	assert.Equal(t, 3, rl.BurstSize)

	limiter := NewRateLimiter(rl, nil, quietLogger)
	allowed := 0
	for i := 0; i < 10; i++ {
		if ok, _, _ := limiter.Allow(context.Background(), "k"); ok {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: 10 * time.Millisecond}, nil, quietLogger)
	past := time.Now().Add(-time.Hour)
	limiter.memory.now = func() time.Time { return past }
	limiter.Allow(context.Background(), "idle")
	limiter.memory.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := limiter.StartCleanup(ctx)

	assert.Eventually(t, func() bool {
		limiter.memory.mu.Lock()
		defer limiter.memory.mu.Unlock()
		return len(limiter.memory.buckets) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	_, client := setupRedis(t)
	limiter := NewRateLimiter(FromConfig(config.RateLimitConfig{Requests: 2, Window: time.Minute}), client, quietLogger)

	handler := Authenticate(testVerifier, true)(limiter.Middleware("checkout")(okHandler(t, nil)))

	send := func(token, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/checkout", nil)
		req.RemoteAddr = ip + ":5000"
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("", "10.0.0.1").Code)
	rec := send("", "10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = send("", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// another IP and an authenticated user have their own windows
	assert.Equal(t, http.StatusOK, send("", "10.0.0.2").Code)
	assert.Equal(t, http.StatusOK, send("user-token", "10.0.0.1").Code)
}

func TestRateLimiter_Middleware_IgnoresSpoofedForwardedFor(t *testing.T) {
	_, client := setupRedis(t)
	limiter := NewRateLimiter(FromConfig(config.RateLimitConfig{Requests: 2, Window: time.Minute}), client, quietLogger)

	proxies, err := httputil.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	handler := httputil.ClientIPMiddleware(proxies)(limiter.Middleware("verify")(okHandler(t, nil)))

	send := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/paystack/verify", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// a direct caller rotating the header is still one caller
	assert.Equal(t, http.StatusOK, send("198.51.100.4:5000", "1.1.1.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.4:5000", "2.2.2.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.4:5000", "3.3.3.3"))

	// behind the load balancer only the hop it appended counts
	assert.Equal(t, http.StatusOK, send("10.0.0.9:443", "9.9.9.9, 203.0.113.7"))
	assert.Equal(t, http.StatusOK, send("10.0.0.9:443", "8.8.8.8, 203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.9:443", "7.7.7.7, 203.0.113.7"))
}
