package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/observability"
)

type testPlan struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type testList struct {
	Items []testPlan `json:"items"`
	Total int        `json:"total"`
}

type listReq struct {
	Category string `json:"category"`
	Limit    int    `json:"limit"`
}

var quietLogger = observability.NewLogger(observability.ErrorLevel, io.Discard)

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

func newCache(client *redis.Client, metrics *observability.Metrics) *PlanCache[testPlan, testList] {
	return NewPlanCache[testPlan, testList](config.CacheConfig{
		L1Entries: 100,
		PlanTTL:   time.Minute,
		ListTTL:   time.Minute,
	}, client, metrics, quietLogger)
}

func TestPlanCache_L1Only(t *testing.T) {
	c := newCache(nil, nil)
	ctx := context.Background()

	_, ok := c.GetPlan(ctx, 1)
	assert.False(t, ok)

	c.SetPlan(ctx, 1, &testPlan{ID: 1, Title: "Bungalow"})
	got, ok := c.GetPlan(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "Bungalow", got.Title)

	// returned values are copies
	got.Title = "changed"
	again, _ := c.GetPlan(ctx, 1)
	assert.Equal(t, "Bungalow", again.Title)

	c.InvalidatePlan(ctx, 1)
	_, ok = c.GetPlan(ctx, 1)
	assert.False(t, ok)
}

func TestPlanCache_SharedThroughRedis(t *testing.T) {
	mr, client := setupRedis(t)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	ctx := context.Background()

	writer := newCache(client, metrics)
	reader := newCache(client, metrics)

	writer.SetPlan(ctx, 7, &testPlan{ID: 7, Title: "Duplex"})
	assert.True(t, mr.Exists("sak:plan:7"))

	got, ok := reader.GetPlan(ctx, 7)
	require.True(t, ok)
	assert.Equal(t, "Duplex", got.Title)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("l2", "plan")))

	// promoted to the reader's L1
	mr.FlushAll()
	_, ok = reader.GetPlan(ctx, 7)
	assert.True(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("l1", "plan")))
}

func TestPlanCache_Lists(t *testing.T) {
	_, client := setupRedis(t)
	c := newCache(client, nil)
	ctx := context.Background()

	req := listReq{Category: "duplex", Limit: 20}
	c.SetList(ctx, req, &testList{Items: []testPlan{{ID: 1}}, Total: 1})

	got, ok := c.GetList(ctx, req)
	require.True(t, ok)
	assert.Equal(t, 1, got.Total)

	_, ok = c.GetList(ctx, listReq{Category: "bungalow", Limit: 20})
	assert.False(t, ok)
}

func TestPlanCache_InvalidateAll(t *testing.T) {
	mr, client := setupRedis(t)
	c := newCache(client, nil)
	ctx := context.Background()

	c.SetPlan(ctx, 1, &testPlan{ID: 1})
	c.SetList(ctx, listReq{Limit: 20}, &testList{Total: 3})
	mr.Set("unrelated", "keep")

	c.InvalidateAll(ctx)

	_, ok := c.GetPlan(ctx, 1)
	assert.False(t, ok)
	_, ok = c.GetList(ctx, listReq{Limit: 20})
	assert.False(t, ok)
	assert.True(t, mr.Exists("unrelated"))
}

func TestPlanCache_RedisDownDegradesToL1(t *testing.T) {
	mr, client := setupRedis(t)
	c := newCache(client, nil)
	ctx := context.Background()

	mr.Close()

	c.SetPlan(ctx, 3, &testPlan{ID: 3, Title: "Terrace"})
	got, ok := c.GetPlan(ctx, 3)
	require.True(t, ok)
	assert.Equal(t, "Terrace", got.Title)

	c.InvalidateAll(ctx)
	_, ok = c.GetPlan(ctx, 3)
	assert.False(t, ok)
}

func TestPlanCache_CorruptRedisEntry(t *testing.T) {
	mr, client := setupRedis(t)
	c := newCache(client, nil)

	require.NoError(t, mr.Set("sak:plan:9", "{not json"))
	_, ok := c.GetPlan(context.Background(), 9)
	assert.False(t, ok)
	assert.False(t, mr.Exists("sak:plan:9"))
}

func TestListKey_Stable(t *testing.T) {
	a, err := ListKey(listReq{Category: "x", Limit: 1})
	require.NoError(t, err)
	b, err := ListKey(listReq{Category: "x", Limit: 1})
	require.NoError(t, err)
	c, err := ListKey(listReq{Category: "y", Limit: 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err = NewRedisClient(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 2})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = NewRedisClient(context.Background(), config.RedisConfig{URL: "not a url"})
	assert.Error(t, err)
}
