// Package cache keeps hot plan catalog reads out of the database.
//
// PlanCache has two levels: an expirable in-process LRU (L1) and, when a
// client is configured, Redis (L2) shared between API instances. Values are
// stored as JSON so callers never share mutable state through the cache.
// Redis errors are logged and the cache carries on with L1 alone.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/observability"
)

const (
	keyPrefix   = "sak:"
	planPrefix  = keyPrefix + "plan:"
	listPrefix  = keyPrefix + "plans:list:"
	keyTypePlan = "plan"
	keyTypeList = "list"
)

// PlanCache caches single plans of type P by id and list results of type L
// by a normalized request
type PlanCache[P any, L any] struct {
	redis   *redis.Client
	plans   *lru.LRU[string, []byte]
	lists   *lru.LRU[string, []byte]
	planTTL time.Duration
	listTTL time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewPlanCache creates a plan cache. redisClient may be nil.
func NewPlanCache[P any, L any](cfg config.CacheConfig, redisClient *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *PlanCache[P, L] {
	entries := cfg.L1Entries
	if entries < 10 {
		entries = 10
	}
	planTTL := cfg.PlanTTL
	if planTTL <= 0 {
		planTTL = 5 * time.Minute
	}
	listTTL := cfg.ListTTL
	if listTTL <= 0 {
		listTTL = time.Minute
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &PlanCache[P, L]{
		redis:   redisClient,
		plans:   lru.NewLRU[string, []byte](entries, nil, planTTL),
		lists:   lru.NewLRU[string, []byte](entries, nil, listTTL),
		planTTL: planTTL,
		listTTL: listTTL,
		metrics: metrics,
		logger:  logger.WithField("component", "plan_cache"),
	}
}

func planKey(id int64) string {
	return fmt.Sprintf("%s%d", planPrefix, id)
}

// ListKey normalizes a list request into a cache key. The request is
// marshaled as JSON, so field order is fixed by the struct definition.
func ListKey(request interface{}) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list request: %w", err)
	}
	sum := sha256.Sum256(data)
	return listPrefix + hex.EncodeToString(sum[:16]), nil
}

// GetPlan returns the cached plan, or false on a miss
func (c *PlanCache[P, L]) GetPlan(ctx context.Context, id int64) (*P, bool) {
	var plan P
	if !c.get(ctx, c.plans, planKey(id), keyTypePlan, &plan) {
		return nil, false
	}
	return &plan, true
}

// SetPlan stores a plan in both levels
func (c *PlanCache[P, L]) SetPlan(ctx context.Context, id int64, plan *P) {
	c.set(ctx, c.plans, planKey(id), plan, c.planTTL)
}

// InvalidatePlan drops one plan from both levels
func (c *PlanCache[P, L]) InvalidatePlan(ctx context.Context, id int64) {
	key := planKey(id)
	c.plans.Remove(key)
	if c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			c.logger.WithError(err).Warn("Failed to invalidate plan in redis")
		}
	}
}

// GetList returns a cached list result for the request
func (c *PlanCache[P, L]) GetList(ctx context.Context, request interface{}) (*L, bool) {
	key, err := ListKey(request)
	if err != nil {
		return nil, false
	}
	var list L
	if !c.get(ctx, c.lists, key, keyTypeList, &list) {
		return nil, false
	}
	return &list, true
}

// SetList caches a list result for the request
func (c *PlanCache[P, L]) SetList(ctx context.Context, request interface{}, list *L) {
	key, err := ListKey(request)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to build list cache key")
		return
	}
	c.set(ctx, c.lists, key, list, c.listTTL)
}

// InvalidateAll drops every cached plan and list
func (c *PlanCache[P, L]) InvalidateAll(ctx context.Context) {
	c.plans.Purge()
	c.lists.Purge()
	if c.redis == nil {
		return
	}

	iter := c.redis.Scan(ctx, 0, keyPrefix+"plan*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to scan plan cache keys")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to invalidate plan cache in redis")
	}
}

func (c *PlanCache[P, L]) get(ctx context.Context, l1 *lru.LRU[string, []byte], key, keyType string, dest interface{}) bool {
	if data, ok := l1.Get(key); ok {
		if err := json.Unmarshal(data, dest); err == nil {
			c.hit("l1", keyType)
			return true
		}
		l1.Remove(key)
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(data, dest); err == nil {
				l1.Add(key, data)
				c.hit("l2", keyType)
				return true
			}
			// corrupt entry
			c.redis.Del(ctx, key)
		case err != redis.Nil:
			c.logger.WithError(err).Debug("Redis get failed, using L1 only")
		}
	}

	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(keyType).Inc()
	}
	return false
}

func (c *PlanCache[P, L]) set(ctx context.Context, l1 *lru.LRU[string, []byte], key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to marshal cache value")
		return
	}
	l1.Add(key, data)
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.WithError(err).Debug("Redis set failed, using L1 only")
		}
	}
}

func (c *PlanCache[P, L]) hit(level, keyType string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(level, keyType).Inc()
	}
}
