// Package cache stores finished analyses keyed by analysis.CacheKey, either
// in process or in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/qerr"
)

const (
	DefaultSize = 256
	DefaultTTL  = time.Hour
	keyPrefix   = "cache:"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qtranspile",
	Subsystem: "cache",
	Name:      "requests_total",
	Help:      "Analysis cache lookups by outcome",
}, []string{"result"})

// Stats is a snapshot of lookup counters.
type Stats struct {
	Entries int64   `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type counters struct {
	hits   int64
	misses int64
}

func (c *counters) hit() {
	atomic.AddInt64(&c.hits, 1)
	requestsTotal.WithLabelValues("hit").Inc()
}

func (c *counters) miss() {
	atomic.AddInt64(&c.misses, 1)
	requestsTotal.WithLabelValues("miss").Inc()
}

func (c *counters) stats(entries int64) Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	s := Stats{Entries: entries, Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// copyResults detaches cached results from the caller's slice.
func copyResults(in []analysis.Result) []analysis.Result {
	out := make([]analysis.Result, len(in))
	for i, r := range in {
		out[i] = r
		if r.Ops != nil {
			out[i].Ops = make(map[string]int, len(r.Ops))
			for k, v := range r.Ops {
				out[i].Ops[k] = v
			}
		}
		if r.Transpiled != nil {
			out[i].Transpiled = r.Transpiled.Clone()
		}
	}
	return out
}

// ------------------------------------------------------------------
// In-process LRU
// ------------------------------------------------------------------

// MemoryCache is a bounded in-process cache.
type MemoryCache struct {
	lru *lru.Cache[string, []analysis.Result]
	counters
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		return nil, qerr.Invalid("cache size %d", size)
	}
	l, err := lru.New[string, []analysis.Result](size)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &MemoryCache{lru: l}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]analysis.Result, bool) {
	results, ok := c.lru.Get(key)
	if !ok {
		c.miss()
		return nil, false
	}
	c.hit()
	return copyResults(results), true
}

func (c *MemoryCache) Put(_ context.Context, key string, results []analysis.Result) {
	c.lru.Add(key, copyResults(results))
}

// Invalidate drops key and reports whether it was present.
func (c *MemoryCache) Invalidate(_ context.Context, key string) bool {
	return c.lru.Remove(key)
}

func (c *MemoryCache) Stats() Stats { return c.stats(int64(c.lru.Len())) }

// ------------------------------------------------------------------
// Redis
// ------------------------------------------------------------------

// CachedEntry is the JSON document stored per key.
type CachedEntry struct {
	Results   []analysis.Result `json:"results"`
	CachedAt  int64             `json:"cached_at"`
	ExpiresAt int64             `json:"expires_at"`
}

// RedisCache shares results between processes. Redis failures degrade to
// misses and are logged.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	counters
}

type RedisOption func(*RedisCache)

func WithTTL(ttl time.Duration) RedisOption {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(l *zap.Logger) RedisOption {
	return func(c *RedisCache) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewRedisCache(rdb *redis.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{rdb: rdb, ttl: DefaultTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]analysis.Result, bool) {
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		c.miss()
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		c.miss()
		return nil, false
	}

	var entry CachedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("cache entry unreadable", zap.String("key", key), zap.Error(err))
		c.miss()
		return nil, false
	}
	c.hit()
	return entry.Results, true
}

func (c *RedisCache) Put(ctx context.Context, key string, results []analysis.Result) {
	now := time.Now()
	data, err := json.Marshal(&CachedEntry{
		Results:   results,
		CachedAt:  now.Unix(),
		ExpiresAt: now.Add(c.ttl).Unix(),
	})
	if err != nil {
		c.logger.Warn("cache entry not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.logger.Debug("cached analysis", zap.String("key", key), zap.Int("levels", len(results)), zap.Duration("ttl", c.ttl))
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) (bool, error) {
	deleted, err := c.rdb.Del(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("invalidate %s: %w", key, err)
	}
	return deleted > 0, nil
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	var entries int64
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		entries++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("count entries: %w", err)
	}
	return c.stats(entries), nil
}

var (
	_ analysis.Cache = (*MemoryCache)(nil)
	_ analysis.Cache = (*RedisCache)(nil)
)
