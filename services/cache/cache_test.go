package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/qerr"
	"github.com/perclft/qtranspile/backend/sim"
)

func sampleResults() []analysis.Result {
	return []analysis.Result{
		{Level: 0, Fidelity: 0.95, Depth: 3, Size: 4, Ops: map[string]int{"u2": 1, "cx": 1}, Mode: sim.ModeExact, Transpiled: circuit.Bell()},
		{Level: 1, Fidelity: 0.97, Depth: 2, Size: 2, Ops: map[string]int{"cx": 1}, Mode: sim.ModeSampled, Shots: 1024, StdErr: 1 / 32.0},
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryCache(2)
	require.NoError(t, err)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	in := sampleResults()
	c.Put(ctx, "a", in)
	in[0].Ops["cx"] = 99
	in[0].Transpiled.Name = "mutated"

	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, sampleResults(), got, "stored results are detached from the caller")

	got[1].Ops["cx"] = 42
	again, _ := c.Get(ctx, "a")
	assert.Equal(t, 1, again[1].Ops["cx"])

	c.Put(ctx, "b", nil)
	c.Put(ctx, "c", nil)
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok, "least recently used entry is evicted")

	assert.True(t, c.Invalidate(ctx, "c"))
	assert.False(t, c.Invalidate(ctx, "c"))

	st := c.Stats()
	assert.EqualValues(t, 1, st.Entries)
	assert.EqualValues(t, 2, st.Hits)
	assert.EqualValues(t, 2, st.Misses)
	assert.InDelta(t, 0.5, st.HitRate, 1e-12)
}

func TestMemoryCacheRejectsSize(t *testing.T) {
	_, err := NewMemoryCache(0)
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("QTRANSPILE_TEST_REDIS")
	if addr == "" {
		t.Skip("QTRANSPILE_TEST_REDIS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 1})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	c := NewRedisCache(redisClient(t), WithTTL(time.Minute))
	key := uuid.NewString()

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	c.Put(ctx, key, sampleResults())
	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, sampleResults(), got)

	deleted, err := c.Invalidate(ctx, key)
	require.NoError(t, err)
	assert.True(t, deleted)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 1, st.Misses)
}

func TestRedisCacheDegradesToMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	c := NewRedisCache(rdb)

	c.Put(context.Background(), "k", sampleResults())
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	_, err := c.Invalidate(context.Background(), "k")
	assert.Error(t, err)
}
