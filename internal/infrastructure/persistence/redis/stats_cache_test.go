package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "computed_wager_stats:u-1", StatsKey("u-1"))
	assert.Equal(t, "leaderboard:weekly:100", LeaderboardKey("weekly", 100))
	assert.Equal(t, "lock:sync", LockKey("sync"))
}

func sampleStats(userID string) *wager.ComputedStats {
	rank := 3
	return &wager.ComputedStats{
		UserID:          userID,
		ExternalID:      "ext-" + userID,
		Username:        "player",
		Raw:             wager.Amounts{Weekly: decimal.RequireFromString("100.5")},
		TotalAdjustment: wager.Amounts{Weekly: decimal.NewFromInt(-20)},
		Final:           wager.Amounts{Weekly: decimal.RequireFromString("80.5")},
		Ranks:           wager.Ranks{Weekly: &rank},
		HasAdjustments:  true,
		AdjustmentCount: 1,
		ComputedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStatsCache_FailsOpenWhenUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	sc := NewStatsCache(NewCacheFromClient(client), StatsCacheConfig{OpTimeout: 200 * time.Millisecond}, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.NotPanics(t, func() {
		sc.Set(ctx, sampleStats("u-1"))
		sc.SetIfAbsent(ctx, sampleStats("u-1"))
		sc.Invalidate(ctx, "u-1")
		sc.InvalidateAll(ctx)
		sc.SetLeaderboard(ctx, wager.Daily, 10, nil)
	})

	got, ok := sc.Get(ctx, "u-1")
	assert.False(t, ok)
	assert.Nil(t, got)

	rows, ok := sc.GetLeaderboard(ctx, wager.Daily, 10)
	assert.False(t, ok)
	assert.Nil(t, rows)
}

func TestNoopCache(t *testing.T) {
	var c NoopCache
	ctx := context.Background()
	c.Set(ctx, sampleStats("u"))
	c.SetIfAbsent(ctx, sampleStats("u"))
	_, ok := c.Get(ctx, "u")
	assert.False(t, ok)
	_, ok = c.GetLeaderboard(ctx, wager.Weekly, 5)
	assert.False(t, ok)
}

// setupRedis starts a disposable Redis. Skipped under -short or without Docker.
func setupRedis(t *testing.T) *Cache {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Addr = endpoint
	cache, err := NewCache(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestStatsCache_Integration(t *testing.T) {
	cache := setupRedis(t)
	sc := NewStatsCache(cache, DefaultStatsCacheConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		want := sampleStats("u-1")
		sc.Set(ctx, want)

		got, ok := sc.Get(ctx, "u-1")
		require.True(t, ok)
		assert.True(t, got.SameValues(want))
		require.NotNil(t, got.Ranks.Weekly)
		assert.Equal(t, 3, *got.Ranks.Weekly)
	})

	t.Run("set if absent keeps the cached record", func(t *testing.T) {
		current := sampleStats("u-6")
		current.Final.Weekly = decimal.NewFromInt(150)
		sc.Set(ctx, current)

		sc.SetIfAbsent(ctx, sampleStats("u-6"))

		got, ok := sc.Get(ctx, "u-6")
		require.True(t, ok)
		assert.True(t, got.Final.Weekly.Equal(decimal.NewFromInt(150)))

		sc.SetIfAbsent(ctx, sampleStats("u-7"))
		got, ok = sc.Get(ctx, "u-7")
		require.True(t, ok)
		assert.True(t, got.SameValues(sampleStats("u-7")))
	})

	t.Run("invalidate drops user and leaderboards", func(t *testing.T) {
		sc.Set(ctx, sampleStats("u-2"))
		sc.Set(ctx, sampleStats("u-3"))
		sc.SetLeaderboard(ctx, wager.Weekly, 10, []*wager.ComputedStats{sampleStats("u-2")})

		rows, ok := sc.GetLeaderboard(ctx, wager.Weekly, 10)
		require.True(t, ok)
		require.Len(t, rows, 1)

		sc.Invalidate(ctx, "u-2")

		_, ok = sc.Get(ctx, "u-2")
		assert.False(t, ok)
		_, ok = sc.GetLeaderboard(ctx, wager.Weekly, 10)
		assert.False(t, ok)
		_, ok = sc.Get(ctx, "u-3")
		assert.True(t, ok, "other users stay cached")
	})

	t.Run("invalidate all", func(t *testing.T) {
		sc.Set(ctx, sampleStats("u-4"))
		sc.InvalidateAll(ctx)
		_, ok := sc.Get(ctx, "u-4")
		assert.False(t, ok)
	})

	t.Run("corrupt entry is a miss", func(t *testing.T) {
		require.NoError(t, cache.client.Set(ctx, StatsKey("u-5"), "{not json", time.Minute).Err())
		_, ok := sc.Get(ctx, "u-5")
		assert.False(t, ok)
	})

	t.Run("lock", func(t *testing.T) {
		require.NoError(t, cache.TryLock(ctx, "sync", "a", time.Minute))
		assert.ErrorIs(t, cache.TryLock(ctx, "sync", "b", time.Minute), ErrLockHeld)
		require.NoError(t, cache.Unlock(ctx, "sync", "b"))
		assert.ErrorIs(t, cache.TryLock(ctx, "sync", "b", time.Minute), ErrLockHeld, "only the owner releases")
		require.NoError(t, cache.Unlock(ctx, "sync", "a"))
		assert.NoError(t, cache.TryLock(ctx, "sync", "b", time.Minute))
	})
}
