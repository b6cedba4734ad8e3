package redis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// StatsCacheConfig configures StatsCache.
type StatsCacheConfig struct {
	// StatsTTL bounds how long a user's computed stats stay cached.
	StatsTTL time.Duration

	// LeaderboardTTL bounds how long a leaderboard view stays cached.
	LeaderboardTTL time.Duration

	// OpTimeout bounds every Redis call so an unhealthy cache cannot stall writers.
	OpTimeout time.Duration
}

// DefaultStatsCacheConfig returns the default TTLs.
func DefaultStatsCacheConfig() StatsCacheConfig {
	return StatsCacheConfig{
		StatsTTL:       300 * time.Second,
		LeaderboardTTL: 60 * time.Second,
		OpTimeout:      500 * time.Millisecond,
	}
}

// StatsCache implements wager.StatsCache and wager.LeaderboardCache.
// Every failure is logged and treated as a miss.
type StatsCache struct {
	cache  *Cache
	config StatsCacheConfig
	logger *zap.Logger
}

var (
	_ wager.StatsCache       = (*StatsCache)(nil)
	_ wager.LeaderboardCache = (*StatsCache)(nil)
)

// NewStatsCache creates a StatsCache.
func NewStatsCache(cache *Cache, cfg StatsCacheConfig, log *zap.Logger) *StatsCache {
	def := DefaultStatsCacheConfig()
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = def.StatsTTL
	}
	if cfg.LeaderboardTTL <= 0 {
		cfg.LeaderboardTTL = def.LeaderboardTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	return &StatsCache{
		cache:  cache,
		config: cfg,
		logger: logger.OrNop(log).With(logger.Component("stats_cache")),
	}
}

func (s *StatsCache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.config.OpTimeout)
}

func (s *StatsCache) warn(msg, key string, err error) {
	s.logger.Warn(msg, logger.CacheKey(key), zap.Error(err))
}

// Get returns the cached record for userID.
func (s *StatsCache) Get(ctx context.Context, userID string) (*wager.ComputedStats, bool) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	key := StatsKey(userID)
	var stats wager.ComputedStats
	if err := s.cache.Get(ctx, key, &stats); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.warn("cache read failed", key, err)
			if errors.Is(err, ErrCacheSerialization) {
				_ = s.cache.Delete(ctx, key)
			}
		}
		return nil, false
	}
	return &stats, true
}

// Set caches stats under its user id.
func (s *StatsCache) Set(ctx context.Context, stats *wager.ComputedStats) {
	if stats == nil {
		return
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	key := StatsKey(stats.UserID)
	if err := s.cache.Set(ctx, key, stats, s.config.StatsTTL); err != nil {
		s.warn("cache write failed", key, err)
	}
}

// SetIfAbsent caches stats unless a record for the user is already cached.
func (s *StatsCache) SetIfAbsent(ctx context.Context, stats *wager.ComputedStats) {
	if stats == nil {
		return
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	key := StatsKey(stats.UserID)
	stored, err := s.cache.SetNX(ctx, key, stats, s.config.StatsTTL)
	if err != nil {
		s.warn("cache write failed", key, err)
		return
	}
	if !stored {
		s.logger.Debug("cache already populated", logger.CacheKey(key))
	}
}

// Invalidate drops the user's record and every leaderboard view.
func (s *StatsCache) Invalidate(ctx context.Context, userID string) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	key := StatsKey(userID)
	if err := s.cache.Delete(ctx, key); err != nil {
		s.warn("cache invalidation failed", key, err)
	}
	if _, err := s.cache.DeleteByPattern(ctx, PrefixLeaderboard+"*"); err != nil {
		s.warn("cache invalidation failed", PrefixLeaderboard+"*", err)
	}
}

// InvalidateAll drops every cached record and leaderboard view.
func (s *StatsCache) InvalidateAll(ctx context.Context) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	for _, pattern := range []string{PrefixComputedStats + "*", PrefixLeaderboard + "*"} {
		n, err := s.cache.DeleteByPattern(ctx, pattern)
		if err != nil {
			s.warn("cache invalidation failed", pattern, err)
			continue
		}
		s.logger.Debug("cache invalidated", logger.CacheKey(pattern), zap.Int("keys", n))
	}
}

// GetLeaderboard returns a cached leaderboard view.
func (s *StatsCache) GetLeaderboard(ctx context.Context, tf wager.Timeframe, limit int) ([]*wager.ComputedStats, bool) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	key := LeaderboardKey(tf.String(), limit)
	var rows []*wager.ComputedStats
	if err := s.cache.Get(ctx, key, &rows); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.warn("cache read failed", key, err)
		}
		return nil, false
	}
	return rows, true
}

// SetLeaderboard caches a leaderboard view.
func (s *StatsCache) SetLeaderboard(ctx context.Context, tf wager.Timeframe, limit int, rows []*wager.ComputedStats) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if rows == nil {
		rows = []*wager.ComputedStats{}
	}
	key := LeaderboardKey(tf.String(), limit)
	if err := s.cache.Set(ctx, key, rows, s.config.LeaderboardTTL); err != nil {
		s.warn("cache write failed", key, err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOOP
// ══════════════════════════════════════════════════════════════════════════════

// NoopCache is used when Redis is not configured. Every read misses.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*wager.ComputedStats, bool) { return nil, false }
func (NoopCache) Set(context.Context, *wager.ComputedStats)                {}
func (NoopCache) SetIfAbsent(context.Context, *wager.ComputedStats)        {}
func (NoopCache) Invalidate(context.Context, string)                       {}
func (NoopCache) InvalidateAll(context.Context)                            {}

func (NoopCache) GetLeaderboard(context.Context, wager.Timeframe, int) ([]*wager.ComputedStats, bool) {
	return nil, false
}

func (NoopCache) SetLeaderboard(context.Context, wager.Timeframe, int, []*wager.ComputedStats) {}
