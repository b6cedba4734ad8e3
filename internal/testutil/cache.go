package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// Cache is an in-memory wager.StatsCache and wager.LeaderboardCache that
// counts calls.
type Cache struct {
	mu           sync.Mutex
	stats        map[string]wager.ComputedStats
	leaderboards map[string][]*wager.ComputedStats

	Gets          int
	Hits          int
	Invalidations []string
	FullFlushes   int
}

var (
	_ wager.StatsCache       = (*Cache)(nil)
	_ wager.LeaderboardCache = (*Cache)(nil)
)

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{
		stats:        map[string]wager.ComputedStats{},
		leaderboards: map[string][]*wager.ComputedStats{},
	}
}

func (c *Cache) Get(_ context.Context, userID string) (*wager.ComputedStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gets++
	s, ok := c.stats[userID]
	if !ok {
		return nil, false
	}
	c.Hits++
	return &s, true
}

func (c *Cache) Set(_ context.Context, s *wager.ComputedStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[s.UserID] = *s
}

func (c *Cache) SetIfAbsent(_ context.Context, s *wager.ComputedStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.stats[s.UserID]; ok {
		return
	}
	c.stats[s.UserID] = *s
}

func (c *Cache) Invalidate(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Invalidations = append(c.Invalidations, userID)
	delete(c.stats, userID)
	c.leaderboards = map[string][]*wager.ComputedStats{}
}

func (c *Cache) InvalidateAll(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FullFlushes++
	c.stats = map[string]wager.ComputedStats{}
	c.leaderboards = map[string][]*wager.ComputedStats{}
}

func (c *Cache) GetLeaderboard(_ context.Context, tf wager.Timeframe, limit int) ([]*wager.ComputedStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, ok := c.leaderboards[fmt.Sprintf("%s:%d", tf, limit)]
	return rows, ok
}

func (c *Cache) SetLeaderboard(_ context.Context, tf wager.Timeframe, limit int, rows []*wager.ComputedStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaderboards[fmt.Sprintf("%s:%d", tf, limit)] = rows
}

// Cached returns the cached record of userID, if any.
func (c *Cache) Cached(userID string) (*wager.ComputedStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[userID]
	if !ok {
		return nil, false
	}
	return &s, true
}
