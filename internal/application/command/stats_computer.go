// Package command contains write operations (CQRS - Commands).
// Every mutation of a user's wager data funnels through StatsComputer so that
// computed stats always equal raw stats merged with active adjustments.
package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS COMPUTER
// Merges one user's raw stats with their active adjustments and materializes
// the result. It is the single recomputation path.
// ══════════════════════════════════════════════════════════════════════════════

// StatsComputerConfig contains configuration for StatsComputer.
type StatsComputerConfig struct {
	// SetPolicy decides how "set" adjustments react to later raw changes.
	SetPolicy wager.SetPolicy

	// Now overrides the clock (tests).
	Now func() time.Time
}

// StatsComputer recomputes computed stats.
type StatsComputer struct {
	store  wager.Store
	cache  wager.StatsCache
	policy wager.SetPolicy
	now    func() time.Time
	logger *zap.Logger
}

// NewStatsComputer creates a new StatsComputer.
func NewStatsComputer(store wager.Store, cache wager.StatsCache, config StatsComputerConfig, log *zap.Logger) *StatsComputer {
	if config.SetPolicy == "" {
		config.SetPolicy = wager.SetFrozenDelta
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &StatsComputer{
		store:  store,
		cache:  cache,
		policy: config.SetPolicy,
		now:    config.Now,
		logger: logger.OrNop(log).With(logger.Component("stats_computer")),
	}
}

// Policy returns the configured set policy.
func (c *StatsComputer) Policy() wager.SetPolicy {
	return c.policy
}

// Recompute rebuilds the user's computed stats under the user's lock and
// writes the result through to the cache. A user without raw stats is
// NotFound: sync must run first.
func (c *StatsComputer) Recompute(ctx context.Context, userID string) (*wager.ComputedStats, error) {
	var stats *wager.ComputedStats
	err := c.store.WithTx(ctx, func(tx wager.Repositories) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		var err error
		stats, err = c.recomputeLocked(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.cache.Set(ctx, stats)
	c.logger.Debug("computed stats refreshed", logger.UserID(userID))
	return stats, nil
}

// current merges raw stats and active adjustments without persisting.
// The caller must hold the user's lock.
func (c *StatsComputer) current(ctx context.Context, tx wager.Repositories, userID string) (*wager.ComputedStats, error) {
	raw, err := tx.RawStats().GetByUserID(ctx, userID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.WrapError("stats", "Recompute", shared.ErrNotFound,
				"user "+userID+" has no raw wager stats; sync must run first", err)
		}
		return nil, err
	}

	active, err := tx.Adjustments().ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return wager.Compute(raw, active, c.policy, c.now()), nil
}

// recomputeLocked computes and upserts. The caller must hold the user's lock.
func (c *StatsComputer) recomputeLocked(ctx context.Context, tx wager.Repositories, userID string) (*wager.ComputedStats, error) {
	stats, err := c.current(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Computed().Upsert(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}
