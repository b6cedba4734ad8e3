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
// RANKING ENGINE
// Batch re-rank of computed stats. Runs after a full sync or on demand; single
// adjustments do not trigger it.
// ══════════════════════════════════════════════════════════════════════════════

// RankingResult summarizes one timeframe's pass.
type RankingResult struct {
	Timeframe wager.Timeframe `json:"timeframe"`
	Ranked    int             `json:"ranked"`
	Unranked  int             `json:"unranked"`
	Duration  time.Duration   `json:"duration"`
}

// RankingEngine recomputes per-timeframe ranks.
type RankingEngine struct {
	store  wager.Store
	cache  wager.StatsCache
	logger *zap.Logger
}

// NewRankingEngine creates a new RankingEngine.
func NewRankingEngine(store wager.Store, cache wager.StatsCache, log *zap.Logger) *RankingEngine {
	return &RankingEngine{
		store:  store,
		cache:  cache,
		logger: logger.OrNop(log).With(logger.Component("ranking_engine")),
	}
}

// RecalculateAllRankings re-ranks tf, or every timeframe when tf is nil.
// Each timeframe is written in its own transaction. Cached records carry
// ranks, so the whole cache is dropped afterwards.
func (e *RankingEngine) RecalculateAllRankings(ctx context.Context, tf *wager.Timeframe) ([]RankingResult, error) {
	timeframes := wager.Timeframes
	if tf != nil {
		if !tf.IsValid() {
			return nil, shared.Validationf("ranking", "RecalculateAllRankings", "invalid timeframe %q", *tf)
		}
		timeframes = []wager.Timeframe{*tf}
	}

	results := make([]RankingResult, 0, len(timeframes))
	for _, t := range timeframes {
		res, err := e.rank(ctx, t)
		if err != nil {
			if len(results) > 0 {
				e.cache.InvalidateAll(ctx)
			}
			return results, err
		}
		results = append(results, res)
	}

	e.cache.InvalidateAll(ctx)
	return results, nil
}

func (e *RankingEngine) rank(ctx context.Context, tf wager.Timeframe) (RankingResult, error) {
	start := time.Now()
	res := RankingResult{Timeframe: tf}

	err := e.store.WithTx(ctx, func(tx wager.Repositories) error {
		candidates, err := tx.Computed().RankCandidates(ctx, tf)
		if err != nil {
			return err
		}

		assignments := wager.AssignRanks(candidates)
		res.Ranked, res.Unranked = 0, 0
		for _, a := range assignments {
			if a.Rank != nil {
				res.Ranked++
			} else {
				res.Unranked++
			}
		}
		return tx.Computed().UpdateRanks(ctx, tf, assignments)
	})
	if err != nil {
		e.logger.Error("ranking failed", logger.Timeframe(tf.String()), zap.Error(err))
		return res, err
	}

	res.Duration = time.Since(start)
	e.logger.Info("rankings recalculated",
		logger.Timeframe(tf.String()),
		zap.Int("ranked", res.Ranked),
		zap.Int("unranked", res.Unranked),
		logger.Latency(res.Duration),
	)
	return res, nil
}
