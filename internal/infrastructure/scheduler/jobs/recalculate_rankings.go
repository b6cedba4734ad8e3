package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/internal/application/command"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECALCULATE RANKINGS JOB
// Re-ranks every timeframe so admin adjustments made between syncs show up
// in the leaderboards.
// ══════════════════════════════════════════════════════════════════════════════

// RankingRecalculator recalculates ranks. A nil timeframe means all.
type RankingRecalculator interface {
	RecalculateAllRankings(ctx context.Context, tf *wager.Timeframe) ([]command.RankingResult, error)
}

// RecalculateRankingsJob runs a full ranking pass.
type RecalculateRankingsJob struct {
	ranker     RankingRecalculator
	timeout    time.Duration
	logger     *zap.Logger
	lastResult atomic.Pointer[[]command.RankingResult]
}

// NewRecalculateRankingsJob creates a new RecalculateRankingsJob.
func NewRecalculateRankingsJob(ranker RankingRecalculator, timeout time.Duration, log *zap.Logger) *RecalculateRankingsJob {
	return &RecalculateRankingsJob{
		ranker:  ranker,
		timeout: timeout,
		logger:  logger.OrNop(log).With(logger.Component("job.recalculate_rankings")),
	}
}

// Name returns the job name.
func (j *RecalculateRankingsJob) Name() string {
	return "recalculate_rankings"
}

// Description returns a human-readable description.
func (j *RecalculateRankingsJob) Description() string {
	return "Recalculates leaderboard ranks for every timeframe"
}

// Run executes the ranking pass.
func (j *RecalculateRankingsJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	results, err := j.ranker.RecalculateAllRankings(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to recalculate rankings: %w", err)
	}
	j.lastResult.Store(&results)

	for _, r := range results {
		j.logger.Info("timeframe ranked",
			logger.Timeframe(string(r.Timeframe)),
			zap.Int("ranked", r.Ranked),
			zap.Int("unranked", r.Unranked),
			logger.Latency(r.Duration),
		)
	}
	return nil
}

// LastResult returns the results of the last successful run.
func (j *RecalculateRankingsJob) LastResult() []command.RankingResult {
	if p := j.lastResult.Load(); p != nil {
		return *p
	}
	return nil
}
