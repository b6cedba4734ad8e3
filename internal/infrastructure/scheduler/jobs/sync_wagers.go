// Package jobs contains the scheduled jobs of the wager hub.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC WAGERS JOB
// Pulls the affiliate feed for each configured timeframe in turn. The
// orchestrator re-ranks the timeframe at the end of every successful pass.
// ══════════════════════════════════════════════════════════════════════════════

// WagerSyncer runs one full synchronization pass.
type WagerSyncer interface {
	SyncAllUsers(ctx context.Context, tf wager.Timeframe) (*wager.SyncLog, error)
}

// SyncWagersConfig configures SyncWagersJob.
type SyncWagersConfig struct {
	// Timeframes are synced in order, one at a time.
	Timeframes []wager.Timeframe

	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration
}

// DefaultSyncWagersConfig syncs every timeframe within 20 minutes.
func DefaultSyncWagersConfig() SyncWagersConfig {
	return SyncWagersConfig{
		Timeframes: wager.Timeframes,
		Timeout:    20 * time.Minute,
	}
}

// TimeframeRun is the outcome of one timeframe within a run.
type TimeframeRun struct {
	Timeframe wager.Timeframe `json:"timeframe"`
	Log       *wager.SyncLog  `json:"log,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SyncRunStats summarizes the last run of the job.
type SyncRunStats struct {
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration"`
	Processed   int            `json:"processed"`
	Errors      int            `json:"errors"`
	Failed      int            `json:"failed_timeframes"`
	Runs        []TimeframeRun `json:"runs"`
}

// SyncWagersJob synchronizes wager totals from the affiliate API.
type SyncWagersJob struct {
	syncer    WagerSyncer
	config    SyncWagersConfig
	logger    *zap.Logger
	lastStats atomic.Pointer[SyncRunStats]
}

// NewSyncWagersJob creates a new SyncWagersJob.
func NewSyncWagersJob(syncer WagerSyncer, config SyncWagersConfig, log *zap.Logger) *SyncWagersJob {
	if len(config.Timeframes) == 0 {
		config.Timeframes = wager.Timeframes
	}
	return &SyncWagersJob{
		syncer: syncer,
		config: config,
		logger: logger.OrNop(log).With(logger.Component("job.sync_wagers")),
	}
}

// Name returns the job name.
func (j *SyncWagersJob) Name() string {
	return "sync_wagers"
}

// Description returns a human-readable description.
func (j *SyncWagersJob) Description() string {
	return "Synchronizes wager totals from the affiliate API and re-ranks each timeframe"
}

// Run syncs every configured timeframe. A failed timeframe does not stop the
// ones after it; the run fails if any timeframe failed.
func (j *SyncWagersJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	stats := &SyncRunStats{
		StartedAt: time.Now(),
		Runs:      make([]TimeframeRun, 0, len(j.config.Timeframes)),
	}
	var errs []error

	for _, tf := range j.config.Timeframes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		log, err := j.syncer.SyncAllUsers(ctx, tf)
		run := TimeframeRun{Timeframe: tf, Log: log}
		if log != nil {
			stats.Processed += log.Processed
			stats.Errors += log.Errors
		}
		if err != nil {
			run.Error = err.Error()
			stats.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", tf, err))
			j.logger.Error("timeframe sync failed", logger.Timeframe(string(tf)), zap.Error(err))
		} else if log != nil && log.APIStatus == wager.APIStatusPartial {
			j.logger.Warn("timeframe sync partial",
				logger.Timeframe(string(tf)),
				zap.Int("errors", log.Errors),
			)
		}
		stats.Runs = append(stats.Runs, run)
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastStats.Store(stats)

	j.logger.Info("sync_wagers job completed",
		logger.Latency(stats.Duration),
		zap.Int("processed", stats.Processed),
		zap.Int("errors", stats.Errors),
		zap.Int("failed_timeframes", stats.Failed),
	)

	if len(errs) > 0 {
		return fmt.Errorf("sync failed for %d of %d timeframes: %w",
			stats.Failed, len(j.config.Timeframes), errors.Join(errs...))
	}
	return nil
}

// LastRunStats returns the stats of the last run, or nil before the first.
func (j *SyncWagersJob) LastRunStats() *SyncRunStats {
	return j.lastStats.Load()
}
