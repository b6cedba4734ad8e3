package command

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC ORCHESTRATOR
// Pages through the affiliate leaderboard, stores raw stats and recomputes
// every reported user. A full run ends with a ranking pass.
// ══════════════════════════════════════════════════════════════════════════════

// Feed fetches pages of the affiliate leaderboard.
type Feed interface {
	FetchPage(ctx context.Context, tf wager.Timeframe, limit, page int) (*wager.FeedPage, error)
}

// Ranker re-ranks computed stats after a full sync.
type Ranker interface {
	RecalculateAllRankings(ctx context.Context, tf *wager.Timeframe) ([]RankingResult, error)
}

// SyncConfig contains configuration for SyncOrchestrator.
type SyncConfig struct {
	// PageSize is the page size requested during a full sync.
	PageSize int

	// PageDelay is the pause between two page fetches.
	PageDelay time.Duration

	// UserPageSize is the page size scanned by a single-user sync.
	UserPageSize int

	// MaxPages stops a full sync that never reaches the last page.
	MaxPages int
}

// DefaultSyncConfig returns sensible defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		PageSize:     100,
		PageDelay:    100 * time.Millisecond,
		UserPageSize: 1000,
		MaxPages:     1000,
	}
}

// ErrSyncInProgress is returned when a full sync is already running in this process.
var ErrSyncInProgress = shared.NewDomainError("sync", "SyncAllUsers", shared.ErrConcurrentModification,
	"a full sync is already running")

// SyncOrchestrator drives full and single-user syncs.
type SyncOrchestrator struct {
	store    wager.Store
	cache    wager.StatsCache
	feed     Feed
	computer *StatsComputer
	ranker   Ranker
	config   SyncConfig
	logger   *zap.Logger

	running atomic.Bool
}

// NewSyncOrchestrator creates a new SyncOrchestrator.
func NewSyncOrchestrator(
	store wager.Store,
	cache wager.StatsCache,
	feed Feed,
	computer *StatsComputer,
	ranker Ranker,
	config SyncConfig,
	log *zap.Logger,
) *SyncOrchestrator {
	def := DefaultSyncConfig()
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.PageDelay < 0 {
		config.PageDelay = 0
	}
	if config.UserPageSize <= 0 {
		config.UserPageSize = def.UserPageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = def.MaxPages
	}

	return &SyncOrchestrator{
		store:    store,
		cache:    cache,
		feed:     feed,
		computer: computer,
		ranker:   ranker,
		config:   config,
		logger:   logger.OrNop(log).With(logger.Component("sync_orchestrator")),
	}
}

// SyncAllUsers pulls every page of tf and processes each entry.
//
// Per-entry failures, including entries the decoder rejected, are counted on
// the returned log and do not stop the run; log.Err() reports them as
// shared.ErrPartialSync. So does stopping at MaxPages before the last page. A fetch failure aborts the run: the log is marked
// failed and returned together with the error. Rankings for tf are
// recalculated after a run that was not aborted.
func (o *SyncOrchestrator) SyncAllUsers(ctx context.Context, tf wager.Timeframe) (*wager.SyncLog, error) {
	const op = "SyncAllUsers"

	if !tf.IsValid() {
		return nil, shared.Validationf("sync", op, "invalid timeframe %q", tf)
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer o.running.Store(false)

	log, err := o.startLog(ctx, wager.SyncTypeFull, tf, "")
	if err != nil {
		return nil, err
	}
	l := o.logger.With(logger.SyncLogID(log.ID), logger.Timeframe(tf.String()))
	l.Info("full sync started")

	for page := 1; page <= o.config.MaxPages; page++ {
		if page > 1 {
			if err := o.pause(ctx); err != nil {
				return log, o.abort(ctx, log, err)
			}
		}

		fp, err := o.feed.FetchPage(ctx, tf, o.config.PageSize, page)
		if err != nil {
			l.Error("page fetch failed", logger.Page(page), zap.Error(err))
			return log, o.abort(ctx, log, err)
		}

		o.processPage(ctx, log, fp, l)

		if fp.TotalPages <= page || len(fp.Entries)+len(fp.Rejected) == 0 {
			break
		}
		if page == o.config.MaxPages {
			log.Truncate(page, fp.TotalPages)
			l.Warn("page limit reached before last page",
				zap.Int("max_pages", o.config.MaxPages), zap.Int("total_pages", fp.TotalPages))
		}
	}

	o.completeLog(ctx, log)
	l.Info("full sync completed",
		zap.Int("processed", log.Processed),
		zap.Int("updated", log.Updated),
		zap.Int("added", log.Added),
		zap.Int("errors", log.Errors),
		logger.Latency(log.Duration),
	)

	if _, err := o.ranker.RecalculateAllRankings(ctx, &tf); err != nil {
		return log, fmt.Errorf("failed to recalculate rankings after sync: %w", err)
	}
	return log, nil
}

// SyncUser fetches one large page of tf and processes the entry of
// externalID. It returns nil stats and no error when the feed does not
// list the user.
func (o *SyncOrchestrator) SyncUser(ctx context.Context, externalID string, tf wager.Timeframe) (*wager.ComputedStats, error) {
	const op = "SyncUser"

	if externalID == "" {
		return nil, shared.Validationf("sync", op, "external id is required")
	}
	if !tf.IsValid() {
		return nil, shared.Validationf("sync", op, "invalid timeframe %q", tf)
	}

	log, err := o.startLog(ctx, wager.SyncTypeUserSpecific, tf, externalID)
	if err != nil {
		return nil, err
	}
	l := o.logger.With(logger.SyncLogID(log.ID), logger.ExternalID(externalID), logger.Timeframe(tf.String()))

	fp, err := o.feed.FetchPage(ctx, tf, o.config.UserPageSize, 1)
	if err != nil {
		l.Error("user sync fetch failed", zap.Error(err))
		return nil, o.abort(ctx, log, err)
	}

	for _, rej := range fp.Rejected {
		if rej.ExternalID == externalID {
			log.Processed++
			log.Errors++
			o.completeLog(ctx, log)
			l.Warn("feed entry rejected", zap.Error(rej.Err))
			return nil, shared.WrapError("sync", op, shared.ErrValidation,
				"feed entry for "+externalID+" could not be decoded", rej)
		}
	}

	for _, entry := range fp.Entries {
		if entry.ExternalID != externalID {
			continue
		}
		log.Processed++
		stats, added, err := o.processEntry(ctx, entry)
		switch {
		case err != nil:
			log.Errors++
		case added:
			log.Added++
		default:
			log.Updated++
		}
		o.completeLog(ctx, log)
		if err != nil {
			l.Warn("user sync failed", zap.Error(err))
			return nil, err
		}
		l.Info("user synced", logger.UserID(stats.UserID), zap.Bool("added", added))
		return stats, nil
	}

	o.completeLog(ctx, log)
	l.Info("user not present in feed")
	return nil, nil
}

// Running reports whether a full sync is in progress.
func (o *SyncOrchestrator) Running() bool {
	return o.running.Load()
}

func (o *SyncOrchestrator) processPage(ctx context.Context, log *wager.SyncLog, fp *wager.FeedPage, l *zap.Logger) {
	for _, rej := range fp.Rejected {
		log.Processed++
		log.Errors++
		l.Warn("feed entry rejected",
			logger.Page(fp.Page), zap.Int("index", rej.Index), logger.ExternalID(rej.ExternalID), zap.Error(rej.Err))
	}

	for _, entry := range fp.Entries {
		log.Processed++
		_, added, err := o.processEntry(ctx, entry)
		switch {
		case err != nil:
			log.Errors++
			l.Warn("entry sync failed", logger.ExternalID(entry.ExternalID), zap.Error(err))
		case added:
			log.Added++
		default:
			log.Updated++
		}
	}
}

// processEntry stores the entry's raw stats and recomputes the user in one
// transaction, creating a placeholder user for unknown external ids.
func (o *SyncOrchestrator) processEntry(ctx context.Context, entry wager.FeedEntry) (*wager.ComputedStats, bool, error) {
	var (
		stats *wager.ComputedStats
		added bool
		err   error
	)
	// A concurrent sync may create the same placeholder first; the second
	// attempt then finds it.
	for attempt := 0; attempt < 2; attempt++ {
		stats, added, err = o.applyEntry(ctx, entry)
		if err == nil || !errors.Is(err, shared.ErrConcurrentModification) {
			break
		}
	}
	if err != nil {
		return nil, false, err
	}

	o.cache.Set(ctx, stats)
	return stats, added, nil
}

func (o *SyncOrchestrator) applyEntry(ctx context.Context, entry wager.FeedEntry) (*wager.ComputedStats, bool, error) {
	var (
		stats *wager.ComputedStats
		added bool
	)
	err := o.store.WithTx(ctx, func(tx wager.Repositories) error {
		added = false
		now := o.computer.now().UTC()

		user, err := tx.Users().GetByExternalID(ctx, entry.ExternalID)
		if err != nil {
			if !shared.IsNotFound(err) {
				return err
			}
			user = &wager.User{
				ID:            uuid.NewString(),
				ExternalID:    entry.ExternalID,
				Username:      entry.Username,
				IsPlaceholder: true,
				CreatedAt:     now,
			}
			if err := tx.Users().Create(ctx, user); err != nil {
				return err
			}
			added = true
		}

		if err := tx.LockUser(ctx, user.ID); err != nil {
			return err
		}

		var prev wager.Amounts
		existing, err := tx.RawStats().GetByUserID(ctx, user.ID)
		switch {
		case err == nil:
			prev = existing.Wagered
		case !shared.IsNotFound(err):
			return err
		}

		username := entry.Username
		if username == "" {
			username = user.Username
		}
		raw := &wager.RawStats{
			UserID:     user.ID,
			ExternalID: user.ExternalID,
			Username:   username,
			Wagered:    entry.MergeInto(prev),
			LastSyncAt: now,
		}
		if err := tx.RawStats().Upsert(ctx, raw); err != nil {
			return err
		}

		stats, err = o.computer.recomputeLocked(ctx, tx, user.ID)
		return err
	})
	return stats, added, err
}

func (o *SyncOrchestrator) startLog(ctx context.Context, t wager.SyncType, tf wager.Timeframe, externalID string) (*wager.SyncLog, error) {
	log := &wager.SyncLog{
		ID:         uuid.NewString(),
		Type:       t,
		Timeframe:  tf,
		ExternalID: externalID,
		APIStatus:  wager.APIStatusRunning,
		StartedAt:  o.computer.now().UTC(),
	}
	if err := o.store.SyncLogs().Create(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to start sync log: %w", err)
	}
	return log, nil
}

// completeLog persists the final counts. The write survives a cancelled ctx.
func (o *SyncOrchestrator) completeLog(ctx context.Context, log *wager.SyncLog) {
	if log.APIStatus == wager.APIStatusRunning {
		log.Complete(o.computer.now().UTC())
	}
	if err := o.store.SyncLogs().Complete(context.WithoutCancel(ctx), log); err != nil {
		o.logger.Error("failed to persist sync log", logger.SyncLogID(log.ID), zap.Error(err))
	}
}

func (o *SyncOrchestrator) abort(ctx context.Context, log *wager.SyncLog, err error) error {
	log.Fail(o.computer.now().UTC(), err)
	o.completeLog(ctx, log)
	return err
}

func (o *SyncOrchestrator) pause(ctx context.Context) error {
	if o.config.PageDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.config.PageDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
