package command

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUSTMENT LEDGER COMMANDS
// Admin-authored corrections. Each write, its recompute and the user's lock
// share one transaction; the cache is refreshed after commit.
// ══════════════════════════════════════════════════════════════════════════════

// MaxBulkItems bounds one bulk request.
const MaxBulkItems = 500

// CreateAdjustmentCommand contains the data needed to create an adjustment.
type CreateAdjustmentCommand struct {
	// Request is the correction itself.
	Request wager.AdjustmentRequest

	// AdminID identifies the acting admin.
	AdminID string

	// Meta is recorded on the ledger entry.
	Meta wager.AuditMeta
}

// RevertAdjustmentCommand contains the data needed to revert an adjustment.
type RevertAdjustmentCommand struct {
	AdjustmentID string
	Reason       string
	AdminID      string
}

// AdjustmentResult is the ledger entry and the user's stats after the write.
type AdjustmentResult struct {
	Adjustment *wager.Adjustment    `json:"adjustment"`
	Stats      *wager.ComputedStats `json:"computed_stats"`
}

// BulkItemResult reports one item of a bulk request.
type BulkItemResult struct {
	Index      int                  `json:"index"`
	ExternalID string               `json:"external_id"`
	Adjustment *wager.Adjustment    `json:"adjustment,omitempty"`
	Stats      *wager.ComputedStats `json:"computed_stats,omitempty"`
	Err        error                `json:"-"`
}

// BulkResult reports every item of a bulk request.
type BulkResult struct {
	Items     []BulkItemResult `json:"items"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// AdjustmentLedger handles adjustment commands.
type AdjustmentLedger struct {
	store    wager.Store
	cache    wager.StatsCache
	computer *StatsComputer
	logger   *zap.Logger
}

// NewAdjustmentLedger creates a new AdjustmentLedger.
func NewAdjustmentLedger(store wager.Store, cache wager.StatsCache, computer *StatsComputer, log *zap.Logger) *AdjustmentLedger {
	return &AdjustmentLedger{
		store:    store,
		cache:    cache,
		computer: computer,
		logger:   logger.OrNop(log).With(logger.Component("adjustment_ledger")),
	}
}

// CreateAdjustment records a correction against the user's current final
// value for the targeted timeframe and recomputes the user's stats.
func (l *AdjustmentLedger) CreateAdjustment(ctx context.Context, cmd CreateAdjustmentCommand) (*AdjustmentResult, error) {
	const op = "CreateAdjustment"

	if err := cmd.Request.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.AdminID) == "" {
		return nil, shared.Validationf("adjustment", op, "admin id is required")
	}

	var result AdjustmentResult
	err := l.store.WithTx(ctx, func(tx wager.Repositories) error {
		user, err := tx.Users().GetByExternalID(ctx, cmd.Request.ExternalID)
		if err != nil {
			return err
		}
		if err := tx.LockUser(ctx, user.ID); err != nil {
			return err
		}

		before, err := l.computer.current(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		adj, err := wager.NewAdjustment(user, cmd.Request, before.Final.Get(cmd.Request.Timeframe),
			cmd.AdminID, cmd.Meta, l.computer.now())
		if err != nil {
			return err
		}
		if err := tx.Adjustments().Create(ctx, adj); err != nil {
			return err
		}

		stats, err := l.computer.recomputeLocked(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		result = AdjustmentResult{Adjustment: adj, Stats: stats}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.refreshCache(ctx, result.Stats)
	l.logger.Info("adjustment created",
		logger.AdjustmentID(result.Adjustment.ID),
		logger.ExternalID(result.Adjustment.ExternalID),
		logger.AdminID(cmd.AdminID),
		logger.Timeframe(result.Adjustment.Timeframe.String()),
		zap.String("type", string(result.Adjustment.Type)),
		zap.Stringer("delta", result.Adjustment.DeltaFor(result.Adjustment.Timeframe)),
	)
	return &result, nil
}

// RevertAdjustment moves an active adjustment to reverted and recomputes.
// Reverting twice fails with shared.ErrAlreadyReverted.
func (l *AdjustmentLedger) RevertAdjustment(ctx context.Context, cmd RevertAdjustmentCommand) (*AdjustmentResult, error) {
	const op = "RevertAdjustment"

	if strings.TrimSpace(cmd.AdjustmentID) == "" {
		return nil, shared.Validationf("adjustment", op, "adjustment id is required")
	}

	var result AdjustmentResult
	err := l.store.WithTx(ctx, func(tx wager.Repositories) error {
		adj, err := tx.Adjustments().GetByID(ctx, cmd.AdjustmentID)
		if err != nil {
			return err
		}
		if err := tx.LockUser(ctx, adj.UserID); err != nil {
			return err
		}
		// Re-read under the lock so a concurrent revert is seen.
		if adj, err = tx.Adjustments().GetByID(ctx, cmd.AdjustmentID); err != nil {
			return err
		}

		if err := adj.Revert(cmd.AdminID, cmd.Reason, l.computer.now()); err != nil {
			return err
		}
		if err := tx.Adjustments().MarkReverted(ctx, adj); err != nil {
			return err
		}

		stats, err := l.computer.recomputeLocked(ctx, tx, adj.UserID)
		if err != nil {
			return err
		}
		result = AdjustmentResult{Adjustment: adj, Stats: stats}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.refreshCache(ctx, result.Stats)
	l.logger.Info("adjustment reverted",
		logger.AdjustmentID(result.Adjustment.ID),
		logger.ExternalID(result.Adjustment.ExternalID),
		logger.AdminID(cmd.AdminID),
	)
	return &result, nil
}

// CreateBulkAdjustments applies each item through CreateAdjustment. Items
// are independent: a failed item does not undo earlier ones, and every item
// is reported. Once ctx is done the remaining items fail with ctx.Err().
func (l *AdjustmentLedger) CreateBulkAdjustments(ctx context.Context, items []wager.AdjustmentRequest, adminID string, meta wager.AuditMeta) (*BulkResult, error) {
	const op = "CreateBulkAdjustments"

	if len(items) == 0 {
		return nil, shared.Validationf("adjustment", op, "no adjustments given")
	}
	if len(items) > MaxBulkItems {
		return nil, shared.Validationf("adjustment", op, "at most %d adjustments per request", MaxBulkItems)
	}
	if strings.TrimSpace(adminID) == "" {
		return nil, shared.Validationf("adjustment", op, "admin id is required")
	}

	result := &BulkResult{Items: make([]BulkItemResult, 0, len(items))}
	for i, req := range items {
		item := BulkItemResult{Index: i, ExternalID: req.ExternalID}

		if err := ctx.Err(); err != nil {
			item.Err = err
		} else {
			res, err := l.CreateAdjustment(ctx, CreateAdjustmentCommand{Request: req, AdminID: adminID, Meta: meta})
			if err != nil {
				item.Err = err
			} else {
				item.Adjustment = res.Adjustment
				item.Stats = res.Stats
			}
		}

		if item.Err != nil {
			result.Failed++
			l.logger.Warn("bulk adjustment item failed",
				zap.Int("index", i), logger.ExternalID(req.ExternalID), zap.Error(item.Err))
		} else {
			result.Succeeded++
		}
		result.Items = append(result.Items, item)
	}

	l.logger.Info("bulk adjustments applied",
		logger.AdminID(adminID), zap.Int("succeeded", result.Succeeded), zap.Int("failed", result.Failed))
	return result, nil
}

func (l *AdjustmentLedger) refreshCache(ctx context.Context, stats *wager.ComputedStats) {
	l.cache.Invalidate(ctx, stats.UserID)
	l.cache.Set(ctx, stats)
}
