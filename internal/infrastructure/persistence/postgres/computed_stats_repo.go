package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// ComputedStatsRepository implements wager.ComputedStatsRepository for PostgreSQL.
type ComputedStatsRepository struct {
	q Querier
}

// NewComputedStatsRepository creates a new ComputedStatsRepository.
func NewComputedStatsRepository(q Querier) *ComputedStatsRepository {
	return &ComputedStatsRepository{q: q}
}

const computedColumns = `
	user_id, external_id, username,
	raw_daily, raw_weekly, raw_monthly, raw_all_time,
	total_daily_adjustment, total_weekly_adjustment, total_monthly_adjustment, total_all_time_adjustment,
	final_daily, final_weekly, final_monthly, final_all_time,
	rank_daily, rank_weekly, rank_monthly, rank_all_time,
	has_adjustments, adjustment_count, computed_at`

func scanComputed(row rowScanner) (*wager.ComputedStats, error) {
	var c wager.ComputedStats
	err := row.Scan(
		&c.UserID, &c.ExternalID, &c.Username,
		&c.Raw.Daily, &c.Raw.Weekly, &c.Raw.Monthly, &c.Raw.AllTime,
		&c.TotalAdjustment.Daily, &c.TotalAdjustment.Weekly, &c.TotalAdjustment.Monthly, &c.TotalAdjustment.AllTime,
		&c.Final.Daily, &c.Final.Weekly, &c.Final.Monthly, &c.Final.AllTime,
		&c.Ranks.Daily, &c.Ranks.Weekly, &c.Ranks.Monthly, &c.Ranks.AllTime,
		&c.HasAdjustments, &c.AdjustmentCount, &c.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// finalColumn and rankColumn whitelist the per-timeframe columns.
func finalColumn(tf wager.Timeframe) (string, error) {
	switch tf {
	case wager.Daily:
		return "final_daily", nil
	case wager.Weekly:
		return "final_weekly", nil
	case wager.Monthly:
		return "final_monthly", nil
	case wager.AllTime:
		return "final_all_time", nil
	}
	return "", shared.Validationf("computed_stats", "column", "invalid timeframe %q", tf)
}

func rankColumn(tf wager.Timeframe) (string, error) {
	switch tf {
	case wager.Daily:
		return "rank_daily", nil
	case wager.Weekly:
		return "rank_weekly", nil
	case wager.Monthly:
		return "rank_monthly", nil
	case wager.AllTime:
		return "rank_all_time", nil
	}
	return "", shared.Validationf("computed_stats", "column", "invalid timeframe %q", tf)
}

// Upsert writes amounts and ComputedAt. Existing ranks are kept; a new row
// starts unranked until the next ranking pass.
func (r *ComputedStatsRepository) Upsert(ctx context.Context, c *wager.ComputedStats) error {
	query := `
		INSERT INTO computed_wager_stats (
			user_id, external_id, username,
			raw_daily, raw_weekly, raw_monthly, raw_all_time,
			total_daily_adjustment, total_weekly_adjustment, total_monthly_adjustment, total_all_time_adjustment,
			final_daily, final_weekly, final_monthly, final_all_time,
			has_adjustments, adjustment_count, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (user_id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			username = EXCLUDED.username,
			raw_daily = EXCLUDED.raw_daily,
			raw_weekly = EXCLUDED.raw_weekly,
			raw_monthly = EXCLUDED.raw_monthly,
			raw_all_time = EXCLUDED.raw_all_time,
			total_daily_adjustment = EXCLUDED.total_daily_adjustment,
			total_weekly_adjustment = EXCLUDED.total_weekly_adjustment,
			total_monthly_adjustment = EXCLUDED.total_monthly_adjustment,
			total_all_time_adjustment = EXCLUDED.total_all_time_adjustment,
			final_daily = EXCLUDED.final_daily,
			final_weekly = EXCLUDED.final_weekly,
			final_monthly = EXCLUDED.final_monthly,
			final_all_time = EXCLUDED.final_all_time,
			has_adjustments = EXCLUDED.has_adjustments,
			adjustment_count = EXCLUDED.adjustment_count,
			computed_at = EXCLUDED.computed_at
		RETURNING rank_daily, rank_weekly, rank_monthly, rank_all_time
	`
	err := r.q.QueryRow(ctx, query,
		c.UserID, c.ExternalID, c.Username,
		c.Raw.Daily, c.Raw.Weekly, c.Raw.Monthly, c.Raw.AllTime,
		c.TotalAdjustment.Daily, c.TotalAdjustment.Weekly, c.TotalAdjustment.Monthly, c.TotalAdjustment.AllTime,
		c.Final.Daily, c.Final.Weekly, c.Final.Monthly, c.Final.AllTime,
		c.HasAdjustments, c.AdjustmentCount, c.ComputedAt,
	).Scan(&c.Ranks.Daily, &c.Ranks.Weekly, &c.Ranks.Monthly, &c.Ranks.AllTime)
	if err != nil {
		return fmt.Errorf("failed to upsert computed stats: %w", err)
	}
	return nil
}

// GetByUserID returns the user's computed stats.
func (r *ComputedStatsRepository) GetByUserID(ctx context.Context, userID string) (*wager.ComputedStats, error) {
	query := `SELECT ` + computedColumns + ` FROM computed_wager_stats WHERE user_id = $1`
	c, err := scanComputed(r.q.QueryRow(ctx, query, userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, notFound("computed_stats", "GetByUserID", "no computed stats for user %s", userID)
		}
		return nil, fmt.Errorf("failed to get computed stats: %w", err)
	}
	return c, nil
}

// RankCandidates returns every row's final value for tf.
func (r *ComputedStatsRepository) RankCandidates(ctx context.Context, tf wager.Timeframe) ([]wager.RankCandidate, error) {
	col, err := finalColumn(tf)
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, fmt.Sprintf(`SELECT user_id, %s, computed_at FROM computed_wager_stats`, col))
	if err != nil {
		return nil, fmt.Errorf("failed to query rank candidates: %w", err)
	}
	defer rows.Close()

	var out []wager.RankCandidate
	for rows.Next() {
		var c wager.RankCandidate
		if err := rows.Scan(&c.UserID, &c.Final, &c.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rank candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rank candidates: %w", err)
	}
	return out, nil
}

// UpdateRanks overwrites the tf rank column of the given users in one batch.
func (r *ComputedStatsRepository) UpdateRanks(ctx context.Context, tf wager.Timeframe, ranks []wager.RankAssignment) error {
	if len(ranks) == 0 {
		return nil
	}
	col, err := rankColumn(tf)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE computed_wager_stats SET %s = $2 WHERE user_id = $1`, col)
	batch := &pgx.Batch{}
	for _, a := range ranks {
		batch.Queue(query, a.UserID, a.Rank)
	}

	results := r.q.SendBatch(ctx, batch)
	for range ranks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to update %s ranks: %w", tf, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close rank batch: %w", err)
	}
	return nil
}

// Top returns up to limit ranked rows for tf in rank order.
func (r *ComputedStatsRepository) Top(ctx context.Context, tf wager.Timeframe, limit int) ([]*wager.ComputedStats, error) {
	col, err := rankColumn(tf)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}

	query := fmt.Sprintf(`SELECT %s FROM computed_wager_stats WHERE %s IS NOT NULL ORDER BY %s ASC LIMIT $1`,
		computedColumns, col, col)
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []*wager.ComputedStats
	for rows.Next() {
		c, err := scanComputed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan computed stats: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard: %w", err)
	}
	return out, nil
}
