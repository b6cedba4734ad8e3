package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// AdjustmentRepository implements wager.AdjustmentRepository for PostgreSQL.
type AdjustmentRepository struct {
	q Querier
}

// NewAdjustmentRepository creates a new AdjustmentRepository.
func NewAdjustmentRepository(q Querier) *AdjustmentRepository {
	return &AdjustmentRepository{q: q}
}

const adjustmentColumns = `
	id, user_id, external_id, admin_id,
	applied_to_timeframe, adjustment_type, amount,
	daily_delta, weekly_delta, monthly_delta, all_time_delta,
	reason, original_value, new_value, status,
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(admin_notes, ''),
	created_at, reverted_at, COALESCE(reverted_by, '')`

func scanAdjustment(row rowScanner) (*wager.Adjustment, error) {
	var a wager.Adjustment
	var timeframe, adjType, status string
	err := row.Scan(
		&a.ID, &a.UserID, &a.ExternalID, &a.AdminID,
		&timeframe, &adjType, &a.Amount,
		&a.Delta.Daily, &a.Delta.Weekly, &a.Delta.Monthly, &a.Delta.AllTime,
		&a.Reason, &a.OriginalValue, &a.NewValue, &status,
		&a.IPAddress, &a.UserAgent, &a.AdminNotes,
		&a.CreatedAt, &a.RevertedAt, &a.RevertedBy,
	)
	if err != nil {
		return nil, err
	}
	a.Timeframe = wager.Timeframe(timeframe)
	a.Type = wager.AdjustmentType(adjType)
	a.Status = wager.AdjustmentStatus(status)
	return &a, nil
}

func (r *AdjustmentRepository) list(ctx context.Context, query string, args ...any) ([]*wager.Adjustment, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var out []*wager.Adjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate adjustments: %w", err)
	}
	return out, nil
}

// Create appends a ledger entry.
func (r *AdjustmentRepository) Create(ctx context.Context, a *wager.Adjustment) error {
	query := `
		INSERT INTO wager_adjustments (
			id, user_id, external_id, admin_id,
			applied_to_timeframe, adjustment_type, amount,
			daily_delta, weekly_delta, monthly_delta, all_time_delta,
			reason, original_value, new_value, status,
			ip_address, user_agent, admin_notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := r.q.Exec(ctx, query,
		a.ID, a.UserID, a.ExternalID, a.AdminID,
		string(a.Timeframe), string(a.Type), a.Amount,
		a.Delta.Daily, a.Delta.Weekly, a.Delta.Monthly, a.Delta.AllTime,
		a.Reason, a.OriginalValue, a.NewValue, string(a.Status),
		nullString(a.IPAddress), nullString(a.UserAgent), nullString(a.AdminNotes), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create adjustment: %w", err)
	}
	return nil
}

// GetByID returns a ledger entry.
func (r *AdjustmentRepository) GetByID(ctx context.Context, id string) (*wager.Adjustment, error) {
	query := `SELECT ` + adjustmentColumns + ` FROM wager_adjustments WHERE id = $1`
	a, err := scanAdjustment(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, notFound("adjustment", "GetByID", "adjustment %s not found", id)
		}
		return nil, fmt.Errorf("failed to get adjustment: %w", err)
	}
	return a, nil
}

// MarkReverted persists the revert columns. The row must still be active.
func (r *AdjustmentRepository) MarkReverted(ctx context.Context, a *wager.Adjustment) error {
	query := `
		UPDATE wager_adjustments
		SET status = $2, reverted_at = $3, reverted_by = $4, admin_notes = $5
		WHERE id = $1 AND status = 'active'
	`
	tag, err := r.q.Exec(ctx, query, a.ID, string(a.Status), a.RevertedAt, nullString(a.RevertedBy), nullString(a.AdminNotes))
	if err != nil {
		return fmt.Errorf("failed to mark adjustment reverted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("adjustment", "MarkReverted", shared.ErrAlreadyReverted,
			fmt.Sprintf("adjustment %s is not active", a.ID))
	}
	return nil
}

// ListActiveByUser returns active entries oldest first.
func (r *AdjustmentRepository) ListActiveByUser(ctx context.Context, userID string) ([]*wager.Adjustment, error) {
	query := `SELECT ` + adjustmentColumns + `
		FROM wager_adjustments
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at ASC, id ASC`
	return r.list(ctx, query, userID)
}

// ListByUser returns a user's entries newest first.
func (r *AdjustmentRepository) ListByUser(ctx context.Context, userID string, includeReverted bool) ([]*wager.Adjustment, error) {
	query := `SELECT ` + adjustmentColumns + ` FROM wager_adjustments WHERE user_id = $1`
	if !includeReverted {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return r.list(ctx, query, userID)
}

// Search returns one page of matching entries, newest first, and the total count.
func (r *AdjustmentRepository) Search(ctx context.Context, f wager.AdjustmentFilter) ([]*wager.Adjustment, int, error) {
	if err := f.Normalize(); err != nil {
		return nil, 0, err
	}

	where, args := searchConditions(f)

	var total int
	countQuery := `SELECT COUNT(*) FROM wager_adjustments` + where
	if err := r.q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count adjustments: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	pageQuery := fmt.Sprintf(`SELECT %s FROM wager_adjustments%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		adjustmentColumns, where, len(args)+1, len(args)+2)
	items, err := r.list(ctx, pageQuery, append(args, f.PageSize, f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// searchConditions translates the filter to a WHERE clause. The date range
// end is exclusive, matching AdjustmentFilter.Matches.
func searchConditions(f wager.AdjustmentFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.AdminID != "" {
		add("admin_id = $%d", f.AdminID)
	}
	if f.ExternalID != "" {
		add("external_id = $%d", f.ExternalID)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Timeframe != "" {
		add("applied_to_timeframe = $%d", string(f.Timeframe))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Type != "" {
		add("adjustment_type = $%d", string(f.Type))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Statistics aggregates the ledger. Linking is left empty.
func (r *AdjustmentRepository) Statistics(ctx context.Context) (*wager.AdjustmentStatistics, error) {
	stats := &wager.AdjustmentStatistics{
		ByType:      make(map[wager.AdjustmentType]int),
		ByTimeframe: make(map[wager.Timeframe]int),
	}

	totals := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'reverted'),
			COUNT(DISTINCT user_id) FILTER (WHERE status = 'active'),
			COALESCE(SUM(daily_delta) FILTER (WHERE status = 'active'), 0),
			COALESCE(SUM(weekly_delta) FILTER (WHERE status = 'active'), 0),
			COALESCE(SUM(monthly_delta) FILTER (WHERE status = 'active'), 0),
			COALESCE(SUM(all_time_delta) FILTER (WHERE status = 'active'), 0)
		FROM wager_adjustments
	`
	err := r.q.QueryRow(ctx, totals).Scan(
		&stats.Total, &stats.Active, &stats.Reverted, &stats.AdjustedUsers,
		&stats.NetActive.Daily, &stats.NetActive.Weekly, &stats.NetActive.Monthly, &stats.NetActive.AllTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate adjustments: %w", err)
	}

	grouped := `
		SELECT 'type', adjustment_type, COUNT(*) FROM wager_adjustments GROUP BY adjustment_type
		UNION ALL
		SELECT 'timeframe', applied_to_timeframe, COUNT(*) FROM wager_adjustments GROUP BY applied_to_timeframe
	`
	rows, err := r.q.Query(ctx, grouped)
	if err != nil {
		return nil, fmt.Errorf("failed to group adjustments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dim, key string
		var n int
		if err := rows.Scan(&dim, &key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment group: %w", err)
		}
		if dim == "type" {
			stats.ByType[wager.AdjustmentType(key)] = n
		} else {
			stats.ByTimeframe[wager.Timeframe(key)] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate adjustment groups: %w", err)
	}
	return stats, nil
}
