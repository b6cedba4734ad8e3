package postgres

import (
	"context"
	"fmt"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// RawStatsRepository implements wager.RawStatsRepository for PostgreSQL.
type RawStatsRepository struct {
	q Querier
}

// NewRawStatsRepository creates a new RawStatsRepository.
func NewRawStatsRepository(q Querier) *RawStatsRepository {
	return &RawStatsRepository{q: q}
}

// Upsert creates or overwrites the user's raw stats.
func (r *RawStatsRepository) Upsert(ctx context.Context, raw *wager.RawStats) error {
	query := `
		INSERT INTO raw_wager_stats (
			user_id, external_id, username,
			daily_wagered, weekly_wagered, monthly_wagered, all_time_wagered,
			last_sync_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			username = EXCLUDED.username,
			daily_wagered = EXCLUDED.daily_wagered,
			weekly_wagered = EXCLUDED.weekly_wagered,
			monthly_wagered = EXCLUDED.monthly_wagered,
			all_time_wagered = EXCLUDED.all_time_wagered,
			last_sync_at = EXCLUDED.last_sync_at
	`
	_, err := r.q.Exec(ctx, query,
		raw.UserID, raw.ExternalID, raw.Username,
		raw.Wagered.Daily, raw.Wagered.Weekly, raw.Wagered.Monthly, raw.Wagered.AllTime,
		raw.LastSyncAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert raw stats: %w", err)
	}
	return nil
}

// GetByUserID returns the user's raw stats.
func (r *RawStatsRepository) GetByUserID(ctx context.Context, userID string) (*wager.RawStats, error) {
	query := `
		SELECT user_id, external_id, username,
			daily_wagered, weekly_wagered, monthly_wagered, all_time_wagered,
			last_sync_at
		FROM raw_wager_stats
		WHERE user_id = $1
	`
	var s wager.RawStats
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.ExternalID, &s.Username,
		&s.Wagered.Daily, &s.Wagered.Weekly, &s.Wagered.Monthly, &s.Wagered.AllTime,
		&s.LastSyncAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, notFound("raw_stats", "GetByUserID", "no raw stats for user %s", userID)
		}
		return nil, fmt.Errorf("failed to get raw stats: %w", err)
	}
	return &s, nil
}
