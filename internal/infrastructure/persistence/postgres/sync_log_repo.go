package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// SyncLogRepository implements wager.SyncLogRepository for PostgreSQL.
type SyncLogRepository struct {
	q Querier
}

// NewSyncLogRepository creates a new SyncLogRepository.
func NewSyncLogRepository(q Querier) *SyncLogRepository {
	return &SyncLogRepository{q: q}
}

// Create inserts a running log.
func (r *SyncLogRepository) Create(ctx context.Context, l *wager.SyncLog) error {
	query := `
		INSERT INTO wager_sync_logs (id, sync_type, timeframe, external_id, api_status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.q.Exec(ctx, query,
		l.ID, string(l.Type), nullString(string(l.Timeframe)), nullString(l.ExternalID),
		string(l.APIStatus), l.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

// Complete persists counts, status and completion time.
func (r *SyncLogRepository) Complete(ctx context.Context, l *wager.SyncLog) error {
	query := `
		UPDATE wager_sync_logs
		SET users_processed = $2, users_updated = $3, users_added = $4, errors = $5,
			api_status = $6, error_message = $7, completed_at = $8, duration_ms = $9
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query,
		l.ID, l.Processed, l.Updated, l.Added, l.Errors,
		string(l.APIStatus), nullString(l.ErrorMessage), l.CompletedAt, l.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete sync log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("sync_log", "Complete", "sync log %s not found", l.ID)
	}
	return nil
}

// ListRecent returns the newest logs first.
func (r *SyncLogRepository) ListRecent(ctx context.Context, limit int) ([]*wager.SyncLog, error) {
	if limit < 1 {
		limit = 20
	}
	query := `
		SELECT id, sync_type, COALESCE(timeframe, ''), COALESCE(external_id, ''),
			users_processed, users_updated, users_added, errors,
			api_status, COALESCE(error_message, ''), started_at, completed_at, COALESCE(duration_ms, 0)
		FROM wager_sync_logs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var out []*wager.SyncLog
	for rows.Next() {
		var l wager.SyncLog
		var syncType, timeframe, status string
		var durationMs int64
		err := rows.Scan(
			&l.ID, &syncType, &timeframe, &l.ExternalID,
			&l.Processed, &l.Updated, &l.Added, &l.Errors,
			&status, &l.ErrorMessage, &l.StartedAt, &l.CompletedAt, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		l.Type = wager.SyncType(syncType)
		l.Timeframe = wager.Timeframe(timeframe)
		l.APIStatus = wager.APIStatus(status)
		l.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync logs: %w", err)
	}
	return out, nil
}
