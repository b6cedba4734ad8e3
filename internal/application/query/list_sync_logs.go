package query

import (
	"context"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST SYNC LOGS QUERY
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultSyncLogLimit = 20
	MaxSyncLogLimit     = 200
)

// ListSyncLogsHandler returns the most recent sync runs.
type ListSyncLogsHandler struct {
	logs wager.SyncLogRepository
}

// NewListSyncLogsHandler creates a new ListSyncLogsHandler.
func NewListSyncLogsHandler(logs wager.SyncLogRepository) *ListSyncLogsHandler {
	return &ListSyncLogsHandler{logs: logs}
}

// Handle returns up to limit logs, newest first.
func (h *ListSyncLogsHandler) Handle(ctx context.Context, limit int) ([]*wager.SyncLog, error) {
	if limit <= 0 {
		limit = DefaultSyncLogLimit
	}
	if limit > MaxSyncLogLimit {
		limit = MaxSyncLogLimit
	}
	logs, err := h.logs.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []*wager.SyncLog{}
	}
	return logs, nil
}
