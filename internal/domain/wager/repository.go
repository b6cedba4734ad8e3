package wager

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in the infrastructure layer (PostgreSQL).
// Missing rows are reported as errors matching shared.ErrNotFound.
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository stores local accounts of tracked players.
type UserRepository interface {
	// GetByExternalID returns the user linked to an affiliate id.
	GetByExternalID(ctx context.Context, externalID string) (*User, error)

	// GetByID returns a user by local id.
	GetByID(ctx context.Context, id string) (*User, error)

	// Create inserts a new user.
	Create(ctx context.Context, user *User) error

	// LinkingStats counts linked and placeholder users.
	LinkingStats(ctx context.Context) (*LinkingStats, error)
}

// RawStatsRepository stores the last affiliate snapshot per user.
type RawStatsRepository interface {
	// Upsert creates or overwrites the user's raw stats.
	Upsert(ctx context.Context, raw *RawStats) error

	// GetByUserID returns the user's raw stats.
	GetByUserID(ctx context.Context, userID string) (*RawStats, error)
}

// AdjustmentRepository is the adjustment ledger.
type AdjustmentRepository interface {
	// Create appends a ledger entry.
	Create(ctx context.Context, adj *Adjustment) error

	// GetByID returns a ledger entry.
	GetByID(ctx context.Context, id string) (*Adjustment, error)

	// MarkReverted persists Status, RevertedAt, RevertedBy and AdminNotes.
	// It must only succeed for an entry that is still active in storage.
	MarkReverted(ctx context.Context, adj *Adjustment) error

	// ListActiveByUser returns active entries oldest first.
	ListActiveByUser(ctx context.Context, userID string) ([]*Adjustment, error)

	// ListByUser returns a user's entries newest first.
	ListByUser(ctx context.Context, userID string, includeReverted bool) ([]*Adjustment, error)

	// Search returns one page of entries matching filter, newest first, and the total count.
	Search(ctx context.Context, filter AdjustmentFilter) ([]*Adjustment, int, error)

	// Statistics aggregates the ledger. Linking is filled by the caller.
	Statistics(ctx context.Context) (*AdjustmentStatistics, error)
}

// ComputedStatsRepository stores materialized computed stats.
type ComputedStatsRepository interface {
	// Upsert writes amounts and ComputedAt. Existing ranks are kept.
	Upsert(ctx context.Context, stats *ComputedStats) error

	// GetByUserID returns the user's computed stats.
	GetByUserID(ctx context.Context, userID string) (*ComputedStats, error)

	// RankCandidates returns every row's final value for tf.
	RankCandidates(ctx context.Context, tf Timeframe) ([]RankCandidate, error)

	// UpdateRanks overwrites the tf rank column of the given users.
	UpdateRanks(ctx context.Context, tf Timeframe, ranks []RankAssignment) error

	// Top returns up to limit ranked rows for tf in rank order.
	Top(ctx context.Context, tf Timeframe, limit int) ([]*ComputedStats, error)
}

// SyncLogRepository stores sync run records.
type SyncLogRepository interface {
	// Create inserts a running log.
	Create(ctx context.Context, log *SyncLog) error

	// Complete persists counts, status and completion time.
	Complete(ctx context.Context, log *SyncLog) error

	// ListRecent returns the newest logs first.
	ListRecent(ctx context.Context, limit int) ([]*SyncLog, error)
}

// Repositories groups the stores that change together.
type Repositories interface {
	Users() UserRepository
	RawStats() RawStatsRepository
	Adjustments() AdjustmentRepository
	Computed() ComputedStatsRepository
	SyncLogs() SyncLogRepository

	// LockUser serializes writers of one user's wager data until the
	// surrounding transaction ends. Outside a transaction it is a no-op.
	LockUser(ctx context.Context, userID string) error
}

// Store is the persistence entry point. Repositories used directly run each
// statement on its own; WithTx runs fn in one transaction and commits when fn
// returns nil.
type Store interface {
	Repositories
	WithTx(ctx context.Context, fn func(tx Repositories) error) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// StatsCache accelerates computed stats reads. Implementations never return
// errors: any cache problem is logged and treated as a miss, so no write path
// depends on the cache.
type StatsCache interface {
	// Get returns the cached record and whether it was found.
	Get(ctx context.Context, userID string) (*ComputedStats, bool)

	// Set caches a record.
	Set(ctx context.Context, stats *ComputedStats)

	// SetIfAbsent caches a record unless one is already cached. Readers
	// repopulating after a miss use it so they never replace a newer record
	// written by a concurrent mutation.
	SetIfAbsent(ctx context.Context, stats *ComputedStats)

	// Invalidate drops the user's record and every leaderboard view.
	Invalidate(ctx context.Context, userID string)

	// InvalidateAll drops every cached record and leaderboard view.
	InvalidateAll(ctx context.Context)
}

// LeaderboardCache caches leaderboard views.
type LeaderboardCache interface {
	GetLeaderboard(ctx context.Context, tf Timeframe, limit int) ([]*ComputedStats, bool)
	SetLeaderboard(ctx context.Context, tf Timeframe, limit int, rows []*ComputedStats)
}
