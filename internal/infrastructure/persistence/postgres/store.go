package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/retry"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(domain, op, format string, args ...any) error {
	return shared.NewDomainError(domain, op, shared.ErrNotFound, fmt.Sprintf(format, args...))
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY SET
// ══════════════════════════════════════════════════════════════════════════════

// repositories binds every repository to one Querier: the pool or a transaction.
type repositories struct {
	q           Querier
	inTx        bool
	users       *UserRepository
	rawStats    *RawStatsRepository
	adjustments *AdjustmentRepository
	computed    *ComputedStatsRepository
	syncLogs    *SyncLogRepository
}

func newRepositories(q Querier, inTx bool) *repositories {
	return &repositories{
		q:           q,
		inTx:        inTx,
		users:       NewUserRepository(q),
		rawStats:    NewRawStatsRepository(q),
		adjustments: NewAdjustmentRepository(q),
		computed:    NewComputedStatsRepository(q),
		syncLogs:    NewSyncLogRepository(q),
	}
}

func (r *repositories) Users() wager.UserRepository             { return r.users }
func (r *repositories) RawStats() wager.RawStatsRepository      { return r.rawStats }
func (r *repositories) Adjustments() wager.AdjustmentRepository { return r.adjustments }
func (r *repositories) Computed() wager.ComputedStatsRepository { return r.computed }
func (r *repositories) SyncLogs() wager.SyncLogRepository       { return r.syncLogs }

// LockUser takes a transaction-scoped advisory lock keyed by the user id.
func (r *repositories) LockUser(ctx context.Context, userID string) error {
	if !r.inTx {
		return nil
	}
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID); err != nil {
		return fmt.Errorf("failed to lock user %s: %w", userID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements wager.Store over a connection pool.
type Store struct {
	*repositories
	conn    *Connection
	retrier *retry.Retrier
}

var _ wager.Store = (*Store)(nil)

// NewStore creates a Store. Transactions that fail with a serialization
// failure or deadlock are re-run from the start.
func NewStore(conn *Connection) *Store {
	return &Store{
		repositories: newRepositories(conn, false),
		conn:         conn,
		retrier:      retry.TransactionRetrier(IsTransient),
	}
}

// WithTx runs fn in one read-committed transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx wager.Repositories) error) error {
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			return fn(newRepositories(tx, true))
		})
	})
	if err != nil && IsTransient(err) {
		return shared.WrapError("store", "WithTx", shared.ErrConcurrentModification,
			"transaction kept conflicting with concurrent writers", err)
	}
	return err
}

// Connection returns the underlying connection.
func (s *Store) Connection() *Connection {
	return s.conn
}
