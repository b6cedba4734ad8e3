package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one versioned schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// migrationLockKey serializes Migrate across processes starting together.
const migrationLockKey = 727_100_001

// Migrator applies the embedded migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator over the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return NewMigratorWithMigrations(conn, Migrations())
}

// NewMigratorWithMigrations creates a migrator over a custom set.
func NewMigratorWithMigrations(conn *Connection, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{conn: conn, migrations: sorted, tableName: "schema_migrations"}
}

func (m *Migrator) ensureTable(ctx context.Context, q Querier) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, m.tableName)
	if _, err := q.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context, q Querier) (map[int]time.Time, error) {
	rows, err := q.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Migrate applies every pending migration, each in its own transaction.
// It returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx, m.conn); err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if mig.UpSQL == "" {
			return count, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		ran := false
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
				return err
			}
			applied, err := m.applied(ctx, tx)
			if err != nil {
				return err
			}
			if _, done := applied[mig.Version]; done {
				return nil
			}
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insert := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			if _, err := tx.Exec(ctx, insert, mig.Version, mig.Name); err != nil {
				return err
			}
			ran = true
			return nil
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %w", ErrMigrationFailed, mig.Version, err)
		}
		if ran {
			count++
		}
	}
	return count, nil
}

// Rollback reverts the newest applied migration. It is a no-op on an empty schema.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx, m.conn); err != nil {
		return err
	}
	applied, err := m.applied(ctx, m.conn)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil || target.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, target.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx, m.conn); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, m.conn)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// Migrations returns the embedded schema.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_users", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_wager_stats", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_wager_adjustments", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_sync_logs", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    external_id VARCHAR(100) NOT NULL UNIQUE,
    username VARCHAR(255) NOT NULL,
    is_placeholder BOOLEAN NOT NULL DEFAULT TRUE,
    linked_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_placeholder ON users(is_placeholder);
`

const migration001Down = `
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: RAW AND COMPUTED STATS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS raw_wager_stats (
    user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    external_id VARCHAR(100) NOT NULL UNIQUE,
    username VARCHAR(255) NOT NULL,
    daily_wagered NUMERIC NOT NULL DEFAULT 0,
    weekly_wagered NUMERIC NOT NULL DEFAULT 0,
    monthly_wagered NUMERIC NOT NULL DEFAULT 0,
    all_time_wagered NUMERIC NOT NULL DEFAULT 0,
    last_sync_at TIMESTAMPTZ NOT NULL,

    CONSTRAINT raw_wager_non_negative CHECK (
        daily_wagered >= 0 AND weekly_wagered >= 0 AND
        monthly_wagered >= 0 AND all_time_wagered >= 0
    )
);

CREATE TABLE IF NOT EXISTS computed_wager_stats (
    user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    external_id VARCHAR(100) NOT NULL UNIQUE,
    username VARCHAR(255) NOT NULL,

    raw_daily NUMERIC NOT NULL DEFAULT 0,
    raw_weekly NUMERIC NOT NULL DEFAULT 0,
    raw_monthly NUMERIC NOT NULL DEFAULT 0,
    raw_all_time NUMERIC NOT NULL DEFAULT 0,

    total_daily_adjustment NUMERIC NOT NULL DEFAULT 0,
    total_weekly_adjustment NUMERIC NOT NULL DEFAULT 0,
    total_monthly_adjustment NUMERIC NOT NULL DEFAULT 0,
    total_all_time_adjustment NUMERIC NOT NULL DEFAULT 0,

    final_daily NUMERIC NOT NULL DEFAULT 0,
    final_weekly NUMERIC NOT NULL DEFAULT 0,
    final_monthly NUMERIC NOT NULL DEFAULT 0,
    final_all_time NUMERIC NOT NULL DEFAULT 0,

    rank_daily INTEGER,
    rank_weekly INTEGER,
    rank_monthly INTEGER,
    rank_all_time INTEGER,

    has_adjustments BOOLEAN NOT NULL DEFAULT FALSE,
    adjustment_count INTEGER NOT NULL DEFAULT 0,
    computed_at TIMESTAMPTZ NOT NULL,

    CONSTRAINT final_non_negative CHECK (
        final_daily >= 0 AND final_weekly >= 0 AND
        final_monthly >= 0 AND final_all_time >= 0
    ),
    CONSTRAINT ranks_positive CHECK (
        COALESCE(rank_daily, 1) > 0 AND COALESCE(rank_weekly, 1) > 0 AND
        COALESCE(rank_monthly, 1) > 0 AND COALESCE(rank_all_time, 1) > 0
    )
);

CREATE INDEX IF NOT EXISTS idx_computed_final_daily ON computed_wager_stats(final_daily DESC);
CREATE INDEX IF NOT EXISTS idx_computed_final_weekly ON computed_wager_stats(final_weekly DESC);
CREATE INDEX IF NOT EXISTS idx_computed_final_monthly ON computed_wager_stats(final_monthly DESC);
CREATE INDEX IF NOT EXISTS idx_computed_final_all_time ON computed_wager_stats(final_all_time DESC);
CREATE INDEX IF NOT EXISTS idx_computed_rank_daily ON computed_wager_stats(rank_daily) WHERE rank_daily IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_computed_rank_weekly ON computed_wager_stats(rank_weekly) WHERE rank_weekly IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_computed_rank_monthly ON computed_wager_stats(rank_monthly) WHERE rank_monthly IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_computed_rank_all_time ON computed_wager_stats(rank_all_time) WHERE rank_all_time IS NOT NULL;
`

const migration002Down = `
DROP TABLE IF EXISTS computed_wager_stats;
DROP TABLE IF EXISTS raw_wager_stats;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: ADJUSTMENT LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS wager_adjustments (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    external_id VARCHAR(100) NOT NULL,
    admin_id VARCHAR(100) NOT NULL,

    applied_to_timeframe VARCHAR(20) NOT NULL,
    adjustment_type VARCHAR(20) NOT NULL,
    amount NUMERIC NOT NULL,

    daily_delta NUMERIC NOT NULL DEFAULT 0,
    weekly_delta NUMERIC NOT NULL DEFAULT 0,
    monthly_delta NUMERIC NOT NULL DEFAULT 0,
    all_time_delta NUMERIC NOT NULL DEFAULT 0,

    reason VARCHAR(500) NOT NULL,
    original_value NUMERIC NOT NULL,
    new_value NUMERIC NOT NULL,

    status VARCHAR(20) NOT NULL DEFAULT 'active',
    ip_address VARCHAR(64),
    user_agent TEXT,
    admin_notes TEXT,

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    reverted_at TIMESTAMPTZ,
    reverted_by VARCHAR(100),

    CONSTRAINT valid_timeframe CHECK (applied_to_timeframe IN ('daily', 'weekly', 'monthly', 'all_time')),
    CONSTRAINT valid_adjustment_type CHECK (adjustment_type IN ('add', 'subtract', 'set')),
    CONSTRAINT valid_status CHECK (status IN ('active', 'reverted')),
    CONSTRAINT revert_stamped CHECK (status = 'active' OR reverted_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_adjustments_user_id ON wager_adjustments(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_adjustments_external_id ON wager_adjustments(external_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_admin_id ON wager_adjustments(admin_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_timeframe ON wager_adjustments(applied_to_timeframe);
CREATE INDEX IF NOT EXISTS idx_adjustments_status ON wager_adjustments(status);
CREATE INDEX IF NOT EXISTS idx_adjustments_created_at ON wager_adjustments(created_at DESC);

-- Ledger rows are append-only: only the revert columns may change.
CREATE OR REPLACE FUNCTION guard_wager_adjustment_update() RETURNS TRIGGER AS $$
BEGIN
    IF NEW.user_id <> OLD.user_id
        OR NEW.applied_to_timeframe <> OLD.applied_to_timeframe
        OR NEW.adjustment_type <> OLD.adjustment_type
        OR NEW.amount <> OLD.amount
        OR NEW.daily_delta <> OLD.daily_delta
        OR NEW.weekly_delta <> OLD.weekly_delta
        OR NEW.monthly_delta <> OLD.monthly_delta
        OR NEW.all_time_delta <> OLD.all_time_delta
        OR NEW.original_value <> OLD.original_value
        OR NEW.new_value <> OLD.new_value
        OR NEW.created_at <> OLD.created_at THEN
        RAISE EXCEPTION 'wager adjustment % is immutable', OLD.id;
    END IF;
    IF OLD.status = 'reverted' AND NEW.status = 'active' THEN
        RAISE EXCEPTION 'wager adjustment % cannot be reactivated', OLD.id;
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_guard_wager_adjustment_update ON wager_adjustments;
CREATE TRIGGER trg_guard_wager_adjustment_update
    BEFORE UPDATE ON wager_adjustments
    FOR EACH ROW EXECUTE FUNCTION guard_wager_adjustment_update();
`

const migration003Down = `
DROP TRIGGER IF EXISTS trg_guard_wager_adjustment_update ON wager_adjustments;
DROP FUNCTION IF EXISTS guard_wager_adjustment_update();
DROP TABLE IF EXISTS wager_adjustments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: SYNC LOGS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS wager_sync_logs (
    id UUID PRIMARY KEY,
    sync_type VARCHAR(20) NOT NULL,
    timeframe VARCHAR(20),
    external_id VARCHAR(100),
    users_processed INTEGER NOT NULL DEFAULT 0,
    users_updated INTEGER NOT NULL DEFAULT 0,
    users_added INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    api_status VARCHAR(20) NOT NULL DEFAULT 'running',
    error_message TEXT,
    started_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    duration_ms BIGINT,

    CONSTRAINT valid_sync_type CHECK (sync_type IN ('full', 'incremental', 'user_specific')),
    CONSTRAINT valid_api_status CHECK (api_status IN ('running', 'success', 'failure', 'partial'))
);

CREATE INDEX IF NOT EXISTS idx_sync_logs_started_at ON wager_sync_logs(started_at DESC);
`

const migration004Down = `
DROP TABLE IF EXISTS wager_sync_logs;
`
