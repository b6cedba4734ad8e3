package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// setupStore starts a disposable PostgreSQL, applies the migrations and
// returns a Store over it. Skipped under -short or without Docker.
func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("wager_test"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		tcpostgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{"test": "wager-store", "test-name": t.Name()}),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := NewConnectionFromURL(ctx, url, DefaultPoolOptions())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	applied, err := NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, len(Migrations()), applied)

	return NewStore(conn)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func createUser(t *testing.T, s *Store, externalID string) *wager.User {
	t.Helper()
	u := &wager.User{
		ID:            uuid.NewString(),
		ExternalID:    externalID,
		Username:      "player-" + externalID,
		IsPlaceholder: true,
		CreatedAt:     now(),
	}
	require.NoError(t, s.Users().Create(context.Background(), u))
	return u
}

func TestStore_Integration(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	t.Run("migrations are idempotent", func(t *testing.T) {
		m := NewMigrator(s.Connection())
		applied, err := m.Migrate(ctx)
		require.NoError(t, err)
		assert.Zero(t, applied)

		status, err := m.Status(ctx)
		require.NoError(t, err)
		for _, mig := range status {
			assert.True(t, mig.IsApplied, mig.Name)
		}
	})

	t.Run("users", func(t *testing.T) {
		u := createUser(t, s, "u-1")

		got, err := s.Users().GetByExternalID(ctx, "u-1")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.True(t, got.IsPlaceholder)

		err = s.Users().Create(ctx, &wager.User{ID: uuid.NewString(), ExternalID: "u-1", Username: "dup", CreatedAt: now()})
		assert.ErrorIs(t, err, shared.ErrConcurrentModification)

		_, err = s.Users().GetByExternalID(ctx, "missing")
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("raw stats round trip decimals", func(t *testing.T) {
		u := createUser(t, s, "u-raw")
		raw := &wager.RawStats{
			UserID:     u.ID,
			ExternalID: u.ExternalID,
			Username:   u.Username,
			Wagered: wager.Amounts{
				Daily:   decimal.RequireFromString("10.25"),
				Weekly:  decimal.RequireFromString("100"),
				Monthly: decimal.RequireFromString("1000.5"),
				AllTime: decimal.RequireFromString("123456789.123456"),
			},
			LastSyncAt: now(),
		}
		require.NoError(t, s.RawStats().Upsert(ctx, raw))

		raw.Wagered.Daily = decimal.RequireFromString("11")
		require.NoError(t, s.RawStats().Upsert(ctx, raw))

		got, err := s.RawStats().GetByUserID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.Wagered.Equal(raw.Wagered))
	})

	t.Run("ledger", func(t *testing.T) {
		u := createUser(t, s, "u-ledger")
		base := now()

		first, err := wager.NewAdjustment(u, wager.AdjustmentRequest{
			ExternalID: u.ExternalID, Timeframe: wager.Weekly, Type: wager.AdjustmentAdd,
			Amount: decimal.NewFromInt(50), Reason: "bonus",
		}, decimal.NewFromInt(100), "admin-1", wager.AuditMeta{IPAddress: "10.0.0.1"}, base)
		require.NoError(t, err)
		second, err := wager.NewAdjustment(u, wager.AdjustmentRequest{
			ExternalID: u.ExternalID, Timeframe: wager.Daily, Type: wager.AdjustmentSubtract,
			Amount: decimal.NewFromInt(5), Reason: "chargeback",
		}, decimal.NewFromInt(20), "admin-2", wager.AuditMeta{}, base.Add(time.Second))
		require.NoError(t, err)

		require.NoError(t, s.Adjustments().Create(ctx, first))
		require.NoError(t, s.Adjustments().Create(ctx, second))

		active, err := s.Adjustments().ListActiveByUser(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, first.ID, active[0].ID, "oldest first")
		assert.True(t, active[1].Delta.Daily.Equal(decimal.NewFromInt(-5)))
		assert.Equal(t, "10.0.0.1", active[0].IPAddress)

		require.NoError(t, first.Revert("admin-3", "duplicate", base.Add(2*time.Second)))
		require.NoError(t, s.Adjustments().MarkReverted(ctx, first))
		assert.ErrorIs(t, s.Adjustments().MarkReverted(ctx, first), shared.ErrAlreadyReverted)

		got, err := s.Adjustments().GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, wager.StatusReverted, got.Status)
		assert.Equal(t, "admin-3", got.RevertedBy)
		assert.Contains(t, got.AdminNotes, "duplicate")

		active, err = s.Adjustments().ListActiveByUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Len(t, active, 1)

		all, err := s.Adjustments().ListByUser(ctx, u.ID, true)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID, "newest first")

		items, total, err := s.Adjustments().Search(ctx, wager.AdjustmentFilter{AdminID: "admin-2"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, second.ID, items[0].ID)

		to := base.Add(time.Second)
		items, total, err = s.Adjustments().Search(ctx, wager.AdjustmentFilter{ExternalID: u.ExternalID, To: &to})
		require.NoError(t, err)
		assert.Equal(t, 1, total, "range end is exclusive")
		assert.Equal(t, first.ID, items[0].ID)

		stats, err := s.Adjustments().Statistics(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stats.Total, 2)
		assert.GreaterOrEqual(t, stats.Reverted, 1)
		assert.GreaterOrEqual(t, stats.ByType[wager.AdjustmentSubtract], 1)
	})

	t.Run("ledger rows are immutable", func(t *testing.T) {
		u := createUser(t, s, "u-immutable")
		adj, err := wager.NewAdjustment(u, wager.AdjustmentRequest{
			ExternalID: u.ExternalID, Timeframe: wager.Monthly, Type: wager.AdjustmentAdd,
			Amount: decimal.NewFromInt(1), Reason: "x",
		}, decimal.Zero, "admin", wager.AuditMeta{}, now())
		require.NoError(t, err)
		require.NoError(t, s.Adjustments().Create(ctx, adj))

		_, err = s.Connection().Exec(ctx, `UPDATE wager_adjustments SET monthly_delta = 99 WHERE id = $1`, adj.ID)
		assert.Error(t, err)
	})

	t.Run("computed stats keep ranks on upsert", func(t *testing.T) {
		a := createUser(t, s, "u-rank-a")
		b := createUser(t, s, "u-rank-b")
		at := now()

		for i, u := range []*wager.User{a, b} {
			c := &wager.ComputedStats{
				UserID: u.ID, ExternalID: u.ExternalID, Username: u.Username,
				Final:      wager.Amounts{AllTime: decimal.NewFromInt(int64(100 * (i + 1)))},
				ComputedAt: at,
			}
			require.NoError(t, s.Computed().Upsert(ctx, c))
		}

		candidates, err := s.Computed().RankCandidates(ctx, wager.AllTime)
		require.NoError(t, err)
		require.NoError(t, s.Computed().UpdateRanks(ctx, wager.AllTime, wager.AssignRanks(candidates)))

		top, err := s.Computed().Top(ctx, wager.AllTime, 10)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(top), 2)
		assert.Equal(t, b.ID, top[0].UserID)
		require.NotNil(t, top[0].Ranks.AllTime)
		assert.Equal(t, 1, *top[0].Ranks.AllTime)

		again := &wager.ComputedStats{
			UserID: b.ID, ExternalID: b.ExternalID, Username: b.Username,
			Final:      wager.Amounts{AllTime: decimal.NewFromInt(300)},
			ComputedAt: at.Add(time.Second),
		}
		require.NoError(t, s.Computed().Upsert(ctx, again))
		require.NotNil(t, again.Ranks.AllTime, "upsert returns the stored rank")

		got, err := s.Computed().GetByUserID(ctx, b.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Ranks.AllTime)
		assert.Equal(t, 1, *got.Ranks.AllTime)
		assert.Nil(t, got.Ranks.Daily, "zero final is unranked")
	})

	t.Run("sync logs", func(t *testing.T) {
		l := &wager.SyncLog{
			ID: uuid.NewString(), Type: wager.SyncTypeFull, Timeframe: wager.Daily,
			APIStatus: wager.APIStatusRunning, StartedAt: now(),
		}
		require.NoError(t, s.SyncLogs().Create(ctx, l))

		l.Processed, l.Updated, l.Added, l.Errors = 3, 2, 1, 1
		l.Complete(l.StartedAt.Add(1500 * time.Millisecond))
		require.NoError(t, s.SyncLogs().Complete(ctx, l))

		logs, err := s.SyncLogs().ListRecent(ctx, 5)
		require.NoError(t, err)
		require.NotEmpty(t, logs)
		assert.Equal(t, l.ID, logs[0].ID)
		assert.Equal(t, wager.APIStatusPartial, logs[0].APIStatus)
		assert.Equal(t, 1500*time.Millisecond, logs[0].Duration)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.WithTx(ctx, func(tx wager.Repositories) error {
			u := &wager.User{ID: uuid.NewString(), ExternalID: "u-rollback", Username: "r", CreatedAt: now()}
			require.NoError(t, tx.LockUser(ctx, u.ID))
			require.NoError(t, tx.Users().Create(ctx, u))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.Users().GetByExternalID(ctx, "u-rollback")
		assert.True(t, shared.IsNotFound(err))
	})
}
