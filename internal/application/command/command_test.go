package command

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/internal/testutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type mockFeed struct {
	mock.Mock
}

func (m *mockFeed) FetchPage(ctx context.Context, tf wager.Timeframe, limit, page int) (*wager.FeedPage, error) {
	args := m.Called(ctx, tf, limit, page)
	fp, _ := args.Get(0).(*wager.FeedPage)
	return fp, args.Error(1)
}

type fixture struct {
	store    *testutil.Store
	cache    *testutil.Cache
	clock    *testutil.Clock
	feed     *mockFeed
	computer *StatsComputer
	ledger   *AdjustmentLedger
	ranking  *RankingEngine
	sync     *SyncOrchestrator
}

func newFixture(t *testing.T, policy wager.SetPolicy) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)

	f := &fixture{
		store: testutil.NewStore(),
		cache: testutil.NewCache(),
		clock: testutil.NewClock(),
		feed:  &mockFeed{},
	}
	f.computer = NewStatsComputer(f.store, f.cache, StatsComputerConfig{SetPolicy: policy, Now: f.clock.Now}, log)
	f.ledger = NewAdjustmentLedger(f.store, f.cache, f.computer, log)
	f.ranking = NewRankingEngine(f.store, f.cache, log)
	f.sync = NewSyncOrchestrator(f.store, f.cache, f.feed, f.computer, f.ranking, SyncConfig{PageSize: 100}, log)
	return f
}

func (f *fixture) adjust(t *testing.T, externalID string, tf wager.Timeframe, typ wager.AdjustmentType, amount string) *AdjustmentResult {
	t.Helper()
	res, err := f.ledger.CreateAdjustment(context.Background(), CreateAdjustmentCommand{
		Request: wager.AdjustmentRequest{
			ExternalID: externalID,
			Timeframe:  tf,
			Type:       typ,
			Amount:     testutil.D(amount),
			Reason:     "support ticket",
		},
		AdminID: "admin-1",
		Meta:    wager.AuditMeta{IPAddress: "10.0.0.1", UserAgent: "test"},
	})
	require.NoError(t, err)
	return res
}

func page(n, total int, entries ...wager.FeedEntry) *wager.FeedPage {
	return &wager.FeedPage{Entries: entries, Page: n, TotalPages: total, TotalUsers: len(entries)}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, testutil.D(want).Equal(got), "want %s, got %s", want, got.String())
}

// assertInvariant checks final = max(0, raw + Σ active deltas) for every timeframe.
func assertInvariant(t *testing.T, f *fixture, userID string) {
	t.Helper()
	ctx := context.Background()

	raw, err := f.store.RawStats().GetByUserID(ctx, userID)
	require.NoError(t, err)
	active, err := f.store.Adjustments().ListActiveByUser(ctx, userID)
	require.NoError(t, err)
	stored, err := f.store.Computed().GetByUserID(ctx, userID)
	require.NoError(t, err)

	for _, tf := range wager.Timeframes {
		sum := decimal.Zero
		for _, a := range active {
			if a.Timeframe == tf {
				sum = sum.Add(a.DeltaFor(tf))
			}
		}
		assertDecimal(t, wager.ClampZero(raw.Wagered.Get(tf).Add(sum)).String(), stored.Final.Get(tf))
	}
}
