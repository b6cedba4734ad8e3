package command

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/internal/testutil"
)

func seedComputed(f *fixture, userID string, weekly string, at time.Time) {
	f.store.PutComputed(&wager.ComputedStats{
		UserID:     userID,
		ExternalID: "ext-" + userID,
		Final:      wager.Amounts{Weekly: testutil.D(weekly), AllTime: testutil.D(weekly)},
		ComputedAt: at,
	})
}

func TestRankingEngine_RankProperty(t *testing.T) {
	f := newFixture(t, wager.SetFrozenDelta)
	ctx := context.Background()

	values := []string{"500", "0", "12.5", "999.99", "0", "12.5", "40", "1", "0.01", "300"}
	for i, v := range values {
		seedComputed(f, fmt.Sprintf("u-%02d", i), v, testutil.BaseTime.Add(time.Duration(i)*time.Minute))
	}
	// a stale rank on a zero row must be cleared
	stale := 1
	f.store.PutComputed(&wager.ComputedStats{
		UserID: "u-stale", Final: wager.Amounts{}, Ranks: wager.Ranks{Weekly: &stale}, ComputedAt: testutil.BaseTime,
	})

	tf := wager.Weekly
	results, err := f.ranking.RecalculateAllRankings(ctx, &tf)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, wager.Weekly, results[0].Timeframe)
	assert.Equal(t, 8, results[0].Ranked)
	assert.Equal(t, 3, results[0].Unranked)

	candidates, err := f.store.Computed().RankCandidates(ctx, wager.Weekly)
	require.NoError(t, err)

	type ranked struct {
		rank  int
		final string
	}
	var got []ranked
	for _, c := range candidates {
		stats, err := f.store.Computed().GetByUserID(ctx, c.UserID)
		require.NoError(t, err)
		r := stats.Ranks.Weekly
		if !stats.Final.Weekly.IsPositive() {
			assert.Nil(t, r, "user %s has zero weekly wager", c.UserID)
			continue
		}
		require.NotNil(t, r, "user %s is ranked", c.UserID)
		got = append(got, ranked{*r, stats.Final.Weekly.String()})
	}
	sort.Slice(got, func(i, j int) bool { return got[i].rank < got[j].rank })

	require.Len(t, got, 8)
	for i, g := range got {
		assert.Equal(t, i+1, g.rank, "ranks are exactly 1..k")
		if i > 0 {
			assert.False(t, testutil.D(g.final).GreaterThan(testutil.D(got[i-1].final)),
				"rank %d must not exceed rank %d in value", g.rank, got[i-1].rank)
		}
	}

	// other timeframes are untouched
	s, err := f.store.Computed().GetByUserID(ctx, "u-03")
	require.NoError(t, err)
	assert.Nil(t, s.Ranks.AllTime)
	assert.Equal(t, 1, f.cache.FullFlushes)
}

func TestRankingEngine_TieBreak(t *testing.T) {
	f := newFixture(t, wager.SetFrozenDelta)
	ctx := context.Background()

	seedComputed(f, "u-b", "100", testutil.BaseTime)
	seedComputed(f, "u-a", "100", testutil.BaseTime.Add(time.Second))
	seedComputed(f, "u-d", "50", testutil.BaseTime)
	seedComputed(f, "u-c", "50", testutil.BaseTime)

	tf := wager.Weekly
	_, err := f.ranking.RecalculateAllRankings(ctx, &tf)
	require.NoError(t, err)

	rank := func(id string) int {
		s, err := f.store.Computed().GetByUserID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, s.Ranks.Weekly)
		return *s.Ranks.Weekly
	}
	assert.Equal(t, 1, rank("u-b"), "earlier computation wins a tie")
	assert.Equal(t, 2, rank("u-a"))
	assert.Equal(t, 3, rank("u-c"), "then the smaller user id")
	assert.Equal(t, 4, rank("u-d"))
}

func TestRankingEngine_AllTimeframes(t *testing.T) {
	f := newFixture(t, wager.SetFrozenDelta)
	seedComputed(f, "u-1", "10", testutil.BaseTime)

	results, err := f.ranking.RecalculateAllRankings(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, len(wager.Timeframes))
	for i, tf := range wager.Timeframes {
		assert.Equal(t, tf, results[i].Timeframe)
	}
	assert.Equal(t, 1, results[1].Ranked, "weekly")
	assert.Equal(t, 1, results[3].Ranked, "all_time")
	assert.Equal(t, 0, results[0].Ranked, "daily")
}

func TestRankingEngine_InvalidTimeframe(t *testing.T) {
	f := newFixture(t, wager.SetFrozenDelta)
	tf := wager.Timeframe("yearly")
	_, err := f.ranking.RecalculateAllRankings(context.Background(), &tf)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Zero(t, f.cache.FullFlushes)
}

func TestRankingEngine_RecomputeKeepsRanks(t *testing.T) {
	f := newFixture(t, wager.SetFrozenDelta)
	ctx := context.Background()
	user := testutil.SeedUser(f.store, "u-1", "ext-1", wager.Amounts{Weekly: testutil.D("10")})

	_, err := f.computer.Recompute(ctx, user.ID)
	require.NoError(t, err)
	tf := wager.Weekly
	_, err = f.ranking.RecalculateAllRankings(ctx, &tf)
	require.NoError(t, err)

	// a single adjustment does not re-rank, and does not erase the rank either
	res := f.adjust(t, "ext-1", wager.Weekly, wager.AdjustmentSubtract, "10")
	assertDecimal(t, "0", res.Stats.Final.Weekly)
	stored, err := f.store.Computed().GetByUserID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Ranks.Weekly)
	assert.Equal(t, 1, *stored.Ranks.Weekly)

	_, err = f.ranking.RecalculateAllRankings(ctx, &tf)
	require.NoError(t, err)
	stored, err = f.store.Computed().GetByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Ranks.Weekly)
}
