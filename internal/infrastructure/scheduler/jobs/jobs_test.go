package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vip-wager/wager-hub/internal/application/command"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) SyncAllUsers(ctx context.Context, tf wager.Timeframe) (*wager.SyncLog, error) {
	args := m.Called(ctx, tf)
	log, _ := args.Get(0).(*wager.SyncLog)
	return log, args.Error(1)
}

type mockRanker struct {
	mock.Mock
}

func (m *mockRanker) RecalculateAllRankings(ctx context.Context, tf *wager.Timeframe) ([]command.RankingResult, error) {
	args := m.Called(ctx, tf)
	results, _ := args.Get(0).([]command.RankingResult)
	return results, args.Error(1)
}

func syncLog(tf wager.Timeframe, processed, errs int, status wager.APIStatus) *wager.SyncLog {
	return &wager.SyncLog{
		Timeframe: tf,
		Processed: processed,
		Errors:    errs,
		APIStatus: status,
	}
}

func TestSyncWagersJob_RunsEveryTimeframeInOrder(t *testing.T) {
	syncer := &mockSyncer{}
	var order []wager.Timeframe
	for _, tf := range wager.Timeframes {
		syncer.On("SyncAllUsers", mock.Anything, tf).
			Run(func(args mock.Arguments) { order = append(order, args.Get(1).(wager.Timeframe)) }).
			Return(syncLog(tf, 10, 0, wager.APIStatusSuccess), nil).Once()
	}

	job := NewSyncWagersJob(syncer, SyncWagersConfig{}, zaptest.NewLogger(t))
	assert.Equal(t, "sync_wagers", job.Name())
	assert.Nil(t, job.LastRunStats())

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, wager.Timeframes, order)
	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 40, stats.Processed)
	assert.Equal(t, 0, stats.Failed)
	assert.Len(t, stats.Runs, 4)
	syncer.AssertExpectations(t)
}

func TestSyncWagersJob_FailedTimeframeDoesNotStopOthers(t *testing.T) {
	syncer := &mockSyncer{}
	apiDown := errors.New("api down")
	syncer.On("SyncAllUsers", mock.Anything, wager.Daily).
		Return(syncLog(wager.Daily, 0, 0, wager.APIStatusFailure), apiDown).Once()
	syncer.On("SyncAllUsers", mock.Anything, wager.Weekly).
		Return(syncLog(wager.Weekly, 5, 2, wager.APIStatusPartial), nil).Once()

	job := NewSyncWagersJob(syncer, SyncWagersConfig{
		Timeframes: []wager.Timeframe{wager.Daily, wager.Weekly},
	}, zaptest.NewLogger(t))

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apiDown)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 2, stats.Errors)
	require.Len(t, stats.Runs, 2)
	assert.Equal(t, "api down", stats.Runs[0].Error)
	assert.Empty(t, stats.Runs[1].Error)
	syncer.AssertExpectations(t)
}

func TestSyncWagersJob_StopsWhenCancelled(t *testing.T) {
	syncer := &mockSyncer{}
	job := NewSyncWagersJob(syncer, DefaultSyncWagersConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	syncer.AssertNotCalled(t, "SyncAllUsers", mock.Anything, mock.Anything)
}

func TestRecalculateRankingsJob(t *testing.T) {
	ranker := &mockRanker{}
	results := []command.RankingResult{
		{Timeframe: wager.Daily, Ranked: 3, Unranked: 1, Duration: time.Millisecond},
	}
	ranker.On("RecalculateAllRankings", mock.Anything, (*wager.Timeframe)(nil)).Return(results, nil).Once()

	job := NewRecalculateRankingsJob(ranker, time.Minute, zaptest.NewLogger(t))
	assert.Equal(t, "recalculate_rankings", job.Name())
	assert.Nil(t, job.LastResult())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, results, job.LastResult())
	ranker.AssertExpectations(t)
}

func TestRecalculateRankingsJob_Failure(t *testing.T) {
	ranker := &mockRanker{}
	ranker.On("RecalculateAllRankings", mock.Anything, (*wager.Timeframe)(nil)).
		Return(nil, errors.New("db down")).Once()

	job := NewRecalculateRankingsJob(ranker, 0, zaptest.NewLogger(t))
	err := job.Run(context.Background())
	assert.ErrorContains(t, err, "failed to recalculate rankings")
	assert.Nil(t, job.LastResult())
}
