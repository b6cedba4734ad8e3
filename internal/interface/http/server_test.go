package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vip-wager/wager-hub/internal/application/command"
	"github.com/vip-wager/wager-hub/internal/application/query"
	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/internal/infrastructure/scheduler"
	"github.com/vip-wager/wager-hub/internal/interface/http/handlers"
	"github.com/vip-wager/wager-hub/internal/testutil"
	"github.com/vip-wager/wager-hub/pkg/circuitbreaker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

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

type stubJobs struct {
	result *scheduler.JobResult
	err    error
}

var stubLastRun = scheduler.JobResult{
	JobName:   "sync_wagers",
	StartedAt: testutil.BaseTime,
	Duration:  1500 * time.Millisecond,
	Success:   false,
	Error:     errors.New("sync failed for 1 of 4 timeframes"),
}

func (s *stubJobs) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "sync_wagers", Schedule: "@every 15m", RunCount: 1, FailCount: 1, LastResult: &stubLastRun}}
}

func (s *stubJobs) GetJobInfo(name string) (*scheduler.JobInfo, error) {
	for _, info := range s.ListJobs() {
		if info.Name == name {
			return &info, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name)
}

func (s *stubJobs) GetHistory(limit int) []scheduler.JobResult {
	history := []scheduler.JobResult{stubLastRun, stubLastRun}
	if limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	return history
}

func (s *stubJobs) GetMetrics() *scheduler.SchedulerMetrics {
	m := scheduler.NewSchedulerMetrics()
	m.RecordExecution("sync_wagers", 1500*time.Millisecond, false)
	return m
}

func (s *stubJobs) RunNow(context.Context, string) (*scheduler.JobResult, error) {
	return s.result, s.err
}

type apiFixture struct {
	store  *testutil.Store
	feed   *mockFeed
	jobs   *stubJobs
	health *handlers.HealthChecker
	server *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := testutil.NewStore()
	cache := testutil.NewCache()
	clock := testutil.NewClock()

	f := &apiFixture{
		store:  store,
		feed:   &mockFeed{},
		jobs:   &stubJobs{},
		health: handlers.NewHealthChecker("test"),
	}

	computer := command.NewStatsComputer(store, cache, command.StatsComputerConfig{Now: clock.Now}, log)
	ranking := command.NewRankingEngine(store, cache, log)
	deps := Dependencies{
		Ledger:               command.NewAdjustmentLedger(store, cache, computer, log),
		Sync:                 command.NewSyncOrchestrator(store, cache, f.feed, computer, ranking, command.SyncConfig{PageSize: 100}, log),
		Rankings:             ranking,
		ComputedStats:        query.NewGetComputedStatsHandler(store.Users(), store.Computed(), cache, log),
		Leaderboard:          query.NewGetLeaderboardHandler(store.Computed(), cache),
		SearchAdjustments:    query.NewSearchAdjustmentsHandler(store.Adjustments()),
		UserAdjustments:      query.NewGetUserAdjustmentsHandler(store.Users(), store.Adjustments()),
		AdjustmentStatistics: query.NewGetAdjustmentStatisticsHandler(store.Users(), store.Adjustments()),
		SyncLogs:             query.NewListSyncLogsHandler(store.SyncLogs()),
		Jobs:                 f.jobs,
		Health:               f.health,
		Logger:               log,
	}
	f.server = NewServer(DefaultConfig(), deps)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-ID", "admin-1")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

type adjustmentResponse struct {
	Adjustment struct {
		ID     string          `json:"id"`
		Status string          `json:"status"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"adjustment"`
	Stats struct {
		Final wager.Amounts `json:"final"`
	} `json:"computed_stats"`
}

func weekly(amount string) map[string]any {
	return map[string]any{
		"external_id":          "ext-1",
		"applied_to_timeframe": "weekly",
		"adjustment_type":      "add",
		"amount":               amount,
		"reason":               "manual correction",
	}
}

func seed(f *apiFixture) {
	testutil.SeedUser(f.store, "u-1", "ext-1", wager.Amounts{Weekly: testutil.D("100")})
}

// ══════════════════════════════════════════════════════════════════════════════
// ADJUSTMENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestCreateAdjustment(t *testing.T) {
	f := newAPIFixture(t)
	seed(f)

	rec := f.do(t, http.MethodPost, "/api/v1/adjustments", weekly("50.25"), true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	env := decode(t, rec)
	assert.True(t, env.Success)
	var res adjustmentResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "active", res.Adjustment.Status)
	assert.True(t, testutil.D("150.25").Equal(res.Stats.Final.Weekly), res.Stats.Final.Weekly.String())
}

func TestCreateAdjustment_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]any
		admin  bool
		status int
		code   string
	}{
		{"missing admin", weekly("10"), false, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown timeframe", func() map[string]any { b := weekly("10"); b["applied_to_timeframe"] = "hourly"; return b }(), true, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zero amount", weekly("0"), true, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown user", func() map[string]any { b := weekly("10"); b["external_id"] = "ghost"; return b }(), true, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			seed(f)

			rec := f.do(t, http.MethodPost, "/api/v1/adjustments", tt.body, tt.admin)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			env := decode(t, rec)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestCreateAdjustment_MalformedBody(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/adjustments", bytes.NewBufferString("{not json"))
	req.Header.Set("X-Admin-ID", "admin-1")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevertAdjustment(t *testing.T) {
	f := newAPIFixture(t)
	seed(f)

	rec := f.do(t, http.MethodPost, "/api/v1/adjustments", weekly("40"), true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created adjustmentResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))

	path := "/api/v1/adjustments/" + created.Adjustment.ID + "/revert"
	rec = f.do(t, http.MethodPost, path, map[string]string{"reason": "duplicate"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reverted adjustmentResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &reverted))
	assert.Equal(t, "reverted", reverted.Adjustment.Status)
	assert.True(t, testutil.D("100").Equal(reverted.Stats.Final.Weekly))

	rec = f.do(t, http.MethodPost, path, map[string]string{"reason": "again"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ALREADY_REVERTED", decode(t, rec).Error.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/adjustments/missing/revert", map[string]string{"reason": "x"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBulkAdjustments(t *testing.T) {
	f := newAPIFixture(t)
	seed(f)

	bad := weekly("10")
	bad["applied_to_timeframe"] = "hourly"
	ghost := weekly("10")
	ghost["external_id"] = "ghost"

	rec := f.do(t, http.MethodPost, "/api/v1/adjustments/bulk", map[string]any{
		"items":       []map[string]any{weekly("10"), bad, ghost},
		"admin_notes": "batch",
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Items     []bulkItemDTO `json:"items"`
		Succeeded int           `json:"succeeded"`
		Failed    int           `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &res))
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Items, 3)
	assert.True(t, res.Items[0].Success)
	assert.Equal(t, "VALIDATION_ERROR", res.Items[1].Error.Code)
	assert.Equal(t, 2, res.Items[2].Index)
	assert.Equal(t, "NOT_FOUND", res.Items[2].Error.Code)
}

func TestBulkAdjustments_Empty(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/adjustments/bulk", map[string]any{"items": []any{}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchAndUserAdjustments(t *testing.T) {
	f := newAPIFixture(t)
	seed(f)
	for _, amount := range []string{"1", "2", "3"} {
		require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/adjustments", weekly(amount), true).Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/adjustments?external_id=ext-1&page_size=2", nil, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decode(t, rec)
	assert.Equal(t, 3, env.Meta.TotalCount)
	assert.Equal(t, 2, env.Meta.PageSize)
	var items []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.Len(t, items, 2)

	rec = f.do(t, http.MethodGet, "/api/v1/adjustments?timeframe=hourly", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/adjustments?from=yesterday", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/users/ext-1/adjustments", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine query.GetUserAdjustmentsResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &mine))
	assert.Equal(t, 3, mine.Active)

	rec = f.do(t, http.MethodGet, "/api/v1/statistics", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS, LEADERBOARD, SYNC
// ══════════════════════════════════════════════════════════════════════════════

func TestComputedStats(t *testing.T) {
	f := newAPIFixture(t)
	seed(f)

	rec := f.do(t, http.MethodGet, "/api/v1/users/ext-1/stats", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code, "never computed")

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/adjustments", weekly("5"), true).Code)

	rec = f.do(t, http.MethodGet, "/api/v1/users/ext-1/stats", nil, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res query.GetComputedStatsResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &res))
	assert.True(t, testutil.D("105").Equal(res.Stats.Final.Weekly))
}

func TestRankingsAndLeaderboard(t *testing.T) {
	f := newAPIFixture(t)
	testutil.SeedUser(f.store, "u-1", "ext-1", wager.Amounts{Weekly: testutil.D("100")})
	testutil.SeedUser(f.store, "u-2", "ext-2", wager.Amounts{Weekly: testutil.D("300")})
	for _, ext := range []string{"ext-1", "ext-2"} {
		body := weekly("1")
		body["external_id"] = ext
		require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/adjustments", body, true).Code)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/rankings/recalculate?timeframe=weekly", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/leaderboard/weekly?limit=10", nil, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var board query.GetLeaderboardResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &board))
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "ext-2", board.Entries[0].ExternalID)
	assert.Equal(t, 1, board.Entries[0].Rank)

	rec = f.do(t, http.MethodGet, "/api/v1/leaderboard/hourly", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/rankings/recalculate?timeframe=hourly", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncAll(t *testing.T) {
	f := newAPIFixture(t)
	f.feed.On("FetchPage", mock.Anything, wager.Daily, 100, 1).
		Return(&wager.FeedPage{
			Entries:    []wager.FeedEntry{testutil.CreateTestEntry("ext-9", "10", "20", "30", "40")},
			Page:       1,
			TotalPages: 1,
			TotalUsers: 1,
		}, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/v1/sync?timeframe=daily", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var logs []*wager.SyncLog
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].Added)

	rec = f.do(t, http.MethodGet, "/api/v1/sync/logs", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &logs))
	assert.Len(t, logs, 1)
	f.feed.AssertExpectations(t)
}

func TestSyncAll_ExternalFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{
			name: "circuit open",
			err: shared.WrapError("goated", "FetchPage", shared.ErrExternalAPIUnavailable, "circuit open",
				&circuitbreaker.OpenError{Name: "goated_api", RetryAfter: 29500 * time.Millisecond}),
			status:     http.StatusServiceUnavailable,
			retryAfter: "30",
		},
		{
			name:   "timeout",
			err:    shared.WrapError("goated", "FetchPage", shared.ErrExternalAPITimeout, "deadline", context.DeadlineExceeded),
			status: http.StatusGatewayTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.feed.On("FetchPage", mock.Anything, wager.Weekly, 100, 1).Return(nil, tt.err).Once()

			rec := f.do(t, http.MethodPost, "/api/v1/sync?timeframe=weekly", nil, true)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}

func TestSyncUser(t *testing.T) {
	f := newAPIFixture(t)
	f.feed.On("FetchPage", mock.Anything, wager.AllTime, 1000, 1).
		Return(&wager.FeedPage{
			Entries:    []wager.FeedEntry{testutil.CreateTestEntry("ext-7", "1", "2", "3", "4")},
			Page:       1,
			TotalPages: 1,
		}, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/sync/users/ext-7", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/sync/users/nobody", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sync/users/ext-7?timeframe=hourly", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH, JOBS, ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	f.health.AddCheck("database", true, func(context.Context) error { return nil })
	f.health.AddCheck("cache", false, func(context.Context) error { return errors.New("connection refused") })

	rec := f.do(t, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, handlers.StatusDegraded, status.Status)

	f.health.AddCheck("database", true, func(context.Context) error { return errors.New("down") })
	rec = f.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobs(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/jobs?history=1", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Jobs []struct {
			Name       string `json:"name"`
			FailCount  int64  `json:"fail_count"`
			LastResult *struct {
				Error string `json:"error"`
			} `json:"last_result"`
		} `json:"jobs"`
		Metrics scheduler.MetricsSnapshot `json:"metrics"`
		History []struct {
			Job        string `json:"job"`
			DurationMs int64  `json:"duration_ms"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &listing))
	require.Len(t, listing.Jobs, 1)
	assert.Equal(t, "sync_wagers", listing.Jobs[0].Name)
	assert.Equal(t, int64(1), listing.Jobs[0].FailCount)
	require.NotNil(t, listing.Jobs[0].LastResult)
	assert.Equal(t, "sync failed for 1 of 4 timeframes", listing.Jobs[0].LastResult.Error)
	assert.Equal(t, int64(1), listing.Metrics.TotalFailures)
	require.Len(t, listing.History, 1)
	assert.Equal(t, int64(1500), listing.History[0].DurationMs)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs?history=x", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/sync_wagers", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"schedule":"@every 15m"`)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/nope", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.jobs.err = fmt.Errorf("%w: nope", scheduler.ErrJobNotFound)
	rec = f.do(t, http.MethodPost, "/api/v1/jobs/nope/run", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.jobs.err = fmt.Errorf("%w: sync_wagers", scheduler.ErrJobRunning)
	rec = f.do(t, http.MethodPost, "/api/v1/jobs/sync_wagers/run", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.jobs.err = errors.New("boom")
	f.jobs.result = &scheduler.JobResult{JobName: "sync_wagers", Success: false, Error: f.jobs.err}
	rec = f.do(t, http.MethodPost, "/api/v1/jobs/sync_wagers/run", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"boom"`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrNotFound, http.StatusNotFound},
		{shared.Validationf("x", "y", "bad"), http.StatusBadRequest},
		{shared.ErrAlreadyReverted, http.StatusBadRequest},
		{command.ErrSyncInProgress, http.StatusConflict},
		{shared.ErrExternalAPIUnavailable, http.StatusServiceUnavailable},
		{shared.ErrExternalAPITimeout, http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped: %w", shared.ErrNotFound), http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	f := newAPIFixture(t)
	seed(f)
	f.store.FailAdjustmentCreate = errors.New("pq: relation does not exist")

	rec := f.do(t, http.MethodPost, "/api/v1/adjustments", weekly("5"), true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
}
