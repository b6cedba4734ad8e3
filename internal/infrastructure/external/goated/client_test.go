package goated

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/circuitbreaker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...func(*ClientConfig)) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL+"/leaderboard", "secret-token")
	cfg.RequestsPerSecond = 0
	cfg.Timeout = 2 * time.Second
	for _, o := range opts {
		o(&cfg)
	}
	return NewClient(cfg), &calls
}

func TestFetchPage_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "weekly", r.URL.Query().Get("timeframe"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		_, _ = w.Write([]byte(`{
			"success": true,
			"data": [
				{"uid": "abc", "name": "alice", "wagered": {"today": 10.5, "this_week": "20", "this_month": 30, "all_time": 40}, "rank": 1},
				{"uid": 42, "name": "bob", "today": 1, "this_week": 2, "this_month": 3, "all_time": 4},
				{"name": "nobody", "wagered": {"today": 1}}
			],
			"metadata": {"totalUsers": 250, "totalPages": 3}
		}`))
	})

	page, err := client.FetchPage(context.Background(), wager.Weekly, 100, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 250, page.TotalUsers)
	require.Len(t, page.Entries, 2)
	require.Len(t, page.Rejected, 1)

	alice := page.Entries[0]
	assert.Equal(t, "abc", alice.ExternalID)
	assert.Equal(t, "alice", alice.Username)
	assert.True(t, decimal.RequireFromString("10.5").Equal(alice.Wagered.Daily))
	assert.True(t, decimal.NewFromInt(20).Equal(alice.Wagered.Weekly))
	assert.Len(t, alice.Reported, 4)

	assert.Equal(t, "42", page.Entries[1].ExternalID)
	assert.Equal(t, 2, page.Rejected[0].Index)
}

func TestFetchPage_ServerErrorIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	})

	_, err := client.FetchPage(context.Background(), wager.Daily, 10, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrExternalAPIUnavailable)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, 1, client.BreakerStatus().Failures)
}

func TestFetchPage_Timeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(c *ClientConfig) { c.Timeout = 50 * time.Millisecond })

	_, err := client.FetchPage(context.Background(), wager.Daily, 10, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrExternalAPITimeout)
	assert.Equal(t, shared.KindExternalAPITimeout, shared.KindOf(err))
}

func TestFetchPage_SuccessFalse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": "bad token"}`))
	})

	_, err := client.FetchPage(context.Background(), wager.Daily, 10, 1)
	assert.ErrorIs(t, err, shared.ErrExternalAPIUnavailable)
	assert.Contains(t, err.Error(), "bad token")
}

func TestFetchPage_MalformedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := client.FetchPage(context.Background(), wager.Daily, 10, 1)
	assert.ErrorIs(t, err, shared.ErrExternalAPIUnavailable)
}

func TestFetchPage_BreakerOpensAndFailsFast(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := circuitbreaker.New("goated_api", circuitbreaker.WithClock(func() time.Time { return now }))

	var failing atomic.Bool
	failing.Store(true)
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":[],"metadata":{"totalPages":1}}`))
	}, func(c *ClientConfig) { c.Breaker = breaker })

	for i := 0; i < 5; i++ {
		_, err := client.FetchPage(context.Background(), wager.AllTime, 10, 1)
		require.Error(t, err)
	}
	require.EqualValues(t, 5, atomic.LoadInt32(calls))

	_, err := client.FetchPage(context.Background(), wager.AllTime, 10, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, err, shared.ErrExternalAPIUnavailable)
	assert.EqualValues(t, 5, atomic.LoadInt32(calls), "sixth call must not reach the network")

	var openErr *circuitbreaker.OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, 120*time.Second, openErr.RetryAfter)

	now = now.Add(120 * time.Second)
	failing.Store(false)
	page, err := client.FetchPage(context.Background(), wager.AllTime, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalPages)
	assert.EqualValues(t, 6, atomic.LoadInt32(calls))
}

func TestFetchPage_CallerCancelDoesNotTripBreaker(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchPage(ctx, wager.Daily, 10, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, client.BreakerStatus().Failures)
}

func TestFetchPage_InvalidTimeframe(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := client.FetchPage(context.Background(), "yearly", 10, 1)
	assert.True(t, shared.IsValidation(err))
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestDecodeEntry_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		daily   string
		allTime string
	}{
		{"nested", `{"uid":"a","wagered":{"today":5,"all_time":50}}`, "5", "50"},
		{"flat", `{"uid":"a","today":"6","all_time":"60"}`, "6", "60"},
		{"legacy", `{"uid":"a","daily_wagered":7,"all_time_wagered":70}`, "7", "70"},
		{"nested wins", `{"uid":"a","wagered":{"today":1},"today":2,"daily_wagered":3}`, "1", "0"},
		{"id alternate", `{"id":"a","today":8}`, "8", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := DecodeEntry(json.RawMessage(tt.json))
			require.NoError(t, err)
			assert.Equal(t, "a", entry.ExternalID)
			assert.Equal(t, "a", entry.Username, "username falls back to id")
			assert.True(t, decimal.RequireFromString(tt.daily).Equal(entry.Wagered.Daily))
			assert.True(t, decimal.RequireFromString(tt.allTime).Equal(entry.Wagered.AllTime))
			assert.Contains(t, entry.Reported, wager.Daily)
		})
	}
}

func TestDecodeEntry_Rejects(t *testing.T) {
	tests := map[string]string{
		"missing uid":    `{"name":"x","today":1}`,
		"no amounts":     `{"uid":"x","name":"x"}`,
		"negative":       `{"uid":"x","today":-5}`,
		"not a number":   `{"uid":"x","today":"lots"}`,
		"fractional uid": `{"uid":1.5,"today":1}`,
		"not an object":  `[1,2,3]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEntry(json.RawMessage(body))
			assert.Error(t, err)
		})
	}
}

func TestMetadata_Defaults(t *testing.T) {
	var m *Metadata
	assert.Equal(t, 1, m.Pages())
	assert.Equal(t, 0, m.Users())
	assert.Equal(t, 4, (&Metadata{TotalPagesAlt: 4}).Pages())
}
