package query

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Top-N users of one timeframe in rank order, as of the last ranking pass.
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 500
)

// GetLeaderboardQuery contains parameters of a leaderboard request.
type GetLeaderboardQuery struct {
	// Timeframe selects the ranking.
	Timeframe wager.Timeframe

	// Limit is the number of rows (default 20, max 500).
	Limit int
}

// Validate checks the query and applies defaults.
func (q *GetLeaderboardQuery) Validate() error {
	if !q.Timeframe.IsValid() {
		return shared.Validationf("query", "GetLeaderboard", "invalid timeframe %q", q.Timeframe)
	}
	if q.Limit < 0 {
		return shared.Validationf("query", "GetLeaderboard", "limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultLeaderboardLimit
	}
	if q.Limit > MaxLeaderboardLimit {
		q.Limit = MaxLeaderboardLimit
	}
	return nil
}

// LeaderboardEntryDTO is one row of the leaderboard.
type LeaderboardEntryDTO struct {
	Rank           int             `json:"rank"`
	UserID         string          `json:"user_id"`
	ExternalID     string          `json:"external_id"`
	Username       string          `json:"username"`
	Wagered        decimal.Decimal `json:"wagered"`
	RawWagered     decimal.Decimal `json:"raw_wagered"`
	Adjustment     decimal.Decimal `json:"adjustment"`
	HasAdjustments bool            `json:"has_adjustments"`
}

// GetLeaderboardResult contains the leaderboard rows.
type GetLeaderboardResult struct {
	Timeframe   wager.Timeframe       `json:"timeframe"`
	Entries     []LeaderboardEntryDTO `json:"entries"`
	FromCache   bool                  `json:"from_cache"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// GetLeaderboardHandler handles leaderboard requests.
type GetLeaderboardHandler struct {
	computed wager.ComputedStatsRepository
	cache    wager.LeaderboardCache
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler.
func NewGetLeaderboardHandler(computed wager.ComputedStatsRepository, cache wager.LeaderboardCache) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{computed: computed, cache: cache}
}

// Handle returns the leaderboard of query.Timeframe.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	rows, fromCache := h.cache.GetLeaderboard(ctx, query.Timeframe, query.Limit)
	if !fromCache {
		var err error
		rows, err = h.computed.Top(ctx, query.Timeframe, query.Limit)
		if err != nil {
			return nil, err
		}
		h.cache.SetLeaderboard(ctx, query.Timeframe, query.Limit, rows)
	}

	result := &GetLeaderboardResult{
		Timeframe:   query.Timeframe,
		Entries:     make([]LeaderboardEntryDTO, 0, len(rows)),
		FromCache:   fromCache,
		GeneratedAt: time.Now().UTC(),
	}
	for _, s := range rows {
		rank := s.Ranks.Get(query.Timeframe)
		if rank == nil {
			continue
		}
		result.Entries = append(result.Entries, LeaderboardEntryDTO{
			Rank:           *rank,
			UserID:         s.UserID,
			ExternalID:     s.ExternalID,
			Username:       s.Username,
			Wagered:        s.Final.Get(query.Timeframe),
			RawWagered:     s.Raw.Get(query.Timeframe),
			Adjustment:     s.TotalAdjustment.Get(query.Timeframe),
			HasAdjustments: s.HasAdjustments,
		})
	}
	return result, nil
}
