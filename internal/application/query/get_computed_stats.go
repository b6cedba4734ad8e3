// Package query contains read operations following CQRS pattern.
// Queries never modify stored state; the only side effect is repopulating
// the cache after a miss.
package query

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COMPUTED STATS QUERY
// Read-through: cache hit returns immediately, a miss reads the store and
// repopulates the cache.
// ══════════════════════════════════════════════════════════════════════════════

// GetComputedStatsQuery selects one user by affiliate id.
type GetComputedStatsQuery struct {
	ExternalID string
}

// Validate checks the query.
func (q *GetComputedStatsQuery) Validate() error {
	q.ExternalID = strings.TrimSpace(q.ExternalID)
	if q.ExternalID == "" {
		return shared.Validationf("query", "GetComputedStats", "external id is required")
	}
	return nil
}

// GetComputedStatsResult is a user's computed stats and where they came from.
type GetComputedStatsResult struct {
	User      *wager.User          `json:"user"`
	Stats     *wager.ComputedStats `json:"computed_stats"`
	FromCache bool                 `json:"from_cache"`
}

// GetComputedStatsHandler handles GetComputedStatsQuery.
type GetComputedStatsHandler struct {
	users    wager.UserRepository
	computed wager.ComputedStatsRepository
	cache    wager.StatsCache
	logger   *zap.Logger
}

// NewGetComputedStatsHandler creates a new GetComputedStatsHandler.
func NewGetComputedStatsHandler(
	users wager.UserRepository,
	computed wager.ComputedStatsRepository,
	cache wager.StatsCache,
	log *zap.Logger,
) *GetComputedStatsHandler {
	return &GetComputedStatsHandler{
		users:    users,
		computed: computed,
		cache:    cache,
		logger:   logger.OrNop(log).With(logger.Component("query.computed_stats")),
	}
}

// Handle returns the user's computed stats. A user that was never computed
// is NotFound.
func (h *GetComputedStatsHandler) Handle(ctx context.Context, query GetComputedStatsQuery) (*GetComputedStatsResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	user, err := h.users.GetByExternalID(ctx, query.ExternalID)
	if err != nil {
		return nil, err
	}

	if stats, ok := h.cache.Get(ctx, user.ID); ok {
		return &GetComputedStatsResult{User: user, Stats: stats, FromCache: true}, nil
	}

	stats, err := h.computed.GetByUserID(ctx, user.ID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.WrapError("query", "GetComputedStats", shared.ErrNotFound,
				"no computed stats for "+query.ExternalID, err)
		}
		return nil, err
	}

	h.cache.SetIfAbsent(ctx, stats)
	h.logger.Debug("computed stats cache repopulated", logger.UserID(user.ID))
	return &GetComputedStatsResult{User: user, Stats: stats}, nil
}
