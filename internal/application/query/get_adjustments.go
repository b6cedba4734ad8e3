package query

import (
	"context"
	"strings"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUSTMENT LEDGER QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// SearchAdjustmentsHandler pages through the ledger.
type SearchAdjustmentsHandler struct {
	adjustments wager.AdjustmentRepository
}

// NewSearchAdjustmentsHandler creates a new SearchAdjustmentsHandler.
func NewSearchAdjustmentsHandler(adjustments wager.AdjustmentRepository) *SearchAdjustmentsHandler {
	return &SearchAdjustmentsHandler{adjustments: adjustments}
}

// Handle returns one page of entries matching filter, newest first.
func (h *SearchAdjustmentsHandler) Handle(ctx context.Context, filter wager.AdjustmentFilter) (*wager.AdjustmentPage, error) {
	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	items, total, err := h.adjustments.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return wager.NewAdjustmentPage(items, total, filter), nil
}

// GetUserAdjustmentsQuery selects one user's ledger.
type GetUserAdjustmentsQuery struct {
	ExternalID      string
	IncludeReverted bool
}

// GetUserAdjustmentsResult is a user's ledger, newest first.
type GetUserAdjustmentsResult struct {
	User        *wager.User         `json:"user"`
	Adjustments []*wager.Adjustment `json:"adjustments"`
	Active      int                 `json:"active"`
	Reverted    int                 `json:"reverted"`
}

// GetUserAdjustmentsHandler handles GetUserAdjustmentsQuery.
type GetUserAdjustmentsHandler struct {
	users       wager.UserRepository
	adjustments wager.AdjustmentRepository
}

// NewGetUserAdjustmentsHandler creates a new GetUserAdjustmentsHandler.
func NewGetUserAdjustmentsHandler(users wager.UserRepository, adjustments wager.AdjustmentRepository) *GetUserAdjustmentsHandler {
	return &GetUserAdjustmentsHandler{users: users, adjustments: adjustments}
}

// Handle returns the user's adjustments.
func (h *GetUserAdjustmentsHandler) Handle(ctx context.Context, query GetUserAdjustmentsQuery) (*GetUserAdjustmentsResult, error) {
	externalID := strings.TrimSpace(query.ExternalID)
	if externalID == "" {
		return nil, shared.Validationf("query", "GetUserAdjustments", "external id is required")
	}

	user, err := h.users.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	items, err := h.adjustments.ListByUser(ctx, user.ID, query.IncludeReverted)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*wager.Adjustment{}
	}

	result := &GetUserAdjustmentsResult{User: user, Adjustments: items}
	for _, a := range items {
		if a.IsActive() {
			result.Active++
		} else {
			result.Reverted++
		}
	}
	return result, nil
}

// GetAdjustmentStatisticsHandler aggregates the ledger and account linking.
type GetAdjustmentStatisticsHandler struct {
	users       wager.UserRepository
	adjustments wager.AdjustmentRepository
}

// NewGetAdjustmentStatisticsHandler creates a new GetAdjustmentStatisticsHandler.
func NewGetAdjustmentStatisticsHandler(users wager.UserRepository, adjustments wager.AdjustmentRepository) *GetAdjustmentStatisticsHandler {
	return &GetAdjustmentStatisticsHandler{users: users, adjustments: adjustments}
}

// Handle returns ledger totals with linking statistics attached.
func (h *GetAdjustmentStatisticsHandler) Handle(ctx context.Context) (*wager.AdjustmentStatistics, error) {
	stats, err := h.adjustments.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	linking, err := h.users.LinkingStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.Linking = *linking
	return stats, nil
}
