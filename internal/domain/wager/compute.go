package wager

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET POLICY
// ══════════════════════════════════════════════════════════════════════════════

// SetPolicy decides how a "set" adjustment behaves when raw stats move later.
type SetPolicy string

const (
	// SetFrozenDelta keeps the delta computed at creation time. A later raw
	// change shifts the final value away from the amount the admin entered.
	SetFrozenDelta SetPolicy = "frozen_delta"

	// SetReanchor treats the newest active "set" of a timeframe as an absolute
	// target. Add/subtract adjustments created after it still apply on top;
	// anything older is superseded.
	SetReanchor SetPolicy = "reanchor"
)

// ParseSetPolicy parses a configured policy. Empty means SetFrozenDelta.
func ParseSetPolicy(s string) (SetPolicy, error) {
	switch SetPolicy(s) {
	case "", SetFrozenDelta:
		return SetFrozenDelta, nil
	case SetReanchor:
		return SetReanchor, nil
	}
	return "", fmt.Errorf("unknown set policy %q", s)
}

// ══════════════════════════════════════════════════════════════════════════════
// MERGE
// ══════════════════════════════════════════════════════════════════════════════

// Compute merges raw stats with adjustments into a computed record.
// Reverted adjustments and adjustments of other users are ignored.
// Ranks are left empty; the ranking pass owns them.
func Compute(raw *RawStats, adjustments []*Adjustment, policy SetPolicy, now time.Time) *ComputedStats {
	active := make([]*Adjustment, 0, len(adjustments))
	for _, a := range adjustments {
		if a.IsActive() && a.UserID == raw.UserID {
			active = append(active, a)
		}
	}

	c := &ComputedStats{
		UserID:          raw.UserID,
		ExternalID:      raw.ExternalID,
		Username:        raw.Username,
		Raw:             raw.Wagered,
		HasAdjustments:  len(active) > 0,
		AdjustmentCount: len(active),
		ComputedAt:      now.UTC(),
	}

	for _, tf := range Timeframes {
		total := totalAdjustment(tf, raw.Wagered.Get(tf), active, policy)
		c.TotalAdjustment.Set(tf, total)
		c.Final.Set(tf, ClampZero(raw.Wagered.Get(tf).Add(total)))
	}
	return c
}

func totalAdjustment(tf Timeframe, raw decimal.Decimal, active []*Adjustment, policy SetPolicy) decimal.Decimal {
	targeting := make([]*Adjustment, 0, len(active))
	for _, a := range active {
		if a.Timeframe == tf {
			targeting = append(targeting, a)
		}
	}

	if policy == SetReanchor {
		sortByCreation(targeting)
		for i := len(targeting) - 1; i >= 0; i-- {
			if targeting[i].Type != AdjustmentSet {
				continue
			}
			total := targeting[i].Amount.Sub(raw)
			for _, later := range targeting[i+1:] {
				total = total.Add(later.DeltaFor(tf))
			}
			return total
		}
	}

	total := decimal.Zero
	for _, a := range targeting {
		total = total.Add(a.DeltaFor(tf))
	}
	return total
}

func sortByCreation(adjs []*Adjustment) {
	sort.SliceStable(adjs, func(i, j int) bool {
		if !adjs[i].CreatedAt.Equal(adjs[j].CreatedAt) {
			return adjs[i].CreatedAt.Before(adjs[j].CreatedAt)
		}
		return adjs[i].ID < adjs[j].ID
	})
}
