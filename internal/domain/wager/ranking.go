package wager

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// RankCandidate is the slice of a computed record the ranking pass needs.
type RankCandidate struct {
	UserID     string
	Final      decimal.Decimal
	ComputedAt time.Time
}

// RankAssignment is the rank of one user for one timeframe. Rank is nil when
// the user's final value is zero.
type RankAssignment struct {
	UserID string
	Rank   *int
}

// AssignRanks orders candidates by final value descending and numbers the
// positive ones 1..k. Ties go to the earlier ComputedAt, then the smaller
// user id, so the result never depends on storage order.
func AssignRanks(candidates []RankCandidate) []RankAssignment {
	sorted := make([]RankCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].Final.Cmp(sorted[j].Final); c != 0 {
			return c > 0
		}
		if !sorted[i].ComputedAt.Equal(sorted[j].ComputedAt) {
			return sorted[i].ComputedAt.Before(sorted[j].ComputedAt)
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	out := make([]RankAssignment, 0, len(sorted))
	next := 1
	for _, c := range sorted {
		if !c.Final.IsPositive() {
			out = append(out, RankAssignment{UserID: c.UserID})
			continue
		}
		rank := next
		next++
		out = append(out, RankAssignment{UserID: c.UserID, Rank: &rank})
	}
	return out
}
