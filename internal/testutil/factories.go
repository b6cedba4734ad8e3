package testutil

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// BaseTime is the clock origin used by tests.
var BaseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock creates a clock at BaseTime.
func NewClock() *Clock {
	return &Clock{t: BaseTime}
}

// Now returns the current time and advances the clock by one second, so
// consecutive records never share a timestamp.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(time.Second)
	return t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// D parses a decimal literal.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// CreateTestUser creates a linked user.
func CreateTestUser(id, externalID string) *wager.User {
	linked := BaseTime
	return &wager.User{
		ID:         id,
		ExternalID: externalID,
		Username:   "player-" + externalID,
		LinkedAt:   &linked,
		CreatedAt:  BaseTime,
	}
}

// CreateTestRaw creates raw stats for user.
func CreateTestRaw(user *wager.User, amounts wager.Amounts) *wager.RawStats {
	return &wager.RawStats{
		UserID:     user.ID,
		ExternalID: user.ExternalID,
		Username:   user.Username,
		Wagered:    amounts,
		LastSyncAt: BaseTime,
	}
}

// CreateTestEntry creates a feed entry reporting every timeframe.
func CreateTestEntry(externalID string, daily, weekly, monthly, allTime string) wager.FeedEntry {
	return wager.FeedEntry{
		ExternalID: externalID,
		Username:   "player-" + externalID,
		Wagered: wager.Amounts{
			Daily:   D(daily),
			Weekly:  D(weekly),
			Monthly: D(monthly),
			AllTime: D(allTime),
		},
		Reported: wager.Timeframes,
	}
}

// SeedUser stores a linked user with raw stats and returns it.
func SeedUser(s *Store, id, externalID string, amounts wager.Amounts) *wager.User {
	u := CreateTestUser(id, externalID)
	s.PutUser(u)
	s.PutRaw(CreateTestRaw(u, amounts))
	return u
}
