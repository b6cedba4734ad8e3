package wager

import (
	"fmt"
	"time"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER
// ══════════════════════════════════════════════════════════════════════════════

// User is the local account a tracked affiliate player belongs to.
// Sync creates placeholder users for external ids nobody has linked yet.
type User struct {
	ID            string     `json:"id"`
	ExternalID    string     `json:"external_id"`
	Username      string     `json:"username"`
	IsPlaceholder bool       `json:"is_placeholder"`
	LinkedAt      *time.Time `json:"linked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// LinkingStats summarizes how many tracked players are linked to real accounts.
type LinkingStats struct {
	TotalUsers           int `json:"total_users"`
	LinkedUsers          int `json:"linked_users"`
	PlaceholderUsers     int `json:"placeholder_users"`
	UsersWithRawStats    int `json:"users_with_raw_stats"`
	UsersWithComputed    int `json:"users_with_computed_stats"`
	UsersWithAdjustments int `json:"users_with_adjustments"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RAW STATS
// ══════════════════════════════════════════════════════════════════════════════

// RawStats are the wagered amounts last reported by the affiliate API.
// Only sync writes them.
type RawStats struct {
	UserID     string    `json:"user_id"`
	ExternalID string    `json:"external_id"`
	Username   string    `json:"username"`
	Wagered    Amounts   `json:"wagered"`
	LastSyncAt time.Time `json:"last_sync_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPUTED STATS
// ══════════════════════════════════════════════════════════════════════════════

// ComputedStats is the materialized merge of raw stats and active adjustments.
// For every timeframe X: Final[X] = max(0, Raw[X] + TotalAdjustment[X]).
type ComputedStats struct {
	UserID          string    `json:"user_id"`
	ExternalID      string    `json:"external_id"`
	Username        string    `json:"username"`
	Raw             Amounts   `json:"raw"`
	TotalAdjustment Amounts   `json:"total_adjustment"`
	Final           Amounts   `json:"final"`
	Ranks           Ranks     `json:"ranks"`
	HasAdjustments  bool      `json:"has_adjustments"`
	AdjustmentCount int       `json:"adjustment_count"`
	ComputedAt      time.Time `json:"computed_at"`
}

// SameValues reports whether two records carry the same amounts,
// ignoring ranks and ComputedAt.
func (c *ComputedStats) SameValues(o *ComputedStats) bool {
	return c.Raw.Equal(o.Raw) &&
		c.TotalAdjustment.Equal(o.TotalAdjustment) &&
		c.Final.Equal(o.Final) &&
		c.HasAdjustments == o.HasAdjustments &&
		c.AdjustmentCount == o.AdjustmentCount
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC LOG
// ══════════════════════════════════════════════════════════════════════════════

// SyncType classifies a sync run.
type SyncType string

const (
	SyncTypeFull         SyncType = "full"
	SyncTypeIncremental  SyncType = "incremental"
	SyncTypeUserSpecific SyncType = "user_specific"
)

// APIStatus is the outcome of a sync run.
type APIStatus string

const (
	APIStatusRunning APIStatus = "running"
	APIStatusSuccess APIStatus = "success"
	APIStatusFailure APIStatus = "failure"
	APIStatusPartial APIStatus = "partial"
)

// SyncLog records one sync run. It is written once at start and once at completion.
type SyncLog struct {
	ID           string        `json:"id"`
	Type         SyncType      `json:"type"`
	Timeframe    Timeframe     `json:"timeframe"`
	ExternalID   string        `json:"external_id,omitempty"`
	Processed    int           `json:"processed"`
	Updated      int           `json:"updated"`
	Added        int           `json:"added"`
	Errors       int           `json:"errors"`
	APIStatus    APIStatus     `json:"api_status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Truncate records that the run stopped before the feed's last page.
func (l *SyncLog) Truncate(fetched, total int) {
	l.ErrorMessage = fmt.Sprintf("page limit reached: fetched %d of %d pages", fetched, total)
}

// Complete stamps completion and derives the status. Entry errors or a
// truncated run make it partial.
func (l *SyncLog) Complete(now time.Time) {
	l.CompletedAt = &now
	l.Duration = now.Sub(l.StartedAt)
	if l.Errors > 0 || l.ErrorMessage != "" {
		l.APIStatus = APIStatusPartial
	} else {
		l.APIStatus = APIStatusSuccess
	}
}

// Err reports a partial run as shared.ErrPartialSync.
func (l *SyncLog) Err() error {
	if l.APIStatus != APIStatusPartial {
		return nil
	}
	msg := fmt.Sprintf("%d of %d entries failed", l.Errors, l.Processed)
	if l.ErrorMessage != "" {
		msg += "; " + l.ErrorMessage
	}
	return shared.NewDomainError("sync", string(l.Type), shared.ErrPartialSync, msg)
}

// Fail stamps completion with failure status.
func (l *SyncLog) Fail(now time.Time, err error) {
	l.CompletedAt = &now
	l.Duration = now.Sub(l.StartedAt)
	l.APIStatus = APIStatusFailure
	if err != nil {
		l.ErrorMessage = err.Error()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FEED (external snapshot)
// ══════════════════════════════════════════════════════════════════════════════

// FeedEntry is one decoded record of the affiliate leaderboard.
type FeedEntry struct {
	ExternalID string
	Username   string
	Wagered    Amounts
	Rank       int

	// Reported lists the timeframes the record carried. Empty means all.
	Reported []Timeframe
}

// MergeInto returns prev with every reported amount replaced by the entry's.
func (e FeedEntry) MergeInto(prev Amounts) Amounts {
	if len(e.Reported) == 0 {
		return e.Wagered
	}
	out := prev
	for _, tf := range e.Reported {
		out.Set(tf, e.Wagered.Get(tf))
	}
	return out
}

// EntryError is an entry of a page that could not be decoded.
type EntryError struct {
	Index      int
	ExternalID string
	Err        error
}

func (e EntryError) Error() string {
	return e.Err.Error()
}

// FeedPage is one page of the affiliate leaderboard.
type FeedPage struct {
	Entries    []FeedEntry
	Rejected   []EntryError
	Page       int
	TotalPages int
	TotalUsers int
}
