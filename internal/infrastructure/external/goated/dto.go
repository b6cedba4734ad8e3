package goated

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// ══════════════════════════════════════════════════════════════════════════════
// API RESPONSE WRAPPER
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardResponse is the envelope of GET {apiUrl}?timeframe=&limit=&page=.
// Entries are kept raw so that one malformed entry does not fail the page.
type LeaderboardResponse struct {
	// Success is false when the API reports an error. Absent means success.
	Success *bool `json:"success"`

	// Data holds the leaderboard entries.
	Data []json.RawMessage `json:"data"`

	// Metadata carries the pagination totals.
	Metadata *Metadata `json:"metadata,omitempty"`

	// Error and Message carry the failure reason when Success is false.
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Metadata contains pagination totals. Both camelCase and snake_case are accepted.
type Metadata struct {
	TotalUsers int `json:"totalUsers"`
	TotalPages int `json:"totalPages"`

	TotalUsersAlt int `json:"total_users"`
	TotalPagesAlt int `json:"total_pages"`
}

// Pages returns the page count, defaulting to 1.
func (m *Metadata) Pages() int {
	if m == nil {
		return 1
	}
	if m.TotalPages > 0 {
		return m.TotalPages
	}
	if m.TotalPagesAlt > 0 {
		return m.TotalPagesAlt
	}
	return 1
}

// Users returns the reported user count.
func (m *Metadata) Users() int {
	if m == nil {
		return 0
	}
	if m.TotalUsers > 0 {
		return m.TotalUsers
	}
	return m.TotalUsersAlt
}

// APIErrorDTO is the body of a non-2xx response.
type APIErrorDTO struct {
	// StatusCode is the HTTP status (not part of the body).
	StatusCode int `json:"-"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Error is an alternate message field some deployments use.
	ErrorText string `json:"error"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.ErrorText
	}
	if msg == "" {
		msg = "no message"
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY DTO
// ══════════════════════════════════════════════════════════════════════════════

// EntryDTO is one leaderboard record with every field shape the API is known
// to send. Amounts may be JSON numbers or numeric strings.
type EntryDTO struct {
	// UID is the affiliate player id; "id" is accepted as an alternate.
	UID flexString `json:"uid"`
	ID  flexString `json:"id"`

	// Name is the display name; "username" is accepted as an alternate.
	Name     string `json:"name"`
	Username string `json:"username"`

	// Wagered is the nested shape: {today, this_week, this_month, all_time}.
	Wagered *WageredDTO `json:"wagered"`

	// Flat shape.
	Today     *decimal.Decimal `json:"today"`
	ThisWeek  *decimal.Decimal `json:"this_week"`
	ThisMonth *decimal.Decimal `json:"this_month"`
	AllTime   *decimal.Decimal `json:"all_time"`

	// Legacy flat shape.
	DailyWagered   *decimal.Decimal `json:"daily_wagered"`
	WeeklyWagered  *decimal.Decimal `json:"weekly_wagered"`
	MonthlyWagered *decimal.Decimal `json:"monthly_wagered"`
	AllTimeWagered *decimal.Decimal `json:"all_time_wagered"`

	// Rank is the API's own position; informational only.
	Rank int `json:"rank"`
}

// WageredDTO is the nested wager object.
type WageredDTO struct {
	Today     *decimal.Decimal `json:"today"`
	ThisWeek  *decimal.Decimal `json:"this_week"`
	ThisMonth *decimal.Decimal `json:"this_month"`
	AllTime   *decimal.Decimal `json:"all_time"`
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id %s is not an integer", n)
	}
	*s = flexString(n.String())
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DECODING
// ══════════════════════════════════════════════════════════════════════════════

var (
	errMissingID      = errors.New("entry has no uid")
	errNoAmounts      = errors.New("entry has no wager amounts")
	errNegativeAmount = errors.New("entry has a negative wager amount")
)

// DecodeEntries decodes every raw entry of a page. Entries that fail are
// returned as EntryErrors instead of being zero-filled.
func DecodeEntries(raw []json.RawMessage) ([]wager.FeedEntry, []wager.EntryError) {
	entries := make([]wager.FeedEntry, 0, len(raw))
	var rejected []wager.EntryError

	for i, msg := range raw {
		entry, err := DecodeEntry(msg)
		if err != nil {
			rejected = append(rejected, wager.EntryError{Index: i, ExternalID: entry.ExternalID, Err: err})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rejected
}

// DecodeEntry decodes one entry. On failure the returned entry carries
// whatever id could be read, for error reporting.
func DecodeEntry(msg json.RawMessage) (wager.FeedEntry, error) {
	var dto EntryDTO
	if err := json.Unmarshal(msg, &dto); err != nil {
		return wager.FeedEntry{}, fmt.Errorf("decode entry: %w", err)
	}

	entry := wager.FeedEntry{
		ExternalID: string(firstNonEmpty(dto.UID, dto.ID)),
		Username:   strings.TrimSpace(string(firstNonEmpty(flexString(dto.Name), flexString(dto.Username)))),
		Rank:       dto.Rank,
	}
	if entry.ExternalID == "" {
		return entry, errMissingID
	}

	var nested WageredDTO
	if dto.Wagered != nil {
		nested = *dto.Wagered
	}

	values := map[wager.Timeframe]*decimal.Decimal{
		wager.Daily:   firstAmount(nested.Today, dto.Today, dto.DailyWagered),
		wager.Weekly:  firstAmount(nested.ThisWeek, dto.ThisWeek, dto.WeeklyWagered),
		wager.Monthly: firstAmount(nested.ThisMonth, dto.ThisMonth, dto.MonthlyWagered),
		wager.AllTime: firstAmount(nested.AllTime, dto.AllTime, dto.AllTimeWagered),
	}

	for _, tf := range wager.Timeframes {
		v := values[tf]
		if v == nil {
			continue
		}
		if v.IsNegative() {
			return entry, fmt.Errorf("%w (%s=%s)", errNegativeAmount, tf, v)
		}
		entry.Wagered.Set(tf, *v)
		entry.Reported = append(entry.Reported, tf)
	}
	if len(entry.Reported) == 0 {
		return entry, errNoAmounts
	}
	if entry.Username == "" {
		entry.Username = entry.ExternalID
	}
	return entry, nil
}

func firstAmount(candidates ...*decimal.Decimal) *decimal.Decimal {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstNonEmpty(candidates ...flexString) flexString {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
