package wager

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUSTMENT LEDGER ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// AdjustmentType is how the admin expressed the correction.
type AdjustmentType string

const (
	AdjustmentAdd      AdjustmentType = "add"
	AdjustmentSubtract AdjustmentType = "subtract"
	AdjustmentSet      AdjustmentType = "set"
)

// IsValid reports whether t is a known adjustment type.
func (t AdjustmentType) IsValid() bool {
	return t == AdjustmentAdd || t == AdjustmentSubtract || t == AdjustmentSet
}

// AdjustmentStatus moves one way: active -> reverted.
type AdjustmentStatus string

const (
	StatusActive   AdjustmentStatus = "active"
	StatusReverted AdjustmentStatus = "reverted"
)

// IsValid reports whether s is a known status.
func (s AdjustmentStatus) IsValid() bool {
	return s == StatusActive || s == StatusReverted
}

// MaxReasonLength bounds Reason and revert reasons.
const MaxReasonLength = 500

// Adjustment is an admin-authored correction of one timeframe's wager value.
//
// Delta, Type, Amount, Timeframe and the value snapshots never change after
// creation. Only Status, RevertedAt, RevertedBy and AdminNotes are mutable.
type Adjustment struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	ExternalID string `json:"external_id"`
	AdminID    string `json:"admin_id"`

	Timeframe Timeframe      `json:"applied_to_timeframe"`
	Type      AdjustmentType `json:"adjustment_type"`

	// Amount is the value the admin entered.
	Amount decimal.Decimal `json:"amount"`

	// Delta is signed; only the targeted timeframe is non-zero.
	Delta Amounts `json:"delta"`

	Reason string `json:"reason"`

	// OriginalValue and NewValue snapshot the final value at creation time.
	OriginalValue decimal.Decimal `json:"original_value"`
	NewValue      decimal.Decimal `json:"new_value"`

	Status AdjustmentStatus `json:"status"`

	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	AdminNotes string `json:"admin_notes,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	RevertedAt *time.Time `json:"reverted_at,omitempty"`
	RevertedBy string     `json:"reverted_by,omitempty"`
}

// IsActive reports whether the adjustment still contributes to computed stats.
func (a *Adjustment) IsActive() bool {
	return a.Status == StatusActive
}

// DeltaFor returns the signed delta applied to tf.
func (a *Adjustment) DeltaFor(tf Timeframe) decimal.Decimal {
	return a.Delta.Get(tf)
}

// AuditMeta is request metadata recorded with every ledger write.
type AuditMeta struct {
	IPAddress string
	UserAgent string
	Notes     string
}

// AdjustmentRequest is a validated admin request to correct a user's wager.
type AdjustmentRequest struct {
	ExternalID string
	Timeframe  Timeframe
	Type       AdjustmentType
	Amount     decimal.Decimal
	Reason     string
}

// Validate checks the request shape. It does not look at stored data.
func (r AdjustmentRequest) Validate() error {
	const op = "Validate"
	if strings.TrimSpace(r.ExternalID) == "" {
		return shared.Validationf("adjustment", op, "external id is required")
	}
	if !r.Timeframe.IsValid() {
		return shared.Validationf("adjustment", op, "invalid timeframe %q", r.Timeframe)
	}
	if !r.Type.IsValid() {
		return shared.Validationf("adjustment", op, "invalid adjustment type %q", r.Type)
	}
	switch r.Type {
	case AdjustmentAdd, AdjustmentSubtract:
		if r.Amount.IsZero() {
			return shared.Validationf("adjustment", op, "amount must be non-zero for %s", r.Type)
		}
	case AdjustmentSet:
		if r.Amount.IsNegative() {
			return shared.Validationf("adjustment", op, "set amount cannot be negative")
		}
	}
	reason := strings.TrimSpace(r.Reason)
	if reason == "" {
		return shared.Validationf("adjustment", op, "reason is required")
	}
	if len(reason) > MaxReasonLength {
		return shared.Validationf("adjustment", op, "reason exceeds %d characters", MaxReasonLength)
	}
	return nil
}

// ComputeDelta computes the signed delta of a request against the current final value.
//
//	add:      amount
//	subtract: -|amount|
//	set:      amount - currentFinal
func ComputeDelta(t AdjustmentType, amount, currentFinal decimal.Decimal) decimal.Decimal {
	switch t {
	case AdjustmentAdd:
		return amount
	case AdjustmentSubtract:
		return amount.Abs().Neg()
	case AdjustmentSet:
		return amount.Sub(currentFinal)
	}
	return decimal.Zero
}

// NewAdjustment builds an active ledger entry for user from req.
// currentFinal is the user's final value for req.Timeframe before the adjustment.
func NewAdjustment(user *User, req AdjustmentRequest, currentFinal decimal.Decimal, adminID string, meta AuditMeta, now time.Time) (*Adjustment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(adminID) == "" {
		return nil, shared.Validationf("adjustment", "Create", "admin id is required")
	}

	delta := ComputeDelta(req.Type, req.Amount, currentFinal)

	return &Adjustment{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		ExternalID:    user.ExternalID,
		AdminID:       adminID,
		Timeframe:     req.Timeframe,
		Type:          req.Type,
		Amount:        req.Amount,
		Delta:         Only(req.Timeframe, delta),
		Reason:        strings.TrimSpace(req.Reason),
		OriginalValue: currentFinal,
		NewValue:      ClampZero(currentFinal.Add(delta)),
		Status:        StatusActive,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		AdminNotes:    strings.TrimSpace(meta.Notes),
		CreatedAt:     now.UTC(),
	}, nil
}

// Revert moves the adjustment to reverted and appends reason to AdminNotes.
func (a *Adjustment) Revert(adminID, reason string, now time.Time) error {
	const op = "Revert"
	if !a.IsActive() {
		return shared.NewDomainError("adjustment", op, shared.ErrAlreadyReverted, "adjustment "+a.ID+" is already reverted")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return shared.Validationf("adjustment", op, "revert reason is required")
	}
	if len(reason) > MaxReasonLength {
		return shared.Validationf("adjustment", op, "revert reason exceeds %d characters", MaxReasonLength)
	}
	if strings.TrimSpace(adminID) == "" {
		return shared.Validationf("adjustment", op, "admin id is required")
	}

	at := now.UTC()
	note := "[reverted " + at.Format(time.RFC3339) + " by " + adminID + "] " + reason
	if a.AdminNotes == "" {
		a.AdminNotes = note
	} else {
		a.AdminNotes = a.AdminNotes + "\n" + note
	}
	a.Status = StatusReverted
	a.RevertedAt = &at
	a.RevertedBy = adminID
	return nil
}

// ClampZero returns max(0, v).
func ClampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// SEARCH
// ══════════════════════════════════════════════════════════════════════════════

// AdjustmentFilter selects ledger entries. Zero fields do not filter.
type AdjustmentFilter struct {
	AdminID    string
	ExternalID string
	UserID     string
	Timeframe  Timeframe
	Status     AdjustmentStatus
	Type       AdjustmentType
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize applies paging defaults and validates enum fields.
func (f *AdjustmentFilter) Normalize() error {
	const op = "Search"
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if f.Timeframe != "" && !f.Timeframe.IsValid() {
		return shared.Validationf("adjustment", op, "invalid timeframe %q", f.Timeframe)
	}
	if f.Status != "" && !f.Status.IsValid() {
		return shared.Validationf("adjustment", op, "invalid status %q", f.Status)
	}
	if f.Type != "" && !f.Type.IsValid() {
		return shared.Validationf("adjustment", op, "invalid adjustment type %q", f.Type)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return shared.Validationf("adjustment", op, "date range end is before start")
	}
	return nil
}

// Offset returns the row offset of the page.
func (f AdjustmentFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Matches applies the filter to a single entry. Stores that cannot push the
// filter down use it; the postgres store translates the same rules to SQL.
func (f AdjustmentFilter) Matches(a *Adjustment) bool {
	switch {
	case f.AdminID != "" && a.AdminID != f.AdminID:
		return false
	case f.ExternalID != "" && a.ExternalID != f.ExternalID:
		return false
	case f.UserID != "" && a.UserID != f.UserID:
		return false
	case f.Timeframe != "" && a.Timeframe != f.Timeframe:
		return false
	case f.Status != "" && a.Status != f.Status:
		return false
	case f.Type != "" && a.Type != f.Type:
		return false
	case f.From != nil && a.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && !a.CreatedAt.Before(*f.To):
		return false
	}
	return true
}

// AdjustmentPage is one page of search results.
type AdjustmentPage struct {
	Items      []*Adjustment `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// NewAdjustmentPage fills the paging fields.
func NewAdjustmentPage(items []*Adjustment, total int, f AdjustmentFilter) *AdjustmentPage {
	pages := 0
	if f.PageSize > 0 {
		pages = (total + f.PageSize - 1) / f.PageSize
	}
	if items == nil {
		items = []*Adjustment{}
	}
	return &AdjustmentPage{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize, TotalPages: pages}
}

// AdjustmentStatistics aggregates the ledger.
type AdjustmentStatistics struct {
	Total         int                    `json:"total"`
	Active        int                    `json:"active"`
	Reverted      int                    `json:"reverted"`
	ByType        map[AdjustmentType]int `json:"by_type"`
	ByTimeframe   map[Timeframe]int      `json:"by_timeframe"`
	NetActive     Amounts                `json:"net_active_delta"`
	AdjustedUsers int                    `json:"adjusted_users"`
	Linking       LinkingStats           `json:"linking"`
}
