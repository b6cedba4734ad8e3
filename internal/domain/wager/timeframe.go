// Package wager contains the domain model of the wager engine: raw stats as
// reported by the affiliate API, the admin adjustment ledger, the computed
// stats that merge both, and the rankings derived from computed stats.
//
// Everything in this package is pure: no I/O, no clocks except those passed in.
package wager

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIMEFRAME
// ══════════════════════════════════════════════════════════════════════════════

// Timeframe is a wager-accumulation bucket.
type Timeframe string

const (
	Daily   Timeframe = "daily"
	Weekly  Timeframe = "weekly"
	Monthly Timeframe = "monthly"
	AllTime Timeframe = "all_time"
)

// Timeframes lists every timeframe in a stable order.
var Timeframes = []Timeframe{Daily, Weekly, Monthly, AllTime}

// IsValid reports whether tf is one of the known timeframes.
func (tf Timeframe) IsValid() bool {
	switch tf {
	case Daily, Weekly, Monthly, AllTime:
		return true
	}
	return false
}

func (tf Timeframe) String() string {
	return string(tf)
}

// ParseTimeframe accepts the canonical names plus the camelCase "allTime".
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	case "all_time", "alltime", "all-time":
		return AllTime, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-TIMEFRAME VALUES
// ══════════════════════════════════════════════════════════════════════════════

// Amounts holds one decimal value per timeframe.
type Amounts struct {
	Daily   decimal.Decimal `json:"daily"`
	Weekly  decimal.Decimal `json:"weekly"`
	Monthly decimal.Decimal `json:"monthly"`
	AllTime decimal.Decimal `json:"all_time"`
}

// Get returns the value for tf.
func (a Amounts) Get(tf Timeframe) decimal.Decimal {
	switch tf {
	case Daily:
		return a.Daily
	case Weekly:
		return a.Weekly
	case Monthly:
		return a.Monthly
	case AllTime:
		return a.AllTime
	}
	return decimal.Zero
}

// Set sets the value for tf. Unknown timeframes are ignored.
func (a *Amounts) Set(tf Timeframe, v decimal.Decimal) {
	switch tf {
	case Daily:
		a.Daily = v
	case Weekly:
		a.Weekly = v
	case Monthly:
		a.Monthly = v
	case AllTime:
		a.AllTime = v
	}
}

// Only returns Amounts where only tf carries v.
func Only(tf Timeframe, v decimal.Decimal) Amounts {
	var a Amounts
	a.Set(tf, v)
	return a
}

// HasNegative reports whether any value is below zero.
func (a Amounts) HasNegative() bool {
	for _, tf := range Timeframes {
		if a.Get(tf).IsNegative() {
			return true
		}
	}
	return false
}

// Equal compares all four values numerically.
func (a Amounts) Equal(b Amounts) bool {
	for _, tf := range Timeframes {
		if !a.Get(tf).Equal(b.Get(tf)) {
			return false
		}
	}
	return true
}

// Ranks holds one nullable rank per timeframe.
type Ranks struct {
	Daily   *int `json:"daily"`
	Weekly  *int `json:"weekly"`
	Monthly *int `json:"monthly"`
	AllTime *int `json:"all_time"`
}

// Get returns the rank for tf, nil when unranked.
func (r Ranks) Get(tf Timeframe) *int {
	switch tf {
	case Daily:
		return r.Daily
	case Weekly:
		return r.Weekly
	case Monthly:
		return r.Monthly
	case AllTime:
		return r.AllTime
	}
	return nil
}

// Set sets the rank for tf.
func (r *Ranks) Set(tf Timeframe, rank *int) {
	switch tf {
	case Daily:
		r.Daily = rank
	case Weekly:
		r.Weekly = rank
	case Monthly:
		r.Monthly = rank
	case AllTime:
		r.AllTime = rank
	}
}
