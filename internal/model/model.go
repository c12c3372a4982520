// Package model defines the core domain types shared across the ranking
// engine. All monetary values are int64 minor units (euro cents) — never
// float64 for money. Decimal is used only to render cents as EUR strings
// at the API boundary.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Day is a calendar date in UTC, formatted 2006-01-02. It is the partition
// key for all daily records: sales, rankings, pools, and payouts.
type Day string

// DayLayout is the canonical Day format.
const DayLayout = "2006-01-02"

// DayOf truncates a timestamp to its UTC calendar date.
func DayOf(t time.Time) Day {
	return Day(t.UTC().Format(DayLayout))
}

// ParseDay parses a 2006-01-02 string into a Day.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return "", fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// Time returns the Day as midnight UTC.
func (d Day) Time() time.Time {
	t, _ := time.Parse(DayLayout, string(d))
	return t
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	return DayOf(d.Time().AddDate(0, 0, 1))
}

// ContributionRecord is a single backer purchase of a content item, read
// from the external transaction ledger. Immutable once created; the engine
// never writes these.
type ContributionRecord struct {
	ID         string    `json:"id"`
	BackerID   string    `json:"backer_id"`
	ItemID     string    `json:"item_id"`
	GrossCents int64     `json:"gross_cents"`
	At         time.Time `json:"at"`
}

// DailySalesEntry is the per-item net-sales total for one day, folded
// incrementally from contributions. Unique on (item, day); mutable only by
// increment.
type DailySalesEntry struct {
	ItemID            string `json:"item_id"`
	Day               Day    `json:"day"`
	NetCents          int64  `json:"net_cents"`
	ContributionCount int    `json:"contribution_count"`
}

// RankingEntry is one item's position in a day's ranking. Ranks are dense,
// contiguous from 1, ties broken by ascending item ID. Immutable after
// creation.
type RankingEntry struct {
	Day               Day    `json:"day"`
	ItemID            string `json:"item_id"`
	Rank              int    `json:"rank"`
	NetCents          int64  `json:"net_cents"`
	ContributionCount int    `json:"contribution_count"`
}

// PoolState is the redistribution pool lifecycle. Transitions move forward
// only; Distributed and Aborted are terminal.
type PoolState string

const (
	PoolCalculated   PoolState = "calculated"
	PoolDistributing PoolState = "distributing"
	PoolDistributed  PoolState = "distributed"
	PoolAborted      PoolState = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s PoolState) Terminal() bool {
	return s == PoolDistributed || s == PoolAborted
}

// CanAdvance reports whether the transition s → to is legal.
func (s PoolState) CanAdvance(to PoolState) bool {
	switch s {
	case PoolCalculated:
		return to == PoolDistributing || to == PoolAborted
	case PoolDistributing:
		return to == PoolDistributed || to == PoolAborted
	default:
		return false
	}
}

// RedistributionPool is the one-per-day pool record. TotalPoolCents is the
// sum of gross contributions to contributor-band items; PlatformCents is
// the portion parked as platform revenue when no recipients exist.
type RedistributionPool struct {
	ID                  string     `json:"id"`
	Day                 Day        `json:"day"`
	TotalPoolCents      int64      `json:"total_pool_cents"`
	PlatformCents       int64      `json:"platform_cents"`
	ItemCountConsidered int        `json:"item_count_considered"`
	State               PoolState  `json:"state"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// PayoutRole distinguishes the two recipient groups in idempotency keys
// and transfer references.
type PayoutRole string

const (
	RoleOwner  PayoutRole = "owner"
	RoleWinner PayoutRole = "winner"
)

// TopTierPayout is one top-tier item's share of the pool, credited to the
// item's owner. Unique on (day, item).
type TopTierPayout struct {
	ID         string     `json:"id"`
	Day        Day        `json:"day"`
	ItemID     string     `json:"item_id"`
	OwnerID    string     `json:"owner_id"`
	Rank       int        `json:"rank"`
	ShareCents int64      `json:"share_cents"`
	Paid       bool       `json:"paid"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
}

// WinnerPayout is one qualifying (backer, item) pair's share of the pool.
// A backer of two top-tier items gets two rows, each tied to its own item
// and rank. Unique on (day, backer, item).
type WinnerPayout struct {
	ID                string     `json:"id"`
	Day               Day        `json:"day"`
	BackerID          string     `json:"backer_id"`
	ItemID            string     `json:"item_id"`
	Rank              int        `json:"rank"`
	ContributionCents int64      `json:"contribution_cents"`
	ShareCents        int64      `json:"share_cents"`
	Paid              bool       `json:"paid"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

// PointsTransaction is one credit to a recipient's internal point balance.
// 1 point == 1 cent. Unique on the idempotency key, which makes replays
// no-ops.
type PointsTransaction struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Amount         int64     `json:"amount"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// TransferStatus is the deferred external-transfer lifecycle.
type TransferStatus string

const (
	TransferScheduled TransferStatus = "scheduled"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
	TransferCancelled TransferStatus = "cancelled"
)

// TransferRequest is an outbox row for a deferred external money transfer.
// Appended in the same transaction as the point credit; consumed later by
// the transfer worker once HoldUntil has passed.
type TransferRequest struct {
	ID             string         `json:"id"`
	RecipientID    string         `json:"recipient_id"`
	AmountCents    int64          `json:"amount_cents"`
	Reason         string         `json:"reason"`
	Role           PayoutRole     `json:"role"`
	IdempotencyKey string         `json:"idempotency_key"`
	HoldUntil      time.Time      `json:"hold_until"`
	Status         TransferStatus `json:"status"`
	ExternalID     string         `json:"external_id,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	RetryCount     int            `json:"retry_count"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AuditEntry records one engine invocation: parameters, dry-run flag, and
// the outcome summary.
type AuditEntry struct {
	ID           string    `json:"id"`
	Day          Day       `json:"day"`
	DryRun       bool      `json:"dry_run"`
	Outcome      string    `json:"outcome"` // "distributed", "already_processed", "aborted"
	PoolCents    int64     `json:"pool_cents"`
	TopTierCount int       `json:"top_tier_count"`
	WinnerCount  int       `json:"winner_count"`
	SkippedCount int       `json:"skipped_count"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// RunResult is what a ranking run returns to callers: either the freshly
// computed outcome or, on re-invocation, the stored one.
type RunResult struct {
	Day                 Day             `json:"day"`
	DryRun              bool            `json:"dry_run"`
	AlreadyProcessed    bool            `json:"already_processed"`
	State               PoolState       `json:"state"`
	PoolCents           int64           `json:"pool_cents"`
	PlatformCents       int64           `json:"platform_cents"`
	ItemCountConsidered int             `json:"item_count_considered"`
	Rankings            []RankingEntry  `json:"rankings"`
	TopTier             []TopTierPayout `json:"top_tier"`
	Winners             []WinnerPayout  `json:"winners"`
	Skipped             []string        `json:"skipped,omitempty"` // recoverable per-record errors
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// EURString renders a cent amount as a fixed two-decimal EUR string.
func EURString(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
