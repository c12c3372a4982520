// Package store defines the persistence interface for the ranking engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for finalized results), and in-memory (for testing).
//
// The engine owns daily sales, rankings, pools, payouts, point credits,
// and the transfer outbox. Contribution records belong to the external
// transaction ledger and are read-only behind the Ledger interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/visual/ranking-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrPoolExists is returned when a pool row already exists for a day.
	// The unique constraint on (day) is the authoritative race-breaker
	// between concurrent invocations: the loser sees this error and falls
	// back to "already processed".
	ErrPoolExists = errors.New("store: redistribution pool already exists for day")
)

// Ledger is the read-only view of the external transaction ledger.
type Ledger interface {
	// ContributionsOn returns every contribution whose timestamp falls on
	// the given calendar day, in no particular order.
	ContributionsOn(ctx context.Context, day model.Day) ([]model.ContributionRecord, error)

	// ItemOwners returns the item → owner mapping. Items with no known
	// owner are absent from the map.
	ItemOwners(ctx context.Context) (map[string]string, error)
}

// Tx is the transactional write surface for one engine run. Everything
// written through a Tx commits atomically or not at all.
type Tx interface {
	// MarkContributionApplied records that a contribution has been folded
	// into the daily sales totals. Returns false if it was already
	// applied (replays skip, never double count).
	MarkContributionApplied(ctx context.Context, day model.Day, contributionID string) (bool, error)

	// UpsertDailySales adds the entry's net amount and contribution count
	// to the running (item, day) totals, creating the row if absent.
	UpsertDailySales(ctx context.Context, entry model.DailySalesEntry) error

	// InsertRankings writes the day's ranking rows.
	InsertRankings(ctx context.Context, entries []model.RankingEntry) error

	// CreatePool inserts the day's pool row. Returns ErrPoolExists if a
	// row for the day is already present.
	CreatePool(ctx context.Context, pool *model.RedistributionPool) error

	// UpdatePool persists a pool's state, platform amount, and
	// completion time. Callers validate transitions via PoolState.
	UpdatePool(ctx context.Context, pool *model.RedistributionPool) error

	// InsertTopTierPayouts writes the owner-side payout rows.
	InsertTopTierPayouts(ctx context.Context, payouts []model.TopTierPayout) error

	// InsertWinnerPayouts writes the backer-side payout rows.
	InsertWinnerPayouts(ctx context.Context, payouts []model.WinnerPayout) error

	// CreditPoints appends a point credit. Returns false if a transaction
	// with the same idempotency key already exists.
	CreditPoints(ctx context.Context, pt model.PointsTransaction) (bool, error)

	// MarkTopTierPaid / MarkWinnerPaid flip a payout's paid flag after
	// its point credit succeeds.
	MarkTopTierPaid(ctx context.Context, id string, at time.Time) error
	MarkWinnerPaid(ctx context.Context, id string, at time.Time) error

	// EnqueueTransfer appends a deferred external-transfer request to the
	// outbox.
	EnqueueTransfer(ctx context.Context, req model.TransferRequest) error
}

// Store is the engine's persistence interface.
type Store interface {
	// RunTx executes fn against a transactional view. All writes made
	// through the Tx are committed together iff fn returns nil.
	RunTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Result reads ---

	// GetPool returns the pool row for a day, or ErrNotFound.
	GetPool(ctx context.Context, day model.Day) (*model.RedistributionPool, error)

	// GetRankings returns the day's ranking rows ordered by rank.
	GetRankings(ctx context.Context, day model.Day) ([]model.RankingEntry, error)

	// GetTopTierPayouts returns the day's owner-side payouts by rank.
	GetTopTierPayouts(ctx context.Context, day model.Day) ([]model.TopTierPayout, error)

	// GetWinnerPayouts returns the day's backer-side payouts ordered by
	// (backer, item).
	GetWinnerPayouts(ctx context.Context, day model.Day) ([]model.WinnerPayout, error)

	// ListPools returns the most recent pool rows, newest first.
	ListPools(ctx context.Context, limit int) ([]model.RedistributionPool, error)

	// --- Points ---

	// PointsBalance sums a user's point credits.
	PointsBalance(ctx context.Context, userID string) (int64, error)

	// --- Transfer outbox ---

	// DueTransfers returns scheduled transfers whose hold period has
	// passed and whose next retry (if any) is due.
	DueTransfers(ctx context.Context, now time.Time) ([]model.TransferRequest, error)

	// GetTransfer returns one outbox row by ID, or ErrNotFound.
	GetTransfer(ctx context.Context, id string) (*model.TransferRequest, error)

	// UpdateTransfer persists a transfer row's status fields.
	UpdateTransfer(ctx context.Context, req *model.TransferRequest) error

	// --- Audit ---

	// InsertAudit appends an invocation audit entry. Written outside the
	// run transaction, after commit or abort.
	InsertAudit(ctx context.Context, entry model.AuditEntry) error
}
