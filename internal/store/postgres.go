package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visual/ranking-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary columns are BIGINT cents; the run transaction maps directly
// onto a database transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the engine-owned tables if they do not exist. The
// unique constraints here are load-bearing: pools(day) breaks same-day
// races, points(idempotency_key) makes credits replay-safe, and
// sales_applied(day, contribution_id) prevents double counting.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS sales_applied (
		day             TEXT NOT NULL,
		contribution_id TEXT NOT NULL,
		PRIMARY KEY (day, contribution_id)
	);
	CREATE TABLE IF NOT EXISTS daily_sales (
		item_id            TEXT   NOT NULL,
		day                TEXT   NOT NULL,
		net_cents          BIGINT NOT NULL DEFAULT 0,
		contribution_count INT    NOT NULL DEFAULT 0,
		PRIMARY KEY (item_id, day)
	);
	CREATE TABLE IF NOT EXISTS rankings (
		day                TEXT   NOT NULL,
		item_id            TEXT   NOT NULL,
		rank               INT    NOT NULL,
		net_cents          BIGINT NOT NULL,
		contribution_count INT    NOT NULL,
		PRIMARY KEY (day, item_id),
		UNIQUE (day, rank)
	);
	CREATE TABLE IF NOT EXISTS redistribution_pools (
		id                    TEXT PRIMARY KEY,
		day                   TEXT NOT NULL UNIQUE,
		total_pool_cents      BIGINT NOT NULL,
		platform_cents        BIGINT NOT NULL DEFAULT 0,
		item_count_considered INT NOT NULL,
		state                 TEXT NOT NULL,
		completed_at          TIMESTAMPTZ,
		created_at            TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS top_tier_payouts (
		id          TEXT PRIMARY KEY,
		day         TEXT NOT NULL,
		item_id     TEXT NOT NULL,
		owner_id    TEXT NOT NULL,
		rank        INT NOT NULL,
		share_cents BIGINT NOT NULL,
		paid        BOOLEAN NOT NULL DEFAULT FALSE,
		paid_at     TIMESTAMPTZ,
		UNIQUE (day, item_id)
	);
	CREATE TABLE IF NOT EXISTS winner_payouts (
		id                 TEXT PRIMARY KEY,
		day                TEXT NOT NULL,
		backer_id          TEXT NOT NULL,
		item_id            TEXT NOT NULL,
		rank               INT NOT NULL,
		contribution_cents BIGINT NOT NULL,
		share_cents        BIGINT NOT NULL,
		paid               BOOLEAN NOT NULL DEFAULT FALSE,
		paid_at            TIMESTAMPTZ,
		UNIQUE (day, backer_id, item_id)
	);
	CREATE TABLE IF NOT EXISTS points_transactions (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		amount          BIGINT NOT NULL,
		reason          TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at      TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_points_user ON points_transactions (user_id);
	CREATE TABLE IF NOT EXISTS transfer_requests (
		id              TEXT PRIMARY KEY,
		recipient_id    TEXT NOT NULL,
		amount_cents    BIGINT NOT NULL,
		reason          TEXT NOT NULL,
		role            TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		hold_until      TIMESTAMPTZ NOT NULL,
		status          TEXT NOT NULL,
		external_id     TEXT,
		failure_reason  TEXT,
		retry_count     INT NOT NULL DEFAULT 0,
		next_retry_at   TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transfers_due ON transfer_requests (status, hold_until);
	CREATE TABLE IF NOT EXISTS audit_log (
		id             TEXT PRIMARY KEY,
		day            TEXT NOT NULL,
		dry_run        BOOLEAN NOT NULL,
		outcome        TEXT NOT NULL,
		pool_cents     BIGINT NOT NULL,
		top_tier_count INT NOT NULL,
		winner_count   INT NOT NULL,
		skipped_count  INT NOT NULL,
		error_detail   TEXT,
		recorded_at    TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// RunTx wraps fn in a database transaction.
func (s *PostgresStore) RunTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPool(ctx context.Context, day model.Day) (*model.RedistributionPool, error) {
	return scanPool(s.pool.QueryRow(ctx,
		`SELECT id, day, total_pool_cents, platform_cents, item_count_considered, state, completed_at, created_at
		 FROM redistribution_pools WHERE day = $1`, string(day)))
}

func (s *PostgresStore) GetRankings(ctx context.Context, day model.Day) ([]model.RankingEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT day, item_id, rank, net_cents, contribution_count
		 FROM rankings WHERE day = $1 ORDER BY rank`, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.RankingEntry
	for rows.Next() {
		var e model.RankingEntry
		if err := rows.Scan(&e.Day, &e.ItemID, &e.Rank, &e.NetCents, &e.ContributionCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetTopTierPayouts(ctx context.Context, day model.Day) ([]model.TopTierPayout, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, day, item_id, owner_id, rank, share_cents, paid, paid_at
		 FROM top_tier_payouts WHERE day = $1 ORDER BY rank`, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []model.TopTierPayout
	for rows.Next() {
		var p model.TopTierPayout
		if err := rows.Scan(&p.ID, &p.Day, &p.ItemID, &p.OwnerID, &p.Rank,
			&p.ShareCents, &p.Paid, &p.PaidAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func (s *PostgresStore) GetWinnerPayouts(ctx context.Context, day model.Day) ([]model.WinnerPayout, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, day, backer_id, item_id, rank, contribution_cents, share_cents, paid, paid_at
		 FROM winner_payouts WHERE day = $1 ORDER BY backer_id, item_id`, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []model.WinnerPayout
	for rows.Next() {
		var p model.WinnerPayout
		if err := rows.Scan(&p.ID, &p.Day, &p.BackerID, &p.ItemID, &p.Rank,
			&p.ContributionCents, &p.ShareCents, &p.Paid, &p.PaidAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func (s *PostgresStore) ListPools(ctx context.Context, limit int) ([]model.RedistributionPool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, day, total_pool_cents, platform_cents, item_count_considered, state, completed_at, created_at
		 FROM redistribution_pools ORDER BY day DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.RedistributionPool
	for rows.Next() {
		var p model.RedistributionPool
		if err := rows.Scan(&p.ID, &p.Day, &p.TotalPoolCents, &p.PlatformCents,
			&p.ItemCountConsidered, &p.State, &p.CompletedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) PointsBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM points_transactions WHERE user_id = $1`,
		userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("points balance %s: %w", userID, err)
	}
	return balance, nil
}

func (s *PostgresStore) DueTransfers(ctx context.Context, now time.Time) ([]model.TransferRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, recipient_id, amount_cents, reason, role, idempotency_key,
		        hold_until, status, COALESCE(external_id, ''), COALESCE(failure_reason, ''),
		        retry_count, next_retry_at, created_at
		 FROM transfer_requests
		 WHERE hold_until <= $1
		   AND (status = 'scheduled'
		        OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1))
		 ORDER BY created_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.TransferRequest
	for rows.Next() {
		var r model.TransferRequest
		if err := rows.Scan(&r.ID, &r.RecipientID, &r.AmountCents, &r.Reason, &r.Role,
			&r.IdempotencyKey, &r.HoldUntil, &r.Status, &r.ExternalID, &r.FailureReason,
			&r.RetryCount, &r.NextRetryAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (s *PostgresStore) GetTransfer(ctx context.Context, id string) (*model.TransferRequest, error) {
	var r model.TransferRequest
	err := s.pool.QueryRow(ctx,
		`SELECT id, recipient_id, amount_cents, reason, role, idempotency_key,
		        hold_until, status, COALESCE(external_id, ''), COALESCE(failure_reason, ''),
		        retry_count, next_retry_at, created_at
		 FROM transfer_requests WHERE id = $1`, id).
		Scan(&r.ID, &r.RecipientID, &r.AmountCents, &r.Reason, &r.Role,
			&r.IdempotencyKey, &r.HoldUntil, &r.Status, &r.ExternalID, &r.FailureReason,
			&r.RetryCount, &r.NextRetryAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer %s: %w", id, err)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateTransfer(ctx context.Context, req *model.TransferRequest) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transfer_requests
		 SET status = $2, external_id = $3, failure_reason = $4,
		     retry_count = $5, next_retry_at = $6
		 WHERE id = $1`,
		req.ID, req.Status, req.ExternalID, req.FailureReason,
		req.RetryCount, req.NextRetryAt)
	if err != nil {
		return fmt.Errorf("update transfer %s: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, day, dry_run, outcome, pool_cents, top_tier_count,
		                        winner_count, skipped_count, error_detail, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Day, entry.DryRun, entry.Outcome, entry.PoolCents,
		entry.TopTierCount, entry.WinnerCount, entry.SkippedCount,
		entry.ErrorDetail, entry.RecordedAt)
	return err
}

// --- Transactional writes ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) MarkContributionApplied(ctx context.Context, day model.Day, contributionID string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO sales_applied (day, contribution_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, string(day), contributionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpsertDailySales(ctx context.Context, entry model.DailySalesEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO daily_sales (item_id, day, net_cents, contribution_count)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (item_id, day) DO UPDATE
		 SET net_cents = daily_sales.net_cents + EXCLUDED.net_cents,
		     contribution_count = daily_sales.contribution_count + EXCLUDED.contribution_count`,
		entry.ItemID, entry.Day, entry.NetCents, entry.ContributionCount)
	return err
}

func (t *pgTx) InsertRankings(ctx context.Context, entries []model.RankingEntry) error {
	for _, e := range entries {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO rankings (day, item_id, rank, net_cents, contribution_count)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.Day, e.ItemID, e.Rank, e.NetCents, e.ContributionCount); err != nil {
			return fmt.Errorf("insert ranking %s rank %d: %w", e.ItemID, e.Rank, err)
		}
	}
	return nil
}

func (t *pgTx) CreatePool(ctx context.Context, pool *model.RedistributionPool) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO redistribution_pools
		 (id, day, total_pool_cents, platform_cents, item_count_considered, state, completed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pool.ID, pool.Day, pool.TotalPoolCents, pool.PlatformCents,
		pool.ItemCountConsidered, pool.State, pool.CompletedAt, pool.CreatedAt)
	if isUniqueViolation(err) {
		return ErrPoolExists
	}
	return err
}

func (t *pgTx) UpdatePool(ctx context.Context, pool *model.RedistributionPool) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE redistribution_pools
		 SET state = $2, platform_cents = $3, completed_at = $4
		 WHERE day = $1`,
		pool.Day, pool.State, pool.PlatformCents, pool.CompletedAt)
	if err != nil {
		return fmt.Errorf("update pool %s: %w", pool.Day, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertTopTierPayouts(ctx context.Context, payouts []model.TopTierPayout) error {
	for _, p := range payouts {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO top_tier_payouts (id, day, item_id, owner_id, rank, share_cents, paid, paid_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.Day, p.ItemID, p.OwnerID, p.Rank, p.ShareCents, p.Paid, p.PaidAt); err != nil {
			return fmt.Errorf("insert top-tier payout %s: %w", p.ItemID, err)
		}
	}
	return nil
}

func (t *pgTx) InsertWinnerPayouts(ctx context.Context, payouts []model.WinnerPayout) error {
	for _, p := range payouts {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO winner_payouts
			 (id, day, backer_id, item_id, rank, contribution_cents, share_cents, paid, paid_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, p.Day, p.BackerID, p.ItemID, p.Rank,
			p.ContributionCents, p.ShareCents, p.Paid, p.PaidAt); err != nil {
			return fmt.Errorf("insert winner payout %s/%s: %w", p.BackerID, p.ItemID, err)
		}
	}
	return nil
}

func (t *pgTx) CreditPoints(ctx context.Context, pt model.PointsTransaction) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO points_transactions (id, user_id, amount, reason, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		pt.ID, pt.UserID, pt.Amount, pt.Reason, pt.IdempotencyKey, pt.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) MarkTopTierPaid(ctx context.Context, id string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE top_tier_payouts SET paid = TRUE, paid_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) MarkWinnerPaid(ctx context.Context, id string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE winner_payouts SET paid = TRUE, paid_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) EnqueueTransfer(ctx context.Context, req model.TransferRequest) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transfer_requests
		 (id, recipient_id, amount_cents, reason, role, idempotency_key,
		  hold_until, status, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.RecipientID, req.AmountCents, req.Reason, req.Role,
		req.IdempotencyKey, req.HoldUntil, req.Status, req.RetryCount, req.CreatedAt)
	return err
}

// --- Result scanning helpers ---

func scanPool(row pgx.Row) (*model.RedistributionPool, error) {
	var p model.RedistributionPool
	err := row.Scan(&p.ID, &p.Day, &p.TotalPoolCents, &p.PlatformCents,
		&p.ItemCountConsidered, &p.State, &p.CompletedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pool: %w", err)
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- PostgreSQL contribution ledger ---

// PostgresLedger reads contribution records and item ownership from the
// platform's transaction tables. Read-only: the engine never writes here.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a ledger reader on the given pool.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) ContributionsOn(ctx context.Context, day model.Day) ([]model.ContributionRecord, error) {
	start := day.Time()
	end := day.Next().Time()

	rows, err := l.pool.Query(ctx,
		`SELECT id, backer_id, item_id, gross_cents, at
		 FROM contributions WHERE at >= $1 AND at < $2 ORDER BY at`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.ContributionRecord
	for rows.Next() {
		var r model.ContributionRecord
		if err := rows.Scan(&r.ID, &r.BackerID, &r.ItemID, &r.GrossCents, &r.At); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (l *PostgresLedger) ItemOwners(ctx context.Context) (map[string]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, owner_id FROM items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := make(map[string]string)
	for rows.Next() {
		var id, owner string
		if err := rows.Scan(&id, &owner); err != nil {
			return nil, err
		}
		owners[id] = owner
	}
	return owners, rows.Err()
}
