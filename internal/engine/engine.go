// Package engine implements the daily ranking and redistribution run:
// fold a day's contributions into net sales, rank items, size the pool
// from the contributor band, select the two recipient groups, distribute
// the pool to the cent, credit points, and queue deferred transfers.
//
// One run is one atomic store transaction. Either every derived record
// for the day commits together or nothing does; the unique pool-per-day
// constraint makes re-invocation (and same-day races) collapse into
// "already processed". All money is int64 cents.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/visual/ranking-engine/internal/config"
	"github.com/visual/ranking-engine/internal/metrics"
	"github.com/visual/ranking-engine/internal/model"
	"github.com/visual/ranking-engine/internal/store"
)

// Notifier receives a callback when a run finalizes. Optional; used to
// broadcast run summaries to connected dashboards.
type Notifier interface {
	RunFinalized(res *model.RunResult)
}

// Engine orchestrates daily ranking runs. Collaborators are injected;
// the engine holds no ambient state and owns no lifecycle.
type Engine struct {
	cfg      config.Engine
	ledger   store.Ledger
	store    store.Store
	notifier Notifier
	clock    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the run-finalized notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the time source. Test seam.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New creates an Engine with the given configuration and collaborators.
func New(cfg config.Engine, ledger store.Ledger, st store.Store, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, ledger: ledger, store: st}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// plan is the fully computed outcome of a run before anything is
// persisted. Dry-run returns it directly; a real run persists it in one
// transaction.
type plan struct {
	day       model.Day
	deltas    []contribDelta
	rankings  []model.RankingEntry
	poolCents int64
	platform  int64
	topTier   []model.TopTierPayout
	winners   []model.WinnerPayout
	skipped   []string
}

// Run executes the daily ranking for one day. Idempotent: a day already
// in a terminal state returns the stored result unchanged. With dryRun
// set, every computation happens identically but nothing is persisted and
// no transfer is queued.
func (e *Engine) Run(ctx context.Context, day model.Day, dryRun bool) (*model.RunResult, error) {
	start := e.now()

	// Split ratios are validated before any computation: a malformed
	// split must never move money.
	if err := e.cfg.Validate(); err != nil {
		e.audit(ctx, day, dryRun, "aborted", nil, err)
		metrics.RunsTotal.WithLabelValues("config_error", dryRunLabel(dryRun)).Inc()
		return nil, err
	}

	// Idempotency guard.
	if pool, err := e.store.GetPool(ctx, day); err == nil {
		if !pool.State.Terminal() {
			return nil, fmt.Errorf("%w: %s is %s", ErrRunInProgress, day, pool.State)
		}
		res, err := e.loadResult(ctx, day, pool)
		if err != nil {
			return nil, err
		}
		res.AlreadyProcessed = true
		res.DryRun = dryRun
		e.audit(ctx, day, dryRun, "already_processed", res, nil)
		metrics.RunsTotal.WithLabelValues("already_processed", dryRunLabel(dryRun)).Inc()
		return res, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("guard check %s: %w", day, err)
	}

	p, err := e.compute(ctx, day)
	if err != nil {
		e.audit(ctx, day, dryRun, "aborted", nil, err)
		metrics.RunsTotal.WithLabelValues("aborted", dryRunLabel(dryRun)).Inc()
		return nil, err
	}

	if dryRun {
		res := p.result(true)
		e.audit(ctx, day, true, "distributed", res, nil)
		metrics.RunsTotal.WithLabelValues("distributed", "true").Inc()
		metrics.RunDuration.Observe(e.now().Sub(start).Seconds())
		return res, nil
	}

	err = e.store.RunTx(ctx, func(tx store.Tx) error {
		return e.persist(ctx, tx, p)
	})
	if errors.Is(err, store.ErrPoolExists) {
		// Lost the same-day race past the guard. The transaction rolled
		// back; the winner's result is authoritative.
		pool, gerr := e.store.GetPool(ctx, day)
		if gerr != nil {
			return nil, fmt.Errorf("race fallback %s: %w", day, gerr)
		}
		res, lerr := e.loadResult(ctx, day, pool)
		if lerr != nil {
			return nil, lerr
		}
		res.AlreadyProcessed = true
		e.audit(ctx, day, false, "already_processed", res, nil)
		metrics.RunsTotal.WithLabelValues("already_processed", "false").Inc()
		return res, nil
	}
	if err != nil {
		e.audit(ctx, day, false, "aborted", nil, err)
		metrics.RunsTotal.WithLabelValues("aborted", "false").Inc()
		return nil, err
	}

	res := p.result(false)
	e.audit(ctx, day, false, "distributed", res, nil)
	metrics.RunsTotal.WithLabelValues("distributed", "false").Inc()
	metrics.RunDuration.Observe(e.now().Sub(start).Seconds())
	metrics.DistributedCents.Add(float64(p.poolCents - p.platform))

	slog.Info("daily ranking distributed",
		"day", day,
		"pool_cents", p.poolCents,
		"platform_cents", p.platform,
		"top_tier", len(p.topTier),
		"winners", len(p.winners),
		"skipped", len(p.skipped),
	)

	if e.notifier != nil {
		e.notifier.RunFinalized(res)
	}
	return res, nil
}

// compute is the pure phase: reads the ledger, runs every component, and
// verifies the distribution invariant. No writes.
func (e *Engine) compute(ctx context.Context, day model.Day) (*plan, error) {
	contribs, err := e.ledger.ContributionsOn(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("read contributions %s: %w", day, err)
	}
	owners, err := e.ledger.ItemOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("read item owners: %w", err)
	}

	totals, deltas, valid, skipped := e.aggregate(day, contribs)
	rankings := e.rank(day, totals)
	poolCents := e.poolAmount(rankings, valid)
	topTier, tierSkipped := e.registerTopTier(day, rankings, owners)
	skipped = append(skipped, tierSkipped...)
	winners := e.selectWinners(day, rankings, valid)

	platform, err := e.distribute(poolCents, topTier, winners)
	if err != nil {
		return nil, err
	}

	return &plan{
		day:       day,
		deltas:    deltas,
		rankings:  rankings,
		poolCents: poolCents,
		platform:  platform,
		topTier:   topTier,
		winners:   winners,
		skipped:   skipped,
	}, nil
}

// GetRankingResult returns the stored result for a day, or
// store.ErrNotFound.
func (e *Engine) GetRankingResult(ctx context.Context, day model.Day) (*model.RunResult, error) {
	pool, err := e.store.GetPool(ctx, day)
	if err != nil {
		return nil, err
	}
	return e.loadResult(ctx, day, pool)
}

// History returns the most recent finalized results, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]*model.RunResult, error) {
	pools, err := e.store.ListPools(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]*model.RunResult, 0, len(pools))
	for i := range pools {
		res, err := e.loadResult(ctx, pools[i].Day, &pools[i])
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) loadResult(ctx context.Context, day model.Day, pool *model.RedistributionPool) (*model.RunResult, error) {
	rankings, err := e.store.GetRankings(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load rankings %s: %w", day, err)
	}
	topTier, err := e.store.GetTopTierPayouts(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load top-tier payouts %s: %w", day, err)
	}
	winners, err := e.store.GetWinnerPayouts(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load winner payouts %s: %w", day, err)
	}

	return &model.RunResult{
		Day:                 day,
		State:               pool.State,
		PoolCents:           pool.TotalPoolCents,
		PlatformCents:       pool.PlatformCents,
		ItemCountConsidered: pool.ItemCountConsidered,
		Rankings:            rankings,
		TopTier:             topTier,
		Winners:             winners,
		CompletedAt:         pool.CompletedAt,
	}, nil
}

// result builds the RunResult from a computed plan.
func (p *plan) result(dryRun bool) *model.RunResult {
	return &model.RunResult{
		Day:                 p.day,
		DryRun:              dryRun,
		State:               model.PoolDistributed,
		PoolCents:           p.poolCents,
		PlatformCents:       p.platform,
		ItemCountConsidered: len(p.rankings),
		Rankings:            p.rankings,
		TopTier:             p.topTier,
		Winners:             p.winners,
		Skipped:             p.skipped,
	}
}

// audit records one invocation. Dry runs log only: the persisted audit
// trail reflects real money movement, and a dry run by definition writes
// nothing.
func (e *Engine) audit(ctx context.Context, day model.Day, dryRun bool, outcome string, res *model.RunResult, runErr error) {
	entry := model.AuditEntry{
		ID:         uuid.New().String(),
		Day:        day,
		DryRun:     dryRun,
		Outcome:    outcome,
		RecordedAt: e.now(),
	}
	if res != nil {
		entry.PoolCents = res.PoolCents
		entry.TopTierCount = len(res.TopTier)
		entry.WinnerCount = len(res.Winners)
		entry.SkippedCount = len(res.Skipped)
	}
	if runErr != nil {
		entry.ErrorDetail = runErr.Error()
	}

	logger := slog.Info
	if runErr != nil {
		logger = slog.Error
	}
	logger("ranking run audited",
		"day", day,
		"dry_run", dryRun,
		"outcome", outcome,
		"pool_cents", entry.PoolCents,
		"top_tier", entry.TopTierCount,
		"winners", entry.WinnerCount,
		"err", entry.ErrorDetail,
	)

	if dryRun {
		return
	}
	if err := e.store.InsertAudit(ctx, entry); err != nil {
		slog.Error("audit write failed", "day", day, "err", err)
	}
}

func dryRunLabel(dryRun bool) string {
	if dryRun {
		return "true"
	}
	return "false"
}
