package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/visual/ranking-engine/internal/metrics"
	"github.com/visual/ranking-engine/internal/model"
	"github.com/visual/ranking-engine/internal/store"
)

// persist writes a computed plan inside one store transaction: sales
// totals, rankings, the pool row (the race-breaker), payout rows, point
// credits, and transfer outbox rows. The pool walks
// Calculated → Distributing → Distributed within the transaction so the
// committed row is always terminal.
func (e *Engine) persist(ctx context.Context, tx store.Tx, p *plan) error {
	now := e.now()

	for _, d := range p.deltas {
		applied, err := tx.MarkContributionApplied(ctx, p.day, d.contributionID)
		if err != nil {
			return fmt.Errorf("mark contribution %s: %w", d.contributionID, err)
		}
		if !applied {
			// Already folded into the totals by an earlier attempt.
			continue
		}
		if err := tx.UpsertDailySales(ctx, d.entry); err != nil {
			return fmt.Errorf("upsert sales %s: %w", d.entry.ItemID, err)
		}
	}

	if err := tx.InsertRankings(ctx, p.rankings); err != nil {
		return err
	}

	pool := &model.RedistributionPool{
		ID:                  uuid.New().String(),
		Day:                 p.day,
		TotalPoolCents:      p.poolCents,
		PlatformCents:       p.platform,
		ItemCountConsidered: len(p.rankings),
		State:               model.PoolCalculated,
		CreatedAt:           now,
	}
	if err := tx.CreatePool(ctx, pool); err != nil {
		return err // store.ErrPoolExists surfaces the same-day race
	}

	if err := e.advancePool(ctx, tx, pool, model.PoolDistributing, nil); err != nil {
		return err
	}

	if err := tx.InsertTopTierPayouts(ctx, p.topTier); err != nil {
		return err
	}
	if err := tx.InsertWinnerPayouts(ctx, p.winners); err != nil {
		return err
	}

	for i := range p.topTier {
		pt := &p.topTier[i]
		reason := fmt.Sprintf("daily ranking redistribution (rank %d)", pt.Rank)
		if err := e.execPayout(ctx, tx, p.day, pt.OwnerID, pt.ItemID, model.RoleOwner, pt.ShareCents, reason, now); err != nil {
			return err
		}
		if err := tx.MarkTopTierPaid(ctx, pt.ID, now); err != nil {
			return err
		}
		pt.Paid = true
		pt.PaidAt = &now
		metrics.PayoutsTotal.WithLabelValues(string(model.RoleOwner)).Inc()
	}

	for i := range p.winners {
		w := &p.winners[i]
		reason := fmt.Sprintf("daily ranking winner (item %s, rank %d)", w.ItemID, w.Rank)
		if err := e.execPayout(ctx, tx, p.day, w.BackerID, w.ItemID, model.RoleWinner, w.ShareCents, reason, now); err != nil {
			return err
		}
		if err := tx.MarkWinnerPaid(ctx, w.ID, now); err != nil {
			return err
		}
		w.Paid = true
		w.PaidAt = &now
		metrics.PayoutsTotal.WithLabelValues(string(model.RoleWinner)).Inc()
	}

	completed := now
	return e.advancePool(ctx, tx, pool, model.PoolDistributed, &completed)
}

// execPayout credits the recipient's point balance (1 point per cent) and
// appends the deferred external transfer to the outbox. Both writes ride
// in the run transaction; the transfer itself happens later, outside it,
// driven by the transfer worker. Zero shares credit nothing.
func (e *Engine) execPayout(ctx context.Context, tx store.Tx, day model.Day, recipientID, itemID string, role model.PayoutRole, shareCents int64, reason string, now time.Time) error {
	if shareCents == 0 {
		return nil
	}

	key := payoutKey(day, recipientID, itemID, role)
	applied, err := tx.CreditPoints(ctx, model.PointsTransaction{
		ID:             uuid.New().String(),
		UserID:         recipientID,
		Amount:         shareCents,
		Reason:         reason,
		IdempotencyKey: key,
		CreatedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("credit points %s: %w", key, err)
	}
	if !applied {
		// Replay: the credit and its transfer already exist.
		return nil
	}

	return tx.EnqueueTransfer(ctx, model.TransferRequest{
		ID:             uuid.New().String(),
		RecipientID:    recipientID,
		AmountCents:    shareCents,
		Reason:         reason,
		Role:           role,
		IdempotencyKey: "transfer:" + key,
		HoldUntil:      now.Add(e.cfg.TransferHold),
		Status:         model.TransferScheduled,
		CreatedAt:      now,
	})
}

// advancePool validates and applies a pool state transition.
func (e *Engine) advancePool(ctx context.Context, tx store.Tx, pool *model.RedistributionPool, to model.PoolState, completedAt *time.Time) error {
	if !pool.State.CanAdvance(to) {
		return fmt.Errorf("%w: illegal pool transition %s -> %s", ErrConsistency, pool.State, to)
	}
	pool.State = to
	pool.CompletedAt = completedAt
	return tx.UpdatePool(ctx, pool)
}

// payoutKey is the idempotency key for one payout: derived from stable
// inputs only, so replays collapse onto the first write.
func payoutKey(day model.Day, recipientID, itemID string, role model.PayoutRole) string {
	return fmt.Sprintf("payout:%s:%s:%s:%s", day, recipientID, itemID, role)
}
