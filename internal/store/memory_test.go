package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/visual/ranking-engine/internal/model"
)

func TestRunTx_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.RunTx(context.Background(), func(tx Tx) error {
		if err := tx.CreatePool(context.Background(), &model.RedistributionPool{
			ID: "p1", Day: "2026-03-14", State: model.PoolCalculated,
		}); err != nil {
			return err
		}
		if _, err := tx.CreditPoints(context.Background(), model.PointsTransaction{
			ID: "pt1", UserID: "u1", Amount: 100, IdempotencyKey: "k1",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := s.GetPool(context.Background(), "2026-03-14"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pool should have rolled back, got %v", err)
	}
	balance, _ := s.PointsBalance(context.Background(), "u1")
	if balance != 0 {
		t.Errorf("points should have rolled back, got %d", balance)
	}
}

func TestRunTx_CommitOnSuccess(t *testing.T) {
	s := NewMemoryStore()

	err := s.RunTx(context.Background(), func(tx Tx) error {
		return tx.CreatePool(context.Background(), &model.RedistributionPool{
			ID: "p1", Day: "2026-03-14", State: model.PoolCalculated,
		})
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	pool, err := s.GetPool(context.Background(), "2026-03-14")
	if err != nil {
		t.Fatalf("pool not committed: %v", err)
	}
	if pool.ID != "p1" {
		t.Errorf("unexpected pool: %+v", pool)
	}
}

func TestCreatePool_DuplicateDay(t *testing.T) {
	s := NewMemoryStore()

	err := s.RunTx(context.Background(), func(tx Tx) error {
		if err := tx.CreatePool(context.Background(), &model.RedistributionPool{
			ID: "p1", Day: "2026-03-14", State: model.PoolCalculated,
		}); err != nil {
			return err
		}
		return tx.CreatePool(context.Background(), &model.RedistributionPool{
			ID: "p2", Day: "2026-03-14", State: model.PoolCalculated,
		})
	})
	if !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}
}

func TestCreditPoints_IdempotencyKey(t *testing.T) {
	s := NewMemoryStore()

	err := s.RunTx(context.Background(), func(tx Tx) error {
		applied, err := tx.CreditPoints(context.Background(), model.PointsTransaction{
			ID: "pt1", UserID: "u1", Amount: 500, IdempotencyKey: "k1",
		})
		if err != nil {
			return err
		}
		if !applied {
			t.Error("first credit should apply")
		}

		applied, err = tx.CreditPoints(context.Background(), model.PointsTransaction{
			ID: "pt2", UserID: "u1", Amount: 500, IdempotencyKey: "k1",
		})
		if err != nil {
			return err
		}
		if applied {
			t.Error("replay with the same key must be a no-op")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	balance, _ := s.PointsBalance(context.Background(), "u1")
	if balance != 500 {
		t.Errorf("expected 500, got %d", balance)
	}
}

func TestMarkContributionApplied(t *testing.T) {
	s := NewMemoryStore()

	err := s.RunTx(context.Background(), func(tx Tx) error {
		applied, err := tx.MarkContributionApplied(context.Background(), "2026-03-14", "c1")
		if err != nil || !applied {
			t.Errorf("first mark: applied=%v err=%v", applied, err)
		}
		applied, err = tx.MarkContributionApplied(context.Background(), "2026-03-14", "c1")
		if err != nil || applied {
			t.Errorf("second mark: applied=%v err=%v", applied, err)
		}
		// Same contribution on another day is distinct.
		applied, err = tx.MarkContributionApplied(context.Background(), "2026-03-15", "c1")
		if err != nil || !applied {
			t.Errorf("other day: applied=%v err=%v", applied, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}
}

func TestUpsertDailySales_Increments(t *testing.T) {
	s := NewMemoryStore()

	err := s.RunTx(context.Background(), func(tx Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.UpsertDailySales(context.Background(), model.DailySalesEntry{
				ItemID: "i1", Day: "2026-03-14", NetCents: 700, ContributionCount: 1,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	sales := s.DailySales("2026-03-14")
	if len(sales) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sales))
	}
	if sales[0].NetCents != 2100 || sales[0].ContributionCount != 3 {
		t.Errorf("unexpected totals: %+v", sales[0])
	}
}

func TestDueTransfers_Selection(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	soon := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	rows := []model.TransferRequest{
		{ID: "due", Status: model.TransferScheduled, HoldUntil: past, CreatedAt: past},
		{ID: "held", Status: model.TransferScheduled, HoldUntil: soon, CreatedAt: past},
		{ID: "retry-due", Status: model.TransferFailed, HoldUntil: past, NextRetryAt: &past, CreatedAt: past},
		{ID: "retry-later", Status: model.TransferFailed, HoldUntil: past, NextRetryAt: &soon, CreatedAt: past},
		{ID: "exhausted", Status: model.TransferFailed, HoldUntil: past, CreatedAt: past},
		{ID: "done", Status: model.TransferCompleted, HoldUntil: past, CreatedAt: past},
		{ID: "cancelled", Status: model.TransferCancelled, HoldUntil: past, CreatedAt: past},
	}
	err := s.RunTx(context.Background(), func(tx Tx) error {
		for _, r := range rows {
			if err := tx.EnqueueTransfer(context.Background(), r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	due, err := s.DueTransfers(context.Background(), now)
	if err != nil {
		t.Fatalf("due transfers: %v", err)
	}
	got := make(map[string]bool)
	for _, r := range due {
		got[r.ID] = true
	}
	if len(due) != 2 || !got["due"] || !got["retry-due"] {
		t.Errorf("expected exactly [due retry-due], got %v", got)
	}
}
