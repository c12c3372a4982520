package alloc

import (
	"testing"
)

// --- SplitPool tests ---

func TestSplitPool_SumsToTotal(t *testing.T) {
	tests := []struct {
		total   int64
		tierBps int64
	}{
		{0, 6000},
		{1, 6000},
		{99, 6000},
		{1000, 6000},
		{1001, 6000},
		{123456789, 6000},
		{1000, 5000},
		{7, 3333},
		{100000000, 9999},
	}
	for _, tt := range tests {
		tier, winner, err := SplitPool(tt.total, tt.tierBps)
		if err != nil {
			t.Fatalf("SplitPool(%d, %d): unexpected error %v", tt.total, tt.tierBps, err)
		}
		if tier+winner != tt.total {
			t.Errorf("SplitPool(%d, %d): tier %d + winner %d != total",
				tt.total, tt.tierBps, tier, winner)
		}
	}
}

func TestSplitPool_RoundsHalfUp(t *testing.T) {
	// 1001 * 0.60 = 600.6 → tier 601, winner 400.
	tier, winner, err := SplitPool(1001, 6000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tier != 601 || winner != 400 {
		t.Errorf("expected 601/400, got %d/%d", tier, winner)
	}

	// 25 * 0.50 = 12.5 → tier 13 (half up), winner 12.
	tier, winner, _ = SplitPool(25, 5000)
	if tier != 13 || winner != 12 {
		t.Errorf("expected 13/12, got %d/%d", tier, winner)
	}
}

func TestSplitPool_NegativePool(t *testing.T) {
	if _, _, err := SplitPool(-1, 6000); err != ErrNegativePool {
		t.Errorf("expected ErrNegativePool, got %v", err)
	}
}

// --- LargestRemainder tests ---

func TestLargestRemainder_ScenarioA(t *testing.T) {
	// Pool 1000, three recipients → [334, 333, 333] in identifier order.
	shares, err := LargestRemainder(1000, []string{"b", "c", "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Share{{"a", 334}, {"b", 333}, {"c", 333}}
	if len(shares) != len(want) {
		t.Fatalf("expected %d shares, got %d", len(want), len(shares))
	}
	for i := range want {
		if shares[i] != want[i] {
			t.Errorf("share %d: expected %+v, got %+v", i, want[i], shares[i])
		}
	}
	if Sum(shares) != 1000 {
		t.Errorf("shares sum to %d, want 1000", Sum(shares))
	}
}

func TestLargestRemainder_ExactAccounting(t *testing.T) {
	// Sum must equal the pool exactly across pool sizes and recipient
	// counts, including pools smaller than the recipient count.
	pools := []int64{0, 1, 2, 99, 100, 101, 999983, 100000000}
	counts := []int{1, 2, 3, 7, 100, 9999}

	for _, pool := range pools {
		for _, n := range counts {
			recipients := make([]string, n)
			for i := range recipients {
				recipients[i] = recipientID(i)
			}
			shares, err := LargestRemainder(pool, recipients)
			if err != nil {
				t.Fatalf("pool=%d n=%d: unexpected error %v", pool, n, err)
			}
			if got := Sum(shares); got != pool {
				t.Errorf("pool=%d n=%d: shares sum to %d", pool, n, got)
			}
		}
	}
}

func TestLargestRemainder_RemainderFairness(t *testing.T) {
	pools := []int64{1, 10, 1000, 1001, 12345}
	for _, pool := range pools {
		recipients := make([]string, 7)
		for i := range recipients {
			recipients[i] = recipientID(i)
		}
		shares, err := LargestRemainder(pool, recipients)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		min, max := shares[0].Cents, shares[0].Cents
		for _, s := range shares {
			if s.Cents < min {
				min = s.Cents
			}
			if s.Cents > max {
				max = s.Cents
			}
		}
		if max-min > 1 {
			t.Errorf("pool=%d: share spread %d exceeds 1 cent", pool, max-min)
		}
	}
}

func TestLargestRemainder_DeterministicOrder(t *testing.T) {
	a, err := LargestRemainder(100, []string{"u3", "u1", "u2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := LargestRemainder(100, []string{"u2", "u3", "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("allocation depends on input order: %+v vs %+v", a[i], b[i])
		}
	}
	if a[0].RecipientID != "u1" {
		t.Errorf("extra cent should go to lowest identifier, got %s", a[0].RecipientID)
	}
}

func TestLargestRemainder_NoRecipients(t *testing.T) {
	if _, err := LargestRemainder(100, nil); err != ErrNoRecipients {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}
}

func TestLargestRemainder_NegativePool(t *testing.T) {
	if _, err := LargestRemainder(-5, []string{"a"}); err != ErrNegativePool {
		t.Errorf("expected ErrNegativePool, got %v", err)
	}
}

func TestLargestRemainder_ZeroPool(t *testing.T) {
	shares, err := LargestRemainder(0, []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range shares {
		if s.Cents != 0 {
			t.Errorf("expected zero share for %s, got %d", s.RecipientID, s.Cents)
		}
	}
}

// recipientID produces fixed-width identifiers so ascending string order
// matches ascending index order.
func recipientID(i int) string {
	const digits = "0123456789"
	return "r" + string([]byte{
		digits[i/1000%10], digits[i/100%10], digits[i/10%10], digits[i%10],
	})
}
