package engine

import (
	"fmt"

	"github.com/visual/ranking-engine/internal/alloc"
	"github.com/visual/ranking-engine/internal/model"
)

// distribute splits the pool between the two recipient groups and fills
// in each payout row's share using the largest-remainder method.
//
// The winner sub-pool is always derived by subtraction from the tier
// sub-pool, so the two sides sum to the total by construction. If exactly
// one side has no recipients its sub-pool folds into the other side; if
// both are empty the whole pool is parked as platform revenue on the pool
// row. Returns the platform amount.
//
// The post-condition sum(all shares) + platform == pool runs on every
// invocation, dry-run included. A violation is ErrConsistency: abort,
// roll back, persist nothing.
func (e *Engine) distribute(poolCents int64, topTier []model.TopTierPayout, winners []model.WinnerPayout) (int64, error) {
	tierPool, winnerPool, err := alloc.SplitPool(poolCents, e.cfg.TierBps)
	if err != nil {
		return 0, err
	}

	var platform int64
	switch {
	case len(topTier) == 0 && len(winners) == 0:
		platform = poolCents
		tierPool, winnerPool = 0, 0
	case len(topTier) == 0:
		winnerPool += tierPool
		tierPool = 0
	case len(winners) == 0:
		tierPool += winnerPool
		winnerPool = 0
	}

	if len(topTier) > 0 {
		ids := make([]string, len(topTier))
		for i, p := range topTier {
			ids[i] = p.ItemID
		}
		shares, err := alloc.LargestRemainder(tierPool, ids)
		if err != nil {
			return 0, err
		}
		byItem := make(map[string]int64, len(shares))
		for _, s := range shares {
			byItem[s.RecipientID] = s.Cents
		}
		for i := range topTier {
			topTier[i].ShareCents = byItem[topTier[i].ItemID]
		}
	}

	if len(winners) > 0 {
		// Composite key keeps the per-pair rows distinct and the order
		// deterministic.
		ids := make([]string, len(winners))
		for i, w := range winners {
			ids[i] = winnerKey(w.BackerID, w.ItemID)
		}
		shares, err := alloc.LargestRemainder(winnerPool, ids)
		if err != nil {
			return 0, err
		}
		byPair := make(map[string]int64, len(shares))
		for _, s := range shares {
			byPair[s.RecipientID] = s.Cents
		}
		for i := range winners {
			winners[i].ShareCents = byPair[winnerKey(winners[i].BackerID, winners[i].ItemID)]
		}
	}

	var sum int64
	for _, p := range topTier {
		sum += p.ShareCents
	}
	for _, w := range winners {
		sum += w.ShareCents
	}
	if sum+platform != poolCents {
		return 0, fmt.Errorf("%w: shares %d + platform %d != pool %d",
			ErrConsistency, sum, platform, poolCents)
	}
	return platform, nil
}

func winnerKey(backerID, itemID string) string {
	return backerID + "/" + itemID
}
