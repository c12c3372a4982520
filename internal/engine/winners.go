package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/visual/ranking-engine/internal/model"
)

// registerTopTier builds one owner-side payout row per item ranked
// 1..topTierSize. An item whose owner is unknown is a recoverable data
// error: the row is skipped with a reason and the run continues — the
// item stays in the ranking and its backers still qualify as winners.
func (e *Engine) registerTopTier(day model.Day, rankings []model.RankingEntry, owners map[string]string) ([]model.TopTierPayout, []string) {
	var payouts []model.TopTierPayout
	var skipped []string

	for _, r := range rankings {
		if r.Rank > e.cfg.TopTierSize {
			break
		}
		owner, ok := owners[r.ItemID]
		if !ok {
			skipped = append(skipped, fmt.Sprintf("item %s (rank %d): no known owner", r.ItemID, r.Rank))
			continue
		}
		payouts = append(payouts, model.TopTierPayout{
			ID:      uuid.New().String(),
			Day:     day,
			ItemID:  r.ItemID,
			OwnerID: owner,
			Rank:    r.Rank,
		})
	}
	return payouts, skipped
}

// selectWinners builds one backer-side payout row per (backer, item) pair
// with contributions to a top-tier item. Multiple contributions to the
// same pair merge into one row; a backer of two top-tier items gets two
// rows, each tied to its own item and rank for auditability.
func (e *Engine) selectWinners(day model.Day, rankings []model.RankingEntry, contribs []model.ContributionRecord) []model.WinnerPayout {
	tierRank := make(map[string]int)
	for _, r := range rankings {
		if r.Rank <= e.cfg.TopTierSize {
			tierRank[r.ItemID] = r.Rank
		}
	}

	type pairKey struct{ backer, item string }
	pairs := make(map[pairKey]*model.WinnerPayout)

	for _, c := range contribs {
		rank, ok := tierRank[c.ItemID]
		if !ok {
			continue
		}
		key := pairKey{c.BackerID, c.ItemID}
		w, ok := pairs[key]
		if !ok {
			w = &model.WinnerPayout{
				ID:       uuid.New().String(),
				Day:      day,
				BackerID: c.BackerID,
				ItemID:   c.ItemID,
				Rank:     rank,
			}
			pairs[key] = w
		}
		w.ContributionCents += c.GrossCents
	}

	winners := make([]model.WinnerPayout, 0, len(pairs))
	for _, w := range pairs {
		winners = append(winners, *w)
	}
	sort.Slice(winners, func(i, j int) bool {
		if winners[i].BackerID != winners[j].BackerID {
			return winners[i].BackerID < winners[j].BackerID
		}
		return winners[i].ItemID < winners[j].ItemID
	})
	return winners
}

// now is a seam for tests.
func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now().UTC()
}
