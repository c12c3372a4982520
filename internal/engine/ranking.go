package engine

import (
	"sort"

	"github.com/visual/ranking-engine/internal/model"
)

// rank sorts the day's sales totals into dense ranks 1..N. Items below the
// minimum-contribution threshold are excluded entirely, not ranked last.
// Ties on net amount break by ascending item ID, so identical inputs
// always produce identical rankings regardless of map iteration order.
func (e *Engine) rank(day model.Day, totals map[string]*model.DailySalesEntry) []model.RankingEntry {
	eligible := make([]*model.DailySalesEntry, 0, len(totals))
	for _, entry := range totals {
		if entry.ContributionCount >= e.cfg.MinContributions {
			eligible = append(eligible, entry)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].NetCents != eligible[j].NetCents {
			return eligible[i].NetCents > eligible[j].NetCents
		}
		return eligible[i].ItemID < eligible[j].ItemID
	})

	entries := make([]model.RankingEntry, len(eligible))
	for i, s := range eligible {
		entries[i] = model.RankingEntry{
			Day:               day,
			ItemID:            s.ItemID,
			Rank:              i + 1,
			NetCents:          s.NetCents,
			ContributionCount: s.ContributionCount,
		}
	}
	return entries
}

// poolAmount sums the gross (not net) contributions made to items ranked
// in the contributor band [topTierSize+1, contributorBandEnd]. An empty
// band yields a zero pool, which is a valid zero-distribution day.
func (e *Engine) poolAmount(rankings []model.RankingEntry, contribs []model.ContributionRecord) int64 {
	band := make(map[string]bool)
	for _, r := range rankings {
		if r.Rank > e.cfg.TopTierSize && r.Rank <= e.cfg.ContributorBandEnd {
			band[r.ItemID] = true
		}
	}

	var pool int64
	for _, c := range contribs {
		if band[c.ItemID] {
			pool += c.GrossCents
		}
	}
	return pool
}
