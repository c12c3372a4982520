package engine

import (
	"fmt"

	"github.com/visual/ranking-engine/internal/model"
)

// contribDelta is one contribution's effect on the daily sales totals,
// replayed against the applied-contribution marker during persistence so
// reprocessing the same contribution never double counts.
type contribDelta struct {
	contributionID string
	entry          model.DailySalesEntry
}

// aggregate folds raw contributions into per-item net-sales totals for the
// day. Net is grossCents * netFeeBps / 10000, floored — pure integer math,
// no rounding drift. Malformed records are skipped with a reason, not
// fatal: one bad row must not abort a whole day's aggregation. The returned
// valid slice carries only the records that passed; skipped records must
// never reach pool sizing or winner selection.
func (e *Engine) aggregate(day model.Day, contribs []model.ContributionRecord) (map[string]*model.DailySalesEntry, []contribDelta, []model.ContributionRecord, []string) {
	totals := make(map[string]*model.DailySalesEntry)
	deltas := make([]contribDelta, 0, len(contribs))
	valid := make([]model.ContributionRecord, 0, len(contribs))
	var skipped []string

	for _, c := range contribs {
		if c.ItemID == "" || c.BackerID == "" {
			skipped = append(skipped, fmt.Sprintf("contribution %s: missing item or backer reference", c.ID))
			continue
		}
		if c.GrossCents < 0 {
			skipped = append(skipped, fmt.Sprintf("contribution %s: negative amount %d", c.ID, c.GrossCents))
			continue
		}

		valid = append(valid, c)
		net := c.GrossCents * e.cfg.NetFeeBps / 10000

		entry, ok := totals[c.ItemID]
		if !ok {
			entry = &model.DailySalesEntry{ItemID: c.ItemID, Day: day}
			totals[c.ItemID] = entry
		}
		entry.NetCents += net
		entry.ContributionCount++

		deltas = append(deltas, contribDelta{
			contributionID: c.ID,
			entry: model.DailySalesEntry{
				ItemID:            c.ItemID,
				Day:               day,
				NetCents:          net,
				ContributionCount: 1,
			},
		})
	}
	return totals, deltas, valid, skipped
}
