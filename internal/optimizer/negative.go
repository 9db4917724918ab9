package optimizer

import (
	"sort"

	"github.com/radiusdt/bid-optimizer/internal/models"
)

// FindNegativeCandidates returns targets with at least minClicks and no sales,
// worst spend first.
func FindNegativeCandidates(rows []models.PerformanceRow, minClicks int64) []models.NegativeCandidate {
	out := make([]models.NegativeCandidate, 0)
	for _, t := range groupByTarget(rows) {
		if t.kind == models.TargetKindPlacement {
			continue
		}
		m := Combine(t.rows)
		if m.Clicks < minClicks || !m.Sales.IsZero() {
			continue
		}
		out = append(out, models.NegativeCandidate{
			TargetID: t.key.TargetID,
			Kind:     t.kind,
			Scope:    t.key.Scope(),
			Market:   t.market,
			Clicks:   m.Clicks,
			Cost:     m.Cost,
			CPC:      CPC(m).Round(2),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Cost.Cmp(out[j].Cost); c != 0 {
			return c > 0
		}
		return out[i].Clicks > out[j].Clicks
	})
	return out
}
