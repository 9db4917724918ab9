package optimizer

import (
	"sort"
	"time"

	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/shopspring/decimal"
)

// Windows holds the four trailing aggregations for one target.
type Windows struct {
	T0       models.WindowMetrics
	D30      models.WindowMetrics
	D365     models.WindowMetrics
	Lifetime models.WindowMetrics
}

// Get returns the metrics for a window.
func (w Windows) Get(win models.Window) models.WindowMetrics {
	switch win {
	case models.WindowT0:
		return w.T0
	case models.WindowD30:
		return w.D30
	case models.WindowD365:
		return w.D365
	default:
		return w.Lifetime
	}
}

// List returns the windows in blending order.
func (w Windows) List() []models.WindowMetrics {
	return []models.WindowMetrics{w.T0, w.D30, w.D365, w.Lifetime}
}

// Aggregate sums rows into the T0, D30, D365 and lifetime windows relative to
// today. T0 covers rows on or after the last change; with no change on record
// it equals the lifetime window.
func Aggregate(rows []models.PerformanceRow, today time.Time, lastChange *models.BidChangeRecord) Windows {
	today = models.TruncateDay(today)
	d30 := today.AddDate(0, 0, -30)
	d365 := today.AddDate(0, 0, -365)

	var since time.Time
	if lastChange != nil {
		since = models.TruncateDay(lastChange.ChangedAt)
	}

	w := Windows{
		T0:       models.WindowMetrics{Window: models.WindowT0},
		D30:      models.WindowMetrics{Window: models.WindowD30},
		D365:     models.WindowMetrics{Window: models.WindowD365},
		Lifetime: models.WindowMetrics{Window: models.WindowLifetime},
	}

	for _, r := range rows {
		d := models.TruncateDay(r.Date)
		w.Lifetime.Add(r)
		if !d.Before(d365) {
			w.D365.Add(r)
		}
		if !d.Before(d30) {
			w.D30.Add(r)
		}
		if lastChange == nil || !d.Before(since) {
			w.T0.Add(r)
		}
	}
	return w
}

// Combine sums every row into a single lifetime window.
func Combine(rows []models.PerformanceRow) models.WindowMetrics {
	m := models.WindowMetrics{Window: models.WindowLifetime}
	for _, r := range rows {
		m.Add(r)
	}
	return m
}

// targetRows groups the rows of one target.
type targetRows struct {
	key    models.TargetKey
	kind   models.TargetKind
	market string
	source string
	rows   []models.PerformanceRow
}

// latestBid returns the most recent non-null bid snapshot.
func (t *targetRows) latestBid() decimal.NullDecimal {
	for i := len(t.rows) - 1; i >= 0; i-- {
		if t.rows[i].CurrentBid.Valid {
			return t.rows[i].CurrentBid
		}
	}
	return decimal.NullDecimal{}
}

// latestModifier returns the most recent non-null placement modifier.
func (t *targetRows) latestModifier() decimal.NullDecimal {
	for i := len(t.rows) - 1; i >= 0; i-- {
		if t.rows[i].CurrentModifier.Valid {
			return t.rows[i].CurrentModifier
		}
	}
	return decimal.NullDecimal{}
}

// groupByTarget buckets rows by target key, each bucket ordered by date.
// Buckets are returned in key order so output is deterministic.
func groupByTarget(rows []models.PerformanceRow) []*targetRows {
	byKey := make(map[models.TargetKey]*targetRows)
	for _, r := range rows {
		k := r.Key()
		t, ok := byKey[k]
		if !ok {
			t = &targetRows{key: k, kind: r.Kind, market: r.Market, source: r.Source}
			byKey[k] = t
		}
		t.rows = append(t.rows, r)
	}

	out := make([]*targetRows, 0, len(byKey))
	for _, t := range byKey {
		sort.SliceStable(t.rows, func(i, j int) bool {
			return t.rows[i].Date.Before(t.rows[j].Date)
		})
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].key.String() < out[j].key.String()
	})
	return out
}
