package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/radiusdt/bid-optimizer/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func snapshot(id string, kind models.TargetKind, day int, bid string) models.PerformanceRow {
	r := models.PerformanceRow{
		TargetID: id,
		Kind:     kind,
		Scope:    models.Scope{CampaignID: "c1", AdGroupID: "ag1"},
		Market:   "US",
		Source:   "sp",
		Date:     day0.AddDate(0, 0, day),
		Clicks:   10,
	}
	if bid != "" {
		r.CurrentBid = decimal.NewNullDecimal(decimal.RequireFromString(bid))
	}
	return r
}

func TestDetectChanges(t *testing.T) {
	rows := []models.PerformanceRow{
		snapshot("kw-1", models.TargetKindKeyword, 2, "1.20"),
		snapshot("kw-1", models.TargetKindKeyword, 0, "1.00"),
		snapshot("kw-1", models.TargetKindKeyword, 1, "1.00"),
		snapshot("kw-1", models.TargetKindKeyword, 3, ""),
		snapshot("kw-1", models.TargetKindKeyword, 4, "1.20"),
		snapshot("pt-1", models.TargetKindProductTarget, 0, "0.50"),
		snapshot("pt-1", models.TargetKindProductTarget, 1, "0.45"),
		snapshot("st-1", models.TargetKindSearchTerm, 0, "0.50"),
		snapshot("st-1", models.TargetKindSearchTerm, 1, "0.90"),
	}

	out := DetectChanges(rows)
	require.Len(t, out, 2)

	assert.Equal(t, "kw-1", out[0].TargetID)
	assert.True(t, out[0].OldBid.Equal(decimal.RequireFromString("1.00")))
	assert.True(t, out[0].NewBid.Equal(decimal.RequireFromString("1.20")))
	assert.Equal(t, day0.AddDate(0, 0, 2), out[0].ChangedAt)
	assert.Equal(t, models.ChangeOriginDetected, out[0].Origin)
	assert.Equal(t, "sp", out[0].Source)

	assert.Equal(t, "pt-1", out[1].TargetID)
	assert.Equal(t, day0.AddDate(0, 0, 1), out[1].ChangedAt)
}

func TestDetectChangesSameDayLastWins(t *testing.T) {
	late := snapshot("kw-1", models.TargetKindKeyword, 1, "0.90")
	late.Date = late.Date.Add(20 * time.Hour)
	rows := []models.PerformanceRow{
		snapshot("kw-1", models.TargetKindKeyword, 0, "1.00"),
		snapshot("kw-1", models.TargetKindKeyword, 1, "1.10"),
		late,
	}
	out := DetectChanges(rows)
	require.Len(t, out, 1)
	assert.True(t, out[0].NewBid.Equal(decimal.RequireFromString("0.90")))
}

func TestDetectorRunIsIdempotent(t *testing.T) {
	rows := storage.NewInMemoryPerformanceStore(
		snapshot("kw-1", models.TargetKindKeyword, 0, "1.00"),
		snapshot("kw-1", models.TargetKindKeyword, 1, "1.20"),
		snapshot("kw-2", models.TargetKindKeyword, 0, "0.40"),
		snapshot("kw-2", models.TargetKindKeyword, 5, "0.30"),
		// outside the lookback window
		snapshot("kw-3", models.TargetKindKeyword, -60, "0.40"),
		snapshot("kw-3", models.TargetKindKeyword, -59, "0.80"),
	)
	changes := storage.NewInMemoryChangeStore()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	now := func() time.Time { return day0.AddDate(0, 0, 10).Add(4 * time.Hour) }
	d := NewDetector(rows, changes, 30, m, nil, WithClock(now))

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChangesDetected)
	assert.Equal(t, map[string]int{"sp": 2}, res.BySource)
	assert.Equal(t, 4, res.RowsScanned)

	res, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ChangesDetected)
	assert.Equal(t, 2, changes.Count())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DetectionRuns.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DetectionChanges.WithLabelValues("sp")))
}

type brokenRows struct{}

func (brokenRows) FetchPerformanceRows(context.Context, models.ScopeFilter, models.DateRange) ([]models.PerformanceRow, error) {
	return nil, errors.New("warehouse down")
}

func TestDetectorRunFetchError(t *testing.T) {
	d := NewDetector(brokenRows{}, storage.NewInMemoryChangeStore(), 30, nil, nil)
	_, err := d.Run(context.Background())
	assert.ErrorContains(t, err, "warehouse down")
}

func TestEligible(t *testing.T) {
	today := day0.AddDate(0, 0, 20)
	assert.True(t, Eligible(nil, today, 14))
	assert.Nil(t, DaysSince(nil, today))

	last := &models.BidChangeRecord{ChangedAt: day0.AddDate(0, 0, 7)}
	assert.False(t, Eligible(last, today, 14))
	assert.Equal(t, 13, *DaysSince(last, today))

	last.ChangedAt = day0.AddDate(0, 0, 6)
	assert.True(t, Eligible(last, today, 14))
}

func TestRecordApplied(t *testing.T) {
	store := storage.NewInMemoryChangeStore()
	l := New(store, nil, nil)
	ctx := context.Background()

	c := AppliedChange{
		TargetID:  "kw-1",
		Scope:     models.Scope{CampaignID: "c1", AdGroupID: "ag1"},
		Market:    "US",
		Source:    "sp",
		OldBid:    decimal.RequireFromString("1.00"),
		NewBid:    decimal.RequireFromString("0.80"),
		ChangedAt: day0.Add(13 * time.Hour),
	}
	rec, inserted, err := l.RecordApplied(ctx, c)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, day0, rec.ChangedAt)
	assert.Equal(t, models.ChangeOriginApplied, rec.Origin)

	_, inserted, err = l.RecordApplied(ctx, c)
	require.NoError(t, err)
	assert.False(t, inserted)

	last, err := l.LastChange(ctx, rec.Key())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.NewBid.Equal(c.NewBid))

	c.ChangedAt = day0.AddDate(0, 0, 3)
	c.OldBid, c.NewBid = c.NewBid, decimal.RequireFromString("0.70")
	_, _, err = l.RecordApplied(ctx, c)
	require.NoError(t, err)

	history, err := l.History(ctx, rec.Key())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, day0.AddDate(0, 0, 3), history[0].ChangedAt)
}

func TestRecordAppliedValidation(t *testing.T) {
	l := New(storage.NewInMemoryChangeStore(), nil, nil)
	base := AppliedChange{
		TargetID: "kw-1",
		Scope:    models.Scope{CampaignID: "c1"},
		OldBid:   decimal.RequireFromString("1.00"),
		NewBid:   decimal.RequireFromString("1.10"),
	}

	bad := []AppliedChange{base, base, base}
	bad[0].TargetID = ""
	bad[1].NewBid = decimal.Zero
	bad[2].NewBid = bad[2].OldBid

	for _, c := range bad {
		_, _, err := l.RecordApplied(context.Background(), c)
		assert.ErrorIs(t, err, ErrInvalidChange)
	}
}
