package optimizer

import (
	"testing"
	"time"

	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func metricsOf(clicks int64, cost, sales string) models.WindowMetrics {
	return models.WindowMetrics{Window: models.WindowLifetime, Clicks: clicks, Cost: dec(cost), Sales: dec(sales)}
}

func TestDefaultPolicyValid(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MinMultiplier = 1.2
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.ModifierMin = 1000
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.MaxTargets = 0
	assert.Error(t, p.Validate())
}

func TestAggregate(t *testing.T) {
	today := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	rows := []models.PerformanceRow{
		{Date: time.Date(2024, 6, 29, 0, 0, 0, 0, time.UTC), Clicks: 10, Cost: dec("5"), Sales: dec("20"), Orders: 1},
		{Date: time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), Clicks: 20, Cost: dec("10"), Sales: dec("0")},
		{Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), Clicks: 40, Cost: dec("8"), Sales: dec("50"), Orders: 2},
	}

	w := Aggregate(rows, today, nil)
	assert.EqualValues(t, 70, w.Lifetime.Clicks)
	assert.EqualValues(t, 30, w.D365.Clicks)
	assert.EqualValues(t, 10, w.D30.Clicks)
	assert.Equal(t, w.Lifetime.Clicks, w.T0.Clicks, "no change on record: T0 spans lifetime")
	assertDecimal(t, "23", w.Lifetime.Cost)
	assert.EqualValues(t, 3, w.Lifetime.Orders)

	last := &models.BidChangeRecord{ChangedAt: time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)}
	w = Aggregate(rows, today, last)
	assert.EqualValues(t, 10, w.T0.Clicks)
	assertDecimal(t, "20", w.T0.Sales)
	assert.Equal(t, models.WindowT0, w.T0.Window)
}

func TestAggregateChangeDayBelongsToT0(t *testing.T) {
	day := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	rows := []models.PerformanceRow{
		{Date: day.AddDate(0, 0, -1), Clicks: 5},
		{Date: day, Clicks: 7},
	}
	w := Aggregate(rows, day.AddDate(0, 0, 5), &models.BidChangeRecord{ChangedAt: day.Add(15 * time.Hour)})
	assert.EqualValues(t, 7, w.T0.Clicks)
}

func TestComputeRatio(t *testing.T) {
	r := ComputeRatio(metricsOf(29, "10", "40"), 30)
	assert.Equal(t, models.RatioUndefined, r.Kind)
	assert.False(t, r.Usable())

	r = ComputeRatio(metricsOf(30, "10", "40"), 30)
	assert.Equal(t, models.RatioDefined, r.Kind)
	assert.InDelta(t, 0.25, r.Value, 1e-9)

	r = ComputeRatio(metricsOf(30, "10", "0"), 30)
	assert.Equal(t, models.RatioUnboundedHigh, r.Kind)
	assert.False(t, r.Usable())
}

func TestTierFor(t *testing.T) {
	cases := map[int64]models.ConfidenceTier{
		0:    models.ConfidenceLow,
		29:   models.ConfidenceLow,
		30:   models.ConfidenceOK,
		99:   models.ConfidenceOK,
		100:  models.ConfidenceGood,
		300:  models.ConfidenceHigh,
		999:  models.ConfidenceHigh,
		1000: models.ConfidenceExtreme,
	}
	for clicks, want := range cases {
		assert.Equal(t, want, TierFor(clicks), "clicks=%d", clicks)
	}
}

func TestCPCAndCVR(t *testing.T) {
	m := models.WindowMetrics{Clicks: 50, Cost: dec("80"), Orders: 5}
	assertDecimal(t, "1.6", CPC(m))
	assert.InDelta(t, 10.0, CVR(m), 1e-9)

	assert.True(t, CPC(models.WindowMetrics{}).IsZero())
	assert.Zero(t, CVR(models.WindowMetrics{}))
}

func TestBlend(t *testing.T) {
	ws := models.WeightSet{T0: 0.4, D30: 0.3, D365: 0.2, Lifetime: 0.1}

	t.Run("renormalizes over usable windows", func(t *testing.T) {
		ratios := map[models.Window]models.Ratio{
			models.WindowT0:       {Kind: models.RatioUndefined},
			models.WindowD30:      {Kind: models.RatioDefined, Value: 0.2},
			models.WindowD365:     {Kind: models.RatioDefined, Value: 0.3},
			models.WindowLifetime: {Kind: models.RatioUnboundedHigh},
		}
		got, ok := Blend(ratios, ws)
		require.True(t, ok)
		assert.InDelta(t, 0.24, got, 1e-9)
	})

	t.Run("all defined", func(t *testing.T) {
		ratios := map[models.Window]models.Ratio{
			models.WindowT0:       {Kind: models.RatioDefined, Value: 0.1},
			models.WindowD30:      {Kind: models.RatioDefined, Value: 0.2},
			models.WindowD365:     {Kind: models.RatioDefined, Value: 0.3},
			models.WindowLifetime: {Kind: models.RatioDefined, Value: 0.4},
		}
		got, ok := Blend(ratios, ws)
		require.True(t, ok)
		assert.InDelta(t, 0.2, got, 1e-9)
		assert.GreaterOrEqual(t, got, 0.1)
		assert.LessOrEqual(t, got, 0.4)
	})

	t.Run("no usable window", func(t *testing.T) {
		_, ok := Blend(map[models.Window]models.Ratio{
			models.WindowLifetime: {Kind: models.RatioUnboundedHigh},
		}, ws)
		assert.False(t, ok)
	})

	t.Run("usable window has zero weight", func(t *testing.T) {
		_, ok := Blend(map[models.Window]models.Ratio{
			models.WindowT0: {Kind: models.RatioDefined, Value: 0.2},
		}, models.WeightSet{Lifetime: 1})
		assert.False(t, ok)
	})
}

func TestDecideKeywordBid(t *testing.T) {
	p := DefaultPolicy()

	t.Run("above goal decreases by goal over blended", func(t *testing.T) {
		// 500 clicks, cost 100, sales 400: ratio 0.25 against a 0.20 goal
		d := p.DecideKeywordBid(dec("1.00"), 0.20, 0.25)
		assert.Equal(t, models.DirectionDecrease, d.Direction)
		assert.InDelta(t, 0.8, d.Multiplier, 1e-9)
		assertDecimal(t, "0.80", d.NewBid)
		assert.Equal(t, -20.0, d.ChangePercent)
	})

	t.Run("inside band maintains", func(t *testing.T) {
		d := p.DecideKeywordBid(dec("1.00"), 0.20, 0.22)
		assert.Equal(t, models.DirectionMaintain, d.Direction)
		assertDecimal(t, "1.00", d.NewBid)
		assert.Zero(t, d.ChangePercent)

		d = p.DecideKeywordBid(dec("1.00"), 0.20, 0.175)
		assert.Equal(t, models.DirectionMaintain, d.Direction)
	})

	t.Run("clamped at minimum multiplier", func(t *testing.T) {
		d := p.DecideKeywordBid(dec("2.00"), 0.20, 1.00)
		assert.Equal(t, models.DirectionDecrease, d.Direction)
		assert.InDelta(t, 0.5, d.Multiplier, 1e-9)
		assertDecimal(t, "1.00", d.NewBid)
		assert.Equal(t, -50.0, d.ChangePercent)
	})

	t.Run("clamped at maximum multiplier", func(t *testing.T) {
		d := p.DecideKeywordBid(dec("1.00"), 0.20, 0.05)
		assert.Equal(t, models.DirectionIncrease, d.Direction)
		assert.InDelta(t, 1.5, d.Multiplier, 1e-9)
		assertDecimal(t, "1.50", d.NewBid)
		assert.Equal(t, 50.0, d.ChangePercent)
	})

	t.Run("rounding never escapes the bounds", func(t *testing.T) {
		// 0.33 * 1.5 = 0.495 rounds to 0.50, above the cap
		d := p.DecideKeywordBid(dec("0.33"), 0.20, 0.05)
		assertDecimal(t, "0.49", d.NewBid)
		assert.True(t, d.NewBid.LessThanOrEqual(dec("0.495")))

		// 0.33 * 0.5 = 0.165 rounds to 0.17, inside the floor
		d = p.DecideKeywordBid(dec("0.33"), 0.20, 1.00)
		assertDecimal(t, "0.17", d.NewBid)
		assert.True(t, d.NewBid.GreaterThanOrEqual(dec("0.165")))
	})
}

func TestDecideZeroSalesBid(t *testing.T) {
	p := DefaultPolicy()

	d := p.DecideZeroSalesBid(dec("1.00"), 50)
	assertDecimal(t, "0.85", d.NewBid)
	assert.Equal(t, -15.0, d.ChangePercent)
	assert.True(t, d.ZeroSales)

	d = p.DecideZeroSalesBid(dec("1.00"), 100)
	assertDecimal(t, "0.70", d.NewBid)
	assert.Equal(t, -30.0, d.ChangePercent)
	assert.Equal(t, models.DirectionDecrease, d.Direction)
}

func TestDecideSearchTermBid(t *testing.T) {
	p := DefaultPolicy()
	base := dec("1.00")

	tests := []struct {
		name      string
		m         models.WindowMetrics
		wantBid   string
		wantDir   models.Direction
		zeroSales bool
	}{
		{"well below goal, low volume", metricsOf(50, "10", "100"), "1.10", models.DirectionIncrease, false},
		{"well below goal, medium volume", metricsOf(150, "10", "100"), "1.15", models.DirectionIncrease, false},
		{"well below goal, high volume", metricsOf(400, "10", "100"), "1.20", models.DirectionIncrease, false},
		{"near goal", metricsOf(50, "21", "100"), "1.00", models.DirectionMaintain, false},
		{"above goal", metricsOf(50, "40", "100"), "0.50", models.DirectionDecrease, false},
		{"far above goal hits the floor", metricsOf(50, "200", "100"), "0.20", models.DirectionDecrease, false},
		{"zero sales", metricsOf(50, "30", "0"), "0.85", models.DirectionDecrease, true},
		{"zero sales, high volume", metricsOf(120, "30", "0"), "0.70", models.DirectionDecrease, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := p.DecideSearchTermBid(tt.m, 0.20, base)
			require.True(t, ok)
			assertDecimal(t, tt.wantBid, d.NewBid)
			assert.Equal(t, tt.wantDir, d.Direction)
			assert.Equal(t, tt.zeroSales, d.ZeroSales)
		})
	}

	_, ok := p.DecideSearchTermBid(metricsOf(29, "10", "0"), 0.20, base)
	assert.False(t, ok)
}

func TestDecidePlacementModifier(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name      string
		m         models.WindowMetrics
		current   string
		wantMod   string
		wantDelta float64
		wantDir   models.Direction
	}{
		{"zero sales", metricsOf(50, "30", "0"), "50", "25", -25, models.DirectionDecrease},
		{"well below goal", metricsOf(50, "10", "100"), "50", "60", 10, models.DirectionIncrease},
		{"well below goal, high volume", metricsOf(400, "10", "100"), "50", "70", 20, models.DirectionIncrease},
		{"above goal", metricsOf(50, "40", "100"), "80", "30", -50, models.DirectionDecrease},
		{"above goal floors at zero", metricsOf(50, "40", "100"), "20", "0", -20, models.DirectionDecrease},
		{"slightly below goal", metricsOf(50, "18", "100"), "50", "60", 10, models.DirectionIncrease},
		{"on goal", metricsOf(50, "20", "100"), "50", "50", 0, models.DirectionMaintain},
		{"capped at maximum", metricsOf(400, "10", "100"), "895", "900", 5, models.DirectionIncrease},
		{"fractional current just below goal", metricsOf(200, "998", "5000"), "50.2", "50.4", 0.2, models.DirectionIncrease},
		{"integer current just below goal", metricsOf(200, "998", "5000"), "50", "50.2", 0.2, models.DirectionIncrease},
		{"fractional current above goal", metricsOf(50, "21", "100"), "10.4", "5.64", -4.76, models.DirectionDecrease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := p.DecidePlacementModifier(tt.m, 0.20, dec(tt.current))
			require.True(t, ok)
			assertDecimal(t, tt.wantMod, d.NewModifier)
			assert.InDelta(t, tt.wantDelta, d.Delta, 1e-9)
			assert.Equal(t, tt.wantDir, d.Direction)
		})
	}

	_, ok := p.DecidePlacementModifier(metricsOf(10, "10", "0"), 0.20, dec("50"))
	assert.False(t, ok)
}

func TestFindNegativeCandidates(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	row := func(id string, kind models.TargetKind, clicks int64, cost, sales string) models.PerformanceRow {
		return models.PerformanceRow{
			TargetID: id, Kind: kind, Scope: models.Scope{CampaignID: "c1"}, Market: "US",
			Date: day, Clicks: clicks, Cost: dec(cost), Sales: dec(sales),
		}
	}
	rows := []models.PerformanceRow{
		row("a", models.TargetKindKeyword, 30, "50", "0"),
		row("a", models.TargetKindKeyword, 20, "30", "0"),
		row("b", models.TargetKindSearchTerm, 25, "100", "0"),
		row("c", models.TargetKindKeyword, 19, "500", "0"),
		row("d", models.TargetKindKeyword, 80, "90", "10"),
		row("p", models.TargetKindPlacement, 100, "900", "0"),
	}

	out := FindNegativeCandidates(rows, 20)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].TargetID)
	assert.Equal(t, "a", out[1].TargetID)
	assert.EqualValues(t, 50, out[1].Clicks)
	assertDecimal(t, "80", out[1].Cost)
	assertDecimal(t, "1.60", out[1].CPC)
}
