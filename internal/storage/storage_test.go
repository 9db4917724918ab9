package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "0"},
		{"", "0"},
		{"  ", "0"},
		{"-", "0"},
		{"12.50", "12.5"},
		{"$1,234.56", "1234.56"},
		{[]byte("7.25"), "7.25"},
		{3.5, "3.5"},
		{int64(42), "42"},
		{decimal.RequireFromString("0.01"), "0.01"},
	}
	for _, tt := range tests {
		got, err := ParseDecimal(tt.in)
		require.NoError(t, err, "input %v", tt.in)
		assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "input %v: got %s", tt.in, got)
	}

	_, err := ParseDecimal("twelve")
	assert.Error(t, err)
	_, err = ParseDecimal(struct{}{})
	assert.Error(t, err)
}

func TestParseNullDecimal(t *testing.T) {
	d, err := ParseNullDecimal(nil)
	require.NoError(t, err)
	assert.False(t, d.Valid)

	d, err = ParseNullDecimal("")
	require.NoError(t, err)
	assert.False(t, d.Valid)

	var nilStr *string
	d, err = ParseNullDecimal(nilStr)
	require.NoError(t, err)
	assert.False(t, d.Valid)

	d, err = ParseNullDecimal("0.75")
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.Equal(t, "0.75", d.Decimal.String())
}

func TestNormalizeRow(t *testing.T) {
	r := models.PerformanceRow{Market: "us", Date: time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)}
	require.NoError(t, normalizeRow(&r, "$1,000.00", "4000", "", "35"))
	assert.Equal(t, "US", r.Market)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), r.Date)
	assert.Equal(t, "1000", r.Cost.String())
	assert.False(t, r.CurrentBid.Valid)
	assert.True(t, r.CurrentModifier.Valid)

	assert.Error(t, normalizeRow(&r, "n/a", "0", "", ""))
}

func TestPerformanceArgs(t *testing.T) {
	args := performanceArgs(models.ScopeFilter{}, models.DateRange{})
	require.Len(t, args, 8)
	for i := 0; i < 6; i++ {
		assert.Nil(t, args[i], "arg %d", i)
	}
	assert.Nil(t, args[6])
	assert.Nil(t, args[7])

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	args = performanceArgs(models.ScopeFilter{
		CampaignIDs: []string{"c1"},
		Kinds:       []models.TargetKind{models.TargetKindKeyword},
	}, models.DateRange{Start: start})
	assert.Equal(t, []string{"c1"}, args[0])
	assert.Equal(t, []string{"keyword"}, args[4])
	require.NotNil(t, args[6])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *args[6].(*time.Time))
}

func TestClickhouseBounds(t *testing.T) {
	start, end := clickhouseBounds(models.DateRange{})
	assert.True(t, start.Before(end))

	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	start, _ = clickhouseBounds(models.DateRange{Start: want.Add(5 * time.Hour)})
	assert.Equal(t, want, start)
}

func TestInMemoryPerformanceStore(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemoryPerformanceStore(
		models.PerformanceRow{TargetID: "a", Kind: models.TargetKindKeyword, Scope: models.Scope{CampaignID: "c1"}, Date: day},
		models.PerformanceRow{TargetID: "b", Kind: models.TargetKindPlacement, Scope: models.Scope{CampaignID: "c1"}, Date: day.AddDate(0, 0, 5)},
		models.PerformanceRow{TargetID: "c", Kind: models.TargetKindKeyword, Scope: models.Scope{CampaignID: "c2"}, Date: day},
	)
	ctx := context.Background()

	rows, err := s.FetchPerformanceRows(ctx, models.ScopeFilter{CampaignIDs: []string{"c1"}}, models.DateRange{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.FetchPerformanceRows(ctx, models.ScopeFilter{}, models.DateRange{End: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.FetchPerformanceRows(cctx, models.ScopeFilter{}, models.DateRange{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInMemoryChangeStore(t *testing.T) {
	s := NewInMemoryChangeStore()
	ctx := context.Background()
	key := models.TargetKey{TargetID: "kw-1", CampaignID: "c1", AdGroupID: "ag1"}

	last, err := s.LastChange(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, last)

	day := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	rec := &models.BidChangeRecord{TargetID: "kw-1", Scope: key.Scope(), OldBid: decimal.NewFromInt(1), NewBid: decimal.NewFromInt(2), ChangedAt: day}

	inserted, err := s.AppendChange(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *rec
	dup.ChangedAt = day.Add(5 * time.Hour)
	inserted, err = s.AppendChange(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted, "same target and day is a duplicate")

	later := *rec
	later.ChangedAt = day.AddDate(0, 0, 2)
	_, err = s.AppendChange(ctx, &later)
	require.NoError(t, err)

	last, err = s.LastChange(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), last.ChangedAt)

	// returned records are copies
	last.TargetID = "mutated"
	list, err := s.ListChanges(ctx, key)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "kw-1", list[0].TargetID)
	assert.True(t, list[0].ChangedAt.After(list[1].ChangedAt))
	assert.Equal(t, 2, s.Count())
}

func TestInMemoryConfigStores(t *testing.T) {
	ctx := context.Background()

	ws := NewInMemoryWeightStore()
	_, err := ws.GetWeights(ctx, "US")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, ws.SetWeights(ctx, models.WeightSet{Market: "US", T0: 2}), models.ErrInvalidWeights)
	require.NoError(t, ws.SetWeights(ctx, models.WeightSet{Market: "us", Lifetime: 1}))
	require.NoError(t, ws.SetWeights(ctx, models.WeightSet{Market: "", T0: 1}))
	got, err := ws.GetWeights(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Lifetime)
	list, err := ws.ListWeights(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.GlobalMarket, list[0].Market)

	gs := NewInMemoryGoalStore()
	_, err = gs.GetGoalRatio(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, gs.SetGoalRatio(ctx, "c1", 0))
	assert.Error(t, gs.SetGoalRatio(ctx, "", 0.2))
	require.NoError(t, gs.SetGoalRatio(ctx, "c1", 0.25))
	g, err := gs.GetGoalRatio(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0.25, g)
}

func TestCachedWeightStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	backing := NewInMemoryWeightStore()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	s := NewCachedWeightStore(backing, client, time.Minute, m, nil)
	ctx := context.Background()

	_, err := s.GetWeights(ctx, "US")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(weightKeyPrefix+"US"))

	require.NoError(t, s.SetWeights(ctx, models.WeightSet{Market: "US", T0: 0.5, Lifetime: 0.5}))

	got, err := s.GetWeights(ctx, "us")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.T0)
	assert.True(t, mr.Exists(weightKeyPrefix+"US"))
	assert.Equal(t, time.Minute, mr.TTL(weightKeyPrefix+"US"))

	got, err = s.GetWeights(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Lifetime)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WeightCacheOps.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WeightCacheOps.WithLabelValues("miss")))

	// an update invalidates the cached entry
	require.NoError(t, s.SetWeights(ctx, models.WeightSet{Market: "US", D30: 1}))
	assert.False(t, mr.Exists(weightKeyPrefix+"US"))
	got, err = s.GetWeights(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.D30)

	// corrupt entries fall through to the backing store
	require.NoError(t, mr.Set(weightKeyPrefix+"US", "{not json"))
	got, err = s.GetWeights(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.D30)
}

func TestCachedWeightStoreRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	backing := NewInMemoryWeightStore()
	require.NoError(t, backing.SetWeights(context.Background(), models.WeightSet{Market: "ALL", Lifetime: 1}))
	s := NewCachedWeightStore(backing, client, time.Minute, nil, nil)

	mr.Close()
	got, err := s.GetWeights(context.Background(), "ALL")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Lifetime)
}

func TestCachedWeightStoreSetWithRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	backing := NewInMemoryWeightStore()
	s := NewCachedWeightStore(backing, client, time.Minute, nil, nil)
	ctx := context.Background()

	mr.Close()
	require.NoError(t, s.SetWeights(ctx, models.WeightSet{Market: "US", T0: 1}), "saved update must not fail on cache invalidation")

	got, err := backing.GetWeights(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.T0)
}
