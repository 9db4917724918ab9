package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/radiusdt/bid-optimizer/internal/storage"
	"go.uber.org/zap"
)

// bidKinds are the target kinds that carry an absolute bid.
var bidKinds = []models.TargetKind{models.TargetKindKeyword, models.TargetKindProductTarget}

// Detector finds day-over-day bid changes in performance snapshots and
// appends them to the ledger. Runs are idempotent.
type Detector struct {
	rows         storage.PerformanceStore
	changes      storage.ChangeStore
	lookbackDays int
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithClock overrides the detector's clock.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

func NewDetector(rows storage.PerformanceStore, changes storage.ChangeStore, lookbackDays int, m *metrics.Metrics, logger *zap.Logger, opts ...DetectorOption) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{
		rows:         rows,
		changes:      changes,
		lookbackDays: lookbackDays,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run scans the lookback window and appends every new bid change.
func (d *Detector) Run(ctx context.Context) (*models.DetectionResult, error) {
	started := d.now().UTC()
	today := models.TruncateDay(started)
	rng := models.DateRange{Start: today.AddDate(0, 0, -d.lookbackDays), End: today}
	filter := models.ScopeFilter{Kinds: bidKinds}

	rows, err := d.rows.FetchPerformanceRows(ctx, filter, rng)
	if err != nil {
		d.metrics.RecordDetection(nil, err)
		return nil, fmt.Errorf("failed to fetch performance rows: %w", err)
	}

	result := &models.DetectionResult{
		BySource:    make(map[string]int),
		RowsScanned: len(rows),
		StartedAt:   started,
	}

	for _, rec := range DetectChanges(rows) {
		rec.ID = uuid.New().String()
		rec.CreatedAt = started
		inserted, err := d.changes.AppendChange(ctx, rec)
		if err != nil {
			d.metrics.RecordDetection(nil, err)
			return nil, fmt.Errorf("failed to append change for %s: %w", rec.Key(), err)
		}
		if inserted {
			result.ChangesDetected++
			result.BySource[rec.Source]++
		}
	}

	result.FinishedAt = d.now().UTC()
	d.metrics.RecordDetection(result.BySource, nil)
	d.logger.Info("Bid change detection finished",
		zap.Int("rows_scanned", result.RowsScanned),
		zap.Int("changes_detected", result.ChangesDetected),
		zap.Duration("duration", result.FinishedAt.Sub(started)),
	)
	return result, nil
}

// DetectChanges walks each target's daily bid snapshots in date order and
// returns a record for every consecutive pair whose bids differ. Days without
// a bid snapshot are skipped; when a day has several rows the last one wins.
func DetectChanges(rows []models.PerformanceRow) []*models.BidChangeRecord {
	type snapshot struct {
		row models.PerformanceRow
		day time.Time
	}
	byTarget := make(map[models.TargetKey][]snapshot)
	for _, r := range rows {
		if r.Kind != models.TargetKindKeyword && r.Kind != models.TargetKindProductTarget {
			continue
		}
		if !r.CurrentBid.Valid || !r.CurrentBid.Decimal.IsPositive() {
			continue
		}
		byTarget[r.Key()] = append(byTarget[r.Key()], snapshot{row: r, day: models.TruncateDay(r.Date)})
	}

	keys := make([]models.TargetKey, 0, len(byTarget))
	for k := range byTarget {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var out []*models.BidChangeRecord
	for _, k := range keys {
		snaps := byTarget[k]
		sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].day.Before(snaps[j].day) })

		// collapse to one snapshot per day
		daily := snaps[:0]
		for _, s := range snaps {
			if n := len(daily); n > 0 && daily[n-1].day.Equal(s.day) {
				daily[n-1] = s
				continue
			}
			daily = append(daily, s)
		}

		for i := 1; i < len(daily); i++ {
			prev, cur := daily[i-1].row, daily[i].row
			if prev.CurrentBid.Decimal.Equal(cur.CurrentBid.Decimal) {
				continue
			}
			out = append(out, &models.BidChangeRecord{
				TargetID:  cur.TargetID,
				Scope:     cur.Scope,
				Market:    cur.Market,
				Source:    cur.Source,
				OldBid:    prev.CurrentBid.Decimal,
				NewBid:    cur.CurrentBid.Decimal,
				ChangedAt: daily[i].day,
				Origin:    models.ChangeOriginDetected,
			})
		}
	}
	return out
}
