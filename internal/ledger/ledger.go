package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/radiusdt/bid-optimizer/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidChange is returned for applied changes that fail validation.
var ErrInvalidChange = errors.New("invalid change")

// Ledger answers cooldown and T0 questions from the bid change history.
type Ledger struct {
	store   storage.ChangeStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(store storage.ChangeStore, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, metrics: m, logger: logger}
}

// LastChange returns the most recent change for the target, or nil.
func (l *Ledger) LastChange(ctx context.Context, key models.TargetKey) (*models.BidChangeRecord, error) {
	rec, err := l.store.LastChange(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get last change for %s: %w", key, err)
	}
	return rec, nil
}

// History returns the target's change records, newest first.
func (l *Ledger) History(ctx context.Context, key models.TargetKey) ([]*models.BidChangeRecord, error) {
	recs, err := l.store.ListChanges(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes for %s: %w", key, err)
	}
	return recs, nil
}

// DaysSince returns whole days from the last change to today, or nil when
// the target has never changed.
func DaysSince(last *models.BidChangeRecord, today time.Time) *int {
	if last == nil {
		return nil
	}
	d := models.DaysBetween(last.ChangedAt, today)
	return &d
}

// Eligible reports whether the cooldown since the last change has elapsed.
// A target with no change on record is always eligible.
func Eligible(last *models.BidChangeRecord, today time.Time, cooldownDays int) bool {
	if last == nil {
		return true
	}
	return models.DaysBetween(last.ChangedAt, today) >= cooldownDays
}

// AppliedChange is an operator-accepted bid change.
type AppliedChange struct {
	TargetID  string          `json:"target_id"`
	Scope     models.Scope    `json:"scope"`
	Market    string          `json:"market"`
	Source    string          `json:"source"`
	OldBid    decimal.Decimal `json:"old_bid"`
	NewBid    decimal.Decimal `json:"new_bid"`
	ChangedAt time.Time       `json:"changed_at"`
}

func (c AppliedChange) validate() error {
	if c.TargetID == "" || c.Scope.CampaignID == "" {
		return fmt.Errorf("%w: target_id and campaign_id are required", ErrInvalidChange)
	}
	if !c.NewBid.IsPositive() {
		return fmt.Errorf("%w: new_bid must be positive", ErrInvalidChange)
	}
	if c.OldBid.Equal(c.NewBid) {
		return fmt.Errorf("%w: new_bid equals old_bid", ErrInvalidChange)
	}
	return nil
}

// RecordApplied appends an applied change so it feeds cooldown gating.
// Recording the same target and date twice is a no-op; the returned bool
// reports whether a record was written.
func (l *Ledger) RecordApplied(ctx context.Context, c AppliedChange) (*models.BidChangeRecord, bool, error) {
	if err := c.validate(); err != nil {
		return nil, false, err
	}
	changedAt := c.ChangedAt
	if changedAt.IsZero() {
		changedAt = time.Now()
	}
	rec := &models.BidChangeRecord{
		ID:        uuid.New().String(),
		TargetID:  c.TargetID,
		Scope:     c.Scope,
		Market:    c.Market,
		Source:    c.Source,
		OldBid:    c.OldBid,
		NewBid:    c.NewBid,
		ChangedAt: models.TruncateDay(changedAt),
		Origin:    models.ChangeOriginApplied,
		CreatedAt: time.Now().UTC(),
	}
	inserted, err := l.store.AppendChange(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to append change: %w", err)
	}
	if inserted {
		l.metrics.RecordAppliedChange()
		l.logger.Info("Applied bid change recorded",
			zap.String("target", rec.Key().String()),
			zap.String("old_bid", rec.OldBid.String()),
			zap.String("new_bid", rec.NewBid.String()),
		)
	}
	return rec, inserted, nil
}
