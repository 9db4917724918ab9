package storage

import (
	"context"
	"errors"

	"github.com/radiusdt/bid-optimizer/internal/models"
)

// ErrNotFound is returned when a configured entity does not exist.
var ErrNotFound = errors.New("not found")

// =============================================
// PERFORMANCE ROWS
// =============================================

// PerformanceStore reads daily performance rows. Implementations are
// read-only; rows are owned by the reporting pipeline.
type PerformanceStore interface {
	FetchPerformanceRows(ctx context.Context, filter models.ScopeFilter, rng models.DateRange) ([]models.PerformanceRow, error)
}

// =============================================
// CHANGE HISTORY LEDGER
// =============================================

// ChangeStore persists the append-only bid change history.
type ChangeStore interface {
	// AppendChange inserts rec unless a record for the same target, scope and
	// date already exists. inserted reports whether a row was written.
	AppendChange(ctx context.Context, rec *models.BidChangeRecord) (inserted bool, err error)
	// LastChange returns the most recent record for the target, or nil.
	LastChange(ctx context.Context, key models.TargetKey) (*models.BidChangeRecord, error)
	// ListChanges returns the target's history, newest first.
	ListChanges(ctx context.Context, key models.TargetKey) ([]*models.BidChangeRecord, error)
}

// =============================================
// CONFIGURATION
// =============================================

// WeightStore holds one WeightSet per market key.
type WeightStore interface {
	// GetWeights returns ErrNotFound when the market has no row.
	GetWeights(ctx context.Context, market string) (*models.WeightSet, error)
	// SetWeights replaces the market's row as a whole.
	SetWeights(ctx context.Context, ws models.WeightSet) error
	ListWeights(ctx context.Context) ([]models.WeightSet, error)
}

// GoalStore holds the goal cost-to-sales ratio configured per campaign.
type GoalStore interface {
	// GetGoalRatio returns ErrNotFound when the campaign has no goal.
	GetGoalRatio(ctx context.Context, campaignID string) (float64, error)
	SetGoalRatio(ctx context.Context, campaignID string, goal float64) error
}
