package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeOrigin says how a bid change entered the ledger.
type ChangeOrigin string

const (
	ChangeOriginDetected ChangeOrigin = "detected"
	ChangeOriginApplied  ChangeOrigin = "applied"
)

// BidChangeRecord is one append-only entry of the change history ledger.
type BidChangeRecord struct {
	ID        string          `json:"id"`
	TargetID  string          `json:"target_id"`
	Scope     Scope           `json:"scope"`
	Market    string          `json:"market"`
	Source    string          `json:"source"`
	OldBid    decimal.Decimal `json:"old_bid"`
	NewBid    decimal.Decimal `json:"new_bid"`
	ChangedAt time.Time       `json:"changed_at"`
	Origin    ChangeOrigin    `json:"origin"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key returns the target key of the record.
func (r BidChangeRecord) Key() TargetKey {
	return TargetKey{TargetID: r.TargetID, CampaignID: r.Scope.CampaignID, AdGroupID: r.Scope.AdGroupID}
}

// Direction is the sense of a recommended change.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionMaintain Direction = "maintain"
)

// Recommendation is a proposed bid (or placement modifier) change for one target.
type Recommendation struct {
	TargetID string     `json:"target_id"`
	Kind     TargetKind `json:"kind"`
	Scope    Scope      `json:"scope"`
	Market   string     `json:"market"`

	CurrentBid     decimal.Decimal `json:"current_bid"`
	RecommendedBid decimal.Decimal `json:"recommended_bid"`
	// Modifier fields are set for placement recommendations only.
	CurrentModifier     *decimal.Decimal `json:"current_modifier,omitempty"`
	RecommendedModifier *decimal.Decimal `json:"recommended_modifier,omitempty"`

	ChangePercent float64   `json:"change_percent"`
	Direction     Direction `json:"direction"`

	GoalRatio     float64          `json:"goal_ratio"`
	BlendedRatio  *float64         `json:"blended_ratio"`
	WindowRatios  map[Window]Ratio `json:"window_ratios,omitempty"`
	WindowMetrics []WindowMetrics  `json:"window_metrics,omitempty"`

	ConfidenceTier      ConfidenceTier  `json:"confidence_tier"`
	DaysSinceLastChange *int            `json:"days_since_last_change"`
	CPC                 decimal.Decimal `json:"cpc"`
	CVR                 float64         `json:"cvr"`

	Rationale string `json:"rationale"`
}

// NegativeCandidate is a target with material clicks and no attributed sales.
type NegativeCandidate struct {
	TargetID string          `json:"target_id"`
	Kind     TargetKind      `json:"kind"`
	Scope    Scope           `json:"scope"`
	Market   string          `json:"market"`
	Clicks   int64           `json:"clicks"`
	Cost     decimal.Decimal `json:"cost"`
	CPC      decimal.Decimal `json:"cpc"`
}

// Skip reasons reported in a RecommendationSummary.
const (
	SkipLowConfidence = "low_confidence"
	SkipCooldown      = "cooldown"
	SkipNoBid         = "no_current_bid"
	SkipNoSignal      = "no_signal"
	SkipInsufficient  = "insufficient_clicks"
	SkipLedgerLookup  = "ledger_unavailable"
	SkipNoModifier    = "no_current_modifier"
)

// RecommendationSummary explains what an engine run produced.
type RecommendationSummary struct {
	Analyzed   int            `json:"analyzed"`
	Produced   int            `json:"produced"`
	Increases  int            `json:"increases"`
	Decreases  int            `json:"decreases"`
	Maintained int            `json:"maintained"`
	Skipped    map[string]int `json:"skipped"`
	Truncated  bool           `json:"truncated"`
	Message    string         `json:"message"`
}

// RecommendationResult is the output of one engine invocation.
type RecommendationResult struct {
	Recommendations []Recommendation      `json:"recommendations"`
	Summary         RecommendationSummary `json:"summary"`
	GeneratedAt     time.Time             `json:"generated_at"`
}

// DetectionResult reports a change-detection batch run.
type DetectionResult struct {
	ChangesDetected int            `json:"changes_detected"`
	BySource        map[string]int `json:"by_source_breakdown"`
	RowsScanned     int            `json:"rows_scanned"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}
