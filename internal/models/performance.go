package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TargetKind identifies what kind of ad target a row describes.
type TargetKind string

const (
	TargetKindKeyword       TargetKind = "keyword"
	TargetKindProductTarget TargetKind = "product_target"
	TargetKindPlacement     TargetKind = "placement"
	TargetKindSearchTerm    TargetKind = "search_term"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	switch k {
	case TargetKindKeyword, TargetKindProductTarget, TargetKindPlacement, TargetKindSearchTerm:
		return true
	}
	return false
}

// Scope locates a target inside the campaign hierarchy.
type Scope struct {
	CampaignID string `json:"campaign_id"`
	AdGroupID  string `json:"ad_group_id,omitempty"`
}

// TargetKey uniquely identifies a target within its scope.
type TargetKey struct {
	TargetID   string `json:"target_id"`
	CampaignID string `json:"campaign_id"`
	AdGroupID  string `json:"ad_group_id,omitempty"`
}

// Scope returns the campaign/ad group part of the key.
func (k TargetKey) Scope() Scope {
	return Scope{CampaignID: k.CampaignID, AdGroupID: k.AdGroupID}
}

func (k TargetKey) String() string {
	return k.CampaignID + "/" + k.AdGroupID + "/" + k.TargetID
}

// PerformanceRow is one day of performance for one target. Rows are owned by
// the reporting pipeline and never modified by the optimizer.
type PerformanceRow struct {
	TargetID string     `json:"target_id"`
	Kind     TargetKind `json:"kind"`
	Scope    Scope      `json:"scope"`
	Market   string     `json:"market"`
	Source   string     `json:"source"` // ad product: sp, sb, sd
	Date     time.Time  `json:"date"`

	Clicks int64           `json:"clicks"`
	Cost   decimal.Decimal `json:"cost"`
	Sales  decimal.Decimal `json:"sales"`
	Orders int64           `json:"orders"`

	// CurrentBid is the bid snapshot for the day; null when the report had none.
	CurrentBid decimal.NullDecimal `json:"current_bid"`
	// CurrentModifier is the placement bid modifier in percentage points.
	CurrentModifier decimal.NullDecimal `json:"current_modifier,omitempty"`
}

// Key returns the target key for the row.
func (r PerformanceRow) Key() TargetKey {
	return TargetKey{
		TargetID:   r.TargetID,
		CampaignID: r.Scope.CampaignID,
		AdGroupID:  r.Scope.AdGroupID,
	}
}

// Window names a trailing aggregation period.
type Window string

const (
	WindowT0       Window = "t0"
	WindowD30      Window = "d30"
	WindowD365     Window = "d365"
	WindowLifetime Window = "lifetime"
)

// AllWindows lists the windows in blending order.
var AllWindows = []Window{WindowT0, WindowD30, WindowD365, WindowLifetime}

// WindowMetrics holds summed performance for one window.
type WindowMetrics struct {
	Window Window          `json:"window"`
	Clicks int64           `json:"clicks"`
	Cost   decimal.Decimal `json:"cost"`
	Sales  decimal.Decimal `json:"sales"`
	Orders int64           `json:"orders"`
}

// Add accumulates a row into the window.
func (m *WindowMetrics) Add(r PerformanceRow) {
	m.Clicks += r.Clicks
	m.Cost = m.Cost.Add(r.Cost)
	m.Sales = m.Sales.Add(r.Sales)
	m.Orders += r.Orders
}

// ConfidenceTier classifies how much click volume backs a signal.
type ConfidenceTier int

const (
	ConfidenceLow ConfidenceTier = iota
	ConfidenceOK
	ConfidenceGood
	ConfidenceHigh
	ConfidenceExtreme
)

func (t ConfidenceTier) String() string {
	switch t {
	case ConfidenceOK:
		return "ok"
	case ConfidenceGood:
		return "good"
	case ConfidenceHigh:
		return "high"
	case ConfidenceExtreme:
		return "extreme"
	default:
		return "low"
	}
}

// MarshalText encodes the tier by name.
func (t ConfidenceTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// RatioKind distinguishes a usable ratio from missing or no-sales signals.
type RatioKind int

const (
	RatioUndefined RatioKind = iota
	RatioDefined
	// RatioUnboundedHigh marks material clicks with zero sales. It is never blended.
	RatioUnboundedHigh
)

// Ratio is a cost-to-sales fraction (0.20 = 20%).
type Ratio struct {
	Kind  RatioKind
	Value float64
}

// Usable reports whether the ratio may take part in blending.
func (r Ratio) Usable() bool {
	return r.Kind == RatioDefined
}

// MarshalJSON renders undefined ratios as null and the sentinel as a string.
func (r Ratio) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RatioDefined:
		return []byte(decimal.NewFromFloat(r.Value).Round(4).String()), nil
	case RatioUnboundedHigh:
		return []byte(`"unbounded"`), nil
	default:
		return []byte("null"), nil
	}
}
