package optimizer

import (
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/shopspring/decimal"
)

// ComputeRatio derives the cost-to-sales ratio of a window. Windows under
// minClicks have no ratio; zero sales above it yield the unbounded sentinel.
func ComputeRatio(m models.WindowMetrics, minClicks int64) models.Ratio {
	if m.Clicks < minClicks {
		return models.Ratio{Kind: models.RatioUndefined}
	}
	if m.Sales.IsPositive() {
		return models.Ratio{Kind: models.RatioDefined, Value: m.Cost.Div(m.Sales).InexactFloat64()}
	}
	return models.Ratio{Kind: models.RatioUnboundedHigh}
}

// ComputeRatios returns the ratio of every window.
func ComputeRatios(w Windows, minClicks int64) map[models.Window]models.Ratio {
	out := make(map[models.Window]models.Ratio, len(models.AllWindows))
	for _, win := range models.AllWindows {
		out[win] = ComputeRatio(w.Get(win), minClicks)
	}
	return out
}

// CPC is cost per click, zero without clicks.
func CPC(m models.WindowMetrics) decimal.Decimal {
	if m.Clicks == 0 {
		return decimal.Zero
	}
	return m.Cost.Div(decimal.NewFromInt(m.Clicks))
}

// CVR is orders per click in percent, zero without clicks.
func CVR(m models.WindowMetrics) float64 {
	if m.Clicks == 0 {
		return 0
	}
	return float64(m.Orders) / float64(m.Clicks) * 100
}

// TierFor classifies lifetime click volume.
func TierFor(lifetimeClicks int64) models.ConfidenceTier {
	switch {
	case lifetimeClicks >= 1000:
		return models.ConfidenceExtreme
	case lifetimeClicks >= 300:
		return models.ConfidenceHigh
	case lifetimeClicks >= 100:
		return models.ConfidenceGood
	case lifetimeClicks >= 30:
		return models.ConfidenceOK
	default:
		return models.ConfidenceLow
	}
}
