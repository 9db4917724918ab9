package optimizer

import (
	"fmt"
	"math"

	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/shopspring/decimal"
)

// DecideSearchTermBid applies the single-window policy used for search terms,
// which have no bid history to blend over. ok is false under MinClicks.
func (p Policy) DecideSearchTermBid(m models.WindowMetrics, goal float64, base decimal.Decimal) (BidDecision, bool) {
	if m.Clicks < p.MinClicks {
		return BidDecision{}, false
	}

	var multiplier float64
	zeroSales := !m.Sales.IsPositive()
	switch {
	case zeroSales:
		multiplier = flatCutFor(m.Clicks)
	default:
		ratio := m.Cost.Div(m.Sales).InexactFloat64()
		switch {
		case ratio < 0.8*goal:
			multiplier = 1 + stepFor(m.Clicks)/100
		case math.Abs(ratio-goal) <= p.FallbackBand*goal:
			multiplier = 1
		default:
			multiplier = goal / ratio
		}
	}

	newBid := clampBid(base, base.Mul(decimal.NewFromFloat(multiplier)), p.FallbackMinMultiplier, p.FallbackMaxMultiplier)
	d := BidDecision{
		NewBid:        newBid,
		Multiplier:    multiplier,
		ChangePercent: changePercent(base, newBid),
		ZeroSales:     zeroSales,
	}
	switch {
	case multiplier > 1:
		d.Direction = models.DirectionIncrease
	case multiplier < 1:
		d.Direction = models.DirectionDecrease
	default:
		d.Direction = models.DirectionMaintain
	}
	return d, true
}

func searchTermRationale(d BidDecision, m models.WindowMetrics, goal float64) string {
	if d.ZeroSales {
		return zeroSalesRationale(d, m.Clicks, m.Cost)
	}
	ratio := m.Cost.Div(m.Sales).InexactFloat64()
	switch d.Direction {
	case models.DirectionMaintain:
		return fmt.Sprintf("Ratio %s is close to the %s goal; keep the bid.", pct(ratio), pct(goal))
	case models.DirectionIncrease:
		return fmt.Sprintf("Ratio %s is below the %s goal over %d clicks; increase the bid by %.2f%%.",
			pct(ratio), pct(goal), m.Clicks, d.ChangePercent)
	default:
		return fmt.Sprintf("Ratio %s is above the %s goal; decrease the bid by %.2f%%.",
			pct(ratio), pct(goal), -d.ChangePercent)
	}
}
