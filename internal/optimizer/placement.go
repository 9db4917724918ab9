package optimizer

import (
	"fmt"

	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/shopspring/decimal"
)

// ModifierDecision is a placement bid-modifier change in percentage points.
type ModifierDecision struct {
	Delta       float64
	NewModifier decimal.Decimal
	Direction   models.Direction
	ZeroSales   bool
}

// DecidePlacementModifier moves a placement modifier toward the goal ratio.
// The delta is rounded to hundredths of a point and the result is kept within
// [ModifierMin, ModifierMax]. ok is false under MinClicks.
func (p Policy) DecidePlacementModifier(m models.WindowMetrics, goal float64, current decimal.Decimal) (ModifierDecision, bool) {
	if m.Clicks < p.MinClicks {
		return ModifierDecision{}, false
	}

	var delta float64
	zeroSales := !m.Sales.IsPositive()
	if zeroSales {
		delta = -25
	} else {
		ratio := m.Cost.Div(m.Sales).InexactFloat64()
		switch {
		case ratio <= 0.8*goal:
			delta = stepFor(m.Clicks)
		case ratio > goal:
			delta = clampFloat((goal/ratio-1)*100, -50, 0)
		default:
			delta = clampFloat((goal/ratio-1)*100, -10, 10)
		}
	}

	next := current.Add(decimal.NewFromFloat(delta).Round(2))
	lo := decimal.NewFromFloat(p.ModifierMin)
	hi := decimal.NewFromFloat(p.ModifierMax)
	if next.LessThan(lo) {
		next = lo
	}
	if next.GreaterThan(hi) {
		next = hi
	}

	applied := next.Sub(current)
	d := ModifierDecision{
		Delta:       applied.InexactFloat64(),
		NewModifier: next,
		ZeroSales:   zeroSales,
	}
	switch applied.Sign() {
	case 1:
		d.Direction = models.DirectionIncrease
	case -1:
		d.Direction = models.DirectionDecrease
	default:
		d.Direction = models.DirectionMaintain
	}
	return d, true
}

func placementRationale(d ModifierDecision, m models.WindowMetrics, goal float64) string {
	if d.ZeroSales {
		return fmt.Sprintf("%d clicks with no attributed sales; lower the placement modifier by %s points.",
			m.Clicks, decimal.NewFromFloat(-d.Delta).String())
	}
	ratio := m.Cost.Div(m.Sales).InexactFloat64()
	switch d.Direction {
	case models.DirectionMaintain:
		return fmt.Sprintf("Placement ratio %s against a %s goal; keep the modifier.", pct(ratio), pct(goal))
	case models.DirectionIncrease:
		return fmt.Sprintf("Placement ratio %s is below the %s goal; raise the modifier by %s points.",
			pct(ratio), pct(goal), decimal.NewFromFloat(d.Delta).String())
	default:
		return fmt.Sprintf("Placement ratio %s is above the %s goal; lower the modifier by %s points.",
			pct(ratio), pct(goal), decimal.NewFromFloat(-d.Delta).String())
	}
}
