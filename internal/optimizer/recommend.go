package optimizer

import (
	"fmt"

	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/shopspring/decimal"
)

// BidDecision is the outcome of one bid policy evaluation.
type BidDecision struct {
	NewBid        decimal.Decimal
	Multiplier    float64
	ChangePercent float64
	Direction     models.Direction
	ZeroSales     bool
}

// DecideKeywordBid applies the windowed keyword policy to a blended ratio.
// Inside the acceptance band the bid is kept; otherwise it moves by
// goal/blended, clamped to [MinMultiplier, MaxMultiplier] of the current bid.
func (p Policy) DecideKeywordBid(current decimal.Decimal, goal, blended float64) BidDecision {
	if blended >= goal-p.Band && blended <= goal+p.Band {
		return BidDecision{NewBid: current, Multiplier: 1, Direction: models.DirectionMaintain}
	}

	multiplier := p.MaxMultiplier
	if blended > 0 {
		multiplier = clampFloat(goal/blended, p.MinMultiplier, p.MaxMultiplier)
	}

	direction := models.DirectionIncrease
	if blended > goal {
		direction = models.DirectionDecrease
	}

	newBid := clampBid(current, current.Mul(decimal.NewFromFloat(multiplier)), p.MinMultiplier, p.MaxMultiplier)
	return BidDecision{
		NewBid:        newBid,
		Multiplier:    multiplier,
		ChangePercent: changePercent(current, newBid),
		Direction:     direction,
	}
}

// DecideZeroSalesBid cuts the bid of a target with material clicks and no sales.
func (p Policy) DecideZeroSalesBid(current decimal.Decimal, clicks int64) BidDecision {
	multiplier := flatCutFor(clicks)
	newBid := clampBid(current, current.Mul(decimal.NewFromFloat(multiplier)), p.MinMultiplier, p.MaxMultiplier)
	return BidDecision{
		NewBid:        newBid,
		Multiplier:    multiplier,
		ChangePercent: changePercent(current, newBid),
		Direction:     models.DirectionDecrease,
		ZeroSales:     true,
	}
}

// clampBid rounds candidate to cents and keeps it inside
// [current*lo, current*hi]. Bounds are rounded inward so rounding can never
// push a bid outside them.
func clampBid(current, candidate decimal.Decimal, lo, hi float64) decimal.Decimal {
	lower := current.Mul(decimal.NewFromFloat(lo))
	upper := current.Mul(decimal.NewFromFloat(hi))

	bid := candidate.Round(2)
	if bid.LessThan(lower) {
		bid = lower.RoundCeil(2)
	}
	if bid.GreaterThan(upper) {
		bid = upper.RoundFloor(2)
	}
	return bid
}

func changePercent(current, next decimal.Decimal) float64 {
	if !current.IsPositive() {
		return 0
	}
	return next.Div(current).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}

func pct(ratio float64) string {
	return decimal.NewFromFloat(ratio*100).StringFixed(1) + "%"
}

func (p Policy) keywordRationale(d BidDecision, goal, blended float64) string {
	switch {
	case d.Direction == models.DirectionMaintain:
		return fmt.Sprintf("Blended ratio %s is within %s of the %s goal; keep the bid.",
			pct(blended), pct(p.Band), pct(goal))
	case d.Direction == models.DirectionDecrease:
		return fmt.Sprintf("Blended ratio %s is above the %s goal; decrease the bid by %.2f%%.",
			pct(blended), pct(goal), -d.ChangePercent)
	default:
		return fmt.Sprintf("Blended ratio %s is below the %s goal; increase the bid by %.2f%%.",
			pct(blended), pct(goal), d.ChangePercent)
	}
}

func zeroSalesRationale(d BidDecision, clicks int64, cost decimal.Decimal) string {
	return fmt.Sprintf("%d clicks and %s spend with no attributed sales; decrease the bid by %.2f%%.",
		clicks, cost.StringFixed(2), -d.ChangePercent)
}
