package optimizer

import (
	"fmt"

	"github.com/radiusdt/bid-optimizer/internal/config"
)

// Policy holds the thresholds and bounds the engine applies.
type Policy struct {
	// MinClicks is the volume below which a window ratio is undefined.
	MinClicks int64
	// NegativeClicks is the click floor for negative-target candidates.
	NegativeClicks int64
	CooldownDays   int

	// Band is the absolute acceptance band around the goal for keyword bids.
	Band          float64
	MinMultiplier float64
	MaxMultiplier float64

	// FallbackBand is relative to the goal (0.10 = within 10% of goal).
	FallbackBand          float64
	FallbackMinMultiplier float64
	FallbackMaxMultiplier float64

	ModifierMin float64
	ModifierMax float64

	MaxTargets int
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinClicks:             30,
		NegativeClicks:        20,
		CooldownDays:          14,
		Band:                  0.03,
		MinMultiplier:         0.5,
		MaxMultiplier:         1.5,
		FallbackBand:          0.10,
		FallbackMinMultiplier: 0.20,
		FallbackMaxMultiplier: 1.50,
		ModifierMin:           0,
		ModifierMax:           900,
		MaxTargets:            500,
	}
}

// PolicyFromConfig maps optimizer configuration onto a Policy.
func PolicyFromConfig(cfg config.OptimizerConfig) Policy {
	return Policy{
		MinClicks:             int64(cfg.MinClicks),
		NegativeClicks:        int64(cfg.NegativeClicks),
		CooldownDays:          cfg.CooldownDays,
		Band:                  cfg.Band,
		MinMultiplier:         cfg.MinMultiplier,
		MaxMultiplier:         cfg.MaxMultiplier,
		FallbackBand:          cfg.FallbackBand,
		FallbackMinMultiplier: cfg.FallbackMinMultiplier,
		FallbackMaxMultiplier: cfg.FallbackMaxMultiplier,
		ModifierMin:           cfg.ModifierMin,
		ModifierMax:           cfg.ModifierMax,
		MaxTargets:            cfg.MaxTargets,
	}
}

// Validate rejects bounds that would make the clamps meaningless.
func (p Policy) Validate() error {
	if p.MinClicks <= 0 || p.NegativeClicks <= 0 {
		return fmt.Errorf("click thresholds must be positive")
	}
	if p.CooldownDays < 0 {
		return fmt.Errorf("cooldown days must not be negative")
	}
	if p.MinMultiplier <= 0 || p.MinMultiplier > 1 || p.MaxMultiplier < 1 {
		return fmt.Errorf("keyword multiplier bounds [%v, %v] must bracket 1", p.MinMultiplier, p.MaxMultiplier)
	}
	if p.FallbackMinMultiplier <= 0 || p.FallbackMinMultiplier > 1 || p.FallbackMaxMultiplier < 1 {
		return fmt.Errorf("fallback multiplier bounds [%v, %v] must bracket 1", p.FallbackMinMultiplier, p.FallbackMaxMultiplier)
	}
	if p.ModifierMin > p.ModifierMax {
		return fmt.Errorf("modifier bounds inverted")
	}
	if p.Band < 0 || p.FallbackBand < 0 {
		return fmt.Errorf("acceptance bands must not be negative")
	}
	if p.MaxTargets <= 0 {
		return fmt.Errorf("max targets must be positive")
	}
	return nil
}

// stepFor returns the scaled increase (in percent or points) for a click volume.
func stepFor(clicks int64) float64 {
	switch {
	case clicks >= 300:
		return 20
	case clicks >= 100:
		return 15
	default:
		return 10
	}
}

// flatCutFor returns the zero-sales bid cut multiplier.
func flatCutFor(clicks int64) float64 {
	if clicks >= 100 {
		return 0.70
	}
	return 0.85
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
