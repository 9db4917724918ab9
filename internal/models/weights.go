package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// GlobalMarket is the market key of the default weight set.
const GlobalMarket = "ALL"

// WeightSumTolerance is how far the four weights may drift from 1.
const WeightSumTolerance = 0.01

// ErrInvalidWeights is returned for weight sets that fail validation.
var ErrInvalidWeights = errors.New("invalid weight set")

// WeightSet holds the operator-configured blend weights for one market.
type WeightSet struct {
	Market    string    `json:"market" yaml:"market"`
	T0        float64   `json:"t0" yaml:"t0"`
	D30       float64   `json:"d30" yaml:"d30"`
	D365      float64   `json:"d365" yaml:"d365"`
	Lifetime  float64   `json:"lifetime" yaml:"lifetime"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// For returns the weight assigned to a window.
func (w WeightSet) For(win Window) float64 {
	switch win {
	case WindowT0:
		return w.T0
	case WindowD30:
		return w.D30
	case WindowD365:
		return w.D365
	case WindowLifetime:
		return w.Lifetime
	}
	return 0
}

// Sum returns the total of all four weights.
func (w WeightSet) Sum() float64 {
	return w.T0 + w.D30 + w.D365 + w.Lifetime
}

// Validate checks each weight is in [0,1] and the four sum to 1 within tolerance.
func (w WeightSet) Validate() error {
	for _, win := range AllWindows {
		v := w.For(win)
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s weight %v out of [0,1]", ErrInvalidWeights, win, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightSumTolerance {
		return fmt.Errorf("%w: weights sum to %.4f, want 1 ± %.2f", ErrInvalidWeights, sum, WeightSumTolerance)
	}
	return nil
}

// NormalizeMarket upper-cases a market code, mapping empty to the global key.
func NormalizeMarket(market string) string {
	m := strings.ToUpper(strings.TrimSpace(market))
	if m == "" {
		return GlobalMarket
	}
	return m
}
