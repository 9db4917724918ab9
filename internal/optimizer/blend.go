package optimizer

import "github.com/radiusdt/bid-optimizer/internal/models"

// Blend combines the window ratios with the weight set. Only defined ratios
// take part and the result is renormalized over their weights, so a missing
// window never drags the blend toward zero. ok is false when no window with a
// non-zero weight has a usable ratio.
func Blend(ratios map[models.Window]models.Ratio, weights models.WeightSet) (blended float64, ok bool) {
	var weighted, total float64
	for _, win := range models.AllWindows {
		r, found := ratios[win]
		if !found || !r.Usable() {
			continue
		}
		w := weights.For(win)
		weighted += w * r.Value
		total += w
	}
	if total <= 0 {
		return 0, false
	}
	return weighted / total, true
}
