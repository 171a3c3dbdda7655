package strategy

import "math"

// DeviationPercent measures how far two leg quantities have drifted apart,
// as a percentage of the larger leg. Two flat legs have zero deviation.
func DeviationPercent(quantityA, quantityB float64) float64 {
	larger := math.Max(math.Abs(quantityA), math.Abs(quantityB))
	if larger == 0 {
		return 0
	}
	return math.Abs(quantityA-quantityB) / larger * 100
}

// deviationEpsilon absorbs float rounding in quantities derived from
// arithmetic (fills, step rounding) so an exact-threshold drift still
// triggers when the measured percent lands a few ulps short.
const deviationEpsilon = 1e-9

// DeviationExceeded reports whether the drift between two legs has reached
// the configured threshold. The comparison is inclusive: hitting the
// threshold exactly triggers a rebalance close.
func DeviationExceeded(quantityA, quantityB, thresholdPercent float64) bool {
	if thresholdPercent <= 0 {
		return false
	}
	return DeviationPercent(quantityA, quantityB) >= thresholdPercent-deviationEpsilon
}
