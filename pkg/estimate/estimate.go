// Package estimate derives case counts from a detected unit count and the
// configured weights.
package estimate

import (
	"fmt"
	"math"

	"github.com/menta2k/fruitcount/pkg/types"
)

// gramsPerKilogram reconciles unit weight (g) with container weight (kg)
const gramsPerKilogram = 1000

// Cases returns the estimated number of containers filled by count units.
// A non-positive container weight means the estimate is not meaningful yet
// and yields 0.
func Cases(count int, averageUnitWeight, containerWeight float64) float64 {
	if containerWeight <= 0 || math.IsNaN(containerWeight) || math.IsInf(containerWeight, 0) {
		return 0
	}
	return (float64(count) * averageUnitWeight) / (containerWeight * gramsPerKilogram)
}

// ForResult computes cases for a detection result, 0 when there is none
func ForResult(result *types.DetectionResult, weights types.WeightConfig) float64 {
	if result == nil {
		return 0
	}
	return Cases(result.Count, weights.AverageUnitWeight, weights.ContainerWeight)
}

// Displayable reports whether an estimate should be shown at all
func Displayable(result *types.DetectionResult, weights types.WeightConfig) bool {
	return ForResult(result, weights) > 0
}

// Format renders cases with two decimals, or "" when there is nothing to show
func Format(cases float64) string {
	if !(cases > 0) || math.IsInf(cases, 0) {
		return ""
	}
	return fmt.Sprintf("%.2f", cases)
}
