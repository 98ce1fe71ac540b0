package errors

import (
	"math"
)

// CheckNumericalStability checks if values contain NaN or Inf and returns
// an error carrying the offending values when they do.
func CheckNumericalStability(operation string, values []float64) error {
	var bad []float64
	first := -1
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			if first < 0 {
				first = i
			}
			bad = append(bad, v)
			if len(bad) >= 10 {
				break
			}
		}
	}
	if first >= 0 {
		return NewNumericalInstabilityError(operation, bad, first)
	}
	return nil
}
