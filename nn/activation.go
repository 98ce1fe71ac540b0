package nn

import (
	"math"

	"github.com/YuminosukeSato/kittycat/core/tensor"
)

// ELU is the exponential linear unit: x for x > 0, α(eˣ-1) otherwise.
type ELU struct {
	Alpha float64
}

// NewELU returns an ELU with α = 1.
func NewELU() ELU {
	return ELU{Alpha: 1}
}

// Forward applies the activation elementwise.
func (e ELU) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Map(x, func(v float64) float64 {
		if v > 0 {
			return v
		}
		return e.Alpha * math.Expm1(v)
	})
}

// ReLU applies max(0, x) elementwise.
func ReLU(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Map(x, func(v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	})
}
