package nn

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
)

// Linear applies y = x·Wᵀ + b over the last axis.
type Linear struct {
	In  int
	Out int

	// Weight has shape (Out, In).
	Weight *mat.Dense
	// Bias is nil for bias-free layers.
	Bias []float64
}

// NewLinear creates a Linear layer initialised from src.
func NewLinear(in, out int, bias bool, src rand.Source) *Linear {
	w := make([]float64, out*in)
	FanInUniformFill(w, in, src)
	l := &Linear{In: in, Out: out, Weight: mat.NewDense(out, in, w)}
	if bias {
		l.Bias = make([]float64, out)
		FanInUniformFill(l.Bias, in, src)
	}
	return l
}

// Forward maps (..., In) to (..., Out).
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := tensor.MatMulLastDim(x, l.Weight)
	if l.Bias != nil {
		y = tensor.AddLastDim(y, l.Bias)
	}
	return y
}

// StateDict returns copies of the layer's parameters.
func (l *Linear) StateDict() model.StateDict {
	sd := model.StateDict{
		"weight": model.NewParameter(l.Weight.RawMatrix().Data, l.Out, l.In),
	}
	if l.Bias != nil {
		sd["bias"] = model.NewParameter(l.Bias, l.Out)
	}
	return sd
}

// LoadStateDict copies parameters into the layer.
func (l *Linear) LoadStateDict(sd model.StateDict) error {
	if err := sd.Assign("weight", l.Weight.RawMatrix().Data, l.Out, l.In); err != nil {
		return err
	}
	if l.Bias != nil {
		return sd.Assign("bias", l.Bias, l.Out)
	}
	return nil
}
