package nn

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
)

// Default normalisation constants.
const (
	DefaultEps      = 1e-5
	DefaultMomentum = 0.1
)

// BatchNorm1d normalises each channel of (B, C) or (B, C, L) inputs.
//
// In training mode it uses the statistics of the current batch and updates
// the running estimates; in evaluation mode it uses the running estimates.
// Forward in training mode mutates the layer and must not run concurrently.
type BatchNorm1d struct {
	model.Base

	Features int
	Eps      float64
	Momentum float64

	Weight      []float64
	Bias        []float64
	RunningMean []float64
	RunningVar  []float64

	NumBatchesTracked int64
}

// NewBatchNorm1d creates a layer with unit scale, zero shift, zero running
// mean and unit running variance.
func NewBatchNorm1d(features int) *BatchNorm1d {
	bn := &BatchNorm1d{
		Features:    features,
		Eps:         DefaultEps,
		Momentum:    DefaultMomentum,
		Weight:      make([]float64, features),
		Bias:        make([]float64, features),
		RunningMean: make([]float64, features),
		RunningVar:  make([]float64, features),
	}
	for i := 0; i < features; i++ {
		bn.Weight[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

// Forward normalises x along the channel axis (axis 1).
func (bn *BatchNorm1d) Forward(x *tensor.Tensor) *tensor.Tensor {
	if (x.Dims() != 2 && x.Dims() != 3) || x.Dim(1) != bn.Features {
		panic(fmt.Sprintf("nn: batchnorm1d expects (B, %d) or (B, %d, L), got %v", bn.Features, bn.Features, x.Shape()))
	}
	b, c := x.Dim(0), x.Dim(1)
	l := 1
	if x.Dims() == 3 {
		l = x.Dim(2)
	}

	mean, variance := bn.RunningMean, bn.RunningVar
	if bn.IsTraining() {
		mean, variance = bn.batchStats(x.Data(), b, c, l)
	}

	out := tensor.New(x.Shape()...)
	xd, od := x.Data(), out.Data()
	for n := 0; n < b; n++ {
		for ch := 0; ch < c; ch++ {
			scale := bn.Weight[ch] / math.Sqrt(variance[ch]+bn.Eps)
			off := (n*c + ch) * l
			for t := 0; t < l; t++ {
				od[off+t] = (xd[off+t]-mean[ch])*scale + bn.Bias[ch]
			}
		}
	}
	return out
}

// batchStats returns the per-channel mean and biased variance and folds
// them into the running estimates.
func (bn *BatchNorm1d) batchStats(xd []float64, b, c, l int) (mean, variance []float64) {
	mean = make([]float64, c)
	variance = make([]float64, c)
	count := float64(b * l)
	for ch := 0; ch < c; ch++ {
		var sum float64
		for n := 0; n < b; n++ {
			for _, v := range xd[(n*c+ch)*l : (n*c+ch+1)*l] {
				sum += v
			}
		}
		mean[ch] = sum / count
		var sq float64
		for n := 0; n < b; n++ {
			for _, v := range xd[(n*c+ch)*l : (n*c+ch+1)*l] {
				d := v - mean[ch]
				sq += d * d
			}
		}
		variance[ch] = sq / count

		unbiased := variance[ch]
		if count > 1 {
			unbiased = sq / (count - 1)
		}
		bn.RunningMean[ch] = (1-bn.Momentum)*bn.RunningMean[ch] + bn.Momentum*mean[ch]
		bn.RunningVar[ch] = (1-bn.Momentum)*bn.RunningVar[ch] + bn.Momentum*unbiased
	}
	bn.NumBatchesTracked++
	return mean, variance
}

// StateDict returns copies of the parameters and running statistics.
func (bn *BatchNorm1d) StateDict() model.StateDict {
	return model.StateDict{
		"weight":              model.NewParameter(bn.Weight, bn.Features),
		"bias":                model.NewParameter(bn.Bias, bn.Features),
		"running_mean":        model.NewParameter(bn.RunningMean, bn.Features),
		"running_var":         model.NewParameter(bn.RunningVar, bn.Features),
		"num_batches_tracked": model.NewParameter([]float64{float64(bn.NumBatchesTracked)}),
	}
}

// LoadStateDict copies parameters into the layer. num_batches_tracked is
// optional.
func (bn *BatchNorm1d) LoadStateDict(sd model.StateDict) error {
	for _, p := range []struct {
		name string
		dst  []float64
	}{
		{"weight", bn.Weight},
		{"bias", bn.Bias},
		{"running_mean", bn.RunningMean},
		{"running_var", bn.RunningVar},
	} {
		if err := sd.Assign(p.name, p.dst, bn.Features); err != nil {
			return err
		}
	}
	if p, ok := sd["num_batches_tracked"]; ok && len(p.Data) == 1 {
		bn.NumBatchesTracked = int64(p.Data[0])
	}
	return nil
}

// LayerNorm normalises over the last axis.
type LayerNorm struct {
	Features int
	Eps      float64
	Weight   []float64
	Bias     []float64
}

// NewLayerNorm creates a LayerNorm with unit scale and zero shift.
func NewLayerNorm(features int) *LayerNorm {
	ln := &LayerNorm{
		Features: features,
		Eps:      DefaultEps,
		Weight:   make([]float64, features),
		Bias:     make([]float64, features),
	}
	for i := range ln.Weight {
		ln.Weight[i] = 1
	}
	return ln
}

// Forward normalises every row of the last axis independently.
func (ln *LayerNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Dim(-1) != ln.Features {
		panic(fmt.Sprintf("nn: layernorm expects last dimension %d, got %v", ln.Features, x.Shape()))
	}
	out := x.Clone()
	d := out.Data()
	n := ln.Features
	for off := 0; off < len(d); off += n {
		row := d[off : off+n]
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(n)
		var variance float64
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(n)
		std := math.Sqrt(variance + ln.Eps)
		for j, v := range row {
			row[j] = (v-mean)/std*ln.Weight[j] + ln.Bias[j]
		}
	}
	return out
}

// StateDict returns copies of the layer's parameters.
func (ln *LayerNorm) StateDict() model.StateDict {
	return model.StateDict{
		"weight": model.NewParameter(ln.Weight, ln.Features),
		"bias":   model.NewParameter(ln.Bias, ln.Features),
	}
}

// LoadStateDict copies parameters into the layer.
func (ln *LayerNorm) LoadStateDict(sd model.StateDict) error {
	if err := sd.Assign("weight", ln.Weight, ln.Features); err != nil {
		return err
	}
	return sd.Assign("bias", ln.Bias, ln.Features)
}
