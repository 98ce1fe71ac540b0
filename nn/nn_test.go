package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

func TestNewSourceDeterministic(t *testing.T) {
	a := make([]float64, 16)
	b := make([]float64, 16)
	UniformFill(a, 1, NewSource(4293))
	UniformFill(b, 1, NewSource(4293))
	assert.Equal(t, a, b)

	c := make([]float64, 16)
	UniformFill(c, 1, NewSource(1692))
	assert.NotEqual(t, a, c)
}

func TestFanInUniformFillBounds(t *testing.T) {
	dst := make([]float64, 1000)
	FanInUniformFill(dst, 16, NewSource(1))
	bound := 0.25
	for _, v := range dst {
		assert.LessOrEqual(t, math.Abs(v), bound)
	}
}

func TestKaimingNormalFillStd(t *testing.T) {
	dst := make([]float64, 20000)
	KaimingNormalFill(dst, 8, 0, NewSource(7))
	want := math.Sqrt(2) / math.Sqrt(8)
	assert.InDelta(t, 0, stat.Mean(dst, nil), 0.02)
	assert.InDelta(t, want, stat.StdDev(dst, nil), 0.02)
}

func TestLinearForward(t *testing.T) {
	l := NewLinear(3, 2, true, NewSource(1))
	copy(l.Weight.RawMatrix().Data, []float64{1, 0, -1, 2, 1, 0})
	copy(l.Bias, []float64{0.5, -1})

	x := tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	y := l.Forward(x)

	assert.Equal(t, []int{2, 2}, y.Shape())
	assert.Equal(t, []float64{-1.5, 3, -1.5, 12}, y.Data())
}

func TestLinearStateDictRoundTrip(t *testing.T) {
	src := NewLinear(4, 3, false, NewSource(1))
	dst := NewLinear(4, 3, false, NewSource(2))

	sd := src.StateDict()
	assert.Equal(t, []string{"weight"}, sd.Keys())
	require.NoError(t, dst.LoadStateDict(sd))
	assert.True(t, dst.StateDict().Equal(sd))

	wrong := NewLinear(3, 4, false, NewSource(1)).StateDict()
	err := dst.LoadStateDict(wrong)
	var shapeErr *errors.InputShapeError
	assert.True(t, errors.As(err, &shapeErr))
}

func TestConv1dSamePaddingKeepsLength(t *testing.T) {
	for _, width := range []int{1, 3, 7, 9} {
		c := NewConv1d(2, 2, width, PaddingSame, NewSource(1))
		x := tensor.Full(1, 3, 2, 5)
		y := c.Forward(x)
		assert.Equal(t, []int{3, 2, 5}, y.Shape(), "width %d", width)
	}
}

func TestConv1dValues(t *testing.T) {
	c := NewConv1d(1, 1, 3, PaddingSame, NewSource(1))
	copy(c.Weight, []float64{1, 2, 3})
	c.Bias[0] = 1

	x := tensor.FromSlice([]float64{1, 2, 3, 4}, 1, 1, 4)
	y := c.Forward(x)
	// zero padded: [0 1 2] [1 2 3] [2 3 4] [3 4 0]
	assert.Equal(t, []float64{9, 15, 21, 12}, y.Data())
}

func TestConv1dCausal(t *testing.T) {
	c := NewConv1d(1, 1, 2, PaddingCausal, NewSource(1))
	copy(c.Weight, []float64{1, 10})
	c.Bias[0] = 0

	x := tensor.FromSlice([]float64{1, 2, 3}, 1, 1, 3)
	y := c.Forward(x)
	assert.Equal(t, []float64{10, 21, 32}, y.Data())
}

func TestConv1dRejectsWrongChannels(t *testing.T) {
	c := NewConv1d(2, 2, 1, PaddingSame, NewSource(1))
	assert.Panics(t, func() { c.Forward(tensor.New(1, 3, 4)) })
}

func TestConv1dKaimingKeepsBias(t *testing.T) {
	c := NewConv1d(8, 8, 3, PaddingSame, NewSource(1))
	bias := append([]float64(nil), c.Bias...)
	before := append([]float64(nil), c.Weight...)
	c.ResetKaimingNormal(0, NewSource(2))
	assert.Equal(t, bias, c.Bias)
	assert.NotEqual(t, before, c.Weight)
}

func TestBatchNormEvalUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm1d(2)
	model.Eval(bn)
	x := tensor.FromSlice([]float64{1, 2, 3, 4}, 1, 2, 2)
	y := bn.Forward(x)
	scale := 1 / math.Sqrt(1+DefaultEps)
	assert.InDeltaSlice(t, []float64{scale, 2 * scale, 3 * scale, 4 * scale}, y.Data(), 1e-12)
	assert.Equal(t, int64(0), bn.NumBatchesTracked)
}

func TestBatchNormTrainUsesBatchStats(t *testing.T) {
	bn := NewBatchNorm1d(1)
	require.True(t, bn.IsTraining())
	x := tensor.FromSlice([]float64{1, 3, 5, 7}, 2, 1, 2)
	y := bn.Forward(x)

	assert.InDelta(t, 0, floats.Sum(y.Data()), 1e-12)
	// mean 4, biased variance 5, unbiased 20/3
	assert.InDelta(t, 0.4, bn.RunningMean[0], 1e-12)
	assert.InDelta(t, 0.9+0.1*20.0/3.0, bn.RunningVar[0], 1e-12)
	assert.Equal(t, int64(1), bn.NumBatchesTracked)
}

func TestBatchNormStateDict(t *testing.T) {
	bn := NewBatchNorm1d(3)
	sd := bn.StateDict()
	assert.Equal(t, []string{"bias", "num_batches_tracked", "running_mean", "running_var", "weight"}, sd.Keys())
	assert.Empty(t, sd["num_batches_tracked"].Shape)

	sd["running_mean"].Data[1] = 2.5
	other := NewBatchNorm1d(3)
	require.NoError(t, other.LoadStateDict(sd))
	assert.Equal(t, 2.5, other.RunningMean[1])

	delete(sd, "num_batches_tracked")
	assert.NoError(t, other.LoadStateDict(sd))
}

func TestLayerNorm(t *testing.T) {
	ln := NewLayerNorm(4)
	y := ln.Forward(tensor.FromSlice([]float64{1, 2, 3, 4, -1, -1, -1, -1}, 2, 4))
	row := y.Data()[:4]
	assert.InDelta(t, 0, floats.Sum(row), 1e-9)
	assert.InDelta(t, 1, stat.PopVariance(row, nil), 1e-4)
	assert.Equal(t, []float64{0, 0, 0, 0}, y.Data()[4:])
}

func TestActivations(t *testing.T) {
	x := tensor.FromSlice([]float64{-2, 0, 3}, 3)
	assert.InDeltaSlice(t, []float64{math.Exp(-2) - 1, 0, 3}, NewELU().Forward(x).Data(), 1e-12)
	assert.Equal(t, []float64{0, 0, 3}, ReLU(x).Data())
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in      string
		want    Device
		wantErr bool
	}{
		{"cpu", Device{Kind: "cpu", Index: -1}, false},
		{"cuda:0", Device{Kind: "cuda", Index: 0}, false},
		{"CUDA:1", Device{Kind: "cuda", Index: 1}, false},
		{"mps", Device{Kind: "mps", Index: -1}, false},
		{"tpu", Device{}, true},
		{"cuda:x", Device{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDevice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "cuda:0", Device{Kind: "cuda", Index: 0}.String())
}

func TestResolveDeviceFallsBackToCPU(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	d, err := ResolveDevice("cuda:0")
	require.NoError(t, err)
	assert.Equal(t, CPU, d)
	require.Len(t, warnings, 1)
	var fallback *errors.DeviceFallbackWarning
	assert.True(t, errors.As(warnings[0], &fallback))
	assert.Equal(t, "cuda:0", fallback.Requested)

	warnings = nil
	_, err = ResolveDevice("cpu")
	require.NoError(t, err)
	assert.Empty(t, warnings)
}
