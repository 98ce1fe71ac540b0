package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/parallel"
	"github.com/YuminosukeSato/kittycat/core/tensor"
)

// Padding selects how Conv1d pads the sequence axis.
type Padding int

const (
	// PaddingSame pads (width-1)/2 zeros on both sides. Odd widths keep
	// the sequence length.
	PaddingSame Padding = iota
	// PaddingCausal pads width-1 zeros on the left only, so position t
	// sees inputs up to t.
	PaddingCausal
)

// convParallelThreshold is the number of (batch, channel) rows below which
// Conv1d runs on the calling goroutine.
const convParallelThreshold = 16

// Conv1d is a one-dimensional convolution over (batch, channels, length).
type Conv1d struct {
	InChannels  int
	OutChannels int
	Width       int

	padLeft  int
	padRight int

	// Weight has shape (OutChannels, InChannels, Width).
	Weight []float64
	// Bias has length OutChannels.
	Bias []float64
}

// NewConv1d creates a convolution with bias, initialised from src.
func NewConv1d(in, out, width int, padding Padding, src rand.Source) *Conv1d {
	c := &Conv1d{
		InChannels:  in,
		OutChannels: out,
		Width:       width,
		Weight:      make([]float64, out*in*width),
		Bias:        make([]float64, out),
	}
	switch padding {
	case PaddingCausal:
		c.padLeft = width - 1
	default:
		c.padLeft = (width - 1) / 2
		c.padRight = (width - 1) / 2
	}
	FanInUniformFill(c.Weight, c.fanIn(), src)
	FanInUniformFill(c.Bias, c.fanIn(), src)
	return c
}

func (c *Conv1d) fanIn() int {
	return c.InChannels * c.Width
}

// ResetKaimingNormal redraws the weights (not the bias) from a
// fan-in scaled normal distribution for a leaky rectifier with slope.
func (c *Conv1d) ResetKaimingNormal(slope float64, src rand.Source) {
	KaimingNormalFill(c.Weight, c.fanIn(), slope, src)
}

// OutputLength returns the output sequence length for input length l.
func (c *Conv1d) OutputLength(l int) int {
	return l + c.padLeft + c.padRight - c.Width + 1
}

// Forward maps (B, InChannels, L) to (B, OutChannels, OutputLength(L)).
func (c *Conv1d) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Dims() != 3 || x.Dim(1) != c.InChannels {
		panic(fmt.Sprintf("nn: conv1d expects (B, %d, L), got %v", c.InChannels, x.Shape()))
	}
	b, l := x.Dim(0), x.Dim(2)
	lOut := c.OutputLength(l)
	if lOut <= 0 {
		panic(fmt.Sprintf("nn: conv1d width %d too large for length %d", c.Width, l))
	}
	out := tensor.New(b, c.OutChannels, lOut)
	xd, od := x.Data(), out.Data()

	parallel.ParallelizeWithThreshold(b*c.OutChannels, convParallelThreshold, func(start, end int) {
		for row := start; row < end; row++ {
			n, o := row/c.OutChannels, row%c.OutChannels
			dst := od[row*lOut : (row+1)*lOut]
			for t := range dst {
				sum := c.Bias[o]
				for ci := 0; ci < c.InChannels; ci++ {
					src := xd[(n*c.InChannels+ci)*l : (n*c.InChannels+ci+1)*l]
					w := c.Weight[(o*c.InChannels+ci)*c.Width : (o*c.InChannels+ci+1)*c.Width]
					for k, wk := range w {
						pos := t + k - c.padLeft
						if pos >= 0 && pos < l {
							sum += wk * src[pos]
						}
					}
				}
				dst[t] = sum
			}
		}
	})
	return out
}

// StateDict returns copies of the layer's parameters.
func (c *Conv1d) StateDict() model.StateDict {
	return model.StateDict{
		"weight": model.NewParameter(c.Weight, c.OutChannels, c.InChannels, c.Width),
		"bias":   model.NewParameter(c.Bias, c.OutChannels),
	}
}

// LoadStateDict copies parameters into the layer.
func (c *Conv1d) LoadStateDict(sd model.StateDict) error {
	if err := sd.Assign("weight", c.Weight, c.OutChannels, c.InChannels, c.Width); err != nil {
		return err
	}
	return sd.Assign("bias", c.Bias, c.OutChannels)
}
