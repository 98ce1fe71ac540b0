package transformer

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/nn"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

type loader interface {
	LoadStateDict(model.StateDict) error
}

type child struct {
	prefix string
	module loader
}

// loadChildren loads each child from the entries under its prefix.
func loadChildren(sd model.StateDict, children []child) error {
	for _, c := range children {
		if err := c.module.LoadStateDict(sd.Sub(c.prefix)); err != nil {
			return errors.Wrapf(err, "%s", c.prefix)
		}
	}
	return nil
}

// PoswiseFeedForward is Linear(dModel→dFF), ReLU, Linear(dFF→dModel)
// applied at every position.
type PoswiseFeedForward struct {
	W1 *nn.Linear
	W2 *nn.Linear
}

func newPoswiseFeedForward(dModel, dFF int, src rand.Source) *PoswiseFeedForward {
	return &PoswiseFeedForward{
		W1: nn.NewLinear(dModel, dFF, true, src),
		W2: nn.NewLinear(dFF, dModel, true, src),
	}
}

// Forward maps (B, L, dModel) to (B, L, dModel).
func (f *PoswiseFeedForward) Forward(x *tensor.Tensor) *tensor.Tensor {
	return f.W2.Forward(nn.ReLU(f.W1.Forward(x)))
}

func (f *PoswiseFeedForward) StateDict() model.StateDict {
	sd := model.StateDict{}
	sd.Merge("w_1.", f.W1.StateDict())
	sd.Merge("w_2.", f.W2.StateDict())
	return sd
}

func (f *PoswiseFeedForward) LoadStateDict(sd model.StateDict) error {
	return loadChildren(sd, []child{{"w_1.", f.W1}, {"w_2.", f.W2}})
}

// EncoderLayer is self-attention followed by a feed-forward block, each
// wrapped in a residual connection and post-LayerNorm.
type EncoderLayer struct {
	model.Base

	SelfAttn *MultiHeadAttention
	FFN      *PoswiseFeedForward
	Norm1    *nn.LayerNorm
	Norm2    *nn.LayerNorm
}

// Forward maps (B, L, dModel) to (B, L, dModel).
func (e *EncoderLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	a, err := e.SelfAttn.Forward(x, x, x, false)
	if err != nil {
		return nil, err
	}
	x = e.Norm1.Forward(tensor.Add(x, a))
	return e.Norm2.Forward(tensor.Add(x, e.FFN.Forward(x))), nil
}

func (e *EncoderLayer) SetMode(mode model.Mode) {
	e.Base.SetMode(mode)
	e.SelfAttn.SetMode(mode)
}

func (e *EncoderLayer) StateDict() model.StateDict {
	sd := model.StateDict{}
	sd.Merge("self_attn.", e.SelfAttn.StateDict())
	sd.Merge("pos_ffn.", e.FFN.StateDict())
	sd.Merge("norm1.", e.Norm1.StateDict())
	sd.Merge("norm2.", e.Norm2.StateDict())
	return sd
}

func (e *EncoderLayer) LoadStateDict(sd model.StateDict) error {
	return loadChildren(sd, []child{
		{"self_attn.", e.SelfAttn},
		{"pos_ffn.", e.FFN},
		{"norm1.", e.Norm1},
		{"norm2.", e.Norm2},
	})
}

// DecoderLayer is causal self-attention, cross-attention over the encoder
// output and a feed-forward block, each with residual and post-LayerNorm.
type DecoderLayer struct {
	model.Base

	SelfAttn  *MultiHeadAttention
	CrossAttn *MultiHeadAttention
	FFN       *PoswiseFeedForward
	Norm1     *nn.LayerNorm
	Norm2     *nn.LayerNorm
	Norm3     *nn.LayerNorm
}

// Forward maps decoder states (B, Ld, dModel) given the encoder output
// (B, Le, dModel).
func (d *DecoderLayer) Forward(x, memory *tensor.Tensor) (*tensor.Tensor, error) {
	a, err := d.SelfAttn.Forward(x, x, x, true)
	if err != nil {
		return nil, err
	}
	x = d.Norm1.Forward(tensor.Add(x, a))
	c, err := d.CrossAttn.Forward(x, memory, memory, false)
	if err != nil {
		return nil, err
	}
	x = d.Norm2.Forward(tensor.Add(x, c))
	return d.Norm3.Forward(tensor.Add(x, d.FFN.Forward(x))), nil
}

func (d *DecoderLayer) SetMode(mode model.Mode) {
	d.Base.SetMode(mode)
	d.SelfAttn.SetMode(mode)
	d.CrossAttn.SetMode(mode)
}

func (d *DecoderLayer) StateDict() model.StateDict {
	sd := model.StateDict{}
	sd.Merge("self_attn.", d.SelfAttn.StateDict())
	sd.Merge("cross_attn.", d.CrossAttn.StateDict())
	sd.Merge("pos_ffn.", d.FFN.StateDict())
	sd.Merge("norm1.", d.Norm1.StateDict())
	sd.Merge("norm2.", d.Norm2.StateDict())
	sd.Merge("norm3.", d.Norm3.StateDict())
	return sd
}

func (d *DecoderLayer) LoadStateDict(sd model.StateDict) error {
	return loadChildren(sd, []child{
		{"self_attn.", d.SelfAttn},
		{"cross_attn.", d.CrossAttn},
		{"pos_ffn.", d.FFN},
		{"norm1.", d.Norm1},
		{"norm2.", d.Norm2},
		{"norm3.", d.Norm3},
	})
}

// PositionalEncoding returns the (length, dModel) sinusoidal table:
// sin(pos/10000^(2i/dModel)) on even features, cos on odd ones.
func PositionalEncoding(length, dModel int) *tensor.Tensor {
	pe := tensor.New(length, dModel)
	for pos := 0; pos < length; pos++ {
		for i := 0; i < dModel; i += 2 {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(dModel))
			pe.Set(math.Sin(angle), pos, i)
			if i+1 < dModel {
				pe.Set(math.Cos(angle), pos, i+1)
			}
		}
	}
	return pe
}

// addPositions adds the positional table to every sequence of (B, L, d).
func addPositions(x *tensor.Tensor) *tensor.Tensor {
	l, d := x.Dim(1), x.Dim(2)
	pe := PositionalEncoding(l, d).Data()
	out := x.Clone()
	od := out.Data()
	for off := 0; off < len(od); off += l * d {
		floats.Add(od[off:off+l*d], pe)
	}
	return out
}
