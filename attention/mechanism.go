// Package attention implements the attention mechanisms the forecaster can
// be built with: the multi-scale convolutional KittyCatConv, standard
// scaled dot-product attention and causal convolutional attention.
//
// Every mechanism maps Query (B, H, L, dK), Key (B, H, Lk, dK) and
// Value (B, H, Lk, dV) to a context (B, H, L, dV) and attention weights
// (B, H, L, Lk).
package attention

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/nn"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
	"github.com/YuminosukeSato/kittycat/pkg/log"
)

// MaskPolicy tells callers whether a mechanism reads the mask argument.
type MaskPolicy int

const (
	// MaskApplied mechanisms exclude masked positions from the softmax.
	MaskApplied MaskPolicy = iota
	// MaskIgnored mechanisms accept any mask, including nil, and never read it.
	MaskIgnored
)

func (p MaskPolicy) String() string {
	if p == MaskIgnored {
		return "ignored"
	}
	return "applied"
}

// Mechanism is an attention function with learned parameters.
type Mechanism interface {
	model.Module

	// Forward computes (context, attention weights). mask is nil or a
	// (L, Lk) or (B, H, L, Lk) tensor whose non-zero entries mark
	// positions that must not be attended to.
	Forward(q, k, v, mask *tensor.Tensor) (context, attn *tensor.Tensor, err error)

	// MaskPolicy reports whether Forward reads mask.
	MaskPolicy() MaskPolicy
}

// CausalMask returns an (l, lk) mask hiding key positions after each query
// position.
func CausalMask(l, lk int) *tensor.Tensor {
	m := tensor.New(l, lk)
	for i := 0; i < l; i++ {
		for j := i + 1; j < lk; j++ {
			m.Set(1, i, j)
		}
	}
	return m
}

// checkQKV validates the rank-4 shapes shared by every mechanism.
func checkQKV(op string, q, k, v *tensor.Tensor) error {
	for name, t := range map[string]*tensor.Tensor{"query": q, "key": k, "value": v} {
		if t == nil {
			return errors.NewValueError(op, name+" is nil")
		}
		if t.Dims() != 4 {
			return errors.NewDimensionError(op, 4, t.Dims(), 0)
		}
	}
	b, h, dK := q.Dim(0), q.Dim(1), q.Dim(3)
	lk := k.Dim(2)
	want := map[string][]int{
		"key":   {b, h, lk, dK},
		"value": {b, h, lk, v.Dim(3)},
	}
	got := map[string]*tensor.Tensor{"key": k, "value": v}
	for _, name := range []string{"key", "value"} {
		if !sameShape(want[name], got[name].Shape()) {
			return errors.NewInputShapeError(op, name, want[name], got[name].Shape())
		}
	}
	return nil
}

func checkMask(op string, mask *tensor.Tensor, b, h, l, lk int) error {
	if mask == nil {
		return nil
	}
	shape := mask.Shape()
	if sameShape(shape, []int{l, lk}) || sameShape(shape, []int{b, h, l, lk}) {
		return nil
	}
	return errors.NewInputShapeError(op, "mask", []int{b, h, l, lk}, shape)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// applyMask sets masked score entries to -Inf in place.
func applyMask(scores, mask *tensor.Tensor) {
	if mask == nil {
		return
	}
	sd, md := scores.Data(), mask.Data()
	per := len(md)
	for i := range sd {
		if md[i%per] != 0 {
			sd[i] = math.Inf(-1)
		}
	}
}

// attend computes softmax(q·kᵀ/√dK, masked)·v.
func attend(q, k, v, mask *tensor.Tensor) (context, attn *tensor.Tensor) {
	scores := tensor.Scale(tensor.BatchedMatMul(q, k, true), 1/math.Sqrt(float64(q.Dim(-1))))
	applyMask(scores, mask)
	attn = tensor.Softmax(scores)
	return tensor.BatchedMatMul(attn, v, false), attn
}

// Kind names a mechanism on the command line.
type Kind string

const (
	KindBasic        Kind = "basic_attn"
	KindConv         Kind = "conv_attn"
	KindKittyCatConv Kind = "KittyCatConv"
)

// Config holds the construction parameters every mechanism understands.
type Config struct {
	// DK is the per-head feature size.
	DK int
	// Heads is the number of attention heads.
	Heads int
	// KeyLen is the key sequence length.
	KeyLen int
	// Kernel is the convolution width of conv_attn.
	Kernel int
	// Seed initialises all learned parameters.
	Seed int64
	// Device is the compute target recorded by the mechanism.
	Device nn.Device
	// Logger receives debug output; nil uses the package logger.
	Logger log.Logger
}

// New builds the mechanism called kind.
func New(kind Kind, cfg Config) (Mechanism, error) {
	switch kind {
	case KindBasic:
		return NewScaledDotProduct(), nil
	case KindConv:
		return NewConvAttention(cfg.DK, cfg.Heads, cfg.Kernel, cfg.Seed)
	case KindKittyCatConv:
		var opts []Option
		if cfg.Logger != nil {
			opts = append(opts, WithLogger(cfg.Logger))
		}
		return NewKittyCatConv(cfg.DK, cfg.Device, cfg.Heads, cfg.KeyLen, cfg.Seed, opts...)
	default:
		return nil, errors.NewValueError("attention.New", fmt.Sprintf("unknown attention type %q", kind))
	}
}
