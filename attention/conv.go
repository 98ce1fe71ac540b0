package attention

import (
	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/nn"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// ConvAttention forms queries and keys with a causal convolution over the
// sequence, so each score compares local shapes rather than single points,
// then applies masked dot-product attention. One convolution per stream is
// shared by all heads.
type ConvAttention struct {
	model.Base

	dK     int
	kernel int

	QueryConv *nn.Conv1d
	KeyConv   *nn.Conv1d
}

var _ Mechanism = (*ConvAttention)(nil)

// NewConvAttention builds convolutional attention with kernel-wide causal
// filters over dK channels.
func NewConvAttention(dK, heads, kernel int, seed int64) (*ConvAttention, error) {
	if dK <= 0 {
		return nil, errors.NewValidationError("d_k", "must be positive", dK)
	}
	if heads <= 0 {
		return nil, errors.NewValidationError("h", "must be positive", heads)
	}
	if kernel <= 0 {
		return nil, errors.NewValidationError("kernel", "must be positive", kernel)
	}
	src := nn.NewSource(seed)
	return &ConvAttention{
		dK:        dK,
		kernel:    kernel,
		QueryConv: nn.NewConv1d(dK, dK, kernel, nn.PaddingCausal, src),
		KeyConv:   nn.NewConv1d(dK, dK, kernel, nn.PaddingCausal, src),
	}, nil
}

// Kernel returns the convolution width.
func (c *ConvAttention) Kernel() int {
	return c.kernel
}

// MaskPolicy reports that masks are applied.
func (c *ConvAttention) MaskPolicy() MaskPolicy {
	return MaskApplied
}

// Forward convolves queries and keys along the sequence and attends.
func (c *ConvAttention) Forward(q, k, v, mask *tensor.Tensor) (context, attn *tensor.Tensor, err error) {
	const op = "ConvAttention.Forward"
	if err := checkQKV(op, q, k, v); err != nil {
		return nil, nil, err
	}
	if q.Dim(3) != c.dK {
		return nil, nil, errors.NewDimensionError(op, c.dK, q.Dim(3), 3)
	}
	if err := checkMask(op, mask, q.Dim(0), q.Dim(1), q.Dim(2), k.Dim(2)); err != nil {
		return nil, nil, err
	}
	defer errors.Recover(&err, op)

	context, attn = attend(convolveSequence(c.QueryConv, q), convolveSequence(c.KeyConv, k), v, mask)
	return context, attn, nil
}

// convolveSequence applies conv over the sequence axis of (B, H, L, D).
func convolveSequence(conv *nn.Conv1d, x *tensor.Tensor) *tensor.Tensor {
	b, h, l, d := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	channels := tensor.Permute(x.Reshape(b*h, l, d), 0, 2, 1)
	y := conv.Forward(channels)
	return tensor.Permute(y, 0, 2, 1).Reshape(b, h, l, d)
}

// StateDict returns the parameters under their conventional names.
func (c *ConvAttention) StateDict() model.StateDict {
	sd := model.StateDict{}
	sd.Merge("query_conv.", c.QueryConv.StateDict())
	sd.Merge("key_conv.", c.KeyConv.StateDict())
	return sd
}

// LoadStateDict copies parameters into the layer.
func (c *ConvAttention) LoadStateDict(sd model.StateDict) error {
	if err := sd.CheckUnexpected(c.StateDict()); err != nil {
		return err
	}
	if err := c.QueryConv.LoadStateDict(sd.Sub("query_conv.")); err != nil {
		return errors.Wrap(err, "query_conv")
	}
	if err := c.KeyConv.LoadStateDict(sd.Sub("key_conv.")); err != nil {
		return errors.Wrap(err, "key_conv")
	}
	return nil
}
