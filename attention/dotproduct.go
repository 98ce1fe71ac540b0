package attention

import (
	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// ScaledDotProduct is softmax(QKᵀ/√dK)·V with optional masking. It has no
// learned parameters.
type ScaledDotProduct struct {
	model.Base
}

var _ Mechanism = (*ScaledDotProduct)(nil)

// NewScaledDotProduct returns standard attention.
func NewScaledDotProduct() *ScaledDotProduct {
	return &ScaledDotProduct{}
}

// MaskPolicy reports that masks are applied.
func (s *ScaledDotProduct) MaskPolicy() MaskPolicy {
	return MaskApplied
}

// Forward computes masked dot-product attention.
func (s *ScaledDotProduct) Forward(q, k, v, mask *tensor.Tensor) (context, attn *tensor.Tensor, err error) {
	const op = "ScaledDotProduct.Forward"
	if err := checkQKV(op, q, k, v); err != nil {
		return nil, nil, err
	}
	if err := checkMask(op, mask, q.Dim(0), q.Dim(1), q.Dim(2), k.Dim(2)); err != nil {
		return nil, nil, err
	}
	defer errors.Recover(&err, op)
	context, attn = attend(q, k, v, mask)
	return context, attn, nil
}

// StateDict returns an empty mapping.
func (s *ScaledDotProduct) StateDict() model.StateDict {
	return model.StateDict{}
}

// LoadStateDict accepts only an empty mapping.
func (s *ScaledDotProduct) LoadStateDict(sd model.StateDict) error {
	return sd.CheckUnexpected(model.StateDict{})
}
