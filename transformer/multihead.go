package transformer

import (
	"math/rand/v2"

	"github.com/YuminosukeSato/kittycat/attention"
	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/nn"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// MultiHeadAttention projects (B, L, dModel) inputs to per-head queries,
// keys and values, runs an attention mechanism on them and merges the heads
// back to dModel.
type MultiHeadAttention struct {
	model.Base

	heads int
	dK    int
	dV    int

	WQ        *nn.Linear
	WK        *nn.Linear
	WV        *nn.Linear
	FC        *nn.Linear
	Mechanism attention.Mechanism
}

func newMultiHeadAttention(dModel, dK, dV, heads int, mech attention.Mechanism, src rand.Source) *MultiHeadAttention {
	return &MultiHeadAttention{
		heads:     heads,
		dK:        dK,
		dV:        dV,
		WQ:        nn.NewLinear(dModel, heads*dK, false, src),
		WK:        nn.NewLinear(dModel, heads*dK, false, src),
		WV:        nn.NewLinear(dModel, heads*dV, false, src),
		FC:        nn.NewLinear(heads*dV, dModel, false, src),
		Mechanism: mech,
	}
}

// splitHeads maps (B, L, H·d) to (B, H, L, d).
func splitHeads(x *tensor.Tensor, heads, d int) *tensor.Tensor {
	b, l := x.Dim(0), x.Dim(1)
	return tensor.Permute(x.Reshape(b, l, heads, d), 0, 2, 1, 3)
}

// Forward attends from q (B, L, dModel) to k and v (B, Lk, dModel).
// causal requests a lower-triangular mask; mechanisms that ignore masks
// receive nil.
func (m *MultiHeadAttention) Forward(q, k, v *tensor.Tensor, causal bool) (*tensor.Tensor, error) {
	b, l := q.Dim(0), q.Dim(1)
	qh := splitHeads(m.WQ.Forward(q), m.heads, m.dK)
	kh := splitHeads(m.WK.Forward(k), m.heads, m.dK)
	vh := splitHeads(m.WV.Forward(v), m.heads, m.dV)

	var mask *tensor.Tensor
	if causal && m.Mechanism.MaskPolicy() == attention.MaskApplied {
		mask = attention.CausalMask(l, k.Dim(1))
	}
	ctx, _, err := m.Mechanism.Forward(qh, kh, vh, mask)
	if err != nil {
		return nil, errors.Wrap(err, "multi-head attention")
	}
	merged := tensor.Permute(ctx, 0, 2, 1, 3).Reshape(b, l, m.heads*m.dV)
	return m.FC.Forward(merged), nil
}

// SetMode propagates the mode to the mechanism.
func (m *MultiHeadAttention) SetMode(mode model.Mode) {
	m.Base.SetMode(mode)
	m.Mechanism.SetMode(mode)
}

// StateDict returns the projections and the mechanism's parameters.
func (m *MultiHeadAttention) StateDict() model.StateDict {
	sd := model.StateDict{}
	sd.Merge("w_q.", m.WQ.StateDict())
	sd.Merge("w_k.", m.WK.StateDict())
	sd.Merge("w_v.", m.WV.StateDict())
	sd.Merge("fc.", m.FC.StateDict())
	sd.Merge("attention.", m.Mechanism.StateDict())
	return sd
}

// LoadStateDict copies parameters into the projections and the mechanism.
func (m *MultiHeadAttention) LoadStateDict(sd model.StateDict) error {
	return loadChildren(sd, []child{
		{"w_q.", m.WQ},
		{"w_k.", m.WK},
		{"w_v.", m.WV},
		{"fc.", m.FC},
		{"attention.", m.Mechanism},
	})
}
