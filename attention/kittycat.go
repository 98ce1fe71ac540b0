package attention

import (
	"context"
	"fmt"
	"strconv"

	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/nn"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
	"github.com/YuminosukeSato/kittycat/pkg/log"
)

var defaultFilterWidths = [...]int{1, 3, 7, 9}

// DefaultFilterWidths returns a copy of the convolution bank of KittyCatConv.
func DefaultFilterWidths() []int {
	return append([]int(nil), defaultFilterWidths[:]...)
}

// KittyCatConv approximates dot-product attention with a multi-scale
// convolutional summary of the query and key streams.
//
// Queries and keys are collapsed to one scalar per position, filtered by a
// bank of same-padded convolutions (one per width, each followed by a
// shared BatchNorm1d over heads and a shared ELU), pooled by top-k across
// the filter variants and projected back to dK before ordinary softmax
// attention against the values.
//
// By default the key stream is collapsed with the query projection
// (proj_q), which is what trained checkpoints expect; proj_k is still
// constructed and stored. WithDedicatedKeyProjection switches the key
// stream to proj_k.
type KittyCatConv struct {
	model.Base

	dK     int
	heads  int
	keyLen int
	device nn.Device
	widths []int

	dedicatedKey bool
	logger       log.Logger

	ProjQ     *nn.Linear
	ProjK     *nn.Linear
	ConvListQ []*nn.Conv1d
	ConvListK []*nn.Conv1d
	NormConv  *nn.BatchNorm1d
	Act       nn.ELU
	ProjBackQ *nn.Linear
	ProjBackK *nn.Linear
}

var _ Mechanism = (*KittyCatConv)(nil)

type kittyCatOptions struct {
	widths       []int
	dedicatedKey bool
	logger       log.Logger
}

// Option configures a KittyCatConv.
type Option func(*kittyCatOptions)

// WithFilterWidths replaces the convolution bank. Widths must be odd and
// positive.
func WithFilterWidths(widths ...int) Option {
	return func(o *kittyCatOptions) {
		o.widths = append([]int(nil), widths...)
	}
}

// WithDedicatedKeyProjection collapses keys with proj_k instead of proj_q.
func WithDedicatedKeyProjection() Option {
	return func(o *kittyCatOptions) {
		o.dedicatedKey = true
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l log.Logger) Option {
	return func(o *kittyCatOptions) {
		o.logger = l
	}
}

// NewKittyCatConv builds the layer for dK features per head and heads
// heads. keyLen is the expected key length (0 when unknown); it is recorded
// for shape documentation only. All parameters are drawn from a generator
// seeded with seed, so equal arguments give bit-identical weights.
func NewKittyCatConv(dK int, device nn.Device, heads, keyLen int, seed int64, opts ...Option) (*KittyCatConv, error) {
	o := kittyCatOptions{widths: DefaultFilterWidths()}
	for _, opt := range opts {
		opt(&o)
	}
	if dK <= 0 {
		return nil, errors.NewValidationError("d_k", "must be positive", dK)
	}
	if heads <= 0 {
		return nil, errors.NewValidationError("h", "must be positive", heads)
	}
	if keyLen < 0 {
		return nil, errors.NewValidationError("l_k", "must not be negative", keyLen)
	}
	if len(o.widths) == 0 {
		return nil, errors.NewValidationError("filter_widths", "at least one width is required", o.widths)
	}
	for _, w := range o.widths {
		if w <= 0 || w%2 == 0 {
			return nil, errors.NewValidationError("filter_widths", "widths must be odd and positive", o.widths)
		}
	}
	if device.Kind == "" {
		device = nn.CPU
	}
	if o.logger == nil {
		o.logger = log.GetLoggerWithName("attention.kittycat")
	}

	src := nn.NewSource(seed)
	m := &KittyCatConv{
		dK:           dK,
		heads:        heads,
		keyLen:       keyLen,
		device:       device,
		widths:       append([]int(nil), o.widths...),
		dedicatedKey: o.dedicatedKey,
		logger:       o.logger,
	}
	m.ProjQ = nn.NewLinear(dK, 1, false, src)
	m.ProjK = nn.NewLinear(dK, 1, false, src)
	m.ConvListK = make([]*nn.Conv1d, len(m.widths))
	m.ConvListQ = make([]*nn.Conv1d, len(m.widths))
	for i, w := range m.widths {
		m.ConvListK[i] = nn.NewConv1d(heads, heads, w, nn.PaddingSame, src)
	}
	for i, w := range m.widths {
		m.ConvListQ[i] = nn.NewConv1d(heads, heads, w, nn.PaddingSame, src)
	}
	m.ProjBackQ = nn.NewLinear(1, dK, false, src)
	m.ProjBackK = nn.NewLinear(1, dK, false, src)
	m.NormConv = nn.NewBatchNorm1d(heads)
	m.Act = nn.NewELU()

	// kaiming normal (fan-in, leaky rectifier with slope 0) over every
	// convolution, key bank first
	for _, c := range m.ConvListK {
		c.ResetKaimingNormal(0, src)
	}
	for _, c := range m.ConvListQ {
		c.ResetKaimingNormal(0, src)
	}
	return m, nil
}

// FilterWidths returns the convolution widths in bank order.
func (m *KittyCatConv) FilterWidths() []int {
	return append([]int(nil), m.widths...)
}

// Device returns the compute target recorded at construction.
func (m *KittyCatConv) Device() nn.Device {
	return m.device
}

// MaskPolicy reports that the mask argument is never read.
func (m *KittyCatConv) MaskPolicy() MaskPolicy {
	return MaskIgnored
}

// SetMode switches the shared batch norm between batch and running
// statistics.
func (m *KittyCatConv) SetMode(mode model.Mode) {
	m.Base.SetMode(mode)
	m.NormConv.SetMode(mode)
}

// Forward computes the convolutional attention. mask is ignored and may be
// nil. In training mode the shared batch norm updates its running
// statistics, so Forward must not run concurrently on one layer.
func (m *KittyCatConv) Forward(q, k, v, _ *tensor.Tensor) (out, attn *tensor.Tensor, err error) {
	const op = "KittyCatConv.Forward"
	if err := checkQKV(op, q, k, v); err != nil {
		return nil, nil, err
	}
	if q.Dim(1) != m.heads {
		return nil, nil, errors.NewDimensionError(op, m.heads, q.Dim(1), 1)
	}
	if q.Dim(3) != m.dK {
		return nil, nil, errors.NewDimensionError(op, m.dK, q.Dim(3), 3)
	}
	defer errors.Recover(&err, op)

	qRef, kRef := m.refine(q, k)
	out, attn = attend(qRef, kRef, v, nil)

	if m.logger.Enabled(context.Background(), log.LevelDebug) {
		m.logger.Debug("kittycat forward",
			log.OperationKey, log.OperationForward,
			log.ShapeKey, fmt.Sprint(out.Shape()),
		)
	}
	return out, attn, nil
}

// refine runs steps up to the back projections and returns the refined
// query (B, H, L, dK) and key (B, H, Lk, dK).
func (m *KittyCatConv) refine(q, k *tensor.Tensor) (qRef, kRef *tensor.Tensor) {
	b, h, l := q.Dim(0), q.Dim(1), q.Dim(2)
	lk := k.Dim(2)
	nf := len(m.widths)

	keyProj := m.ProjQ
	if m.dedicatedKey {
		keyProj = m.ProjK
	}
	qs := m.ProjQ.Forward(q).Reshape(b, h, l)
	ks := keyProj.Forward(k).Reshape(b, h, lk)

	qVariants := make([]*tensor.Tensor, nf)
	kVariants := make([]*tensor.Tensor, nf)
	for i := range m.widths {
		qVariants[i] = m.Act.Forward(m.NormConv.Forward(m.ConvListQ[i].Forward(qs)))
		kVariants[i] = m.Act.Forward(m.NormConv.Forward(m.ConvListK[i].Forward(ks)))
	}

	// concatenating on the batch axis and reshaping row-major interleaves
	// the filter variants across heads; trained weights depend on this
	qPooled := tensor.Concat(0, qVariants...).Reshape(b, h, l*nf, 1)
	kPooled := tensor.Concat(0, kVariants...).Reshape(b, h, lk*nf, 1)

	qTop, _ := tensor.TopK(qPooled, l, 2)
	qRef = m.ProjBackQ.Forward(qTop)

	kMean := tensor.Mean(kPooled.Reshape(b, h, nf, lk), 2)
	kTop, _ := tensor.TopK(kMean, lk, -1)
	kRef = m.ProjBackK.Forward(kTop.Unsqueeze(-1))
	return qRef, kRef
}

// StateDict returns the parameters under their conventional names.
func (m *KittyCatConv) StateDict() model.StateDict {
	sd := model.StateDict{}
	sd.Merge("proj_q.", m.ProjQ.StateDict())
	sd.Merge("proj_k.", m.ProjK.StateDict())
	for i := range m.widths {
		sd.Merge("conv_list_k."+strconv.Itoa(i)+".", m.ConvListK[i].StateDict())
		sd.Merge("conv_list_q."+strconv.Itoa(i)+".", m.ConvListQ[i].StateDict())
	}
	sd.Merge("proj_back_q.", m.ProjBackQ.StateDict())
	sd.Merge("proj_back_k.", m.ProjBackK.StateDict())
	sd.Merge("norm_conv.", m.NormConv.StateDict())
	return sd
}

// LoadStateDict copies parameters into the layer. Missing, unexpected or
// mis-shaped entries are errors.
func (m *KittyCatConv) LoadStateDict(sd model.StateDict) error {
	if err := sd.CheckUnexpected(m.StateDict()); err != nil {
		return err
	}
	type loader interface {
		LoadStateDict(model.StateDict) error
	}
	children := map[string]loader{
		"proj_q.":      m.ProjQ,
		"proj_k.":      m.ProjK,
		"proj_back_q.": m.ProjBackQ,
		"proj_back_k.": m.ProjBackK,
		"norm_conv.":   m.NormConv,
	}
	for i := range m.widths {
		children["conv_list_k."+strconv.Itoa(i)+"."] = m.ConvListK[i]
		children["conv_list_q."+strconv.Itoa(i)+"."] = m.ConvListQ[i]
	}
	for prefix, child := range children {
		if err := child.LoadStateDict(sd.Sub(prefix)); err != nil {
			return errors.Wrapf(err, "%s", prefix)
		}
	}
	return nil
}
