package attention

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/kittycat/core/model"
	"github.com/YuminosukeSato/kittycat/core/tensor"
	"github.com/YuminosukeSato/kittycat/nn"
	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

func randomTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data() {
		t.Data()[i] = rng.NormFloat64()
	}
	return t
}

func assertRowsSumToOne(t *testing.T, attn *tensor.Tensor) {
	t.Helper()
	n := attn.Dim(-1)
	d := attn.Data()
	for off := 0; off < len(d); off += n {
		var sum float64
		for _, v := range d[off : off+n] {
			sum += v
			assert.GreaterOrEqual(t, v, 0.0)
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}
}

func newKittyCat(t *testing.T, dK, heads int, seed int64, opts ...Option) *KittyCatConv {
	t.Helper()
	m, err := NewKittyCatConv(dK, nn.CPU, heads, 0, seed, opts...)
	require.NoError(t, err)
	return m
}

func TestKittyCatConvShapesAndRowSums(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const b, h, l, lk, dK, dV = 2, 8, 5, 7, 4, 3

	for _, mode := range []model.Mode{model.Training, model.Evaluation} {
		m := newKittyCat(t, dK, h, 4293)
		m.SetMode(mode)

		q := randomTensor(rng, b, h, l, dK)
		k := randomTensor(rng, b, h, lk, dK)
		v := randomTensor(rng, b, h, lk, dV)

		ctx, attn, err := m.Forward(q, k, v, nil)
		require.NoError(t, err, mode.String())
		assert.Equal(t, []int{b, h, l, dV}, ctx.Shape())
		assert.Equal(t, []int{b, h, l, lk}, attn.Shape())
		assertRowsSumToOne(t, attn)
	}
}

func TestKittyCatConvShortSequenceKeepsLength(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	m := newKittyCat(t, 2, 2, 1)
	model.Eval(m)

	// shorter than the widest filter
	ctx, attn, err := m.Forward(randomTensor(rng, 1, 2, 2, 2), randomTensor(rng, 1, 2, 3, 2), randomTensor(rng, 1, 2, 3, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 5}, ctx.Shape())
	assert.Equal(t, []int{1, 2, 2, 3}, attn.Shape())
}

func TestKittyCatConvDeterministicInit(t *testing.T) {
	a := newKittyCat(t, 4, 8, 4293)
	b := newKittyCat(t, 4, 8, 4293)
	assert.True(t, a.StateDict().Equal(b.StateDict()))

	c := newKittyCat(t, 4, 8, 1692)
	assert.False(t, a.StateDict().Equal(c.StateDict()))
}

func TestKittyCatConvInitialisation(t *testing.T) {
	m := newKittyCat(t, 4, 8, 3029)

	// default uniform bound 1/√fan_in for bias-free projections
	for _, w := range m.ProjQ.Weight.RawMatrix().Data {
		assert.LessOrEqual(t, math.Abs(w), 0.5)
	}
	for _, w := range m.ProjBackQ.Weight.RawMatrix().Data {
		assert.LessOrEqual(t, math.Abs(w), 1.0)
	}
	for i, c := range m.ConvListQ {
		fanIn := float64(8 * c.Width)
		for _, bias := range c.Bias {
			assert.LessOrEqual(t, math.Abs(bias), 1/math.Sqrt(fanIn), "conv %d", i)
		}
	}
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1, 1}, m.NormConv.Weight)
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1, 1}, m.NormConv.RunningVar)
	assert.Equal(t, []int{1, 3, 7, 9}, m.FilterWidths())
	assert.Equal(t, nn.CPU, m.Device())
}

func TestDefaultFilterWidthsIsFixed(t *testing.T) {
	widths := DefaultFilterWidths()
	widths[0] = 5
	assert.Equal(t, []int{1, 3, 7, 9}, DefaultFilterWidths())

	m := newKittyCat(t, 2, 2, 1)
	got := m.FilterWidths()
	got[0] = 5
	assert.Equal(t, []int{1, 3, 7, 9}, m.FilterWidths())
}

func TestKittyCatConvDegenerateWidthOneLengthOne(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	m := newKittyCat(t, 3, 2, 7, WithFilterWidths(1))
	model.Eval(m)

	q := randomTensor(rng, 2, 2, 1, 3)
	k := randomTensor(rng, 2, 2, 1, 3)
	v := randomTensor(rng, 2, 2, 1, 4)

	qRef, kRef := m.refine(q, k)

	// top-k over a single variant and the mean over a single filter are
	// identities: the refined streams equal the plain layer pipeline
	wantQ := m.ProjBackQ.Forward(m.Act.Forward(m.NormConv.Forward(
		m.ConvListQ[0].Forward(m.ProjQ.Forward(q).Reshape(2, 2, 1)))).Reshape(2, 2, 1, 1))
	wantK := m.ProjBackK.Forward(m.Act.Forward(m.NormConv.Forward(
		m.ConvListK[0].Forward(m.ProjQ.Forward(k).Reshape(2, 2, 1)))).Reshape(2, 2, 1, 1))
	assert.True(t, tensor.AllClose(wantQ, qRef, 1e-12))
	assert.True(t, tensor.AllClose(wantK, kRef, 1e-12))

	ctx, attn, err := m.Forward(q, k, v, nil)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(tensor.Full(1, 2, 2, 1, 1), attn, 1e-12))
	assert.True(t, tensor.AllClose(v, ctx, 1e-12))
}

func TestKittyCatConvQueryPoolingMatchesRowMajorLayout(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	const b, h, l, dK = 2, 3, 4, 2
	m := newKittyCat(t, dK, h, 11)
	model.Eval(m)
	q := randomTensor(rng, b, h, l, dK)

	qRef, _ := m.refine(q, randomTensor(rng, b, h, 3, dK))

	// reference: variants laid end to end, then each (batch, head) row of
	// 4l values keeps its l largest in descending order
	qs := m.ProjQ.Forward(q).Reshape(b, h, l)
	var flat []float64
	for i := range m.widths {
		flat = append(flat, m.Act.Forward(m.NormConv.Forward(m.ConvListQ[i].Forward(qs))).Data()...)
	}
	nf := len(m.widths)
	top := make([]float64, 0, b*h*l)
	for row := 0; row < b*h; row++ {
		vals := append([]float64(nil), flat[row*nf*l:(row+1)*nf*l]...)
		sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
		top = append(top, vals[:l]...)
	}
	want := m.ProjBackQ.Forward(tensor.FromSlice(top, b, h, l, 1))
	assert.True(t, tensor.AllClose(want, qRef, 1e-12))
}

func TestKittyCatConvKeyPathUsesQueryProjection(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	q := randomTensor(rng, 1, 2, 3, 4)
	k := randomTensor(rng, 1, 2, 3, 4)
	v := randomTensor(rng, 1, 2, 3, 4)

	shared := newKittyCat(t, 4, 2, 5)
	model.Eval(shared)
	before, _, err := shared.Forward(q, k, v, nil)
	require.NoError(t, err)

	for i := range shared.ProjK.Weight.RawMatrix().Data {
		shared.ProjK.Weight.RawMatrix().Data[i] = 3
	}
	after, _, err := shared.Forward(q, k, v, nil)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(before, after), "proj_k must not influence the default key path")

	dedicated := newKittyCat(t, 4, 2, 5, WithDedicatedKeyProjection())
	model.Eval(dedicated)
	_, kShared := shared.refine(q, k)
	require.NoError(t, dedicated.LoadStateDict(shared.StateDict()))
	_, kDedicated := dedicated.refine(q, k)
	assert.False(t, tensor.AllClose(kShared, kDedicated, 1e-9))
}

func TestKittyCatConvTrainModeUpdatesRunningStats(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	m := newKittyCat(t, 2, 2, 1)
	q := randomTensor(rng, 3, 2, 4, 2)

	_, _, err := m.Forward(q, q, q, nil)
	require.NoError(t, err)
	// two streams per width
	assert.Equal(t, int64(8), m.NormConv.NumBatchesTracked)

	model.Eval(m)
	assert.False(t, m.NormConv.IsTraining())
	_, _, err = m.Forward(q, q, q, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), m.NormConv.NumBatchesTracked)
}

func TestKittyCatConvMaskIgnored(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	m := newKittyCat(t, 2, 2, 1)
	model.Eval(m)
	assert.Equal(t, MaskIgnored, m.MaskPolicy())

	q := randomTensor(rng, 1, 2, 3, 2)
	withMask, _, err := m.Forward(q, q, q, CausalMask(3, 3))
	require.NoError(t, err)
	without, _, err := m.Forward(q, q, q, nil)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(withMask, without))
}

func TestKittyCatConvValidation(t *testing.T) {
	tests := []struct {
		name  string
		dK, h int
		lk    int
		opts  []Option
	}{
		{"zero d_k", 0, 2, 0, nil},
		{"zero heads", 2, 0, 0, nil},
		{"negative key length", 2, 2, -1, nil},
		{"even width", 2, 2, 0, []Option{WithFilterWidths(1, 4)}},
		{"no widths", 2, 2, 0, []Option{WithFilterWidths()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKittyCatConv(tt.dK, nn.CPU, tt.h, tt.lk, 1, tt.opts...)
			var vErr *errors.ValidationError
			assert.True(t, errors.As(err, &vErr))
		})
	}
}

func TestKittyCatConvShapeErrors(t *testing.T) {
	m := newKittyCat(t, 4, 2, 1)
	good := tensor.New(1, 2, 3, 4)

	_, _, err := m.Forward(tensor.New(2, 3, 4), good, good, nil)
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	_, _, err = m.Forward(tensor.New(1, 3, 3, 4), tensor.New(1, 3, 3, 4), tensor.New(1, 3, 3, 4), nil)
	assert.True(t, errors.As(err, &dimErr))

	_, _, err = m.Forward(good, tensor.New(1, 2, 3, 5), good, nil)
	var shapeErr *errors.InputShapeError
	assert.True(t, errors.As(err, &shapeErr))

	_, _, err = m.Forward(good, good, tensor.New(1, 2, 4, 4), nil)
	assert.True(t, errors.As(err, &shapeErr))

	_, _, err = m.Forward(nil, good, good, nil)
	assert.Error(t, err)
}

func TestKittyCatConvStateDict(t *testing.T) {
	m := newKittyCat(t, 4, 8, 1)
	sd := m.StateDict()

	for _, name := range []string{
		"proj_q.weight", "proj_k.weight", "proj_back_q.weight", "proj_back_k.weight",
		"conv_list_q.0.weight", "conv_list_q.3.bias", "conv_list_k.2.weight",
		"norm_conv.weight", "norm_conv.running_mean", "norm_conv.running_var",
	} {
		assert.Contains(t, sd, name)
	}
	assert.Equal(t, []int{1, 4}, sd["proj_q.weight"].Shape)
	assert.Equal(t, []int{4, 1}, sd["proj_back_k.weight"].Shape)
	assert.Equal(t, []int{8, 8, 7}, sd["conv_list_q.2.weight"].Shape)

	other := newKittyCat(t, 4, 8, 2)
	require.NoError(t, other.LoadStateDict(sd))
	assert.True(t, other.StateDict().Equal(sd))

	extra := sd.Clone()
	extra["proj_v.weight"] = model.NewParameter([]float64{1}, 1, 1)
	assert.Error(t, other.LoadStateDict(extra))

	missing := sd.Clone()
	delete(missing, "conv_list_k.1.bias")
	err := other.LoadStateDict(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conv_list_k.1.")

	wrongHeads := newKittyCat(t, 4, 4, 1).StateDict()
	assert.Error(t, other.LoadStateDict(wrongHeads))
}

func TestScaledDotProduct(t *testing.T) {
	s := NewScaledDotProduct()
	assert.Equal(t, MaskApplied, s.MaskPolicy())

	// one query matching the second of two keys strongly
	q := tensor.FromSlice([]float64{0, 10}, 1, 1, 1, 2)
	k := tensor.FromSlice([]float64{10, 0, 0, 10}, 1, 1, 2, 2)
	v := tensor.FromSlice([]float64{1, 2}, 1, 1, 2, 1)

	ctx, attn, err := s.Forward(q, k, v, nil)
	require.NoError(t, err)
	assert.Greater(t, attn.At(0, 0, 0, 1), 0.99)
	assert.InDelta(t, 2, ctx.At(0, 0, 0, 0), 0.01)

	_, attn, err = s.Forward(q, k, v, tensor.FromSlice([]float64{0, 1}, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, 1.0, attn.At(0, 0, 0, 0))
	assert.Equal(t, 0.0, attn.At(0, 0, 0, 1))

	_, _, err = s.Forward(q, k, v, tensor.New(2, 2))
	var shapeErr *errors.InputShapeError
	assert.True(t, errors.As(err, &shapeErr))

	assert.Empty(t, s.StateDict())
	assert.NoError(t, s.LoadStateDict(model.StateDict{}))
	assert.Error(t, s.LoadStateDict(model.StateDict{"w": model.NewParameter([]float64{1}, 1)}))
}

func TestCausalMask(t *testing.T) {
	rng := rand.New(rand.NewPCG(15, 16))
	x := randomTensor(rng, 1, 2, 4, 3)
	_, attn, err := NewScaledDotProduct().Forward(x, x, x, CausalMask(4, 4))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			assert.Equal(t, 0.0, attn.At(0, 1, i, j))
		}
	}
	assertRowsSumToOne(t, attn)
}

func TestConvAttentionIdentityKernelMatchesDotProduct(t *testing.T) {
	rng := rand.New(rand.NewPCG(17, 18))
	c, err := NewConvAttention(3, 2, 1, 1)
	require.NoError(t, err)
	for _, conv := range []*nn.Conv1d{c.QueryConv, c.KeyConv} {
		for i := range conv.Weight {
			conv.Weight[i] = 0
		}
		for d := 0; d < 3; d++ {
			conv.Weight[d*3+d] = 1
		}
		for i := range conv.Bias {
			conv.Bias[i] = 0
		}
	}

	q := randomTensor(rng, 2, 2, 4, 3)
	k := randomTensor(rng, 2, 2, 5, 3)
	v := randomTensor(rng, 2, 2, 5, 2)
	mask := CausalMask(4, 5)

	want, wantAttn, err := NewScaledDotProduct().Forward(q, k, v, mask)
	require.NoError(t, err)
	got, gotAttn, err := c.Forward(q, k, v, mask)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(want, got, 1e-12))
	assert.True(t, tensor.AllClose(wantAttn, gotAttn, 1e-12))
}

func TestConvAttentionWideKernel(t *testing.T) {
	rng := rand.New(rand.NewPCG(19, 20))
	c, err := NewConvAttention(2, 2, 6, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, c.Kernel())
	assert.Equal(t, []int{2, 2, 6}, c.StateDict()["query_conv.weight"].Shape)

	x := randomTensor(rng, 1, 2, 3, 2)
	ctx, attn, err := c.Forward(x, x, x, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 2}, ctx.Shape())
	assertRowsSumToOne(t, attn)

	other, err := NewConvAttention(2, 2, 6, 4)
	require.NoError(t, err)
	require.NoError(t, other.LoadStateDict(c.StateDict()))
	assert.True(t, other.StateDict().Equal(c.StateDict()))

	_, err = NewConvAttention(2, 2, 0, 1)
	assert.Error(t, err)
}

func TestNewFactory(t *testing.T) {
	cfg := Config{DK: 2, Heads: 4, Kernel: 3, Seed: 1}

	m, err := New(KindBasic, cfg)
	require.NoError(t, err)
	assert.IsType(t, &ScaledDotProduct{}, m)

	m, err = New(KindConv, cfg)
	require.NoError(t, err)
	assert.IsType(t, &ConvAttention{}, m)

	m, err = New(KindKittyCatConv, cfg)
	require.NoError(t, err)
	assert.IsType(t, &KittyCatConv{}, m)
	assert.Equal(t, MaskIgnored, m.MaskPolicy())

	_, err = New("prob_attn", cfg)
	var valueErr *errors.ValueError
	assert.True(t, errors.As(err, &valueErr))
}
