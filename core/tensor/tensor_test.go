package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func seq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestNewAndIndexing(t *testing.T) {
	x := New(2, 3, 4)
	assert.Equal(t, []int{2, 3, 4}, x.Shape())
	assert.Equal(t, 24, x.Size())
	assert.Equal(t, 3, x.Dims())
	assert.Equal(t, 4, x.Dim(-1))

	x.Set(7, 1, 2, 3)
	assert.Equal(t, 7.0, x.At(1, 2, 3))
	assert.Equal(t, 7.0, x.Data()[23])

	assert.Panics(t, func() { New() })
	assert.Panics(t, func() { New(2, 0) })
	assert.Panics(t, func() { x.At(2, 0, 0) })
	assert.Panics(t, func() { FromSlice([]float64{1, 2}, 3) })
}

func TestReshapeSharesMemory(t *testing.T) {
	x := FromSlice(seq(12), 3, 4)
	y := x.Reshape(2, -1)
	assert.Equal(t, []int{2, 6}, y.Shape())
	y.Set(100, 0, 0)
	assert.Equal(t, 100.0, x.At(0, 0))

	assert.Panics(t, func() { x.Reshape(5, -1) })
	assert.Panics(t, func() { x.Reshape(-1, -1) })
	assert.Panics(t, func() { x.Reshape(3, 5) })
}

func TestUnsqueezeSqueeze(t *testing.T) {
	x := FromSlice(seq(6), 2, 3)
	assert.Equal(t, []int{2, 3, 1}, x.Unsqueeze(-1).Shape())
	assert.Equal(t, []int{1, 2, 3}, x.Unsqueeze(0).Shape())
	assert.Equal(t, []int{2, 3}, x.Unsqueeze(1).Squeeze(1).Shape())
	assert.Panics(t, func() { x.Squeeze(0) })
}

func TestConcatAxis0(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 4}, 1, 2, 2)
	b := FromSlice([]float64{5, 6, 7, 8}, 1, 2, 2)
	c := Concat(0, a, b)
	assert.Equal(t, []int{2, 2, 2}, c.Shape())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, c.Data())
}

func TestConcatInnerAxis(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	b := FromSlice([]float64{9, 8}, 2, 1)
	c := Concat(1, a, b)
	assert.Equal(t, []int{2, 3}, c.Shape())
	assert.Equal(t, []float64{1, 2, 9, 3, 4, 8}, c.Data())

	assert.Panics(t, func() { Concat(0, a, b) })
}

func TestPermute(t *testing.T) {
	x := FromSlice(seq(24), 2, 3, 4)
	p := Permute(x, 1, 0, 2)
	assert.Equal(t, []int{3, 2, 4}, p.Shape())
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				assert.Equal(t, x.At(i, j, k), p.At(j, i, k))
			}
		}
	}
	assert.Panics(t, func() { Permute(x, 0, 0, 1) })
}

func TestTopKSortedDescending(t *testing.T) {
	x := FromSlice([]float64{3, 1, 4, 1, 5, 9, 2, 6}, 2, 4)
	vals, idx := TopK(x, 2, -1)
	assert.Equal(t, []int{2, 2}, vals.Shape())
	assert.Equal(t, []float64{4, 3, 9, 6}, vals.Data())
	assert.Equal(t, [][]int{{2, 0}, {1, 3}}, idx)
}

func TestTopKInnerAxis(t *testing.T) {
	// shape (1, 3, 2): topk over axis 1 per column
	x := FromSlice([]float64{1, 10, 5, 0, 3, 7}, 1, 3, 2)
	vals, _ := TopK(x, 3, 1)
	assert.Equal(t, []float64{5, 10, 3, 7, 1, 0}, vals.Data())

	assert.Panics(t, func() { TopK(x, 4, 1) })
}

func TestMean(t *testing.T) {
	x := FromSlice(seq(12), 2, 3, 2)
	m := Mean(x, 1)
	assert.Equal(t, []int{2, 2}, m.Shape())
	assert.Equal(t, []float64{2, 3, 8, 9}, m.Data())
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3, 1000, 1000, -1000}, 2, 3)
	s := Softmax(x)
	for r := 0; r < 2; r++ {
		sum := s.At(r, 0) + s.At(r, 1) + s.At(r, 2)
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
	assert.InDelta(t, 0.5, s.At(1, 0), 1e-12)

	masked := Softmax(FromSlice([]float64{math.Inf(-1), math.Inf(-1)}, 1, 2))
	assert.Equal(t, []float64{0.5, 0.5}, masked.Data())
}

func TestBatchedMatMul(t *testing.T) {
	a := FromSlice(seq(2*2*3), 2, 2, 3)
	b := FromSlice(seq(2*3*2), 2, 3, 2)
	c := BatchedMatMul(a, b, false)
	require.Equal(t, []int{2, 2, 2}, c.Shape())

	for batch := 0; batch < 2; batch++ {
		am := mat.NewDense(2, 3, a.Data()[batch*6:(batch+1)*6])
		bm := mat.NewDense(3, 2, b.Data()[batch*6:(batch+1)*6])
		var want mat.Dense
		want.Mul(am, bm)
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				assert.Equal(t, want.At(i, j), c.At(batch, i, j))
			}
		}
	}

	bt := Permute(b, 0, 2, 1)
	ct := BatchedMatMul(a, bt, true)
	assert.True(t, Equal(c, ct))

	assert.Panics(t, func() { BatchedMatMul(a, a, false) })
}

func TestBatchedMatMulManyBatchesParallel(t *testing.T) {
	a := Full(1, 16, 3, 2)
	b := Full(2, 16, 2, 4)
	c := BatchedMatMul(a, b, false)
	for _, v := range c.Data() {
		assert.Equal(t, 4.0, v)
	}
}

func TestMatMulLastDim(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	w := mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 1})
	y := MatMulLastDim(x, w)
	assert.Equal(t, []int{1, 2, 2}, y.Shape())
	assert.Equal(t, []float64{1, 5, 4, 11}, y.Data())
}

func TestElementwise(t *testing.T) {
	x := FromSlice([]float64{1, -2}, 2)
	assert.Equal(t, []float64{2, -4}, Scale(x, 2).Data())
	assert.Equal(t, []float64{2, -4}, Add(x, x).Data())
	assert.Equal(t, []float64{1, 2}, Map(x, math.Abs).Data())
	assert.Equal(t, []float64{11, 18, 13, 20}, AddLastDim(FromSlice([]float64{1, 2, 3, 4}, 2, 2), []float64{10, 16}).Data())
	assert.True(t, AllClose(x, FromSlice([]float64{1 + 1e-9, -2}, 2), 1e-6))
	assert.False(t, Equal(x, FromSlice([]float64{1, -2}, 1, 2)))
}

func TestIndexSharesMemory(t *testing.T) {
	x := FromSlice(seq(12), 3, 2, 2)
	row := x.Index(1)
	assert.Equal(t, []int{2, 2}, row.Shape())
	assert.Equal(t, []float64{4, 5, 6, 7}, row.Data())

	row.Set(-1, 0, 0)
	assert.Equal(t, -1.0, x.At(1, 0, 0))
	assert.Panics(t, func() { x.Index(3) })
	assert.Panics(t, func() { FromSlice(seq(3), 3).Index(0) })
}
