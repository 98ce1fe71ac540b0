package tensor

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/kittycat/core/parallel"
)

// matmulParallelThreshold is the number of independent matrix products
// below which BatchedMatMul stays on the calling goroutine.
const matmulParallelThreshold = 4

// Map applies fn elementwise and returns a new tensor.
func Map(t *Tensor, fn func(float64) float64) *Tensor {
	out := New(t.shape...)
	for i, v := range t.data {
		out.data[i] = fn(v)
	}
	return out
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float64) *Tensor {
	out := t.Clone()
	floats.Scale(s, out.data)
	return out
}

// Add returns a+b for tensors of identical shape.
func Add(a, b *Tensor) *Tensor {
	if !SameShape(a, b) {
		panic(fmt.Sprintf("tensor: add shape mismatch %v vs %v", a.shape, b.shape))
	}
	out := a.Clone()
	floats.Add(out.data, b.data)
	return out
}

// AddLastDim adds a vector of length Dim(-1) to every row.
func AddLastDim(t *Tensor, v []float64) *Tensor {
	n := t.shape[len(t.shape)-1]
	if len(v) != n {
		panic(fmt.Sprintf("tensor: bias of length %d does not match last dimension %d", len(v), n))
	}
	out := t.Clone()
	for off := 0; off < len(out.data); off += n {
		floats.Add(out.data[off:off+n], v)
	}
	return out
}

// Concat joins tensors along axis. All other dimensions must match.
func Concat(axis int, ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: concat of no tensors")
	}
	rank := len(ts[0].shape)
	axis = normAxis(axis, rank)
	shape := ts[0].Shape()
	shape[axis] = 0
	for _, t := range ts {
		if len(t.shape) != rank {
			panic(fmt.Sprintf("tensor: concat rank mismatch %v vs %v", ts[0].shape, t.shape))
		}
		for i := range t.shape {
			if i != axis && t.shape[i] != ts[0].shape[i] {
				panic(fmt.Sprintf("tensor: concat shape mismatch %v vs %v on axis %d", ts[0].shape, t.shape, i))
			}
		}
		shape[axis] += t.shape[axis]
	}
	out := New(shape...)
	outer, _, inner := split(shape, axis)
	pos := 0
	for o := 0; o < outer; o++ {
		for _, t := range ts {
			chunk := t.shape[axis] * inner
			copy(out.data[pos:pos+chunk], t.data[o*chunk:(o+1)*chunk])
			pos += chunk
		}
	}
	return out
}

// Permute reorders axes: output axis i is input axis perm[i].
func Permute(t *Tensor, perm ...int) *Tensor {
	rank := len(t.shape)
	if len(perm) != rank {
		panic(fmt.Sprintf("tensor: permutation %v does not match rank %d", perm, rank))
	}
	inStrides := strides(t.shape)
	shape := make([]int, rank)
	permStrides := make([]int, rank)
	seen := make([]bool, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			panic(fmt.Sprintf("tensor: invalid permutation %v", perm))
		}
		seen[p] = true
		shape[i] = t.shape[p]
		permStrides[i] = inStrides[p]
	}
	out := New(shape...)
	idx := make([]int, rank)
	for flat := range out.data {
		src := 0
		for i := 0; i < rank; i++ {
			src += idx[i] * permStrides[i]
		}
		out.data[flat] = t.data[src]
		for i := rank - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// TopK returns the k largest values along axis, sorted in descending order,
// together with their positions along that axis.
func TopK(t *Tensor, k, axis int) (*Tensor, [][]int) {
	axis = normAxis(axis, len(t.shape))
	outer, n, inner := split(t.shape, axis)
	if k <= 0 || k > n {
		panic(fmt.Sprintf("tensor: topk k=%d out of range for axis of size %d", k, n))
	}
	shape := t.Shape()
	shape[axis] = k
	out := New(shape...)
	indices := make([][]int, 0, outer*inner)

	order := make([]int, n)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*n*inner + in
			for j := range order {
				order[j] = j
			}
			sort.SliceStable(order, func(a, b int) bool {
				return greater(t.data[base+order[a]*inner], t.data[base+order[b]*inner])
			})
			picked := make([]int, k)
			for j := 0; j < k; j++ {
				out.data[o*k*inner+j*inner+in] = t.data[base+order[j]*inner]
				picked[j] = order[j]
			}
			indices = append(indices, picked)
		}
	}
	return out, indices
}

// greater orders NaN above every number, matching topk in numeric libraries.
func greater(a, b float64) bool {
	if math.IsNaN(a) {
		return !math.IsNaN(b)
	}
	return a > b
}

// Mean averages over axis and removes it.
func Mean(t *Tensor, axis int) *Tensor {
	axis = normAxis(axis, len(t.shape))
	outer, n, inner := split(t.shape, axis)
	shape := append(append([]int(nil), t.shape[:axis]...), t.shape[axis+1:]...)
	if len(shape) == 0 {
		shape = []int{1}
	}
	out := New(shape...)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			var sum float64
			for j := 0; j < n; j++ {
				sum += t.data[o*n*inner+j*inner+in]
			}
			out.data[o*inner+in] = sum / float64(n)
		}
	}
	return out
}

// Softmax normalises along the last axis.
func Softmax(t *Tensor) *Tensor {
	n := t.shape[len(t.shape)-1]
	out := t.Clone()
	for off := 0; off < len(out.data); off += n {
		row := out.data[off : off+n]
		maxVal := floats.Max(row)
		if math.IsInf(maxVal, -1) {
			// fully masked row
			for i := range row {
				row[i] = 1 / float64(n)
			}
			continue
		}
		for i, v := range row {
			row[i] = math.Exp(v - maxVal)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return out
}

// BatchedMatMul multiplies the trailing matrices of a and b.
// a has shape (..., m, k); b has shape (..., k, n), or (..., n, k) when
// transposeB is set. Leading dimensions must match exactly.
func BatchedMatMul(a, b *Tensor, transposeB bool) *Tensor {
	ra, rb := len(a.shape), len(b.shape)
	if ra < 2 || ra != rb {
		panic(fmt.Sprintf("tensor: batched matmul rank mismatch %v vs %v", a.shape, b.shape))
	}
	for i := 0; i < ra-2; i++ {
		if a.shape[i] != b.shape[i] {
			panic(fmt.Sprintf("tensor: batched matmul batch mismatch %v vs %v", a.shape, b.shape))
		}
	}
	m, k := a.shape[ra-2], a.shape[ra-1]
	bRows, bCols := b.shape[rb-2], b.shape[rb-1]
	n := bCols
	if transposeB {
		if bCols != k {
			panic(fmt.Sprintf("tensor: batched matmul inner mismatch %v x %vᵀ", a.shape, b.shape))
		}
		n = bRows
	} else if bRows != k {
		panic(fmt.Sprintf("tensor: batched matmul inner mismatch %v x %v", a.shape, b.shape))
	}

	shape := append(append([]int(nil), a.shape[:ra-2]...), m, n)
	out := New(shape...)
	batches := len(a.data) / (m * k)

	parallel.ParallelizeWithThreshold(batches, matmulParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			am := mat.NewDense(m, k, a.data[i*m*k:(i+1)*m*k])
			bm := mat.NewDense(bRows, bCols, b.data[i*bRows*bCols:(i+1)*bRows*bCols])
			cm := mat.NewDense(m, n, out.data[i*m*n:(i+1)*m*n])
			if transposeB {
				cm.Mul(am, bm.T())
			} else {
				cm.Mul(am, bm)
			}
		}
	})
	return out
}

// MatMulLastDim multiplies the last axis of x (size in) by w (out × in)
// transposed, i.e. y = x·wᵀ, returning shape (..., out).
func MatMulLastDim(x *Tensor, w *mat.Dense) *Tensor {
	outDim, in := w.Dims()
	if x.shape[len(x.shape)-1] != in {
		panic(fmt.Sprintf("tensor: last dimension %d does not match weight input %d", x.shape[len(x.shape)-1], in))
	}
	rows := len(x.data) / in
	shape := append(append([]int(nil), x.shape[:len(x.shape)-1]...), outDim)
	out := New(shape...)
	xm := mat.NewDense(rows, in, x.data)
	ym := mat.NewDense(rows, outDim, out.data)
	ym.Mul(xm, w.T())
	return out
}
