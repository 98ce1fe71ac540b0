// Package tensor provides the dense n-dimensional arrays used by the
// attention layers and the forecaster.
//
// Data is stored flat in row-major order, so Reshape is a metadata change
// that reinterprets the same memory, exactly like a contiguous view in
// mainstream numeric libraries. Shape violations are programmer errors and
// panic; public model entry points recover them into errors.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense row-major array of float64 values.
//
// Tensor is not safe for concurrent mutation.
type Tensor struct {
	data  []float64
	shape []int
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	size := checkShape(shape)
	return &Tensor{
		data:  make([]float64, size),
		shape: append([]int(nil), shape...),
	}
}

// FromSlice creates a tensor holding a copy of data.
func FromSlice(data []float64, shape ...int) *Tensor {
	size := checkShape(shape)
	if len(data) != size {
		panic(fmt.Sprintf("tensor: %d values cannot fill shape %v", len(data), shape))
	}
	return &Tensor{
		data:  append([]float64(nil), data...),
		shape: append([]int(nil), shape...),
	}
}

// Full creates a tensor with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

func checkShape(shape []int) int {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}
	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}
	return size
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dim returns the length of axis i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	return t.shape[normAxis(i, len(t.shape))]
}

// Dims returns the rank of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Data returns the backing slice. Writes are visible through the tensor.
func (t *Tensor) Data() []float64 {
	return t.data
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.offset(indices)]
}

// Set assigns the element at the given indices.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.offset(indices)] = value
}

func (t *Tensor) offset(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}
	idx := 0
	for i, v := range indices {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for axis %d of size %d", v, i, t.shape[i]))
		}
		idx = idx*t.shape[i] + v
	}
	return idx
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return FromSlice(t.data, t.shape...)
}

// Reshape returns a tensor sharing t's memory with a new shape.
// One dimension may be -1 and is inferred.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	newShape := append([]int(nil), shape...)
	infer := -1
	known := 1
	for i, d := range newShape {
		switch {
		case d == -1:
			if infer >= 0 {
				panic("tensor: only one dimension can be inferred")
			}
			infer = i
		case d <= 0:
			panic(fmt.Sprintf("tensor: invalid reshape dimension %d", d))
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			panic(fmt.Sprintf("tensor: cannot reshape %v into %v", t.shape, shape))
		}
		newShape[infer] = len(t.data) / known
		known *= newShape[infer]
	}
	if known != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape %v into %v", t.shape, shape))
	}
	return &Tensor{data: t.data, shape: newShape}
}

// Index returns the i-th slice along axis 0, sharing t's memory.
func (t *Tensor) Index(i int) *Tensor {
	if len(t.shape) < 2 {
		panic(fmt.Sprintf("tensor: cannot index a tensor of rank %d", len(t.shape)))
	}
	if i < 0 || i >= t.shape[0] {
		panic(fmt.Sprintf("tensor: index %d out of range for axis 0 of size %d", i, t.shape[0]))
	}
	n := len(t.data) / t.shape[0]
	return &Tensor{data: t.data[i*n : (i+1)*n : (i+1)*n], shape: append([]int(nil), t.shape[1:]...)}
}

// Unsqueeze inserts a unit axis at position axis (may equal Dims()).
func (t *Tensor) Unsqueeze(axis int) *Tensor {
	if axis < 0 {
		axis += len(t.shape) + 1
	}
	if axis < 0 || axis > len(t.shape) {
		panic(fmt.Sprintf("tensor: unsqueeze axis %d out of range for rank %d", axis, len(t.shape)))
	}
	shape := make([]int, 0, len(t.shape)+1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[axis:]...)
	return &Tensor{data: t.data, shape: shape}
}

// Squeeze removes a unit axis.
func (t *Tensor) Squeeze(axis int) *Tensor {
	axis = normAxis(axis, len(t.shape))
	if t.shape[axis] != 1 {
		panic(fmt.Sprintf("tensor: cannot squeeze axis %d of size %d", axis, t.shape[axis]))
	}
	shape := append(append([]int(nil), t.shape[:axis]...), t.shape[axis+1:]...)
	if len(shape) == 0 {
		shape = []int{1}
	}
	return &Tensor{data: t.data, shape: shape}
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	return shapeEqual(a.shape, b.shape)
}

// Equal reports whether a and b have the same shape and bit-identical values.
func Equal(a, b *Tensor) bool {
	if !SameShape(a, b) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}

// AllClose reports whether a and b have the same shape and every pair of
// elements differs by at most tol.
func AllClose(a, b *Tensor, tol float64) bool {
	if !SameShape(a, b) {
		return false
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol {
			return false
		}
	}
	return true
}

// String returns a short description (shape and first elements).
func (t *Tensor) String() string {
	n := len(t.data)
	if n > 8 {
		return fmt.Sprintf("Tensor(shape=%v, data=%v...)", t.shape, t.data[:8])
	}
	return fmt.Sprintf("Tensor(shape=%v, data=%v)", t.shape, t.data)
}

func shapeEqual(a, b []int) bool {
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

func normAxis(axis, rank int) int {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		panic(fmt.Sprintf("tensor: axis %d out of range for rank %d", axis, rank))
	}
	return axis
}

// split returns the products of the dimensions before and after axis.
func split(shape []int, axis int) (outer, n, inner int) {
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[axis], inner
}
