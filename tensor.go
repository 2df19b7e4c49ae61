package main

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor represents a multi-dimensional array of float64 values stored in
// row-major (C-contiguous) order.
//
// The grad buffer exists for the external training collaborator; nothing in
// the forward pass reads or writes it.
//
// Tensor is not safe for concurrent use. Synchronization must be handled by
// the caller if needed.
type Tensor struct {
	data  []float64 // Flat array storing all elements
	shape []int     // Dimensions [batch, seq_len, features, ...]
	grad  []float64 // Gradient buffer for the external optimizer
}

// NewTensor creates a tensor with the given shape, initialized to zero.
// Panics if shape is invalid (empty or contains non-positive dimensions).
//
// Shape errors are programmer bugs, not runtime conditions that should be
// handled gracefully.
func NewTensor(shape ...int) *Tensor {
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

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		data:  make([]float64, size),
		shape: shapeCopy,
		grad:  make([]float64, size),
	}
}

// NewTensorRandn creates a tensor with values drawn from a normal
// distribution with the given standard deviation, using the supplied source
// of randomness. Uses the Box-Muller transform.
func NewTensorRandn(rng *rand.Rand, stddev float64, shape ...int) *Tensor {
	t := NewTensor(shape...)

	for i := 0; i < len(t.data); i += 2 {
		u1, u2 := rng.Float64(), rng.Float64()
		mag := stddev * math.Sqrt(-2*math.Log(u1))
		t.data[i] = mag * math.Cos(2*math.Pi*u2)
		if i+1 < len(t.data) {
			t.data[i+1] = mag * math.Sin(2*math.Pi*u2)
		}
	}

	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Dims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return len(t.data)
}

// At returns the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

// flatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}

	return idx
}

// ZeroGrad clears the gradient buffer.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := NewTensor(t.shape...)
	copy(clone.data, t.data)
	copy(clone.grad, t.grad)
	return clone
}

// Reshape returns a view of the tensor with a different shape. The total
// number of elements must remain the same; the returned tensor shares the
// underlying data and gradient buffers.
func (t *Tensor) Reshape(newShape ...int) *Tensor {
	newSize := 1
	for _, dim := range newShape {
		newSize *= dim
	}

	if newSize != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape size %d to %v (size %d)", len(t.data), newShape, newSize))
	}

	shapeCopy := make([]int, len(newShape))
	copy(shapeCopy, newShape)

	return &Tensor{
		data:  t.data,
		shape: shapeCopy,
		grad:  t.grad,
	}
}

// Index returns a view of the sub-tensor at index i along the first axis.
// For a (batch, seq, dim) tensor, Index(b) is the (seq, dim) slice for batch
// element b. The view shares underlying storage.
func (t *Tensor) Index(i int) *Tensor {
	if len(t.shape) < 2 {
		panic("tensor: Index requires rank >= 2")
	}
	if i < 0 || i >= t.shape[0] {
		panic(fmt.Sprintf("tensor: index %d out of bounds [0,%d)", i, t.shape[0]))
	}

	sub := 1
	for _, dim := range t.shape[1:] {
		sub *= dim
	}

	shapeCopy := make([]int, len(t.shape)-1)
	copy(shapeCopy, t.shape[1:])

	return &Tensor{
		data:  t.data[i*sub : (i+1)*sub],
		shape: shapeCopy,
		grad:  t.grad[i*sub : (i+1)*sub],
	}
}

// String returns a string representation of the tensor for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// ===========================================================================
// OPERATIONS
// ===========================================================================

// Add performs element-wise addition: out = a + b.
// Panics if shapes don't match.
func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot add shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out
}

// Mul performs element-wise multiplication: out = a * b (Hadamard product).
// Panics if shapes don't match.
func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot multiply shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	return out
}

// Scale multiplies all elements by a scalar: out = a * scalar.
func Scale(a *Tensor, scalar float64) *Tensor {
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * scalar
	}
	return out
}

// GateBlend computes the convex combination gate*a + (1-gate)*b.
// All three tensors must share a shape. With gate values in [0,1] the result
// lies elementwise between a and b.
func GateBlend(gate, a, b *Tensor) *Tensor {
	if !shapeEqual(gate.shape, a.shape) || !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: GateBlend shapes %v, %v, %v must match", gate.shape, a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	for i := range out.data {
		g := gate.data[i]
		out.data[i] = g*a.data[i] + (1-g)*b.data[i]
	}
	return out
}

// ConcatCols concatenates two 2D tensors along the feature (last) axis:
// (rows, n) ++ (rows, m) -> (rows, n+m).
func ConcatCols(a, b *Tensor) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: ConcatCols requires 2D tensors")
	}
	if a.shape[0] != b.shape[0] {
		panic(fmt.Sprintf("tensor: ConcatCols row mismatch %d vs %d", a.shape[0], b.shape[0]))
	}

	rows, na, nb := a.shape[0], a.shape[1], b.shape[1]
	out := NewTensor(rows, na+nb)
	for i := 0; i < rows; i++ {
		copy(out.data[i*(na+nb):i*(na+nb)+na], a.data[i*na:(i+1)*na])
		copy(out.data[i*(na+nb)+na:(i+1)*(na+nb)], b.data[i*nb:(i+1)*nb])
	}
	return out
}

// MatMul performs matrix multiplication: C = A @ B.
// A must be (M, K), B must be (K, N), result is (M, N).
//
// This is the O(M*N*K) operation where the model spends nearly all of its
// time. Uses the global compute configuration to decide between
// single-threaded and parallel execution.
func MatMul(a, b *Tensor) *Tensor {
	return MatMulWithConfig(a, b, globalComputeConfig)
}

// Transpose returns the transpose of a 2D matrix: A^T.
// A: (M, N) -> A^T: (N, M).
func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: Transpose requires 2D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := NewTensor(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}
	return out
}

// ===========================================================================
// ACTIVATION FUNCTIONS
// ===========================================================================

// ReLU applies the Rectified Linear Unit: f(x) = max(0, x).
func ReLU(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		out.data[i] = math.Max(0, x.data[i])
	}
	return out
}

// GELU applies the Gaussian Error Linear Unit (tanh approximation).
//
// GELU(x) ≈ 0.5 * x * (1 + tanh(√(2/π) * (x + 0.044715 * x³)))
func GELU(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)

	const (
		sqrt2OverPi = 0.7978845608028654 // sqrt(2/π)
		coeff       = 0.044715
	)

	for i := range x.data {
		v := x.data[i]
		inner := sqrt2OverPi * (v + coeff*v*v*v)
		out.data[i] = 0.5 * v * (1.0 + math.Tanh(inner))
	}
	return out
}

// Sigmoid applies the logistic function: f(x) = 1 / (1 + exp(-x)).
// Outputs always lie in (0, 1), which is what makes it the activation of
// choice for gates.
func Sigmoid(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		out.data[i] = 1.0 / (1.0 + math.Exp(-x.data[i]))
	}
	return out
}

// Tanh applies the hyperbolic tangent elementwise.
func Tanh(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		out.data[i] = math.Tanh(x.data[i])
	}
	return out
}

// Softmax applies the softmax function row-wise to a 2D tensor:
// p_i = exp(x_i) / Σ exp(x_j). Each row of the result sums to 1.
//
// Numerically stable version: subtracts the row max before exponentiating.
func Softmax(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: Softmax requires 2D tensor")
	}

	rows, cols := x.shape[0], x.shape[1]
	out := NewTensor(rows, cols)

	for r := 0; r < rows; r++ {
		row := x.data[r*cols : (r+1)*cols]
		outRow := out.data[r*cols : (r+1)*cols]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		sum := 0.0
		for i, v := range row {
			e := math.Exp(v - maxVal)
			outRow[i] = e
			sum += e
		}
		for i := range outRow {
			outRow[i] /= sum
		}
	}

	return out
}

// ===========================================================================
// HELPERS
// ===========================================================================

// addBias adds a bias vector to each row of a 2D tensor.
// x: (rows, features), bias: (features,)
func addBias(x, bias *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: addBias requires 2D input")
	}
	if len(bias.shape) != 1 || x.shape[1] != bias.shape[0] {
		panic(fmt.Sprintf("tensor: addBias dimension mismatch %v vs %v", x.shape, bias.shape))
	}

	rows, features := x.shape[0], x.shape[1]
	out := NewTensor(rows, features)
	for i := 0; i < rows; i++ {
		for j := 0; j < features; j++ {
			out.data[i*features+j] = x.data[i*features+j] + bias.data[j]
		}
	}
	return out
}

// CheckFinite reports an error if any element is NaN or ±Inf. This is an
// opt-in diagnostic: the forward pass never calls it on its own, because
// long additive recurrences are allowed to drift and detecting that is the
// caller's decision.
func CheckFinite(name string, t *Tensor) error {
	for i, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("tensor %s: non-finite value %v at flat index %d", name, v, i)
		}
	}
	return nil
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
