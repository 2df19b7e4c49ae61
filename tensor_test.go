package main

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewTensorZeroInitialized(t *testing.T) {
	x := NewTensor(2, 3, 4)

	if x.Size() != 24 {
		t.Errorf("expected size 24, got %d", x.Size())
	}
	if x.Dims() != 3 {
		t.Errorf("expected 3 dims, got %d", x.Dims())
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				if x.At(i, j, k) != 0 {
					t.Fatalf("expected zero at (%d,%d,%d), got %f", i, j, k, x.At(i, j, k))
				}
			}
		}
	}
}

func TestNewTensorInvalidShapePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for non-positive dimension")
		}
	}()
	NewTensor(2, 0)
}

func TestAddMulScale(t *testing.T) {
	a := NewTensor(2, 2)
	b := NewTensor(2, 2)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			a.Set(float64(i*2+j+1), i, j) // 1..4
			b.Set(2.0, i, j)
		}
	}

	sum := Add(a, b)
	if sum.At(1, 1) != 6.0 {
		t.Errorf("Add: expected 6, got %f", sum.At(1, 1))
	}

	prod := Mul(a, b)
	if prod.At(1, 1) != 8.0 {
		t.Errorf("Mul: expected 8, got %f", prod.At(1, 1))
	}

	scaled := Scale(a, 0.5)
	if scaled.At(0, 1) != 1.0 {
		t.Errorf("Scale: expected 1, got %f", scaled.At(0, 1))
	}
}

func TestMatMulKnownValues(t *testing.T) {
	// (2,3) @ (3,2)
	a := NewTensor(2, 3)
	b := NewTensor(3, 2)
	vals := []float64{1, 2, 3, 4, 5, 6}
	for i, v := range vals {
		a.data[i] = v
		b.data[i] = v
	}

	c := MatMul(a, b)

	// Row 0: [1 2 3] . cols [1 3 5] and [2 4 6] -> 22, 28
	if c.At(0, 0) != 22 || c.At(0, 1) != 28 {
		t.Errorf("expected row 0 = [22 28], got [%f %f]", c.At(0, 0), c.At(0, 1))
	}
	if c.At(1, 0) != 49 || c.At(1, 1) != 64 {
		t.Errorf("expected row 1 = [49 64], got [%f %f]", c.At(1, 0), c.At(1, 1))
	}
}

func TestMatMulShapeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for incompatible matmul shapes")
		}
	}()
	MatMul(NewTensor(2, 3), NewTensor(4, 2))
}

func TestTranspose(t *testing.T) {
	a := NewTensor(2, 3)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			a.Set(float64(i*3+j), i, j)
		}
	}

	at := Transpose(a)
	shape := at.Shape()
	if shape[0] != 3 || shape[1] != 2 {
		t.Fatalf("expected shape [3 2], got %v", shape)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if at.At(j, i) != a.At(i, j) {
				t.Errorf("transpose mismatch at (%d,%d)", i, j)
			}
		}
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := NewTensorRandn(rng, 3.0, 5, 9)

	p := Softmax(x)
	for r := 0; r < 5; r++ {
		sum := 0.0
		for c := 0; c < 9; c++ {
			v := p.At(r, c)
			if v < 0 {
				t.Errorf("negative probability %f at (%d,%d)", v, r, c)
			}
			sum += v
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("row %d sums to %f, want 1", r, sum)
		}
	}
}

func TestSoftmaxNumericalStability(t *testing.T) {
	x := NewTensor(1, 3)
	x.Set(1000, 0, 0)
	x.Set(1001, 0, 1)
	x.Set(999, 0, 2)

	p := Softmax(x)
	if err := CheckFinite("softmax", p); err != nil {
		t.Fatalf("softmax overflowed on large logits: %v", err)
	}
}

func TestSigmoidBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := NewTensorRandn(rng, 10.0, 4, 16)

	s := Sigmoid(x)
	for i, v := range s.data {
		if v < 0 || v > 1 {
			t.Fatalf("sigmoid output %f at %d outside [0,1]", v, i)
		}
	}
}

func TestGateBlendConvex(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	gate := Sigmoid(NewTensorRandn(rng, 2.0, 3, 8))
	a := NewTensorRandn(rng, 1.0, 3, 8)
	b := NewTensorRandn(rng, 1.0, 3, 8)

	out := GateBlend(gate, a, b)
	for i := range out.data {
		lo, hi := a.data[i], b.data[i]
		if lo > hi {
			lo, hi = hi, lo
		}
		if out.data[i] < lo-1e-12 || out.data[i] > hi+1e-12 {
			t.Fatalf("blend %f at %d outside [%f, %f]", out.data[i], i, lo, hi)
		}
	}
}

func TestConcatCols(t *testing.T) {
	a := NewTensor(2, 3)
	b := NewTensor(2, 2)
	for i := range a.data {
		a.data[i] = float64(i)
	}
	for i := range b.data {
		b.data[i] = float64(100 + i)
	}

	c := ConcatCols(a, b)
	shape := c.Shape()
	if shape[0] != 2 || shape[1] != 5 {
		t.Fatalf("expected shape [2 5], got %v", shape)
	}
	if c.At(1, 0) != a.At(1, 0) || c.At(1, 3) != b.At(1, 0) {
		t.Error("concatenated values in wrong positions")
	}
}

func TestReshapeSharesData(t *testing.T) {
	a := NewTensor(2, 6)
	view := a.Reshape(3, 4)
	view.Set(42, 0, 0)

	if a.At(0, 0) != 42 {
		t.Error("reshape should share underlying data")
	}
}

func TestIndexView(t *testing.T) {
	x := NewTensor(2, 3, 4)
	x.Set(7, 1, 2, 3)

	sub := x.Index(1)
	shape := sub.Shape()
	if shape[0] != 3 || shape[1] != 4 {
		t.Fatalf("expected shape [3 4], got %v", shape)
	}
	if sub.At(2, 3) != 7 {
		t.Errorf("expected 7 at (2,3), got %f", sub.At(2, 3))
	}

	sub.Set(9, 0, 0)
	if x.At(1, 0, 0) != 9 {
		t.Error("Index should return a view, not a copy")
	}
}

func TestAddBias(t *testing.T) {
	x := NewTensor(2, 3)
	bias := NewTensor(3)
	bias.data[0], bias.data[1], bias.data[2] = 1, 2, 3

	out := addBias(x, bias)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if out.At(i, j) != bias.data[j] {
				t.Errorf("expected %f at (%d,%d), got %f", bias.data[j], i, j, out.At(i, j))
			}
		}
	}
}

func TestCheckFinite(t *testing.T) {
	x := NewTensor(2, 2)
	if err := CheckFinite("clean", x); err != nil {
		t.Errorf("unexpected error on finite tensor: %v", err)
	}

	x.Set(math.NaN(), 1, 0)
	if err := CheckFinite("dirty", x); err == nil {
		t.Error("expected error on NaN tensor")
	}

	x.Set(math.Inf(1), 1, 0)
	if err := CheckFinite("dirty", x); err == nil {
		t.Error("expected error on Inf tensor")
	}
}

func TestGELUValues(t *testing.T) {
	x := NewTensor(1, 3)
	x.Set(-10, 0, 0)
	x.Set(0, 0, 1)
	x.Set(10, 0, 2)

	g := GELU(x)
	if math.Abs(g.At(0, 0)) > 1e-3 {
		t.Errorf("GELU(-10) should be ~0, got %f", g.At(0, 0))
	}
	if g.At(0, 1) != 0 {
		t.Errorf("GELU(0) should be 0, got %f", g.At(0, 1))
	}
	if math.Abs(g.At(0, 2)-10) > 1e-3 {
		t.Errorf("GELU(10) should be ~10, got %f", g.At(0, 2))
	}
}
