package main

import (
	"math"
	"testing"
)

func testControllerConfig() ControllerConfig {
	return ControllerConfig{
		Dim:            16,
		NumLayers:      2,
		NumHeads:       4,
		Dropout:        0.0,
		GatedAttention: true,
	}
}

func TestControllerStepShapes(t *testing.T) {
	training := false
	rng := newTestRNG()
	c := NewController(testControllerConfig(), rng, &training)

	x := NewTensorRandn(rng, 1.0, 2, 5, 16)
	hidden := NewTensor(2, 16)

	result := c.Step(x, hidden, nil)

	for name, tensor := range map[string]*Tensor{
		"hidden":   result.Hidden,
		"planning": result.Planning,
		"goal":     result.Goal,
	} {
		shape := tensor.Shape()
		if shape[0] != 2 || shape[1] != 16 {
			t.Errorf("%s: expected shape [2 16], got %v", name, shape)
		}
		if err := CheckFinite(name, tensor); err != nil {
			t.Errorf("%s not finite: %v", name, err)
		}
	}
}

func TestControllerReportsPerLayerAttention(t *testing.T) {
	training := false
	rng := newTestRNG()
	cfg := testControllerConfig()
	c := NewController(cfg, rng, &training)

	x := NewTensorRandn(rng, 1.0, 2, 5, 16)
	result := c.Step(x, NewTensor(2, 16), nil)

	if len(result.Attention) != cfg.NumLayers {
		t.Fatalf("expected %d attention maps, got %d", cfg.NumLayers, len(result.Attention))
	}
	for l, weights := range result.Attention {
		shape := weights.Shape()
		if shape[0] != 2 || shape[1] != 4 || shape[2] != 5 || shape[3] != 5 {
			t.Errorf("layer %d: expected weight shape [2 4 5 5], got %v", l, shape)
		}

		for b := 0; b < 2; b++ {
			for h := 0; h < 4; h++ {
				for i := 0; i < 5; i++ {
					sum := 0.0
					for j := 0; j < 5; j++ {
						sum += weights.At(b, h, i, j)
					}
					if math.Abs(sum-1.0) > 1e-5 {
						t.Errorf("layer %d weights (b=%d, h=%d, row=%d) sum to %f", l, b, h, i, sum)
					}
				}
			}
		}
	}
}

func TestControllerMaskPropagatesToAllLayers(t *testing.T) {
	training := false
	rng := newTestRNG()
	c := NewController(testControllerConfig(), rng, &training)

	x := NewTensorRandn(rng, 1.0, 2, 5, 16)
	mask := NewTensor(2, 5)
	for b := 0; b < 2; b++ {
		for j := 0; j < 5; j++ {
			mask.Set(1, b, j)
		}
	}
	mask.Set(0, 0, 2) // both batch rows ignore position 2
	mask.Set(0, 1, 2)

	result := c.Step(x, NewTensor(2, 16), mask)

	for l, weights := range result.Attention {
		for b := 0; b < 2; b++ {
			for h := 0; h < 4; h++ {
				for i := 0; i < 5; i++ {
					if w := weights.At(b, h, i, 2); w > 1e-6 {
						t.Errorf("layer %d: masked position got weight %g at (b=%d, h=%d, row=%d)", l, w, b, h, i)
					}
				}
			}
		}
	}
}

func TestControllerStepDeterministic(t *testing.T) {
	training := false
	rng := newTestRNG()
	c := NewController(testControllerConfig(), rng, &training)

	x := NewTensorRandn(rng, 1.0, 2, 5, 16)
	hidden := NewTensorRandn(rng, 1.0, 2, 16)

	r1 := c.Step(x, hidden, nil)
	r2 := c.Step(x, hidden, nil)

	for i := range r1.Hidden.data {
		if r1.Hidden.data[i] != r2.Hidden.data[i] {
			t.Fatalf("repeated step differs at %d", i)
		}
	}
}

func TestControllerHiddenReflectsInput(t *testing.T) {
	training := false
	rng := newTestRNG()
	c := NewController(testControllerConfig(), rng, &training)

	hidden := NewTensor(2, 16)
	x1 := NewTensorRandn(rng, 1.0, 2, 5, 16)
	x2 := NewTensorRandn(rng, 1.0, 2, 5, 16)

	h1 := c.Step(x1, hidden, nil).Hidden
	h2 := c.Step(x2, hidden, nil).Hidden

	same := true
	for i := range h1.data {
		if h1.data[i] != h2.data[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different inputs produced identical hidden states")
	}
}

func TestControllerInvalidHeadsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for dim 10 with 4 heads")
		}
	}()
	training := false
	NewController(ControllerConfig{Dim: 10, NumLayers: 1, NumHeads: 4}, newTestRNG(), &training)
}

func TestControllerRejectsWrongInputDim(t *testing.T) {
	training := false
	rng := newTestRNG()
	c := NewController(testControllerConfig(), rng, &training)

	defer func() {
		if recover() == nil {
			t.Error("expected panic for input with wrong feature dimension")
		}
	}()
	c.Step(NewTensor(2, 5, 8), NewTensor(2, 16), nil)
}

func TestMeanPool(t *testing.T) {
	x := NewTensor(1, 2, 3)
	for s := 0; s < 2; s++ {
		for d := 0; d < 3; d++ {
			x.Set(float64(s*3+d), 0, s, d)
		}
	}

	pooled := meanPool(x)
	// Positions (0,1,2) and (3,4,5) average to (1.5, 2.5, 3.5).
	want := []float64{1.5, 2.5, 3.5}
	for d, w := range want {
		if pooled.At(0, d) != w {
			t.Errorf("expected %f at dim %d, got %f", w, d, pooled.At(0, d))
		}
	}
}

func TestAddBroadcast(t *testing.T) {
	x := NewTensor(2, 3, 4)
	v := NewTensor(2, 4)
	for d := 0; d < 4; d++ {
		v.Set(float64(d+1), 0, d)
		v.Set(float64(10*(d+1)), 1, d)
	}

	out := addBroadcast(x, v)
	for s := 0; s < 3; s++ {
		for d := 0; d < 4; d++ {
			if out.At(0, s, d) != float64(d+1) {
				t.Errorf("batch 0 position %d dim %d: expected %f, got %f", s, d, float64(d+1), out.At(0, s, d))
			}
			if out.At(1, s, d) != float64(10*(d+1)) {
				t.Errorf("batch 1 position %d dim %d: expected %f, got %f", s, d, float64(10*(d+1)), out.At(1, s, d))
			}
		}
	}
}

func BenchmarkControllerStep(b *testing.B) {
	training := false
	rng := newTestRNG()
	c := NewController(ControllerConfig{Dim: 64, NumLayers: 2, NumHeads: 8, GatedAttention: true}, rng, &training)
	x := NewTensorRandn(rng, 1.0, 2, 16, 64)
	hidden := NewTensor(2, 64)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Step(x, hidden, nil)
	}
}
