package main

import (
	"math"
	"math/rand"
	"testing"
)

func TestMatMulParallelMatchesSingleThreaded(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	a := NewTensorRandn(rng, 1.0, 37, 53)
	b := NewTensorRandn(rng, 1.0, 53, 29)

	single := MatMulWithConfig(a, b, SingleThreadedConfig())

	parallel := MatMulWithConfig(a, b, ComputeConfig{
		Parallel:           true,
		NumWorkers:         4,
		MinSizeForParallel: 1,
	})

	for i := range single.data {
		if single.data[i] != parallel.data[i] {
			t.Fatalf("parallel result differs from single-threaded at %d: %g vs %g",
				i, parallel.data[i], single.data[i])
		}
	}
}

func TestMatMulBelowThresholdStaysCorrect(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	a := NewTensorRandn(rng, 1.0, 3, 4)
	b := NewTensorRandn(rng, 1.0, 4, 2)

	// Threshold far above the matrix size: parallel config must still give
	// the right answer via the serial path.
	got := MatMulWithConfig(a, b, DefaultComputeConfig())
	want := MatMulWithConfig(a, b, SingleThreadedConfig())

	for i := range want.data {
		if got.data[i] != want.data[i] {
			t.Fatalf("threshold fallback result differs at %d", i)
		}
	}
}

func TestParallelApplyMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	x := NewTensorRandn(rng, 2.0, 16, 33)
	fn := func(v float64) float64 { return math.Tanh(v) }

	serial := ParallelApply(x, fn, SingleThreadedConfig())
	parallel := ParallelApply(x, fn, ComputeConfig{
		Parallel:           true,
		NumWorkers:         8,
		MinSizeForParallel: 1,
	})

	for i := range serial.data {
		if serial.data[i] != parallel.data[i] {
			t.Fatalf("ParallelApply mismatch at %d: %g vs %g", i, parallel.data[i], serial.data[i])
		}
	}
}

func TestComputeConfigWorkerSelection(t *testing.T) {
	cfg := SingleThreadedConfig()
	if cfg.numWorkers() != 1 {
		t.Errorf("single-threaded config should use 1 worker, got %d", cfg.numWorkers())
	}
	if cfg.shouldParallelize(1 << 20) {
		t.Error("single-threaded config should never parallelize")
	}

	cfg = ComputeConfig{Parallel: true, NumWorkers: 3, MinSizeForParallel: 10}
	if cfg.numWorkers() != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.numWorkers())
	}
	if cfg.shouldParallelize(9) {
		t.Error("size below threshold should not parallelize")
	}
	if !cfg.shouldParallelize(10) {
		t.Error("size at threshold should parallelize")
	}
}

func TestGlobalComputeConfigRoundTrip(t *testing.T) {
	orig := GetGlobalComputeConfig()
	defer SetGlobalComputeConfig(orig)

	SetGlobalComputeConfig(SingleThreadedConfig())
	if GetGlobalComputeConfig().Parallel {
		t.Error("global config should be single-threaded after SetGlobalComputeConfig")
	}

	// MatMul picks up the global config.
	a := NewTensor(2, 2)
	a.Set(1, 0, 0)
	a.Set(1, 1, 1)
	b := NewTensor(2, 2)
	b.Set(5, 0, 1)
	c := MatMul(a, b)
	if c.At(0, 1) != 5 {
		t.Errorf("identity matmul through global config: expected 5, got %f", c.At(0, 1))
	}
}

func BenchmarkMatMulSingleThreaded(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	x := NewTensorRandn(rng, 1.0, 128, 128)
	y := NewTensorRandn(rng, 1.0, 128, 128)
	cfg := SingleThreadedConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MatMulWithConfig(x, y, cfg)
	}
}

func BenchmarkMatMulParallel(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	x := NewTensorRandn(rng, 1.0, 128, 128)
	y := NewTensorRandn(rng, 1.0, 128, 128)
	cfg := ComputeConfig{Parallel: true, MinSizeForParallel: 1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MatMulWithConfig(x, y, cfg)
	}
}
