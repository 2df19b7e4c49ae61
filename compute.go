package main

import (
	"runtime"
	"sync"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Parallel execution of the tensor operations the reasoning loop is built
// on. The cycle loop itself is strictly sequential - each cycle consumes the
// states the previous one produced - so the only parallelism available is
// inside individual operations: batch rows of a matmul are independent, and
// element-wise ops are embarrassingly parallel.
//
// The split is row-wise across workers. Each worker writes a contiguous
// block of output rows, which keeps workers off each other's cache lines.
// For small matrices the goroutine overhead exceeds the win, so there is a
// size threshold below which everything stays single-threaded.
//
// ===========================================================================

// ComputeConfig controls parallelization behavior for tensor operations.
//
// Single-threaded mode is deterministic and easier to debug; parallel mode
// is faster for large matrices.
type ComputeConfig struct {
	// Parallel enables multi-threaded execution of tensor operations.
	Parallel bool

	// NumWorkers specifies the number of worker goroutines to use.
	// If 0, defaults to runtime.NumCPU(). Only used when Parallel is true.
	NumWorkers int

	// MinSizeForParallel is the minimum matrix dimension before
	// parallelization kicks in. Small matrices don't benefit due to
	// goroutine overhead.
	MinSizeForParallel int
}

// DefaultComputeConfig returns a sensible default configuration.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           true,
		NumWorkers:         0, // Use all available CPUs
		MinSizeForParallel: 64,
	}
}

// SingleThreadedConfig returns a configuration for single-threaded execution.
func SingleThreadedConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           false,
		NumWorkers:         1,
		MinSizeForParallel: 0,
	}
}

// numWorkers returns the actual number of workers to use.
func (c ComputeConfig) numWorkers() int {
	if !c.Parallel {
		return 1
	}
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	return runtime.NumCPU()
}

// shouldParallelize determines if an operation should use parallelization
// based on the problem size.
func (c ComputeConfig) shouldParallelize(size int) bool {
	return c.Parallel && size >= c.MinSizeForParallel
}

// Global compute configuration (can be overridden per operation).
var globalComputeConfig = DefaultComputeConfig()

// SetGlobalComputeConfig sets the global compute configuration.
func SetGlobalComputeConfig(cfg ComputeConfig) {
	globalComputeConfig = cfg
}

// GetGlobalComputeConfig returns the current global compute configuration.
func GetGlobalComputeConfig() ComputeConfig {
	return globalComputeConfig
}

// MatMulWithConfig performs matrix multiplication with the given compute
// configuration. A must be (M, K), B must be (K, N).
func MatMulWithConfig(a, b *Tensor, cfg ComputeConfig) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}

	m, k1 := a.shape[0], a.shape[1]
	k2, n := b.shape[0], b.shape[1]
	if k1 != k2 {
		panic("tensor: incompatible dimensions for matmul")
	}
	k := k1

	out := NewTensor(m, n)

	if !cfg.shouldParallelize(m) || !cfg.shouldParallelize(n) {
		matmulRows(a, b, out, 0, m, n, k)
		return out
	}

	numWorkers := cfg.numWorkers()
	rowsPerWorker := (m + numWorkers - 1) / numWorkers // Ceiling division

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if endRow > m {
			endRow = m
		}
		if startRow >= m {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			matmulRows(a, b, out, start, end, n, k)
		}(startRow, endRow)
	}

	wg.Wait()
	return out
}

// matmulRows computes output rows [startRow, endRow).
func matmulRows(a, b, out *Tensor, startRow, endRow, n, k int) {
	for i := startRow; i < endRow; i++ {
		aRow := a.data[i*k : (i+1)*k]
		outRow := out.data[i*n : (i+1)*n]
		for kk := 0; kk < k; kk++ {
			av := aRow[kk]
			if av == 0 {
				continue
			}
			bRow := b.data[kk*n : (kk+1)*n]
			for j := 0; j < n; j++ {
				outRow[j] += av * bRow[j]
			}
		}
	}
}

// ParallelApply applies a function to each element in parallel.
// Useful for element-wise operations like activations on large tensors.
func ParallelApply(t *Tensor, fn func(float64) float64, cfg ComputeConfig) *Tensor {
	out := NewTensor(t.shape...)
	size := len(t.data)

	if !cfg.shouldParallelize(size) {
		for i := 0; i < size; i++ {
			out.data[i] = fn(t.data[i])
		}
		return out
	}

	numWorkers := cfg.numWorkers()
	elemsPerWorker := (size + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * elemsPerWorker
		end := start + elemsPerWorker
		if end > size {
			end = size
		}
		if start >= size {
			break
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				out.data[i] = fn(t.data[i])
			}
		}(start, end)
	}

	wg.Wait()
	return out
}
