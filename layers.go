package main

import (
	"fmt"
	"math"
	"math/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The small layer library every module in this model is assembled from:
// Linear projections, LayerNorm, and dropout.
//
// Weight initialization is an explicit, named-scheme affair rather than a
// reflective sweep over submodules: each layer kind knows its scheme
// (Xavier-uniform for projections, ones/zeros for LayerNorm, fan-in uniform
// for the convolution and recurrent cells in worker.go) and constructors
// invoke it exactly once. If you are reading this to find where the weights
// come from, it is always the initialize method of the layer you are
// looking at.
//
// ===========================================================================

// Linear is a fully connected layer: y = x @ W + b.
// W: (inDim, outDim), b: (outDim,).
type Linear struct {
	inDim  int
	outDim int
	weight *Tensor
	bias   *Tensor
}

// NewLinear creates a linear layer with Xavier-uniform initialized weights
// and zero biases.
func NewLinear(inDim, outDim int, rng *rand.Rand) *Linear {
	l := &Linear{
		inDim:  inDim,
		outDim: outDim,
		weight: NewTensor(inDim, outDim),
		bias:   NewTensor(outDim),
	}
	l.initialize(rng)
	return l
}

// initialize applies the Xavier-uniform scheme: W ~ U(-a, a) with
// a = sqrt(6 / (fanIn + fanOut)), bias = 0.
func (l *Linear) initialize(rng *rand.Rand) {
	limit := math.Sqrt(6.0 / float64(l.inDim+l.outDim))
	for i := range l.weight.data {
		l.weight.data[i] = (2*rng.Float64() - 1) * limit
	}
	for i := range l.bias.data {
		l.bias.data[i] = 0
	}
}

// Forward applies the layer. x may be 2D (rows, inDim) or 3D
// (batch, seq, inDim); the leading axes are flattened for the matmul and
// restored afterwards, which is free because tensors are contiguous.
func (l *Linear) Forward(x *Tensor) *Tensor {
	switch len(x.shape) {
	case 2:
		if x.shape[1] != l.inDim {
			panic(fmt.Sprintf("linear: expected input dim %d, got %d", l.inDim, x.shape[1]))
		}
		return addBias(MatMul(x, l.weight), l.bias)
	case 3:
		if x.shape[2] != l.inDim {
			panic(fmt.Sprintf("linear: expected input dim %d, got %d", l.inDim, x.shape[2]))
		}
		batch, seq := x.shape[0], x.shape[1]
		flat := x.Reshape(batch*seq, l.inDim)
		out := addBias(MatMul(flat, l.weight), l.bias)
		return out.Reshape(batch, seq, l.outDim)
	default:
		panic(fmt.Sprintf("linear: input must be 2D or 3D, got %dD", len(x.shape)))
	}
}

// parameters returns the learnable tensors of the layer.
func (l *Linear) parameters() []*Tensor {
	return []*Tensor{l.weight, l.bias}
}

// LayerNorm normalizes activations across the feature (last) axis for each
// position independently: y = γ * (x - μ) / σ + β.
type LayerNorm struct {
	dim   int
	eps   float64
	gamma *Tensor // Scale parameter
	beta  *Tensor // Shift parameter
}

// NewLayerNorm creates a layer normalization layer over the given feature
// dimension, initialized to the identity transform (γ=1, β=0).
func NewLayerNorm(dim int) *LayerNorm {
	ln := &LayerNorm{
		dim:   dim,
		eps:   1e-5,
		gamma: NewTensor(dim),
		beta:  NewTensor(dim),
	}
	ln.initialize()
	return ln
}

// initialize applies the ones/zeros scheme: γ=1, β=0.
func (ln *LayerNorm) initialize() {
	for i := 0; i < ln.dim; i++ {
		ln.gamma.data[i] = 1.0
		ln.beta.data[i] = 0.0
	}
}

// Forward applies layer normalization. x may be 2D (rows, dim) or 3D
// (batch, seq, dim); normalization is always over the last axis.
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	features := x.shape[len(x.shape)-1]
	if features != ln.dim {
		panic(fmt.Sprintf("layernorm: expected feature dim %d, got %d", ln.dim, features))
	}

	out := NewTensor(x.shape...)
	rows := len(x.data) / features

	for r := 0; r < rows; r++ {
		row := x.data[r*features : (r+1)*features]
		outRow := out.data[r*features : (r+1)*features]

		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(features)

		variance := 0.0
		for _, v := range row {
			diff := v - mean
			variance += diff * diff
		}
		variance /= float64(features)

		std := math.Sqrt(variance + ln.eps)
		for j, v := range row {
			outRow[j] = (v-mean)/std*ln.gamma.data[j] + ln.beta.data[j]
		}
	}

	return out
}

// parameters returns the learnable tensors of the layer.
func (ln *LayerNorm) parameters() []*Tensor {
	return []*Tensor{ln.gamma, ln.beta}
}

// dropout implements inverted dropout: during training each element is
// zeroed with probability rate and survivors are scaled by 1/(1-rate);
// at inference it is the identity.
//
// The training flag is shared with the owning model so a single
// SetTraining call flips every dropout layer at once.
type dropout struct {
	rate     float64
	rng      *rand.Rand
	training *bool
}

func newDropout(rate float64, rng *rand.Rand, training *bool) *dropout {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("dropout: rate must be in [0,1), got %g", rate))
	}
	return &dropout{rate: rate, rng: rng, training: training}
}

// Forward applies dropout. Identity when not training or rate is zero.
func (d *dropout) Forward(x *Tensor) *Tensor {
	if d.rate == 0 || d.training == nil || !*d.training {
		return x
	}

	out := NewTensor(x.shape...)
	keepScale := 1.0 / (1.0 - d.rate)
	for i, v := range x.data {
		if d.rng.Float64() >= d.rate {
			out.data[i] = v * keepScale
		}
	}
	return out
}

// countParams sums the element counts of the given parameter tensors.
func countParams(params []*Tensor) int {
	total := 0
	for _, p := range params {
		total += p.Size()
	}
	return total
}
