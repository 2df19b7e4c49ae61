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
// The two attention primitives every higher module is built from:
//
//   MultiHeadAttention   - same-dimension Q/K/V, used by the controller for
//                          self-attention over the input sequence, with an
//                          optional output gate.
//   CrossModuleAttention - Q, K and V may live in different-dimensioned
//                          spaces (controller vs worker states); independent
//                          projections reconcile them in a shared head space
//                          sized from the smallest of the three.
//
// Both are pure functions of their inputs and parameters: no hidden state,
// no caching. The mechanism is the standard scaled dot-product:
//
//   1. Project Q, K, V through independent linear maps
//   2. Split into heads, compute Q·K^T / sqrt(headDim)
//   3. Masked positions are forced to a large negative sentinel so softmax
//      sends their weight to ~0
//   4. Softmax along the key axis, dropout on the weights
//   5. Weighted sum of V, concatenate heads, project out
//
// Dropout lands on the post-softmax weights, so row sums only hold exactly
// when dropout is disabled. That placement is intentional regularization
// noise, matching standard transformer practice.
//
// ===========================================================================

// maskedScore is the sentinel written into attention scores at masked
// positions; effectively -inf after softmax.
const maskedScore = -1e9

// MultiHeadAttention implements same-dimension multi-head attention with an
// optional sigmoid output gate blending attention output with the query:
// gate*attnOut + (1-gate)*query.
type MultiHeadAttention struct {
	dim      int
	numHeads int
	headDim  int

	query  *Linear
	key    *Linear
	value  *Linear
	output *Linear
	gate   *Linear // nil when gating is disabled

	drop *dropout
}

// NewMultiHeadAttention creates a multi-head attention layer.
// Panics if dim is not divisible by numHeads: an invalid head configuration
// is a construction-time bug, never a runtime condition.
func NewMultiHeadAttention(dim, numHeads int, dropRate float64, gated bool, rng *rand.Rand, training *bool) *MultiHeadAttention {
	if numHeads <= 0 || dim%numHeads != 0 {
		panic(fmt.Sprintf("attention: invalid head configuration: dim %d not divisible by %d heads", dim, numHeads))
	}

	a := &MultiHeadAttention{
		dim:      dim,
		numHeads: numHeads,
		headDim:  dim / numHeads,
		query:    NewLinear(dim, dim, rng),
		key:      NewLinear(dim, dim, rng),
		value:    NewLinear(dim, dim, rng),
		output:   NewLinear(dim, dim, rng),
		drop:     newDropout(dropRate, rng, training),
	}
	if gated {
		a.gate = NewLinear(dim, dim, rng)
	}
	return a
}

// Forward computes attention. query/key/value: (batch, seq, dim); key and
// value must share a sequence length. mask, if non-nil, is (batch, seqK)
// with 1=attend, 0=ignore.
//
// Returns the attended output (batch, seqQ, dim) and the attention weights
// (batch, heads, seqQ, seqK).
func (a *MultiHeadAttention) Forward(query, key, value, mask *Tensor) (*Tensor, *Tensor) {
	checkAttnInput("attention", query, key, value, a.dim, a.dim, a.dim)

	q := a.query.Forward(query)
	k := a.key.Forward(key)
	v := a.value.Forward(value)

	ctx, weights := scaledDotProduct(q, k, v, a.numHeads, a.headDim, mask, a.drop)
	out := a.output.Forward(ctx)

	if a.gate != nil {
		g := Sigmoid(a.gate.Forward(query))
		out = GateBlend(g, out, query)
	}

	return out, weights
}

// parameters returns the learnable tensors of the layer.
func (a *MultiHeadAttention) parameters() []*Tensor {
	params := append(a.query.parameters(), a.key.parameters()...)
	params = append(params, a.value.parameters()...)
	params = append(params, a.output.parameters()...)
	if a.gate != nil {
		params = append(params, a.gate.parameters()...)
	}
	return params
}

// CrossModuleAttention attends between tensors whose feature spaces differ.
// The head dimension is floor(min(queryDim, keyDim, valueDim) / numHeads);
// all three sides are projected into numHeads*headDim space, and the
// attended result is projected to outputDim.
type CrossModuleAttention struct {
	queryDim  int
	keyDim    int
	valueDim  int
	outputDim int
	numHeads  int
	headDim   int

	query  *Linear
	key    *Linear
	value  *Linear
	output *Linear

	drop *dropout
}

// NewCrossModuleAttention creates a cross-dimensional attention layer.
// Panics if the computed head dimension is not positive.
func NewCrossModuleAttention(queryDim, keyDim, valueDim, outputDim, numHeads int, dropRate float64, rng *rand.Rand, training *bool) *CrossModuleAttention {
	if numHeads <= 0 {
		panic(fmt.Sprintf("attention: invalid head configuration: numHeads %d", numHeads))
	}

	minDim := queryDim
	if keyDim < minDim {
		minDim = keyDim
	}
	if valueDim < minDim {
		minDim = valueDim
	}
	headDim := minDim / numHeads
	if headDim <= 0 {
		panic(fmt.Sprintf("attention: invalid head configuration: min dim %d with %d heads gives head dim %d", minDim, numHeads, headDim))
	}

	inner := numHeads * headDim
	return &CrossModuleAttention{
		queryDim:  queryDim,
		keyDim:    keyDim,
		valueDim:  valueDim,
		outputDim: outputDim,
		numHeads:  numHeads,
		headDim:   headDim,
		query:     NewLinear(queryDim, inner, rng),
		key:       NewLinear(keyDim, inner, rng),
		value:     NewLinear(valueDim, inner, rng),
		output:    NewLinear(inner, outputDim, rng),
		drop:      newDropout(dropRate, rng, training),
	}
}

// Forward computes cross-module attention. query: (batch, seqQ, queryDim),
// key: (batch, seqK, keyDim), value: (batch, seqK, valueDim). mask, if
// non-nil, is (batch, seqK) with 1=attend, 0=ignore.
//
// Returns the attended output (batch, seqQ, outputDim) and the attention
// weights (batch, heads, seqQ, seqK).
func (c *CrossModuleAttention) Forward(query, key, value, mask *Tensor) (*Tensor, *Tensor) {
	checkAttnInput("cross-attention", query, key, value, c.queryDim, c.keyDim, c.valueDim)

	q := c.query.Forward(query)
	k := c.key.Forward(key)
	v := c.value.Forward(value)

	ctx, weights := scaledDotProduct(q, k, v, c.numHeads, c.headDim, mask, c.drop)
	return c.output.Forward(ctx), weights
}

// parameters returns the learnable tensors of the layer.
func (c *CrossModuleAttention) parameters() []*Tensor {
	params := append(c.query.parameters(), c.key.parameters()...)
	params = append(params, c.value.parameters()...)
	return append(params, c.output.parameters()...)
}

// scaledDotProduct runs the per-head attention core. q: (batch, seqQ, H*hd),
// k/v: (batch, seqK, H*hd). Returns the concatenated head outputs
// (batch, seqQ, H*hd) and the weights (batch, H, seqQ, seqK).
func scaledDotProduct(q, k, v *Tensor, numHeads, headDim int, mask *Tensor, drop *dropout) (*Tensor, *Tensor) {
	batch, seqQ := q.shape[0], q.shape[1]
	seqK := k.shape[1]
	inner := numHeads * headDim

	if mask != nil {
		if len(mask.shape) != 2 || mask.shape[0] != batch || mask.shape[1] != seqK {
			panic(fmt.Sprintf("attention: mask shape %v does not broadcast over scores (batch=%d, seqK=%d)", mask.shape, batch, seqK))
		}
	}

	ctx := NewTensor(batch, seqQ, inner)
	weights := NewTensor(batch, numHeads, seqQ, seqK)
	scale := 1.0 / math.Sqrt(float64(headDim))

	for b := 0; b < batch; b++ {
		qb, kb, vb := q.Index(b), k.Index(b), v.Index(b)

		for h := 0; h < numHeads; h++ {
			qh := sliceHead(qb, h, headDim, inner)
			kh := sliceHead(kb, h, headDim, inner)
			vh := sliceHead(vb, h, headDim, inner)

			scores := Scale(MatMul(qh, Transpose(kh)), scale)

			if mask != nil {
				for j := 0; j < seqK; j++ {
					if mask.At(b, j) == 0 {
						for i := 0; i < seqQ; i++ {
							scores.Set(maskedScore, i, j)
						}
					}
				}
			}

			w := drop.Forward(Softmax(scores))
			attended := MatMul(w, vh) // (seqQ, headDim)

			for i := 0; i < seqQ; i++ {
				for j := 0; j < seqK; j++ {
					weights.Set(w.At(i, j), b, h, i, j)
				}
				for d := 0; d < headDim; d++ {
					ctx.Set(attended.At(i, d), b, i, h*headDim+d)
				}
			}
		}
	}

	return ctx, weights
}

// sliceHead extracts head h from a (seq, H*hd) projection as a (seq, hd)
// matrix.
func sliceHead(x *Tensor, h, headDim, inner int) *Tensor {
	seq := x.shape[0]
	out := NewTensor(seq, headDim)
	for i := 0; i < seq; i++ {
		copy(out.data[i*headDim:(i+1)*headDim], x.data[i*inner+h*headDim:i*inner+(h+1)*headDim])
	}
	return out
}

// checkAttnInput validates the rank and feature dimensions of an attention
// call, and that key and value agree on sequence length.
func checkAttnInput(name string, query, key, value *Tensor, qDim, kDim, vDim int) {
	if len(query.shape) != 3 || len(key.shape) != 3 || len(value.shape) != 3 {
		panic(name + ": inputs must be 3D (batch, seq, dim)")
	}
	if query.shape[2] != qDim || key.shape[2] != kDim || value.shape[2] != vDim {
		panic(fmt.Sprintf("%s: dims (%d,%d,%d) do not match configured (%d,%d,%d)",
			name, query.shape[2], key.shape[2], value.shape[2], qDim, kDim, vDim))
	}
	if key.shape[1] != value.shape[1] {
		panic(fmt.Sprintf("%s: key seq %d != value seq %d", name, key.shape[1], value.shape[1]))
	}
	if query.shape[0] != key.shape[0] || key.shape[0] != value.shape[0] {
		panic(fmt.Sprintf("%s: batch sizes differ: %d, %d, %d", name, query.shape[0], key.shape[0], value.shape[0]))
	}
}
