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
// The Worker: the fast, detail-oriented half of the model. Where the
// controller deliberates over the whole sequence, the worker operates on a
// single fixed-size vector per batch element and refines its hidden state
// through a short stack of layers every reasoning cycle.
//
// Each worker layer runs three transforms of the current activation in
// parallel:
//
//   linear    - plain projection, added as a residual at the end
//   mixing    - a kernel-3 convolution over a singleton sequence position;
//               with zero padding only the center tap contributes, so this
//               behaves as a learned smoothing map
//   recurrent - a GRU cell seeded by the hidden state carried across cycles
//
// The mixing and recurrent branches are fused by a learned sigmoid gate over
// their concatenation (gate*mixed + (1-gate)*recurrent), and the hidden
// state is updated additively: hidden' = hidden + output. There is no decay
// on that accumulation; the orchestrator's per-cycle normalization is the
// only counterweight, and that matches the architecture on purpose.
//
// Branch selection is decided at construction: disabling a branch swaps in
// an identity strategy that passes the raw input through, and the gate still
// blends whatever is present. No runtime conditionals in the hot path.
//
// ===========================================================================

// WorkerConfig configures a Worker module.
type WorkerConfig struct {
	Dim       int     // Hidden dimension
	NumLayers int     // Depth of the worker layer stack
	Dropout   float64 // Dropout rate
	UseConv   bool    // Enable the convolutional mixing branch
	UseGRU    bool    // Enable the recurrent-cell branch
}

// WorkerResult is the output of one worker step.
type WorkerResult struct {
	Hidden   *Tensor // Updated hidden state (batch, dim)
	Pattern  *Tensor // Pattern-recognition sub-network output (batch, dim)
	Response *Tensor // Fast-response sub-network output (batch, dim)
}

// Worker is the per-cycle fast recurrent module.
type Worker struct {
	cfg WorkerConfig

	inputProj *Linear
	layers    []*workerLayer
	norms     []*LayerNorm
	drop      *dropout

	pattern  *patternNetwork
	response *responseNetwork
}

// NewWorker creates a worker module.
func NewWorker(cfg WorkerConfig, rng *rand.Rand, training *bool) *Worker {
	if cfg.Dim <= 0 || cfg.NumLayers <= 0 {
		panic(fmt.Sprintf("worker: invalid configuration: dim %d, layers %d", cfg.Dim, cfg.NumLayers))
	}

	w := &Worker{
		cfg:       cfg,
		inputProj: NewLinear(cfg.Dim, cfg.Dim, rng),
		layers:    make([]*workerLayer, cfg.NumLayers),
		norms:     make([]*LayerNorm, cfg.NumLayers),
		drop:      newDropout(cfg.Dropout, rng, training),
		pattern:   newPatternNetwork(cfg.Dim, cfg.Dropout, rng, training),
		response:  newResponseNetwork(cfg.Dim, cfg.Dropout, rng, training),
	}
	for i := range w.layers {
		w.layers[i] = newWorkerLayer(cfg, rng, training)
		w.norms[i] = NewLayerNorm(cfg.Dim)
	}
	return w
}

// Step runs one worker step. x and hidden: (batch, dim).
func (w *Worker) Step(x, hidden *Tensor) WorkerResult {
	checkState("worker input", x, w.cfg.Dim)
	checkState("worker hidden", hidden, w.cfg.Dim)

	x = w.inputProj.Forward(x)
	current := hidden

	for i, layer := range w.layers {
		normed := w.norms[i].Forward(x)
		out, newHidden := layer.step(normed, current)
		current = newHidden
		x = Add(x, w.drop.Forward(out))
	}

	pattern := w.pattern.forward(current)
	response := w.response.forward(current)
	final := Add(Add(current, pattern), response)

	return WorkerResult{Hidden: final, Pattern: pattern, Response: response}
}

// parameters returns all learnable tensors of the worker.
func (w *Worker) parameters() []*Tensor {
	params := w.inputProj.parameters()
	for i := range w.layers {
		params = append(params, w.layers[i].parameters()...)
		params = append(params, w.norms[i].parameters()...)
	}
	params = append(params, w.pattern.parameters()...)
	return append(params, w.response.parameters()...)
}

// workerLayer combines the three computation branches with gated fusion.
type workerLayer struct {
	linear    *Linear
	mixing    mixingBranch
	recurrent recurrentBranch
	gate      *Linear // (2*dim -> dim), sigmoid-activated
	drop      *dropout
}

func newWorkerLayer(cfg WorkerConfig, rng *rand.Rand, training *bool) *workerLayer {
	l := &workerLayer{
		linear: NewLinear(cfg.Dim, cfg.Dim, rng),
		gate:   NewLinear(2*cfg.Dim, cfg.Dim, rng),
		drop:   newDropout(cfg.Dropout, rng, training),
	}
	if cfg.UseConv {
		l.mixing = newConvMixing(cfg.Dim, rng)
	} else {
		l.mixing = identityMixing{}
	}
	if cfg.UseGRU {
		l.recurrent = newGRUCell(cfg.Dim, rng)
	} else {
		l.recurrent = identityRecurrent{}
	}
	return l
}

// step returns the layer output and the additively updated hidden state.
func (l *workerLayer) step(x, hidden *Tensor) (*Tensor, *Tensor) {
	linearOut := l.linear.Forward(x)
	mixed := l.mixing.forward(x)
	recurrent := l.recurrent.step(x, hidden)

	gate := Sigmoid(l.gate.Forward(ConcatCols(mixed, recurrent)))
	out := Add(GateBlend(gate, mixed, recurrent), linearOut)
	out = l.drop.Forward(out)

	return out, Add(hidden, out)
}

func (l *workerLayer) parameters() []*Tensor {
	params := append(l.linear.parameters(), l.gate.parameters()...)
	params = append(params, l.mixing.parameters()...)
	return append(params, l.recurrent.parameters()...)
}

// ===========================================================================
// BRANCH STRATEGIES
// ===========================================================================

// mixingBranch is the local-mixing transform of a worker layer.
type mixingBranch interface {
	forward(x *Tensor) *Tensor
	parameters() []*Tensor
}

// recurrentBranch is the hidden-state-seeded transform of a worker layer.
type recurrentBranch interface {
	step(x, hidden *Tensor) *Tensor
	parameters() []*Tensor
}

// identityMixing passes the input through unchanged; the gate still blends
// it against the recurrent branch.
type identityMixing struct{}

func (identityMixing) forward(x *Tensor) *Tensor { return x }
func (identityMixing) parameters() []*Tensor     { return nil }

// identityRecurrent ignores the hidden state and passes the input through.
type identityRecurrent struct{}

func (identityRecurrent) step(x, _ *Tensor) *Tensor { return x }
func (identityRecurrent) parameters() []*Tensor     { return nil }

// convMixing is a kernel-3 1-D convolution over a singleton sequence
// position. Weight layout: (outChannel, inChannel, tap). Because the
// sequence length is 1 and padding is zero, only the center tap (index 1)
// ever multiplies real data; the edge taps exist so the parameter shape
// matches a genuine convolution.
type convMixing struct {
	dim    int
	weight *Tensor // (dim, dim, 3)
	bias   *Tensor // (dim,)
}

func newConvMixing(dim int, rng *rand.Rand) *convMixing {
	c := &convMixing{
		dim:    dim,
		weight: NewTensor(dim, dim, 3),
		bias:   NewTensor(dim),
	}
	c.initialize(rng)
	return c
}

// initialize applies the fan-in uniform scheme for convolutions:
// U(-a, a) with a = 1/sqrt(inChannels * kernelSize).
func (c *convMixing) initialize(rng *rand.Rand) {
	limit := 1.0 / math.Sqrt(float64(c.dim*3))
	for i := range c.weight.data {
		c.weight.data[i] = (2*rng.Float64() - 1) * limit
	}
	for i := range c.bias.data {
		c.bias.data[i] = (2*rng.Float64() - 1) * limit
	}
}

func (c *convMixing) forward(x *Tensor) *Tensor {
	batch := x.shape[0]
	out := NewTensor(batch, c.dim)

	for b := 0; b < batch; b++ {
		for o := 0; o < c.dim; o++ {
			sum := c.bias.data[o]
			for i := 0; i < c.dim; i++ {
				// Center tap only; neighbors are zero padding.
				sum += c.weight.data[(o*c.dim+i)*3+1] * x.data[b*c.dim+i]
			}
			out.data[b*c.dim+o] = sum
		}
	}
	return out
}

func (c *convMixing) parameters() []*Tensor {
	return []*Tensor{c.weight, c.bias}
}

// gruCell is a standard gated recurrent unit cell:
//
//	r = σ(Wr x + Ur h + br)
//	z = σ(Wz x + Uz h + bz)
//	n = tanh(Wn x + r ⊙ (Un h) + bn)
//	h' = (1-z) ⊙ n + z ⊙ h
type gruCell struct {
	dim int

	// Input-to-hidden and hidden-to-hidden maps for each gate.
	wr, ur *Linear
	wz, uz *Linear
	wn, un *Linear
}

func newGRUCell(dim int, rng *rand.Rand) *gruCell {
	g := &gruCell{
		dim: dim,
		wr:  NewLinear(dim, dim, rng),
		ur:  NewLinear(dim, dim, rng),
		wz:  NewLinear(dim, dim, rng),
		uz:  NewLinear(dim, dim, rng),
		wn:  NewLinear(dim, dim, rng),
		un:  NewLinear(dim, dim, rng),
	}
	g.initialize(rng)
	return g
}

// initialize applies the fan-in uniform scheme recurrent cells use:
// U(-a, a) with a = 1/sqrt(hiddenDim), overriding the Xavier defaults the
// embedded Linear layers were constructed with.
func (g *gruCell) initialize(rng *rand.Rand) {
	limit := 1.0 / math.Sqrt(float64(g.dim))
	for _, l := range []*Linear{g.wr, g.ur, g.wz, g.uz, g.wn, g.un} {
		for i := range l.weight.data {
			l.weight.data[i] = (2*rng.Float64() - 1) * limit
		}
		for i := range l.bias.data {
			l.bias.data[i] = (2*rng.Float64() - 1) * limit
		}
	}
}

func (g *gruCell) step(x, hidden *Tensor) *Tensor {
	r := Sigmoid(Add(g.wr.Forward(x), g.ur.Forward(hidden)))
	z := Sigmoid(Add(g.wz.Forward(x), g.uz.Forward(hidden)))
	n := Tanh(Add(g.wn.Forward(x), Mul(r, g.un.Forward(hidden))))

	// h' = (1-z)*n + z*h, i.e. the update gate decides how much of the
	// old hidden state survives.
	return GateBlend(z, hidden, n)
}

func (g *gruCell) parameters() []*Tensor {
	params := append(g.wr.parameters(), g.ur.parameters()...)
	params = append(params, g.wz.parameters()...)
	params = append(params, g.uz.parameters()...)
	params = append(params, g.wn.parameters()...)
	return append(params, g.un.parameters()...)
}

// ===========================================================================
// SUB-NETWORKS
// ===========================================================================

// patternNetwork is the post-stack pattern-recognition head: pre-norm, then
// dim -> 2*dim -> dim -> dim with ReLU between layers. No residual.
type patternNetwork struct {
	norm *LayerNorm
	fc1  *Linear
	fc2  *Linear
	fc3  *Linear
	drop *dropout
}

func newPatternNetwork(dim int, dropRate float64, rng *rand.Rand, training *bool) *patternNetwork {
	return &patternNetwork{
		norm: NewLayerNorm(dim),
		fc1:  NewLinear(dim, 2*dim, rng),
		fc2:  NewLinear(2*dim, dim, rng),
		fc3:  NewLinear(dim, dim, rng),
		drop: newDropout(dropRate, rng, training),
	}
}

func (p *patternNetwork) forward(x *Tensor) *Tensor {
	h := p.norm.Forward(x)
	h = p.drop.Forward(ReLU(p.fc1.Forward(h)))
	h = p.drop.Forward(ReLU(p.fc2.Forward(h)))
	return p.fc3.Forward(h)
}

func (p *patternNetwork) parameters() []*Tensor {
	params := append(p.norm.parameters(), p.fc1.parameters()...)
	params = append(params, p.fc2.parameters()...)
	return append(params, p.fc3.parameters()...)
}

// responseNetwork is the shallow fast-response head: pre-norm, then
// dim -> dim -> dim with a single ReLU. Shallow on purpose.
type responseNetwork struct {
	norm *LayerNorm
	fc1  *Linear
	fc2  *Linear
	drop *dropout
}

func newResponseNetwork(dim int, dropRate float64, rng *rand.Rand, training *bool) *responseNetwork {
	return &responseNetwork{
		norm: NewLayerNorm(dim),
		fc1:  NewLinear(dim, dim, rng),
		fc2:  NewLinear(dim, dim, rng),
		drop: newDropout(dropRate, rng, training),
	}
}

func (r *responseNetwork) forward(x *Tensor) *Tensor {
	h := r.norm.Forward(x)
	h = r.drop.Forward(ReLU(r.fc1.Forward(h)))
	return r.fc2.Forward(h)
}

func (r *responseNetwork) parameters() []*Tensor {
	params := append(r.norm.parameters(), r.fc1.parameters()...)
	return append(params, r.fc2.parameters()...)
}

// checkState validates a (batch, dim) state tensor.
func checkState(name string, t *Tensor, dim int) {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("%s: expected 2D (batch, dim), got %dD", name, len(t.shape)))
	}
	if t.shape[1] != dim {
		panic(fmt.Sprintf("%s: expected dim %d, got %d", name, dim, t.shape[1]))
	}
}
