package main

import (
	"fmt"
	"math/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The Controller: the slow, deliberate half of the model. It re-reads the
// whole input sequence every reasoning cycle through a pre-norm transformer
// stack, and squeezes what it learned into a fixed-size hidden state.
//
// The interesting part is how sequence-level information becomes a vector:
// after every layer, the mean over sequence positions of the layer output
// is added to the hidden state (hidden += mean_t(x_t)). That accumulation
// is deliberately un-normalized here; the orchestrator layer-normalizes the
// controller state once per cycle and that is the only safeguard, matching
// the architecture this implements.
//
// Two sub-networks frame the stack:
//
//   goal encoder     - projects the incoming hidden state into a goal
//                      vector that is broadcast-added to every sequence
//                      position, so each cycle re-reads the input in the
//                      light of what it already concluded
//   planning network - a deeper GELU MLP that turns the accumulated hidden
//                      state into a planning delta added at the end
//
// Self-attention optionally gates its output against the query
// (gate*attnOut + (1-gate)*query), and the feed-forward is a GLU:
// sigmoid(gateProj) * gelu(upProj), down-projected.
//
// ===========================================================================

// ControllerConfig configures a Controller module.
type ControllerConfig struct {
	Dim            int     // Hidden dimension
	NumLayers      int     // Depth of the attention/feed-forward stack
	NumHeads       int     // Attention heads; Dim must divide evenly
	Dropout        float64 // Dropout rate
	GatedAttention bool    // Blend attention output with the query via a gate
}

// ControllerResult is the output of one controller step.
type ControllerResult struct {
	Hidden    *Tensor   // Updated hidden state (batch, dim)
	Planning  *Tensor   // Planning network delta (batch, dim)
	Goal      *Tensor   // Goal encoding used this step (batch, dim)
	Attention []*Tensor // Per-layer attention weights (batch, heads, seq, seq)
}

// Controller is the per-cycle slow planning module.
type Controller struct {
	cfg ControllerConfig

	layers   []*controllerLayer
	drop     *dropout
	planning *planningNetwork
	goal     *goalEncoder
}

// NewController creates a controller module. Panics on an invalid head
// configuration, before any forward computation can happen.
func NewController(cfg ControllerConfig, rng *rand.Rand, training *bool) *Controller {
	if cfg.Dim <= 0 || cfg.NumLayers <= 0 {
		panic(fmt.Sprintf("controller: invalid configuration: dim %d, layers %d", cfg.Dim, cfg.NumLayers))
	}

	c := &Controller{
		cfg:      cfg,
		layers:   make([]*controllerLayer, cfg.NumLayers),
		drop:     newDropout(cfg.Dropout, rng, training),
		planning: newPlanningNetwork(cfg.Dim, cfg.Dropout, rng, training),
		goal:     newGoalEncoder(cfg.Dim, rng),
	}
	for i := range c.layers {
		c.layers[i] = newControllerLayer(cfg, rng, training)
	}
	return c
}

// Step runs one controller step over the (goal-augmented) input sequence.
// x: (batch, seqLen, dim), hidden: (batch, dim). mask, if non-nil, is
// (batch, seqLen) with 1=attend.
func (c *Controller) Step(x, hidden, mask *Tensor) ControllerResult {
	if len(x.shape) != 3 || x.shape[2] != c.cfg.Dim {
		panic(fmt.Sprintf("controller: expected input (batch, seq, %d), got %v", c.cfg.Dim, x.Shape()))
	}
	checkState("controller hidden", hidden, c.cfg.Dim)

	goal := c.goal.forward(hidden)
	x = addBroadcast(x, goal)

	current := hidden
	attention := make([]*Tensor, 0, len(c.layers))

	for _, layer := range c.layers {
		var weights *Tensor
		x, weights = layer.forward(x, mask, c.drop)
		attention = append(attention, weights)

		// Fold the layer's view of the sequence into the hidden state.
		current = Add(current, meanPool(x))
	}

	planning := c.planning.forward(current)
	final := Add(current, planning)

	return ControllerResult{Hidden: final, Planning: planning, Goal: goal, Attention: attention}
}

// parameters returns all learnable tensors of the controller.
func (c *Controller) parameters() []*Tensor {
	var params []*Tensor
	for _, layer := range c.layers {
		params = append(params, layer.parameters()...)
	}
	params = append(params, c.planning.parameters()...)
	return append(params, c.goal.parameters()...)
}

// controllerLayer is one pre-norm attention + feed-forward block.
type controllerLayer struct {
	attnNorm *LayerNorm
	attn     *MultiHeadAttention
	ffNorm   *LayerNorm
	ff       *gatedFeedForward
}

func newControllerLayer(cfg ControllerConfig, rng *rand.Rand, training *bool) *controllerLayer {
	return &controllerLayer{
		attnNorm: NewLayerNorm(cfg.Dim),
		attn:     NewMultiHeadAttention(cfg.Dim, cfg.NumHeads, cfg.Dropout, cfg.GatedAttention, rng, training),
		ffNorm:   NewLayerNorm(cfg.Dim),
		ff:       newGatedFeedForward(cfg.Dim, cfg.Dropout, rng, training),
	}
}

// forward applies pre-norm attention and feed-forward, each with a residual
// connection, and returns the new sequence plus the attention weights.
func (l *controllerLayer) forward(x, mask *Tensor, drop *dropout) (*Tensor, *Tensor) {
	normed := l.attnNorm.Forward(x)
	attnOut, weights := l.attn.Forward(normed, normed, normed, mask)
	x = Add(x, drop.Forward(attnOut))

	normed = l.ffNorm.Forward(x)
	x = Add(x, drop.Forward(l.ff.forward(normed)))

	return x, weights
}

func (l *controllerLayer) parameters() []*Tensor {
	params := append(l.attnNorm.parameters(), l.attn.parameters()...)
	params = append(params, l.ffNorm.parameters()...)
	return append(params, l.ff.parameters()...)
}

// gatedFeedForward is a GLU-style feed-forward block:
// down(sigmoid(gateProj(x)) * gelu(upProj(x))), with the hidden expansion
// at 2x the model dimension.
type gatedFeedForward struct {
	gateProj *Linear // (dim -> 2*dim)
	upProj   *Linear // (dim -> 2*dim)
	downProj *Linear // (2*dim -> dim)
	drop     *dropout
}

func newGatedFeedForward(dim int, dropRate float64, rng *rand.Rand, training *bool) *gatedFeedForward {
	return &gatedFeedForward{
		gateProj: NewLinear(dim, 2*dim, rng),
		upProj:   NewLinear(dim, 2*dim, rng),
		downProj: NewLinear(2*dim, dim, rng),
		drop:     newDropout(dropRate, rng, training),
	}
}

func (ff *gatedFeedForward) forward(x *Tensor) *Tensor {
	gate := Sigmoid(ff.gateProj.Forward(x))
	up := GELU(ff.upProj.Forward(x))
	return ff.downProj.Forward(ff.drop.Forward(Mul(gate, up)))
}

func (ff *gatedFeedForward) parameters() []*Tensor {
	params := append(ff.gateProj.parameters(), ff.upProj.parameters()...)
	return append(params, ff.downProj.parameters()...)
}

// planningNetwork turns the accumulated hidden state into a planning delta:
// pre-norm, then dim -> 2*dim -> dim -> dim with GELU between layers.
type planningNetwork struct {
	norm *LayerNorm
	fc1  *Linear
	fc2  *Linear
	fc3  *Linear
	drop *dropout
}

func newPlanningNetwork(dim int, dropRate float64, rng *rand.Rand, training *bool) *planningNetwork {
	return &planningNetwork{
		norm: NewLayerNorm(dim),
		fc1:  NewLinear(dim, 2*dim, rng),
		fc2:  NewLinear(2*dim, dim, rng),
		fc3:  NewLinear(dim, dim, rng),
		drop: newDropout(dropRate, rng, training),
	}
}

func (p *planningNetwork) forward(x *Tensor) *Tensor {
	h := p.norm.Forward(x)
	h = p.drop.Forward(GELU(p.fc1.Forward(h)))
	h = p.drop.Forward(GELU(p.fc2.Forward(h)))
	return p.fc3.Forward(h)
}

func (p *planningNetwork) parameters() []*Tensor {
	params := append(p.norm.parameters(), p.fc1.parameters()...)
	params = append(params, p.fc2.parameters()...)
	return append(params, p.fc3.parameters()...)
}

// goalEncoder derives the goal vector for a cycle from the hidden state:
// dim -> dim -> dim with a GELU in the middle.
type goalEncoder struct {
	fc1 *Linear
	fc2 *Linear
}

func newGoalEncoder(dim int, rng *rand.Rand) *goalEncoder {
	return &goalEncoder{
		fc1: NewLinear(dim, dim, rng),
		fc2: NewLinear(dim, dim, rng),
	}
}

func (g *goalEncoder) forward(hidden *Tensor) *Tensor {
	return g.fc2.Forward(GELU(g.fc1.Forward(hidden)))
}

func (g *goalEncoder) parameters() []*Tensor {
	return append(g.fc1.parameters(), g.fc2.parameters()...)
}

// ===========================================================================
// HELPERS
// ===========================================================================

// addBroadcast adds a (batch, dim) vector to every sequence position of a
// (batch, seq, dim) tensor.
func addBroadcast(x, v *Tensor) *Tensor {
	if len(x.shape) != 3 || len(v.shape) != 2 || x.shape[0] != v.shape[0] || x.shape[2] != v.shape[1] {
		panic(fmt.Sprintf("addBroadcast: incompatible shapes %v and %v", x.shape, v.shape))
	}

	batch, seq, dim := x.shape[0], x.shape[1], x.shape[2]
	out := NewTensor(batch, seq, dim)
	for b := 0; b < batch; b++ {
		vRow := v.data[b*dim : (b+1)*dim]
		for s := 0; s < seq; s++ {
			base := (b*seq + s) * dim
			for d := 0; d < dim; d++ {
				out.data[base+d] = x.data[base+d] + vRow[d]
			}
		}
	}
	return out
}

// meanPool averages a (batch, seq, dim) tensor over sequence positions,
// producing (batch, dim).
func meanPool(x *Tensor) *Tensor {
	if len(x.shape) != 3 {
		panic("meanPool: expected 3D input")
	}

	batch, seq, dim := x.shape[0], x.shape[1], x.shape[2]
	out := NewTensor(batch, dim)
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			base := (b*seq + s) * dim
			for d := 0; d < dim; d++ {
				out.data[b*dim+d] += x.data[base+d]
			}
		}
		for d := 0; d < dim; d++ {
			out.data[b*dim+d] /= float64(seq)
		}
	}
	return out
}
