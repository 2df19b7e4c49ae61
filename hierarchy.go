package main

import (
	"fmt"
	"math/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The bridge between the two halves of the model. Once per cycle the
// controller and worker states - each treated as a length-1 sequence - look
// at each other through cross-module attention:
//
//   controller -> worker   (query = worker state)   guidance downward
//   worker -> controller   (query = controller state) feedback upward
//   cross term (optional)  a second controller-side read of the worker,
//                          added directly into the controller path
//
// Neither state is overwritten by what it attends to. Each direction blends
// attended and original through a learned sigmoid gate computed from their
// concatenation, so a freshly initialized bridge can behave close to the
// identity and training decides how much cross-talk to admit. The blended
// states are layer-normalized and dropout-regularized before they return to
// the cycle loop.
//
// Output dimensions always equal input dimensions: the bridge reconciles
// the two states, it never resizes them.
//
// ===========================================================================

// BridgeConfig configures a HierarchicalAttention bridge.
type BridgeConfig struct {
	ControllerDim     int     // Controller state dimension
	WorkerDim         int     // Worker state dimension
	NumHeads          int     // Heads for all bridge attention
	Dropout           float64 // Dropout rate
	UseCrossAttention bool    // Enable the additive controller-side cross term
}

// FusionWeights carries the attention maps produced by one fusion, each
// shaped (batch, heads, 1, 1). Cross is nil when the cross term is
// disabled.
type FusionWeights struct {
	ControllerToWorker *Tensor
	WorkerToController *Tensor
	Cross              *Tensor
}

// FusionResult is the output of one bridge fusion.
type FusionResult struct {
	Controller *Tensor // Updated controller state (batch, controllerDim)
	Worker     *Tensor // Updated worker state (batch, workerDim)
	Weights    FusionWeights
}

// HierarchicalAttention reconciles controller and worker states each cycle
// via bidirectional cross-module attention and gated fusion.
type HierarchicalAttention struct {
	cfg BridgeConfig

	controllerToWorker *CrossModuleAttention
	workerToController *CrossModuleAttention
	cross              *CrossModuleAttention // nil when disabled

	controllerGate *Linear // (2*controllerDim -> controllerDim)
	workerGate     *Linear // (2*workerDim -> workerDim)

	controllerNorm *LayerNorm
	workerNorm     *LayerNorm
	drop           *dropout
}

// NewHierarchicalAttention creates the attention bridge. Panics if the head
// count does not yield a positive head dimension for the smaller of the two
// state spaces.
func NewHierarchicalAttention(cfg BridgeConfig, rng *rand.Rand, training *bool) *HierarchicalAttention {
	h := &HierarchicalAttention{
		cfg: cfg,
		controllerToWorker: NewCrossModuleAttention(
			cfg.WorkerDim, cfg.ControllerDim, cfg.ControllerDim, cfg.WorkerDim,
			cfg.NumHeads, cfg.Dropout, rng, training),
		workerToController: NewCrossModuleAttention(
			cfg.ControllerDim, cfg.WorkerDim, cfg.WorkerDim, cfg.ControllerDim,
			cfg.NumHeads, cfg.Dropout, rng, training),
		controllerGate: NewLinear(2*cfg.ControllerDim, cfg.ControllerDim, rng),
		workerGate:     NewLinear(2*cfg.WorkerDim, cfg.WorkerDim, rng),
		controllerNorm: NewLayerNorm(cfg.ControllerDim),
		workerNorm:     NewLayerNorm(cfg.WorkerDim),
		drop:           newDropout(cfg.Dropout, rng, training),
	}
	if cfg.UseCrossAttention {
		h.cross = NewCrossModuleAttention(
			cfg.ControllerDim, cfg.WorkerDim, cfg.WorkerDim, cfg.ControllerDim,
			cfg.NumHeads, cfg.Dropout, rng, training)
	}
	return h
}

// Fuse reconciles the two states. controllerState: (batch, controllerDim),
// workerState: (batch, workerDim). mask, if non-nil, applies over the
// bridge's own key axis (length 1) and is rarely useful; the orchestrator
// passes nil.
func (h *HierarchicalAttention) Fuse(controllerState, workerState, mask *Tensor) FusionResult {
	checkState("bridge controller state", controllerState, h.cfg.ControllerDim)
	checkState("bridge worker state", workerState, h.cfg.WorkerDim)

	batch := controllerState.shape[0]
	if workerState.shape[0] != batch {
		panic(fmt.Sprintf("bridge: batch mismatch %d vs %d", batch, workerState.shape[0]))
	}

	// Each state becomes a length-1 sequence for attention purposes.
	controllerSeq := controllerState.Reshape(batch, 1, h.cfg.ControllerDim)
	workerSeq := workerState.Reshape(batch, 1, h.cfg.WorkerDim)

	c2wOut, c2wWeights := h.controllerToWorker.Forward(workerSeq, controllerSeq, controllerSeq, mask)
	w2cOut, w2cWeights := h.workerToController.Forward(controllerSeq, workerSeq, workerSeq, mask)

	var crossOut, crossWeights *Tensor
	if h.cross != nil {
		crossOut, crossWeights = h.cross.Forward(controllerSeq, workerSeq, workerSeq, mask)
	}

	// Controller path: gate over [original, attended], then the optional
	// additive cross term.
	controllerAttended := w2cOut.Reshape(batch, h.cfg.ControllerDim)
	controllerGate := Sigmoid(h.controllerGate.Forward(ConcatCols(controllerState, controllerAttended)))
	newController := GateBlend(controllerGate, controllerAttended, controllerState)
	if crossOut != nil {
		newController = Add(newController, crossOut.Reshape(batch, h.cfg.ControllerDim))
	}

	// Worker path.
	workerAttended := c2wOut.Reshape(batch, h.cfg.WorkerDim)
	workerGate := Sigmoid(h.workerGate.Forward(ConcatCols(workerState, workerAttended)))
	newWorker := GateBlend(workerGate, workerAttended, workerState)

	newController = h.drop.Forward(h.controllerNorm.Forward(newController))
	newWorker = h.drop.Forward(h.workerNorm.Forward(newWorker))

	return FusionResult{
		Controller: newController,
		Worker:     newWorker,
		Weights: FusionWeights{
			ControllerToWorker: c2wWeights,
			WorkerToController: w2cWeights,
			Cross:              crossWeights,
		},
	}
}

// parameters returns all learnable tensors of the bridge.
func (h *HierarchicalAttention) parameters() []*Tensor {
	params := append(h.controllerToWorker.parameters(), h.workerToController.parameters()...)
	if h.cross != nil {
		params = append(params, h.cross.parameters()...)
	}
	params = append(params, h.controllerGate.parameters()...)
	params = append(params, h.workerGate.parameters()...)
	params = append(params, h.controllerNorm.parameters()...)
	return append(params, h.workerNorm.parameters()...)
}
