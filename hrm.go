package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ===========================================================================
// WHAT'S GOING ON HERE: Hierarchical Reasoning Model
// ===========================================================================
//
// A recurrent, dual-timescale reasoning architecture built from two
// heterogeneous modules that think at different speeds:
//
//   Controller - slow, abstract, re-reads the whole input sequence through
//                a transformer stack each cycle (controller.go)
//   Worker     - fast, detailed, refines a single state vector through
//                gated linear/conv/recurrent branches (worker.go)
//
// The modules are mutually recurrent: each cycle the controller's
// conclusions are projected down to the worker, the worker's results are
// fed back up, and an attention bridge (hierarchy.go) lets the two states
// attend to each other directly. That mutual recurrence is a cyclic
// dependency graph, and the way out is that neither module holds a
// reference to the other: the orchestrator owns both states as locals and
// mediates every exchange.
//
// One forward pass is a fixed-length state machine:
//
//   Uninitialized: project input to controller space, add positional
//                  encoding, zero both states
//   Cycling(k):    Controller.Step -> project to worker space ->
//                  Worker.Step -> bridge fusion -> worker-to-controller
//                  feedback -> layer-normalize the controller state
//   Finalized:     project the final controller state back to input space
//
// The loop is unconditional - no early exit, no convergence check - so the
// compute cost is the same for every input and the per-cycle history always
// has exactly NumCycles entries. The per-cycle layer normalization of the
// controller state is the only counterweight to the additive accumulation
// happening inside both modules; there is deliberately no clipping beyond
// that.
//
// ===========================================================================

// HRMConfig holds construction-time hyperparameters for the model. All
// fields are immutable for the model's lifetime.
type HRMConfig struct {
	InputDim      int // Input feature dimension
	ControllerDim int // Controller hidden dimension
	WorkerDim     int // Worker hidden dimension
	NumLayers     int // Layer depth of both modules
	NumCycles     int // Reasoning cycles per forward pass
	NumHeads      int // Controller self-attention heads
	BridgeHeads   int // Attention-bridge heads
	MaxSeqLen     int // Positional-encoding table length

	Dropout float64 // Dropout rate everywhere dropout applies

	UseAttentionBridge    bool // Run the controller/worker fusion each cycle
	UsePositionalEncoding bool // Add sinusoidal positions to the input
	UseGatedAttention     bool // Gate controller self-attention output
	UseConvBranch         bool // Worker convolutional mixing branch
	UseRecurrentBranch    bool // Worker GRU branch
	UseCrossAttention     bool // Additive cross term in the bridge

	// Seed for weight initialization and dropout. 0 picks a time-derived
	// seed, so fix it for reproducible models.
	Seed int64
}

// DefaultHRMConfig returns the reference configuration.
func DefaultHRMConfig() HRMConfig {
	return HRMConfig{
		InputDim:              128,
		ControllerDim:         512,
		WorkerDim:             256,
		NumLayers:             4,
		NumCycles:             6,
		NumHeads:              8,
		BridgeHeads:           8,
		MaxSeqLen:             1000,
		Dropout:               0.1,
		UseAttentionBridge:    true,
		UsePositionalEncoding: true,
		UseGatedAttention:     true,
		UseConvBranch:         true,
		UseRecurrentBranch:    true,
		UseCrossAttention:     true,
	}
}

// HRMResult is the output of one forward pass.
type HRMResult struct {
	// Output is the final projection back to input space (batch, inputDim).
	Output *Tensor

	// ControllerStates and WorkerStates are the per-cycle state histories,
	// (batch, numCycles, controllerDim) and (batch, numCycles, workerDim).
	// They capture each module's state right after its step, before the
	// bridge touches it.
	ControllerStates *Tensor
	WorkerStates     *Tensor

	// FinalControllerState and FinalWorkerState are the states after the
	// last cycle completed (batch, dim).
	FinalControllerState *Tensor
	FinalWorkerState     *Tensor

	// AttentionWeights holds the bridge attention maps for each cycle.
	// Only populated when requested and the bridge is enabled.
	AttentionWeights []FusionWeights
}

// HRM is the orchestrator owning both modules and the cycle loop.
type HRM struct {
	cfg      HRMConfig
	rng      *rand.Rand
	training bool

	inputProjection *Linear
	posEncoding     *Tensor // (maxSeqLen, controllerDim), nil when disabled

	controller *Controller
	worker     *Worker
	bridge     *HierarchicalAttention // nil when disabled

	controllerToWorker *Linear
	workerToController *Linear
	outputProjection   *Linear
	stateNorm          *LayerNorm
}

// NewHRM constructs the model. All configuration errors (non-dividing head
// counts, non-positive dimensions) panic here, before any forward
// computation. Weights are initialized by each layer's named scheme during
// construction; see layers.go.
func NewHRM(cfg HRMConfig) *HRM {
	if cfg.InputDim <= 0 || cfg.ControllerDim <= 0 || cfg.WorkerDim <= 0 {
		panic(fmt.Sprintf("hrm: invalid dimensions: input %d, controller %d, worker %d",
			cfg.InputDim, cfg.ControllerDim, cfg.WorkerDim))
	}
	if cfg.NumCycles <= 0 {
		panic(fmt.Sprintf("hrm: NumCycles must be positive, got %d", cfg.NumCycles))
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = 1000
	}
	if cfg.BridgeHeads <= 0 {
		cfg.BridgeHeads = cfg.NumHeads
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	m := &HRM{
		cfg: cfg,
		rng: rng,
	}

	m.inputProjection = NewLinear(cfg.InputDim, cfg.ControllerDim, rng)

	m.controller = NewController(ControllerConfig{
		Dim:            cfg.ControllerDim,
		NumLayers:      cfg.NumLayers,
		NumHeads:       cfg.NumHeads,
		Dropout:        cfg.Dropout,
		GatedAttention: cfg.UseGatedAttention,
	}, rng, &m.training)

	m.worker = NewWorker(WorkerConfig{
		Dim:       cfg.WorkerDim,
		NumLayers: cfg.NumLayers,
		Dropout:   cfg.Dropout,
		UseConv:   cfg.UseConvBranch,
		UseGRU:    cfg.UseRecurrentBranch,
	}, rng, &m.training)

	if cfg.UseAttentionBridge {
		m.bridge = NewHierarchicalAttention(BridgeConfig{
			ControllerDim:     cfg.ControllerDim,
			WorkerDim:         cfg.WorkerDim,
			NumHeads:          cfg.BridgeHeads,
			Dropout:           cfg.Dropout,
			UseCrossAttention: cfg.UseCrossAttention,
		}, rng, &m.training)
	}

	m.controllerToWorker = NewLinear(cfg.ControllerDim, cfg.WorkerDim, rng)
	m.workerToController = NewLinear(cfg.WorkerDim, cfg.ControllerDim, rng)
	m.outputProjection = NewLinear(cfg.ControllerDim, cfg.InputDim, rng)
	m.stateNorm = NewLayerNorm(cfg.ControllerDim)

	if cfg.UsePositionalEncoding {
		m.posEncoding = buildPositionalEncoding(cfg.MaxSeqLen, cfg.ControllerDim)
	}

	return m
}

// Config returns the model's configuration.
func (m *HRM) Config() HRMConfig {
	return m.cfg
}

// SetTraining toggles training mode. Training mode enables dropout; it is
// the caller's job not to overlap a forward pass with a parameter update.
func (m *HRM) SetTraining(training bool) {
	m.training = training
}

// Forward runs the full reasoning loop.
//
// x: (batch, seqLen, inputDim). mask, if non-nil: (batch, seqLen) with
// 1=attend, 0=ignore. returnAttention retains the per-cycle bridge
// attention maps for diagnostics.
func (m *HRM) Forward(x, mask *Tensor, returnAttention bool) *HRMResult {
	if len(x.shape) != 3 {
		panic(fmt.Sprintf("hrm: input must be 3D (batch, seq, inputDim), got %dD", len(x.shape)))
	}
	if x.shape[2] != m.cfg.InputDim {
		panic(fmt.Sprintf("hrm: expected input dim %d, got %d", m.cfg.InputDim, x.shape[2]))
	}

	batch := x.shape[0]

	// Project into controller space and stamp positions.
	x = m.inputProjection.Forward(x)
	if m.posEncoding != nil {
		x = m.addPositionalEncoding(x)
	}

	controllerState := NewTensor(batch, m.cfg.ControllerDim)
	workerState := NewTensor(batch, m.cfg.WorkerDim)

	controllerHistory := make([]*Tensor, 0, m.cfg.NumCycles)
	workerHistory := make([]*Tensor, 0, m.cfg.NumCycles)
	var attentionHistory []FusionWeights

	for cycle := 0; cycle < m.cfg.NumCycles; cycle++ {
		// Slow planning over the full sequence.
		ctrl := m.controller.Step(x, controllerState, mask)
		controllerState = ctrl.Hidden
		controllerHistory = append(controllerHistory, controllerState)

		// Fast detailed computation on the projected plan.
		workerInput := m.controllerToWorker.Forward(controllerState)
		work := m.worker.Step(workerInput, workerState)
		workerState = work.Hidden
		workerHistory = append(workerHistory, workerState)

		// Reconcile the two states.
		if m.bridge != nil {
			fused := m.bridge.Fuse(controllerState, workerState, nil)
			controllerState = fused.Controller
			workerState = fused.Worker
			if returnAttention {
				attentionHistory = append(attentionHistory, fused.Weights)
			}
		}

		// Feedback from worker to controller, then keep the controller
		// state on a stable scale for the next cycle.
		feedback := m.workerToController.Forward(workerState)
		controllerState = m.stateNorm.Forward(Add(controllerState, feedback))
	}

	return &HRMResult{
		Output:               m.outputProjection.Forward(controllerState),
		ControllerStates:     stackCycles(controllerHistory),
		WorkerStates:         stackCycles(workerHistory),
		FinalControllerState: controllerState,
		FinalWorkerState:     workerState,
		AttentionWeights:     attentionHistory,
	}
}

// NumParameters returns the total number of parameters in the model.
func (m *HRM) NumParameters() int {
	return countParams(m.parameters())
}

// NumTrainableParameters returns the number of parameters the external
// optimizer may update. Every parameter in this model is trainable; the
// distinction exists for collaborators that freeze sub-modules.
func (m *HRM) NumTrainableParameters() int {
	return m.NumParameters()
}

// parameters returns every learnable tensor in the model.
func (m *HRM) parameters() []*Tensor {
	params := m.inputProjection.parameters()
	params = append(params, m.controller.parameters()...)
	params = append(params, m.worker.parameters()...)
	if m.bridge != nil {
		params = append(params, m.bridge.parameters()...)
	}
	params = append(params, m.controllerToWorker.parameters()...)
	params = append(params, m.workerToController.parameters()...)
	params = append(params, m.outputProjection.parameters()...)
	return append(params, m.stateNorm.parameters()...)
}

// addPositionalEncoding adds the precomputed sinusoidal table to every
// batch row. Panics if the sequence is longer than the table.
func (m *HRM) addPositionalEncoding(x *Tensor) *Tensor {
	batch, seq, dim := x.shape[0], x.shape[1], x.shape[2]
	if seq > m.cfg.MaxSeqLen {
		panic(fmt.Sprintf("hrm: sequence length %d exceeds positional-encoding table %d", seq, m.cfg.MaxSeqLen))
	}

	out := NewTensor(batch, seq, dim)
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			base := (b*seq + s) * dim
			peBase := s * dim
			for d := 0; d < dim; d++ {
				out.data[base+d] = x.data[base+d] + m.posEncoding.data[peBase+d]
			}
		}
	}
	return out
}

// buildPositionalEncoding precomputes the standard sinusoidal table:
// even feature indices carry sin(pos/10000^(2i/d)), odd indices the
// matching cosine.
func buildPositionalEncoding(maxLen, dim int) *Tensor {
	pe := NewTensor(maxLen, dim)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dim; i += 2 {
			freq := math.Exp(-float64(i) * math.Log(10000.0) / float64(dim))
			angle := float64(pos) * freq
			pe.data[pos*dim+i] = math.Sin(angle)
			if i+1 < dim {
				pe.data[pos*dim+i+1] = math.Cos(angle)
			}
		}
	}
	return pe
}

// stackCycles stacks per-cycle (batch, dim) states into a
// (batch, numCycles, dim) history tensor.
func stackCycles(states []*Tensor) *Tensor {
	if len(states) == 0 {
		panic("hrm: cannot stack empty state history")
	}

	batch, dim := states[0].shape[0], states[0].shape[1]
	out := NewTensor(batch, len(states), dim)
	for c, s := range states {
		for b := 0; b < batch; b++ {
			copy(out.data[(b*len(states)+c)*dim:(b*len(states)+c+1)*dim], s.data[b*dim:(b+1)*dim])
		}
	}
	return out
}
