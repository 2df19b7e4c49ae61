package main

import (
	"flag"
	"fmt"
	"math"
	"os"
)

func main() {
	if len(os.Args) > 1 {
		cmd := os.Args[1]
		switch cmd {
		case "demo":
			if err := RunDemoCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run . [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  demo    Build a model and run a forward pass on synthetic input")
	fmt.Println("  help    Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  go run . demo")
	fmt.Println("  go run . demo -batch=4 -seqlen=16 -cycles=8 -seed=42")
	fmt.Println()
}

// RunDemoCommand constructs a model from flags, runs one forward pass on
// random input, and reports shapes, parameter counts, and per-cycle state
// magnitudes.
func RunDemoCommand(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	batch := fs.Int("batch", 2, "batch size")
	seqLen := fs.Int("seqlen", 10, "sequence length")
	inputDim := fs.Int("input-dim", 64, "input feature dimension")
	controllerDim := fs.Int("controller-dim", 128, "controller hidden dimension")
	workerDim := fs.Int("worker-dim", 64, "worker hidden dimension")
	layers := fs.Int("layers", 2, "layer depth of both modules")
	cycles := fs.Int("cycles", 4, "reasoning cycles per forward pass")
	heads := fs.Int("heads", 4, "attention heads")
	seed := fs.Int64("seed", 0, "rng seed (0 = time-derived)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := DefaultHRMConfig()
	cfg.InputDim = *inputDim
	cfg.ControllerDim = *controllerDim
	cfg.WorkerDim = *workerDim
	cfg.NumLayers = *layers
	cfg.NumCycles = *cycles
	cfg.NumHeads = *heads
	cfg.BridgeHeads = *heads
	cfg.Dropout = 0.0
	cfg.Seed = *seed

	model := NewHRM(cfg)

	fmt.Printf("Hierarchical Reasoning Model\n")
	fmt.Printf("  parameters: %d (%d trainable)\n", model.NumParameters(), model.NumTrainableParameters())
	fmt.Printf("  controller: dim=%d layers=%d heads=%d\n", cfg.ControllerDim, cfg.NumLayers, cfg.NumHeads)
	fmt.Printf("  worker:     dim=%d layers=%d\n", cfg.WorkerDim, cfg.NumLayers)
	fmt.Printf("  cycles:     %d\n", cfg.NumCycles)
	fmt.Println()

	x := NewTensorRandn(model.rng, 1.0, *batch, *seqLen, cfg.InputDim)
	result := model.Forward(x, nil, true)

	if err := CheckFinite("output", result.Output); err != nil {
		return err
	}

	fmt.Printf("forward pass: input %v -> output %v\n", x.Shape(), result.Output.Shape())
	fmt.Printf("state histories: controller %v, worker %v\n",
		result.ControllerStates.Shape(), result.WorkerStates.Shape())

	fmt.Println()
	fmt.Println("per-cycle controller state L2 norm:")
	for c := 0; c < cfg.NumCycles; c++ {
		norm := 0.0
		for b := 0; b < *batch; b++ {
			for d := 0; d < cfg.ControllerDim; d++ {
				v := result.ControllerStates.At(b, c, d)
				norm += v * v
			}
		}
		fmt.Printf("  cycle %d: %.4f\n", c, math.Sqrt(norm/float64(*batch)))
	}

	return nil
}
