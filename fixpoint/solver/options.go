// Package solver orchestrates the engine: it analyzes a Datalog input,
// drives the compilation phases, runs the interpreter and marshals the
// solved relations back into a model.
//
// File organization:
//   - options.go: configuration
//   - datalog.go: the Datalog input algebra (programs, models, joins)
//   - model.go: the solved-model representation
//   - solver.go: the Solve pipeline
//   - facts.go: injection and extraction helpers
//   - debug.go: phase logging and RAM dumps
package solver

import (
	"runtime"
)

// Options carries every tunable of a solve.
type Options struct {
	// EnableDebugging raises the log level to Debug and reports phase
	// timings.
	EnableDebugging bool
	// EnableDebugPrintFacts prints the solved model as tables.
	EnableDebugPrintFacts bool
	// DebugFileName receives a textual RAM dump after each phase when set.
	DebugFileName string
	// DisableJoinOptimizer skips the profile-and-reorder step.
	DisableJoinOptimizer bool
	// UseProvenance augments every tuple with proof depth and rule number.
	UseProvenance bool
	// IndexArity is the B-tree fan-out of the tuple indexes.
	IndexArity int
	// ParLevel caps nested parallel searches.
	ParLevel int
	// MaxWorkers bounds every worker pool; zero means NumCPU.
	MaxWorkers int
	// ProfilerFactLowerBound is the minimum sample kept per relation.
	ProfilerFactLowerBound int
	// ProfilerSeed seeds the Bernoulli sampling.
	ProfilerSeed int64
	// ProfilerMinimumFacts gates the join optimizer: below this many input
	// facts a profile run costs more than it saves.
	ProfilerMinimumFacts int
	// ProfilerDiscrimination is the Bernoulli keep probability.
	ProfilerDiscrimination float64
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		IndexArity:             64,
		ParLevel:               2,
		MaxWorkers:             runtime.NumCPU(),
		ProfilerFactLowerBound: 10,
		ProfilerSeed:           0,
		ProfilerMinimumFacts:   100,
		ProfilerDiscrimination: 0.20,
	}
}
