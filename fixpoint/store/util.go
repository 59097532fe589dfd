package store

import (
	"fmt"
	"math"
)

// Reversible float encodings: the Int64 code is the raw IEEE754 bit pattern.

func floatBits32(f float32) uint32 { return math.Float32bits(f) }
func floatFrom32(u uint32) float32 { return math.Float32frombits(u) }
func floatBits64(f float64) uint64 { return math.Float64bits(f) }
func floatFrom64(u uint64) float64 { return math.Float64frombits(u) }

// recoveredError converts a recovered panic value into an error so worker
// panics surface at the errgroup join barrier instead of killing the process.
func recoveredError(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("worker panic: %w", err)
	}
	return fmt.Errorf("worker panic: %v", r)
}
