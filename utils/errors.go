package utils

import (
	"errors"
	"math"
)

// Error classes shared by the solver packages. Callers wrap them with
// fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// ErrPrecondition marks caller errors: partition mismatch, finest-level-only
	// operations invoked on a coarse level, missing collaborators.
	ErrPrecondition = errors.New("precondition violated")

	// ErrDimensionMismatch marks vectors or matrices of the wrong length.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNotFinite marks NaN or Inf values produced by a numerical kernel.
	ErrNotFinite = errors.New("non-finite value (NaN or Inf)")
)

// AllFinite reports whether every entry of x is a finite number
func AllFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// IsFinite reports whether v is neither NaN nor Inf
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
