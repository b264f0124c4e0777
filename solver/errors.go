package solver

import (
	"fmt"

	"github.com/notargets/DGSolver/utils"
)

// ArithmeticError reports a NaN or Inf produced during the solve. It is
// fatal: the iterate is no longer trustworthy.
type ArithmeticError struct {
	Stage     string // e.g. "residual", "directional derivative"
	Iteration int
	Err       error
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("newton iteration %d: non-finite value in %s: %v", e.Iteration, e.Stage, e.Err)
}

func (e *ArithmeticError) Unwrap() error { return e.Err }

func arithmetic(stage string, iter int, err error) *ArithmeticError {
	if err == nil {
		err = utils.ErrNotFinite
	}
	return &ArithmeticError{Stage: stage, Iteration: iter, Err: err}
}
