package solver

import (
	"github.com/notargets/DGSolver/krylov"
	"github.com/notargets/DGSolver/linalg"
)

// Operator is the nonlinear residual provider. Evaluate writes
// scale·Op(x) into out. Vectors are process-local shards.
type Operator interface {
	Evaluate(scale float64, x, out []float64) error
}

// OperatorFunc adapts a function to Operator
type OperatorFunc func(scale float64, x, out []float64) error

func (f OperatorFunc) Evaluate(scale float64, x, out []float64) error { return f(scale, x, out) }

// Linearizer assembles the Jacobian of the operator at x. The matrix is the
// rank-local diagonal block: coupling to cells on other ranks is not
// stored, so on several ranks it only serves as a preconditioner source.
type Linearizer interface {
	Linearize(x []float64) (*linalg.Matrix, error)
}

// LinearizerFunc adapts a function to Linearizer
type LinearizerFunc func(x []float64) (*linalg.Matrix, error)

func (f LinearizerFunc) Linearize(x []float64) (*linalg.Matrix, error) { return f(x) }

// PreconditionerFactory builds a preconditioner for a Jacobian, for
// instance multigrid.Factory.Build
type PreconditionerFactory func(jac *linalg.Matrix) (krylov.Operator, error)

// Normalizer fixes a gauge freedom of the iterate in place
type Normalizer interface {
	Normalize(x []float64) float64
}

// Linearization is the state every sub-algorithm of one Newton iteration
// works from. It is never mutated; a new snapshot replaces it after each
// accepted step, and Jacobian and Precond are carried over between
// re-linearisations.
type Linearization struct {
	Iteration int
	X         []float64
	F         []float64 // Residual Op(X) - rhs
	Norm      float64   // ‖F‖ over all ranks
	Jacobian  *linalg.Matrix
	Precond   krylov.Operator
	// Age is the number of iterations since Jacobian was assembled
	Age int
}

// withIterate returns a snapshot sharing the Jacobian of l at a new point
func (l *Linearization) withIterate(iter int, x, f []float64, norm float64) *Linearization {
	return &Linearization{
		Iteration: iter,
		X:         x,
		F:         f,
		Norm:      norm,
		Jacobian:  l.Jacobian,
		Precond:   l.Precond,
		Age:       l.Age + 1,
	}
}
