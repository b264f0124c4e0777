package solver

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/krylov"
	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// LinearSolver solves jac·x = rhs to the absolute residual tol. precond may
// be nil. It returns the number of inner iterations.
type LinearSolver interface {
	Solve(jac *linalg.Matrix, precond krylov.Operator, rhs, x []float64, tol float64) (int, error)
}

// DirectSolver factors the local Jacobian densely with LU. Only suitable
// for small single rank problems.
type DirectSolver struct{}

func (DirectSolver) Solve(jac *linalg.Matrix, _ krylov.Operator, rhs, x []float64, _ float64) (int, error) {
	n, c := jac.Dims()
	if n != c || len(rhs) != n || len(x) != n {
		return 0, fmt.Errorf("direct solver: jacobian %dx%d, rhs %d, x %d: %w",
			n, c, len(rhs), len(x), utils.ErrDimensionMismatch)
	}
	var lu mat.LU
	lu.Factorize(jac.Dense())
	dst := mat.NewVecDense(n, x)
	if err := lu.SolveVecTo(dst, false, mat.NewVecDense(n, linalg.Copy(rhs))); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return 0, fmt.Errorf("direct solver: %w", err)
		}
	}
	if !utils.AllFinite(x) {
		return 0, fmt.Errorf("direct solver: singular jacobian: %w", utils.ErrNotFinite)
	}
	return 1, nil
}

// KrylovSolver runs restarted GMRES on the assembled Jacobian, right
// preconditioned by the supplied preconditioner. Single rank only, like
// every solver working on the assembled matrix.
type KrylovSolver struct {
	MaxKrylovDim int
	RestartLimit int
}

func (k KrylovSolver) Solve(jac *linalg.Matrix, precond krylov.Operator, rhs, x []float64, tol float64) (int, error) {
	comm := utils.Serial{}
	// x starts from zero so the initial residual is rhs
	for i := range x {
		x[i] = 0
	}
	nb := linalg.Norm(comm, rhs)
	if nb == 0 {
		return 0, nil
	}
	res, err := krylov.GMRES(krylov.MatrixOperator(jac), rhs, x, krylov.Settings{
		Tol:          tol / nb,
		MaxKrylovDim: k.MaxKrylovDim,
		RestartLimit: k.RestartLimit,
		Precond:      precond,
		Comm:         comm,
	})
	return res.Iterations, err
}
