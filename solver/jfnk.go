package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/DGSolver/krylov"
	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// sqrtEps is the base relative perturbation of the directional derivative
var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)

// stepGMRES solves J·step = rhs matrix free, J·w approximated by forward
// differences of the residual around lin.X
func (s *Solver) stepGMRES(lin *Linearization, rhs, step []float64) ([]float64, error) {
	jv := func(dst, w []float64) error { return s.dirder(lin, w, dst) }
	res, err := krylov.GMRES(jv, rhs, step, krylov.Settings{
		Tol:          s.cfg.GMRES.ConvCrit,
		MaxKrylovDim: s.cfg.GMRES.MaxKrylovDim,
		RestartLimit: s.cfg.GMRES.RestartLimit,
		Precond:      lin.Precond,
		Comm:         s.comm,
	})
	s.linIter += res.Iterations
	s.metrics.krylov(res.Iterations)
	if err != nil {
		var ae *ArithmeticError
		if errors.As(err, &ae) {
			return nil, err
		}
		if errors.Is(err, utils.ErrNotFinite) {
			return nil, arithmetic("gmres", lin.Iteration, err)
		}
		return nil, fmt.Errorf("newton: gmres: %w", err)
	}
	if !res.Converged {
		s.log.Debug("gmres stopped before tolerance", "iteration", lin.Iteration,
			"residual", res.Residual, "initial", res.Initial, "restarts", res.Restarts)
	}
	return step, nil
}

// dirder approximates z = J(x)·w by a forward difference. The step is
// sqrt(eps) scaled by max(|xs|,1)·sign(xs)/‖w‖ with xs = xᵀw/‖w‖, so the
// perturbation is relative to the size of x along w.
func (s *Solver) dirder(lin *Linearization, w, z []float64) error {
	nw := linalg.Norm(s.comm, w)
	if nw == 0 {
		for i := range z {
			z[i] = 0
		}
		return nil
	}
	h := sqrtEps
	xs := linalg.Dot(s.comm, lin.X, w) / nw
	if xs != 0 {
		h *= math.Max(math.Abs(xs), 1) * math.Copysign(1, xs)
	}
	h /= nw

	del := linalg.Copy(lin.X)
	linalg.Axpy(h, w, del)
	if _, err := s.residual(del, z, "directional derivative", lin.Iteration); err != nil {
		return err
	}
	for i := range z {
		z[i] = (z[i] - lin.F[i]) / h
	}
	if !s.allFinite(z) {
		return arithmetic("directional derivative", lin.Iteration, nil)
	}
	return nil
}
