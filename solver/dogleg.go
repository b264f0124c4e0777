package solver

import (
	"fmt"
	"math"

	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// acceptRatio is the minimum ratio of actual to predicted reduction of
// ‖F‖² for a trust region step to be accepted
const acceptRatio = 1e-4

// dogleg picks a step inside the trust radius from the Newton step sN and
// the Cauchy point of the linear model, shrinking the radius until the
// step is accepted. delta carries the radius across iterations.
func (s *Solver) dogleg(lin *Linearization, sN []float64, delta *float64) (*Linearization, bool, error) {
	jac := lin.Jacobian
	if jac == nil {
		return nil, false, fmt.Errorf("newton: dogleg without jacobian: %w", utils.ErrPrecondition)
	}
	cfg := s.cfg.Dogleg
	n := len(lin.X)

	// Steepest descent of ½‖F‖² is -g with g = JᵀF
	g := make([]float64, n)
	if err := jac.MulVecTrans(g, lin.F); err != nil {
		return nil, false, err
	}
	jg := make([]float64, n)
	if err := jac.MulVec(jg, g); err != nil {
		return nil, false, err
	}
	gg := linalg.Dot(s.comm, g, g)
	jgjg := linalg.Dot(s.comm, jg, jg)
	sC := make([]float64, n)
	if jgjg > 0 {
		linalg.Axpy(-gg/jgjg, g, sC)
	}
	nN := linalg.Norm(s.comm, sN)
	nC := linalg.Norm(s.comm, sC)

	st := make([]float64, n)
	js := make([]float64, n)
	xt := make([]float64, n)
	ft := make([]float64, n)
	ff0 := lin.Norm * lin.Norm
	for trial := 0; trial < cfg.MaxStep; trial++ {
		d := *delta
		kind := doglegPoint(s.comm, sN, sC, nN, nC, d, st)
		if err := jac.MulVec(js, st); err != nil {
			return nil, false, err
		}
		linalg.Axpy(1, lin.F, js)
		pred := ff0 - linalg.Dot(s.comm, js, js)

		copy(xt, lin.X)
		linalg.Axpy(1, st, xt)
		nft, err := s.residual(xt, ft, "trust region residual", lin.Iteration)
		if err != nil {
			return nil, false, err
		}
		ared := ff0 - nft*nft
		ratio := 0.0
		if pred > 0 {
			ratio = ared / pred
		}
		s.log.Debug("dogleg trial", "iteration", lin.Iteration, "radius", d, "kind", kind, "ratio", ratio)
		if pred > 0 && ratio > acceptRatio {
			if ratio > 0.75 && linalg.Norm(s.comm, st) >= 0.99*d {
				*delta = math.Min(2*d, cfg.DeltaMax)
			}
			return lin.withIterate(lin.Iteration, linalg.Copy(xt), linalg.Copy(ft), nft), true, nil
		}
		if d <= cfg.DeltaMin {
			return nil, false, nil
		}
		*delta = math.Max(d/2, cfg.DeltaMin)
	}
	return nil, false, nil
}

// doglegPoint writes the dogleg step for radius d into st and names the
// branch taken
func doglegPoint(c utils.Comm, sN, sC []float64, nN, nC, d float64, st []float64) string {
	switch {
	case nN <= d:
		copy(st, sN)
		return "newton"
	case nC >= d || nC == 0:
		copy(st, sC)
		scale := 0.0
		if nC > 0 {
			scale = d / nC
		} else if nN > 0 {
			// no descent information, fall back to the scaled Newton step
			copy(st, sN)
			scale = d / nN
		}
		for i := range st {
			st[i] *= scale
		}
		return "cauchy"
	default:
		// st = sC + τ(sN - sC) with ‖st‖ = d
		diff := make([]float64, len(sN))
		copy(diff, sN)
		linalg.Axpy(-1, sC, diff)
		a := linalg.Dot(c, diff, diff)
		b := 2 * linalg.Dot(c, sC, diff)
		cc := nC*nC - d*d
		tau := (-b + math.Sqrt(b*b-4*a*cc)) / (2 * a)
		copy(st, sC)
		linalg.Axpy(tau, diff, st)
		return "dogleg"
	}
}
