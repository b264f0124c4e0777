package solver

import (
	"github.com/notargets/DGSolver/linalg"
)

// Safeguards of the parabolic step length model
const (
	sigma0 = 0.1
	sigma1 = 0.5
)

// lineSearch backtracks from the full step until the residual norm drops
// below (1 - α·λ)·‖F(x)‖. The first reduction halves λ, later ones use a
// three point parabola. ok is false when MaxStep trials are exhausted.
func (s *Solver) lineSearch(lin *Linearization, step []float64) (*Linearization, bool, error) {
	alpha := s.cfg.LineSearch.Alpha
	lambda, lamc, lamm := 1.0, 1.0, 1.0

	xt := make([]float64, len(lin.X))
	ft := make([]float64, len(lin.X))
	trial := func(l float64) (float64, error) {
		copy(xt, lin.X)
		linalg.Axpy(l, step, xt)
		return s.residual(xt, ft, "line search residual", lin.Iteration)
	}
	nft, err := trial(lambda)
	if err != nil {
		return nil, false, err
	}
	ff0 := lin.Norm * lin.Norm
	ffc := nft * nft
	ffm := ffc

	for iarm := 0; nft >= (1-alpha*lambda)*lin.Norm; iarm++ {
		if iarm >= s.cfg.LineSearch.MaxStep {
			return nil, false, nil
		}
		if iarm == 0 {
			lambda *= sigma1
		} else {
			lambda = parab3p(lamc, lamm, ff0, ffc, ffm)
		}
		lamm, lamc = lamc, lambda
		if nft, err = trial(lambda); err != nil {
			return nil, false, err
		}
		ffm, ffc = ffc, nft*nft
		s.log.Debug("line search backtrack", "iteration", lin.Iteration, "lambda", lambda, "residual", nft)
	}
	return lin.withIterate(lin.Iteration, linalg.Copy(xt), linalg.Copy(ft), nft), true, nil
}

// parab3p minimises the parabola through (0, ff0), (lambdac, ffc) and
// (lambdam, ffm), safeguarded to [sigma0, sigma1]·lambdac
func parab3p(lambdac, lambdam, ff0, ffc, ffm float64) float64 {
	c2 := lambdam*(ffc-ff0) - lambdac*(ffm-ff0)
	if c2 >= 0 {
		return sigma1 * lambdac
	}
	c1 := lambdac*lambdac*(ffm-ff0) - lambdam*lambdam*(ffc-ff0)
	lambdap := -c1 * 0.5 / c2
	if lambdap < sigma0*lambdac {
		lambdap = sigma0 * lambdac
	}
	if lambdap > sigma1*lambdac {
		lambdap = sigma1 * lambdac
	}
	return lambdap
}
