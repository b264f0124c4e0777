package krylov

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// Operator applies a linear map, dst = A·src. Preconditioners share the
// same signature.
type Operator func(dst, src []float64) error

// MatrixOperator wraps a sparse matrix as an Operator
func MatrixOperator(m *linalg.Matrix) Operator {
	return func(dst, src []float64) error { return m.MulVec(dst, src) }
}

// Settings configures one GMRES solve
type Settings struct {
	// Tol is the residual reduction target relative to the initial residual
	Tol float64
	// MaxKrylovDim is the number of Arnoldi steps between restarts
	MaxKrylovDim int
	// RestartLimit is the number of restarts after the first cycle
	RestartLimit int
	// Precond is applied on the right, nil means identity
	Precond Operator
	Comm    utils.Comm
}

// Result reports the outcome of a GMRES solve
type Result struct {
	Iterations  int
	Restarts    int
	Residual    float64 // Final estimated residual norm
	Initial     float64 // Initial residual norm
	Converged   bool
	History     []float64
	HappyBreaks int
}

// GMRES solves A·x = b by restarted, right preconditioned GMRES with
// modified Gram-Schmidt orthogonalisation. x holds the initial guess and
// receives the solution. Failure to reach the tolerance is not an error;
// check Result.Converged. A non-finite Hessenberg entry aborts the solve.
func GMRES(a Operator, b, x []float64, s Settings) (Result, error) {
	n := len(b)
	if len(x) != n {
		return Result{}, fmt.Errorf("gmres: x has %d entries, b has %d: %w", len(x), n, utils.ErrDimensionMismatch)
	}
	if s.MaxKrylovDim < 1 {
		return Result{}, fmt.Errorf("gmres: krylov dimension %d: %w", s.MaxKrylovDim, utils.ErrPrecondition)
	}
	comm := s.Comm
	if comm == nil {
		comm = utils.Serial{}
	}
	precond := s.Precond
	if precond == nil {
		precond = func(dst, src []float64) error { copy(dst, src); return nil }
	}
	m := s.MaxKrylovDim

	r := make([]float64, n)
	if err := residual(a, r, b, x); err != nil {
		return Result{}, err
	}
	rho := linalg.Norm(comm, r)
	res := Result{Initial: rho, Residual: rho, History: []float64{rho}}
	if !utils.IsFinite(rho) {
		return res, fmt.Errorf("gmres: initial residual: %w", utils.ErrNotFinite)
	}
	errtol := s.Tol * rho
	if rho <= errtol || rho == 0 {
		res.Converged = true
		return res, nil
	}

	v := make([][]float64, m+1)
	for i := range v {
		v[i] = make([]float64, n)
	}
	h := make([][]float64, m+1)
	for i := range h {
		h[i] = make([]float64, m)
	}
	cs, sn := make([]float64, m), make([]float64, m)
	g := make([]float64, m+1)
	z := make([]float64, n)
	w := make([]float64, n)

	for cycle := 0; cycle <= s.RestartLimit; cycle++ {
		res.Restarts = cycle
		copy(v[0], r)
		floats.Scale(1/rho, v[0])
		for i := range g {
			g[i] = 0
		}
		g[0] = rho

		k := 0
		for k < m {
			if err := precond(z, v[k]); err != nil {
				return res, fmt.Errorf("gmres: preconditioner: %w", err)
			}
			if err := a(w, z); err != nil {
				return res, fmt.Errorf("gmres: operator: %w", err)
			}
			normav := linalg.Norm(comm, w)
			for j := 0; j <= k; j++ {
				h[j][k] = linalg.Dot(comm, v[j], w)
				floats.AddScaled(w, -h[j][k], v[j])
			}
			h[k+1][k] = linalg.Norm(comm, w)
			normav2 := h[k+1][k]
			// Brown/Hindmarsh test for loss of orthogonality
			if normav+1e-3*normav2 == normav {
				for j := 0; j <= k; j++ {
					hr := linalg.Dot(comm, v[j], w)
					h[j][k] += hr
					floats.AddScaled(w, -hr, v[j])
				}
				h[k+1][k] = linalg.Norm(comm, w)
			}
			happy := h[k+1][k] == 0
			if !happy {
				copy(v[k+1], w)
				floats.Scale(1/h[k+1][k], v[k+1])
			} else {
				res.HappyBreaks++
			}
			for j := 0; j <= k+1; j++ {
				if !utils.IsFinite(h[j][k]) {
					return res, fmt.Errorf("gmres: hessenberg entry (%d,%d): %w", j, k, utils.ErrNotFinite)
				}
			}

			for j := 0; j < k; j++ {
				h[j][k], h[j+1][k] = rotate(cs[j], sn[j], h[j][k], h[j+1][k])
			}
			if nu := math.Hypot(h[k][k], h[k+1][k]); nu != 0 {
				cs[k], sn[k] = h[k][k]/nu, -h[k+1][k]/nu
				h[k][k], h[k+1][k] = nu, 0
				g[k], g[k+1] = rotate(cs[k], sn[k], g[k], g[k+1])
			} else {
				cs[k], sn[k] = 1, 0
			}
			k++
			res.Iterations++
			rho = math.Abs(g[k])
			res.Residual = rho
			res.History = append(res.History, rho)
			if rho <= errtol || happy {
				break
			}
		}

		if err := update(precond, h, g, v, k, x, z, w); err != nil {
			return res, err
		}
		if err := residual(a, r, b, x); err != nil {
			return res, err
		}
		rho = linalg.Norm(comm, r)
		if !utils.IsFinite(rho) {
			return res, fmt.Errorf("gmres: residual after cycle %d: %w", cycle, utils.ErrNotFinite)
		}
		res.Residual = rho
		if rho <= errtol {
			res.Converged = true
			return res, nil
		}
	}
	return res, nil
}

// rotate applies the Givens rotation [c -s; s c] to (a, b)
func rotate(c, s, a, b float64) (float64, float64) {
	return c*a - s*b, s*a + c*b
}

// update solves the k×k triangular system H·y = g and adds M⁻¹·V·y to x
func update(precond Operator, h [][]float64, g []float64, v [][]float64, k int, x, z, w []float64) error {
	y := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		s := g[i]
		for j := i + 1; j < k; j++ {
			s -= h[i][j] * y[j]
		}
		if h[i][i] == 0 {
			y[i] = 0
			continue
		}
		y[i] = s / h[i][i]
	}
	if !utils.AllFinite(y) {
		return fmt.Errorf("gmres: least squares update: %w", utils.ErrNotFinite)
	}
	for i := range w {
		w[i] = 0
	}
	for j := 0; j < k; j++ {
		floats.AddScaled(w, y[j], v[j])
	}
	if err := precond(z, w); err != nil {
		return fmt.Errorf("gmres: preconditioner: %w", err)
	}
	floats.Add(x, z)
	return nil
}

func residual(a Operator, r, b, x []float64) error {
	if err := a(r, x); err != nil {
		return fmt.Errorf("gmres: operator: %w", err)
	}
	floats.SubTo(r, b, r)
	return nil
}
