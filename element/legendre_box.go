package element

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/grid"
)

// LegendreBox is the total degree tensor Legendre basis on axis aligned
// box cells. On cell j with center c and edge lengths h the mode with
// exponents (a_0..a_d) is prod_k P_{a_k}(2(x_k - c_k)/h_k), where P_n is the
// orthonormal Legendre polynomial on [-1,1]. The basis is orthogonal on each
// cell but not normalised (the mass matrix is vol/2^d times identity).
type LegendreBox struct {
	grid   grid.Grid
	degree int
	dim    int
	modes  [][]int // Exponents per mode, graded by total degree

	mass []*mat.SymDense // Lazily computed per cell
}

// NewLegendreBox creates the basis of the given degree on every cell of g
func NewLegendreBox(g grid.Grid, degree int) (*LegendreBox, error) {
	if degree < 0 {
		return nil, fmt.Errorf("legendre box basis: negative degree %d", degree)
	}
	dim := g.SpatialDimension()
	if dim < 1 || dim > 3 {
		return nil, fmt.Errorf("legendre box basis: dimension %d not supported", dim)
	}
	return &LegendreBox{
		grid:   g,
		degree: degree,
		dim:    dim,
		modes:  gradedExponents(dim, degree),
		mass:   make([]*mat.SymDense, g.NumCells()),
	}, nil
}

// gradedExponents enumerates exponent tuples with total degree 0..p, lowest
// total degree first
func gradedExponents(dim, p int) [][]int {
	var modes [][]int
	for total := 0; total <= p; total++ {
		var rec func(d, remaining int, cur []int)
		rec = func(d, remaining int, cur []int) {
			if d == dim-1 {
				m := append(append([]int(nil), cur...), remaining)
				modes = append(modes, m)
				return
			}
			for a := remaining; a >= 0; a-- {
				rec(d+1, remaining-a, append(cur, a))
			}
		}
		rec(0, total, nil)
	}
	return modes
}

func (lb *LegendreBox) GetProperties() BasisProperties {
	return BasisProperties{
		Name:       fmt.Sprintf("Legendre Box Degree %d", lb.degree),
		ShortName:  fmt.Sprintf("LegBox%d", lb.degree),
		Degree:     lb.degree,
		Np:         len(lb.modes),
		Dimensions: Dimensionality(lb.dim),
	}
}

func (lb *LegendreBox) Degree() int    { return lb.degree }
func (lb *LegendreBox) Np() int        { return len(lb.modes) }
func (lb *LegendreBox) NumCells() int  { return lb.grid.NumCells() }
func (lb *LegendreBox) Grid() grid.Grid { return lb.grid }

// NumModes returns the number of modes of total degree <= degree
func (lb *LegendreBox) NumModes(degree int) int {
	return NumModes(lb.dim, degree)
}

// NumModes is the dimension of the total degree polynomial space, the
// binomial coefficient (degree+dim choose dim)
func NumModes(dim, degree int) int {
	if degree < 0 {
		return 0
	}
	n := 1
	for k := 1; k <= dim; k++ {
		n = n * (degree + k) / k
	}
	return n
}

// Exponents returns the per-axis polynomial orders of mode n
func (lb *LegendreBox) Exponents(n int) []int {
	return append([]int(nil), lb.modes[n]...)
}

// reference maps x to the reference coordinates of cell j and returns the
// scale factors dxi/dx
func (lb *LegendreBox) reference(j int, x []float64) (xi, scale []float64) {
	box := lb.grid.BoundingBox(j)
	c := box.Center()
	h := box.Extent()
	xi = make([]float64, lb.dim)
	scale = make([]float64, lb.dim)
	for d := 0; d < lb.dim; d++ {
		scale[d] = 2 / h[d]
		xi[d] = (x[d] - c[d]) * scale[d]
	}
	return
}

func (lb *LegendreBox) Eval(j int, x []float64, out []float64) {
	xi, _ := lb.reference(j, x)
	tab := make([][]float64, lb.dim)
	for d := 0; d < lb.dim; d++ {
		tab[d] = make([]float64, lb.degree+1)
		legendreTable(xi[d], lb.degree, tab[d], nil)
	}
	for n, m := range lb.modes {
		v := 1.0
		for d := 0; d < lb.dim; d++ {
			v *= tab[d][m[d]]
		}
		out[n] = v
	}
}

// EvalGrad fills grad[n][d] with the derivative of mode n of cell j along
// axis d at the physical point x
func (lb *LegendreBox) EvalGrad(j int, x []float64, grad [][]float64) {
	xi, scale := lb.reference(j, x)
	tab := make([][]float64, lb.dim)
	dtab := make([][]float64, lb.dim)
	for d := 0; d < lb.dim; d++ {
		tab[d] = make([]float64, lb.degree+1)
		dtab[d] = make([]float64, lb.degree+1)
		legendreTable(xi[d], lb.degree, tab[d], dtab[d])
	}
	for n, m := range lb.modes {
		for d := 0; d < lb.dim; d++ {
			v := dtab[d][m[d]] * scale[d]
			for e := 0; e < lb.dim; e++ {
				if e != d {
					v *= tab[e][m[e]]
				}
			}
			grad[n][d] = v
		}
	}
}

func (lb *LegendreBox) Quadrature(j int, order int) ([][]float64, []float64) {
	return BoxQuadrature(lb.grid.BoundingBox(j), order)
}

// MassMatrix integrates phi_m phi_n over cell j by quadrature
func (lb *LegendreBox) MassMatrix(j int) *mat.SymDense {
	if lb.mass[j] != nil {
		return lb.mass[j]
	}
	np := lb.Np()
	M := mat.NewSymDense(np, nil)
	pts, wts := lb.Quadrature(j, 2*lb.degree)
	phi := make([]float64, np)
	for q, x := range pts {
		lb.Eval(j, x, phi)
		for m := 0; m < np; m++ {
			for n := m; n < np; n++ {
				M.SetSym(m, n, M.At(m, n)+wts[q]*phi[m]*phi[n])
			}
		}
	}
	lb.mass[j] = M
	return M
}

func (lb *LegendreBox) Integrals(j int) []float64 {
	np := lb.Np()
	ints := make([]float64, np)
	pts, wts := lb.Quadrature(j, lb.degree)
	phi := make([]float64, np)
	for q, x := range pts {
		lb.Eval(j, x, phi)
		for n := range ints {
			ints[n] += wts[q] * phi[n]
		}
	}
	return ints
}
