package problems

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/element"
	"github.com/notargets/DGSolver/grid"
	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// BoundaryKind selects the boundary condition applied on every boundary face
type BoundaryKind string

const (
	Dirichlet BoundaryKind = "dirichlet"
	Neumann   BoundaryKind = "neumann"
)

// Function is a scalar field evaluated at a physical point
type Function func(x []float64) float64

// DiffusionReaction is the symmetric interior penalty discretisation of
//
//	-∇·(ν∇u) + σu + κu³ = f
//
// on a Cartesian grid with the Legendre box basis. Unknowns are the native
// modal coefficients, Np per cell, cell major. The boundary data g is the
// value of u on Dirichlet boundaries and the outward flux ν∇u·n on Neumann
// boundaries.
type DiffusionReaction struct {
	Grid     *grid.Cartesian
	Basis    *element.LegendreBox
	Nu       float64
	Sigma    float64
	Kappa    float64
	Boundary BoundaryKind

	penalty float64
	linear  *linalg.Matrix // Diffusion, penalty and σ mass terms
	mass    *linalg.Matrix

	// Per cell quadrature of the cubic term
	phi [][][]float64
	wts [][]float64
}

// NewDiffusionReaction assembles the linear part of the operator. penalty
// scales the interior penalty η = penalty·(p+1)²/h; zero selects 4.
func NewDiffusionReaction(g *grid.Cartesian, degree int, nu, sigma, kappa, penalty float64, bc BoundaryKind) (*DiffusionReaction, error) {
	if nu <= 0 {
		return nil, fmt.Errorf("diffusion: viscosity %g must be positive: %w", nu, utils.ErrPrecondition)
	}
	switch bc {
	case Dirichlet, Neumann:
	default:
		return nil, fmt.Errorf("diffusion: unknown boundary kind %q: %w", bc, utils.ErrPrecondition)
	}
	basis, err := element.NewLegendreBox(g, degree)
	if err != nil {
		return nil, err
	}
	if penalty == 0 {
		penalty = 4
	}
	d := &DiffusionReaction{
		Grid:     g,
		Basis:    basis,
		Nu:       nu,
		Sigma:    sigma,
		Kappa:    kappa,
		Boundary: bc,
		penalty:  penalty * float64((degree+1)*(degree+1)),
	}
	d.assemble()
	d.tabulate()
	return d, nil
}

// Np is the number of unknowns per cell
func (d *DiffusionReaction) Np() int { return d.Basis.Np() }

// Size is the number of unknowns
func (d *DiffusionReaction) Size() int { return d.Grid.NumCells() * d.Np() }

// Linear is the matrix of the linear terms
func (d *DiffusionReaction) Linear() *linalg.Matrix { return d.linear }

// Mass is the block diagonal mass matrix
func (d *DiffusionReaction) Mass() *linalg.Matrix { return d.mass }

func (d *DiffusionReaction) assemble() {
	np := d.Np()
	n := d.Size()
	a := linalg.NewBuilder(n, n)
	m := linalg.NewBuilder(n, n)
	grad := newGrad(np, d.Grid.SpatialDimension())
	phi := make([]float64, np)
	for j := 0; j < d.Grid.NumCells(); j++ {
		mj := d.Basis.MassMatrix(j)
		m.AddBlock(j*np, j*np, mj, 1)
		if d.Sigma != 0 {
			a.AddBlock(j*np, j*np, mj, d.Sigma)
		}
		pts, wts := d.Basis.Quadrature(j, 2*d.Basis.Degree())
		for q, x := range pts {
			d.Basis.EvalGrad(j, x, grad)
			d.Basis.Eval(j, x, phi)
			for r := 0; r < np; r++ {
				for c := 0; c < np; c++ {
					a.Add(j*np+r, j*np+c, wts[q]*d.Nu*dot(grad[r], grad[c]))
				}
			}
		}
	}
	for _, f := range d.Grid.InteriorFaces() {
		d.interiorFace(a, f)
	}
	if d.Boundary == Dirichlet {
		for _, f := range d.Grid.BoundaryFaces() {
			d.dirichletFace(a, f)
		}
	}
	d.linear = a.Build()
	d.mass = m.Build()
}

// interiorFace adds the consistency, symmetry and penalty terms of one
// interior face; the normal points from Left to Right
func (d *DiffusionReaction) interiorFace(a *linalg.Builder, f grid.Face) {
	np := d.Np()
	boxL, boxR := d.Grid.BoundingBox(f.Left), d.Grid.BoundingBox(f.Right)
	h := math.Min(boxL.Extent()[f.Axis], boxR.Extent()[f.Axis])
	eta := d.penalty * d.Nu / h
	pts, wts := element.FaceQuadrature(boxL, f.Axis, boxL.Max[f.Axis], 2*d.Basis.Degree())

	cells := [2]int{f.Left, f.Right}
	sign := [2]float64{1, -1}
	phi := [2][]float64{make([]float64, np), make([]float64, np)}
	dn := [2][]float64{make([]float64, np), make([]float64, np)}
	grad := newGrad(np, d.Grid.SpatialDimension())
	for q, x := range pts {
		for s, c := range cells {
			d.Basis.Eval(c, x, phi[s])
			d.Basis.EvalGrad(c, x, grad)
			for n := range grad {
				dn[s][n] = d.Nu * grad[n][f.Axis]
			}
		}
		w := wts[q]
		for s := 0; s < 2; s++ {
			for t := 0; t < 2; t++ {
				for r := 0; r < np; r++ {
					for c := 0; c < np; c++ {
						v := -0.5*dn[t][c]*sign[s]*phi[s][r] -
							0.5*dn[s][r]*sign[t]*phi[t][c] +
							eta*sign[s]*sign[t]*phi[s][r]*phi[t][c]
						a.Add(cells[s]*np+r, cells[t]*np+c, w*v)
					}
				}
			}
		}
	}
}

// faceRule returns the quadrature of a boundary face, its outward normal
// sign and the penalty
func (d *DiffusionReaction) faceRule(f grid.BoundaryFace) (pts [][]float64, wts []float64, eta float64) {
	box := d.Grid.BoundingBox(f.Cell)
	coord := box.Max[f.Axis]
	if f.Side < 0 {
		coord = box.Min[f.Axis]
	}
	pts, wts = element.FaceQuadrature(box, f.Axis, coord, 2*d.Basis.Degree())
	eta = d.penalty * d.Nu / box.Extent()[f.Axis]
	return pts, wts, eta
}

func (d *DiffusionReaction) dirichletFace(a *linalg.Builder, f grid.BoundaryFace) {
	np := d.Np()
	pts, wts, eta := d.faceRule(f)
	phi := make([]float64, np)
	dn := make([]float64, np)
	grad := newGrad(np, d.Grid.SpatialDimension())
	side := float64(f.Side)
	for q, x := range pts {
		d.Basis.Eval(f.Cell, x, phi)
		d.Basis.EvalGrad(f.Cell, x, grad)
		for n := range grad {
			dn[n] = d.Nu * side * grad[n][f.Axis]
		}
		for r := 0; r < np; r++ {
			for c := 0; c < np; c++ {
				v := -dn[c]*phi[r] - dn[r]*phi[c] + eta*phi[r]*phi[c]
				a.Add(f.Cell*np+r, f.Cell*np+c, wts[q]*v)
			}
		}
	}
}

// tabulate stores basis values at the quadrature points of the cubic term
func (d *DiffusionReaction) tabulate() {
	nc := d.Grid.NumCells()
	d.phi = make([][][]float64, nc)
	d.wts = make([][]float64, nc)
	if d.Kappa == 0 {
		return
	}
	np := d.Np()
	for j := 0; j < nc; j++ {
		pts, wts := d.Basis.Quadrature(j, 4*d.Basis.Degree())
		d.wts[j] = wts
		d.phi[j] = make([][]float64, len(pts))
		for q, x := range pts {
			d.phi[j][q] = make([]float64, np)
			d.Basis.Eval(j, x, d.phi[j][q])
		}
	}
}

// Load assembles the right hand side for the source f and boundary data g.
// Either may be nil.
func (d *DiffusionReaction) Load(f, g Function) []float64 {
	np := d.Np()
	rhs := make([]float64, d.Size())
	phi := make([]float64, np)
	if f != nil {
		for j := 0; j < d.Grid.NumCells(); j++ {
			pts, wts := d.Basis.Quadrature(j, 2*d.Basis.Degree()+2)
			for q, x := range pts {
				d.Basis.Eval(j, x, phi)
				fx := wts[q] * f(x)
				for n := range phi {
					rhs[j*np+n] += fx * phi[n]
				}
			}
		}
	}
	if g == nil {
		return rhs
	}
	grad := newGrad(np, d.Grid.SpatialDimension())
	for _, bf := range d.Grid.BoundaryFaces() {
		pts, wts, eta := d.faceRule(bf)
		side := float64(bf.Side)
		for q, x := range pts {
			d.Basis.Eval(bf.Cell, x, phi)
			gx := wts[q] * g(x)
			if d.Boundary == Neumann {
				for n := range phi {
					rhs[bf.Cell*np+n] += gx * phi[n]
				}
				continue
			}
			d.Basis.EvalGrad(bf.Cell, x, grad)
			for n := range phi {
				rhs[bf.Cell*np+n] += gx * (eta*phi[n] - d.Nu*side*grad[n][bf.Axis])
			}
		}
	}
	return rhs
}

// Evaluate writes scale·(A·x + κ∫u³φ) into out
func (d *DiffusionReaction) Evaluate(scale float64, x, out []float64) error {
	if len(x) != d.Size() || len(out) != d.Size() {
		return fmt.Errorf("diffusion: vectors of length %d and %d, want %d: %w",
			len(x), len(out), d.Size(), utils.ErrDimensionMismatch)
	}
	if err := d.linear.MulVec(out, x); err != nil {
		return err
	}
	np := d.Np()
	if d.Kappa != 0 {
		for j := range d.phi {
			xj, oj := x[j*np:(j+1)*np], out[j*np:(j+1)*np]
			for q, phi := range d.phi[j] {
				u := dot(phi, xj)
				c := d.wts[j][q] * d.Kappa * u * u * u
				for n := range oj {
					oj[n] += c * phi[n]
				}
			}
		}
	}
	if scale != 1 {
		for i := range out {
			out[i] *= scale
		}
	}
	return nil
}

// Linearize assembles the Jacobian A + 3κ∫u²φφ at x
func (d *DiffusionReaction) Linearize(x []float64) (*linalg.Matrix, error) {
	if len(x) != d.Size() {
		return nil, fmt.Errorf("diffusion: state of length %d, want %d: %w", len(x), d.Size(), utils.ErrDimensionMismatch)
	}
	if d.Kappa == 0 {
		return d.linear, nil
	}
	np := d.Np()
	b := d.linear.Builder()
	blk := mat.NewDense(np, np, nil)
	for j := range d.phi {
		blk.Zero()
		xj := x[j*np : (j+1)*np]
		for q, phi := range d.phi[j] {
			u := dot(phi, xj)
			c := 3 * d.wts[j][q] * d.Kappa * u * u
			for r := 0; r < np; r++ {
				for s := 0; s < np; s++ {
					blk.Set(r, s, blk.At(r, s)+c*phi[r]*phi[s])
				}
			}
		}
		b.AddBlock(j*np, j*np, blk, 1)
	}
	return b.Build(), nil
}

// Project returns the native coefficients of the L2 projection of f
func (d *DiffusionReaction) Project(f Function) []float64 {
	rhs := d.Load(f, nil)
	np := d.Np()
	for j := 0; j < d.Grid.NumCells(); j++ {
		var chol mat.Cholesky
		chol.Factorize(d.Basis.MassMatrix(j))
		v := mat.NewVecDense(np, rhs[j*np:(j+1)*np])
		_ = chol.SolveVecTo(v, mat.VecDenseCopyOf(v))
	}
	return rhs
}

// L2Error is ‖u_h - exact‖ over the domain
func (d *DiffusionReaction) L2Error(x []float64, exact Function) float64 {
	np := d.Np()
	phi := make([]float64, np)
	var e2 float64
	for j := 0; j < d.Grid.NumCells(); j++ {
		pts, wts := d.Basis.Quadrature(j, 2*d.Basis.Degree()+4)
		for q, p := range pts {
			d.Basis.Eval(j, p, phi)
			diff := dot(phi, x[j*np:(j+1)*np]) - exact(p)
			e2 += wts[q] * diff * diff
		}
	}
	return math.Sqrt(e2)
}

func newGrad(np, dim int) [][]float64 {
	g := make([][]float64, np)
	for n := range g {
		g[n] = make([]float64, dim)
	}
	return g
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
