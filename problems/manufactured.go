package problems

import (
	"fmt"
	"math"

	"github.com/notargets/DGSolver/grid"
	"github.com/notargets/DGSolver/utils"
)

// Manufactured is a closed form solution on the unit box with the source
// and boundary data that reproduce it
type Manufactured struct {
	Name     string
	Exact    Function
	Source   Function
	Boundary Function
}

// Config describes a diffusion reaction problem on the unit box
type Config struct {
	Cells    []int        `yaml:"cells"`
	Degree   int          `yaml:"degree"`
	Nu       float64      `yaml:"nu"`
	Sigma    float64      `yaml:"sigma"`
	Kappa    float64      `yaml:"kappa"`
	Penalty  float64      `yaml:"penalty"`
	Boundary BoundaryKind `yaml:"boundary"`
	Solution string       `yaml:"solution"`
}

// DefaultConfig is the 1D cubic reaction problem with a sine solution
func DefaultConfig() Config {
	return Config{
		Cells:    []int{16},
		Degree:   2,
		Nu:       1,
		Kappa:    1,
		Boundary: Dirichlet,
		Solution: "sine",
	}
}

// Build creates the discretisation and the manufactured solution of c
func (c Config) Build() (*DiffusionReaction, Manufactured, error) {
	dim := len(c.Cells)
	if dim < 1 || dim > 3 {
		return nil, Manufactured{}, fmt.Errorf("problem: %d axes, want 1 to 3: %w", dim, utils.ErrPrecondition)
	}
	lo := make([]float64, dim)
	hi := make([]float64, dim)
	for d := range hi {
		hi[d] = 1
	}
	g, err := grid.NewUniform(c.Cells, lo, hi)
	if err != nil {
		return nil, Manufactured{}, err
	}
	p, err := NewDiffusionReaction(g, c.Degree, c.Nu, c.Sigma, c.Kappa, c.Penalty, c.Boundary)
	if err != nil {
		return nil, Manufactured{}, err
	}
	m, err := p.Manufactured(c.Solution)
	if err != nil {
		return nil, Manufactured{}, err
	}
	return p, m, nil
}

// Manufactured returns the named solution for the coefficients of d:
//
//	sine    u = Π sin(πx_d)
//	cosine  u = Π cos(πx_d)
//
// Both satisfy Δu = -dim·π²u, so f = (dim·ν·π² + σ)u + κu³. Boundary data
// is u on Dirichlet boundaries and ν∇u·n on Neumann boundaries of the unit
// box.
func (d *DiffusionReaction) Manufactured(name string) (Manufactured, error) {
	dim := d.Grid.SpatialDimension()
	var exact, flux Function
	switch name {
	case "sine":
		exact = func(x []float64) float64 { return product(x, -1, math.Sin) }
		// On the face x_e ∈ {0,1} only the term d = e survives
		flux = func(x []float64) float64 {
			var s float64
			for e := 0; e < dim; e++ {
				s += product(x, e, math.Sin)
			}
			return -d.Nu * math.Pi * s
		}
	case "cosine":
		exact = func(x []float64) float64 { return product(x, -1, math.Cos) }
		flux = func([]float64) float64 { return 0 }
	default:
		return Manufactured{}, fmt.Errorf("problem: unknown solution %q: %w", name, utils.ErrPrecondition)
	}
	lap := float64(dim) * d.Nu * math.Pi * math.Pi
	m := Manufactured{
		Name:  name,
		Exact: exact,
		Source: func(x []float64) float64 {
			u := exact(x)
			return (lap+d.Sigma)*u + d.Kappa*u*u*u
		},
		Boundary: exact,
	}
	if d.Boundary == Neumann {
		m.Boundary = flux
	}
	return m, nil
}

// product is Π f(πx_d) over every axis except skip
func product(x []float64, skip int, f func(float64) float64) float64 {
	v := 1.0
	for d, xd := range x {
		if d != skip {
			v *= f(math.Pi * xd)
		}
	}
	return v
}
