package element

import "gonum.org/v1/gonum/mat"

// Dimensionality represents the spatial dimension of a basis
type Dimensionality uint8

const (
	D0 Dimensionality = iota // 0D (points)
	D1                       // 1D (lines)
	D2                       // 2D (rectangles)
	D3                       // 3D (hexahedra)
)

// BasisProperties contains metadata describing a DG basis
type BasisProperties struct {
	Name       string         // Full descriptive name (e.g., "Legendre Box Degree 2")
	ShortName  string         // Abbreviated name (e.g., "LegBox2")
	Degree     int            // Polynomial degree
	Np         int            // Number of modes per cell
	Dimensions Dimensionality // Spatial dimension
}

// Basis is the per-cell polynomial basis consumed by the multigrid
// projector. Modes are ordered by total degree, so the modes of degree <= p
// are the first NumModes(p) modes for every p <= Degree().
type Basis interface {
	GetProperties() BasisProperties
	Degree() int
	Np() int
	NumModes(degree int) int
	NumCells() int

	// Eval fills out[n] with the value of mode n of cell j at the physical
	// point x. x may lie outside the cell (polynomial extrapolation).
	Eval(j int, x []float64, out []float64)

	// MassMatrix is the native local mass matrix of cell j [Np × Np]
	MassMatrix(j int) *mat.SymDense

	// Integrals returns the cell integral of every mode of cell j
	Integrals(j int) []float64

	// Quadrature returns points and weights on cell j that integrate
	// polynomials of degree order in each coordinate exactly
	Quadrature(j int, order int) (points [][]float64, weights []float64)
}
