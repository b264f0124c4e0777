package multigrid

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/krylov"
	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/projection"
	"github.com/notargets/DGSolver/utils"
)

// Factory rebuilds the whole hierarchy for every new linearisation. The
// template Config supplies everything except the operator.
type Factory struct {
	Template Config

	last   *Hierarchy
	builds int
}

// NewFactory returns a factory for the given template
func NewFactory(template Config) *Factory {
	return &Factory{Template: template}
}

// Build creates and sets up a hierarchy for jac and returns its native
// space preconditioner
func (f *Factory) Build(jac *linalg.Matrix) (krylov.Operator, error) {
	cfg := f.Template
	cfg.Operator = jac
	h, err := NewHierarchy(cfg)
	if err != nil {
		return nil, err
	}
	if err = h.Build(); err != nil {
		return nil, err
	}
	f.last = h
	f.builds++
	return h.Precondition, nil
}

// Last is the hierarchy of the most recent Build
func (f *Factory) Last() *Hierarchy { return f.last }

// Builds counts the hierarchies built so far
func (f *Factory) Builds() int { return f.builds }

// MeanNormalizer removes the mean value of one field from native vectors.
// It is used to fix the gauge of a field with a floating mean when no
// reference point is pinned.
type MeanNormalizer struct {
	mapping *Mapping
	field   int
	comm    utils.Comm

	integrals [][]float64 // Per cell, cell integral of each field mode
	unit      [][]float64 // Per cell, native coefficients of the constant 1
	volume    float64
}

// NewMeanNormalizer prepares the normalisation of field on the native
// layout m. The total volume is a collective sum.
func NewMeanNormalizer(proj *projection.Projector, m *Mapping, field int, comm utils.Comm) (*MeanNormalizer, error) {
	if field < 0 || field >= m.NumFields() {
		return nil, fmt.Errorf("mean normalizer: field %d outside [0,%d): %w", field, m.NumFields(), utils.ErrPrecondition)
	}
	if comm == nil {
		comm = utils.Serial{}
	}
	nm := m.Modes(field)
	mn := &MeanNormalizer{
		mapping:   m,
		field:     field,
		comm:      comm,
		integrals: make([][]float64, m.NumCells()),
		unit:      make([][]float64, m.NumCells()),
	}
	var vol float64
	for j := 0; j < m.NumCells(); j++ {
		ints := proj.Basis().Integrals(j)[:nm]
		mn.integrals[j] = ints
		// M⁻¹ = B0·B0ᵀ on the leading block
		b0 := proj.B0(j).Slice(0, nm, 0, nm)
		var tmp, unit mat.VecDense
		tmp.MulVec(b0.T(), mat.NewVecDense(nm, append([]float64(nil), ints...)))
		unit.MulVec(b0, &tmp)
		mn.unit[j] = unit.RawVector().Data
		vol += m.Agg.Volume(j)
	}
	mn.volume = utils.SumScalar(comm, vol)
	return mn, nil
}

// Mean is the volume average of the field over all ranks
func (mn *MeanNormalizer) Mean(x []float64) float64 {
	var s float64
	for j, ints := range mn.integrals {
		lo, _ := mn.mapping.FieldRange(j, mn.field)
		for n, w := range ints {
			s += w * x[lo+n]
		}
	}
	s = utils.SumScalar(mn.comm, s)
	if mn.volume == 0 {
		return 0
	}
	return s / mn.volume
}

// Normalize subtracts the mean of the field from x in place and returns it
func (mn *MeanNormalizer) Normalize(x []float64) float64 {
	mean := mn.Mean(x)
	for j, unit := range mn.unit {
		lo, _ := mn.mapping.FieldRange(j, mn.field)
		for n, u := range unit {
			x[lo+n] -= mean * u
		}
	}
	return mean
}
