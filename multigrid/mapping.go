package multigrid

import (
	"fmt"

	"github.com/notargets/DGSolver/aggregation"
	"github.com/notargets/DGSolver/element"
	"github.com/notargets/DGSolver/utils"
)

// Mapping is the coordinate layout of one level: cell major, then field,
// then mode. Field f of every cell holds the modes of total degree <=
// Degrees[f]. Local indices start at zero on every rank; GlobalOffset places
// the local block in the distributed vector.
type Mapping struct {
	Agg     *aggregation.Grid
	Degrees []int

	modes        []int // Per field
	fieldOffset  []int // Within a cell, len(Degrees)+1
	globalOffset int
	globalLength int
}

// NewMapping lays out the fields with the given degrees over the cells of
// agg. The global offset is a collective prefix sum over comm.
func NewMapping(agg *aggregation.Grid, degrees []int, comm utils.Comm) (*Mapping, error) {
	if len(degrees) == 0 {
		return nil, fmt.Errorf("mapping: no fields: %w", utils.ErrPrecondition)
	}
	m := &Mapping{
		Agg:         agg,
		Degrees:     append([]int(nil), degrees...),
		modes:       make([]int, len(degrees)),
		fieldOffset: make([]int, len(degrees)+1),
	}
	dim := agg.SpatialDimension()
	for f, p := range degrees {
		if p < 0 {
			return nil, fmt.Errorf("mapping: field %d has negative degree %d: %w", f, p, utils.ErrPrecondition)
		}
		m.modes[f] = element.NumModes(dim, p)
		m.fieldOffset[f+1] = m.fieldOffset[f] + m.modes[f]
	}
	m.globalOffset, m.globalLength = utils.ExclusiveScan(comm, m.LocalLength())
	return m, nil
}

func (m *Mapping) NumFields() int { return len(m.Degrees) }
func (m *Mapping) NumCells() int  { return m.Agg.NumCells() }

// Modes is the number of coefficients of field f in one cell
func (m *Mapping) Modes(f int) int { return m.modes[f] }

// Stride is the number of coefficients per cell over all fields
func (m *Mapping) Stride() int { return m.fieldOffset[len(m.Degrees)] }

// Index is the local coordinate of mode n of field f in cell j
func (m *Mapping) Index(j, f, n int) int {
	return j*m.Stride() + m.fieldOffset[f] + n
}

// CellRange returns the half open local coordinate range of cell j
func (m *Mapping) CellRange(j int) (lo, hi int) {
	return j * m.Stride(), (j + 1) * m.Stride()
}

// FieldRange returns the half open local coordinate range of field f in
// cell j
func (m *Mapping) FieldRange(j, f int) (lo, hi int) {
	lo = m.Index(j, f, 0)
	return lo, lo + m.modes[f]
}

func (m *Mapping) LocalLength() int  { return m.NumCells() * m.Stride() }
func (m *Mapping) GlobalOffset() int { return m.globalOffset }
func (m *Mapping) GlobalLength() int { return m.globalLength }

// BlockOffsets lists the start of every (cell, field) block followed by the
// local length, the layout used for per-cell block operations
func (m *Mapping) BlockOffsets() []int {
	nf := m.NumFields()
	offsets := make([]int, 0, m.NumCells()*nf+1)
	for j := 0; j < m.NumCells(); j++ {
		for f := 0; f < nf; f++ {
			offsets = append(offsets, m.Index(j, f, 0))
		}
	}
	return append(offsets, m.LocalLength())
}
