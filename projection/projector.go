package projection

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/aggregation"
	"github.com/notargets/DGSolver/element"
	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// OrthonormalityTolerance bounds ‖CᵀC − I‖_F for every composite basis
const OrthonormalityTolerance = 1e-9

// Projector builds orthonormal bases on the cells of every aggregation
// level. All composite bases are expressed in the orthonormalised level 0
// coordinates of the base cells; B0 maps those back to native coefficients.
type Projector struct {
	basis element.Basis
	seq   []*aggregation.Grid
	np    int

	b0, b0inv []*mat.Dense   // Per base cell, native <-> orthonormal
	composite [][]*mat.Dense // Per level, per aggregate, lazily built
	injector  [][][]*mat.Dense
}

// New creates the projector for basis on the aggregation sequence seq. The
// level 0 orthonormalisation is computed eagerly; coarser levels are built
// on first use.
func New(basis element.Basis, seq []*aggregation.Grid) (*Projector, error) {
	if len(seq) == 0 {
		return nil, fmt.Errorf("projector: empty aggregation sequence: %w", utils.ErrPrecondition)
	}
	if nb := seq[0].Base.NumCells(); nb != basis.NumCells() {
		return nil, fmt.Errorf("projector: basis on %d cells, base grid has %d: %w",
			basis.NumCells(), nb, utils.ErrPrecondition)
	}
	p := &Projector{
		basis:     basis,
		seq:       seq,
		np:        basis.Np(),
		b0:        make([]*mat.Dense, basis.NumCells()),
		b0inv:     make([]*mat.Dense, basis.NumCells()),
		composite: make([][]*mat.Dense, len(seq)),
		injector:  make([][][]*mat.Dense, len(seq)),
	}
	for j := range p.b0 {
		linvT, lT, ok := linalg.InverseCholeskyFactor(basis.MassMatrix(j))
		if !ok {
			return nil, fmt.Errorf("projector: mass matrix of cell %d is not positive definite", j)
		}
		p.b0[j], p.b0inv[j] = linvT, lT
	}
	return p, nil
}

// Levels is the number of aggregation levels
func (p *Projector) Levels() int { return len(p.seq) }

// Level returns aggregation level l
func (p *Projector) Level(l int) *aggregation.Grid { return p.seq[l] }

// Np is the number of modes per cell at full degree
func (p *Projector) Np() int { return p.np }

// NumModes is the number of leading modes spanning total degree <= degree.
// Every basis built here is graded, so a degree cutoff is a column prefix.
func (p *Projector) NumModes(degree int) int { return p.basis.NumModes(degree) }

// Basis is the native basis the projector was built on
func (p *Projector) Basis() element.Basis { return p.basis }

// B0 maps orthonormal coefficients of base cell j to native coefficients
func (p *Projector) B0(j int) *mat.Dense { return p.b0[j] }

// B0Inv maps native coefficients of base cell j to orthonormal ones
func (p *Projector) B0Inv(j int) *mat.Dense { return p.b0inv[j] }

func (p *Projector) checkLevel(level int) error {
	if level < 0 || level >= len(p.seq) {
		return fmt.Errorf("projector: level %d outside [0,%d): %w", level, len(p.seq), utils.ErrPrecondition)
	}
	return nil
}

// CompositeBasis returns, per aggregate of level, the (nBase·Np)×Np matrix
// whose columns are the orthonormal aggregate modes in the orthonormal
// coordinates of the aggregate's base cells (in BaseCells order).
func (p *Projector) CompositeBasis(level int) ([]*mat.Dense, error) {
	if err := p.checkLevel(level); err != nil {
		return nil, err
	}
	if p.composite[level] != nil {
		return p.composite[level], nil
	}
	agg := p.seq[level]
	cb := make([]*mat.Dense, agg.NumCells())
	for i, cells := range agg.BaseCells {
		c, err := p.buildComposite(cells)
		if err != nil {
			return nil, fmt.Errorf("projector: level %d aggregate %d: %w", level, i, err)
		}
		cb[i] = c
	}
	p.composite[level] = cb
	return cb, nil
}

// buildComposite orthonormalises the degree p polynomials of the first cell,
// extrapolated over all cells of the aggregate
func (p *Projector) buildComposite(cells []int) (*mat.Dense, error) {
	np := p.np
	if len(cells) == 1 {
		return linalg.IdentityDense(np), nil
	}
	ref := cells[0]
	ext := make([]*mat.Dense, len(cells))
	aggMass := mat.NewSymDense(np, nil)
	for k, c := range cells {
		ext[k] = p.extrapolation(c, ref)
		var m mat.Dense
		m.Mul(ext[k].T(), ext[k])
		for a := 0; a < np; a++ {
			for b := a; b < np; b++ {
				aggMass.SetSym(a, b, aggMass.At(a, b)+0.5*(m.At(a, b)+m.At(b, a)))
			}
		}
	}
	B, _, ok := linalg.InverseCholeskyFactor(aggMass)
	if !ok {
		return nil, fmt.Errorf("aggregate mass matrix is not positive definite")
	}
	C := mat.NewDense(len(cells)*np, np, nil)
	for k := range cells {
		blk := C.Slice(k*np, (k+1)*np, 0, np).(*mat.Dense)
		blk.Mul(ext[k], B)
	}
	if linalg.OrthonormalityDefect(C) <= OrthonormalityTolerance {
		return C, nil
	}
	Q := linalg.Orthonormalize(C)
	if d := linalg.OrthonormalityDefect(Q); d > OrthonormalityTolerance {
		return nil, fmt.Errorf("composite basis orthonormality defect %.3e after re-orthonormalisation", d)
	}
	return Q, nil
}

// extrapolation returns E[m,n] = ∫_c ψ^c_m ψ^ref_n, the orthonormal modes of
// ref continued onto cell c, expressed in the orthonormal modes of c
func (p *Projector) extrapolation(c, ref int) *mat.Dense {
	np := p.np
	E := mat.NewDense(np, np, nil)
	pts, wts := p.basis.Quadrature(c, 2*p.basis.Degree())
	phiC, phiR := make([]float64, np), make([]float64, np)
	psiC, psiR := mat.NewVecDense(np, nil), mat.NewVecDense(np, nil)
	for q, x := range pts {
		p.basis.Eval(c, x, phiC)
		p.basis.Eval(ref, x, phiR)
		psiC.MulVec(p.b0[c].T(), mat.NewVecDense(np, phiC))
		psiR.MulVec(p.b0[ref].T(), mat.NewVecDense(np, phiR))
		for m := 0; m < np; m++ {
			wm := wts[q] * psiC.AtVec(m)
			for n := 0; n < np; n++ {
				E.Set(m, n, E.At(m, n)+wm*psiR.AtVec(n))
			}
		}
	}
	return E
}

// Injector returns, per aggregate of level and per part (cell of level-1),
// the Np×Np matrix mapping aggregate coefficients to part coefficients,
// C_partᵀ·C_agg restricted to the rows of the part. Level 0 has no
// injector.
func (p *Projector) Injector(level int) ([][]*mat.Dense, error) {
	if err := p.checkLevel(level); err != nil {
		return nil, err
	}
	if level == 0 {
		return nil, fmt.Errorf("projector: level 0 has no injector: %w", utils.ErrPrecondition)
	}
	if p.injector[level] != nil {
		return p.injector[level], nil
	}
	cAgg, err := p.CompositeBasis(level)
	if err != nil {
		return nil, err
	}
	cPart, err := p.CompositeBasis(level - 1)
	if err != nil {
		return nil, err
	}
	agg, parent := p.seq[level], p.seq[level-1]
	np := p.np
	inj := make([][]*mat.Dense, agg.NumCells())
	for i, parts := range agg.AggregateToParts {
		inj[i] = make([]*mat.Dense, len(parts))
		row := 0
		for k, part := range parts {
			nrows := len(parent.BaseCells[part]) * np
			sub := cAgg[i].Slice(row, row+nrows, 0, np)
			var blk mat.Dense
			blk.Mul(cPart[part].T(), sub)
			inj[i][k] = &blk
			row += nrows
		}
	}
	p.injector[level] = inj
	return inj, nil
}

// RestrictFromFullGrid projects native coefficients of one field (Np per
// base cell) onto the orthonormal aggregate basis of level
func (p *Projector) RestrictFromFullGrid(level int, full []float64) ([]float64, error) {
	if err := p.checkLevel(level); err != nil {
		return nil, err
	}
	nb := p.basis.NumCells()
	if len(full) != nb*p.np {
		return nil, fmt.Errorf("projector: full vector has %d entries, want %d: %w",
			len(full), nb*p.np, utils.ErrDimensionMismatch)
	}
	cb, err := p.CompositeBasis(level)
	if err != nil {
		return nil, err
	}
	np := p.np
	agg := p.seq[level]
	out := make([]float64, agg.NumCells()*np)
	for i, cells := range agg.BaseCells {
		ortho := mat.NewVecDense(len(cells)*np, nil)
		for k, c := range cells {
			dst := ortho.SliceVec(k*np, (k+1)*np).(*mat.VecDense)
			dst.MulVec(p.b0inv[c], mat.NewVecDense(np, full[c*np:(c+1)*np]))
		}
		res := mat.NewVecDense(np, out[i*np:(i+1)*np])
		res.MulVec(cb[i].T(), ortho)
	}
	return out, nil
}

// ProlongateToFullGrid evaluates aggregate coefficients of level as native
// coefficients on every base cell
func (p *Projector) ProlongateToFullGrid(level int, aggVec []float64) ([]float64, error) {
	if err := p.checkLevel(level); err != nil {
		return nil, err
	}
	agg := p.seq[level]
	np := p.np
	if len(aggVec) != agg.NumCells()*np {
		return nil, fmt.Errorf("projector: level %d vector has %d entries, want %d: %w",
			level, len(aggVec), agg.NumCells()*np, utils.ErrDimensionMismatch)
	}
	cb, err := p.CompositeBasis(level)
	if err != nil {
		return nil, err
	}
	full := make([]float64, p.basis.NumCells()*np)
	for i, cells := range agg.BaseCells {
		var ortho mat.VecDense
		ortho.MulVec(cb[i], mat.NewVecDense(np, aggVec[i*np:(i+1)*np]))
		for k, c := range cells {
			dst := mat.NewVecDense(np, full[c*np:(c+1)*np])
			dst.MulVec(p.b0[c], ortho.SliceVec(k*np, (k+1)*np))
		}
	}
	return full, nil
}

// GetRestrictionMatrix returns the sparse operator taking native single
// field coefficients (Np per base cell) to the modes of total degree <=
// degree of the orthonormal aggregate basis of level
func (p *Projector) GetRestrictionMatrix(level, degree int) (*linalg.Matrix, error) {
	if err := p.checkLevel(level); err != nil {
		return nil, err
	}
	if degree < 0 || degree > p.basis.Degree() {
		return nil, fmt.Errorf("projector: degree %d outside [0,%d]: %w",
			degree, p.basis.Degree(), utils.ErrPrecondition)
	}
	cb, err := p.CompositeBasis(level)
	if err != nil {
		return nil, err
	}
	np, nd := p.np, p.NumModes(degree)
	agg := p.seq[level]
	b := linalg.NewBuilder(agg.NumCells()*nd, p.basis.NumCells()*np)
	for i, cells := range agg.BaseCells {
		for k, c := range cells {
			cblk := cb[i].Slice(k*np, (k+1)*np, 0, nd)
			var blk mat.Dense
			blk.Mul(cblk.T(), p.b0inv[c])
			b.AddBlock(i*nd, c*np, &blk, 1)
		}
	}
	return b.Build(), nil
}
