package linalg

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/utils"
)

// Matrix is an immutable process-local sparse matrix shard stored in CSR
// form. Rows and columns are local indices; the global position of the
// shard is carried by the owning Mapping.
type Matrix struct {
	csr        *sparse.CSR
	rows, cols int
}

// NewMatrix wraps an existing CSR matrix
func NewMatrix(csr *sparse.CSR) *Matrix {
	r, c := csr.Dims()
	return &Matrix{csr: csr, rows: r, cols: c}
}

// Zeros returns an r x c matrix without nonzeros
func Zeros(r, c int) *Matrix {
	return NewBuilder(r, c).Build()
}

// Identity returns the n x n identity
func Identity(n int) *Matrix {
	b := NewBuilder(n, n)
	for i := 0; i < n; i++ {
		b.Set(i, i, 1)
	}
	return b.Build()
}

func (m *Matrix) Dims() (r, c int) { return m.rows, m.cols }
func (m *Matrix) At(i, j int) float64 {
	if m.rows == 0 || m.cols == 0 {
		panic(mat.ErrIndexOutOfRange)
	}
	return m.csr.At(i, j)
}
func (m *Matrix) NNZ() int {
	if m.rows == 0 || m.cols == 0 {
		return 0
	}
	return m.csr.NNZ()
}

// CSR exposes the underlying storage for products with other sparse types
func (m *Matrix) CSR() *sparse.CSR { return m.csr }

// DoNonZero calls fn for every stored entry, row by row
func (m *Matrix) DoNonZero(fn func(i, j int, v float64)) {
	if m.rows == 0 || m.cols == 0 {
		return
	}
	m.csr.DoNonZero(fn)
}

// MulVec computes dst = m * x
func (m *Matrix) MulVec(dst, x []float64) error {
	if len(x) != m.cols || len(dst) != m.rows {
		return fmt.Errorf("matrix %dx%d times vector %d into %d: %w",
			m.rows, m.cols, len(x), len(dst), utils.ErrDimensionMismatch)
	}
	return m.mulVec(dst, false, x)
}

// MulVecTrans computes dst = mᵀ * x
func (m *Matrix) MulVecTrans(dst, x []float64) error {
	if len(x) != m.rows || len(dst) != m.cols {
		return fmt.Errorf("transposed matrix %dx%d times vector %d into %d: %w",
			m.cols, m.rows, len(x), len(dst), utils.ErrDimensionMismatch)
	}
	return m.mulVec(dst, true, x)
}

// mulVec overwrites dst; the CSR kernel accumulates
func (m *Matrix) mulVec(dst []float64, trans bool, x []float64) error {
	for i := range dst {
		dst[i] = 0
	}
	if m.rows == 0 || m.cols == 0 {
		return nil
	}
	m.csr.MulVecTo(dst, trans, x)
	return nil
}

// Transpose returns mᵀ as a new CSR matrix
func (m *Matrix) Transpose() *Matrix {
	if m.rows == 0 || m.cols == 0 {
		return Zeros(m.cols, m.rows)
	}
	return &Matrix{csr: m.csr.T().(*sparse.CSC).ToCSR(), rows: m.cols, cols: m.rows}
}

// Mul returns the product a * b
func Mul(a, b *Matrix) (*Matrix, error) {
	if a.cols != b.rows {
		return nil, fmt.Errorf("product of %dx%d and %dx%d: %w",
			a.rows, a.cols, b.rows, b.cols, utils.ErrDimensionMismatch)
	}
	if a.NNZ() == 0 || b.NNZ() == 0 {
		return Zeros(a.rows, b.cols), nil
	}
	var c sparse.CSR
	c.Mul(a.csr, b.csr)
	return &Matrix{csr: &c, rows: a.rows, cols: b.cols}, nil
}

// Triple returns the Galerkin product r * a * p
func Triple(r, a, p *Matrix) (*Matrix, error) {
	ap, err := Mul(a, p)
	if err != nil {
		return nil, err
	}
	return Mul(r, ap)
}

// Builder returns an editable copy of m
func (m *Matrix) Builder() *Builder {
	b := NewBuilder(m.rows, m.cols)
	m.DoNonZero(func(i, j int, v float64) {
		b.Set(i, j, v)
	})
	return b
}

// Dense expands m into a dense matrix
func (m *Matrix) Dense() *mat.Dense {
	if m.rows == 0 || m.cols == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(m.rows, m.cols, nil)
	m.DoNonZero(func(i, j int, v float64) {
		d.Set(i, j, v)
	})
	return d
}

// DiagonalBlocks extracts the square blocks [offsets[k], offsets[k+1]) on
// the diagonal in one sweep over the nonzeros
func (m *Matrix) DiagonalBlocks(offsets []int) []*mat.Dense {
	nb := len(offsets) - 1
	blocks := make([]*mat.Dense, nb)
	owner := make([]int, m.rows)
	for k := 0; k < nb; k++ {
		n := offsets[k+1] - offsets[k]
		if n > 0 {
			blocks[k] = mat.NewDense(n, n, nil)
		}
		for i := offsets[k]; i < offsets[k+1]; i++ {
			owner[i] = k
		}
	}
	m.DoNonZero(func(i, j int, v float64) {
		k := owner[i]
		if j >= offsets[k] && j < offsets[k+1] {
			blocks[k].Set(i-offsets[k], j-offsets[k], v)
		}
	})
	return blocks
}

// ZeroRows reports, per row, whether every stored entry is exactly zero
func (m *Matrix) ZeroRows() []bool {
	zero := make([]bool, m.rows)
	for i := range zero {
		zero[i] = true
	}
	m.DoNonZero(func(i, j int, v float64) {
		if v != 0 {
			zero[i] = false
		}
	})
	return zero
}

// Builder accumulates entries in dictionary-of-keys form
type Builder struct {
	dok        *sparse.DOK
	rows, cols int
}

// NewBuilder creates an empty r x c builder
func NewBuilder(r, c int) *Builder {
	b := &Builder{rows: r, cols: c}
	if r > 0 && c > 0 {
		b.dok = sparse.NewDOK(r, c)
	}
	return b
}

func (b *Builder) Dims() (r, c int) { return b.rows, b.cols }

func (b *Builder) At(i, j int) float64 { return b.dok.At(i, j) }

func (b *Builder) Set(i, j int, v float64) { b.dok.Set(i, j, v) }

func (b *Builder) Add(i, j int, v float64) {
	if v == 0 {
		return
	}
	b.dok.Set(i, j, b.dok.At(i, j)+v)
}

// AddBlock adds scale*blk with its top-left corner at (r0, c0)
func (b *Builder) AddBlock(r0, c0 int, blk mat.Matrix, scale float64) {
	r, c := blk.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := blk.At(i, j); v != 0 {
				b.Add(r0+i, c0+j, scale*v)
			}
		}
	}
}

// SetBlock overwrites the entries of blk with its top-left corner at (r0, c0)
func (b *Builder) SetBlock(r0, c0 int, blk mat.Matrix) {
	r, c := blk.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := blk.At(i, j); v != 0 || b.dok.At(r0+i, c0+j) != 0 {
				b.dok.Set(r0+i, c0+j, v)
			}
		}
	}
}

// Build compresses the builder into an immutable Matrix
func (b *Builder) Build() *Matrix {
	if b.dok == nil {
		return &Matrix{csr: &sparse.CSR{}, rows: b.rows, cols: b.cols}
	}
	return &Matrix{csr: b.dok.ToCSR(), rows: b.rows, cols: b.cols}
}
