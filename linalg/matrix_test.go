package linalg

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/utils"
)

func testMatrix() *Matrix {
	b := NewBuilder(3, 3)
	b.Set(0, 0, 4)
	b.Set(0, 1, -1)
	b.Set(1, 0, -1)
	b.Set(1, 1, 4)
	b.Set(1, 2, -1)
	b.Set(2, 1, -1)
	b.Set(2, 2, 4)
	return b.Build()
}

func TestMatrixMulVec(t *testing.T) {
	a := testMatrix()
	y := make([]float64, 3)
	require.NoError(t, a.MulVec(y, []float64{1, 2, 3}))
	assert.Equal(t, []float64{2, 4, 10}, y)

	require.NoError(t, a.MulVecTrans(y, []float64{1, 0, 0}))
	assert.Equal(t, []float64{4, -1, 0}, y)

	err := a.MulVec(y, []float64{1, 2})
	assert.True(t, errors.Is(err, utils.ErrDimensionMismatch))
}

func TestRectangularProductsAndTranspose(t *testing.T) {
	b := NewBuilder(2, 3)
	b.Set(0, 0, 1)
	b.Set(0, 2, 2)
	b.Set(1, 1, -3)
	a := b.Build()

	y := []float64{7, 7}
	require.NoError(t, a.MulVec(y, []float64{1, 1, 1}))
	assert.Equal(t, []float64{3, -3}, y)

	z := []float64{9, 9, 9}
	require.NoError(t, a.MulVecTrans(z, []float64{1, 2}))
	assert.Equal(t, []float64{1, -6, 2}, z)

	at := a.Transpose()
	r, c := at.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.True(t, mat.Equal(a.Dense().T(), at.Dense()))
	require.NoError(t, at.MulVec(z, []float64{1, 2}))
	assert.Equal(t, []float64{1, -6, 2}, z)

	assert.True(t, errors.Is(a.MulVecTrans(y, []float64{1, 2}), utils.ErrDimensionMismatch))

	empty := Zeros(0, 2)
	er, ec := empty.Transpose().Dims()
	assert.Equal(t, 2, er)
	assert.Equal(t, 0, ec)
	w := []float64{5, 5}
	require.NoError(t, empty.MulVecTrans(w, nil))
	assert.Equal(t, []float64{0, 0}, w)
}

func TestTripleProduct(t *testing.T) {
	a := testMatrix()
	pb := NewBuilder(3, 2)
	pb.Set(0, 0, 1)
	pb.Set(1, 0, 1)
	pb.Set(2, 1, 1)
	p := pb.Build()

	c, err := Triple(p.Transpose(), a, p)
	require.NoError(t, err)
	r, cc := c.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 2, cc)

	var want mat.Dense
	want.Product(p.Dense().T(), a.Dense(), p.Dense())
	assert.True(t, mat.EqualApprox(&want, c.Dense(), 1e-14))

	_, err = Mul(a, p.Transpose())
	assert.Error(t, err)
}

func TestDiagonalBlocks(t *testing.T) {
	blocks := testMatrix().DiagonalBlocks([]int{0, 2, 3})
	require.Len(t, blocks, 2)
	assert.True(t, mat.Equal(blocks[0], mat.NewDense(2, 2, []float64{4, -1, -1, 4})))
	assert.True(t, mat.Equal(blocks[1], mat.NewDense(1, 1, []float64{4})))
}

func TestBuilderEdits(t *testing.T) {
	b := testMatrix().Builder()
	b.Add(0, 2, 2)
	b.AddBlock(1, 1, IdentityDense(2), 0.5)
	m := b.Build()
	assert.Equal(t, 2.0, m.At(0, 2))
	assert.Equal(t, 4.5, m.At(1, 1))
	assert.Equal(t, 4.5, m.At(2, 2))
	assert.Equal(t, -1.0, m.At(2, 1))

	z := Zeros(2, 2)
	assert.Equal(t, 0, z.NNZ())
	assert.Equal(t, []bool{true, true}, z.ZeroRows())
}

func TestEquilibrationTransformSPD(t *testing.T) {
	s := mat.NewSymDense(2, []float64{4, 1, 1, 3})
	right, rightInv, kept := EquilibrationTransform(s, 1e-12)
	require.Equal(t, 2, kept)

	var e mat.Dense
	e.Product(right.T(), s, right)
	assert.True(t, mat.EqualApprox(&e, IdentityDense(2), 1e-13))
	e.Mul(right, rightInv)
	assert.True(t, mat.EqualApprox(&e, IdentityDense(2), 1e-13))
}

func TestEquilibrationTransformIndefinite(t *testing.T) {
	// eigenvalues 3, -1 and a null mode
	s := mat.NewSymDense(3, []float64{
		1, 2, 0,
		2, 1, 0,
		0, 0, 0,
	})
	right, _, kept := EquilibrationTransform(s, 1e-12)
	assert.Equal(t, 2, kept)

	var e mat.Dense
	e.Product(right.T(), s, right)
	var absTrace float64
	for i := 0; i < 3; i++ {
		absTrace += math.Abs(e.At(i, i))
	}
	assert.InDelta(t, 2.0, absTrace, 1e-12)
}

func TestOrthonormalize(t *testing.T) {
	c := mat.NewDense(3, 2, []float64{1, 1, 0, 1, 1, 0})
	assert.Greater(t, OrthonormalityDefect(c), 0.1)
	q := Orthonormalize(c)
	assert.Less(t, OrthonormalityDefect(q), 1e-14)
}

func TestBlockSolver(t *testing.T) {
	bs := NewBlockSolver(mat.NewDense(2, 2, []float64{2, 1, 1, 3}))
	require.False(t, bs.Singular())
	x := make([]float64, 2)
	require.NoError(t, bs.Solve(x, []float64{3, 4}))
	assert.InDelta(t, 1.0, x[0], 1e-14)
	assert.InDelta(t, 1.0, x[1], 1e-14)

	sing := NewBlockSolver(mat.NewDense(2, 2, []float64{1, 1, 1, 1}))
	assert.True(t, sing.Singular())
	require.NoError(t, sing.Solve(x, []float64{5, 6}))
	assert.Equal(t, []float64{5, 6}, x)

	// Ill-conditioned but below the singular cutoff
	ill := NewBlockSolver(mat.NewDense(2, 2, []float64{1, 1, 1, 1 + 1e-10}))
	require.False(t, ill.Singular())
	require.NoError(t, ill.Solve(x, []float64{2, 2 + 1e-10}))
	assert.InDelta(t, 1.0, x[0], 1e-4)
	assert.InDelta(t, 1.0, x[1], 1e-4)
}

func TestDistributedNorm(t *testing.T) {
	assert.InDelta(t, 5.0, Norm(utils.Serial{}, []float64{3, 4}), 1e-15)
}
