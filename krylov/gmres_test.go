package krylov

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// spd5 is a diagonally dominant symmetric tridiagonal 5x5 matrix
func spd5() *linalg.Matrix {
	b := linalg.NewBuilder(5, 5)
	for i := 0; i < 5; i++ {
		b.Set(i, i, 4+float64(i))
		if i > 0 {
			b.Set(i, i-1, -1)
			b.Set(i-1, i, -1)
		}
	}
	return b.Build()
}

func TestGMRESFiniteTermination(t *testing.T) {
	a := spd5()
	want := []float64{1, -2, 3, -4, 5}
	rhs := make([]float64, 5)
	require.NoError(t, a.MulVec(rhs, want))

	x := make([]float64, 5)
	res, err := GMRES(MatrixOperator(a), rhs, x, Settings{Tol: 1e-14, MaxKrylovDim: 5})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.LessOrEqual(t, res.Iterations, 5)
	for i := range want {
		assert.InDelta(t, want[i], x[i], 1e-12)
	}
	// residual estimates are monotone
	for k := 1; k < len(res.History); k++ {
		assert.LessOrEqual(t, res.History[k], res.History[k-1]*(1+1e-12))
	}
}

func TestGMRESRightPreconditioned(t *testing.T) {
	a := spd5()
	rhs := []float64{1, 1, 1, 1, 1}
	jacobi := func(dst, src []float64) error {
		for i := range src {
			dst[i] = src[i] / a.At(i, i)
		}
		return nil
	}
	x := make([]float64, 5)
	res, err := GMRES(MatrixOperator(a), rhs, x, Settings{
		Tol: 1e-12, MaxKrylovDim: 2, RestartLimit: 20, Precond: jacobi,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Greater(t, res.Restarts, 0)

	ax := make([]float64, 5)
	require.NoError(t, a.MulVec(ax, x))
	for i := range rhs {
		assert.InDelta(t, rhs[i], ax[i], 1e-10)
	}
}

func TestGMRESReportsNonConvergence(t *testing.T) {
	a := spd5()
	x := make([]float64, 5)
	res, err := GMRES(MatrixOperator(a), []float64{1, 0, 0, 0, 1}, x, Settings{
		Tol: 1e-15, MaxKrylovDim: 1, RestartLimit: 0,
	})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
}

func TestGMRESHappyBreakdown(t *testing.T) {
	// b is an eigenvector, the Krylov space is one dimensional
	id := linalg.Identity(4)
	x := make([]float64, 4)
	res, err := GMRES(MatrixOperator(id), []float64{0, 2, 0, 0}, x, Settings{Tol: 1e-12, MaxKrylovDim: 4})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.InDelta(t, 2.0, x[1], 1e-15)
}

func TestGMRESNaNIsFatal(t *testing.T) {
	bad := func(dst, src []float64) error {
		for i := range dst {
			dst[i] = src[i]
		}
		dst[0] = math.NaN()
		return nil
	}
	x := make([]float64, 3)
	_, err := GMRES(bad, []float64{1, 1, 1}, x, Settings{Tol: 1e-10, MaxKrylovDim: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrNotFinite))
}

func TestGMRESDistributed(t *testing.T) {
	// diagonal system split over two ranks
	diag := []float64{2, 3, 4, 5}
	group := utils.NewGroup(2)
	var eg errgroup.Group
	sols := make([][]float64, 2)
	for rank := 0; rank < 2; rank++ {
		rank := rank
		eg.Go(func() error {
			local := diag[2*rank : 2*rank+2]
			op := func(dst, src []float64) error {
				for i := range src {
					dst[i] = local[i] * src[i]
				}
				return nil
			}
			x := make([]float64, 2)
			_, err := GMRES(op, []float64{1, 1}, x, Settings{
				Tol: 1e-13, MaxKrylovDim: 4, Comm: group.Comm(rank),
			})
			sols[rank] = x
			return err
		})
	}
	require.NoError(t, eg.Wait())
	all := append(sols[0], sols[1]...)
	for i, d := range diag {
		assert.InDelta(t, 1/d, all[i], 1e-12)
	}
}
