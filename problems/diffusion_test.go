package problems

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/grid"
	"github.com/notargets/DGSolver/utils"
)

// solveLinear solves the linear part of d against rhs with a dense LU
func solveLinear(t *testing.T, d *DiffusionReaction, rhs []float64) []float64 {
	t.Helper()
	var lu mat.LU
	lu.Factorize(d.Linear().Dense())
	x := mat.NewVecDense(len(rhs), nil)
	require.NoError(t, lu.SolveVecTo(x, false, mat.NewVecDense(len(rhs), append([]float64(nil), rhs...))))
	return x.RawVector().Data
}

func TestPolynomialSolutionsAreReproduced(t *testing.T) {
	g1, err := grid.NewCartesian([]float64{0, 0.2, 0.5, 0.6, 1})
	require.NoError(t, err)
	g2, err := grid.NewUniform([]int{3, 2}, []float64{0, 0}, []float64{1, 1})
	require.NoError(t, err)
	for _, tc := range []struct {
		name  string
		g     *grid.Cartesian
		bc    BoundaryKind
		sigma float64
		exact Function
		f     Function
		flux  Function // ν∇u·n on the unit box
	}{
		{
			name: "1D dirichlet", g: g1, bc: Dirichlet,
			exact: func(x []float64) float64 { return x[0]*x[0] + 1 },
			f:     func([]float64) float64 { return -2 },
		},
		{
			name: "1D neumann", g: g1, bc: Neumann, sigma: 1,
			exact: func(x []float64) float64 { return x[0] * x[0] },
			f:     func(x []float64) float64 { return -2 + x[0]*x[0] },
			flux: func(x []float64) float64 {
				if x[0] > 0.5 {
					return 2
				}
				return 0
			},
		},
		{
			name: "2D harmonic dirichlet", g: g2, bc: Dirichlet,
			exact: func(x []float64) float64 { return x[0]*x[0] + x[0]*x[1] - x[1]*x[1] },
			f:     func([]float64) float64 { return 0 },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewDiffusionReaction(tc.g, 2, 1, tc.sigma, 0, 0, tc.bc)
			require.NoError(t, err)
			bdata := tc.exact
			if tc.bc == Neumann {
				bdata = tc.flux
			}
			x := solveLinear(t, d, d.Load(tc.f, bdata))
			assert.Less(t, d.L2Error(x, tc.exact), 1e-9)
			proj := d.Project(tc.exact)
			for i := range x {
				assert.InDelta(t, proj[i], x[i], 1e-9)
			}
		})
	}
}

func TestManufacturedConvergence(t *testing.T) {
	for _, tc := range []struct {
		solution string
		bc       BoundaryKind
	}{
		{"sine", Dirichlet},
		{"sine", Neumann},
		{"cosine", Dirichlet},
	} {
		t.Run(tc.solution+" "+string(tc.bc), func(t *testing.T) {
			var errs []float64
			for _, n := range []int{4, 8} {
				cfg := Config{Cells: []int{n}, Degree: 2, Nu: 1, Sigma: 1, Boundary: tc.bc, Solution: tc.solution}
				d, m, err := cfg.Build()
				require.NoError(t, err)
				x := solveLinear(t, d, d.Load(m.Source, m.Boundary))
				errs = append(errs, d.L2Error(x, m.Exact))
			}
			// Third order in L2, allow some pre-asymptotic slack
			assert.Greater(t, errs[0]/errs[1], 5.0, "errors %v", errs)
			assert.Less(t, errs[1], 1e-2)
		})
	}
}

func TestJacobianMatchesFiniteDifferences(t *testing.T) {
	g, err := grid.NewUniform([]int{3, 2}, []float64{0, 0}, []float64{1, 1})
	require.NoError(t, err)
	d, err := NewDiffusionReaction(g, 2, 0.5, 0.3, 2, 0, Dirichlet)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(4))
	n := d.Size()
	x := make([]float64, n)
	w := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
		w[i] = rng.NormFloat64()
	}
	jac, err := d.Linearize(x)
	require.NoError(t, err)
	jw := make([]float64, n)
	require.NoError(t, jac.MulVec(jw, w))

	const h = 1e-6
	xp, xm := make([]float64, n), make([]float64, n)
	for i := range x {
		xp[i] = x[i] + h*w[i]
		xm[i] = x[i] - h*w[i]
	}
	fp, fm := make([]float64, n), make([]float64, n)
	require.NoError(t, d.Evaluate(1, xp, fp))
	require.NoError(t, d.Evaluate(1, xm, fm))
	for i := range jw {
		fd := (fp[i] - fm[i]) / (2 * h)
		assert.InDelta(t, fd, jw[i], 1e-5*math.Max(1, math.Abs(fd)))
	}

	out := make([]float64, n)
	require.NoError(t, d.Evaluate(2, x, out))
	ref := make([]float64, n)
	require.NoError(t, d.Evaluate(1, x, ref))
	for i := range out {
		assert.InDelta(t, 2*ref[i], out[i], 1e-12*math.Max(1, math.Abs(ref[i])))
	}
}

func TestLinearOperatorIsSymmetric(t *testing.T) {
	g, err := grid.NewCartesian([]float64{0, 0.3, 1}, []float64{0, 0.5, 0.75, 1})
	require.NoError(t, err)
	for _, bc := range []BoundaryKind{Dirichlet, Neumann} {
		d, err := NewDiffusionReaction(g, 2, 1, 0, 0, 0, bc)
		require.NoError(t, err)
		a := d.Linear().Dense()
		n, _ := a.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < i; j++ {
				assert.InDelta(t, a.At(i, j), a.At(j, i), 1e-10)
			}
		}
	}
}

func TestNeumannNullSpace(t *testing.T) {
	// Constants are in the kernel of the pure Neumann Laplacian
	g, err := grid.NewUniform([]int{4, 3}, []float64{0, 0}, []float64{1, 1})
	require.NoError(t, err)
	d, err := NewDiffusionReaction(g, 1, 1, 0, 0, 0, Neumann)
	require.NoError(t, err)
	one := d.Project(func([]float64) float64 { return 1 })
	out := make([]float64, d.Size())
	require.NoError(t, d.Linear().MulVec(out, one))
	for _, v := range out {
		assert.InDelta(t, 0, v, 1e-12)
	}
}

func TestPreconditions(t *testing.T) {
	g, err := grid.NewUniform([]int{2}, []float64{0}, []float64{1})
	require.NoError(t, err)
	_, err = NewDiffusionReaction(g, 1, 0, 0, 0, 0, Dirichlet)
	assert.ErrorIs(t, err, utils.ErrPrecondition)
	_, err = NewDiffusionReaction(g, 1, 1, 0, 0, 0, "robin")
	assert.ErrorIs(t, err, utils.ErrPrecondition)

	d, err := NewDiffusionReaction(g, 1, 1, 0, 0, 0, Dirichlet)
	require.NoError(t, err)
	assert.ErrorIs(t, d.Evaluate(1, []float64{1}, []float64{1}), utils.ErrDimensionMismatch)
	_, err = d.Linearize(nil)
	assert.ErrorIs(t, err, utils.ErrDimensionMismatch)
	_, err = d.Manufactured("gaussian")
	assert.ErrorIs(t, err, utils.ErrPrecondition)

	_, _, err = Config{Degree: 1, Nu: 1, Boundary: Dirichlet, Solution: "sine"}.Build()
	assert.ErrorIs(t, err, utils.ErrPrecondition)
}
