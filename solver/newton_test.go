package solver

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/DGSolver/krylov"
	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// square is F(x) = x² - 2 applied entrywise
var square = OperatorFunc(func(scale float64, x, out []float64) error {
	for i, v := range x {
		out[i] = scale * (v*v - 2)
	}
	return nil
})

// circle is F(x,y) = [x² + y² - 4, x - y] with root (√2, √2)
var circle = OperatorFunc(func(scale float64, x, out []float64) error {
	out[0] = scale * (x[0]*x[0] + x[1]*x[1] - 4)
	out[1] = scale * (x[0] - x[1])
	return nil
})

var circleJacobian = LinearizerFunc(func(x []float64) (*linalg.Matrix, error) {
	b := linalg.NewBuilder(2, 2)
	b.Set(0, 0, 2*x[0])
	b.Set(0, 1, 2*x[1])
	b.Set(1, 0, 1)
	b.Set(1, 1, -1)
	return b.Build(), nil
})

func TestNewtonGMRESLineSearchScalar(t *testing.T) {
	s, err := New(square, DefaultConfig())
	require.NoError(t, err)
	res, err := s.SolverDriver([]float64{3}, []float64{0})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.LessOrEqual(t, res.Iterations, 10)
	assert.InDelta(t, math.Sqrt2, res.X[0], 1e-6)
	for k := 1; k < len(res.History); k++ {
		assert.Less(t, res.History[k], res.History[k-1], "residual must decrease at iteration %d", k)
	}
	assert.Equal(t, res.Iterations+1, len(res.History))
	assert.Positive(t, res.LinearIterations)
	assert.Zero(t, res.Relinearizations)
}

func TestNewtonRightHandSide(t *testing.T) {
	// x² - 2 = 7 has the root 3
	s, err := New(square, DefaultConfig())
	require.NoError(t, err)
	res, err := s.SolverDriver([]float64{1}, []float64{7})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, 3, res.X[0], 1e-6)
}

func TestNewtonDogleg(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Step = StepExternal
	cfg.Globalization = Dogleg
	cfg.Dogleg.InitialRadius = 0.5
	opts := []Option{WithLinearizer(circleJacobian), WithLinearSolver(DirectSolver{})}

	s, err := New(circle, cfg, opts...)
	require.NoError(t, err)
	res, err := s.SolverDriver([]float64{3, 1}, []float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, math.Sqrt2, res.X[0], 1e-6)
	assert.InDelta(t, math.Sqrt2, res.X[1], 1e-6)
	assert.Equal(t, res.Iterations, res.Relinearizations)

	// The first step is confined to the initial radius
	cfg.MaxIter = 1
	s, err = New(circle, cfg, opts...)
	require.NoError(t, err)
	res, err = s.SolverDriver([]float64{3, 1}, []float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, MaxIterReached, res.Status)
	step := math.Hypot(res.X[0]-3, res.X[1]-1)
	assert.LessOrEqual(t, step, 0.5+1e-12)
	assert.Less(t, res.ResidualNorm, res.InitialNorm)
}

func TestNewtonDoglegMatrixFreeStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Globalization = Dogleg
	s, err := New(circle, cfg, WithLinearizer(circleJacobian))
	require.NoError(t, err)
	res, err := s.SolverDriver([]float64{3, 1}, []float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, math.Sqrt2, res.X[0], 1e-6)
}

func TestNewtonPreconditions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Globalization = Dogleg
	_, err := New(circle, cfg)
	assert.ErrorIs(t, err, utils.ErrPrecondition)

	cfg = DefaultConfig()
	cfg.Step = StepExternal
	_, err = New(circle, cfg, WithLinearizer(circleJacobian))
	assert.ErrorIs(t, err, utils.ErrPrecondition)

	cfg = DefaultConfig()
	cfg.NormalizeMean = true
	_, err = New(circle, cfg)
	assert.ErrorIs(t, err, utils.ErrPrecondition)

	_, err = New(nil, DefaultConfig())
	assert.ErrorIs(t, err, utils.ErrPrecondition)

	s, err := New(circle, DefaultConfig())
	require.NoError(t, err)
	_, err = s.SolverDriver([]float64{1, 2}, []float64{0})
	assert.ErrorIs(t, err, utils.ErrDimensionMismatch)
}

func TestNewtonAssembledJacobianPathsAreSingleRank(t *testing.T) {
	// New issues no collectives, so one rank of a group is enough
	comm := utils.NewGroup(2).Comm(0)
	identity := func(jac *linalg.Matrix) (krylov.Operator, error) {
		return func(dst, src []float64) error { copy(dst, src); return nil }, nil
	}

	external := DefaultConfig()
	external.Step = StepExternal
	_, err := New(circle, external, WithComm(comm),
		WithLinearizer(circleJacobian), WithLinearSolver(KrylovSolver{MaxKrylovDim: 10, RestartLimit: 2}))
	assert.ErrorIs(t, err, utils.ErrPrecondition)
	_, err = New(circle, external, WithComm(comm),
		WithLinearizer(circleJacobian), WithLinearSolver(DirectSolver{}))
	assert.ErrorIs(t, err, utils.ErrPrecondition)

	dogleg := DefaultConfig()
	dogleg.Globalization = Dogleg
	_, err = New(circle, dogleg, WithComm(comm), WithLinearizer(circleJacobian))
	assert.ErrorIs(t, err, utils.ErrPrecondition)

	// The matrix free step only uses the local Jacobian to precondition
	_, err = New(circle, DefaultConfig(), WithComm(comm),
		WithLinearizer(circleJacobian), WithPreconditioner(identity))
	assert.NoError(t, err)

	// The same assembled paths are fine on one rank
	_, err = New(circle, dogleg, WithLinearizer(circleJacobian))
	assert.NoError(t, err)
}

func TestNewtonNonFiniteIsFatal(t *testing.T) {
	logOp := OperatorFunc(func(scale float64, x, out []float64) error {
		out[0] = scale * math.Log(x[0])
		return nil
	})
	logJacobian := LinearizerFunc(func(x []float64) (*linalg.Matrix, error) {
		b := linalg.NewBuilder(1, 1)
		b.Set(0, 0, 1/x[0])
		return b.Build(), nil
	})
	// Finite only at x = 3, so any perturbed evaluation fails
	pointOp := OperatorFunc(func(scale float64, x, out []float64) error {
		out[0] = math.NaN()
		if x[0] == 3 {
			out[0] = scale * (x[0] - 1)
		}
		return nil
	})
	dogleg := DefaultConfig()
	dogleg.Step = StepExternal
	dogleg.Globalization = Dogleg
	dogleg.Dogleg.InitialRadius = 10

	for _, tc := range []struct {
		name  string
		op    Operator
		cfg   Config
		opts  []Option
		x0    float64
		stage string
	}{
		{"initial residual", logOp, DefaultConfig(), nil, -1, "initial residual"},
		{"directional derivative", pointOp, DefaultConfig(), nil, 3, "directional derivative"},
		// The full Newton step from 3 lands at 3 - 3·ln 3 < 0
		{"line search", logOp, DefaultConfig(), nil, 3, "line search residual"},
		{"trust region", logOp, dogleg,
			[]Option{WithLinearizer(logJacobian), WithLinearSolver(DirectSolver{})}, 3, "trust region residual"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(tc.op, tc.cfg, tc.opts...)
			require.NoError(t, err)
			_, err = s.SolverDriver([]float64{tc.x0}, []float64{0})
			require.Error(t, err)
			var ae *ArithmeticError
			require.True(t, errors.As(err, &ae), "got %v", err)
			assert.Equal(t, tc.stage, ae.Stage)
			assert.Equal(t, 0, ae.Iteration)
			assert.ErrorIs(t, err, utils.ErrNotFinite)
		})
	}
}

func TestNewtonMaxIterReached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tolerance = 0
	cfg.MaxIter = 2
	s, err := New(square, cfg)
	require.NoError(t, err)
	res, err := s.SolverDriver([]float64{3}, []float64{0})
	require.NoError(t, err)
	assert.Equal(t, MaxIterReached, res.Status)
	assert.Equal(t, 2, res.Iterations)
	assert.Len(t, res.History, 3)
	assert.Equal(t, res.History[2], res.ResidualNorm)
}

func TestNewtonLineSearchFailure(t *testing.T) {
	// A Jacobian of the wrong sign makes every step an ascent direction
	uphill := LinearizerFunc(func(x []float64) (*linalg.Matrix, error) {
		b := linalg.NewBuilder(1, 1)
		b.Set(0, 0, -2*x[0])
		return b.Build(), nil
	})
	cfg := DefaultConfig()
	cfg.Step = StepExternal
	cfg.LineSearch.MaxStep = 5
	s, err := New(square, cfg, WithLinearizer(uphill), WithLinearSolver(DirectSolver{}))
	require.NoError(t, err)
	res, err := s.SolverDriver([]float64{3}, []float64{0})
	require.NoError(t, err)
	assert.Equal(t, LineSearchFailed, res.Status)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, []float64{3}, res.X)
	assert.Equal(t, "line_search_failed", res.Status.String())
}

func TestNewtonExternalDirect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Step = StepExternal
	cfg.ConstantNewtonIt = 2
	s, err := New(circle, cfg, WithLinearizer(circleJacobian), WithLinearSolver(DirectSolver{}))
	require.NoError(t, err)
	res, err := s.SolverDriver([]float64{2, 1}, []float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, math.Sqrt2, res.X[1], 1e-6)
	// Re-linearised at start and every second iteration
	assert.Equal(t, 1+(res.Iterations-1)/2, res.Relinearizations)
}

func TestNewtonMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s, err := New(square, DefaultConfig(), WithMetrics(m))
	require.NoError(t, err)
	res, err := s.SolverDriver([]float64{3}, []float64{0})
	require.NoError(t, err)

	assert.Equal(t, float64(res.Iterations), testutil.ToFloat64(m.NewtonIterations))
	assert.Equal(t, float64(res.Evaluations), testutil.ToFloat64(m.Evaluations))
	assert.Equal(t, float64(res.LinearIterations), testutil.ToFloat64(m.KrylovIterations))
	assert.Equal(t, res.ResidualNorm, testutil.ToFloat64(m.ResidualNorm))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Solves.WithLabelValues("converged")))
}

func TestNewtonDistributed(t *testing.T) {
	// Rank r owns x_r with x_r² = r + 2
	const ranks = 2
	group := utils.NewGroup(ranks)
	roots := make([]float64, ranks)
	var eg errgroup.Group
	for r := 0; r < ranks; r++ {
		eg.Go(func() error {
			s, err := New(square, DefaultConfig(), WithComm(group.Comm(r)))
			if err != nil {
				return err
			}
			res, err := s.SolverDriver([]float64{3}, []float64{float64(r)})
			if err != nil {
				return err
			}
			if res.Status != Converged {
				return errors.New(res.Status.String())
			}
			roots[r] = res.X[0]
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.InDelta(t, math.Sqrt(2), roots[0], 1e-6)
	assert.InDelta(t, math.Sqrt(3), roots[1], 1e-6)
}

func TestParab3pSafeguards(t *testing.T) {
	// Non convex model falls back to halving
	assert.Equal(t, 0.25, parab3p(0.5, 1, 1, 2, 3))
	for _, tc := range [][5]float64{
		{0.5, 1, 10, 9.9, 12},
		{0.5, 1, 10, 2, 50},
		{0.1, 0.5, 4, 3, 3.5},
	} {
		l := parab3p(tc[0], tc[1], tc[2], tc[3], tc[4])
		assert.GreaterOrEqual(t, l, sigma0*tc[0])
		assert.LessOrEqual(t, l, sigma1*tc[0])
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig(strings.NewReader(`
tolerance: 1e-10
globalization: dogleg
step: external
gmres:
  max_krylov_dim: 50
dogleg:
  initial_radius: 0.5
`))
	require.NoError(t, err)
	assert.Equal(t, 1e-10, cfg.Tolerance)
	assert.Equal(t, Dogleg, cfg.Globalization)
	assert.Equal(t, StepExternal, cfg.Step)
	assert.Equal(t, 50, cfg.GMRES.MaxKrylovDim)
	assert.Equal(t, 10, cfg.GMRES.RestartLimit)
	assert.Equal(t, 0.5, cfg.Dogleg.InitialRadius)

	_, err = LoadConfig(strings.NewReader("tolerence: 1e-3\n"))
	assert.Error(t, err)

	_, err = LoadConfig(strings.NewReader("globalization: bisection\nmax_iter: 0\n"))
	assert.ErrorIs(t, err, utils.ErrPrecondition)
}
