package solver

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// Solver is the globalised Newton-Krylov driver. A Solver is used by one
// goroutine per rank; every rank must call SolverDriver with its own shard.
type Solver struct {
	op         Operator
	cfg        Config
	linearizer Linearizer
	factory    PreconditionerFactory
	linear     LinearSolver
	normalizer Normalizer
	comm       utils.Comm
	log        *slog.Logger
	metrics    *Metrics

	rhs     []float64
	evals   int
	linIter int
	relins  int
}

// Option configures optional collaborators of a Solver
type Option func(*Solver)

// WithLinearizer supplies the Jacobian assembly callback, required by the
// external step, the dogleg and any preconditioner
func WithLinearizer(l Linearizer) Option { return func(s *Solver) { s.linearizer = l } }

// WithPreconditioner rebuilds a preconditioner at every re-linearisation
func WithPreconditioner(f PreconditionerFactory) Option { return func(s *Solver) { s.factory = f } }

// WithLinearSolver sets the solver used by the external step
func WithLinearSolver(ls LinearSolver) Option { return func(s *Solver) { s.linear = ls } }

// WithNormalizer sets the gauge fix applied when Config.NormalizeMean is set
func WithNormalizer(n Normalizer) Option { return func(s *Solver) { s.normalizer = n } }

// WithComm sets the reduction capability, the default is utils.Serial
func WithComm(c utils.Comm) Option { return func(s *Solver) { s.comm = c } }

// WithLogger sets the structured logger, the default is slog.Default
func WithLogger(l *slog.Logger) Option { return func(s *Solver) { s.log = l } }

// WithMetrics records solver progress on m
func WithMetrics(m *Metrics) Option { return func(s *Solver) { s.metrics = m } }

// New creates a solver for op
func New(op Operator, cfg Config, opts ...Option) (*Solver, error) {
	if op == nil {
		return nil, fmt.Errorf("newton: nil operator: %w", utils.ErrPrecondition)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Solver{op: op, cfg: cfg, comm: utils.Serial{}, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	switch {
	case cfg.Step == StepExternal && (s.linearizer == nil || s.linear == nil):
		return nil, fmt.Errorf("newton: external step needs a linearizer and a linear solver: %w", utils.ErrPrecondition)
	case cfg.Globalization == Dogleg && s.linearizer == nil:
		return nil, fmt.Errorf("newton: dogleg needs a linearizer for the Cauchy point: %w", utils.ErrPrecondition)
	case s.factory != nil && s.linearizer == nil:
		return nil, fmt.Errorf("newton: preconditioner factory needs a linearizer: %w", utils.ErrPrecondition)
	case cfg.NormalizeMean && s.normalizer == nil:
		return nil, fmt.Errorf("newton: mean normalisation needs a normalizer: %w", utils.ErrPrecondition)
	case s.comm.Size() > 1 && cfg.Step == StepExternal:
		return nil, fmt.Errorf("newton: external step on %d ranks would drop inter-rank jacobian coupling: %w",
			s.comm.Size(), utils.ErrPrecondition)
	case s.comm.Size() > 1 && cfg.Globalization == Dogleg:
		return nil, fmt.Errorf("newton: dogleg on %d ranks would drop inter-rank jacobian coupling: %w",
			s.comm.Size(), utils.ErrPrecondition)
	}
	return s, nil
}

// Config returns the parameters of s
func (s *Solver) Config() Config { return s.cfg }

// SolverDriver solves Op(x) = rhs starting from x0. Non-convergence is
// reported through Result.Status; errors are fatal (precondition
// violations and *ArithmeticError).
func (s *Solver) SolverDriver(x0, rhs []float64) (Result, error) {
	if len(x0) != len(rhs) {
		return Result{}, fmt.Errorf("newton: x0 has %d entries, rhs %d: %w",
			len(x0), len(rhs), utils.ErrDimensionMismatch)
	}
	s.rhs = rhs
	s.evals, s.linIter, s.relins = 0, 0, 0

	x := linalg.Copy(x0)
	if s.cfg.NormalizeMean {
		s.normalizer.Normalize(x)
	}
	f := make([]float64, len(x))
	norm, err := s.residual(x, f, "initial residual", 0)
	if err != nil {
		return Result{}, err
	}
	res := Result{InitialNorm: norm, History: []float64{norm}}
	threshold := s.cfg.Tolerance*norm + s.cfg.Tolerance

	lin := &Linearization{X: x, F: f, Norm: norm}
	if lin, err = s.relinearize(lin); err != nil {
		return s.finish(res, lin, lin, Running), err
	}
	best := lin
	delta := s.cfg.Dogleg.InitialRadius
	status := Running
	s.log.Info("newton start", "residual", norm, "threshold", threshold,
		"step", s.cfg.Step, "globalization", s.cfg.Globalization)

	for iter := 0; ; {
		if lin.Norm <= threshold && iter >= s.cfg.MinIter {
			status = Converged
			break
		}
		if iter == s.cfg.MaxIter {
			status = MaxIterReached
			break
		}
		if iter > 0 && iter%s.cfg.ConstantNewtonIt == 0 {
			if lin, err = s.relinearize(lin); err != nil {
				return s.finish(res, lin, best, Running), err
			}
		}

		step, err := s.newtonStep(lin)
		if err != nil {
			return s.finish(res, lin, best, Running), err
		}
		var next *Linearization
		var ok bool
		if s.cfg.Globalization == Dogleg {
			next, ok, err = s.dogleg(lin, step, &delta)
		} else {
			next, ok, err = s.lineSearch(lin, step)
		}
		if err != nil {
			return s.finish(res, lin, best, Running), err
		}
		if !ok {
			status = LineSearchFailed
			if s.cfg.Globalization == Dogleg {
				status = TrustRegionFailed
			}
			s.log.Warn("newton step rejected", "iteration", iter, "status", status, "residual", lin.Norm)
			break
		}
		iter++
		next.Iteration = iter
		if s.cfg.NormalizeMean {
			mean := s.normalizer.Normalize(next.X)
			if next.Norm, err = s.residual(next.X, next.F, "normalised residual", iter); err != nil {
				return s.finish(res, lin, best, Running), err
			}
			s.log.Debug("mean removed", "iteration", iter, "mean", mean)
		}
		lin = next
		if lin.Norm < best.Norm {
			best = lin
		}
		res.History = append(res.History, lin.Norm)
		s.metrics.iteration(lin.Norm)
		s.log.Info("newton iteration", "iteration", iter, "residual", lin.Norm,
			"reduction", lin.Norm/res.InitialNorm, "krylov", s.linIter)
	}
	res = s.finish(res, lin, best, status)
	s.log.Info("newton finished", "status", status, "iterations", res.Iterations, "residual", res.ResidualNorm)
	return res, nil
}

func (s *Solver) finish(res Result, lin, best *Linearization, status Status) Result {
	final := lin
	if status != Converged && best != nil {
		final = best
	}
	if lin != nil {
		res.Iterations = lin.Iteration
	}
	if final != nil {
		res.X = final.X
		res.ResidualNorm = final.Norm
	}
	res.Status = status
	res.Evaluations = s.evals
	res.LinearIterations = s.linIter
	res.Relinearizations = s.relins
	s.metrics.finished(status)
	return res
}

// residual evaluates out = Op(x) - rhs and returns its global norm
func (s *Solver) residual(x, out []float64, stage string, iter int) (float64, error) {
	if err := s.op.Evaluate(1, x, out); err != nil {
		return 0, fmt.Errorf("newton: %s: %w", stage, err)
	}
	s.evals++
	s.metrics.evaluation()
	floats.Sub(out, s.rhs)
	if !s.allFinite(out) {
		return 0, arithmetic(stage, iter, nil)
	}
	return linalg.Norm(s.comm, out), nil
}

// allFinite is a collective check so every rank takes the same branch
func (s *Solver) allFinite(v []float64) bool {
	bad := 0.0
	if !utils.AllFinite(v) {
		bad = 1
	}
	return utils.MaxScalar(s.comm, bad) == 0
}

// relinearize assembles a fresh Jacobian and preconditioner at lin.X. The
// matrix free step without a linearizer keeps lin as is.
func (s *Solver) relinearize(lin *Linearization) (*Linearization, error) {
	if s.linearizer == nil {
		return lin, nil
	}
	jac, err := s.linearizer.Linearize(lin.X)
	if err != nil {
		return lin, fmt.Errorf("newton: linearize at iteration %d: %w", lin.Iteration, err)
	}
	next := &Linearization{
		Iteration: lin.Iteration,
		X:         lin.X,
		F:         lin.F,
		Norm:      lin.Norm,
		Jacobian:  jac,
	}
	if s.factory != nil {
		if next.Precond, err = s.factory(jac); err != nil {
			return lin, fmt.Errorf("newton: preconditioner at iteration %d: %w", lin.Iteration, err)
		}
	}
	s.relins++
	s.metrics.relinearization()
	s.log.Debug("relinearized", "iteration", lin.Iteration)
	return next, nil
}

// newtonStep solves J·step = -F with the configured strategy
func (s *Solver) newtonStep(lin *Linearization) ([]float64, error) {
	rhs := linalg.Copy(lin.F)
	floats.Scale(-1, rhs)
	step := make([]float64, len(rhs))
	if s.cfg.Step == StepExternal {
		tol := s.cfg.ForcingTerm * lin.Norm
		n, err := s.linear.Solve(lin.Jacobian, lin.Precond, rhs, step, tol)
		s.linIter += n
		s.metrics.krylov(n)
		if err != nil {
			if errors.Is(err, utils.ErrNotFinite) {
				return nil, arithmetic("linear solve", lin.Iteration, err)
			}
			return nil, fmt.Errorf("newton: linear solve: %w", err)
		}
		return step, nil
	}
	return s.stepGMRES(lin, rhs, step)
}
