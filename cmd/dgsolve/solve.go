package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notargets/DGSolver/aggregation"
	"github.com/notargets/DGSolver/multigrid"
	"github.com/notargets/DGSolver/projection"
	"github.com/notargets/DGSolver/solver"
	"github.com/notargets/DGSolver/utils"
)

// Report is the outcome of one run
type Report struct {
	Result   solver.Result
	L2Error  float64
	Unknowns int
	Levels   int
	// Mean of the solution, set when the mean is free
	Mean float64
}

// runSolve discretises the configured problem and solves it with the
// configured Newton-Krylov method
func runSolve(rc RunConfig, log *slog.Logger, reg prometheus.Registerer) (Report, error) {
	p, m, err := rc.Problem.Build()
	if err != nil {
		return Report{}, err
	}
	log.Info("problem assembled",
		"cells", p.Grid.NumCells(),
		"degree", p.Basis.Degree(),
		"unknowns", p.Size(),
		"boundary", p.Boundary,
		"solution", m.Name)

	cfg := rc.Solver
	opts := []solver.Option{
		solver.WithLinearizer(p),
		solver.WithLogger(log),
		solver.WithMetrics(solver.NewMetrics(reg)),
		solver.WithLinearSolver(solver.KrylovSolver{
			MaxKrylovDim: rc.Krylov.MaxKrylovDim,
			RestartLimit: rc.Krylov.RestartLimit,
		}),
	}

	levels := 0
	var mean *multigrid.MeanNormalizer
	mg := rc.Multigrid
	if mg.Enabled || mg.FreeMean {
		depth := mg.MaxDepth
		if !mg.Enabled {
			depth = 1
		}
		seq, err := aggregation.BuildSequence(p.Grid, depth)
		if err != nil {
			return Report{}, err
		}
		proj, err := projection.New(p.Basis, seq)
		if err != nil {
			return Report{}, err
		}
		nm, err := multigrid.NewMapping(seq[0], []int{p.Basis.Degree()}, utils.Serial{})
		if err != nil {
			return Report{}, err
		}
		if mg.Enabled {
			fac := multigrid.NewFactory(multigrid.Config{
				Projector:     proj,
				NativeMapping: nm,
				Degrees:       mg.Degrees,
				Mass:          p.Mass(),
				FreeMeanValue: []bool{mg.FreeMean},
				Smoother:      mg.Smoother,
				Logger:        log,
			})
			opts = append(opts, solver.WithPreconditioner(fac.Build))
			levels = len(seq)
		}
		if mg.FreeMean {
			mean, err = multigrid.NewMeanNormalizer(proj, nm, 0, utils.Serial{})
			if err != nil {
				return Report{}, err
			}
			cfg.NormalizeMean = true
			opts = append(opts, solver.WithNormalizer(mean))
		}
	}

	s, err := solver.New(p, cfg, opts...)
	if err != nil {
		return Report{}, err
	}
	res, err := s.SolverDriver(make([]float64, p.Size()), p.Load(m.Source, m.Boundary))
	if err != nil {
		return Report{}, fmt.Errorf("dgsolve: %w", err)
	}
	rep := Report{
		Result:   res,
		L2Error:  p.L2Error(res.X, m.Exact),
		Unknowns: p.Size(),
		Levels:   levels,
	}
	if mean != nil {
		rep.Mean = mean.Mean(res.X)
	}
	return rep, nil
}
