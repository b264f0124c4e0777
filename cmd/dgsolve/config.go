package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/notargets/DGSolver/multigrid"
	"github.com/notargets/DGSolver/problems"
	"github.com/notargets/DGSolver/solver"
)

// MultigridConfig selects the preconditioner
type MultigridConfig struct {
	Enabled  bool                     `yaml:"enabled"`
	MaxDepth int                      `yaml:"max_depth"`
	Degrees  [][]int                  `yaml:"degrees"`
	Smoother multigrid.SmootherConfig `yaml:"smoother"`
	// FreeMean marks the solution as defined up to a constant. The
	// reference pin only regularises the preconditioner's level operators;
	// the Newton system itself stays unconstrained, so the mean is also
	// removed after every Newton step.
	FreeMean bool `yaml:"free_mean"`
}

// RunConfig is the layout of a dgsolve configuration file
type RunConfig struct {
	Problem   problems.Config `yaml:"problem"`
	Solver    solver.Config   `yaml:"solver"`
	Multigrid MultigridConfig `yaml:"multigrid"`
	Krylov    struct {
		MaxKrylovDim int `yaml:"max_krylov_dim"`
		RestartLimit int `yaml:"restart_limit"`
	} `yaml:"krylov"`
}

func defaultRunConfig() RunConfig {
	rc := RunConfig{
		Problem: problems.DefaultConfig(),
		Solver:  solver.DefaultConfig(),
		Multigrid: MultigridConfig{
			Enabled:  true,
			MaxDepth: 10,
			Smoother: multigrid.DefaultSmoother(),
		},
	}
	rc.Krylov.MaxKrylovDim = 60
	rc.Krylov.RestartLimit = 10
	return rc
}

// loadRunConfig reads path over the defaults; an empty path keeps them
func loadRunConfig(path string) (RunConfig, error) {
	rc := defaultRunConfig()
	if path == "" {
		return rc, rc.validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, err
	}
	return decodeRunConfig(bytes.NewReader(data))
}

func decodeRunConfig(r io.Reader) (RunConfig, error) {
	rc := defaultRunConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rc); err != nil && !errors.Is(err, io.EOF) {
		return RunConfig{}, fmt.Errorf("dgsolve config: %w", err)
	}
	return rc, rc.validate()
}

func (rc RunConfig) validate() error {
	if err := rc.Solver.Validate(); err != nil {
		return err
	}
	if rc.Multigrid.Enabled && rc.Multigrid.MaxDepth < 1 {
		return fmt.Errorf("dgsolve config: multigrid max_depth %d must be at least 1", rc.Multigrid.MaxDepth)
	}
	if rc.Solver.NormalizeMean && !rc.Multigrid.FreeMean {
		return fmt.Errorf("dgsolve config: normalize_mean requires multigrid.free_mean")
	}
	return nil
}
