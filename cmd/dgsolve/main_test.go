package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGSolver/problems"
	"github.com/notargets/DGSolver/solver"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDecodeRunConfig(t *testing.T) {
	rc, err := decodeRunConfig(strings.NewReader(`
problem:
  cells: [8, 4]
  boundary: neumann
  solution: cosine
solver:
  globalization: dogleg
multigrid:
  max_depth: 3
  smoother:
    pre_sweeps: 1
    post_sweeps: 1
    damping: 0.5
`))
	require.NoError(t, err)
	assert.Equal(t, []int{8, 4}, rc.Problem.Cells)
	assert.Equal(t, problems.Neumann, rc.Problem.Boundary)
	assert.Equal(t, 2, rc.Problem.Degree)
	assert.Equal(t, solver.Dogleg, rc.Solver.Globalization)
	assert.Equal(t, 1e-8, rc.Solver.Tolerance)
	assert.True(t, rc.Multigrid.Enabled)
	assert.Equal(t, 3, rc.Multigrid.MaxDepth)
	assert.Equal(t, 0.5, rc.Multigrid.Smoother.Damping)

	_, err = decodeRunConfig(strings.NewReader("multigrid:\n  depth: 3\n"))
	assert.Error(t, err)
	_, err = decodeRunConfig(strings.NewReader("solver:\n  normalize_mean: true\n"))
	assert.Error(t, err)
	rc, err = decodeRunConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, defaultRunConfig(), rc)
}

func TestRunSolve(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"multigrid dirichlet", "problem:\n  cells: [8]\n"},
		{"free mean neumann", `
problem:
  cells: [8]
  kappa: 0
  boundary: neumann
  solution: cosine
solver:
  step: external
multigrid:
  free_mean: true
`},
		{"no preconditioner", "problem:\n  cells: [8]\nmultigrid:\n  enabled: false\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rc, err := decodeRunConfig(strings.NewReader(tc.yaml))
			require.NoError(t, err)
			rep, err := runSolve(rc, quiet, prometheus.NewRegistry())
			require.NoError(t, err)
			assert.Equal(t, solver.Converged, rep.Result.Status)
			assert.Less(t, rep.L2Error, 5e-2)
			if rc.Multigrid.Enabled {
				assert.Greater(t, rep.Levels, 1)
			}
			if rc.Multigrid.FreeMean {
				// The preconditioner pin leaves the Newton system singular;
				// the normalizer fixes the constant
				assert.InDelta(t, 0, rep.Mean, 1e-10)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("problem:\n  cells: [6]\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"config", "--config", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "cells:")
	assert.Contains(t, out.String(), "globalization: linesearch")

	out.Reset()
	rootCmd.SetArgs([]string{"solve", "--config", path, "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "status=converged")

	rootCmd.SetArgs([]string{"solve", "--config", path, "--log-level", "loud"})
	assert.Error(t, rootCmd.Execute())
}
