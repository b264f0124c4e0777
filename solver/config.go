package solver

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/notargets/DGSolver/utils"
)

// StepStrategy selects how the Newton step is computed
type StepStrategy string

const (
	// StepGMRES solves the Newton system matrix free by GMRES on finite
	// difference directional derivatives
	StepGMRES StepStrategy = "gmres"
	// StepExternal assembles the Jacobian and hands it to a LinearSolver
	StepExternal StepStrategy = "external"
)

// Globalization selects how a Newton step is shortened
type Globalization string

const (
	LineSearch Globalization = "linesearch"
	Dogleg     Globalization = "dogleg"
)

// GMRESConfig controls the inner matrix free Krylov solve
type GMRESConfig struct {
	ConvCrit     float64 `yaml:"conv_crit"`
	MaxKrylovDim int     `yaml:"max_krylov_dim"`
	RestartLimit int     `yaml:"restart_limit"`
}

// LineSearchConfig controls the backtracking line search
type LineSearchConfig struct {
	MaxStep int     `yaml:"max_step"`
	Alpha   float64 `yaml:"alpha"`
}

// DoglegConfig controls the trust region
type DoglegConfig struct {
	InitialRadius float64 `yaml:"initial_radius"`
	DeltaMin      float64 `yaml:"delta_min"`
	DeltaMax      float64 `yaml:"delta_max"`
	MaxStep       int     `yaml:"max_step"`
}

// Config holds the Newton-Krylov parameters
type Config struct {
	Tolerance        float64          `yaml:"tolerance"`
	MinIter          int              `yaml:"min_iter"`
	MaxIter          int              `yaml:"max_iter"`
	ConstantNewtonIt int              `yaml:"constant_newton_it"`
	ForcingTerm      float64          `yaml:"forcing_term"`
	Step             StepStrategy     `yaml:"step"`
	Globalization    Globalization    `yaml:"globalization"`
	GMRES            GMRESConfig      `yaml:"gmres"`
	LineSearch       LineSearchConfig `yaml:"line_search"`
	Dogleg           DoglegConfig     `yaml:"dogleg"`
	// NormalizeMean subtracts the mean of the gauge field after every
	// accepted step; requires WithNormalizer
	NormalizeMean bool `yaml:"normalize_mean"`
}

// DefaultConfig returns the parameters used when a field is not set
func DefaultConfig() Config {
	return Config{
		Tolerance:        1e-8,
		MinIter:          0,
		MaxIter:          50,
		ConstantNewtonIt: 1,
		ForcingTerm:      1e-5,
		Step:             StepGMRES,
		Globalization:    LineSearch,
		GMRES: GMRESConfig{
			ConvCrit:     1e-6,
			MaxKrylovDim: 30,
			RestartLimit: 10,
		},
		LineSearch: LineSearchConfig{
			MaxStep: 30,
			Alpha:   1e-4,
		},
		Dogleg: DoglegConfig{
			InitialRadius: 1,
			DeltaMin:      1e-10,
			DeltaMax:      1e10,
			MaxStep:       50,
		},
	}
}

// LoadConfig reads a YAML document over the defaults. An empty document
// yields DefaultConfig.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("solver config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks parameter ranges
func (c Config) Validate() error {
	var errs []error
	if c.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("tolerance %g is negative", c.Tolerance))
	}
	if c.MinIter < 0 || c.MaxIter < 1 || c.MinIter > c.MaxIter {
		errs = append(errs, fmt.Errorf("iteration bounds [%d,%d] are invalid", c.MinIter, c.MaxIter))
	}
	if c.ConstantNewtonIt < 1 {
		errs = append(errs, fmt.Errorf("constant_newton_it %d must be at least 1", c.ConstantNewtonIt))
	}
	if c.ForcingTerm <= 0 || c.ForcingTerm >= 1 {
		errs = append(errs, fmt.Errorf("forcing term %g outside (0,1)", c.ForcingTerm))
	}
	switch c.Step {
	case StepGMRES, StepExternal:
	default:
		errs = append(errs, fmt.Errorf("unknown step strategy %q", c.Step))
	}
	switch c.Globalization {
	case LineSearch, Dogleg:
	default:
		errs = append(errs, fmt.Errorf("unknown globalization %q", c.Globalization))
	}
	if c.GMRES.MaxKrylovDim < 1 || c.GMRES.RestartLimit < 0 || c.GMRES.ConvCrit <= 0 {
		errs = append(errs, fmt.Errorf("gmres settings %+v are invalid", c.GMRES))
	}
	if c.LineSearch.MaxStep < 1 || c.LineSearch.Alpha <= 0 || c.LineSearch.Alpha >= 1 {
		errs = append(errs, fmt.Errorf("line search settings %+v are invalid", c.LineSearch))
	}
	d := c.Dogleg
	if d.InitialRadius <= 0 || d.DeltaMin <= 0 || d.DeltaMin > d.InitialRadius ||
		d.DeltaMax < d.InitialRadius || d.MaxStep < 1 {
		errs = append(errs, fmt.Errorf("dogleg settings %+v are invalid", d))
	}
	if len(errs) > 0 {
		return fmt.Errorf("solver config: %w: %w", utils.ErrPrecondition, errors.Join(errs...))
	}
	return nil
}
