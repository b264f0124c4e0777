package multigrid

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/projection"
	"github.com/notargets/DGSolver/utils"
)

// State of a level node
type State uint8

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "Ready"
	}
	return "Uninitialized"
}

// SmootherConfig controls the block Jacobi sweeps of the V-cycle
type SmootherConfig struct {
	PreSweeps  int     `yaml:"pre_sweeps"`
	PostSweeps int     `yaml:"post_sweeps"`
	Damping    float64 `yaml:"damping"`
}

// DefaultSmoother is two damped sweeps before and after the coarse
// correction
func DefaultSmoother() SmootherConfig {
	return SmootherConfig{PreSweeps: 2, PostSweeps: 2, Damping: 0.7}
}

// Config holds everything needed to build an operator hierarchy
type Config struct {
	Projector *projection.Projector
	// NativeMapping is the row layout of Operator and Mass on the base grid
	NativeMapping *Mapping
	// Degrees[l][f] is the degree of field f on level l. Missing levels
	// repeat the last entry; nil uses the native degrees everywhere.
	Degrees [][]int

	Operator *linalg.Matrix
	Mass     *linalg.Matrix // Optional

	// FreeMeanValue flags fields whose mean is not determined by Operator
	FreeMeanValue []bool

	Smoother SmootherConfig
	// DropTolerance is the relative eigenvalue below which a mode of an
	// indefinite diagonal block is discarded by the change of basis
	DropTolerance float64

	Comm   utils.Comm
	Logger *slog.Logger
}

// Level is one node of the hierarchy. Coordinates of a level are the
// transformed ones: raw Galerkin coordinates z relate to level coordinates
// y by z = Right·y, and raw right hand sides r to level ones by Left·r.
type Level struct {
	Index          int
	Finer, Coarser int // -1 when absent
	Mapping        *Mapping
	State          State

	RawOperator, RawMass *linalg.Matrix
	Operator, Mass       *linalg.Matrix

	// Prolongation maps raw coordinates of this level to raw coordinates of
	// the finer level (native coordinates for level 0); Restriction is its
	// transpose.
	Prolongation, Restriction *linalg.Matrix

	Left, Right, LeftInv, RightInv *linalg.Matrix

	// restrictOp = Left·Restriction·LeftInv(finer), prolongOp =
	// RightInv(finer)·Prolongation·Right, absent on level 0
	restrictOp, prolongOp *linalg.Matrix

	PatchedRows  int
	DroppedModes int

	smoother []*linalg.BlockSolver
	blocks   []int
	coarse   *mat.LU
	singular bool
}

// Hierarchy is the array of multigrid levels, finest first
type Hierarchy struct {
	cfg    Config
	levels []*Level
	refs   []ReferenceIndex
	pin    PinBackup
	log    *slog.Logger
}

// NewHierarchy validates cfg and lays out the levels. No matrices are built
// until Build is called.
func NewHierarchy(cfg Config) (*Hierarchy, error) {
	if cfg.Projector == nil || cfg.NativeMapping == nil || cfg.Operator == nil {
		return nil, fmt.Errorf("hierarchy: projector, native mapping and operator are required: %w",
			utils.ErrPrecondition)
	}
	if cfg.Comm == nil {
		cfg.Comm = utils.Serial{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Smoother == (SmootherConfig{}) {
		cfg.Smoother = DefaultSmoother()
	}
	if cfg.DropTolerance == 0 {
		cfg.DropTolerance = 1e-10
	}
	nm := cfg.NativeMapping
	n := nm.LocalLength()
	if r, c := cfg.Operator.Dims(); r != n || c != n {
		return nil, fmt.Errorf("hierarchy: operator is %dx%d, mapping has %d local rows: %w",
			r, c, n, utils.ErrPrecondition)
	}
	if cfg.Mass != nil {
		if r, c := cfg.Mass.Dims(); r != n || c != n {
			return nil, fmt.Errorf("hierarchy: mass matrix is %dx%d, mapping has %d local rows: %w",
				r, c, n, utils.ErrPrecondition)
		}
	}
	proj := cfg.Projector
	if nm.NumCells() != proj.Level(0).NumCells() {
		return nil, fmt.Errorf("hierarchy: mapping covers %d cells, projector %d: %w",
			nm.NumCells(), proj.Level(0).NumCells(), utils.ErrPrecondition)
	}
	nf := nm.NumFields()
	if cfg.FreeMeanValue == nil {
		cfg.FreeMeanValue = make([]bool, nf)
	}
	if len(cfg.FreeMeanValue) != nf {
		return nil, fmt.Errorf("hierarchy: %d free mean flags for %d fields: %w",
			len(cfg.FreeMeanValue), nf, utils.ErrPrecondition)
	}
	for f := 0; f < nf; f++ {
		if nm.Modes(f) > proj.Np() {
			return nil, fmt.Errorf("hierarchy: field %d has %d native modes, basis has %d: %w",
				f, nm.Modes(f), proj.Np(), utils.ErrPrecondition)
		}
	}

	h := &Hierarchy{cfg: cfg, log: cfg.Logger}
	// Ranks coarsen independently; every rank keeps the shortest sequence so
	// that the per-level collectives match
	nl := []int{proj.Levels()}
	cfg.Comm.AllReduceMinInt(nl)
	if nl[0] < proj.Levels() {
		h.log.Debug("truncating aggregation sequence",
			"rank", cfg.Comm.Rank(), "local_levels", proj.Levels(), "levels", nl[0])
	}
	if err := h.layout(nl[0]); err != nil {
		return nil, err
	}
	return h, nil
}

// layout creates the level mappings, one collective per level
func (h *Hierarchy) layout(nl int) error {
	cfg := h.cfg
	nm, proj := cfg.NativeMapping, cfg.Projector
	nf := nm.NumFields()
	for l := 0; l < nl; l++ {
		degrees := h.levelDegrees(l)
		if len(degrees) != nf {
			return fmt.Errorf("hierarchy: level %d has %d degrees for %d fields: %w",
				l, len(degrees), nf, utils.ErrPrecondition)
		}
		for f, p := range degrees {
			if p > nm.Degrees[f] {
				return fmt.Errorf("hierarchy: level %d field %d degree %d exceeds native %d: %w",
					l, f, p, nm.Degrees[f], utils.ErrPrecondition)
			}
		}
		m, err := NewMapping(proj.Level(l), degrees, cfg.Comm)
		if err != nil {
			return err
		}
		lvl := &Level{Index: l, Finer: l - 1, Coarser: l + 1, Mapping: m}
		if l == nl-1 {
			lvl.Coarser = -1
		}
		h.levels = append(h.levels, lvl)
	}
	return nil
}

func (h *Hierarchy) levelDegrees(l int) []int {
	d := h.cfg.Degrees
	switch {
	case len(d) == 0:
		return h.cfg.NativeMapping.Degrees
	case l < len(d):
		return d[l]
	default:
		return d[len(d)-1]
	}
}

// NumLevels is the number of levels, including the finest
func (h *Hierarchy) NumLevels() int { return len(h.levels) }

// Level returns node l
func (h *Hierarchy) Level(l int) *Level { return h.levels[l] }

// Comm is the reduction capability shared by all levels
func (h *Hierarchy) Comm() utils.Comm { return h.cfg.Comm }

// Build sets up every level, finest to coarsest. The reference point is
// pinned on the raw level 0 operator before any coarse operator is formed.
func (h *Hierarchy) Build() error {
	if len(h.refs) == 0 {
		h.DefineReferenceIndices()
	}
	for _, lvl := range h.levels {
		if err := h.setup(lvl); err != nil {
			return fmt.Errorf("hierarchy: level %d: %w", lvl.Index, err)
		}
	}
	return nil
}

// setup builds the Galerkin operators and the change of basis of lvl. The
// finer level must be Ready.
func (h *Hierarchy) setup(lvl *Level) error {
	if lvl.State == Ready {
		return nil
	}
	var fineOp, fineMass *linalg.Matrix
	var err error
	if lvl.Finer < 0 {
		fineOp, fineMass = h.cfg.Operator, h.cfg.Mass
		lvl.Prolongation = h.nativeProlongation(lvl.Mapping)
	} else {
		finer := h.levels[lvl.Finer]
		if finer.State != Ready {
			return fmt.Errorf("finer level %d is %s: %w", finer.Index, finer.State, utils.ErrPrecondition)
		}
		fineOp, fineMass = finer.RawOperator, finer.RawMass
		if lvl.Prolongation, err = h.aggregateProlongation(finer.Mapping, lvl); err != nil {
			return err
		}
	}
	lvl.Restriction = lvl.Prolongation.Transpose()

	if lvl.RawOperator, err = linalg.Triple(lvl.Restriction, fineOp, lvl.Prolongation); err != nil {
		return err
	}
	if fineMass != nil {
		if lvl.RawMass, err = linalg.Triple(lvl.Restriction, fineMass, lvl.Prolongation); err != nil {
			return err
		}
	}
	if lvl.Finer < 0 {
		lvl.RawOperator, h.pin = h.SetPressureReferencePointMTX(lvl.RawOperator)
	}

	h.changeOfBasis(lvl)
	if lvl.Operator, err = linalg.Triple(lvl.Left, lvl.RawOperator, lvl.Right); err != nil {
		return err
	}
	if lvl.RawMass != nil {
		if lvl.Mass, err = linalg.Triple(lvl.Left, lvl.RawMass, lvl.Right); err != nil {
			return err
		}
	}
	lvl.Operator = patchZeroRows(lvl.Operator, &lvl.PatchedRows)

	if lvl.Finer >= 0 {
		finer := h.levels[lvl.Finer]
		if lvl.restrictOp, err = linalg.Triple(lvl.Left, lvl.Restriction, finer.LeftInv); err != nil {
			return err
		}
		if lvl.prolongOp, err = linalg.Triple(finer.RightInv, lvl.Prolongation, lvl.Right); err != nil {
			return err
		}
	}
	if err = h.setupSolvers(lvl); err != nil {
		return err
	}
	lvl.State = Ready
	h.log.Debug("multigrid level ready",
		"level", lvl.Index,
		"cells", lvl.Mapping.NumCells(),
		"rows", lvl.Mapping.LocalLength(),
		"nnz", lvl.Operator.NNZ(),
		"dropped_modes", lvl.DroppedModes,
		"patched_rows", lvl.PatchedRows)
	return nil
}

// nativeProlongation maps level 0 orthonormal coordinates to native ones,
// block diagonal with the truncated B0 of every cell and field
func (h *Hierarchy) nativeProlongation(m *Mapping) *linalg.Matrix {
	nm := h.cfg.NativeMapping
	proj := h.cfg.Projector
	b := linalg.NewBuilder(nm.LocalLength(), m.LocalLength())
	for j := 0; j < m.NumCells(); j++ {
		b0 := proj.B0(j)
		for f := 0; f < m.NumFields(); f++ {
			blk := b0.Slice(0, nm.Modes(f), 0, m.Modes(f))
			b.AddBlock(nm.Index(j, f, 0), m.Index(j, f, 0), blk, 1)
		}
	}
	return b.Build()
}

// aggregateProlongation assembles the projector injectors of lvl, truncated
// to the degrees of both levels
func (h *Hierarchy) aggregateProlongation(fine *Mapping, lvl *Level) (*linalg.Matrix, error) {
	inj, err := h.cfg.Projector.Injector(lvl.Index)
	if err != nil {
		return nil, err
	}
	m := lvl.Mapping
	b := linalg.NewBuilder(fine.LocalLength(), m.LocalLength())
	for i, parts := range m.Agg.AggregateToParts {
		for k, part := range parts {
			for f := 0; f < m.NumFields(); f++ {
				blk := inj[i][k].Slice(0, fine.Modes(f), 0, m.Modes(f))
				b.AddBlock(fine.Index(part, f, 0), m.Index(i, f, 0), blk, 1)
			}
		}
	}
	return b.Build(), nil
}

// changeOfBasis derives the block diagonal transforms of lvl from the
// symmetric part of each (cell, field) block of the raw operator, or of the
// raw mass matrix where the operator block vanishes
func (h *Hierarchy) changeOfBasis(lvl *Level) {
	offsets := lvl.Mapping.BlockOffsets()
	opBlocks := lvl.RawOperator.DiagonalBlocks(offsets)
	var massBlocks []*mat.Dense
	if lvl.RawMass != nil {
		massBlocks = lvl.RawMass.DiagonalBlocks(offsets)
	}
	n := lvl.Mapping.LocalLength()
	right := linalg.NewBuilder(n, n)
	rightInv := linalg.NewBuilder(n, n)
	left := linalg.NewBuilder(n, n)
	leftInv := linalg.NewBuilder(n, n)
	lvl.DroppedModes = 0
	for k, blk := range opBlocks {
		src := blk
		if mat.Norm(blk, 1) == 0 && massBlocks != nil {
			src = massBlocks[k]
		}
		r, rinv, kept := linalg.EquilibrationTransform(linalg.SymmetricPart(src), h.cfg.DropTolerance)
		rows, _ := r.Dims()
		lvl.DroppedModes += rows - kept
		o := offsets[k]
		right.AddBlock(o, o, r, 1)
		rightInv.AddBlock(o, o, rinv, 1)
		left.AddBlock(o, o, r.T(), 1)
		leftInv.AddBlock(o, o, rinv.T(), 1)
	}
	lvl.Right, lvl.RightInv = right.Build(), rightInv.Build()
	lvl.Left, lvl.LeftInv = left.Build(), leftInv.Build()
	lvl.blocks = offsets
}

// patchZeroRows replaces every all-zero row of m by an identity row
func patchZeroRows(m *linalg.Matrix, count *int) *linalg.Matrix {
	zero := m.ZeroRows()
	*count = 0
	for _, z := range zero {
		if z {
			*count++
		}
	}
	if *count == 0 {
		return m
	}
	b := m.Builder()
	for i, z := range zero {
		if z {
			b.Set(i, i, 1)
		}
	}
	return b.Build()
}

// setupSolvers factors the diagonal blocks for smoothing and, on the
// coarsest level, the whole operator
func (h *Hierarchy) setupSolvers(lvl *Level) error {
	blocks := lvl.Operator.DiagonalBlocks(lvl.blocks)
	lvl.smoother = make([]*linalg.BlockSolver, len(blocks))
	for k, blk := range blocks {
		lvl.smoother[k] = linalg.NewBlockSolver(blk)
	}
	if lvl.Coarser >= 0 {
		return nil
	}
	if lvl.Mapping.LocalLength() == 0 {
		return nil
	}
	lvl.coarse = &mat.LU{}
	lvl.coarse.Factorize(lvl.Operator.Dense())
	if c := lvl.coarse.Cond(); c > 1e14 || math.IsNaN(c) {
		lvl.singular = true
		h.log.Warn("coarse operator is singular, smoothing instead", "level", lvl.Index, "cond", c)
	}
	return nil
}
