package multigrid

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGSolver/utils"
)

func (h *Hierarchy) ready(level int) (*Level, error) {
	if level < 0 || level >= len(h.levels) {
		return nil, fmt.Errorf("multigrid: level %d outside [0,%d): %w", level, len(h.levels), utils.ErrPrecondition)
	}
	lvl := h.levels[level]
	if lvl.State != Ready {
		return nil, fmt.Errorf("multigrid: level %d is %s: %w", level, lvl.State, utils.ErrPrecondition)
	}
	return lvl, nil
}

func checkLen(what string, v []float64, n int) error {
	if len(v) != n {
		return fmt.Errorf("multigrid: %s has %d entries, want %d: %w", what, len(v), n, utils.ErrDimensionMismatch)
	}
	return nil
}

// Restrict maps a right hand side of the level above coarse to level
// coarse, coarse = Left·Restriction·LeftInv(finer)·fine
func (h *Hierarchy) Restrict(coarse int, fine []float64) ([]float64, error) {
	lvl, err := h.ready(coarse)
	if err != nil {
		return nil, err
	}
	if lvl.Finer < 0 {
		return nil, fmt.Errorf("multigrid: level 0 has no finer level: %w", utils.ErrPrecondition)
	}
	if err = checkLen("fine vector", fine, h.levels[lvl.Finer].Mapping.LocalLength()); err != nil {
		return nil, err
	}
	out := make([]float64, lvl.Mapping.LocalLength())
	if err = lvl.restrictOp.MulVec(out, fine); err != nil {
		return nil, err
	}
	return out, nil
}

// Prolongate accumulates a correction of level coarse into the level above,
// fine = beta·fine + alpha·RightInv(finer)·Prolongation·Right·coarse.
// With beta = 0 the previous contents of fine are not read.
func (h *Hierarchy) Prolongate(coarse int, alpha float64, fine []float64, beta float64, coarseVec []float64) error {
	lvl, err := h.ready(coarse)
	if err != nil {
		return err
	}
	if lvl.Finer < 0 {
		return fmt.Errorf("multigrid: level 0 has no finer level: %w", utils.ErrPrecondition)
	}
	if err = checkLen("fine vector", fine, h.levels[lvl.Finer].Mapping.LocalLength()); err != nil {
		return err
	}
	if err = checkLen("coarse vector", coarseVec, lvl.Mapping.LocalLength()); err != nil {
		return err
	}
	tmp := make([]float64, len(fine))
	if err = lvl.prolongOp.MulVec(tmp, coarseVec); err != nil {
		return err
	}
	if beta == 0 {
		// fine is output only, whatever it held
		floats.ScaleTo(fine, alpha, tmp)
		return nil
	}
	floats.Scale(beta, fine)
	floats.AddScaled(fine, alpha, tmp)
	return nil
}

func (h *Hierarchy) finest(level int) (*Level, error) {
	if level != 0 {
		return nil, fmt.Errorf("multigrid: coordinate transforms are defined on level 0 only, got %d: %w",
			level, utils.ErrPrecondition)
	}
	return h.ready(0)
}

// TransformSolInto maps a native solution vector into level coordinates,
// y = RightInv·B0⁻¹·native
func (h *Hierarchy) TransformSolInto(level int, native []float64) ([]float64, error) {
	lvl, err := h.finest(level)
	if err != nil {
		return nil, err
	}
	if err = checkLen("native solution", native, h.cfg.NativeMapping.LocalLength()); err != nil {
		return nil, err
	}
	raw := h.nativeToOrtho(lvl.Mapping, native)
	out := make([]float64, len(raw))
	if err = lvl.RightInv.MulVec(out, raw); err != nil {
		return nil, err
	}
	return out, nil
}

// TransformSolFrom maps level coordinates back to a native solution,
// native = Prolongation·Right·y
func (h *Hierarchy) TransformSolFrom(level int, y []float64) ([]float64, error) {
	lvl, err := h.finest(level)
	if err != nil {
		return nil, err
	}
	if err = checkLen("level solution", y, lvl.Mapping.LocalLength()); err != nil {
		return nil, err
	}
	raw := make([]float64, len(y))
	if err = lvl.Right.MulVec(raw, y); err != nil {
		return nil, err
	}
	out := make([]float64, h.cfg.NativeMapping.LocalLength())
	if err = lvl.Prolongation.MulVec(out, raw); err != nil {
		return nil, err
	}
	return out, nil
}

// TransformRhsInto maps a native residual into level coordinates,
// b = Left·Restriction·native
func (h *Hierarchy) TransformRhsInto(level int, native []float64) ([]float64, error) {
	lvl, err := h.finest(level)
	if err != nil {
		return nil, err
	}
	raw, err := h.rawRhs(lvl, native)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	if err = lvl.Left.MulVec(out, raw); err != nil {
		return nil, err
	}
	return out, nil
}

// TransformRhsFrom maps a level right hand side back to native
// coordinates, native = B0⁻ᵀ·LeftInv·b, zero in truncated modes
func (h *Hierarchy) TransformRhsFrom(level int, b []float64) ([]float64, error) {
	lvl, err := h.finest(level)
	if err != nil {
		return nil, err
	}
	if err = checkLen("level rhs", b, lvl.Mapping.LocalLength()); err != nil {
		return nil, err
	}
	raw := make([]float64, len(b))
	if err = lvl.LeftInv.MulVec(raw, b); err != nil {
		return nil, err
	}
	nm := h.cfg.NativeMapping
	m := lvl.Mapping
	out := make([]float64, nm.LocalLength())
	proj := h.cfg.Projector
	for j := 0; j < m.NumCells(); j++ {
		binv := proj.B0Inv(j)
		for f := 0; f < m.NumFields(); f++ {
			lo, hi := m.FieldRange(j, f)
			nlo, nhi := nm.FieldRange(j, f)
			dst := mat.NewVecDense(nhi-nlo, out[nlo:nhi])
			dst.MulVec(binv.Slice(0, hi-lo, 0, nhi-nlo).T(), mat.NewVecDense(hi-lo, raw[lo:hi]))
		}
	}
	return out, nil
}

func (h *Hierarchy) rawRhs(lvl *Level, native []float64) ([]float64, error) {
	if err := checkLen("native rhs", native, h.cfg.NativeMapping.LocalLength()); err != nil {
		return nil, err
	}
	raw := make([]float64, lvl.Mapping.LocalLength())
	if err := lvl.Restriction.MulVec(raw, native); err != nil {
		return nil, err
	}
	return raw, nil
}

// nativeToOrtho applies the truncated B0⁻¹ cell by cell
func (h *Hierarchy) nativeToOrtho(m *Mapping, native []float64) []float64 {
	nm := h.cfg.NativeMapping
	proj := h.cfg.Projector
	out := make([]float64, m.LocalLength())
	for j := 0; j < m.NumCells(); j++ {
		binv := proj.B0Inv(j)
		for f := 0; f < m.NumFields(); f++ {
			lo, hi := m.FieldRange(j, f)
			nlo, nhi := nm.FieldRange(j, f)
			dst := mat.NewVecDense(hi-lo, out[lo:hi])
			dst.MulVec(binv.Slice(0, hi-lo, 0, nhi-nlo), mat.NewVecDense(nhi-nlo, native[nlo:nhi]))
		}
	}
	return out
}

// Apply runs one V-cycle on level for the right hand side src, starting
// from a zero guess, and writes the approximate solution into dst
func (h *Hierarchy) Apply(level int, dst, src []float64) error {
	lvl, err := h.ready(level)
	if err != nil {
		return err
	}
	n := lvl.Mapping.LocalLength()
	if err = checkLen("src", src, n); err != nil {
		return err
	}
	if err = checkLen("dst", dst, n); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = 0
	}
	if lvl.Coarser < 0 {
		return h.coarseSolve(lvl, dst, src)
	}
	sm := h.cfg.Smoother
	if err = h.smooth(lvl, dst, src, sm.PreSweeps); err != nil {
		return err
	}
	r := make([]float64, n)
	if err = h.residual(lvl, r, dst, src); err != nil {
		return err
	}
	rc, err := h.Restrict(lvl.Coarser, r)
	if err != nil {
		return err
	}
	ec := make([]float64, len(rc))
	if err = h.Apply(lvl.Coarser, ec, rc); err != nil {
		return err
	}
	if err = h.Prolongate(lvl.Coarser, 1, dst, 1, ec); err != nil {
		return err
	}
	return h.smooth(lvl, dst, src, sm.PostSweeps)
}

// residual computes r = b - A·x on lvl
func (h *Hierarchy) residual(lvl *Level, r, x, b []float64) error {
	if err := lvl.Operator.MulVec(r, x); err != nil {
		return err
	}
	floats.SubTo(r, b, r)
	return nil
}

// smooth performs damped block Jacobi sweeps x += ω·D⁻¹(b − A·x)
func (h *Hierarchy) smooth(lvl *Level, x, b []float64, sweeps int) error {
	n := len(x)
	r := make([]float64, n)
	corr := make([]float64, n)
	omega := h.cfg.Smoother.Damping
	for s := 0; s < sweeps; s++ {
		if err := h.residual(lvl, r, x, b); err != nil {
			return err
		}
		for k, bs := range lvl.smoother {
			lo, hi := lvl.blocks[k], lvl.blocks[k+1]
			if err := bs.Solve(corr[lo:hi], r[lo:hi]); err != nil {
				return fmt.Errorf("multigrid: smoother block %d on level %d: %w", k, lvl.Index, err)
			}
		}
		floats.AddScaled(x, omega, corr)
	}
	return nil
}

func (h *Hierarchy) coarseSolve(lvl *Level, x, b []float64) error {
	if len(x) == 0 {
		return nil
	}
	if lvl.singular {
		sm := h.cfg.Smoother
		return h.smooth(lvl, x, b, sm.PreSweeps+sm.PostSweeps)
	}
	dst := mat.NewVecDense(len(x), x)
	if err := lvl.coarse.SolveVecTo(dst, false, mat.NewVecDense(len(b), append([]float64(nil), b...))); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return fmt.Errorf("multigrid: coarse solve on level %d: %w", lvl.Index, err)
		}
	}
	return nil
}

// Precondition approximates the inverse of the native operator: the native
// residual src is transformed to level 0, pinned, smoothed by one V-cycle
// and mapped back to a native correction dst
func (h *Hierarchy) Precondition(dst, src []float64) error {
	lvl, err := h.ready(0)
	if err != nil {
		return err
	}
	if err = checkLen("dst", dst, h.cfg.NativeMapping.LocalLength()); err != nil {
		return err
	}
	raw, err := h.rawRhs(lvl, src)
	if err != nil {
		return err
	}
	h.SetPressureReferencePointRHS(raw)
	b := make([]float64, len(raw))
	if err = lvl.Left.MulVec(b, raw); err != nil {
		return err
	}
	y := make([]float64, len(b))
	if err = h.Apply(0, y, b); err != nil {
		return err
	}
	out, err := h.TransformSolFrom(0, y)
	if err != nil {
		return err
	}
	copy(dst, out)
	return nil
}

// OperatorPin returns the entries replaced when the reference point was
// pinned on the raw level 0 operator
func (h *Hierarchy) OperatorPin() PinBackup { return h.pin }
