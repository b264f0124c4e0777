package multigrid

import (
	"math"

	"github.com/notargets/DGSolver/linalg"
	"github.com/notargets/DGSolver/utils"
)

// noReference marks a field without a pinned row
const noReference = -1

// ReferenceIndex is the pinned row of one free-mean field. Local is -1 on
// every rank except the owner.
type ReferenceIndex struct {
	Field  int
	Global int
	Local  int
}

// PinBackup holds the entries overwritten by a reference point pin
type PinBackup struct {
	Rows    []int
	Values  []float64
	Entries []MatrixEntry
}

// MatrixEntry is one stored matrix value
type MatrixEntry struct {
	Row, Col int
	Value    float64
}

// DefineReferenceIndices picks, for every field flagged with a free mean
// value, the constant mode of the first owned cell with positive volume.
// Ranks are searched in ascending order, so the lowest rank with a
// candidate wins. This is a collective call.
func (h *Hierarchy) DefineReferenceIndices() []ReferenceIndex {
	m := h.levels[0].Mapping
	comm := h.cfg.Comm
	var refs []ReferenceIndex
	for f, free := range h.cfg.FreeMeanValue {
		if !free {
			continue
		}
		cell := noReference
		for j := 0; j < m.NumCells(); j++ {
			if m.Agg.Volume(j) > 0 && m.Modes(f) > 0 {
				cell = j
				break
			}
		}
		owner := []int{math.MaxInt32}
		if cell != noReference {
			owner[0] = comm.Rank()
		}
		comm.AllReduceMinInt(owner)
		if owner[0] == math.MaxInt32 {
			h.log.Warn("no cell can carry the reference point", "field", f)
			continue
		}
		ref := ReferenceIndex{Field: f, Local: noReference}
		var global float64
		if owner[0] == comm.Rank() {
			ref.Local = m.Index(cell, f, 0)
			global = float64(m.GlobalOffset() + ref.Local)
		}
		ref.Global = int(utils.SumScalar(comm, global))
		refs = append(refs, ref)
	}
	h.refs = refs
	return refs
}

// ReferenceIndices returns the indices recorded by DefineReferenceIndices
func (h *Hierarchy) ReferenceIndices() []ReferenceIndex { return h.refs }

func (h *Hierarchy) localReferenceRows() []int {
	var rows []int
	for _, r := range h.refs {
		if r.Local != noReference {
			rows = append(rows, r.Local)
		}
	}
	return rows
}

// SetPressureReferencePointRHS zeroes the reference rows of rhs in place
// and returns the overwritten values
func (h *Hierarchy) SetPressureReferencePointRHS(rhs []float64) PinBackup {
	var b PinBackup
	for _, r := range h.localReferenceRows() {
		b.Rows = append(b.Rows, r)
		b.Values = append(b.Values, rhs[r])
		rhs[r] = 0
	}
	return b
}

// RestoreRHS undoes SetPressureReferencePointRHS
func RestoreRHS(rhs []float64, b PinBackup) {
	for k, r := range b.Rows {
		rhs[r] = b.Values[k]
	}
}

// SetPressureReferencePointMTX returns a copy of m whose reference rows and
// columns are zero with a unit diagonal, and the entries it replaced
func (h *Hierarchy) SetPressureReferencePointMTX(m *linalg.Matrix) (*linalg.Matrix, PinBackup) {
	rows := h.localReferenceRows()
	if len(rows) == 0 {
		return m, PinBackup{}
	}
	pinned := make(map[int]bool, len(rows))
	for _, r := range rows {
		pinned[r] = true
	}
	var b PinBackup
	bld := m.Builder()
	m.DoNonZero(func(i, j int, v float64) {
		if pinned[i] || pinned[j] {
			b.Entries = append(b.Entries, MatrixEntry{Row: i, Col: j, Value: v})
			bld.Set(i, j, 0)
		}
	})
	for _, r := range rows {
		bld.Set(r, r, 1)
	}
	b.Rows = rows
	return bld.Build(), b
}

// RestoreMTX undoes SetPressureReferencePointMTX on a pinned matrix
func RestoreMTX(m *linalg.Matrix, b PinBackup) *linalg.Matrix {
	if len(b.Rows) == 0 && len(b.Entries) == 0 {
		return m
	}
	bld := m.Builder()
	for _, r := range b.Rows {
		bld.Set(r, r, 0)
	}
	for _, e := range b.Entries {
		bld.Set(e.Row, e.Col, e.Value)
	}
	return bld.Build()
}
