package aggregation

import (
	"fmt"
	"sort"

	"github.com/notargets/DGSolver/grid"
)

// Weights of the merge quality score
const (
	volumeWeight = 0.7
	aspectWeight = 0.3
)

// BuildSequence builds the aggregation levels of base, finest first.
// maxDepth is the maximum number of levels including the identity level.
// Coarsening stops early once a step no longer reduces the cell count.
func BuildSequence(base grid.Grid, maxDepth int) ([]*Grid, error) {
	if maxDepth < 1 {
		return nil, fmt.Errorf("aggregation: maxDepth %d must be at least 1", maxDepth)
	}
	level0, err := Identity(base)
	if err != nil {
		return nil, err
	}
	seq := []*Grid{level0}
	for len(seq) < maxDepth {
		last := seq[len(seq)-1]
		next, err := Coarsen(last)
		if err != nil {
			return nil, err
		}
		if next.NumCells() >= last.NumCells() {
			break
		}
		seq = append(seq, next)
	}
	return seq, nil
}

// Coarsen merges the cells of level pairwise into the next level. Cells are
// visited smallest volume first; each picks the unused neighbour with the
// lowest score 0.7·vol/maxVol + 0.3·aspect/maxAspect of the merged pair,
// normalised over the candidates. A cell without unused neighbours becomes
// a singleton.
func Coarsen(level *Grid) (*Grid, error) {
	n := level.NumCells()
	order := make([]int, n)
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		return level.Volume(order[a]) < level.Volume(order[b])
	})

	used := make([]bool, n)
	var aggregates [][]int
	for _, j := range order {
		if used[j] {
			continue
		}
		used[j] = true
		if k := bestPartner(level, j, used); k >= 0 {
			used[k] = true
			aggregates = append(aggregates, []int{j, k})
			continue
		}
		aggregates = append(aggregates, []int{j})
	}
	return newCoarseGrid(level, aggregates)
}

// bestPartner returns the unused neighbour of j with the lowest merge score,
// or -1
func bestPartner(level *Grid, j int, used []bool) int {
	type candidate struct {
		cell   int
		volume float64
		aspect float64
	}
	var cands []candidate
	var maxVol, maxAspect float64
	box := level.BoundingBox(j)
	for _, k := range level.Neighbors(j) {
		if used[k] {
			continue
		}
		c := candidate{
			cell:   k,
			volume: level.Volume(j) + level.Volume(k),
			aspect: box.Union(level.BoundingBox(k)).AspectRatio(),
		}
		if c.volume > maxVol {
			maxVol = c.volume
		}
		if c.aspect > maxAspect {
			maxAspect = c.aspect
		}
		cands = append(cands, c)
	}
	best, bestScore := -1, 0.0
	for _, c := range cands {
		var score float64
		if maxVol > 0 {
			score += volumeWeight * c.volume / maxVol
		}
		if maxAspect > 0 {
			score += aspectWeight * c.aspect / maxAspect
		}
		if best < 0 || score < bestScore {
			best, bestScore = c.cell, score
		}
	}
	return best
}

func newCoarseGrid(parent *Grid, aggregates [][]int) (*Grid, error) {
	n := len(aggregates)
	g := &Grid{
		Level:            parent.Level + 1,
		ParentGrid:       parent,
		Base:             parent.Base,
		AggregateToParts: aggregates,
		PartToAggregate:  make([]int, parent.NumCells()),
		BaseCells:        make([][]int, n),
		volumes:          make([]float64, n),
		boxes:            make([]grid.BoundingBox, n),
	}
	for i, parts := range aggregates {
		for _, k := range parts {
			g.PartToAggregate[k] = i
			g.BaseCells[i] = append(g.BaseCells[i], parent.BaseCells[k]...)
			g.volumes[i] += parent.Volume(k)
			g.boxes[i] = g.boxes[i].Union(parent.BoundingBox(k))
		}
	}
	err := g.buildAdjacency(func(i int) []int {
		var nb []int
		for _, k := range g.AggregateToParts[i] {
			for _, kn := range parent.Neighbors(k) {
				nb = append(nb, g.PartToAggregate[kn])
			}
		}
		return nb
	})
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
