package aggregation

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/katalvlaran/lvlath/core"

	"github.com/notargets/DGSolver/grid"
)

// Grid is one level of the aggregation hierarchy. Level 0 is the identity
// aggregation of the base grid; every coarser level groups the cells of its
// parent. A Grid is immutable after construction and satisfies grid.Grid, so
// it can be coarsened again.
type Grid struct {
	Level      int
	ParentGrid *Grid     // nil on level 0
	Base       grid.Grid // Process-local base grid shared by all levels

	// AggregateToParts[i] lists the parent level cells merged into cell i
	AggregateToParts [][]int
	// PartToAggregate[k] is the cell of this level containing parent cell k
	PartToAggregate []int
	// BaseCells[i] lists the base grid cells of cell i, ordered so that the
	// first entry is the reference cell of the aggregate
	BaseCells [][]int

	adjacency *core.Graph
	neighbors [][]int
	volumes   []float64
	boxes     []grid.BoundingBox
}

// Identity returns the level 0 aggregation of base, one cell per aggregate
func Identity(base grid.Grid) (*Grid, error) {
	n := base.NumCells()
	g := &Grid{
		Base:             base,
		AggregateToParts: make([][]int, n),
		PartToAggregate:  make([]int, n),
		BaseCells:        make([][]int, n),
		volumes:          make([]float64, n),
		boxes:            make([]grid.BoundingBox, n),
	}
	for j := 0; j < n; j++ {
		g.AggregateToParts[j] = []int{j}
		g.PartToAggregate[j] = j
		g.BaseCells[j] = []int{j}
		g.volumes[j] = base.Volume(j)
		g.boxes[j] = base.BoundingBox(j)
	}
	if err := g.buildAdjacency(func(j int) []int { return base.Neighbors(j) }); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Grid) SpatialDimension() int              { return g.Base.SpatialDimension() }
func (g *Grid) NumCells() int                      { return len(g.AggregateToParts) }
func (g *Grid) Neighbors(j int) []int              { return g.neighbors[j] }
func (g *Grid) Volume(j int) float64               { return g.volumes[j] }
func (g *Grid) BoundingBox(j int) grid.BoundingBox { return g.boxes[j] }

// Adjacency is the cell graph of this level, vertex IDs are decimal cell
// indices
func (g *Grid) Adjacency() *core.Graph { return g.adjacency }

func vertexID(j int) string { return strconv.Itoa(j) }

// buildAdjacency fills the lvlath graph from the per cell neighbour lists
// returned by nb and caches the integer neighbour lists
func (g *Grid) buildAdjacency(nb func(j int) []int) error {
	n := g.NumCells()
	g.adjacency = core.NewGraph()
	for j := 0; j < n; j++ {
		if err := g.adjacency.AddVertex(vertexID(j)); err != nil {
			return fmt.Errorf("level %d: adding cell %d: %w", g.Level, j, err)
		}
	}
	for j := 0; j < n; j++ {
		for _, k := range nb(j) {
			if k == j || g.adjacency.HasEdge(vertexID(j), vertexID(k)) {
				continue
			}
			if _, err := g.adjacency.AddEdge(vertexID(j), vertexID(k), 0); err != nil {
				return fmt.Errorf("level %d: linking cells %d-%d: %w", g.Level, j, k, err)
			}
		}
	}
	g.neighbors = make([][]int, n)
	for j := 0; j < n; j++ {
		ids, err := g.adjacency.NeighborIDs(vertexID(j))
		if err != nil {
			return fmt.Errorf("level %d: neighbours of %d: %w", g.Level, j, err)
		}
		list := make([]int, 0, len(ids))
		for _, id := range ids {
			k, err := strconv.Atoi(id)
			if err != nil {
				return fmt.Errorf("level %d: bad vertex id %q: %w", g.Level, id, err)
			}
			list = append(list, k)
		}
		sort.Ints(list)
		g.neighbors[j] = list
	}
	return nil
}

// Validate checks that the cells of this level partition the parent cells
// and that the two index maps are mutual inverses
func (g *Grid) Validate() error {
	if g.ParentGrid == nil {
		for j, parts := range g.AggregateToParts {
			if len(parts) != 1 || parts[0] != j || g.PartToAggregate[j] != j {
				return fmt.Errorf("level 0 cell %d is not an identity aggregate", j)
			}
		}
		return nil
	}
	np := g.ParentGrid.NumCells()
	if len(g.PartToAggregate) != np {
		return fmt.Errorf("level %d maps %d parts, parent has %d cells",
			g.Level, len(g.PartToAggregate), np)
	}
	seen := make([]bool, np)
	for i, parts := range g.AggregateToParts {
		if len(parts) == 0 {
			return fmt.Errorf("level %d: aggregate %d is empty", g.Level, i)
		}
		for _, k := range parts {
			if k < 0 || k >= np {
				return fmt.Errorf("level %d: aggregate %d references cell %d outside parent", g.Level, i, k)
			}
			if seen[k] {
				return fmt.Errorf("level %d: parent cell %d assigned twice", g.Level, k)
			}
			seen[k] = true
			if g.PartToAggregate[k] != i {
				return fmt.Errorf("level %d: parent cell %d maps to %d, listed in %d",
					g.Level, k, g.PartToAggregate[k], i)
			}
		}
	}
	for k, ok := range seen {
		if !ok {
			return fmt.Errorf("level %d: parent cell %d not covered", g.Level, k)
		}
	}
	return nil
}

// BaseToAggregate returns, for every base cell, the cell of this level
// that contains it
func (g *Grid) BaseToAggregate() []int {
	m := make([]int, g.Base.NumCells())
	for i, cells := range g.BaseCells {
		for _, c := range cells {
			m[c] = i
		}
	}
	return m
}
