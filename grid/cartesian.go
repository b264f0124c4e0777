package grid

import (
	"fmt"
	"sort"

	"github.com/notargets/DGSolver/partitions"
)

// Cartesian is a tensor product grid of axis aligned box cells. Node
// coordinates may be non-uniform along each axis. Cells are numbered with
// the first axis running fastest.
type Cartesian struct {
	dim      int
	nodes    [][]float64 // Node coordinates per axis
	n        []int       // Cells per axis
	numCells int
}

// Face is an interior face between two cells, normal to Axis. Left is the
// cell on the low side.
type Face struct {
	Left, Right int
	Axis        int
}

// BoundaryFace is a face on the domain boundary. Side is -1 for the low
// end of Axis and +1 for the high end.
type BoundaryFace struct {
	Cell int
	Axis int
	Side int
}

// NewCartesian creates a grid from per-axis node coordinates. Each slice
// must be strictly increasing with at least two entries.
func NewCartesian(nodes ...[]float64) (*Cartesian, error) {
	if len(nodes) < 1 || len(nodes) > 3 {
		return nil, fmt.Errorf("cartesian grid: dimension %d not in [1,3]", len(nodes))
	}
	c := &Cartesian{
		dim:      len(nodes),
		nodes:    make([][]float64, len(nodes)),
		n:        make([]int, len(nodes)),
		numCells: 1,
	}
	for d, x := range nodes {
		if len(x) < 2 {
			return nil, fmt.Errorf("cartesian grid: axis %d needs at least 2 nodes", d)
		}
		for i := 1; i < len(x); i++ {
			if x[i] <= x[i-1] {
				return nil, fmt.Errorf("cartesian grid: axis %d nodes not increasing at %d", d, i)
			}
		}
		c.nodes[d] = append([]float64(nil), x...)
		c.n[d] = len(x) - 1
		c.numCells *= c.n[d]
	}
	return c, nil
}

// NewUniform creates a grid with cells[d] equal cells between lo[d] and hi[d]
func NewUniform(cells []int, lo, hi []float64) (*Cartesian, error) {
	if len(cells) != len(lo) || len(cells) != len(hi) {
		return nil, fmt.Errorf("uniform grid: inconsistent dimensions")
	}
	nodes := make([][]float64, len(cells))
	for d, nc := range cells {
		if nc < 1 {
			return nil, fmt.Errorf("uniform grid: axis %d has %d cells", d, nc)
		}
		nodes[d] = make([]float64, nc+1)
		for i := range nodes[d] {
			nodes[d][i] = lo[d] + (hi[d]-lo[d])*float64(i)/float64(nc)
		}
	}
	return NewCartesian(nodes...)
}

func (c *Cartesian) SpatialDimension() int { return c.dim }
func (c *Cartesian) NumCells() int         { return c.numCells }

// CellsPerAxis returns the number of cells along each axis
func (c *Cartesian) CellsPerAxis() []int { return append([]int(nil), c.n...) }

// CellIndex maps per-axis cell coordinates to the linear cell index
func (c *Cartesian) CellIndex(ijk []int) int {
	idx, stride := 0, 1
	for d := 0; d < c.dim; d++ {
		idx += ijk[d] * stride
		stride *= c.n[d]
	}
	return idx
}

// Coords maps a linear cell index to per-axis cell coordinates
func (c *Cartesian) Coords(j int) []int {
	ijk := make([]int, c.dim)
	for d := 0; d < c.dim; d++ {
		ijk[d] = j % c.n[d]
		j /= c.n[d]
	}
	return ijk
}

func (c *Cartesian) Neighbors(j int) []int {
	ijk := c.Coords(j)
	nbrs := make([]int, 0, 2*c.dim)
	for d := 0; d < c.dim; d++ {
		for _, s := range []int{-1, 1} {
			k := ijk[d] + s
			if k < 0 || k >= c.n[d] {
				continue
			}
			ijk[d] = k
			nbrs = append(nbrs, c.CellIndex(ijk))
			ijk[d] = k - s
		}
	}
	sort.Ints(nbrs)
	return nbrs
}

func (c *Cartesian) Volume(j int) float64 {
	ijk := c.Coords(j)
	v := 1.0
	for d := 0; d < c.dim; d++ {
		v *= c.nodes[d][ijk[d]+1] - c.nodes[d][ijk[d]]
	}
	return v
}

func (c *Cartesian) BoundingBox(j int) BoundingBox {
	ijk := c.Coords(j)
	b := BoundingBox{Min: make([]float64, c.dim), Max: make([]float64, c.dim)}
	for d := 0; d < c.dim; d++ {
		b.Min[d] = c.nodes[d][ijk[d]]
		b.Max[d] = c.nodes[d][ijk[d]+1]
	}
	return b
}

// InteriorFaces lists every face shared by two cells, once
func (c *Cartesian) InteriorFaces() []Face {
	var faces []Face
	for j := 0; j < c.numCells; j++ {
		ijk := c.Coords(j)
		for d := 0; d < c.dim; d++ {
			if ijk[d]+1 < c.n[d] {
				ijk[d]++
				faces = append(faces, Face{Left: j, Right: c.CellIndex(ijk), Axis: d})
				ijk[d]--
			}
		}
	}
	return faces
}

// BoundaryFaces lists every face on the domain boundary
func (c *Cartesian) BoundaryFaces() []BoundaryFace {
	var faces []BoundaryFace
	for j := 0; j < c.numCells; j++ {
		ijk := c.Coords(j)
		for d := 0; d < c.dim; d++ {
			if ijk[d] == 0 {
				faces = append(faces, BoundaryFace{Cell: j, Axis: d, Side: -1})
			}
			if ijk[d] == c.n[d]-1 {
				faces = append(faces, BoundaryFace{Cell: j, Axis: d, Side: 1})
			}
		}
	}
	return faces
}

// Connectivity returns the cell adjacency in the form used by the
// partition builder
func (c *Cartesian) Connectivity() *partitions.MeshConnectivity {
	cToC := make([][]int, c.numCells)
	for j := range cToC {
		cToC[j] = c.Neighbors(j)
	}
	return &partitions.MeshConnectivity{NumCells: c.numCells, CToC: cToC}
}
