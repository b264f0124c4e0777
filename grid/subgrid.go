package grid

import (
	"fmt"

	"github.com/notargets/DGSolver/partitions"
)

// SubGrid is the part of a grid owned by one partition. Neighbour lists are
// restricted to cells of the same partition.
type SubGrid struct {
	parent    Grid
	rank      int
	local2glb []int
	neighbors [][]int
}

// Partition extracts the cells of partition rank from g
func Partition(g Grid, layout *partitions.PartitionLayout, rank int) (*SubGrid, error) {
	if layout.TotalCells != g.NumCells() {
		return nil, fmt.Errorf("partition layout covers %d cells, grid has %d",
			layout.TotalCells, g.NumCells())
	}
	if rank < 0 || rank >= layout.NumPartitions {
		return nil, fmt.Errorf("rank %d outside %d partitions", rank, layout.NumPartitions)
	}
	part := layout.Partitions[rank]
	sg := &SubGrid{
		parent:    g,
		rank:      rank,
		local2glb: append([]int(nil), part.Cells...),
		neighbors: make([][]int, part.NumCells),
	}
	for loc, glb := range sg.local2glb {
		for _, nb := range g.Neighbors(glb) {
			if l := layout.LocalIndex(rank, nb); l >= 0 {
				sg.neighbors[loc] = append(sg.neighbors[loc], l)
			}
		}
	}
	return sg, nil
}

func (s *SubGrid) SpatialDimension() int         { return s.parent.SpatialDimension() }
func (s *SubGrid) NumCells() int                 { return len(s.local2glb) }
func (s *SubGrid) Neighbors(j int) []int         { return s.neighbors[j] }
func (s *SubGrid) Volume(j int) float64          { return s.parent.Volume(s.local2glb[j]) }
func (s *SubGrid) BoundingBox(j int) BoundingBox { return s.parent.BoundingBox(s.local2glb[j]) }

// Global returns the index of local cell j in the parent grid
func (s *SubGrid) Global(j int) int { return s.local2glb[j] }

// Rank is the partition this sub-grid belongs to
func (s *SubGrid) Rank() int { return s.rank }
