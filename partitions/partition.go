package partitions

import (
	"fmt"
)

// Partition is the set of base cells owned by one process
type Partition struct {
	// Unique identifier for this partition, equal to the owning rank
	ID int

	// Cell membership
	Cells    []int // Global cell indices in this partition, ascending
	NumCells int   // Number of owned cells
}

// PartitionLayout manages the complete decomposition of a base grid
type PartitionLayout struct {
	// All partitions of the grid
	Partitions []Partition

	// Global sizing information
	TotalCells    int // Sum of all cells across partitions
	NumPartitions int // Total number of partitions

	// Cell to partition mapping
	CToP []int // Length TotalCells: cell k belongs to partition CToP[k]

	// Global to local cell numbering, per partition
	globalToLocal []map[int]int
}

// GetPartition returns the partition containing cell k
func (pl *PartitionLayout) GetPartition(cellID int) int {
	if cellID < 0 || cellID >= len(pl.CToP) {
		return -1
	}
	return pl.CToP[cellID]
}

// LocalIndex returns the local number of a global cell inside partition p,
// or -1 if the cell is not owned by p.
func (pl *PartitionLayout) LocalIndex(p, cellID int) int {
	if p < 0 || p >= len(pl.globalToLocal) {
		return -1
	}
	if loc, ok := pl.globalToLocal[p][cellID]; ok {
		return loc
	}
	return -1
}

// GlobalIndex returns the global cell number of local cell loc in partition p
func (pl *PartitionLayout) GlobalIndex(p, loc int) int {
	return pl.Partitions[p].Cells[loc]
}

// ValidateLayout checks that every cell is owned by exactly one partition
// and that CToP agrees with the membership lists.
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("layout has %d partitions, NumPartitions is %d",
			len(pl.Partitions), pl.NumPartitions)
	}
	seen := make([]bool, pl.TotalCells)
	count := 0
	for _, p := range pl.Partitions {
		if p.NumCells != len(p.Cells) {
			return fmt.Errorf("partition %d: NumCells %d != len(Cells) %d",
				p.ID, p.NumCells, len(p.Cells))
		}
		for _, c := range p.Cells {
			if c < 0 || c >= pl.TotalCells {
				return fmt.Errorf("partition %d: cell %d out of range", p.ID, c)
			}
			if seen[c] {
				return fmt.Errorf("cell %d owned by more than one partition", c)
			}
			if pl.CToP[c] != p.ID {
				return fmt.Errorf("cell %d: CToP says %d, membership says %d",
					c, pl.CToP[c], p.ID)
			}
			seen[c] = true
			count++
		}
	}
	if count != pl.TotalCells {
		return fmt.Errorf("partitions cover %d of %d cells", count, pl.TotalCells)
	}
	return nil
}

func (pl *PartitionLayout) buildLocalMaps() {
	pl.globalToLocal = make([]map[int]int, pl.NumPartitions)
	for p, part := range pl.Partitions {
		pl.globalToLocal[p] = make(map[int]int, part.NumCells)
		for loc, c := range part.Cells {
			pl.globalToLocal[p][c] = loc
		}
	}
}
