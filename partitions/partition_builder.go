package partitions

import (
	"fmt"
	"math"
	"sort"
)

// PartitionBuilder constructs partitions from grid connectivity
type PartitionBuilder struct {
	// Grid connectivity
	Mesh *MeshConnectivity

	// Partitioning parameters
	NumPartitions int
	Strategy      PartitionStrategy
}

// MeshConnectivity provides the grid topology needed for partitioning
type MeshConnectivity struct {
	NumCells int

	// Cell-to-cell face adjacency, no self references
	CToC [][]int
}

// PartitionStrategy defines how cells are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive cells
	RoundRobin                              // Distribute cyclically

	// Graph-based strategies
	GraphPartition // Breadth-first graph growing from the lowest unassigned cell
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "round-robin"
	case GraphPartition:
		return "graph"
	}
	return fmt.Sprintf("PartitionStrategy(%d)", int(s))
}

// BuildPartitions creates a partition layout from grid connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil || pb.Mesh.NumCells <= 0 {
		return nil, fmt.Errorf("partition builder: empty mesh")
	}
	numPartitions := pb.NumPartitions
	if numPartitions < 1 {
		numPartitions = 1
	}
	if numPartitions > pb.Mesh.NumCells {
		return nil, fmt.Errorf("partition builder: %d partitions for %d cells",
			numPartitions, pb.Mesh.NumCells)
	}

	// Partition the cells
	cToP, err := pb.partitionCells(numPartitions)
	if err != nil {
		return nil, err
	}

	layout := &PartitionLayout{
		Partitions:    pb.createPartitions(cToP, numPartitions),
		TotalCells:    pb.Mesh.NumCells,
		NumPartitions: numPartitions,
		CToP:          cToP,
	}
	layout.buildLocalMaps()

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// partitionCells assigns cells to partitions
func (pb *PartitionBuilder) partitionCells(numPartitions int) ([]int, error) {
	n := pb.Mesh.NumCells
	cToP := make([]int, n)

	switch pb.Strategy {
	case BlockPartition:
		cellsPerPartition := int(math.Ceil(float64(n) / float64(numPartitions)))
		for i := 0; i < n; i++ {
			cToP[i] = i / cellsPerPartition
			if cToP[i] >= numPartitions {
				cToP[i] = numPartitions - 1
			}
		}

	case RoundRobin:
		for i := 0; i < n; i++ {
			cToP[i] = i % numPartitions
		}

	case GraphPartition:
		if len(pb.Mesh.CToC) != n {
			return nil, fmt.Errorf("graph partition: CToC has %d rows for %d cells",
				len(pb.Mesh.CToC), n)
		}
		pb.growPartitions(cToP, numPartitions)

	default:
		return nil, fmt.Errorf("unknown partition strategy %v", pb.Strategy)
	}

	return cToP, nil
}

// growPartitions fills each partition breadth-first until it reaches its
// share of cells. Disconnected leftovers seed a new front.
func (pb *PartitionBuilder) growPartitions(cToP []int, numPartitions int) {
	n := pb.Mesh.NumCells
	for i := range cToP {
		cToP[i] = -1
	}
	assigned := 0
	next := 0
	for p := 0; p < numPartitions; p++ {
		target := (n - assigned) / (numPartitions - p)
		size := 0
		var queue []int
		for size < target {
			if len(queue) == 0 {
				for next < n && cToP[next] >= 0 {
					next++
				}
				if next == n {
					break
				}
				cToP[next] = p
				size++
				queue = append(queue, next)
				continue
			}
			c := queue[0]
			queue = queue[1:]
			nbrs := append([]int(nil), pb.Mesh.CToC[c]...)
			sort.Ints(nbrs)
			for _, nb := range nbrs {
				if size == target {
					break
				}
				if cToP[nb] < 0 {
					cToP[nb] = p
					size++
					queue = append(queue, nb)
				}
			}
		}
		assigned += size
	}
}

// createPartitions builds partition structures from cell assignments
func (pb *PartitionBuilder) createPartitions(cToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)
	for i := range partitions {
		partitions[i] = Partition{
			ID:    i,
			Cells: make([]int, 0),
		}
	}

	for cell, part := range cToP {
		partitions[part].Cells = append(partitions[part].Cells, cell)
		partitions[part].NumCells++
	}
	return partitions
}
