package partitions

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineConnectivity builds the adjacency of a 1D chain of n cells
func lineConnectivity(n int) *MeshConnectivity {
	cToC := make([][]int, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			cToC[i] = append(cToC[i], i-1)
		}
		if i < n-1 {
			cToC[i] = append(cToC[i], i+1)
		}
	}
	return &MeshConnectivity{NumCells: n, CToC: cToC}
}

func TestBuildPartitionsStrategies(t *testing.T) {
	for _, strategy := range []PartitionStrategy{BlockPartition, RoundRobin, GraphPartition} {
		t.Run(strategy.String(), func(t *testing.T) {
			pb := &PartitionBuilder{
				Mesh:          lineConnectivity(10),
				NumPartitions: 3,
				Strategy:      strategy,
			}
			layout, err := pb.BuildPartitions()
			require.NoError(t, err)
			require.NoError(t, layout.ValidateLayout())
			assert.Equal(t, 3, layout.NumPartitions)

			total := 0
			for p, part := range layout.Partitions {
				assert.Greater(t, part.NumCells, 0, "partition %d is empty", p)
				total += part.NumCells
				for loc, c := range part.Cells {
					assert.Equal(t, loc, layout.LocalIndex(p, c))
					assert.Equal(t, c, layout.GlobalIndex(p, loc))
					assert.Equal(t, p, layout.GetPartition(c))
				}
			}
			assert.Equal(t, 10, total)
		})
	}
}

func TestGraphPartitionIsContiguousOnChain(t *testing.T) {
	pb := &PartitionBuilder{
		Mesh:          lineConnectivity(12),
		NumPartitions: 4,
		Strategy:      GraphPartition,
	}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)
	for _, part := range layout.Partitions {
		assert.Equal(t, 3, part.NumCells)
		for i := 1; i < len(part.Cells); i++ {
			assert.Equal(t, part.Cells[i-1]+1, part.Cells[i],
				fmt.Sprintf("partition %d not contiguous: %v", part.ID, part.Cells))
		}
	}
}

func TestBuildPartitionsRejectsBadInput(t *testing.T) {
	_, err := (&PartitionBuilder{Mesh: &MeshConnectivity{}}).BuildPartitions()
	assert.Error(t, err)

	_, err = (&PartitionBuilder{Mesh: lineConnectivity(2), NumPartitions: 3}).BuildPartitions()
	assert.Error(t, err)

	_, err = (&PartitionBuilder{
		Mesh:          &MeshConnectivity{NumCells: 4},
		NumPartitions: 2,
		Strategy:      GraphPartition,
	}).BuildPartitions()
	assert.Error(t, err)
}

func TestValidateLayoutDetectsOverlap(t *testing.T) {
	layout := &PartitionLayout{
		Partitions: []Partition{
			{ID: 0, Cells: []int{0, 1}, NumCells: 2},
			{ID: 1, Cells: []int{1}, NumCells: 1},
		},
		TotalCells:    2,
		NumPartitions: 2,
		CToP:          []int{0, 1},
	}
	assert.Error(t, layout.ValidateLayout())
}
