package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSerialIsNoOp(t *testing.T) {
	var c Comm = Serial{}
	vals := []float64{1, -2, 3}
	c.AllReduceSum(vals)
	c.AllReduceMax(vals)
	assert.Equal(t, []float64{1, -2, 3}, vals)
	off, total := ExclusiveScan(c, 7)
	assert.Equal(t, 0, off)
	assert.Equal(t, 7, total)
}

func TestGroupReductions(t *testing.T) {
	const size = 4
	g := NewGroup(size)

	sums := make([][]float64, size)
	maxs := make([]float64, size)
	mins := make([][]int, size)
	offsets := make([]int, size)
	totals := make([]int, size)

	var eg errgroup.Group
	for r := 0; r < size; r++ {
		comm := g.Comm(r)
		eg.Go(func() error {
			rank := comm.Rank()
			// repeated reductions exercise generation hand-over
			for it := 0; it < 50; it++ {
				v := []float64{float64(rank), 1}
				comm.AllReduceSum(v)
				sums[rank] = v
			}
			maxs[rank] = MaxScalar(comm, float64(10*rank))
			m := []int{100 - rank, rank}
			comm.AllReduceMinInt(m)
			mins[rank] = m
			offsets[rank], totals[rank] = ExclusiveScan(comm, rank+1)
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	for r := 0; r < size; r++ {
		assert.Equal(t, []float64{6, 4}, sums[r])
		assert.Equal(t, 30.0, maxs[r])
		assert.Equal(t, []int{97, 0}, mins[r])
		assert.Equal(t, 10, totals[r])
	}
	assert.Equal(t, []int{0, 1, 3, 6}, offsets)
}

func TestAllFinite(t *testing.T) {
	assert.True(t, AllFinite([]float64{0, 1, -1e300}))
	inf := 1e308
	inf *= 10
	assert.False(t, AllFinite([]float64{0, inf}))
	assert.False(t, IsFinite(inf-inf))
}
