package utils

import (
	"fmt"
	"math"
	"sync"
)

// Comm is the collective reduction capability shared by all processes that
// take part in a solve. Every rank must issue the same sequence of calls;
// a rank that skips a reduction blocks the others.
type Comm interface {
	Rank() int
	Size() int

	// AllReduceSum replaces vals with the element-wise sum over all ranks
	AllReduceSum(vals []float64)
	// AllReduceMax replaces vals with the element-wise maximum over all ranks
	AllReduceMax(vals []float64)
	// AllReduceMinInt replaces vals with the element-wise minimum over all
	// ranks. Values must fit in 53 bits.
	AllReduceMinInt(vals []int)
}

// Serial is the single-process Comm. All reductions are no-ops.
type Serial struct{}

func (Serial) Rank() int              { return 0 }
func (Serial) Size() int              { return 1 }
func (Serial) AllReduceSum([]float64) {}
func (Serial) AllReduceMax([]float64) {}
func (Serial) AllReduceMinInt([]int)  {}

// Group is an in-process set of ranks. Each rank runs on its own goroutine
// and obtains its Comm through Group.Comm; reductions block until every
// rank of the group has arrived.
type Group struct {
	size int

	mu         sync.Mutex
	cond       *sync.Cond
	arrived    int
	generation uint64
	op         reduceOp
	acc        []float64
	result     []float64
}

type reduceOp uint8

const (
	opSum reduceOp = iota
	opMax
	opMin
)

// NewGroup creates a group with size ranks
func NewGroup(size int) *Group {
	if size < 1 {
		panic(fmt.Sprintf("utils: invalid group size %d", size))
	}
	g := &Group{size: size}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Size returns the number of ranks in the group
func (g *Group) Size() int { return g.size }

// Comm returns the communicator for rank
func (g *Group) Comm(rank int) Comm {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("utils: rank %d outside group of size %d", rank, g.size))
	}
	return &groupComm{group: g, rank: rank}
}

// reduce combines vals across all ranks and writes the result back into vals
func (g *Group) reduce(op reduceOp, vals []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.arrived == 0 {
		g.op = op
		g.acc = append([]float64(nil), vals...)
	} else {
		if g.op != op || len(g.acc) != len(vals) {
			panic(fmt.Sprintf("utils: mismatched collective call (op %d/%d, len %d/%d)",
				g.op, op, len(g.acc), len(vals)))
		}
		for i, v := range vals {
			switch op {
			case opSum:
				g.acc[i] += v
			case opMax:
				g.acc[i] = math.Max(g.acc[i], v)
			case opMin:
				g.acc[i] = math.Min(g.acc[i], v)
			}
		}
	}
	g.arrived++

	gen := g.generation
	if g.arrived == g.size {
		g.result = g.acc
		g.acc = nil
		g.arrived = 0
		g.generation++
		g.cond.Broadcast()
	} else {
		for gen == g.generation {
			g.cond.Wait()
		}
	}
	copy(vals, g.result)
}

type groupComm struct {
	group *Group
	rank  int
}

func (c *groupComm) Rank() int { return c.rank }
func (c *groupComm) Size() int { return c.group.size }

func (c *groupComm) AllReduceSum(vals []float64) { c.group.reduce(opSum, vals) }
func (c *groupComm) AllReduceMax(vals []float64) { c.group.reduce(opMax, vals) }

func (c *groupComm) AllReduceMinInt(vals []int) {
	buf := make([]float64, len(vals))
	for i, v := range vals {
		buf[i] = float64(v)
	}
	c.group.reduce(opMin, buf)
	for i := range vals {
		vals[i] = int(buf[i])
	}
}

// ExclusiveScan returns the sum of local over all ranks below the caller
// and the total over all ranks.
func ExclusiveScan(c Comm, local int) (offset, total int) {
	counts := make([]float64, c.Size())
	counts[c.Rank()] = float64(local)
	c.AllReduceSum(counts)
	for r, n := range counts {
		if r < c.Rank() {
			offset += int(n)
		}
		total += int(n)
	}
	return
}

// SumScalar is a convenience wrapper reducing one value
func SumScalar(c Comm, v float64) float64 {
	buf := []float64{v}
	c.AllReduceSum(buf)
	return buf[0]
}

// MaxScalar is a convenience wrapper reducing one value
func MaxScalar(c Comm, v float64) float64 {
	buf := []float64{v}
	c.AllReduceMax(buf)
	return buf[0]
}
