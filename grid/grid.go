package grid

import (
	"fmt"
	"math"
)

// Grid is the topology provider consumed by the aggregation builder and the
// DG basis. Cell indices are process-local, 0..NumCells()-1.
type Grid interface {
	// SpatialDimension is 1, 2 or 3
	SpatialDimension() int
	NumCells() int
	// Neighbors returns the face neighbours of cell j owned by this process
	Neighbors(j int) []int
	Volume(j int) float64
	BoundingBox(j int) BoundingBox
}

// BoundingBox is an axis aligned box [Min, Max]
type BoundingBox struct {
	Min, Max []float64
}

// NewBoundingBox copies min and max into a new box
func NewBoundingBox(min, max []float64) BoundingBox {
	return BoundingBox{
		Min: append([]float64(nil), min...),
		Max: append([]float64(nil), max...),
	}
}

// Dim is the number of coordinate directions of the box
func (b BoundingBox) Dim() int { return len(b.Min) }

// Union returns the smallest box containing b and o
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	if len(b.Min) == 0 {
		return NewBoundingBox(o.Min, o.Max)
	}
	u := NewBoundingBox(b.Min, b.Max)
	for d := range u.Min {
		u.Min[d] = math.Min(u.Min[d], o.Min[d])
		u.Max[d] = math.Max(u.Max[d], o.Max[d])
	}
	return u
}

// Extent returns the edge lengths of the box
func (b BoundingBox) Extent() []float64 {
	e := make([]float64, len(b.Min))
	for d := range e {
		e[d] = b.Max[d] - b.Min[d]
	}
	return e
}

// Center returns the midpoint of the box
func (b BoundingBox) Center() []float64 {
	c := make([]float64, len(b.Min))
	for d := range c {
		c[d] = 0.5 * (b.Min[d] + b.Max[d])
	}
	return c
}

// AspectRatio is the longest edge divided by the shortest edge. A 1D box
// has aspect ratio 1.
func (b BoundingBox) AspectRatio() float64 {
	e := b.Extent()
	lo, hi := math.Inf(1), 0.0
	for _, v := range e {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if len(e) < 2 || lo <= 0 {
		return 1
	}
	return hi / lo
}

// Contains reports whether x lies inside the box, boundary included
func (b BoundingBox) Contains(x []float64) bool {
	for d := range b.Min {
		if x[d] < b.Min[d] || x[d] > b.Max[d] {
			return false
		}
	}
	return true
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%v, %v]", b.Min, b.Max)
}
