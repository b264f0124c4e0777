package element

import (
	"gonum.org/v1/gonum/integrate/quad"

	"github.com/notargets/DGSolver/grid"
)

// GaussPoints returns the n point Gauss-Legendre rule on [min, max]
func GaussPoints(n int, min, max float64) (x, w []float64) {
	x = make([]float64, n)
	w = make([]float64, n)
	quad.Legendre{}.FixedLocations(x, w, min, max)
	return
}

// pointsForOrder is the number of Gauss points integrating polynomials of
// the given degree exactly
func pointsForOrder(order int) int {
	if order < 0 {
		order = 0
	}
	return order/2 + 1
}

// BoxQuadrature returns a tensor Gauss rule on box, exact for polynomials
// of degree order in each coordinate
func BoxQuadrature(box grid.BoundingBox, order int) (points [][]float64, weights []float64) {
	n := pointsForOrder(order)
	dim := box.Dim()
	xs := make([][]float64, dim)
	ws := make([][]float64, dim)
	for d := 0; d < dim; d++ {
		xs[d], ws[d] = GaussPoints(n, box.Min[d], box.Max[d])
	}
	return tensorRule(xs, ws)
}

// FaceQuadrature returns a Gauss rule on the face of box normal to axis at
// coordinate coord, exact for polynomials of degree order along the face.
// In 1D the rule is the single point coord with weight 1.
func FaceQuadrature(box grid.BoundingBox, axis int, coord float64, order int) (points [][]float64, weights []float64) {
	n := pointsForOrder(order)
	dim := box.Dim()
	xs := make([][]float64, dim)
	ws := make([][]float64, dim)
	for d := 0; d < dim; d++ {
		if d == axis {
			xs[d], ws[d] = []float64{coord}, []float64{1}
			continue
		}
		xs[d], ws[d] = GaussPoints(n, box.Min[d], box.Max[d])
	}
	return tensorRule(xs, ws)
}

func tensorRule(xs, ws [][]float64) (points [][]float64, weights []float64) {
	dim := len(xs)
	total := 1
	for d := 0; d < dim; d++ {
		total *= len(xs[d])
	}
	points = make([][]float64, total)
	weights = make([]float64, total)
	idx := make([]int, dim)
	for q := 0; q < total; q++ {
		pt := make([]float64, dim)
		w := 1.0
		for d := 0; d < dim; d++ {
			pt[d] = xs[d][idx[d]]
			w *= ws[d][idx[d]]
		}
		points[q], weights[q] = pt, w
		for d := 0; d < dim; d++ {
			idx[d]++
			if idx[d] < len(xs[d]) {
				break
			}
			idx[d] = 0
		}
	}
	return
}
