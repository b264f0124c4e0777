package linalg

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/DGSolver/utils"
)

// Dot is the global inner product of the local shards a and b
func Dot(c utils.Comm, a, b []float64) float64 {
	return utils.SumScalar(c, floats.Dot(a, b))
}

// Norm is the global Euclidean norm of the local shard x
func Norm(c utils.Comm, x []float64) float64 {
	return math.Sqrt(Dot(c, x, x))
}

// Axpy computes y += alpha * x
func Axpy(alpha float64, x, y []float64) {
	floats.AddScaled(y, alpha, x)
}

// Copy returns a fresh copy of x
func Copy(x []float64) []float64 {
	return append([]float64(nil), x...)
}
