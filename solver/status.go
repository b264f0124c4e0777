package solver

// Status is the terminal state of a nonlinear solve
type Status uint8

const (
	Running Status = iota
	Converged
	MaxIterReached
	LineSearchFailed
	TrustRegionFailed
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterReached:
		return "max_iter_reached"
	case LineSearchFailed:
		return "line_search_failed"
	case TrustRegionFailed:
		return "trust_region_failed"
	default:
		return "running"
	}
}

// Result summarises a nonlinear solve. X is the final iterate when the
// solve converged and the best iterate seen otherwise.
type Result struct {
	X                []float64
	Status           Status
	Iterations       int
	InitialNorm      float64
	ResidualNorm     float64
	History          []float64 // Residual norm after every iteration, starting with the initial one
	Evaluations      int
	LinearIterations int
	Relinearizations int
}
