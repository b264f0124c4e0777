package solver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the solver counters exported to prometheus. A nil *Metrics
// records nothing.
type Metrics struct {
	NewtonIterations prometheus.Counter
	Evaluations      prometheus.Counter
	KrylovIterations prometheus.Counter
	Relinearizations prometheus.Counter
	ResidualNorm     prometheus.Gauge
	Solves           *prometheus.CounterVec
}

// NewMetrics registers the solver metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NewtonIterations: f.NewCounter(prometheus.CounterOpts{
			Name: "dgsolver_newton_iterations_total",
			Help: "Accepted Newton iterations",
		}),
		Evaluations: f.NewCounter(prometheus.CounterOpts{
			Name: "dgsolver_residual_evaluations_total",
			Help: "Residual operator evaluations",
		}),
		KrylovIterations: f.NewCounter(prometheus.CounterOpts{
			Name: "dgsolver_krylov_iterations_total",
			Help: "Inner linear solver iterations",
		}),
		Relinearizations: f.NewCounter(prometheus.CounterOpts{
			Name: "dgsolver_relinearizations_total",
			Help: "Jacobian assemblies and preconditioner rebuilds",
		}),
		ResidualNorm: f.NewGauge(prometheus.GaugeOpts{
			Name: "dgsolver_residual_norm",
			Help: "Residual norm of the current Newton iterate",
		}),
		Solves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dgsolver_solves_total",
			Help: "Nonlinear solves by terminal status",
		}, []string{"status"}),
	}
}

func (m *Metrics) iteration(norm float64) {
	if m == nil {
		return
	}
	m.NewtonIterations.Inc()
	m.ResidualNorm.Set(norm)
}

func (m *Metrics) evaluation() {
	if m != nil {
		m.Evaluations.Inc()
	}
}

func (m *Metrics) krylov(n int) {
	if m != nil {
		m.KrylovIterations.Add(float64(n))
	}
}

func (m *Metrics) relinearization() {
	if m != nil {
		m.Relinearizations.Inc()
	}
}

func (m *Metrics) finished(s Status) {
	if m != nil {
		m.Solves.WithLabelValues(s.String()).Inc()
	}
}
