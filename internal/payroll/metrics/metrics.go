package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for payroll ledger operations.
type Metrics struct {
	// Operation outcomes by operation, outcome ("ok" or "error") and reason
	Operations *prometheus.CounterVec

	// Operation latency including the transaction
	OperationLatency *prometheus.HistogramVec

	// Screening oracle latency by outcome
	ScreeningLatency *prometheus.HistogramVec

	// Compliance deactivations triggered by a failing re-screen
	AutoDeactivations prometheus.Counter
}

// New registers the payroll metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_payroll_operations_total",
			Help: "Total payroll operations by outcome and failure reason",
		}, []string{"operation", "outcome", "reason"}),

		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paygate_payroll_operation_duration_seconds",
			Help:    "Duration of payroll operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		ScreeningLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paygate_payroll_screening_duration_seconds",
			Help:    "Duration of screening oracle lookups",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"outcome"}),

		AutoDeactivations: factory.NewCounter(prometheus.CounterOpts{
			Name: "paygate_payroll_auto_deactivations_total",
			Help: "Employees deactivated because a screening update fell below the threshold",
		}),
	}
}

// ObserveOperation records one operation result. reason is empty on success.
func (m *Metrics) ObserveOperation(operation, reason string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if reason == "" {
			reason = "internal"
		}
	}
	m.Operations.WithLabelValues(operation, outcome, reason).Inc()
	m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveScreening records an oracle lookup.
func (m *Metrics) ObserveScreening(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ScreeningLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncrementAutoDeactivations counts one compliance deactivation.
func (m *Metrics) IncrementAutoDeactivations() {
	if m != nil {
		m.AutoDeactivations.Inc()
	}
}
