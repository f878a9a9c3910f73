// Package metrics registers the process's Prometheus collectors: execution
// log outcomes and ring utilization, dispatcher concurrency, and HTTP
// request metrics for the control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schedulezero/schedulezero/internal/domain"
)

var (
	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "executions_total",
		Help:      "Total terminal executions, by outcome.",
	}, []string{"outcome"})

	RingUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "execution_ring_utilization",
		Help:      "Fraction of the execution log ring currently occupied.",
	})

	DispatcherInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "dispatcher_in_flight",
		Help:      "Number of firings currently held by the global dispatcher pool.",
	})

	HandlersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "handlers_connected",
		Help:      "Number of handlers currently reporting connected status.",
	})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "Control plane HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total control plane HTTP requests.",
	}, []string{"method", "path", "status"})

	HealthCheckUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
)

// Register registers every collector with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(
		ExecutionsTotal,
		RingUtilization,
		DispatcherInFlight,
		HandlersConnected,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HealthCheckUp,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ExecLogMetrics implements execlog.Metrics by mirroring ring state into
// the package-level Prometheus collectors above.
type ExecLogMetrics struct{}

func (ExecLogMetrics) ObserveExecution(status domain.ExecutionStatus) {
	ExecutionsTotal.WithLabelValues(string(status)).Inc()
}

func (ExecLogMetrics) SetRingUtilization(fraction float64) {
	RingUtilization.Set(fraction)
}
