// Package metrics holds the Prometheus collectors of the wallet service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	Operations   *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_operations_total",
				Help: "Balance operations by type and terminal outcome.",
			},
			[]string{"operation", "status"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_operation_retries_total",
				Help: "Retried balance operation attempts by failure kind.",
			},
			[]string{"reason"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Latency of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(m.Operations, m.Retries, m.HTTPDuration)
	return m
}

// ObserveOperation counts one finished operation.
func (m *Metrics) ObserveOperation(operation, status string) {
	m.Operations.WithLabelValues(operation, status).Inc()
}

// ObserveRetry counts one retried attempt.
func (m *Metrics) ObserveRetry(reason string) {
	m.Retries.WithLabelValues(reason).Inc()
}
