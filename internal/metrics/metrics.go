// Package metrics exposes order and ledger counters for Prometheus.
//
// A nil *Metrics is valid and records nothing, so services and tests can
// run without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	orderOps     *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	ledgerOps    *prometheus.CounterVec
	eventsFailed *prometheus.CounterVec
	pending      prometheus.Gauge
}

// New registers all collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		orderOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerage",
			Name:      "order_operations_total",
			Help:      "Order operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brokerage",
			Name:      "order_operation_duration_seconds",
			Help:      "Latency of order operations, lock waits included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerage",
			Name:      "ledger_operations_total",
			Help:      "Ledger entry mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerage",
			Name:      "event_delivery_failures_total",
			Help:      "Order events that a sink failed to deliver.",
		}, []string{"sink"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "brokerage",
			Name:      "pending_orders_observed",
			Help:      "Pending orders seen by the last pending-order listing.",
		}),
	}
	reg.MustRegister(
		m.orderOps, m.opDuration, m.ledgerOps, m.eventsFailed, m.pending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOrderOp records one order operation.
func (m *Metrics) ObserveOrderOp(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.orderOps.WithLabelValues(operation, outcome).Inc()
	m.opDuration.WithLabelValues(operation).Observe(took.Seconds())
}

// IncLedgerOp records one reserve/release/credit/debit.
func (m *Metrics) IncLedgerOp(kind, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(kind, outcome).Inc()
}

// IncEventFailure records an event a sink could not deliver.
func (m *Metrics) IncEventFailure(sink string) {
	if m == nil {
		return
	}
	m.eventsFailed.WithLabelValues(sink).Inc()
}

// SetPending records the size of the last pending-order listing.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
