// Package metrics exposes Prometheus instrumentation for the bridge and the
// engine worker. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluation outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Metrics holds all Prometheus metrics for one or more engine handles.
type Metrics struct {
	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	unmatched       prometheus.Counter

	// Worker metrics
	evaluations  *prometheus.CounterVec
	awaiting     prometheus.Gauge
	ticks        prometheus.Counter
	bootDuration *prometheus.HistogramVec
	workerExits  *prometheus.CounterVec

	// Host operation metrics
	hostCalls *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jscore_requests_total",
				Help: "Execute calls by outcome as seen by the caller",
			},
			[]string{"outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jscore_request_duration_seconds",
				Help:    "Execute latency from submission to response",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jscore_requests_in_flight",
				Help: "Reply slots currently waiting for a response",
			},
		),

		unmatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jscore_unmatched_responses_total",
				Help: "Responses dropped because their caller had already gone away",
			},
		),

		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jscore_evaluations_total",
				Help: "Scripts evaluated by the engine worker by outcome",
			},
			[]string{"outcome"},
		),

		awaiting: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jscore_evaluations_awaiting",
				Help: "Evaluations whose promise result has not settled yet",
			},
		),

		ticks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jscore_scheduler_ticks_total",
				Help: "Cooperative scheduler ticks run by engine workers",
			},
		),

		bootDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jscore_boot_duration_seconds",
				Help:    "Time from worker start to boot signal",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),

		workerExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jscore_worker_exits_total",
				Help: "Engine worker terminations by reason",
			},
			[]string{"reason"},
		),

		hostCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jscore_host_calls_total",
				Help: "host.call invocations by function and status",
			},
			[]string{"name", "status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.inFlight,
		m.unmatched,
		m.evaluations,
		m.awaiting,
		m.ticks,
		m.bootDuration,
		m.workerExits,
		m.hostCalls,
	)

	return m
}

// RecordRequest records a finished Execute call.
func (m *Metrics) RecordRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// AddInFlight adjusts the number of outstanding reply slots.
func (m *Metrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlight.Add(float64(delta))
}

// RecordUnmatched counts a response nobody was waiting for.
func (m *Metrics) RecordUnmatched() {
	if m == nil {
		return
	}
	m.unmatched.Inc()
}

// RecordEvaluation counts a script answered by the worker.
func (m *Metrics) RecordEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}

// SetAwaiting reports how many evaluations wait on a promise.
func (m *Metrics) SetAwaiting(n int) {
	if m == nil {
		return
	}
	m.awaiting.Set(float64(n))
}

// AddTicks counts scheduler ticks.
func (m *Metrics) AddTicks(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.ticks.Add(float64(n))
}

// RecordBoot records how long bootstrap took and whether it succeeded.
func (m *Metrics) RecordBoot(ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.bootDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordWorkerExit counts a worker termination.
func (m *Metrics) RecordWorkerExit(reason string) {
	if m == nil {
		return
	}
	m.workerExits.WithLabelValues(reason).Inc()
}

// RecordHostCall counts a host.call completion.
func (m *Metrics) RecordHostCall(name string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.hostCalls.WithLabelValues(name, status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
