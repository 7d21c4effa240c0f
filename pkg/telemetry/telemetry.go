// Package telemetry exposes the adapter-level prometheus metrics. Adapters
// record through a *Metrics handle so tests can isolate registries; all
// record methods are nil-safe, so an adapter configured without metrics
// pays only a nil check.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Requests      *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	BodyRejected  *prometheus.CounterVec
	Timeouts      *prometheus.CounterVec
	ColdStarts    *prometheus.CounterVec
	KernelPanics  *prometheus.CounterVec
	ScheduledRuns *prometheus.CounterVec
}

// New builds the metric set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portico_requests_total",
			Help: "Requests dispatched into the kernel, by platform, event source and status.",
		}, []string{"platform", "source", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portico_request_duration_seconds",
			Help:    "Wall time from event receipt to formatted response.",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		BodyRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portico_body_rejected_total",
			Help: "Requests rejected for exceeding the body size limit.",
		}, []string{"platform"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portico_timeouts_total",
			Help: "Requests that hit the per-request timeout.",
		}, []string{"platform"}),
		ColdStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portico_cold_starts_total",
			Help: "Application constructions on a fresh instance.",
		}, []string{"platform"}),
		KernelPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portico_kernel_panics_total",
			Help: "Kernel panics converted into error responses.",
		}, []string{"platform"}),
		ScheduledRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portico_scheduled_runs_total",
			Help: "Timer-triggered worker invocations, by outcome.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Requests, m.Duration, m.BodyRejected, m.Timeouts, m.ColdStarts, m.KernelPanics, m.ScheduledRuns)
	return m
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns the process-wide metric set on the default prometheus
// registry, building it on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultM = New(prometheus.DefaultRegisterer)
	})
	return defaultM
}

// Handler returns the scrape endpoint for the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// RecordRequest counts one completed dispatch and observes its duration.
func (m *Metrics) RecordRequest(platform, source string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(platform, source, strconv.Itoa(status)).Inc()
	m.Duration.WithLabelValues(platform).Observe(dur.Seconds())
}

// RecordBodyRejected counts one oversized-body rejection.
func (m *Metrics) RecordBodyRejected(platform string) {
	if m == nil {
		return
	}
	m.BodyRejected.WithLabelValues(platform).Inc()
}

// RecordTimeout counts one request timeout.
func (m *Metrics) RecordTimeout(platform string) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(platform).Inc()
}

// RecordColdStart counts one cold application construction.
func (m *Metrics) RecordColdStart(platform string) {
	if m == nil {
		return
	}
	m.ColdStarts.WithLabelValues(platform).Inc()
}

// RecordKernelPanic counts one recovered kernel panic.
func (m *Metrics) RecordKernelPanic(platform string) {
	if m == nil {
		return
	}
	m.KernelPanics.WithLabelValues(platform).Inc()
}

// RecordScheduledRun counts one timer-triggered invocation with its outcome
// (ok, error, invalid_cron).
func (m *Metrics) RecordScheduledRun(result string) {
	if m == nil {
		return
	}
	m.ScheduledRuns.WithLabelValues(result).Inc()
}
