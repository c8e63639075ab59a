// Package metrics exposes the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing, which keeps tests free of registries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recipes"

type Metrics struct {
	registry prometheus.Gatherer

	connectionsActive prometheus.Gauge
	requestsTotal     *prometheus.CounterVec
	jobsActive        prometheus.Gauge
	jobsTotal         *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	providerAttempts  *prometheus.CounterVec
	deliveriesTotal   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegisterer(reg, reg)
}

// NewWithRegisterer registers the collectors on reg and serves them from gatherer.
func NewWithRegisterer(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		registry: gatherer,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of client connections open on this gateway",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Inbound generation requests by routing result",
		}, []string{"result"}), // result: accepted, rejected, start_failed
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of jobs currently executing in this process",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished jobs by terminal stage",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of workflow stages in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"stage", "status"}),
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Generation provider calls by outcome",
		}, []string{"provider", "outcome"}), // outcome: success, transient, fatal
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Messages relayed to connections by type and outcome",
		}, []string{"type", "outcome"}),
	}
	reg.MustRegister(
		m.connectionsActive,
		m.requestsTotal,
		m.jobsActive,
		m.jobsTotal,
		m.stageDuration,
		m.providerAttempts,
		m.deliveriesTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

func (m *Metrics) Request(result string) {
	if m != nil {
		m.requestsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) JobStarted() {
	if m != nil {
		m.jobsActive.Inc()
	}
}

func (m *Metrics) JobFinished(stage string) {
	if m != nil {
		m.jobsActive.Dec()
		m.jobsTotal.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) StageDone(stage, status string, elapsed time.Duration) {
	if m != nil {
		m.stageDuration.WithLabelValues(stage, status).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ProviderAttempt(provider, outcome string) {
	if m != nil {
		m.providerAttempts.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) Delivery(msgType, outcome string) {
	if m != nil {
		m.deliveriesTotal.WithLabelValues(msgType, outcome).Inc()
	}
}
