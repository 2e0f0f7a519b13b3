package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics manages Prometheus instrumentation for generations and billing.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	bouncerPasses      prometheus.Counter
	quotaRejections    *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	planChanges        *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gle",
				Subsystem: "generate",
				Name:      "requests_total",
				Help:      "Total generation requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gle",
				Subsystem: "generate",
				Name:      "duration_seconds",
				Help:      "Generation latency including rewrite passes",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"mode"},
		),
		bouncerPasses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gle",
				Subsystem: "bouncer",
				Name:      "rewrite_passes_total",
				Help:      "Total rewrite passes triggered by banned stems",
			},
		),
		quotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gle",
				Subsystem: "quota",
				Name:      "rejections_total",
				Help:      "Total quota rejections by reason",
			},
			[]string{"reason"},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gle",
				Subsystem: "stripe",
				Name:      "webhook_events_total",
				Help:      "Total Stripe webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		planChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gle",
				Subsystem: "billing",
				Name:      "plan_changes_total",
				Help:      "Total plan transitions by target plan",
			},
			[]string{"plan"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.generations,
		m.generationDuration,
		m.bouncerPasses,
		m.quotaRejections,
		m.webhookEvents,
		m.planChanges,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordGeneration records a finished generation request.
func (m *Metrics) RecordGeneration(mode, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = "none"
	}
	m.generations.WithLabelValues(mode, outcome).Inc()
	m.generationDuration.WithLabelValues(mode).Observe(took.Seconds())
}

// RecordBouncerPasses adds rewrite passes made for one generation.
func (m *Metrics) RecordBouncerPasses(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bouncerPasses.Add(float64(n))
}

// RecordQuotaRejection records a request refused by the quota check.
func (m *Metrics) RecordQuotaRejection(reason string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(reason).Inc()
}

// RecordWebhook records a processed Stripe webhook event.
func (m *Metrics) RecordWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordPlanChange records a plan transition.
func (m *Metrics) RecordPlanChange(plan string) {
	if m == nil {
		return
	}
	m.planChanges.WithLabelValues(plan).Inc()
}
