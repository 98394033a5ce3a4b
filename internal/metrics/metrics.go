package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stageRecords   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	geocodeCalls   *prometheus.CounterVec
	quotaRemaining *prometheus.GaugeVec
	searchTasks    *prometheus.CounterVec
	enrichment     *prometheus.CounterVec
}

// New registers every collector under the namespace on a private registry
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_records_total",
				Help:      "Records handled per pipeline stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_record_duration_seconds",
				Help:      "Time spent on a single record per stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		geocodeCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geocode_lookups_total",
				Help:      "Venue resolutions by result",
			},
			[]string{"result"},
		),
		quotaRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "geocode_quota_remaining",
				Help:      "Geocoding calls left before the local cap",
			},
			[]string{"window"},
		),
		searchTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_tasks_total",
				Help:      "Search API tasks by state transition",
			},
			[]string{"state"},
		),
		enrichment: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_results_total",
				Help:      "Enrichment backfill outcomes",
			},
			[]string{"provider", "status"},
		),
	}
}

// RecordStage counts one record outcome for a stage
func (m *Metrics) RecordStage(stage, outcome string) {
	if m == nil {
		return
	}
	m.stageRecords.WithLabelValues(stage, outcome).Inc()
}

// ObserveStage records how long a single record took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordGeocode counts a venue resolution result (cache_hit, call, quota_exhausted, failed, no_match)
func (m *Metrics) RecordGeocode(result string) {
	if m == nil {
		return
	}
	m.geocodeCalls.WithLabelValues(result).Inc()
}

// SetQuotaRemaining publishes the remaining daily and monthly calls
func (m *Metrics) SetQuotaRemaining(daily, monthly int) {
	if m == nil {
		return
	}
	m.quotaRemaining.WithLabelValues("daily").Set(float64(daily))
	m.quotaRemaining.WithLabelValues("monthly").Set(float64(monthly))
}

// RecordSearchTasks adds n tasks to a state counter
func (m *Metrics) RecordSearchTasks(state string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.searchTasks.WithLabelValues(state).Add(float64(n))
}

// RecordEnrichment counts one enrichment outcome
func (m *Metrics) RecordEnrichment(provider, status string) {
	if m == nil {
		return
	}
	m.enrichment.WithLabelValues(provider, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
