package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the optimizer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Engine metrics
	EngineRuns      *prometheus.CounterVec
	EngineLatency   *prometheus.HistogramVec
	Recommendations *prometheus.CounterVec
	Skips           *prometheus.CounterVec
	TargetsAnalyzed *prometheus.CounterVec
	Negatives       prometheus.Counter

	// Change detection metrics
	DetectionRuns    *prometheus.CounterVec
	DetectionChanges *prometheus.CounterVec
	AppliedChanges   prometheus.Counter

	// Configuration metrics
	WeightUpdates  *prometheus.CounterVec
	WeightCacheOps *prometheus.CounterVec

	// System metrics
	DBConnections *prometheus.GaugeVec
	RateLimitHits *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the optimizer metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	f := promauto.With(reg)

	return &Metrics{
		EngineRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_runs_total",
				Help:      "Engine invocations by variant and outcome",
			},
			[]string{"variant", "status"},
		),
		EngineLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_latency_seconds",
				Help:      "Engine invocation latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"variant"},
		),
		Recommendations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recommendations_total",
				Help:      "Recommendations produced by variant and direction",
			},
			[]string{"variant", "direction"},
		),
		Skips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_targets_total",
				Help:      "Targets skipped by reason",
			},
			[]string{"variant", "reason"},
		),
		TargetsAnalyzed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targets_analyzed_total",
				Help:      "Targets analyzed by variant",
			},
			[]string{"variant"},
		),
		Negatives: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "negative_candidates_total",
				Help:      "Negative-target candidates reported",
			},
		),

		DetectionRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detection_runs_total",
				Help:      "Change detection batch runs by outcome",
			},
			[]string{"status"},
		),
		DetectionChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detected_changes_total",
				Help:      "Bid changes appended to the ledger by source",
			},
			[]string{"source"},
		),
		AppliedChanges: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applied_changes_total",
				Help:      "Applied bid changes recorded through the API",
			},
		),

		WeightUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "weight_updates_total",
				Help:      "Weight set updates by outcome",
			},
			[]string{"status"},
		),
		WeightCacheOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "weight_cache_total",
				Help:      "Weight cache lookups by result",
			},
			[]string{"result"},
		),

		DBConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"},
		),
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),

		gatherer: gatherer,
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordEngineRun records one engine invocation.
func (m *Metrics) RecordEngineRun(variant string, err error, latency time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EngineRuns.WithLabelValues(variant, status).Inc()
	m.EngineLatency.WithLabelValues(variant).Observe(latency.Seconds())
}

// RecordRecommendation records a produced recommendation.
func (m *Metrics) RecordRecommendation(variant, direction string) {
	if m == nil {
		return
	}
	m.Recommendations.WithLabelValues(variant, direction).Inc()
}

// RecordSkip records a skipped target.
func (m *Metrics) RecordSkip(variant, reason string) {
	if m == nil {
		return
	}
	m.Skips.WithLabelValues(variant, reason).Inc()
}

// RecordAnalyzed adds n analyzed targets.
func (m *Metrics) RecordAnalyzed(variant string, n int) {
	if m == nil {
		return
	}
	m.TargetsAnalyzed.WithLabelValues(variant).Add(float64(n))
}

// RecordNegatives adds n negative-target candidates.
func (m *Metrics) RecordNegatives(n int) {
	if m == nil {
		return
	}
	m.Negatives.Add(float64(n))
}

// RecordDetection records a change detection run and its per-source inserts.
func (m *Metrics) RecordDetection(bySource map[string]int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DetectionRuns.WithLabelValues("error").Inc()
		return
	}
	m.DetectionRuns.WithLabelValues("ok").Inc()
	for source, n := range bySource {
		m.DetectionChanges.WithLabelValues(source).Add(float64(n))
	}
}

// RecordAppliedChange records an applied change written to the ledger.
func (m *Metrics) RecordAppliedChange() {
	if m == nil {
		return
	}
	m.AppliedChanges.Inc()
}

// RecordWeightUpdate records an accepted or rejected weight set update.
func (m *Metrics) RecordWeightUpdate(accepted bool) {
	if m == nil {
		return
	}
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	m.WeightUpdates.WithLabelValues(status).Inc()
}

// RecordWeightCache records a weight cache hit or miss.
func (m *Metrics) RecordWeightCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.WeightCacheOps.WithLabelValues(result).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	if m == nil {
		return
	}
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
