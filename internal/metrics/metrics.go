// Package metrics exposes the engine's health as Prometheus metrics. Most
// values are read from the engine at scrape time through gauge functions, so
// the components stay free of instrumentation calls; only the HTTP surface
// records directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transitpulse/internal/types"
)

// Source is the read-only engine surface the collector scrapes.
type Source interface {
	TrackerCounts() (accepted, rejected int64)
	TrackerState() types.TrackerState
	FeedStatus() types.FeedStatus
	WalkSource() types.WalkSource
	SupervisorState() types.SupervisorState
}

// Collector owns the registry and the directly-updated HTTP instruments.
type Collector struct {
	reg *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec // labels: route, status
	RequestDuration prometheus.Histogram
}

// NewCollector builds the registry with scrape-time views over the engine.
func NewCollector(src Source) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_http_requests_total",
			Help: "Total HTTP requests served, by route and status code.",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_http_request_duration_seconds",
			Help:    "Duration of HTTP request handling.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	boolGauge := func(v bool) float64 {
		if v {
			return 1
		}
		return 0
	}

	reg.MustRegister(
		c.HTTPRequests,
		c.RequestDuration,

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "engine_fixes_accepted_total",
			Help: "Total GPS fixes accepted by the anti-jitter filter.",
		}, func() float64 { accepted, _ := src.TrackerCounts(); return float64(accepted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "engine_fixes_rejected_total",
			Help: "Total GPS fixes rejected as glitches.",
		}, func() float64 { _, rejected := src.TrackerCounts(); return float64(rejected) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "engine_tracker_tracking",
			Help: "1 while the position tracker is in the tracking state.",
		}, func() float64 { return boolGauge(src.TrackerState() == types.TrackerTracking) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "engine_feed_polling",
			Help: "1 while the transit feed poll loop is running.",
		}, func() float64 { return boolGauge(src.FeedStatus().Polling) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "engine_feed_low_coverage",
			Help: "1 while the low-coverage flag is raised.",
		}, func() float64 { return boolGauge(src.FeedStatus().LowCoverage) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "engine_feed_stale_predictions",
			Help: "1 while all known predictions are past their staleness threshold.",
		}, func() float64 { return boolGauge(src.FeedStatus().StalePredictions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "engine_feed_consecutive_failures",
			Help: "Consecutive failed poll cycles.",
		}, func() float64 { return float64(src.FeedStatus().ConsecutiveFailures) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "engine_walking_precise_active",
			Help: "1 while the precise walking provider answers estimates (breaker closed).",
		}, func() float64 { return boolGauge(src.WalkSource() == types.WalkSourcePrecise) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "engine_supervisor_audits_total",
			Help: "Total supervisor audit cycles.",
		}, func() float64 { return float64(src.SupervisorState().AuditCount) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "engine_supervisor_autofix_entries",
			Help: "Corrective actions currently retained in the bounded history.",
		}, func() float64 { return float64(len(src.SupervisorState().AutoFixHistory)) }),
	)

	return c
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
