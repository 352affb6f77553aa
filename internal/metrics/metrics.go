package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

// Metrics implements airquality.Observer and cache.Observer on a private
// Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	sourceLookups     *prometheus.CounterVec
	sourceDuration    *prometheus.HistogramVec
	estimates         *prometheus.CounterVec
	fusedPM25         *prometheus.GaugeVec
	fusedConfidence   *prometheus.GaugeVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		sourceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_source_lookups_total",
			Help: "Upstream source lookups by source and outcome.",
		}, []string{"source", "outcome"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airquality_source_lookup_duration_seconds",
			Help:    "Histogram of upstream source lookup durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_estimates_total",
			Help: "Fused estimates produced, by health category.",
		}, []string{"category"}),
		fusedPM25: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airquality_pm25_ugm3",
			Help: "Latest fused PM2.5 concentration per location.",
		}, []string{"location"}),
		fusedConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airquality_confidence",
			Help: "Latest fused confidence per location.",
		}, []string{"location"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits observed.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses observed.",
		}, []string{"cache"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.sourceLookups,
		m.sourceDuration,
		m.estimates,
		m.fusedPM25,
		m.fusedConfidence,
		m.cacheHits,
		m.cacheMisses,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by matched route.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		return err
	}
}

func (m *Metrics) SourceLookup(source fusion.SourceKind, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.sourceLookups.WithLabelValues(source.String(), outcome).Inc()
	m.sourceDuration.WithLabelValues(source.String()).Observe(elapsed.Seconds())
}

// Estimated counts every estimate. Per-location gauges are only kept for
// named cities; coordinate-only lookups would add one series per point.
func (m *Metrics) Estimated(snapshot airquality.Snapshot) {
	if m == nil {
		return
	}
	m.estimates.WithLabelValues(string(snapshot.Category)).Inc()
	if snapshot.Result.NoData || snapshot.Location.City == "" {
		return
	}
	key := snapshot.Location.Key()
	m.fusedPM25.WithLabelValues(key).Set(snapshot.Result.PM25)
	m.fusedConfidence.WithLabelValues(key).Set(snapshot.Result.Confidence)
}

func (m *Metrics) CacheHit(name string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(name).Inc()
}

func (m *Metrics) CacheMiss(name string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(name).Inc()
}
