package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

func TestSourceLookupCountsOutcomes(t *testing.T) {
	m := New()
	m.SourceLookup(fusion.SourceStation, true, 10*time.Millisecond)
	m.SourceLookup(fusion.SourceStation, false, time.Second)
	m.SourceLookup(fusion.SourceSatellite, true, 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceLookups.WithLabelValues("station", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceLookups.WithLabelValues("station", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceLookups.WithLabelValues("satellite", "ok")))
}

func TestEstimatedSetsGauges(t *testing.T) {
	m := New()
	snap := airquality.Snapshot{
		Location: airquality.Location{City: "Seoul", Country: "KR"},
		Result:   fusion.Result{PM25: 41.6, Confidence: 0.8},
		Category: airquality.CategoryUnhealthy,
	}
	m.Estimated(snap)

	assert.Equal(t, 41.6, testutil.ToFloat64(m.fusedPM25.WithLabelValues("seoul:KR")))
	assert.Equal(t, 0.8, testutil.ToFloat64(m.fusedConfidence.WithLabelValues("seoul:KR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.estimates.WithLabelValues("unhealthy")))

	// fallback results count but do not move the gauges
	m.Estimated(airquality.Snapshot{
		Location: snap.Location,
		Result:   fusion.Result{PM25: 25, Confidence: 0.1, NoData: true},
		Category: airquality.CategoryModerate,
	})
	assert.Equal(t, 41.6, testutil.ToFloat64(m.fusedPM25.WithLabelValues("seoul:KR")))
}

func TestCacheCounters(t *testing.T) {
	m := New()
	m.CacheHit("satellite")
	m.CacheHit("satellite")
	m.CacheMiss("satellite")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("satellite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses.WithLabelValues("satellite")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheHit("x")
		m.CacheMiss("x")
		m.SourceLookup(fusion.SourceCamera, true, 0)
		m.Estimated(airquality.Snapshot{})
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/ping", "200")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `http_requests_total{route="/ping",status="200"} 1`)
}

func TestEstimatedSkipsGaugesForAnonymousLocations(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.Estimated(airquality.Snapshot{
			Location: airquality.Location{Lat: 37.5 + float64(i)/100, Lon: 127},
			Result:   fusion.Result{PM25: 18, Confidence: 0.7},
			Category: airquality.CategoryModerate,
		})
	}

	assert.Equal(t, 0, testutil.CollectAndCount(m.fusedPM25))
	assert.Equal(t, 0, testutil.CollectAndCount(m.fusedConfidence))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.estimates.WithLabelValues("moderate")))
}
