package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geo"
	"github.com/sony/gobreaker"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/common"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

// WAQIProvider implements airquality.StationDirectory using the World Air
// Quality Index map bounds API.
type WAQIProvider struct {
	name    string
	token   string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWAQIProvider(client *http.Client, token string, logger *slog.Logger) *WAQIProvider {
	return &WAQIProvider{
		name:    "waqi",
		token:   token,
		baseURL: "https://api.waqi.info/map/bounds",
		httpCfg: HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit: newBreaker("waqi", logger),
	}
}

func (p *WAQIProvider) Name() string {
	return p.name
}

type waqiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type waqiStation struct {
	UID     int             `json:"uid"`
	Lat     float64         `json:"lat"`
	Lon     float64         `json:"lon"`
	AQI     json.RawMessage `json:"aqi"`
	Station struct {
		Name string `json:"name"`
		Time string `json:"time"`
	} `json:"station"`
}

// NearbyStations queries the bounding box around at and converts each
// station's US AQI to a PM2.5 concentration. Radius filtering and nearest-K
// selection are left to the caller.
func (p *WAQIProvider) NearbyStations(ctx context.Context, at fusion.Coordinate, radiusKm float64) ([]fusion.StationReading, error) {
	if p.token == "" {
		return nil, fmt.Errorf("waqi token is not configured")
	}

	bound := geo.NewBoundAroundPoint(at.Point(), radiusKm*1000)
	values := url.Values{}
	values.Set("latlng", fmt.Sprintf("%f,%f,%f,%f", bound.Bottom(), bound.Left(), bound.Top(), bound.Right()))
	values.Set("networks", "all")
	values.Set("token", p.token)

	var payload waqiResponse
	if err := getJSON(ctx, p.httpCfg, p.circuit, p.baseURL+"?"+values.Encode(), &payload); err != nil {
		return nil, err
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("waqi status %q: %s", payload.Status, strings.Trim(string(payload.Data), `"`))
	}

	var stations []waqiStation
	if err := json.Unmarshal(payload.Data, &stations); err != nil {
		return nil, fmt.Errorf("decoding waqi stations: %w", err)
	}

	readings := make([]fusion.StationReading, 0, len(stations))
	for _, s := range stations {
		aqi, ok := parseAQI(s.AQI)
		if !ok {
			continue
		}
		pm25, err := airquality.AQIToPM25(aqi)
		if err != nil {
			continue
		}
		coord, err := fusion.NewCoordinate(s.Lat, s.Lon)
		if err != nil {
			continue
		}
		r, err := fusion.NewStationReading(strconv.Itoa(s.UID), s.Station.Name, coord, pm25, parseStationTime(s.Station.Time))
		if err != nil {
			continue
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// parseAQI accepts finite numbers or numeric strings; WAQI reports "-" for
// stations without a current value.
func parseAQI(raw json.RawMessage) (float64, bool) {
	if t := strings.TrimSpace(string(raw)); t == "" || t == "null" {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !common.IsFinite(n) {
		return 0, false
	}
	return n, true
}

func parseStationTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	// unknown age counts as stale
	return time.Time{}
}
