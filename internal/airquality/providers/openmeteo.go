package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/air-quality-fusion/internal/cache"
	"github.com/i474232898/air-quality-fusion/internal/common"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

// OpenMeteoProvider implements airquality.SatelliteSource using the Open-Meteo
// air quality API (CAMS aerosol optical depth at 550nm) and the forecast API
// for cloud cover.
type OpenMeteoProvider struct {
	name          string
	airQualityURL string
	forecastURL   string
	httpCfg       HTTPClientConfig
	circuit       *gobreaker.CircuitBreaker
	cache         *cache.Cache[aodObservation]
	log           *slog.Logger
	now           func() time.Time
}

// aodObservation is cached; staleness is derived from ObservedAt on each use.
type aodObservation struct {
	AOD        float64
	CloudCover *float64
	ObservedAt time.Time
}

func NewOpenMeteoProvider(client *http.Client, cacheTTL time.Duration, obs cache.Observer, logger *slog.Logger) *OpenMeteoProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenMeteoProvider{
		name:          "openmeteo",
		airQualityURL: "https://air-quality-api.open-meteo.com/v1/air-quality",
		forecastURL:   "https://api.open-meteo.com/v1/forecast",
		httpCfg:       HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit:       newBreaker("openmeteo", logger),
		cache:         cache.New[aodObservation]("satellite", cacheTTL, obs),
		log:           logger.With("component", "openmeteo"),
		now:           time.Now,
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

// FetchAOD returns the current AOD with cloud cover and staleness metadata.
// Cloud cover is best effort; its failure does not fail the reading.
func (p *OpenMeteoProvider) FetchAOD(ctx context.Context, at fusion.Coordinate) (fusion.AODReading, error) {
	key := fmt.Sprintf("%.2f,%.2f", common.RoundTo(at.Lat, 2), common.RoundTo(at.Lon, 2))

	obs, ok := p.cache.Get(key)
	if !ok {
		var err error
		obs, err = p.fetch(ctx, at)
		if err != nil {
			return fusion.AODReading{}, err
		}
		p.cache.Set(key, obs)
	}

	staleness := p.now().Sub(obs.ObservedAt).Hours()
	if staleness < 0 {
		staleness = 0
	}
	return fusion.AODReading{
		AOD:            obs.AOD,
		CloudCover:     obs.CloudCover,
		StalenessHours: &staleness,
	}, nil
}

func (p *OpenMeteoProvider) fetch(ctx context.Context, at fusion.Coordinate) (aodObservation, error) {
	var payload struct {
		Current struct {
			Time string   `json:"time"`
			AOD  *float64 `json:"aerosol_optical_depth"`
		} `json:"current"`
	}
	if err := getJSON(ctx, p.httpCfg, p.circuit, p.buildURL(p.airQualityURL, at, "aerosol_optical_depth"), &payload); err != nil {
		return aodObservation{}, err
	}
	if payload.Current.AOD == nil {
		return aodObservation{}, fmt.Errorf("%w: aerosol_optical_depth missing", errNoData)
	}

	obs := aodObservation{
		AOD:        *payload.Current.AOD,
		ObservedAt: parseOpenMeteoTime(payload.Current.Time, p.now()),
	}

	cloud, err := p.fetchCloudCover(ctx, at)
	if err != nil {
		p.log.Debug("cloud cover unavailable", "error", err)
	} else {
		obs.CloudCover = &cloud
	}
	return obs, nil
}

func (p *OpenMeteoProvider) fetchCloudCover(ctx context.Context, at fusion.Coordinate) (float64, error) {
	var payload struct {
		Current struct {
			CloudCover *float64 `json:"cloud_cover"`
		} `json:"current"`
	}
	if err := getJSON(ctx, p.httpCfg, p.circuit, p.buildURL(p.forecastURL, at, "cloud_cover"), &payload); err != nil {
		return 0, err
	}
	if payload.Current.CloudCover == nil {
		return 0, fmt.Errorf("%w: cloud_cover missing", errNoData)
	}
	// percent -> fraction
	return common.Clamp01(*payload.Current.CloudCover / 100), nil
}

func (p *OpenMeteoProvider) buildURL(base string, at fusion.Coordinate, current string) string {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%f", at.Lat))
	values.Set("longitude", fmt.Sprintf("%f", at.Lon))
	values.Set("current", current)
	values.Set("timezone", "GMT")
	return fmt.Sprintf("%s?%s", base, values.Encode())
}

// parseOpenMeteoTime parses the API's "2006-01-02T15:04" GMT timestamps.
func parseOpenMeteoTime(s string, fallback time.Time) time.Time {
	for _, layout := range []string{"2006-01-02T15:04", time.RFC3339} {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC()
		}
	}
	return fallback.UTC()
}
