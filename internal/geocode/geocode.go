package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

var ErrNoAPIKey = errors.New("geocoder api key not configured")

// Resolver fills in coordinates for named locations using the Google
// Geocoding API. Results are memoized per location key.
type Resolver struct {
	lookup func(geocoder.Address) (fusion.Coordinate, error)
	log    *slog.Logger

	mu   sync.Mutex
	seen map[string]fusion.Coordinate
}

// NewResolver sets the geocoder's API key. An empty key yields a resolver that
// can only pass through locations that already carry coordinates.
func NewResolver(apiKey string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		log:  logger.With("component", "geocode"),
		seen: make(map[string]fusion.Coordinate),
	}
	if apiKey != "" {
		geocoder.ApiKey = apiKey
		r.lookup = googleLookup
	}
	return r
}

func googleLookup(addr geocoder.Address) (fusion.Coordinate, error) {
	loc, err := geocoder.Geocoding(addr)
	if err != nil {
		return fusion.Coordinate{}, err
	}
	return fusion.NewCoordinate(loc.Latitude, loc.Longitude)
}

// Resolve returns loc with Lat/Lon populated. Locations that already have
// non-zero coordinates are returned unchanged.
func (r *Resolver) Resolve(_ context.Context, loc airquality.Location) (airquality.Location, error) {
	if loc.Lat != 0 || loc.Lon != 0 {
		return loc, nil
	}
	if loc.City == "" {
		return loc, fmt.Errorf("%w: location has neither coordinates nor a city", fusion.ErrInvalidCoordinate)
	}

	key := loc.Key()
	r.mu.Lock()
	c, ok := r.seen[key]
	r.mu.Unlock()
	if ok {
		loc.Lat, loc.Lon = c.Lat, c.Lon
		return loc, nil
	}

	if r.lookup == nil {
		return loc, ErrNoAPIKey
	}
	c, err := r.lookup(geocoder.Address{City: loc.City, Country: loc.Country})
	if err != nil {
		return loc, fmt.Errorf("geocoding %s: %w", key, err)
	}

	r.mu.Lock()
	r.seen[key] = c
	r.mu.Unlock()

	r.log.Info("resolved location", "location", key, "lat", c.Lat, "lon", c.Lon)
	loc.Lat, loc.Lon = c.Lat, c.Lon
	return loc, nil
}

// ResolveAll resolves every location, dropping (and logging) the ones that fail.
func (r *Resolver) ResolveAll(ctx context.Context, locs []airquality.Location) []airquality.Location {
	out := make([]airquality.Location, 0, len(locs))
	for _, loc := range locs {
		resolved, err := r.Resolve(ctx, loc)
		if err != nil {
			r.log.Error("skipping location", "location", loc.Key(), "error", err)
			continue
		}
		out = append(out, resolved)
	}
	return out
}
