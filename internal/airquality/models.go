package airquality

import (
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

// Location represents a logical place for which we track air quality.
// Lat/Lon are required for estimation; City/Country name it.
type Location struct {
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Key returns a canonical string key for indexing this location in stores.
// Named locations key by name, anonymous ones by coordinates rounded to ~1 km.
func (l Location) Key() string {
	if l.City != "" {
		return strings.ToLower(l.City) + ":" + strings.ToUpper(l.Country)
	}
	return fmt.Sprintf("%.2f,%.2f", l.Lat, l.Lon)
}

// Coordinate validates and returns the location's position.
func (l Location) Coordinate() (fusion.Coordinate, error) {
	return fusion.NewCoordinate(l.Lat, l.Lon)
}

// SourceStatus describes what happened to one upstream lookup during an estimate.
type SourceStatus struct {
	Source    fusion.SourceKind `json:"source"`
	Available bool              `json:"available"`
	Error     string            `json:"error,omitempty"`
	// Stations is the number of stations used by the station tier.
	Stations int `json:"stations,omitempty"`
}

// Snapshot is a fused air quality estimate for a location at a point in time.
type Snapshot struct {
	ID        string        `json:"id"`
	Location  Location      `json:"location"`
	Timestamp time.Time     `json:"timestamp"` // always UTC
	Result    fusion.Result `json:"result"`
	Category  Category      `json:"category"`
	Low       float64       `json:"low"`
	High      float64       `json:"high"`

	Sources []SourceStatus `json:"sources,omitempty"`
}
