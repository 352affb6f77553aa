package fusion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/i474232898/air-quality-fusion/internal/common"
)

var (
	// ErrInvalidEstimate is returned when a concentration or confidence is out of range.
	ErrInvalidEstimate = errors.New("invalid pollutant estimate")
	// ErrInvalidCoordinate is returned for latitudes/longitudes outside WGS84 ranges.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrInvalidStation is returned for station readings that cannot be interpolated.
	ErrInvalidStation = errors.New("invalid station reading")
)

// SourceKind identifies where an estimate came from.
type SourceKind int

const (
	SourceStation SourceKind = iota + 1
	SourceCamera
	SourceSatellite
)

func (k SourceKind) String() string {
	switch k {
	case SourceStation:
		return "station"
	case SourceCamera:
		return "camera"
	case SourceSatellite:
		return "satellite"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON and YAML.
func (k SourceKind) MarshalText() ([]byte, error) {
	if k.String() == "unknown" {
		return nil, fmt.Errorf("unknown source kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind by name.
func (k *SourceKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "station":
		*k = SourceStation
	case "camera":
		*k = SourceCamera
	case "satellite":
		*k = SourceSatellite
	default:
		return fmt.Errorf("unknown source kind %q", string(b))
	}
	return nil
}

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewCoordinate validates lat/lon ranges.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	if !common.IsFinite(lat) || !common.IsFinite(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Coordinate{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lat, lon)
	}
	return Coordinate{Lat: lat, Lon: lon}, nil
}

// PollutantEstimate is a single source's PM2.5 value in ug/m3 together with the
// source's own reliability. Absence of a source is modelled by a nil
// *PollutantEstimate, never by a zero-confidence value.
type PollutantEstimate struct {
	kind       SourceKind
	value      float64
	confidence float64
}

// NewPollutantEstimate is the only way to build a PollutantEstimate; it rejects
// negative or non-finite values and confidences outside [0,1].
func NewPollutantEstimate(kind SourceKind, value, confidence float64) (*PollutantEstimate, error) {
	switch kind {
	case SourceStation, SourceCamera, SourceSatellite:
	default:
		return nil, fmt.Errorf("%w: unknown source kind %d", ErrInvalidEstimate, int(kind))
	}
	if !common.IsFinite(value) || value < 0 {
		return nil, fmt.Errorf("%w: %s value %v must be >= 0", ErrInvalidEstimate, kind, value)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: %s confidence %v must be within [0,1]", ErrInvalidEstimate, kind, confidence)
	}
	return &PollutantEstimate{kind: kind, value: value, confidence: confidence}, nil
}

func (e PollutantEstimate) Kind() SourceKind    { return e.kind }
func (e PollutantEstimate) Value() float64      { return e.value }
func (e PollutantEstimate) Confidence() float64 { return e.confidence }

// StationReading is a ground station observation supplied by a station directory.
type StationReading struct {
	ID         string     `json:"id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Coordinate Coordinate `json:"coordinate"`
	PM25       float64    `json:"pm25"`
	ObservedAt time.Time  `json:"observedAt"`
}

// NewStationReading builds a reading after checking the coordinate and that
// pm25 is finite and non-negative.
func NewStationReading(id, name string, at Coordinate, pm25 float64, observedAt time.Time) (StationReading, error) {
	r := StationReading{ID: id, Name: name, Coordinate: at, PM25: pm25, ObservedAt: observedAt}
	return r, r.Validate()
}

// Validate reports why a reading must not enter interpolation, if it must not.
func (r StationReading) Validate() error {
	if _, err := NewCoordinate(r.Coordinate.Lat, r.Coordinate.Lon); err != nil {
		return fmt.Errorf("%w: station %q: %w", ErrInvalidStation, r.ID, err)
	}
	if !common.IsFinite(r.PM25) || r.PM25 < 0 {
		return fmt.Errorf("%w: station %q pm25 %v must be >= 0", ErrInvalidStation, r.ID, r.PM25)
	}
	return nil
}

// AODReading is a satellite aerosol optical depth observation. CloudCover is a
// fraction in [0,1] and StalenessHours the age of the observation; both are
// optional quality metadata.
type AODReading struct {
	AOD            float64
	CloudCover     *float64
	StalenessHours *float64
}

// Contribution records one source's share of a fused result.
type Contribution struct {
	Source     SourceKind `json:"source"`
	Value      float64    `json:"value"`
	Confidence float64    `json:"confidence"`
	Weight     float64    `json:"weight"`
}

// Result is the immutable output of Fuse.
type Result struct {
	PM25          float64        `json:"pm25"`
	Confidence    float64        `json:"confidence"`
	Uncertainty   float64        `json:"uncertainty"`
	Contributions []Contribution `json:"contributions"`

	// NoData is set when no source was present and the values are the policy fallback.
	NoData bool `json:"noData"`
}

// Range returns the uncertainty band around PM25, floored at zero.
func (r Result) Range() (low, high float64) {
	return math.Max(0, r.PM25-r.Uncertainty), r.PM25 + r.Uncertainty
}
