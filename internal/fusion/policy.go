package fusion

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// AODBand maps latitudes with |lat| below MaxAbsLatitude to a PM2.5/AOD factor.
type AODBand struct {
	MaxAbsLatitude float64 `yaml:"maxAbsLatitude"`
	Factor         float64 `yaml:"factor"`
}

// Policy holds the tunable constants of the fusion algorithm. The values are
// calibration parameters; DefaultPolicy returns the shipped calibration.
type Policy struct {
	Station   StationPolicy   `yaml:"station"`
	Satellite SatellitePolicy `yaml:"satellite"`
	Combiner  CombinerPolicy  `yaml:"combiner"`
}

// StationPolicy tunes inverse-distance interpolation and station confidence.
type StationPolicy struct {
	// DistanceFloorKm is added to every distance before squaring.
	DistanceFloorKm float64 `yaml:"distanceFloorKm"`
	// TargetCount is the number of stations considered sufficient.
	TargetCount int `yaml:"targetCount"`
	// DecayRadiusKm is where the proximity factor reaches zero.
	DecayRadiusKm float64 `yaml:"decayRadiusKm"`

	CountWeight     float64 `yaml:"countWeight"`
	ProximityWeight float64 `yaml:"proximityWeight"`
	FreshnessWeight float64 `yaml:"freshnessWeight"`
}

// SatellitePolicy tunes AOD to PM2.5 conversion.
type SatellitePolicy struct {
	// Bands are checked in order; the first whose MaxAbsLatitude is above |lat|
	// wins. The first band also matches |lat| equal to its bound.
	Bands []AODBand `yaml:"bands"`
	// DefaultFactor applies beyond the last band.
	DefaultFactor float64 `yaml:"defaultFactor"`
	Confidence    float64 `yaml:"confidence"`
	// CloudPenalty is the confidence lost at full cloud cover.
	CloudPenalty float64 `yaml:"cloudPenalty"`
	// StalenessPenalty is the confidence lost per StalenessHorizonHours of age.
	StalenessPenalty      float64 `yaml:"stalenessPenalty"`
	StalenessHorizonHours float64 `yaml:"stalenessHorizonHours"`
}

// CombinerPolicy tunes weighted fusion, the consistency bonus and uncertainty.
type CombinerPolicy struct {
	BoostFactor     float64 `yaml:"boostFactor"`
	SingleScale     float64 `yaml:"singleSourceScale"`
	SpreadScale     float64 `yaml:"spreadScale"`
	ConfidenceScale float64 `yaml:"confidenceScale"`
	MaxUncertainty  float64 `yaml:"maxUncertainty"`

	FallbackPM25        float64 `yaml:"fallbackPm25"`
	FallbackConfidence  float64 `yaml:"fallbackConfidence"`
	FallbackUncertainty float64 `yaml:"fallbackUncertainty"`
}

// DefaultPolicy returns the calibration used by the mobile prototype.
func DefaultPolicy() Policy {
	return Policy{
		Station: StationPolicy{
			DistanceFloorKm: 0.1,
			TargetCount:     5,
			DecayRadiusKm:   10,
			CountWeight:     0.4,
			ProximityWeight: 0.4,
			FreshnessWeight: 0.2,
		},
		Satellite: SatellitePolicy{
			Bands: []AODBand{
				{MaxAbsLatitude: 30, Factor: 150}, // tropics
				{MaxAbsLatitude: 50, Factor: 120}, // mid-latitudes
			},
			DefaultFactor:         100,
			Confidence:            0.6,
			CloudPenalty:          0.3,
			StalenessPenalty:      0.2,
			StalenessHorizonHours: 24,
		},
		Combiner: CombinerPolicy{
			BoostFactor:         0.2,
			SingleScale:         15,
			SpreadScale:         1.5,
			ConfidenceScale:     10,
			MaxUncertainty:      30,
			FallbackPM25:        25,
			FallbackConfidence:  0.1,
			FallbackUncertainty: 30,
		},
	}
}

// Validate checks the policy for values that would break the algorithm.
func (p Policy) Validate() error {
	var errs []error
	s := p.Station
	if s.DistanceFloorKm <= 0 {
		errs = append(errs, errors.New("station.distanceFloorKm must be > 0"))
	}
	if s.TargetCount <= 0 {
		errs = append(errs, errors.New("station.targetCount must be > 0"))
	}
	if s.DecayRadiusKm <= 0 {
		errs = append(errs, errors.New("station.decayRadiusKm must be > 0"))
	}
	if s.CountWeight < 0 || s.ProximityWeight < 0 || s.FreshnessWeight < 0 {
		errs = append(errs, errors.New("station weights must be >= 0"))
	}
	if sum := s.CountWeight + s.ProximityWeight + s.FreshnessWeight; math.Abs(sum-1) > 1e-9 {
		errs = append(errs, fmt.Errorf("station weights must sum to 1, got %v", sum))
	}

	sat := p.Satellite
	for i, b := range sat.Bands {
		if b.Factor < 0 {
			errs = append(errs, fmt.Errorf("satellite.bands[%d].factor must be >= 0", i))
		}
		if i > 0 && b.MaxAbsLatitude <= sat.Bands[i-1].MaxAbsLatitude {
			errs = append(errs, fmt.Errorf("satellite.bands[%d] must have increasing maxAbsLatitude", i))
		}
	}
	if sat.DefaultFactor < 0 {
		errs = append(errs, errors.New("satellite.defaultFactor must be >= 0"))
	}
	if !unit(sat.Confidence) || !unit(sat.CloudPenalty) || !unit(sat.StalenessPenalty) {
		errs = append(errs, errors.New("satellite confidence and penalties must be within [0,1]"))
	}
	if sat.StalenessHorizonHours <= 0 {
		errs = append(errs, errors.New("satellite.stalenessHorizonHours must be > 0"))
	}

	c := p.Combiner
	if c.BoostFactor < 0 || c.SingleScale < 0 || c.SpreadScale < 0 || c.ConfidenceScale < 0 || c.MaxUncertainty < 0 {
		errs = append(errs, errors.New("combiner scales must be >= 0"))
	}
	if c.FallbackPM25 < 0 || c.FallbackUncertainty < 0 || !unit(c.FallbackConfidence) {
		errs = append(errs, errors.New("combiner fallback values out of range"))
	}
	return errors.Join(errs...)
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// LoadPolicy reads a YAML file on top of DefaultPolicy, so a file only needs
// the keys it overrides.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading fusion policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing fusion policy YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid fusion policy: %w", err)
	}
	return p, nil
}
