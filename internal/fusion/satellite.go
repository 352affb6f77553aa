package fusion

import (
	"errors"
	"fmt"
	"math"

	"github.com/i474232898/air-quality-fusion/internal/common"
)

// ErrInvalidAOD is returned for negative or non-finite AOD readings and
// out-of-range quality metadata.
var ErrInvalidAOD = errors.New("invalid AOD reading")

// RegionalFactor returns the PM2.5-per-unit-AOD multiplier for a latitude.
// The first band includes its upper bound; later bands exclude it, so with the
// defaults |lat| = 30 is tropical and |lat| = 50 falls through to the default.
func (p Policy) RegionalFactor(latitude float64) float64 {
	abs := math.Abs(latitude)
	for i, b := range p.Satellite.Bands {
		if abs < b.MaxAbsLatitude || (i == 0 && abs == b.MaxAbsLatitude) {
			return b.Factor
		}
	}
	return p.Satellite.DefaultFactor
}

// ConvertSatelliteAOD turns an aerosol optical depth reading into a satellite
// estimate. A nil reading yields a nil estimate. Confidence starts at the
// policy constant and is discounted by cloud cover and staleness when known.
func (p Policy) ConvertSatelliteAOD(r *AODReading, latitude float64) (*PollutantEstimate, error) {
	if r == nil {
		return nil, nil
	}
	if !common.IsFinite(r.AOD) || r.AOD < 0 {
		return nil, fmt.Errorf("%w: aod %v", ErrInvalidAOD, r.AOD)
	}
	if !common.IsFinite(latitude) || latitude < -90 || latitude > 90 {
		return nil, fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, latitude)
	}

	sp := p.Satellite
	confidence := sp.Confidence

	if r.CloudCover != nil {
		cc := *r.CloudCover
		if math.IsNaN(cc) || cc < 0 || cc > 1 {
			return nil, fmt.Errorf("%w: cloud cover %v", ErrInvalidAOD, cc)
		}
		confidence *= common.Clamp01(1 - cc*sp.CloudPenalty)
	}
	if r.StalenessHours != nil {
		h := *r.StalenessHours
		if math.IsNaN(h) || h < 0 {
			return nil, fmt.Errorf("%w: staleness %v h", ErrInvalidAOD, h)
		}
		confidence *= common.Clamp01(1 - h/sp.StalenessHorizonHours*sp.StalenessPenalty)
	}

	return NewPollutantEstimate(SourceSatellite, r.AOD*p.RegionalFactor(latitude), common.Clamp01(confidence))
}
