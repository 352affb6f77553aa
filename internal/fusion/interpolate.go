package fusion

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/i474232898/air-quality-fusion/internal/common"
)

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Coordinate) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point()) / 1000
}

// Point converts the coordinate to an orb point (lon, lat order).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// FreshnessFunc reports whether an observation time is recent enough to count
// towards station confidence.
type FreshnessFunc func(observedAt time.Time) bool

// FreshWithin returns a FreshnessFunc accepting observations no older than
// window relative to now.
func FreshWithin(window time.Duration, now time.Time) FreshnessFunc {
	cutoff := now.Add(-window)
	return func(observedAt time.Time) bool {
		return !observedAt.Before(cutoff)
	}
}

// InterpolateStations reduces nearby station readings to a single station-tier
// estimate at query using inverse-distance weighting. The caller is expected to
// have limited stations to a search radius and the nearest K. Readings that
// fail StationReading.Validate are skipped; it returns nil when no valid
// station remains. A nil fresh treats every reading as fresh.
func (p Policy) InterpolateStations(query Coordinate, stations []StationReading, fresh FreshnessFunc) *PollutantEstimate {
	sp := p.Station

	var (
		weightedSum float64
		weightSum   float64
		nearest     = math.Inf(1)
		used        int
		freshCount  int
	)
	for _, s := range stations {
		if s.Validate() != nil {
			continue
		}
		d := Distance(query, s.Coordinate)
		w := 1 / math.Pow(d+sp.DistanceFloorKm, 2)
		weightedSum += w * s.PM25
		weightSum += w
		nearest = math.Min(nearest, d)
		used++
		if fresh == nil || fresh(s.ObservedAt) {
			freshCount++
		}
	}
	if used == 0 {
		return nil
	}

	n := float64(used)
	countFactor := math.Min(n/float64(sp.TargetCount), 1)
	proximityFactor := math.Max(0, 1-nearest/sp.DecayRadiusKm)
	freshnessFactor := float64(freshCount) / n

	confidence := common.Clamp01(countFactor*sp.CountWeight +
		proximityFactor*sp.ProximityWeight +
		freshnessFactor*sp.FreshnessWeight)

	est, err := NewPollutantEstimate(SourceStation, weightedSum/weightSum, confidence)
	if err != nil {
		// unreachable for validated readings and a valid policy
		return nil
	}
	return est
}
