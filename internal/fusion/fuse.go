package fusion

import (
	"math"

	"github.com/i474232898/air-quality-fusion/internal/common"
)

// Fuse combines up to one estimate per source into a single result. Any
// argument may be nil to mark the source absent. With no sources present the
// policy fallback is returned with NoData set.
//
// Fuse is pure: it performs no I/O and keeps no state, so concurrent calls
// need no coordination.
func (p Policy) Fuse(station, camera, satellite *PollutantEstimate) Result {
	cp := p.Combiner

	present := make([]Contribution, 0, 3)
	for _, slot := range []struct {
		kind SourceKind
		est  *PollutantEstimate
	}{
		{SourceStation, station},
		{SourceCamera, camera},
		{SourceSatellite, satellite},
	} {
		if slot.est == nil {
			continue
		}
		present = append(present, Contribution{
			Source:     slot.kind,
			Value:      slot.est.value,
			Confidence: slot.est.confidence,
			Weight:     slot.est.confidence,
		})
	}

	if len(present) == 0 {
		return Result{
			PM25:        cp.FallbackPM25,
			Confidence:  cp.FallbackConfidence,
			Uncertainty: cp.FallbackUncertainty,
			NoData:      true,
		}
	}

	normalizeWeights(present)

	var mean, weightedConf float64
	for _, c := range present {
		mean += c.Weight * c.Value
		weightedConf += c.Weight * c.Confidence
	}

	n := float64(len(present))
	var variance float64
	for _, c := range present {
		variance += (c.Value - mean) * (c.Value - mean)
	}
	stdDev := math.Sqrt(variance / n)

	var consistency float64
	if len(present) > 1 && mean > 0 {
		consistency = math.Max(0, 1-stdDev/mean)
	}
	confidence := math.Min(1, weightedConf*(1+consistency*cp.BoostFactor))

	var uncertainty float64
	if len(present) == 1 {
		uncertainty = (1 - confidence) * cp.SingleScale
	} else {
		uncertainty = math.Min(stdDev*cp.SpreadScale+(1-confidence)*cp.ConfidenceScale, cp.MaxUncertainty)
	}

	return Result{
		PM25:          mean,
		Confidence:    common.Clamp01(confidence),
		Uncertainty:   math.Max(0, uncertainty),
		Contributions: present,
	}
}

// normalizeWeights scales confidences so they sum to one. Sources that are all
// present but worthless (zero confidence) share the weight equally.
func normalizeWeights(cs []Contribution) {
	var total float64
	for _, c := range cs {
		total += c.Weight
	}
	for i := range cs {
		if total > 0 {
			cs[i].Weight /= total
		} else {
			cs[i].Weight = 1 / float64(len(cs))
		}
	}
}
