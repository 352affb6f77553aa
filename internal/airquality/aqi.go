package airquality

import (
	"fmt"

	"github.com/i474232898/air-quality-fusion/internal/common"
)

// EPA PM2.5 breakpoints: concentration range -> AQI range.
var pm25Breakpoints = []struct {
	cLo, cHi float64
	iLo, iHi float64
}{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

// AQIToPM25 inverts the US EPA PM2.5 AQI formula, returning the concentration
// in ug/m3 that produces the given index.
func AQIToPM25(aqi float64) (float64, error) {
	if !common.IsFinite(aqi) || aqi < 0 {
		return 0, fmt.Errorf("aqi %v must be a finite value >= 0", aqi)
	}
	for _, bp := range pm25Breakpoints {
		if aqi <= bp.iHi {
			if aqi < bp.iLo {
				// gap between integer bands, e.g. 50.5
				return bp.cLo, nil
			}
			return (aqi-bp.iLo)*(bp.cHi-bp.cLo)/(bp.iHi-bp.iLo) + bp.cLo, nil
		}
	}
	last := pm25Breakpoints[len(pm25Breakpoints)-1]
	// beyond the index: extrapolate along the last band
	return (aqi-last.iLo)*(last.cHi-last.cLo)/(last.iHi-last.iLo) + last.cLo, nil
}
