package fusion

import (
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = Coordinate{Lat: 0, Lon: 0}

// northOf returns a coordinate km kilometres due north of the origin.
func northOf(km float64) Coordinate {
	return Coordinate{Lat: km * 1000 / orb.EarthRadius * 180 / math.Pi, Lon: 0}
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 30, Distance(origin, northOf(30)), 1e-6)
	seoul := Coordinate{Lat: 37.5665, Lon: 126.9780}
	busan := Coordinate{Lat: 35.1796, Lon: 129.0756}
	assert.InDelta(t, 325, Distance(seoul, busan), 5)
}

func TestInterpolateStationsEmpty(t *testing.T) {
	p := DefaultPolicy()
	assert.Nil(t, p.InterpolateStations(origin, nil, nil))
	assert.Nil(t, p.InterpolateStations(origin, []StationReading{}, nil))
}

func TestInterpolateStationsFavoursCloserStation(t *testing.T) {
	p := DefaultPolicy()
	stations := []StationReading{
		{Coordinate: northOf(5), PM25: 80},
		{Coordinate: northOf(30), PM25: 20},
	}

	e := p.InterpolateStations(origin, stations, nil)
	require.NotNil(t, e)
	assert.Equal(t, SourceStation, e.Kind())
	assert.InDelta(t, 78.3, e.Value(), 0.1)
}

func TestInterpolateStationsMonotonicInDistance(t *testing.T) {
	p := DefaultPolicy()
	far := []StationReading{
		{Coordinate: northOf(8), PM25: 30},
		{Coordinate: northOf(20), PM25: 90},
	}
	closer := []StationReading{
		{Coordinate: northOf(8), PM25: 30},
		{Coordinate: northOf(12), PM25: 90},
	}

	before := p.InterpolateStations(origin, far, nil).Value()
	after := p.InterpolateStations(origin, closer, nil).Value()
	assert.Greater(t, after, before)
	assert.Less(t, after, 90.0)
}

func TestInterpolateStationsSingleStation(t *testing.T) {
	p := DefaultPolicy()
	e := p.InterpolateStations(origin, []StationReading{{Coordinate: northOf(2), PM25: 42}}, nil)
	require.NotNil(t, e)

	assert.InDelta(t, 42, e.Value(), 1e-9)
	// count 1/5, proximity 1-2/10, all fresh
	want := 0.2*0.4 + 0.8*0.4 + 1*0.2
	assert.InDelta(t, want, e.Confidence(), 1e-6)
}

func TestInterpolateStationsConfidenceFactors(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	stations := make([]StationReading, 0, 5)
	for i := 0; i < 5; i++ {
		observed := now.Add(-5 * time.Minute)
		if i >= 3 {
			observed = now.Add(-2 * time.Hour)
		}
		stations = append(stations, StationReading{Coordinate: northOf(15 + float64(i)), PM25: 10, ObservedAt: observed})
	}

	e := p.InterpolateStations(origin, stations, FreshWithin(10*time.Minute, now))
	require.NotNil(t, e)
	// full count, nearest beyond decay radius, 3/5 fresh
	assert.InDelta(t, 0.4+0+0.6*0.2, e.Confidence(), 1e-9)
	assert.InDelta(t, 10, e.Value(), 1e-9)
}

func TestFreshWithin(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := FreshWithin(10*time.Minute, now)
	assert.True(t, fresh(now.Add(-10*time.Minute)))
	assert.False(t, fresh(now.Add(-11*time.Minute)))
}

func TestInterpolateStationsSkipsInvalidReadings(t *testing.T) {
	p := DefaultPolicy()
	good := StationReading{ID: "good", Coordinate: northOf(5), PM25: 40}

	for name, bad := range map[string]StationReading{
		"nan":       {ID: "nan", Coordinate: northOf(2), PM25: math.NaN()},
		"inf":       {ID: "inf", Coordinate: northOf(2), PM25: math.Inf(1)},
		"negative":  {ID: "neg", Coordinate: northOf(2), PM25: -50},
		"bad coord": {ID: "coord", Coordinate: Coordinate{Lat: 95, Lon: 0}, PM25: 10},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, bad.Validate(), ErrInvalidStation)

			assert.Nil(t, p.InterpolateStations(origin, []StationReading{bad}, nil))

			e := p.InterpolateStations(origin, []StationReading{bad, good}, nil)
			require.NotNil(t, e)
			assert.Equal(t, 40.0, e.Value())
			assert.Equal(t, p.InterpolateStations(origin, []StationReading{good}, nil).Confidence(), e.Confidence())

			// a bad station must never reach the fused result
			camera, err := NewPollutantEstimate(SourceCamera, 30, 0.8)
			require.NoError(t, err)
			r := p.Fuse(e, camera, nil)
			assert.False(t, math.IsNaN(r.PM25))
			assert.False(t, math.IsNaN(r.Uncertainty))
		})
	}
}

func TestNewStationReading(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r, err := NewStationReading("1", "Jung-gu", northOf(1), 12, now)
	require.NoError(t, err)
	assert.Equal(t, 12.0, r.PM25)

	_, err = NewStationReading("2", "", northOf(1), math.NaN(), now)
	assert.ErrorIs(t, err, ErrInvalidStation)
	_, err = NewStationReading("3", "", northOf(1), -0.5, now)
	assert.ErrorIs(t, err, ErrInvalidStation)
}
