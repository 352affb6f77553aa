package airquality

import (
	"context"
	"time"

	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

// StationDirectory returns raw ground station readings within radiusKm of a point.
type StationDirectory interface {
	Name() string
	NearbyStations(ctx context.Context, at fusion.Coordinate, radiusKm float64) ([]fusion.StationReading, error)
}

// SatelliteSource returns the current aerosol optical depth at a point.
type SatelliteSource interface {
	Name() string
	FetchAOD(ctx context.Context, at fusion.Coordinate) (fusion.AODReading, error)
}

// CameraPrediction is a raw PM2.5 value inferred from a sky photo.
type CameraPrediction struct {
	PM25       float64 `json:"pm25"`
	Confidence float64 `json:"confidence"`
}

// CameraInference runs the image model on a photo taken at a point.
type CameraInference interface {
	Name() string
	Infer(ctx context.Context, image []byte, at fusion.Coordinate) (CameraPrediction, error)
}

// Store is the contract the in-memory and SQLite stores satisfy.
type Store interface {
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, loc Location) (Snapshot, error)
	GetRange(ctx context.Context, loc Location, from, to time.Time) ([]Snapshot, error)
}

// Publisher forwards stored snapshots to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, snapshot Snapshot) error
}

// Observer receives estimation events, typically for metrics.
type Observer interface {
	SourceLookup(source fusion.SourceKind, ok bool, elapsed time.Duration)
	Estimated(snapshot Snapshot)
}
