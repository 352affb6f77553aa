package airquality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

var errNotConfigured = errors.New("source not configured")

// Dependencies are the collaborators a Service orchestrates. Any source may be
// nil, in which case it is always treated as absent.
type Dependencies struct {
	Store      Store
	Stations   StationDirectory
	Satellite  SatelliteSource
	Camera     CameraInference
	Publishers []Publisher
	Observer   Observer
	Logger     *slog.Logger
}

// Settings tune how upstream data is gathered before fusion.
type Settings struct {
	Policy fusion.Policy
	// SourceTimeout bounds each upstream lookup independently.
	SourceTimeout    time.Duration
	StationRadiusKm  float64
	MaxStations      int
	StationFreshness time.Duration
}

// DefaultSettings mirrors the mobile app: 50 km radius, nearest 5 stations,
// 10 minute freshness.
func DefaultSettings() Settings {
	return Settings{
		Policy:           fusion.DefaultPolicy(),
		SourceTimeout:    8 * time.Second,
		StationRadiusKm:  50,
		MaxStations:      5,
		StationFreshness: 10 * time.Minute,
	}
}

// Service gathers station, satellite and camera estimates concurrently, fuses
// them and persists the resulting snapshots.
type Service struct {
	deps     Dependencies
	settings Settings
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a new Service.
func NewService(deps Dependencies, settings Settings) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if settings.SourceTimeout <= 0 {
		settings.SourceTimeout = DefaultSettings().SourceTimeout
	}
	return &Service{
		deps:     deps,
		settings: settings,
		log:      logger.With("component", "airquality"),
		now:      time.Now,
	}
}

// Policy returns the fusion policy in use.
func (s *Service) Policy() fusion.Policy {
	return s.settings.Policy
}

// EstimateRequest asks for a fused estimate at a location. Camera, when set,
// is used as the camera source directly; otherwise Image is sent to the
// configured camera inference.
type EstimateRequest struct {
	Location Location
	Camera   *CameraPrediction
	Image    []byte
}

// Estimate issues all upstream lookups concurrently, each under its own
// timeout, and fuses whatever arrived. Failed or timed-out sources are absent,
// not errors. Only malformed request input is reported as an error.
func (s *Service) Estimate(ctx context.Context, req EstimateRequest) (Snapshot, error) {
	at, err := req.Location.Coordinate()
	if err != nil {
		return Snapshot{}, err
	}

	var camera *fusion.PollutantEstimate
	if req.Camera != nil {
		camera, err = fusion.NewPollutantEstimate(fusion.SourceCamera, req.Camera.PM25, req.Camera.Confidence)
		if err != nil {
			return Snapshot{}, err
		}
	}

	now := s.now().UTC()

	var (
		wg                                          sync.WaitGroup
		station, satellite, inferred                *fusion.PollutantEstimate
		stationStatus, satelliteStatus, cameraState SourceStatus
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		station, stationStatus = s.lookup(ctx, req.Location, fusion.SourceStation, func(ctx context.Context) (*fusion.PollutantEstimate, int, error) {
			return s.stationTier(ctx, at, now)
		})
	}()
	go func() {
		defer wg.Done()
		satellite, satelliteStatus = s.lookup(ctx, req.Location, fusion.SourceSatellite, func(ctx context.Context) (*fusion.PollutantEstimate, int, error) {
			return s.satelliteTier(ctx, at)
		})
	}()
	if camera == nil && len(req.Image) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inferred, cameraState = s.lookup(ctx, req.Location, fusion.SourceCamera, func(ctx context.Context) (*fusion.PollutantEstimate, int, error) {
				return s.cameraTier(ctx, req.Image, at)
			})
		}()
	}
	wg.Wait()

	if camera != nil {
		cameraState = SourceStatus{Source: fusion.SourceCamera, Available: true}
	} else {
		camera = inferred
		if cameraState.Source == 0 {
			cameraState = SourceStatus{Source: fusion.SourceCamera, Error: "no camera input"}
		}
	}

	result := s.settings.Policy.Fuse(station, camera, satellite)
	low, high := result.Range()
	snapshot := Snapshot{
		ID:        uuid.NewString(),
		Location:  req.Location,
		Timestamp: now,
		Result:    result,
		Category:  CategoryFor(result.PM25),
		Low:       low,
		High:      high,
		Sources:   []SourceStatus{stationStatus, cameraState, satelliteStatus},
	}

	if result.NoData {
		s.log.Warn("no sources available; returning fallback estimate", "location", req.Location.Key())
	} else {
		s.persist(ctx, snapshot)
	}

	if s.deps.Observer != nil {
		s.deps.Observer.Estimated(snapshot)
	}
	return snapshot, nil
}

// FetchAndStore estimates air quality at loc from station and satellite data
// and stores the snapshot. A run where every source failed keeps the last good
// snapshot.
func (s *Service) FetchAndStore(ctx context.Context, loc Location) error {
	snapshot, err := s.Estimate(ctx, EstimateRequest{Location: loc})
	if err != nil {
		return fmt.Errorf("estimate %s: %w", loc.Key(), err)
	}
	if snapshot.Result.NoData {
		s.log.Info("no successful source readings; keeping last good snapshot", "location", loc.Key())
	}
	return nil
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest(ctx context.Context, loc Location) (Snapshot, error) {
	return s.deps.Store.GetLatest(ctx, loc)
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(ctx context.Context, loc Location, from, to time.Time) ([]Snapshot, error) {
	return s.deps.Store.GetRange(ctx, loc, from, to)
}

func (s *Service) persist(ctx context.Context, snapshot Snapshot) {
	if s.deps.Store != nil {
		if err := s.deps.Store.SaveSnapshot(ctx, snapshot); err != nil {
			s.log.Error("saving snapshot failed", "location", snapshot.Location.Key(), "error", err)
		}
	}
	for _, p := range s.deps.Publishers {
		if err := p.Publish(ctx, snapshot); err != nil {
			s.log.Warn("publishing snapshot failed", "location", snapshot.Location.Key(), "error", err)
		}
	}
}

// lookup runs one source under its own deadline and converts failure into absence.
func (s *Service) lookup(
	ctx context.Context,
	loc Location,
	kind fusion.SourceKind,
	fetch func(ctx context.Context) (*fusion.PollutantEstimate, int, error),
) (*fusion.PollutantEstimate, SourceStatus) {
	status := SourceStatus{Source: kind}

	ctx, cancel := context.WithTimeout(ctx, s.settings.SourceTimeout)
	defer cancel()

	start := time.Now()
	est, count, err := fetch(ctx)
	elapsed := time.Since(start)
	status.Stations = count

	if errors.Is(err, errNotConfigured) {
		status.Error = err.Error()
		return nil, status
	}
	if s.deps.Observer != nil {
		s.deps.Observer.SourceLookup(kind, err == nil && est != nil, elapsed)
	}
	if err != nil {
		s.log.Warn("source lookup failed; treating as absent",
			"source", kind.String(), "location", loc.Key(), "elapsed", elapsed, "error", err)
		status.Error = err.Error()
		return nil, status
	}
	if est == nil {
		status.Error = "no data"
		return nil, status
	}
	status.Available = true
	return est, status
}

func (s *Service) stationTier(ctx context.Context, at fusion.Coordinate, now time.Time) (*fusion.PollutantEstimate, int, error) {
	if s.deps.Stations == nil {
		return nil, 0, errNotConfigured
	}
	readings, err := s.deps.Stations.NearbyStations(ctx, at, s.settings.StationRadiusKm)
	if err != nil {
		return nil, 0, err
	}
	nearby := SelectNearby(at, readings, s.settings.StationRadiusKm, s.settings.MaxStations)
	fresh := fusion.FreshWithin(s.settings.StationFreshness, now)
	return s.settings.Policy.InterpolateStations(at, nearby, fresh), len(nearby), nil
}

func (s *Service) satelliteTier(ctx context.Context, at fusion.Coordinate) (*fusion.PollutantEstimate, int, error) {
	if s.deps.Satellite == nil {
		return nil, 0, errNotConfigured
	}
	reading, err := s.deps.Satellite.FetchAOD(ctx, at)
	if err != nil {
		return nil, 0, err
	}
	est, err := s.settings.Policy.ConvertSatelliteAOD(&reading, at.Lat)
	return est, 0, err
}

func (s *Service) cameraTier(ctx context.Context, image []byte, at fusion.Coordinate) (*fusion.PollutantEstimate, int, error) {
	if s.deps.Camera == nil {
		return nil, 0, errNotConfigured
	}
	pred, err := s.deps.Camera.Infer(ctx, image, at)
	if err != nil {
		return nil, 0, err
	}
	est, err := fusion.NewPollutantEstimate(fusion.SourceCamera, pred.PM25, pred.Confidence)
	return est, 0, err
}

// SelectNearby keeps valid readings within radiusKm of at, ordered by distance
// and limited to the nearest k. Non-positive radius or k disable that filter.
func SelectNearby(at fusion.Coordinate, readings []fusion.StationReading, radiusKm float64, k int) []fusion.StationReading {
	type ranked struct {
		r fusion.StationReading
		d float64
	}
	candidates := make([]ranked, 0, len(readings))
	for _, r := range readings {
		if r.Validate() != nil {
			continue
		}
		d := fusion.Distance(at, r.Coordinate)
		if radiusKm > 0 && d > radiusKm {
			continue
		}
		candidates = append(candidates, ranked{r: r, d: d})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].d < candidates[j].d })
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]fusion.StationReading, len(candidates))
	for i, c := range candidates {
		out[i] = c.r
	}
	return out
}
