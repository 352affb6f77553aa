package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
)

// Fetcher is the part of airquality.Service the scheduler drives.
type Fetcher interface {
	FetchAndStore(ctx context.Context, loc airquality.Location) error
}

// Scheduler periodically estimates air quality for configured locations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Fetcher
	locations []airquality.Location
	interval  time.Duration
	timeout   time.Duration
	log       *slog.Logger
}

// New creates a new Scheduler. Non-positive intervals default to 15 minutes.
func New(locations []airquality.Location, interval time.Duration, service Fetcher, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		locations: locations,
		interval:  interval,
		timeout:   30 * time.Second,
		log:       logger.With("component", "scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		s.log.Info("no locations configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.RunOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce estimates every location concurrently and waits for all of them.
func (s *Scheduler) RunOnce() {
	s.log.Info("running air quality fetch job", "locations", len(s.locations))

	var wg sync.WaitGroup
	for _, loc := range s.locations {
		wg.Add(1)
		go func(loc airquality.Location) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()

			if err := s.service.FetchAndStore(ctx, loc); err != nil {
				s.log.Error("fetch failed", "location", loc.Key(), "error", err)
			}
		}(loc)
	}
	wg.Wait()
	s.log.Info("completed air quality fetch job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
