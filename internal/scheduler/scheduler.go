package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/meteogram-sources/internal/weather"
)

// Refresher is the part of weather.Service the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context, locs []weather.Location, horizon time.Duration) weather.BatchReport
}

// Scheduler periodically refreshes meteograms for configured locations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Refresher
	locations []weather.Location
	interval  time.Duration
	horizon   time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	last weather.BatchReport
}

// New creates a new Scheduler.
func New(locations []weather.Location, interval, horizon time.Duration, service Refresher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		locations: locations,
		interval:  interval,
		horizon:   horizon,
		// Locations run one after another, each possibly through both sources.
		timeout: time.Duration(len(locations)+1) * 2 * time.Minute,
		logger:  logger,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run starts immediately.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		s.logger.Info("scheduler: no locations configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	_, err := s.scheduler.Every(minutes).Minutes().SingletonMode().Do(s.RunOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce refreshes every location and keeps the report.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report := s.service.Refresh(ctx, s.locations, s.horizon)
	if err := report.Err(); err != nil {
		s.logger.Warn("scheduler: refresh finished with failures",
			"run_id", report.RunID, "failed", len(report.Failed), "error", err)
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
}

// LastReport returns the report of the most recent run.
func (s *Scheduler) LastReport() weather.BatchReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
