package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/i474232898/meteogram-sources/internal/observability"
)

// Snapshot is a stored meteogram for one location.
type Snapshot struct {
	Location  Location  `json:"location"`
	FetchedAt time.Time `json:"fetchedAt"`
	Table     Table     `json:"-"`
}

// Store persists the most recent snapshots per location.
type Store interface {
	SaveSnapshot(loc Location, snap Snapshot)
	GetLatest(loc Location) (Snapshot, error)
	GetRange(loc Location, from, to time.Time) ([]Snapshot, error)
}

// FetchRequest is a single meteogram request. Source selects a registered
// client by name; empty means the best reachable one, optionally narrowed
// by Kind.
type FetchRequest struct {
	Query
	Source string
	Kind   SourceKind
}

// LocationFailure records why one location failed during a refresh.
type LocationFailure struct {
	Location string `json:"location"`
	Error    string `json:"error"`
	Err      error  `json:"-"`
}

// BatchReport summarizes one refresh run.
type BatchReport struct {
	RunID     string            `json:"runId"`
	Started   time.Time         `json:"started"`
	Finished  time.Time         `json:"finished"`
	Succeeded []string          `json:"succeeded"`
	Failed    []LocationFailure `json:"failed"`
}

// Err joins every location failure, or returns nil when all succeeded.
func (r BatchReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.Location, f.Err))
	}
	return errors.Join(errs...)
}

// Service resolves clients from the registry, fetches meteograms and keeps
// the latest result per configured location in the store.
type Service struct {
	registry *Registry
	store    Store
	metrics  *observability.Metrics
	logger   *slog.Logger
	clock    clockwork.Clock
}

// NewService creates a new Service. A nil clock uses the real clock.
func NewService(registry *Registry, store Store, metrics *observability.Metrics, logger *slog.Logger, clock clockwork.Clock) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		registry: registry,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		clock:    clock,
	}
}

// Sources returns the registered descriptors in priority order.
func (s *Service) Sources() []Descriptor {
	all := s.registry.List()
	out := make([]Descriptor, 0, len(all))
	for _, name := range s.registry.Names() {
		d := all[name]
		if d.Name == "" {
			d.Name = name
		}
		out = append(out, d)
	}
	return out
}

// Fetch resolves a client for req and returns its canonical table.
func (s *Service) Fetch(ctx context.Context, req FetchRequest) (Table, error) {
	q := req.Query.Normalized()
	if err := q.Validate("service"); err != nil {
		return Table{}, err
	}

	client, err := s.resolve(ctx, req)
	if err != nil {
		return Table{}, err
	}

	start := s.clock.Now()
	table, err := client.Fetch(ctx, q)
	elapsed := s.clock.Since(start)

	if s.metrics != nil {
		s.metrics.FetchDuration.WithLabelValues(client.Name()).Observe(elapsed.Seconds())
	}
	if err != nil {
		s.observe(client.Name(), "error")
		s.logger.Warn("fetch failed", "source", client.Name(), "query", q.String(), "error", err)
		return Table{}, err
	}

	s.observe(client.Name(), "success")
	if s.metrics != nil {
		s.metrics.FetchRows.Observe(float64(table.Len()))
	}
	s.logger.Debug("fetch succeeded", "source", client.Name(), "rows", table.Len(), "elapsed", elapsed)
	return table, nil
}

func (s *Service) resolve(ctx context.Context, req FetchRequest) (Client, error) {
	if req.Source != "" {
		client, ok := s.registry.Get(req.Source)
		if !ok {
			return nil, SourceErrorf("service", ErrValidation, "unknown source %q", req.Source)
		}
		return client, nil
	}

	var filter *Requirements
	if req.Kind != "" {
		filter = &Requirements{Kind: req.Kind}
	}
	client := s.registry.Best(ctx, filter)
	if client == nil {
		if s.metrics != nil {
			s.metrics.NoSource.Inc()
		}
		return nil, ErrNoSource
	}
	return client, nil
}

func (s *Service) observe(source, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.FetchRequests.WithLabelValues(source, outcome).Inc()
}

// Refresh fetches [now, now+horizon] for each location one after another and
// stores every success. A failing location is logged and recorded in the
// report; the run continues with the next one.
func (s *Service) Refresh(ctx context.Context, locs []Location, horizon time.Duration) BatchReport {
	report := BatchReport{
		RunID:   uuid.NewString(),
		Started: s.clock.Now().UTC(),
	}
	logger := s.logger.With("run_id", report.RunID)
	logger.Info("refresh started", "locations", len(locs), "horizon", horizon)

	if s.metrics != nil {
		s.metrics.RefreshLastStart.Set(float64(report.Started.Unix()))
	}

	start := report.Started.Truncate(time.Hour)
	end := start.Add(horizon)

	for _, loc := range locs {
		name := loc.Key()
		if err := ctx.Err(); err != nil {
			s.fail(&report, logger, name, err)
			continue
		}
		if !loc.HasCoordinates() {
			s.fail(&report, logger, name, SourceErrorf("service", ErrValidation, "location %q has no coordinates", name))
			continue
		}

		table, err := s.Fetch(ctx, FetchRequest{Query: Query{
			Lat:   *loc.Lat,
			Lon:   *loc.Lon,
			Start: start,
			End:   end,
		}})
		if err != nil {
			s.fail(&report, logger, name, err)
			continue
		}

		s.store.SaveSnapshot(loc, Snapshot{
			Location:  loc,
			FetchedAt: s.clock.Now().UTC(),
			Table:     table,
		})
		report.Succeeded = append(report.Succeeded, name)
		logger.Info("location refreshed", "location", name, "source", table.Source, "rows", table.Len())
	}

	report.Finished = s.clock.Now().UTC()
	if s.metrics != nil {
		s.metrics.RefreshRuns.Inc()
	}
	logger.Info("refresh completed",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"duration", report.Finished.Sub(report.Started))
	return report
}

func (s *Service) fail(report *BatchReport, logger *slog.Logger, name string, err error) {
	report.Failed = append(report.Failed, LocationFailure{Location: name, Error: err.Error(), Err: err})
	if s.metrics != nil {
		s.metrics.RefreshFailures.WithLabelValues(name).Inc()
	}
	logger.Error("location refresh failed", "location", name, "error", err)
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest(loc Location) (Snapshot, error) {
	return s.store.GetLatest(loc)
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(loc Location, from, to time.Time) ([]Snapshot, error) {
	return s.store.GetRange(loc, from, to)
}
