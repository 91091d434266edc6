package weather

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/i474232898/meteogram-sources/internal/observability"
)

// DefaultRecentWindow is how far back a window may start and still be sent
// to the recent-data source first. Real sources advertise their own horizon
// in Descriptor.MaxForecastHours; the boundary does not consult it yet.
const DefaultRecentWindow = 48 * time.Hour

// FallbackClient serves a query from one of two sources, choosing the order
// by how recent the window is and falling back to the other on failure.
type FallbackClient struct {
	name    string
	recent  Client
	archive Client
	window  time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// FallbackOption customizes a FallbackClient.
type FallbackOption func(*FallbackClient)

// WithRecentWindow overrides DefaultRecentWindow.
func WithRecentWindow(d time.Duration) FallbackOption {
	return func(c *FallbackClient) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithClock sets the time source used for the recent/archive decision.
func WithClock(clock clockwork.Clock) FallbackOption {
	return func(c *FallbackClient) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FallbackOption {
	return func(c *FallbackClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records every attempt in m.FallbackAttempts.
func WithMetrics(m *observability.Metrics) FallbackOption {
	return func(c *FallbackClient) {
		c.metrics = m
	}
}

// NewFallbackClient combines a recent-data client and an archive client.
func NewFallbackClient(name string, recent, archive Client, opts ...FallbackOption) *FallbackClient {
	c := &FallbackClient{
		name:    name,
		recent:  recent,
		archive: archive,
		window:  DefaultRecentWindow,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *FallbackClient) Name() string {
	return c.name
}

// order returns the clients in the order they should be tried for q.
func (c *FallbackClient) order(q Query) []Client {
	boundary := c.clock.Now().Add(-c.window)
	if q.Start.After(boundary) {
		return []Client{c.recent, c.archive}
	}
	return []Client{c.archive, c.recent}
}

// Fetch tries the preferred source and then the other. Validation failures
// are returned immediately. When both sources fail the returned
// *ExhaustedError carries each source's cause.
func (c *FallbackClient) Fetch(ctx context.Context, q Query) (Table, error) {
	q = q.Normalized()
	if err := q.Validate(c.name); err != nil {
		return Table{}, err
	}

	attempts := make([]Attempt, 0, 2)
	for _, client := range c.order(q) {
		c.logger.Info("fetching from source", "client", c.name, "source", client.Name(), "query", q.String())

		table, err := client.Fetch(ctx, q)
		c.observe(client.Name(), err)
		if err == nil {
			return table, nil
		}
		if errors.Is(err, ErrValidation) {
			return Table{}, err
		}

		c.logger.Warn("source failed", "client", c.name, "source", client.Name(), "error", err)
		attempts = append(attempts, Attempt{Source: client.Name(), Err: err})

		if ctx.Err() != nil {
			break
		}
	}

	return Table{}, &ExhaustedError{
		Lat:      q.Lat,
		Lon:      q.Lon,
		Start:    q.Start,
		End:      q.End,
		Attempts: attempts,
	}
}

func (c *FallbackClient) observe(source string, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.FallbackAttempts.WithLabelValues(c.name, source, outcome).Inc()
}

// TestConnection reports true while either backing source is reachable.
func (c *FallbackClient) TestConnection(ctx context.Context) bool {
	recentOK := c.recent.TestConnection(ctx)
	archiveOK := c.archive.TestConnection(ctx)
	c.logger.Info("connection test", "client", c.name,
		c.recent.Name(), recentOK, c.archive.Name(), archiveOK)
	return recentOK || archiveOK
}

// Describe merges the two sources' descriptors.
func (c *FallbackClient) Describe() Descriptor {
	r, a := c.recent.Describe(), c.archive.Describe()

	horizon := r.MaxForecastHours
	if a.MaxForecastHours > horizon {
		horizon = a.MaxForecastHours
	}

	return Descriptor{
		Name:              c.name,
		Kind:              r.Kind,
		BaseURL:           joinNonEmpty(" + ", r.BaseURL, a.BaseURL),
		RequiresAuth:      r.RequiresAuth || a.RequiresAuth,
		RateLimited:       r.RateLimited || a.RateLimited,
		Variables:         canonicalUnion(r.Variables, a.Variables),
		TimeResolution:    r.TimeResolution,
		SpatialResolution: joinNonEmpty("-", r.SpatialResolution, a.SpatialResolution),
		UpdateFrequency:   r.UpdateFrequency,
		MaxForecastHours:  horizon,
		Description:       "Combines " + r.Name + " and " + a.Name + " with fallback",
	}
}

// canonicalUnion maps provider variable names to canonical names and
// returns their union in canonical order.
func canonicalUnion(lists ...[]string) []string {
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, v := range list {
			if name, ok := CanonicalName(v); ok {
				seen[name] = true
			}
		}
	}
	var out []string
	for _, v := range Variables {
		if seen[v] {
			out = append(out, v)
		}
	}
	return out
}

// CanonicalName resolves a provider or canonical variable name.
func CanonicalName(name string) (string, bool) {
	if IsVariable(name) {
		return name, true
	}
	for _, a := range aliases {
		for _, src := range a.sources {
			if src == name {
				return a.name, true
			}
		}
	}
	// Accumulated archive fields such as precipitation_amount_acc.
	if base, ok := strings.CutSuffix(name, "_acc"); ok {
		return CanonicalName(base)
	}
	return "", false
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" && !contains(kept, p) {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
