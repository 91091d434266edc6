package weather

import (
	"context"
	"fmt"
	"time"
)

// Client abstracts a meteorological time-series source (e.g. Met.no
// LocationForecast, the THREDDS model archive, or a fallback of both).
type Client interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Table, error)
	// TestConnection reports availability. It never returns an error;
	// any failure counts as unavailable.
	TestConnection(ctx context.Context) bool
	Describe() Descriptor
}

// Query is a single-point request for a time window.
type Query struct {
	Lat   float64
	Lon   float64
	Start time.Time
	End   time.Time

	// Variables optionally restricts the returned columns to these
	// canonical names. Empty means every available variable.
	Variables []string
}

// ValidateCoordinates reports whether lat/lon are valid decimal degrees.
func ValidateCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ValidateTimeRange reports whether start is strictly before end.
func ValidateTimeRange(start, end time.Time) bool {
	return start.Before(end)
}

// Normalized returns a copy with both instants in UTC.
func (q Query) Normalized() Query {
	q.Start = q.Start.UTC()
	q.End = q.End.UTC()
	return q
}

// Validate checks coordinates, window and requested variables. The returned
// error wraps ErrValidation.
func (q Query) Validate(source string) error {
	if !ValidateCoordinates(q.Lat, q.Lon) {
		return SourceErrorf(source, ErrValidation, "coordinates out of range: %g, %g", q.Lat, q.Lon)
	}
	if !ValidateTimeRange(q.Start, q.End) {
		return SourceErrorf(source, ErrValidation, "time range is empty or inverted: %s to %s",
			q.Start.Format(time.RFC3339), q.End.Format(time.RFC3339))
	}
	for _, v := range q.Variables {
		if !IsVariable(v) {
			return SourceErrorf(source, ErrValidation, "unknown variable %q", v)
		}
	}
	return nil
}

// Contains reports whether ts lies inside the query window, bounds inclusive.
func (q Query) Contains(ts time.Time) bool {
	return !ts.Before(q.Start) && !ts.After(q.End)
}

func (q Query) String() string {
	return fmt.Sprintf("(%.4f, %.4f) %s..%s", q.Lat, q.Lon,
		q.Start.UTC().Format(time.RFC3339), q.End.UTC().Format(time.RFC3339))
}
