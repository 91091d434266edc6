package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/meteogram-sources/internal/observability"
)

func newFallback(recent, archive Client, now time.Time) *FallbackClient {
	return NewFallbackClient("unified", recent, archive,
		WithClock(clockwork.NewFakeClockAt(now)),
		WithLogger(discardLogger()),
	)
}

func TestFallbackPrefersRecentForRecentWindow(t *testing.T) {
	now := t0.Add(24 * time.Hour)
	recent := &stubClient{name: "recent", table: tableOf("recent", 2)}
	archive := &stubClient{name: "archive", table: tableOf("archive", 3)}

	got, err := newFallback(recent, archive, now).Fetch(context.Background(), Query{
		Lat: 60.1939, Lon: 11.1004, Start: now, End: now.Add(6 * time.Hour),
	})

	require.NoError(t, err)
	assert.Equal(t, "recent", got.Source)
	assert.Equal(t, 1, recent.fetchCount())
	assert.Equal(t, 0, archive.fetchCount())
}

func TestFallbackUsesArchiveWhenRecentFails(t *testing.T) {
	now := t0.Add(24 * time.Hour)
	recent := &stubClient{name: "recent", err: SourceErrorf("recent", ErrTransport, "connection refused")}
	archive := &stubClient{name: "archive", table: tableOf("archive", 3)}

	got, err := newFallback(recent, archive, now).Fetch(context.Background(), Query{
		Lat: 60.1939, Lon: 11.1004, Start: now, End: now.Add(6 * time.Hour),
	})

	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())
	assert.Equal(t, "archive", got.Source)
	assert.Equal(t, 1, recent.fetchCount())
}

func TestFallbackPrefersArchiveForOldWindow(t *testing.T) {
	now := t0.Add(10 * 24 * time.Hour)
	recent := &stubClient{name: "recent", table: tableOf("recent", 2)}
	archive := &stubClient{name: "archive", err: SourceErrorf("archive", ErrNoData, "empty")}

	got, err := newFallback(recent, archive, now).Fetch(context.Background(), Query{
		Lat: 60, Lon: 11, Start: t0, End: t0.Add(12 * time.Hour),
	})

	require.NoError(t, err)
	assert.Equal(t, "recent", got.Source)
	assert.Equal(t, 1, archive.fetchCount())
	assert.Equal(t, 1, recent.fetchCount())
}

func TestFallbackBoundaryIsExclusive(t *testing.T) {
	now := t0.Add(48 * time.Hour)
	recent := &stubClient{name: "recent", table: tableOf("recent", 1)}
	archive := &stubClient{name: "archive", table: tableOf("archive", 1)}

	got, err := newFallback(recent, archive, now).Fetch(context.Background(), Query{
		Lat: 60, Lon: 11, Start: t0, End: t0.Add(time.Hour),
	})

	require.NoError(t, err)
	assert.Equal(t, "archive", got.Source, "start exactly two days back goes to the archive")
}

func TestFallbackBothFail(t *testing.T) {
	now := t0.Add(time.Hour)
	recentErr := SourceErrorf("recent", ErrTransport, "status 503")
	archiveErr := SourceErrorf("archive", ErrGridResolution, "outside grid")
	recent := &stubClient{name: "recent", err: recentErr}
	archive := &stubClient{name: "archive", err: archiveErr}

	_, err := newFallback(recent, archive, now).Fetch(context.Background(), Query{
		Lat: 60.1939, Lon: 11.1004, Start: t0, End: t0.Add(12 * time.Hour),
	})

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, "recent", exhausted.Attempts[0].Source)
	assert.Equal(t, "archive", exhausted.Attempts[1].Source)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrGridResolution)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "outside grid")
	assert.Contains(t, err.Error(), "60.1939")
	assert.Contains(t, err.Error(), "recent: transport failure: status 503; archive: grid resolution failed: outside grid")
	assert.NotContains(t, err.Error(), "recent: recent:")
}

func TestExhaustedErrorNamesPlainCauses(t *testing.T) {
	err := &ExhaustedError{
		Lat: 60, Lon: 11, Start: t0, End: t0.Add(time.Hour),
		Attempts: []Attempt{{Source: "recent", Err: errors.New("dial tcp: refused")}},
	}
	assert.Contains(t, err.Error(), ": recent: dial tcp: refused")
}

func TestFallbackValidationShortCircuits(t *testing.T) {
	recent := &stubClient{name: "recent"}
	archive := &stubClient{name: "archive"}
	c := newFallback(recent, archive, t0)

	_, err := c.Fetch(context.Background(), Query{Lat: 100, Lon: 0, Start: t0, End: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrValidation)

	recent.err = SourceErrorf("recent", ErrValidation, "bad variable")
	_, err = c.Fetch(context.Background(), Query{Lat: 60, Lon: 11, Start: t0, End: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, archive.fetchCount())
}

func TestFallbackTestConnectionIsOr(t *testing.T) {
	tests := []struct {
		recent, archive, want bool
	}{
		{true, false, true},
		{false, true, true},
		{false, false, false},
	}
	for _, tt := range tests {
		c := newFallback(&stubClient{name: "r", reachable: tt.recent}, &stubClient{name: "a", reachable: tt.archive}, t0)
		assert.Equal(t, tt.want, c.TestConnection(context.Background()))
	}
}

func TestFallbackDescribeMergesVariables(t *testing.T) {
	c := newFallback(
		&stubClient{name: "r", kind: KindHTTPAPI, variables: []string{"air_temperature_2m", "symbol_code"}},
		&stubClient{name: "a", kind: KindFileServer, variables: []string{"precipitation_amount_acc", "air_temperature_2m"}},
		t0,
	)

	d := c.Describe()

	assert.Equal(t, "unified", d.Name)
	assert.Equal(t, []string{VarTemperature, VarPrecipitation, VarWeatherSymbol}, d.Variables)
}

func TestFallbackRecordsAttempts(t *testing.T) {
	now := t0.Add(24 * time.Hour)
	recent := &stubClient{name: "recent", err: SourceErrorf("recent", ErrTransport, "timeout")}
	archive := &stubClient{name: "archive", table: tableOf("archive", 1)}
	metrics := observability.NewMetricsForTesting()

	c := NewFallbackClient("unified", recent, archive,
		WithClock(clockwork.NewFakeClockAt(now)),
		WithLogger(discardLogger()),
		WithMetrics(metrics),
	)
	_, err := c.Fetch(context.Background(), Query{Lat: 60, Lon: 11, Start: now, End: now.Add(time.Hour)})

	require.NoError(t, err)
	assert.Equal(t, 1.0, metricValue(t, metrics.FallbackAttempts.WithLabelValues("unified", "recent", "error")))
	assert.Equal(t, 1.0, metricValue(t, metrics.FallbackAttempts.WithLabelValues("unified", "archive", "success")))
}
