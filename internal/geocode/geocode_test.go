package geocode

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/meteogram-sources/internal/weather"
)

func ptr(v float64) *float64 { return &v }

func TestResolve(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	calls := 0
	lookup := func(city, country string) (float64, float64, error) {
		calls++
		switch city {
		case "Oslo":
			return 59.9139, 10.7522, nil
		case "Nowhere":
			return 0, 0, errors.New("ZERO_RESULTS")
		default:
			return 123, 456, nil
		}
	}
	r := NewResolver(lookup, logger)

	got := r.Resolve([]weather.Location{
		{Name: "GEN", Lat: ptr(60.1939), Lon: ptr(11.1004)},
		{City: "Oslo", Country: "Norway"},
		{City: "Nowhere", Country: "Atlantis"},
		{City: "Broken", Country: "Norway"},
		{Name: "EMPTY"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "GEN", got[0].Name)
	assert.Equal(t, "Oslo", got[1].Name)
	assert.InDelta(t, 59.9139, *got[1].Lat, 1e-9)
	assert.InDelta(t, 10.7522, *got[1].Lon, 1e-9)
	assert.Equal(t, 3, calls, "locations with coordinates or no city are not geocoded")
}

func TestGoogleLookupRequiresKey(t *testing.T) {
	_, _, err := GoogleLookup("")("Oslo", "Norway")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
