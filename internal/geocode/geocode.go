package geocode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/meteogram-sources/internal/weather"
)

// ErrNoAPIKey is returned when geocoding is needed but no key is configured.
var ErrNoAPIKey = errors.New("geocoder api key not configured")

// Lookup resolves a city and country to coordinates.
type Lookup func(city, country string) (lat, lon float64, err error)

// Resolver fills in coordinates for locations configured by city and country.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
}

// NewResolver creates a Resolver using lookup. A nil logger uses slog.Default.
func NewResolver(lookup Lookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// the geocoder package keeps its key in a package variable.
var keyMu sync.Mutex

// GoogleLookup returns a Lookup backed by the Google Geocoding API.
func GoogleLookup(apiKey string) Lookup {
	return func(city, country string) (float64, float64, error) {
		if apiKey == "" {
			return 0, 0, ErrNoAPIKey
		}
		keyMu.Lock()
		defer keyMu.Unlock()

		geocoder.ApiKey = apiKey
		loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
		if err != nil {
			return 0, 0, err
		}
		return loc.Latitude, loc.Longitude, nil
	}
}

// Resolve returns the locations that have coordinates, geocoding those that
// only name a city and country. Locations that cannot be resolved are
// logged and left out.
func (r *Resolver) Resolve(locs []weather.Location) []weather.Location {
	out := make([]weather.Location, 0, len(locs))
	for _, loc := range locs {
		if loc.HasCoordinates() {
			out = append(out, loc)
			continue
		}
		resolved, err := r.resolveOne(loc)
		if err != nil {
			r.logger.Warn("location skipped", "location", loc.Key(), "error", err)
			continue
		}
		out = append(out, resolved)
	}
	return out
}

func (r *Resolver) resolveOne(loc weather.Location) (weather.Location, error) {
	if loc.City == "" {
		return loc, fmt.Errorf("location %q has neither coordinates nor a city", loc.Key())
	}
	lat, lon, err := r.lookup(loc.City, loc.Country)
	if err != nil {
		return loc, fmt.Errorf("geocode %s, %s: %w", loc.City, loc.Country, err)
	}
	if !weather.ValidateCoordinates(lat, lon) {
		return loc, fmt.Errorf("geocode %s, %s: coordinates out of range: %g, %g", loc.City, loc.Country, lat, lon)
	}

	if loc.Name == "" {
		loc.Name = loc.City
	}
	loc.Lat, loc.Lon = &lat, &lon
	r.logger.Info("location geocoded", "location", loc.Key(), "lat", lat, "lon", lon)
	return loc, nil
}
