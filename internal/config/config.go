package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/meteogram-sources/internal/weather"
	"github.com/i474232898/meteogram-sources/internal/weather/providers"
)

type AppConfig struct {
	Port      string
	LogLevel  string
	LogFormat string

	// HTTPTimeout bounds outbound real-time requests.
	HTTPTimeout time.Duration

	MetNoBaseURL   string
	MetNoUserAgent string

	ThreddsBaseURL      string
	ThreddsDataPath     string
	ThreddsFileTemplate string
	ThreddsRunHour      int
	ThreddsRunPolicy    providers.RunPolicy
	ThreddsTimeout      time.Duration
	ThreddsRetries      int

	// RecentWindow decides whether the real-time source is tried first.
	RecentWindow time.Duration

	// RefreshInterval controls how often configured locations are refreshed,
	// RefreshHorizon how far ahead each refresh reaches.
	RefreshInterval time.Duration
	RefreshHorizon  time.Duration

	// Locations to refresh. Entries without coordinates are geocoded.
	Locations      []weather.Location
	GeocoderAPIKey string

	// In-memory store retention.
	StoreMaxHistory int           // max number of snapshots per location (0 = unlimited)
	StoreMaxAge     time.Duration // max age of snapshots (0 = unlimited)
}

// Load reads configuration from the environment (and .env) with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:                getenvDefault("PORT", "8080"),
		LogLevel:            getenvDefault("LOG_LEVEL", "info"),
		LogFormat:           getenvDefault("LOG_FORMAT", "json"),
		MetNoBaseURL:        getenvDefault("METNO_API_BASE_URL", providers.DefaultMetNoBaseURL),
		MetNoUserAgent:      getenvDefault("METNO_USER_AGENT", providers.DefaultMetNoUserAgent),
		ThreddsBaseURL:      getenvDefault("THREDDS_BASE_URL", providers.DefaultThreddsBaseURL),
		ThreddsDataPath:     getenvDefault("THREDDS_DATA_PATH", providers.DefaultThreddsDataPath),
		ThreddsFileTemplate: getenvDefault("THREDDS_FILE_TEMPLATE", providers.DefaultThreddsTemplate),
		ThreddsRunHour:      getenvInt("THREDDS_RUN_HOUR", providers.DefaultThreddsRunHour),
		ThreddsRetries:      getenvInt("THREDDS_RETRIES", 2),
		GeocoderAPIKey:      os.Getenv("GEOCODER_API_KEY"),
		StoreMaxHistory:     getenvInt("STORE_MAX_HISTORY", 48),
	}

	if cfg.ThreddsRunHour < 0 || cfg.ThreddsRunHour > 23 {
		return nil, fmt.Errorf("invalid THREDDS_RUN_HOUR: %d", cfg.ThreddsRunHour)
	}
	policy, err := providers.ParseRunPolicy(os.Getenv("THREDDS_RUN_POLICY"))
	if err != nil {
		return nil, fmt.Errorf("invalid THREDDS_RUN_POLICY: %w", err)
	}
	cfg.ThreddsRunPolicy = policy

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", "30s", &cfg.HTTPTimeout},
		{"THREDDS_TIMEOUT", "60s", &cfg.ThreddsTimeout},
		{"RECENT_WINDOW", "48h", &cfg.RecentWindow},
		{"REFRESH_INTERVAL", "1h", &cfg.RefreshInterval},
		{"REFRESH_HORIZON", "48h", &cfg.RefreshHorizon},
		{"STORE_MAX_AGE", "24h", &cfg.StoreMaxAge},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	locs, err := parseLocations(os.Getenv("LOCATIONS"))
	if err != nil {
		return nil, err
	}
	named, err := loadPrimaryLocation()
	if err != nil {
		return nil, err
	}
	cfg.Locations = append(locs, named...)

	return cfg, nil
}

// parseLocations reads "NAME:lat:lon,NAME:lat:lon".
func parseLocations(s string) ([]weather.Location, error) {
	var locs []weather.Location
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid LOCATIONS entry %q: want NAME:lat:lon", entry)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCATIONS entry %q: %w", entry, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCATIONS entry %q: %w", entry, err)
		}
		if !weather.ValidateCoordinates(lat, lon) {
			return nil, fmt.Errorf("invalid LOCATIONS entry %q: coordinates out of range", entry)
		}
		locs = append(locs, weather.Location{
			Name: strings.TrimSpace(parts[0]),
			Lat:  &lat,
			Lon:  &lon,
		})
	}
	return locs, nil
}

// loadPrimaryLocation reads the comma separated WEATHER_LOCATION_* lists.
// These locations are geocoded at startup.
func loadPrimaryLocation() ([]weather.Location, error) {
	city := os.Getenv("WEATHER_LOCATION_CITY")
	if city == "" {
		return nil, nil
	}
	cities := strings.Split(city, ",")
	countries := strings.Split(os.Getenv("WEATHER_LOCATION_COUNTRY"), ",")
	if len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities and countries must be the same")
	}
	var names []string
	if v := os.Getenv("WEATHER_LOCATION_NAME"); v != "" {
		names = strings.Split(v, ",")
		if len(names) != len(cities) {
			return nil, fmt.Errorf("number of location names and cities must be the same")
		}
	}

	var locs []weather.Location
	for i := range cities {
		loc := weather.Location{
			City:    strings.TrimSpace(cities[i]),
			Country: strings.TrimSpace(countries[i]),
		}
		if names != nil {
			loc.Name = strings.TrimSpace(names[i])
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
