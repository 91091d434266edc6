package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/meteogram-sources/internal/weather"
)

const (
	// DefaultMetNoBaseURL is the LocationForecast 2.0 API root.
	DefaultMetNoBaseURL = "https://api.met.no/weatherapi/locationforecast/2.0"
	// DefaultMetNoUserAgent identifies this service; Met.no rejects anonymous clients.
	DefaultMetNoUserAgent = "meteogram-sources/1.0"

	metNoName = "metno-locationforecast"

	// Oslo, used by the connection test.
	probeLat = 59.9139
	probeLon = 10.7522
)

// MetNoClient fetches forecasts from the Met.no LocationForecast API.
type MetNoClient struct {
	name      string
	baseURL   string
	userAgent string
	httpCfg   HTTPClientConfig
	circuit   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewMetNoClient creates a LocationForecast client. Empty baseURL or userAgent
// fall back to the defaults.
func NewMetNoClient(client *http.Client, baseURL, userAgent string, logger *slog.Logger) *MetNoClient {
	if baseURL == "" {
		baseURL = DefaultMetNoBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultMetNoUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MetNoClient{
		name:      metNoName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpCfg: HTTPClientConfig{
			Client: client,
			// A single request per fetch; the fallback client covers failures.
			Backoff: BackoffConfig{
				MaxRetries:      0,
				InitialInterval: 500 * time.Millisecond,
			},
		},
		circuit: newCircuitBreaker(metNoName),
		logger:  logger,
	}
}

func (c *MetNoClient) Name() string {
	return c.name
}

// metNoResponse is the subset of the LocationForecast GeoJSON we read.
type metNoResponse struct {
	Properties struct {
		Timeseries []metNoStep `json:"timeseries"`
	} `json:"properties"`
}

type metNoStep struct {
	Time string `json:"time"`
	Data struct {
		Instant struct {
			Details map[string]*float64 `json:"details"`
		} `json:"instant"`
		Next1Hours *metNoPeriod `json:"next_1_hours"`
		Next6Hours *metNoPeriod `json:"next_6_hours"`
	} `json:"data"`
}

type metNoPeriod struct {
	Summary struct {
		SymbolCode string `json:"symbol_code"`
	} `json:"summary"`
	Details struct {
		PrecipitationAmount *float64 `json:"precipitation_amount"`
	} `json:"details"`
}

// instant details renamed to the provider-neutral column names the
// normalizer recognizes.
var metNoInstant = map[string]string{
	"air_temperature":             "air_temperature_2m",
	"air_pressure_at_sea_level":   "air_pressure_at_sea_level",
	"relative_humidity":           "relative_humidity_2m",
	"wind_speed":                  "wind_speed_10m",
	"wind_from_direction":         "wind_from_direction_10m",
	"cloud_area_fraction":         "cloud_area_fraction",
	"cloud_area_fraction_high":    "high_type_cloud_area_fraction",
	"cloud_area_fraction_medium":  "medium_type_cloud_area_fraction",
	"cloud_area_fraction_low":     "low_type_cloud_area_fraction",
	"dew_point_temperature":       "dew_point_temperature_2m",
	"fog_area_fraction":           "fog_area_fraction",
	"ultraviolet_index_clear_sky": "ultraviolet_index_clear_sky",
}

// Fetch downloads the complete forecast for the point and keeps the entries
// inside the query window.
func (c *MetNoClient) Fetch(ctx context.Context, q weather.Query) (weather.Table, error) {
	q = q.Normalized()
	if err := q.Validate(c.name); err != nil {
		return weather.Table{}, err
	}

	values := url.Values{}
	values.Set("lat", fmt.Sprintf("%.4f", q.Lat))
	values.Set("lon", fmt.Sprintf("%.4f", q.Lon))
	u := fmt.Sprintf("%s/complete?%s", c.baseURL, values.Encode())

	c.logger.Info("fetching forecast", "source", c.name, "lat", q.Lat, "lon", q.Lon)

	body, err := getBody(ctx, c.httpCfg, c.circuit, u, c.headers())
	if err != nil {
		return weather.Table{}, weather.NewSourceError(c.name, weather.ErrTransport, err)
	}

	var payload metNoResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return weather.Table{}, weather.NewSourceError(c.name, weather.ErrParse, err)
	}

	raw, err := c.parse(payload, q)
	if err != nil {
		return weather.Table{}, err
	}

	table := weather.Standardize(raw, c.Describe())
	table.Source = c.name
	table.Quality = weather.QualityForecast

	c.logger.Info("fetched forecast", "source", c.name, "rows", table.Len())
	return weather.Select(table, q.Variables), nil
}

// empty reports whether a period block carries neither a symbol nor an amount.
func (p *metNoPeriod) empty() bool {
	return p == nil || (p.Summary.SymbolCode == "" && p.Details.PrecipitationAmount == nil)
}

func (c *MetNoClient) parse(payload metNoResponse, q weather.Query) (weather.RawTable, error) {
	steps := payload.Properties.Timeseries
	if len(steps) == 0 {
		return weather.RawTable{}, weather.SourceErrorf(c.name, weather.ErrNoData, "response has no timeseries")
	}

	raw := weather.NewRawTable()
	for _, step := range steps {
		if step.Time == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, step.Time)
		if err != nil {
			return weather.RawTable{}, weather.NewSourceError(c.name, weather.ErrParse,
				fmt.Errorf("timeseries time %q: %w", step.Time, err))
		}
		ts = ts.UTC()
		if !q.Contains(ts) {
			continue
		}

		row := raw.Len()
		raw.Times = append(raw.Times, ts)

		details := step.Data.Instant.Details
		for src, dst := range metNoInstant {
			appendValue(raw.Numeric, dst, row, details[src])
		}

		precip := 0.0
		symbol := ""
		period := step.Data.Next1Hours
		if period.empty() {
			period = step.Data.Next6Hours
		}
		if period != nil {
			if period.Details.PrecipitationAmount != nil {
				precip = *period.Details.PrecipitationAmount
			}
			symbol = period.Summary.SymbolCode
		}
		appendValue(raw.Numeric, "precipitation_amount", row, &precip)
		raw.Text["symbol_code"] = append(padText(raw.Text["symbol_code"], row), symbol)
	}

	if raw.Len() == 0 {
		return weather.RawTable{}, weather.SourceErrorf(c.name, weather.ErrNoData,
			"no entries between %s and %s", q.Start.Format(time.RFC3339), q.End.Format(time.RFC3339))
	}

	// Columns first seen late in the series need trailing padding too.
	for name, col := range raw.Numeric {
		raw.Numeric[name] = padNumeric(col, raw.Len())
	}
	return raw, nil
}

// appendValue stores v at row in the named column, creating and NaN-padding
// the column as needed. A nil v leaves the column untouched.
func appendValue(cols map[string][]float64, name string, row int, v *float64) {
	if v == nil {
		return
	}
	col := padNumeric(cols[name], row)
	cols[name] = append(col, *v)
}

func padNumeric(col []float64, n int) []float64 {
	for len(col) < n {
		col = append(col, math.NaN())
	}
	return col
}

func padText(col []string, n int) []string {
	for len(col) < n {
		col = append(col, "")
	}
	return col
}

func (c *MetNoClient) headers() http.Header {
	h := http.Header{}
	h.Set("User-Agent", c.userAgent)
	h.Set("Accept", "application/json")
	return h
}

// TestConnection requests the compact forecast for Oslo.
func (c *MetNoClient) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	u := fmt.Sprintf("%s/compact?lat=%.4f&lon=%.4f", c.baseURL, probeLat, probeLon)
	_, err := getBody(ctx, c.httpCfg, c.circuit, u, c.headers())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Debug("connection test failed", "source", c.name, "error", err)
		}
		return false
	}
	return true
}

func (c *MetNoClient) Describe() weather.Descriptor {
	return weather.Descriptor{
		Name:         c.name,
		Kind:         weather.KindHTTPAPI,
		BaseURL:      c.baseURL,
		RequiresAuth: false,
		RateLimited:  true,
		Variables: []string{
			"air_temperature_2m", "air_pressure_at_sea_level", "relative_humidity_2m",
			"wind_speed_10m", "wind_from_direction_10m", "precipitation_amount",
			"cloud_area_fraction", "symbol_code", "dew_point_temperature_2m", "fog_area_fraction",
			"high_type_cloud_area_fraction", "medium_type_cloud_area_fraction",
			"low_type_cloud_area_fraction", "ultraviolet_index_clear_sky",
		},
		TimeResolution:    "1H",
		SpatialResolution: "1km",
		UpdateFrequency:   "6H",
		MaxForecastHours:  168,
		Description:       "Met.no LocationForecast API forecasts for any point worldwide",
	}
}
