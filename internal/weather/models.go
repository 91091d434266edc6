package weather

import (
	"math"
	"time"
)

// Canonical variable names. Every source normalizes to these.
const (
	VarTemperature   = "temperature"
	VarPressure      = "pressure"
	VarHumidity      = "humidity"
	VarWindSpeed     = "wind_speed"
	VarWindDirection = "wind_direction"
	VarPrecipitation = "precipitation"
	VarCloudCover    = "cloud_cover"
	VarWeatherSymbol = "weather_symbol"
	VarVisibility    = "visibility"
	VarDewPoint      = "dew_point"
	VarUVIndex       = "uv_index"
	VarCloudHigh     = "cloud_high"
	VarCloudMedium   = "cloud_medium"
	VarCloudLow      = "cloud_low"
	VarFog           = "fog"

	// Derived only; never read from a provider.
	VarWindChill = "wind_chill"
	VarHeatIndex = "heat_index"
)

// Variables lists the canonical variables in presentation order.
var Variables = []string{
	VarTemperature,
	VarPressure,
	VarHumidity,
	VarWindSpeed,
	VarWindDirection,
	VarPrecipitation,
	VarCloudCover,
	VarWeatherSymbol,
	VarVisibility,
	VarDewPoint,
	VarUVIndex,
	VarCloudHigh,
	VarCloudMedium,
	VarCloudLow,
	VarFog,
	VarWindChill,
	VarHeatIndex,
}

// IsVariable reports whether name is a canonical variable.
func IsVariable(name string) bool {
	for _, v := range Variables {
		if v == name {
			return true
		}
	}
	return false
}

// Quality describes how a table's values came to be.
type Quality string

const (
	QualityRealTime   Quality = "real_time"
	QualityForecast   Quality = "forecast"
	QualityHistorical Quality = "historical"
	QualitySynthetic  Quality = "synthetic"
)

// SourceKind is the transport class of a data source.
type SourceKind string

const (
	KindHTTPAPI    SourceKind = "http_api"
	KindFileServer SourceKind = "file_server"
	KindLocalFile  SourceKind = "local_file"
	KindDatabase   SourceKind = "database"
)

// Descriptor is static metadata about a client. It is built once when the
// client is constructed and never modified afterwards.
type Descriptor struct {
	Name              string     `json:"name"`
	Kind              SourceKind `json:"kind"`
	BaseURL           string     `json:"baseUrl,omitempty"`
	RequiresAuth      bool       `json:"requiresAuth"`
	RateLimited       bool       `json:"rateLimited"`
	Variables         []string   `json:"variables,omitempty"`
	TimeResolution    string     `json:"timeResolution,omitempty"`
	SpatialResolution string     `json:"spatialResolution,omitempty"`
	UpdateFrequency   string     `json:"updateFrequency,omitempty"`
	MaxForecastHours  int        `json:"maxForecastHours,omitempty"`
	Description       string     `json:"description,omitempty"`
}

// Location represents a named place for which meteograms are refreshed.
// Either Lat/Lon or City/Country must be provided.
type Location struct {
	Name    string   `json:"name"`
	City    string   `json:"city,omitempty"`
	Country string   `json:"country,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	if l.Name != "" {
		return l.Name
	}
	return l.City + ":" + l.Country
}

// HasCoordinates reports whether the location can be fetched without geocoding.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// RawTable is a provider-shaped time series: column names are whatever the
// upstream calls them. Numeric columns use NaN for missing values, text
// columns use the empty string.
type RawTable struct {
	Times   []time.Time
	Numeric map[string][]float64
	Text    map[string][]string
	Model   string
}

// NewRawTable allocates an empty raw table.
func NewRawTable() RawTable {
	return RawTable{
		Numeric: make(map[string][]float64),
		Text:    make(map[string][]string),
	}
}

// Len returns the number of rows.
func (r RawTable) Len() int {
	return len(r.Times)
}

// Table is the canonical, provider independent time series. Times are UTC,
// strictly increasing and unique. A column missing from Columns was not
// populated by the source; NaN marks a single missing value.
type Table struct {
	Times   []time.Time          `json:"-"`
	Columns map[string][]float64 `json:"-"`
	Symbols []string             `json:"-"`

	Quality Quality `json:"dataQuality"`
	Source  string  `json:"source"`
	Model   string  `json:"model,omitempty"`
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Times)
}

// Has reports whether the table carries the named column.
func (t Table) Has(name string) bool {
	if name == VarWeatherSymbol {
		return t.Symbols != nil
	}
	_, ok := t.Columns[name]
	return ok
}

// Column returns the named numeric column.
func (t Table) Column(name string) ([]float64, bool) {
	c, ok := t.Columns[name]
	return c, ok
}

// Point is one canonical row, shaped for JSON consumers.
type Point struct {
	Timestamp     time.Time `json:"timestamp"`
	Temperature   *float64  `json:"temperature,omitempty"`
	Pressure      *float64  `json:"pressure,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	WindSpeed     *float64  `json:"windSpeed,omitempty"`
	WindDirection *float64  `json:"windDirection,omitempty"`
	Precipitation *float64  `json:"precipitation,omitempty"`
	CloudCover    *float64  `json:"cloudCover,omitempty"`
	WeatherSymbol *string   `json:"weatherSymbol,omitempty"`
	Visibility    *float64  `json:"visibility,omitempty"`
	DewPoint      *float64  `json:"dewPoint,omitempty"`
	UVIndex       *float64  `json:"uvIndex,omitempty"`
	CloudHigh     *float64  `json:"cloudHigh,omitempty"`
	CloudMedium   *float64  `json:"cloudMedium,omitempty"`
	CloudLow      *float64  `json:"cloudLow,omitempty"`
	Fog           *float64  `json:"fog,omitempty"`
	WindChill     *float64  `json:"windChill,omitempty"`
	HeatIndex     *float64  `json:"heatIndex,omitempty"`

	DataQuality Quality `json:"dataQuality"`
	Source      string  `json:"source,omitempty"`
	Model       string  `json:"model,omitempty"`
}

// Points converts the table into per-row records.
func (t Table) Points() []Point {
	points := make([]Point, len(t.Times))
	for i, ts := range t.Times {
		p := Point{
			Timestamp:   ts,
			DataQuality: t.Quality,
			Source:      t.Source,
			Model:       t.Model,
		}
		p.Temperature = t.value(VarTemperature, i)
		p.Pressure = t.value(VarPressure, i)
		p.Humidity = t.value(VarHumidity, i)
		p.WindSpeed = t.value(VarWindSpeed, i)
		p.WindDirection = t.value(VarWindDirection, i)
		p.Precipitation = t.value(VarPrecipitation, i)
		p.CloudCover = t.value(VarCloudCover, i)
		p.Visibility = t.value(VarVisibility, i)
		p.DewPoint = t.value(VarDewPoint, i)
		p.UVIndex = t.value(VarUVIndex, i)
		p.CloudHigh = t.value(VarCloudHigh, i)
		p.CloudMedium = t.value(VarCloudMedium, i)
		p.CloudLow = t.value(VarCloudLow, i)
		p.Fog = t.value(VarFog, i)
		p.WindChill = t.value(VarWindChill, i)
		p.HeatIndex = t.value(VarHeatIndex, i)
		if i < len(t.Symbols) && t.Symbols[i] != "" {
			s := t.Symbols[i]
			p.WeatherSymbol = &s
		}
		points[i] = p
	}
	return points
}

func (t Table) value(name string, i int) *float64 {
	col, ok := t.Columns[name]
	if !ok || i >= len(col) || math.IsNaN(col[i]) {
		return nil
	}
	v := col[i]
	return &v
}
