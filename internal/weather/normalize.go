package weather

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// Unit heuristics. A column whose minimum exceeds KelvinThreshold is taken as
// Kelvin; a pressure column whose minimum exceeds PascalThreshold is taken as
// Pa. Both are guesses from the value range alone: a Celsius column whose
// minimum is above the cutoff would be shifted by 273.15.
var (
	KelvinThreshold = 200.0
	PascalThreshold = 50000.0
)

// aliases maps each canonical variable to the provider column names accepted
// for it, in order of preference.
var aliases = []struct {
	name    string
	sources []string
}{
	{VarTemperature, []string{"air_temperature_2m", "temperature_2m", "temp", "t2m", "temperature"}},
	{VarPressure, []string{"air_pressure_at_sea_level", "surface_air_pressure", "msl", "slp", "pressure"}},
	{VarHumidity, []string{"relative_humidity_2m", "relative_humidity", "rh2m", "humidity"}},
	{VarWindSpeed, []string{"wind_speed_10m", "wind_speed", "ws10m"}},
	{VarWindDirection, []string{"wind_from_direction_10m", "wind_direction", "wd10m"}},
	{VarPrecipitation, []string{"precipitation_amount", "precip", "tp", "precipitation"}},
	{VarCloudCover, []string{"cloud_area_fraction", "cloudiness", "cc", "cloud_cover"}},
	{VarWeatherSymbol, []string{"symbol_code", "weather_symbol", "weather_code"}},
	{VarVisibility, []string{"visibility", "vis"}},
	{VarDewPoint, []string{"dew_point_temperature_2m", "dew_point", "td2m"}},
	{VarUVIndex, []string{"ultraviolet_index", "ultraviolet_index_clear_sky", "uv_index", "uvi"}},
	{VarCloudHigh, []string{"high_type_cloud_area_fraction", "cloud_high"}},
	{VarCloudMedium, []string{"medium_type_cloud_area_fraction", "cloud_medium"}},
	{VarCloudLow, []string{"low_type_cloud_area_fraction", "cloud_low"}},
	{VarFog, []string{"fog_area_fraction", "fog"}},
}

var fractionVars = []string{VarCloudCover, VarCloudHigh, VarCloudMedium, VarCloudLow, VarFog}

// Standardize converts a provider table into the canonical schema: columns
// are renamed through the alias table, units converted, and derived
// variables added where their inputs exist. Rows are sorted by time and
// duplicate timestamps dropped (first occurrence wins). The descriptor is
// informational; mapping is static. Standardize never fails: canonical
// variables with no matching column are simply absent.
func Standardize(raw RawTable, d Descriptor) Table {
	rows := orderRows(raw.Times)

	out := Table{
		Times:   make([]time.Time, len(rows)),
		Columns: make(map[string][]float64),
		Model:   raw.Model,
		Source:  d.Name,
	}
	for i, r := range rows {
		out.Times[i] = raw.Times[r].UTC()
	}

	for _, a := range aliases {
		if a.name == VarWeatherSymbol {
			out.Symbols = pickSymbols(raw, a.sources, rows)
			continue
		}
		for _, src := range a.sources {
			col, ok := raw.Numeric[src]
			if !ok {
				continue
			}
			out.Columns[a.name] = reorder(col, rows)
			break
		}
	}

	convertUnits(out.Columns)
	addDerived(out.Columns)
	return out
}

// orderRows returns the row indices sorted by time with duplicates removed.
func orderRows(times []time.Time) []int {
	idx := make([]int, len(times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return times[idx[a]].Before(times[idx[b]])
	})

	rows := idx[:0]
	for _, i := range idx {
		if len(rows) > 0 && times[rows[len(rows)-1]].Equal(times[i]) {
			continue
		}
		rows = append(rows, i)
	}
	return rows
}

func reorder(col []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		if r < len(col) {
			out[i] = col[r]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// pickSymbols reads pictogram codes from a text column, or from a numeric
// code column formatted as text.
func pickSymbols(raw RawTable, sources []string, rows []int) []string {
	for _, src := range sources {
		if col, ok := raw.Text[src]; ok {
			out := make([]string, len(rows))
			for i, r := range rows {
				if r < len(col) {
					out[i] = col[r]
				}
			}
			return out
		}
		if col, ok := raw.Numeric[src]; ok {
			out := make([]string, len(rows))
			for i, r := range rows {
				if r < len(col) && !math.IsNaN(col[r]) {
					out[i] = strconv.FormatFloat(col[r], 'f', -1, 64)
				}
			}
			return out
		}
	}
	return nil
}

func convertUnits(cols map[string][]float64) {
	if t, ok := cols[VarTemperature]; ok {
		if lo, ok := minOf(t); ok && lo > KelvinThreshold {
			apply(t, func(v float64) float64 { return v - 273.15 })
		}
	}

	if p, ok := cols[VarPressure]; ok {
		if lo, ok := minOf(p); ok && lo > PascalThreshold {
			apply(p, func(v float64) float64 { return v / 100 })
		}
	}

	if pr, ok := cols[VarPrecipitation]; ok {
		apply(pr, func(v float64) float64 { return math.Max(v, 0) })
	}

	for _, name := range fractionVars {
		c, ok := cols[name]
		if !ok {
			continue
		}
		if hi, ok := maxOf(c); ok && hi > 1 {
			apply(c, func(v float64) float64 { return v / 100 })
		}
		ClipFraction(c)
	}
}

// ClipFraction clamps every non-missing value into [0, 1] in place.
func ClipFraction(col []float64) {
	apply(col, func(v float64) float64 { return math.Min(math.Max(v, 0), 1) })
}

// apply maps f over non-NaN values in place.
func apply(col []float64, f func(float64) float64) {
	for i, v := range col {
		if !math.IsNaN(v) {
			col[i] = f(v)
		}
	}
}

func minOf(col []float64) (float64, bool) {
	lo, found := math.Inf(1), false
	for _, v := range col {
		if !math.IsNaN(v) && v < lo {
			lo, found = v, true
		}
	}
	return lo, found
}

func maxOf(col []float64) (float64, bool) {
	hi, found := math.Inf(-1), false
	for _, v := range col {
		if !math.IsNaN(v) && v > hi {
			hi, found = v, true
		}
	}
	return hi, found
}

// populated reports whether col has at least one non-missing value.
func populated(col []float64) bool {
	for _, v := range col {
		if !math.IsNaN(v) {
			return true
		}
	}
	return false
}

// Select restricts t to the requested canonical variables. An empty list
// returns t unchanged.
func Select(t Table, variables []string) Table {
	if len(variables) == 0 {
		return t
	}
	keep := make(map[string]bool, len(variables))
	for _, v := range variables {
		keep[v] = true
	}
	cols := make(map[string][]float64, len(variables))
	for name, col := range t.Columns {
		if keep[name] {
			cols[name] = col
		}
	}
	t.Columns = cols
	if !keep[VarWeatherSymbol] {
		t.Symbols = nil
	}
	return t
}
