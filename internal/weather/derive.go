package weather

import "math"

// Magnus-Tetens constants for dew point over water.
const (
	magnusA = 17.27
	magnusB = 237.7
)

// addDerived appends wind chill, heat index and (when the source did not
// supply one) dew point. Each is added only when its inputs are present.
func addDerived(cols map[string][]float64) {
	temp, hasTemp := cols[VarTemperature]
	wind, hasWind := cols[VarWindSpeed]
	rh, hasRH := cols[VarHumidity]

	if hasTemp && hasWind {
		if wc, ok := windChill(temp, wind); ok {
			cols[VarWindChill] = wc
		}
	}

	if hasTemp && hasRH {
		if hi, ok := heatIndex(temp, rh); ok {
			cols[VarHeatIndex] = hi
		}

		dp, hasDP := cols[VarDewPoint]
		if (!hasDP || !populated(dp)) && populated(temp) && populated(rh) {
			cols[VarDewPoint] = dewPoint(temp, rh)
		}
	}
}

// windChill applies the North American wind chill index where T <= 10 °C and
// wind >= 4.8 km/h; other rows are NaN. The bool is false when no row
// qualifies.
func windChill(tempC, windMS []float64) ([]float64, bool) {
	out := nanColumn(len(tempC))
	found := false
	for i := range tempC {
		if i >= len(windMS) {
			break
		}
		t := tempC[i]
		v := windMS[i] * 3.6
		if !(t <= 10 && v >= 4.8) {
			continue
		}
		p := math.Pow(v, 0.16)
		out[i] = 13.12 + 0.6215*t - 11.37*p + 0.3965*t*p
		found = true
	}
	return out, found
}

// heatIndex applies the Rothfusz regression where T >= 80 °F and RH >= 40 %,
// returning °C; other rows are NaN.
func heatIndex(tempC, rh []float64) ([]float64, bool) {
	out := nanColumn(len(tempC))
	found := false
	for i := range tempC {
		if i >= len(rh) {
			break
		}
		t := tempC[i]*9/5 + 32
		r := rh[i]
		if !(t >= 80 && r >= 40) {
			continue
		}
		hi := -42.379 +
			2.04901523*t +
			10.14333127*r -
			0.22475541*t*r -
			6.83783e-3*t*t -
			5.481717e-2*r*r +
			1.22874e-3*t*t*r +
			8.5282e-4*t*r*r -
			1.99e-6*t*t*r*r
		out[i] = (hi - 32) * 5 / 9
		found = true
	}
	return out, found
}

// dewPoint uses the Magnus-Tetens approximation. Rows with missing inputs or
// non-positive humidity are NaN.
func dewPoint(tempC, rh []float64) []float64 {
	out := nanColumn(len(tempC))
	for i := range tempC {
		if i >= len(rh) {
			break
		}
		t, r := tempC[i], rh[i]
		if math.IsNaN(t) || math.IsNaN(r) || r <= 0 {
			continue
		}
		alpha := magnusA*t/(magnusB+t) + math.Log(r/100)
		dp := magnusB * alpha / (magnusA - alpha)
		if !math.IsInf(dp, 0) && !math.IsNaN(dp) {
			out[i] = dp
		}
	}
	return out
}

func nanColumn(n int) []float64 {
	col := make([]float64, n)
	for i := range col {
		col[i] = math.NaN()
	}
	return col
}
