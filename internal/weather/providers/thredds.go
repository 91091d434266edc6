package providers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/i474232898/meteogram-sources/internal/weather"
)

const (
	DefaultThreddsBaseURL  = "https://thredds.met.no/thredds/dodsC"
	DefaultThreddsDataPath = "meps25epsarchive"
	DefaultThreddsTemplate = "{date}/meps_det_sfc_{ymd}T{hh}Z.ncml"
	DefaultThreddsRunHour  = 3

	threddsName = "metno-thredds"

	threddsConnTimeout = 30 * time.Second

	// Accumulated precipitation in the MEPS archive.
	accumulatedPrecip = "precipitation_amount_acc"
)

// RunPolicy selects which model run serves a query.
type RunPolicy string

const (
	// RunFixed always uses the configured run hour on the start date.
	RunFixed RunPolicy = "fixed"
	// RunLatestPrior uses the latest run at or before the start on a six
	// hour cycle anchored at the configured run hour.
	RunLatestPrior RunPolicy = "latest"
)

// ParseRunPolicy maps a configuration value to a RunPolicy.
func ParseRunPolicy(s string) (RunPolicy, error) {
	switch RunPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RunFixed:
		return RunFixed, nil
	case RunLatestPrior, "latest_prior":
		return RunLatestPrior, nil
	}
	return "", fmt.Errorf("unknown run policy %q", s)
}

// ThreddsConfig configures a ThreddsClient. Empty strings and nil fields
// take the defaults, so a nil RunHour selects DefaultThreddsRunHour.
type ThreddsConfig struct {
	BaseURL      string
	DataPath     string
	FileTemplate string
	RunHour      *int
	RunPolicy    RunPolicy
	Retries      int

	HTTPClient *http.Client
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Projection *LCCParams
}

// ThreddsClient reads MEPS model output for a single grid cell over OPeNDAP.
type ThreddsClient struct {
	name     string
	baseURL  string
	dataPath string
	template string
	runHour  int
	policy   RunPolicy

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
	clock   clockwork.Clock

	connTimeout time.Duration

	proj    *LambertConformal
	projErr error
}

// NewThreddsClient builds the archive client. A projection that cannot be
// set up is logged and the client falls back to raw longitude/latitude.
func NewThreddsClient(cfg ThreddsConfig) *ThreddsClient {
	c := &ThreddsClient{
		name:     threddsName,
		baseURL:  strings.TrimRight(orDefault(cfg.BaseURL, DefaultThreddsBaseURL), "/"),
		dataPath: strings.Trim(orDefault(cfg.DataPath, DefaultThreddsDataPath), "/"),
		template: orDefault(cfg.FileTemplate, DefaultThreddsTemplate),
		runHour:  DefaultThreddsRunHour,
		policy:   cfg.RunPolicy,
		logger:   cfg.Logger,
		clock:    cfg.Clock,

		connTimeout: threddsConnTimeout,
	}
	if h := cfg.RunHour; h != nil && *h >= 0 && *h <= 23 {
		c.runHour = *h
	}
	if c.policy == "" {
		c.policy = RunFixed
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	c.httpCfg = HTTPClientConfig{
		Client: client,
		Backoff: BackoffConfig{
			MaxRetries:      retries,
			InitialInterval: 1 * time.Second,
			MaxInterval:     10 * time.Second,
		},
	}
	c.circuit = newCircuitBreaker(threddsName)

	params := MEPSProjection
	if cfg.Projection != nil {
		params = *cfg.Projection
	}
	c.proj, c.projErr = NewLambertConformal(params)
	if c.projErr != nil {
		c.logger.Warn("projection setup failed, using raw lon/lat", "source", c.name, "error", c.projErr)
	}
	return c
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (c *ThreddsClient) Name() string {
	return c.name
}

// runTime returns the model run serving a window that starts at start.
func (c *ThreddsClient) runTime(start time.Time) time.Time {
	start = start.UTC()
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	if c.policy != RunLatestPrior {
		return day.Add(time.Duration(c.runHour) * time.Hour)
	}

	const cycle = 6 * time.Hour
	run := day.Add(time.Duration(c.runHour%6) * time.Hour)
	if run.After(start) {
		return run.Add(-cycle)
	}
	for !run.Add(cycle).After(start) {
		run = run.Add(cycle)
	}
	return run
}

// ResourceURL returns the dataset URL for the run serving start.
func (c *ThreddsClient) ResourceURL(start time.Time) string {
	run := c.runTime(start)
	file := strings.NewReplacer(
		"{date}", run.Format("2006/01/02"),
		"{ymd}", run.Format("20060102"),
		"{hh}", fmt.Sprintf("%02d", run.Hour()),
	).Replace(c.template)
	return c.baseURL + "/" + c.dataPath + "/" + strings.TrimLeft(file, "/")
}

func modelName(resource string) string {
	base := path.Base(resource)
	return strings.TrimSuffix(base, path.Ext(base))
}

// open fetches the dataset structure and, when available, its attributes.
func (c *ThreddsClient) open(ctx context.Context, resource string) (dapDataset, error) {
	body, err := getBody(ctx, c.httpCfg, c.circuit, resource+".dds", nil)
	if err != nil {
		return dapDataset{}, weather.NewSourceError(c.name, weather.ErrTransport,
			fmt.Errorf("open %s: %w", resource, err))
	}
	ds, err := parseDDS(body)
	if err != nil {
		return dapDataset{}, weather.NewSourceError(c.name, weather.ErrParse, err)
	}

	das, err := getBody(ctx, c.httpCfg, c.circuit, resource+".das", nil)
	if err != nil {
		c.logger.Debug("dataset attributes unavailable", "source", c.name, "resource", resource, "error", err)
	} else {
		ds.Units = parseDAS(das)
	}
	return ds, nil
}

// Servers reject raw brackets in the query string.
var constraintEscaper = strings.NewReplacer("[", "%5B", "]", "%5D")

func (c *ThreddsClient) readASCII(ctx context.Context, resource string, constraints []string) (map[string][]float64, error) {
	u := resource + ".ascii?" + constraintEscaper.Replace(strings.Join(constraints, ","))
	body, err := getBody(ctx, c.httpCfg, c.circuit, u, nil)
	if err != nil {
		return nil, weather.NewSourceError(c.name, weather.ErrTransport, err)
	}
	values, err := parseASCII(body)
	if err != nil {
		return nil, weather.NewSourceError(c.name, weather.ErrParse, err)
	}
	return values, nil
}

// project converts the query point to grid coordinates, degrading to raw
// lon/lat when the projection is unusable.
func (c *ThreddsClient) project(lat, lon float64) (x, y float64) {
	if c.proj == nil {
		return lon, lat
	}
	x, y, err := c.proj.Forward(lon, lat)
	if err != nil {
		c.logger.Warn("coordinate projection failed, using raw lon/lat", "source", c.name, "error", err)
		return lon, lat
	}
	return x, y
}

// Fetch opens the run serving q.Start and reads every recognized surface
// variable at the grid cell nearest to the point.
func (c *ThreddsClient) Fetch(ctx context.Context, q weather.Query) (weather.Table, error) {
	q = q.Normalized()
	if err := q.Validate(c.name); err != nil {
		return weather.Table{}, err
	}

	resource := c.ResourceURL(q.Start)
	c.logger.Info("opening dataset", "source", c.name, "resource", resource)

	ds, err := c.open(ctx, resource)
	if err != nil {
		return weather.Table{}, err
	}

	timeVar, ok := findAxis(ds, "time")
	if !ok {
		return weather.Table{}, weather.SourceErrorf(c.name, weather.ErrParse, "dataset has no time axis")
	}
	if _, ok := ds.Vars["x"]; !ok {
		return weather.Table{}, weather.SourceErrorf(c.name, weather.ErrGridResolution, "dataset has no x axis")
	}
	if _, ok := ds.Vars["y"]; !ok {
		return weather.Table{}, weather.SourceErrorf(c.name, weather.ErrGridResolution, "dataset has no y axis")
	}

	axes, err := c.readASCII(ctx, resource, []string{"x", "y", timeVar})
	if err != nil {
		return weather.Table{}, err
	}
	xs, _ := lookup(axes, "x")
	ys, _ := lookup(axes, "y")
	rawTimes, _ := lookup(axes, timeVar)

	px, py := c.project(q.Lat, q.Lon)
	i, err := nearestIndex(xs, px)
	if err != nil {
		return weather.Table{}, weather.SourceErrorf(c.name, weather.ErrGridResolution, "x: %v", err)
	}
	j, err := nearestIndex(ys, py)
	if err != nil {
		return weather.Table{}, weather.SourceErrorf(c.name, weather.ErrGridResolution, "y: %v", err)
	}

	times, err := decodeTimes(rawTimes, ds.Units[timeVar])
	if err != nil {
		return weather.Table{}, weather.NewSourceError(c.name, weather.ErrParse, err)
	}
	t0, t1, ok := timeSlice(times, q)
	if !ok {
		return weather.Table{}, weather.SourceErrorf(c.name, weather.ErrNoData,
			"%s has no steps between %s and %s", modelName(resource),
			q.Start.Format(time.RFC3339), q.End.Format(time.RFC3339))
	}
	// One earlier step lets accumulated fields be differenced from the first row.
	lo := t0
	if lo > 0 {
		lo--
	}

	vars := pointVars(ds, timeVar)
	if len(vars) == 0 {
		return weather.Table{}, weather.SourceErrorf(c.name, weather.ErrNoData, "dataset has no recognized variables")
	}
	constraints := make([]string, 0, len(vars))
	for _, v := range vars {
		constraints = append(constraints, cellConstraint(v, lo, t1, j, i))
	}
	data, err := c.readASCII(ctx, resource, constraints)
	if err != nil {
		return weather.Table{}, err
	}

	raw := weather.NewRawTable()
	raw.Model = modelName(resource)
	for k := t0; k <= t1; k++ {
		raw.Times = append(raw.Times, times[k])
	}
	steps := t1 - lo + 1
	for _, v := range vars {
		values, ok := lookup(data, v.Name)
		if !ok {
			continue
		}
		for name, col := range flattenLevels(v, values, steps) {
			raw.Numeric[name] = col[t0-lo:]
			if _, native := ds.Vars["precipitation_amount"]; name == accumulatedPrecip && !native {
				raw.Numeric["precipitation_amount"] = deaccumulate(col, t0-lo)
			}
		}
	}
	keepWindow(&raw, q)

	table := weather.Standardize(raw, c.Describe())
	table.Source = c.name
	table.Quality = weather.QualityHistorical

	c.logger.Info("fetched archive data", "source", c.name, "model", raw.Model,
		"cell_x", i, "cell_y", j, "rows", table.Len())
	return weather.Select(table, q.Variables), nil
}

// findAxis returns the name of the dataset's time coordinate.
func findAxis(ds dapDataset, prefix string) (string, bool) {
	if _, ok := ds.Vars[prefix]; ok {
		return prefix, true
	}
	for _, name := range ds.Order {
		v := ds.Vars[name]
		if strings.HasPrefix(name, prefix) && len(v.Dims) == 1 && v.Dims[0].Name == name {
			return name, true
		}
	}
	return "", false
}

// pointVars lists the variables shaped [time][levels...][y][x] whose names
// the normalizer recognizes.
func pointVars(ds dapDataset, timeVar string) []dapVar {
	var out []dapVar
	for _, name := range ds.Order {
		v := ds.Vars[name]
		if len(v.Dims) < 3 || len(v.Dims) > 4 {
			continue
		}
		n := len(v.Dims)
		if v.Dims[0].Name != timeVar || v.Dims[n-2].Name != "y" || v.Dims[n-1].Name != "x" {
			continue
		}
		if _, ok := weather.CanonicalName(name); !ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

func cellConstraint(v dapVar, t0, t1, j, i int) string {
	var b strings.Builder
	b.WriteString(v.Name)
	fmt.Fprintf(&b, "[%d:1:%d]", t0, t1)
	if len(v.Dims) == 4 {
		fmt.Fprintf(&b, "[0:1:%d]", v.Dims[1].Size-1)
	}
	fmt.Fprintf(&b, "[%d][%d]", j, i)
	return b.String()
}

// flattenLevels splits a [time][level] series into one column per level:
// "name" for a single level, "name_0".."name_{n-1}" otherwise.
func flattenLevels(v dapVar, values []float64, steps int) map[string][]float64 {
	levels := 1
	if len(v.Dims) == 4 {
		levels = v.Dims[1].Size
	}
	if levels < 1 || len(values) != steps*levels {
		return nil
	}
	if levels == 1 {
		return map[string][]float64{v.Name: values}
	}

	out := make(map[string][]float64, levels)
	for l := 0; l < levels; l++ {
		col := make([]float64, steps)
		for t := 0; t < steps; t++ {
			col[t] = values[t*levels+l]
		}
		out[fmt.Sprintf("%s_%d", v.Name, l)] = col
	}
	return out
}

// deaccumulate turns a run-accumulated series into per-step amounts,
// returning the rows from offset on. Index 0 is the run start, so its
// accumulation is taken as is.
func deaccumulate(acc []float64, offset int) []float64 {
	out := make([]float64, 0, len(acc)-offset)
	for k := offset; k < len(acc); k++ {
		if k == 0 {
			out = append(out, acc[k])
			continue
		}
		out = append(out, acc[k]-acc[k-1])
	}
	return out
}

// nearestIndex returns the axis index closest to v. A value more than one
// grid spacing beyond either end of the axis is an error.
func nearestIndex(axis []float64, v float64) (int, error) {
	if len(axis) == 0 {
		return 0, fmt.Errorf("empty axis")
	}
	if !finite(v) {
		return 0, fmt.Errorf("coordinate %g is not finite", v)
	}

	lo, hi := axis[0], axis[len(axis)-1]
	if lo > hi {
		lo, hi = hi, lo
	}
	spacing := 0.0
	if len(axis) > 1 {
		spacing = math.Abs(axis[1] - axis[0])
	}
	if len(axis) > 1 && (v < lo-spacing || v > hi+spacing) {
		return 0, fmt.Errorf("coordinate %g outside grid [%g, %g]", v, lo, hi)
	}

	best, bestDist := 0, math.Inf(1)
	for k, a := range axis {
		if d := math.Abs(a - v); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best, nil
}

// timeSlice returns the first and last time indexes inside the window.
func timeSlice(times []time.Time, q weather.Query) (int, int, bool) {
	first, last := -1, -1
	for k, t := range times {
		if t.IsZero() || !q.Contains(t) {
			continue
		}
		if first < 0 {
			first = k
		}
		last = k
	}
	return first, last, first >= 0
}

// keepWindow drops rows outside q, for time axes that are not monotonic.
func keepWindow(raw *weather.RawTable, q weather.Query) {
	var keep []int
	for k, t := range raw.Times {
		if !t.IsZero() && q.Contains(t) {
			keep = append(keep, k)
		}
	}
	if len(keep) == len(raw.Times) {
		return
	}
	times := make([]time.Time, len(keep))
	for n, k := range keep {
		times[n] = raw.Times[k]
	}
	raw.Times = times
	for name, col := range raw.Numeric {
		kept := make([]float64, len(keep))
		for n, k := range keep {
			kept[n] = col[k]
		}
		raw.Numeric[name] = kept
	}
}

// TestConnection opens yesterday's dataset.
func (c *ThreddsClient) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.connTimeout)
	defer cancel()

	resource := c.ResourceURL(c.clock.Now().Add(-24 * time.Hour))
	if _, err := c.open(ctx, resource); err != nil {
		c.logger.Debug("connection test failed", "source", c.name, "resource", resource, "error", err)
		return false
	}
	return true
}

func (c *ThreddsClient) Describe() weather.Descriptor {
	return weather.Descriptor{
		Name:         c.name,
		Kind:         weather.KindFileServer,
		BaseURL:      c.baseURL,
		RequiresAuth: false,
		RateLimited:  false,
		Variables: []string{
			"air_temperature_2m", "air_pressure_at_sea_level", "relative_humidity_2m",
			"wind_speed", "wind_direction", accumulatedPrecip,
			"high_type_cloud_area_fraction", "medium_type_cloud_area_fraction",
			"low_type_cloud_area_fraction", "fog_area_fraction",
		},
		TimeResolution:    "1H",
		SpatialResolution: "2.5km",
		UpdateFrequency:   "6H",
		MaxForecastHours:  66,
		Description:       "MEPS model archive on the Met.no THREDDS server",
	}
}
