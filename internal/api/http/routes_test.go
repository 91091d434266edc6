package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/meteogram-sources/internal/store"
	"github.com/i474232898/meteogram-sources/internal/weather"
)

var t0 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

type fakeClient struct {
	name      string
	reachable bool
	err       error
	table     weather.Table
	last      weather.Query
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Fetch(_ context.Context, q weather.Query) (weather.Table, error) {
	f.last = q
	if f.err != nil {
		return weather.Table{}, f.err
	}
	return f.table, nil
}

func (f *fakeClient) TestConnection(context.Context) bool { return f.reachable }

func (f *fakeClient) Describe() weather.Descriptor {
	return weather.Descriptor{Name: f.name, Kind: weather.KindHTTPAPI}
}

func sampleTable(source string) weather.Table {
	return weather.Table{
		Times:   []time.Time{t0, t0.Add(time.Hour)},
		Columns: map[string][]float64{weather.VarTemperature: {1.5, 2.5}},
		Symbols: []string{"cloudy", ""},
		Source:  source,
		Quality: weather.QualityForecast,
	}
}

func newTestApp(t *testing.T, clients ...*fakeClient) (*fiber.App, *store.MemoryStore) {
	t.Helper()
	reg := weather.NewRegistry()
	for i, c := range clients {
		reg.Register(c.name, c, len(clients)-i)
	}
	memStore := store.NewMemoryStore(10, 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := weather.NewService(reg, memStore, nil, logger, clockwork.NewFakeClockAt(t0))

	app := fiber.New()
	RegisterRoutes(app, svc)
	return app, memStore
}

func get(t *testing.T, app *fiber.App, target string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = json.Unmarshal(raw, &body)
	return resp.StatusCode, body
}

const window = "&from=2024-01-15T00:00:00Z&to=2024-01-16T00:00:00Z"

func TestMeteogramValidation(t *testing.T) {
	app, _ := newTestApp(t, &fakeClient{name: "metno", reachable: true, table: sampleTable("metno")})

	cases := map[string]string{
		"missing lat":      "/api/v1/meteogram?lon=10" + window,
		"lat not a number": "/api/v1/meteogram?lat=north&lon=10" + window,
		"lat out of range": "/api/v1/meteogram?lat=95&lon=10" + window,
		"missing window":   "/api/v1/meteogram?lat=59.9&lon=10.7",
		"bad time":         "/api/v1/meteogram?lat=59.9&lon=10.7&from=yesterday&to=today",
		"inverted window":  "/api/v1/meteogram?lat=59.9&lon=10.7&from=2024-01-16T00:00:00Z&to=2024-01-15T00:00:00Z",
		"unknown variable": "/api/v1/meteogram?lat=59.9&lon=10.7&vars=temperature,sunshine" + window,
		"unknown source":   "/api/v1/meteogram?lat=59.9&lon=10.7&source=nope" + window,
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			status, _ := get(t, app, target)
			assert.Equal(t, http.StatusBadRequest, status)
		})
	}
}

func TestMeteogramReturnsPoints(t *testing.T) {
	client := &fakeClient{name: "metno", reachable: true, table: sampleTable("metno")}
	app, _ := newTestApp(t, client)

	status, body := get(t, app, "/api/v1/meteogram?lat=59.9139&lon=10.7522&vars=temperature&from=1705276800&to=1705363200")

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "metno", body["source"])
	assert.Equal(t, string(weather.QualityForecast), body["quality"])

	points, ok := body["points"].([]any)
	require.True(t, ok)
	require.Len(t, points, 2)
	first := points[0].(map[string]any)
	assert.InDelta(t, 1.5, first["temperature"], 1e-9)
	assert.Equal(t, "cloudy", first["weatherSymbol"])

	assert.InDelta(t, 59.9139, client.last.Lat, 1e-9)
	assert.Equal(t, t0, client.last.Start)
	assert.Equal(t, []string{weather.VarTemperature}, client.last.Variables)
}

func TestMeteogramNamedSourceSkipsProbe(t *testing.T) {
	archive := &fakeClient{name: "thredds", table: sampleTable("thredds")}
	app, _ := newTestApp(t, &fakeClient{name: "metno", reachable: true}, archive)

	status, body := get(t, app, "/api/v1/meteogram?lat=59.9&lon=10.7&source=thredds"+window)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "thredds", body["source"])
}

func TestMeteogramNoReachableSource(t *testing.T) {
	app, _ := newTestApp(t, &fakeClient{name: "metno"}, &fakeClient{name: "thredds"})

	status, _ := get(t, app, "/api/v1/meteogram?lat=59.9&lon=10.7"+window)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestMeteogramUpstreamFailure(t *testing.T) {
	failing := &fakeClient{
		name:      "metno",
		reachable: true,
		err:       weather.SourceErrorf("metno", weather.ErrTransport, "status %d", 500),
	}
	app, _ := newTestApp(t, failing)

	status, body := get(t, app, "/api/v1/meteogram?lat=59.9&lon=10.7"+window)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Nil(t, body)
}

func TestSourcesListsRegisteredClients(t *testing.T) {
	app, _ := newTestApp(t, &fakeClient{name: "fallback"}, &fakeClient{name: "metno"})

	status, body := get(t, app, "/api/v1/sources")
	require.Equal(t, http.StatusOK, status)

	sources, ok := body["sources"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 2)
	assert.Equal(t, "fallback", sources[0].(map[string]any)["name"])
	assert.Equal(t, "metno", sources[1].(map[string]any)["name"])
}

func TestLatestMeteogram(t *testing.T) {
	app, memStore := newTestApp(t)

	status, _ := get(t, app, "/api/v1/meteogram/latest")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, app, "/api/v1/meteogram/latest?name=oslo")
	assert.Equal(t, http.StatusNotFound, status)

	loc := weather.Location{Name: "oslo"}
	memStore.SaveSnapshot(loc, weather.Snapshot{Location: loc, FetchedAt: t0, Table: sampleTable("metno")})

	status, body := get(t, app, "/api/v1/meteogram/latest?name=oslo")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "metno", body["source"])
	assert.Len(t, body["points"], 2)
	assert.Equal(t, "2024-01-15T00:00:00Z", body["fetchedAt"])
}

func TestMeteogramHistory(t *testing.T) {
	app, memStore := newTestApp(t)
	loc := weather.Location{Name: "oslo"}
	for i := 0; i < 3; i++ {
		memStore.SaveSnapshot(loc, weather.Snapshot{
			Location:  loc,
			FetchedAt: t0.Add(time.Duration(i) * time.Hour),
			Table:     sampleTable("metno"),
		})
	}

	status, body := get(t, app, "/api/v1/meteogram/history?name=oslo&from=2024-01-15T01:00:00Z&to=2024-01-15T02:00:00Z")
	require.Equal(t, http.StatusOK, status)
	snaps, ok := body["snapshots"].([]any)
	require.True(t, ok)
	assert.Len(t, snaps, 2)
	assert.EqualValues(t, 2, snaps[0].(map[string]any)["rows"])

	status, _ = get(t, app, "/api/v1/meteogram/history?name=bergen"+window)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFetchErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{weather.SourceErrorf("svc", weather.ErrValidation, "bad"), fiber.StatusBadRequest},
		{weather.ErrNoSource, fiber.StatusServiceUnavailable},
		{weather.SourceErrorf("thredds", weather.ErrGridResolution, "outside"), fiber.StatusBadGateway},
		{errors.New("anything else"), fiber.StatusBadGateway},
	}
	for _, tc := range cases {
		var fe *fiber.Error
		require.ErrorAs(t, fetchError(tc.err), &fe)
		assert.Equal(t, tc.want, fe.Code)
	}
}
