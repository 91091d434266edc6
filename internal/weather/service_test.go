package weather

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/meteogram-sources/internal/observability"
)

// memStore is a minimal Store for service tests.
type memStore struct {
	mu    sync.Mutex
	saved map[string][]Snapshot
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string][]Snapshot)}
}

func (m *memStore) SaveSnapshot(loc Location, snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[loc.Key()] = append(m.saved[loc.Key()], snap)
}

func (m *memStore) GetLatest(loc Location) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.saved[loc.Key()]
	if len(s) == 0 {
		return Snapshot{}, errors.New("not found")
	}
	return s[len(s)-1], nil
}

func (m *memStore) GetRange(loc Location, from, to time.Time) ([]Snapshot, error) {
	return nil, errors.New("not implemented")
}

func ptr(v float64) *float64 { return &v }

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

func newTestService(t *testing.T, clients ...*stubClient) (*Service, *memStore, *observability.Metrics) {
	t.Helper()
	r := NewRegistry()
	for i, c := range clients {
		r.Register(c.name, c, len(clients)-i)
	}
	store := newMemStore()
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(t0)
	return NewService(r, store, metrics, discardLogger(), clock), store, metrics
}

func TestServiceFetchUsesBestSource(t *testing.T) {
	down := &stubClient{name: "down"}
	up := &stubClient{name: "up", reachable: true, table: tableOf("up", 4)}
	svc, _, metrics := newTestService(t, down, up)

	got, err := svc.Fetch(context.Background(), FetchRequest{Query: Query{
		Lat: 60, Lon: 11, Start: t0, End: t0.Add(12 * time.Hour),
	}})

	require.NoError(t, err)
	assert.Equal(t, 4, got.Len())
	assert.Equal(t, 0, down.fetchCount())
	assert.Equal(t, 1.0, metricValue(t, metrics.FetchRequests.WithLabelValues("up", "success")))
}

func TestServiceFetchExplicitSource(t *testing.T) {
	a := &stubClient{name: "a", reachable: true, table: tableOf("a", 1)}
	b := &stubClient{name: "b", table: tableOf("b", 2)}
	svc, _, _ := newTestService(t, a, b)

	got, err := svc.Fetch(context.Background(), FetchRequest{
		Query:  Query{Lat: 60, Lon: 11, Start: t0, End: t0.Add(time.Hour)},
		Source: "b",
	})
	require.NoError(t, err)
	assert.Equal(t, "b", got.Source)

	_, err = svc.Fetch(context.Background(), FetchRequest{
		Query:  Query{Lat: 60, Lon: 11, Start: t0, End: t0.Add(time.Hour)},
		Source: "nope",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestServiceFetchNoSource(t *testing.T) {
	svc, _, metrics := newTestService(t, &stubClient{name: "down"})

	_, err := svc.Fetch(context.Background(), FetchRequest{Query: Query{
		Lat: 60, Lon: 11, Start: t0, End: t0.Add(time.Hour),
	}})

	assert.ErrorIs(t, err, ErrNoSource)
	assert.Equal(t, 1.0, metricValue(t, metrics.NoSource))
}

func TestServiceFetchRecordsErrors(t *testing.T) {
	bad := &stubClient{name: "bad", reachable: true, err: SourceErrorf("bad", ErrParse, "garbage")}
	svc, _, metrics := newTestService(t, bad)

	_, err := svc.Fetch(context.Background(), FetchRequest{Query: Query{
		Lat: 60, Lon: 11, Start: t0, End: t0.Add(time.Hour),
	}})

	assert.ErrorIs(t, err, ErrParse)
	assert.Equal(t, 1.0, metricValue(t, metrics.FetchRequests.WithLabelValues("bad", "error")))
}

func TestServiceRefreshContinuesAfterFailure(t *testing.T) {
	src := &stubClient{name: "src", reachable: true, table: tableOf("src", 3)}
	svc, store, metrics := newTestService(t, src)

	report := svc.Refresh(context.Background(), []Location{
		{Name: "GEN", Lat: ptr(60.1939), Lon: ptr(11.1004)},
		{Name: "NOWHERE"},
		{Name: "OSL", Lat: ptr(59.9139), Lon: ptr(10.7522)},
	}, 24*time.Hour)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"GEN", "OSL"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "NOWHERE", report.Failed[0].Location)
	assert.ErrorIs(t, report.Err(), ErrValidation)

	encoded, err := json.Marshal(report.Failed[0])
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Contains(t, decoded["error"], "has no coordinates")

	require.Len(t, store.saved["GEN"], 1)
	assert.Equal(t, 3, store.saved["GEN"][0].Table.Len())
	assert.Equal(t, t0, store.saved["GEN"][0].FetchedAt)

	require.Len(t, src.fetches, 2)
	assert.Equal(t, t0, src.fetches[0].Start)
	assert.Equal(t, t0.Add(24*time.Hour), src.fetches[0].End)

	assert.Equal(t, 1.0, metricValue(t, metrics.RefreshRuns))
	assert.Equal(t, 1.0, metricValue(t, metrics.RefreshFailures.WithLabelValues("NOWHERE")))
}

func TestServiceRefreshCancelled(t *testing.T) {
	src := &stubClient{name: "src", reachable: true, table: tableOf("src", 1)}
	svc, _, _ := newTestService(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := svc.Refresh(ctx, []Location{{Name: "GEN", Lat: ptr(60), Lon: ptr(11)}}, time.Hour)

	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, context.Canceled)
	assert.Equal(t, 0, src.fetchCount())
}

func TestServiceSources(t *testing.T) {
	svc, _, _ := newTestService(t, &stubClient{name: "a"}, &stubClient{name: "b"})

	sources := svc.Sources()

	require.Len(t, sources, 2)
	assert.Equal(t, "a", sources[0].Name)
	assert.Equal(t, "b", sources[1].Name)
}
