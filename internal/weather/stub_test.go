package weather

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// stubClient is a scripted Client for tests.
type stubClient struct {
	name      string
	kind      SourceKind
	variables []string
	table     Table
	err       error
	reachable bool
	panics    bool

	mu      sync.Mutex
	fetches []Query
	probes  int
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Fetch(_ context.Context, q Query) (Table, error) {
	s.mu.Lock()
	s.fetches = append(s.fetches, q)
	s.mu.Unlock()
	if s.err != nil {
		return Table{}, s.err
	}
	return s.table, nil
}

func (s *stubClient) TestConnection(context.Context) bool {
	s.mu.Lock()
	s.probes++
	s.mu.Unlock()
	if s.panics {
		panic("probe exploded")
	}
	return s.reachable
}

func (s *stubClient) Describe() Descriptor {
	return Descriptor{Name: s.name, Kind: s.kind, Variables: s.variables}
}

func (s *stubClient) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetches)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tableOf(source string, rows int) Table {
	t := Table{
		Columns: map[string][]float64{VarTemperature: make([]float64, rows)},
		Source:  source,
		Quality: QualityHistorical,
	}
	for i := 0; i < rows; i++ {
		t.Times = append(t.Times, t0.Add(time.Duration(3*i)*time.Hour))
	}
	return t
}
