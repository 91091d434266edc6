package weather

import (
	"context"
	"sort"
	"sync"
)

// Requirements narrows Registry.Best to clients whose descriptor matches.
// Zero values match everything.
type Requirements struct {
	Kind      SourceKind
	Variables []string
}

func (r *Requirements) matches(d Descriptor) bool {
	if r == nil {
		return true
	}
	if r.Kind != "" && r.Kind != d.Kind {
		return false
	}
	if len(r.Variables) == 0 {
		return true
	}
	offered := make(map[string]bool)
	for _, v := range d.Variables {
		if name, ok := CanonicalName(v); ok {
			offered[name] = true
		}
	}
	for _, v := range r.Variables {
		if !offered[v] {
			return false
		}
	}
	return true
}

type registryEntry struct {
	client     Client
	priority   int
	descriptor Descriptor
	seq        int
}

// Registry holds named clients ordered by priority, highest first.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	order   []string
	seq     int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds or replaces a client and recomputes the priority order.
// Equal priorities keep registration order.
func (r *Registry) Register(name string, client Client, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.seq
	if prev, ok := r.entries[name]; ok {
		seq = prev.seq
	} else {
		r.seq++
	}
	r.entries[name] = registryEntry{
		client:     client,
		priority:   priority,
		descriptor: client.Describe(),
		seq:        seq,
	}

	order := make([]string, 0, len(r.entries))
	for n := range r.entries {
		order = append(order, n)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := r.entries[order[i]], r.entries[order[j]]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.seq < b.seq
	})
	r.order = order
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// Best walks clients in priority order and returns the first one matching
// req whose connection test passes, or nil when none is reachable.
func (r *Registry) Best(ctx context.Context, req *Requirements) Client {
	r.mu.RLock()
	candidates := make([]registryEntry, 0, len(r.order))
	for _, name := range r.order {
		candidates = append(candidates, r.entries[name])
	}
	r.mu.RUnlock()

	for _, e := range candidates {
		if !req.matches(e.descriptor) {
			continue
		}
		if probe(ctx, e.client) {
			return e.client
		}
	}
	return nil
}

// probe runs a connection test, treating a panic as unavailable.
func probe(ctx context.Context, c Client) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return c.TestConnection(ctx)
}

// List returns every registered client's descriptor keyed by name.
func (r *Registry) List() map[string]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Descriptor, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.descriptor
	}
	return out
}

// Names returns registered names in priority order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}
