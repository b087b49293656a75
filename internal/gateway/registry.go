package gateway

import (
	"fmt"
	"sort"

	"settlement-gateway/internal/fee"
)

// Entry pairs an adapter with the fee policy applied to intents created
// through it.
type Entry struct {
	Adapter Adapter
	Fee     fee.Policy
}

// Registry is an immutable name -> adapter map. A configuration reload builds
// a new Registry; existing intents keep the fee breakdown stored on their row.
type Registry struct {
	entries map[string]Entry
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Adapter == nil {
			return nil, fmt.Errorf("registry: nil adapter")
		}
		name := e.Adapter.Name()
		if _, dup := r.entries[name]; dup {
			return nil, fmt.Errorf("registry: gateway %q registered twice", name)
		}
		if err := e.Fee.Validate(); err != nil {
			return nil, fmt.Errorf("registry: gateway %q: %w", name, err)
		}
		r.entries[name] = e
	}
	return r, nil
}

func (r *Registry) Get(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

func (r *Registry) Adapter(name string) (Adapter, bool) {
	e, ok := r.entries[name]
	return e.Adapter, ok
}

// Names returns registered gateway names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
