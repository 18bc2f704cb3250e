package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Entry is a registry slot: either a constructor still waiting to run or a
// model instance.
type Entry struct {
	ctor  Constructor
	model Model
}

// Unmaterialized returns an entry that builds its model on first use.
func Unmaterialized(ctor Constructor) Entry {
	return Entry{ctor: ctor}
}

// Materialized returns an entry holding an existing model.
func Materialized(m Model) Entry {
	return Entry{model: m}
}

// IsMaterialized reports whether the entry holds a model instance.
func (e Entry) IsMaterialized() bool { return e.model != nil }

// Model returns the instance, or nil for an unmaterialized entry.
func (e Entry) Model() Model { return e.model }

// Registry maps phase names to model entries. Phases without an explicit
// entry use the fallback constructor.
type Registry struct {
	// mu protects entries.
	mu sync.Mutex

	// entries maps the upper-cased phase name to its entry.
	entries map[string]Entry

	// fallback builds models for phases with no entry.
	fallback Constructor
}

// NewRegistry creates a registry. A nil fallback selects NewCompoundEnergyModel.
func NewRegistry(fallback Constructor) *Registry {
	if fallback == nil {
		fallback = NewCompoundEnergyModel
	}
	return &Registry{
		entries:  make(map[string]Entry),
		fallback: fallback,
	}
}

// Set installs an entry for phase, replacing any existing one.
func (r *Registry) Set(phase string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[strings.ToUpper(phase)] = e
}

// Entry returns the entry for phase.
func (r *Registry) Entry(phase string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[strings.ToUpper(phase)]
	return e, ok
}

// Materialize returns the model for phase, running its constructor and
// upgrading the entry if needed. Repeated calls return the same instance.
func (r *Registry) Materialize(phase string, args Args) (Model, error) {
	key := strings.ToUpper(phase)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if ok && entry.IsMaterialized() {
		return entry.model, nil
	}

	ctor := r.fallback
	if ok && entry.ctor != nil {
		ctor = entry.ctor
	}

	args.Phase = key
	m, err := ctor(args)
	if err != nil {
		return nil, fmt.Errorf("failed to build model for phase %s: %w", key, err)
	}
	if m == nil {
		return nil, fmt.Errorf("model constructor for phase %s returned nil", key)
	}

	r.entries[key] = Materialized(m)
	return m, nil
}

// Models returns the materialized models keyed by phase name.
func (r *Registry) Models() map[string]Model {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Model, len(r.entries))
	for name, e := range r.entries {
		if e.IsMaterialized() {
			out[name] = e.model
		}
	}
	return out
}

// Phases returns the sorted phase names with an entry.
func (r *Registry) Phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
