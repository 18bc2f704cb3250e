package callables

import (
	"github.com/openfroyo/phasec/pkg/codegen"
)

// Kind names one callable slot of a phase.
type Kind string

// Callable kinds.
const (
	KindEnergy         Kind = "energy"
	KindEnergyGradient Kind = "energy_gradient"
	KindMass           Kind = "mass"
	KindMassGradient   Kind = "mass_gradient"
)

// Kinds lists every kind in reporting order.
var Kinds = []Kind{KindEnergy, KindEnergyGradient, KindMass, KindMassGradient}

// Lookup is the outcome of a cache query: a hit carrying the cached value,
// or a miss.
type Lookup[T any] struct {
	value T
	hit   bool
}

// Hit returns a lookup holding v.
func Hit[T any](v T) Lookup[T] { return Lookup[T]{value: v, hit: true} }

// Miss returns an empty lookup.
func Miss[T any]() Lookup[T] { return Lookup[T]{} }

// Get returns the cached value and whether the lookup hit.
func (l Lookup[T]) Get() (T, bool) { return l.value, l.hit }

// IsHit reports whether the lookup hit.
func (l Lookup[T]) IsHit() bool { return l.hit }

// LookupEnergy queries the energy callable of phase. A nil result misses.
func (r *Result) LookupEnergy(phase string) Lookup[*codegen.Function] {
	if r == nil {
		return Miss[*codegen.Function]()
	}
	if fn := r.Energy[phase]; fn != nil {
		return Hit(fn)
	}
	return Miss[*codegen.Function]()
}

// LookupEnergyGradient queries the energy gradient of phase.
func (r *Result) LookupEnergyGradient(phase string) Lookup[*codegen.Gradient] {
	if r == nil {
		return Miss[*codegen.Gradient]()
	}
	if g := r.EnergyGradient[phase]; g != nil {
		return Hit(g)
	}
	return Miss[*codegen.Gradient]()
}

// LookupMass queries the per-element mass callables of phase. A cached
// entry compiled for a different number of pure elements misses.
func (r *Result) LookupMass(phase string, elements int) Lookup[[]*codegen.Function] {
	if r == nil {
		return Miss[[]*codegen.Function]()
	}
	if fns, ok := r.Mass[phase]; ok && fns != nil && len(fns) == elements {
		return Hit(fns)
	}
	return Miss[[]*codegen.Function]()
}

// LookupMassGradient queries the per-element mass gradients of phase.
func (r *Result) LookupMassGradient(phase string, elements int) Lookup[[]*codegen.Gradient] {
	if r == nil {
		return Miss[[]*codegen.Gradient]()
	}
	if gs, ok := r.MassGradient[phase]; ok && gs != nil && len(gs) == elements {
		return Hit(gs)
	}
	return Miss[[]*codegen.Gradient]()
}

// LookupRecord queries the phase record stored under the upper-cased name.
func (r *Result) LookupRecord(phase string) Lookup[*PhaseRecord] {
	if r == nil {
		return Miss[*PhaseRecord]()
	}
	if rec := r.PhaseRecords[upper(phase)]; rec != nil {
		return Hit(rec)
	}
	return Miss[*PhaseRecord]()
}

// resolvePair applies the reuse rule: reuse when the objective hits and,
// with gradients requested, the gradient hits too. Otherwise build runs.
// With gradients off the gradient result is always the zero value.
func resolvePair[F, G any](obj Lookup[F], grad Lookup[G], gradients bool, build func() (F, G, error)) (F, G, bool, error) {
	var zero G
	if f, ok := obj.Get(); ok {
		if !gradients {
			return f, zero, true, nil
		}
		if g, ok := grad.Get(); ok {
			return f, g, true, nil
		}
	}
	f, g, err := build()
	if !gradients {
		g = zero
	}
	return f, g, false, err
}
