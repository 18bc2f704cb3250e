// Package variables defines the identifiers that appear as free symbols in
// phase energy expressions: state variables, site fractions, and the
// condition keys used when building equilibrium constraints.
//
// Every variable has a canonical string key (see Variable.String). That key
// is the symbol name used inside symbolic expressions and it is the only
// ordering ever applied to variables, so two lists built from the same set
// always agree position by position.
package variables

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies a variable.
type Kind int

const (
	// KindStateVariable is an external potential such as temperature or pressure.
	KindStateVariable Kind = iota

	// KindSystemMoles is the total amount of the system (N).
	KindSystemMoles

	// KindSiteFraction is the occupancy of one species on one sublattice of a phase.
	KindSiteFraction

	// KindMoleFraction is an overall mole fraction condition (X_EL).
	KindMoleFraction

	// KindMassFraction is an overall mass fraction condition (W_EL).
	KindMassFraction

	// KindChemicalPotential is a fixed chemical potential condition (MU_EL).
	KindChemicalPotential
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindStateVariable:
		return "state_variable"
	case KindSystemMoles:
		return "system_moles"
	case KindSiteFraction:
		return "site_fraction"
	case KindMoleFraction:
		return "mole_fraction"
	case KindMassFraction:
		return "mass_fraction"
	case KindChemicalPotential:
		return "chemical_potential"
	}
	return "unknown"
}

// Variable is a comparable value identifying one variable.
// Only the fields relevant to the Kind are set.
type Variable struct {
	Kind       Kind
	Name       string
	Phase      string
	Sublattice int
	Species    string
}

// Well-known state variables.
var (
	T = Variable{Kind: KindStateVariable, Name: "T"}
	P = Variable{Kind: KindStateVariable, Name: "P"}
	N = Variable{Kind: KindSystemMoles, Name: "N"}
)

// named holds the variables addressable by their bare name.
var named = map[string]Variable{
	T.Name: T,
	P.Name: P,
	N.Name: N,
}

// Y returns the site fraction of species on the given sublattice of phase.
func Y(phase string, sublattice int, species string) Variable {
	return Variable{
		Kind:       KindSiteFraction,
		Phase:      strings.ToUpper(phase),
		Sublattice: sublattice,
		Species:    strings.ToUpper(species),
	}
}

// X returns the overall mole fraction variable of element.
func X(element string) Variable {
	return Variable{Kind: KindMoleFraction, Species: strings.ToUpper(element)}
}

// W returns the overall mass fraction variable of element.
func W(element string) Variable {
	return Variable{Kind: KindMassFraction, Species: strings.ToUpper(element)}
}

// MU returns the chemical potential variable of element.
func MU(element string) Variable {
	return Variable{Kind: KindChemicalPotential, Species: strings.ToUpper(element)}
}

// String returns the canonical key. It doubles as the symbol name.
func (v Variable) String() string {
	switch v.Kind {
	case KindStateVariable, KindSystemMoles:
		return v.Name
	case KindSiteFraction:
		return fmt.Sprintf("Y_%s_%d_%s", v.Phase, v.Sublattice, v.Species)
	case KindMoleFraction:
		return "X_" + v.Species
	case KindMassFraction:
		return "W_" + v.Species
	case KindChemicalPotential:
		return "MU_" + v.Species
	}
	return v.Name
}

// IsStateVariable reports whether v is a named state-variable-like quantity
// (T, P or N). Composition and potential conditions are not.
func (v Variable) IsStateVariable() bool {
	return v.Kind == KindStateVariable || v.Kind == KindSystemMoles
}

// IsChemicalPotential reports whether v is a chemical potential condition.
func (v Variable) IsChemicalPotential() bool {
	return v.Kind == KindChemicalPotential
}

// Parse converts a canonical key back into a Variable. The boolean result is
// false when name is not a recognised variable; such symbols are treated as
// model parameters by callers.
func Parse(name string) (Variable, bool) {
	if v, ok := named[name]; ok {
		return v, true
	}
	prefix, rest, found := strings.Cut(name, "_")
	if !found || rest == "" {
		return Variable{}, false
	}
	switch prefix {
	case "X":
		return X(rest), true
	case "W":
		return W(rest), true
	case "MU":
		return MU(rest), true
	case "Y":
		// Phase names may contain underscores, so split from the right.
		i := strings.LastIndex(rest, "_")
		if i <= 0 {
			return Variable{}, false
		}
		species := rest[i+1:]
		rest = rest[:i]
		j := strings.LastIndex(rest, "_")
		if j <= 0 || species == "" {
			return Variable{}, false
		}
		subl, err := strconv.Atoi(rest[j+1:])
		if err != nil || subl < 0 {
			return Variable{}, false
		}
		return Y(rest[:j], subl, species), true
	}
	return Variable{}, false
}

// IsDefined reports whether a symbol name denotes any recognised variable.
func IsDefined(name string) bool {
	_, ok := Parse(name)
	return ok
}

// Sort orders vars in place by canonical key and returns the slice.
func Sort(vars []Variable) []Variable {
	sort.SliceStable(vars, func(i, j int) bool {
		return vars[i].String() < vars[j].String()
	})
	return vars
}

// Sorted returns a sorted copy of vars.
func Sorted(vars []Variable) []Variable {
	out := make([]Variable, len(vars))
	copy(out, vars)
	return Sort(out)
}

// Strings returns the canonical keys of vars, in order.
func Strings(vars []Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.String()
	}
	return out
}

// Concat returns a new slice holding a followed by b.
func Concat(a, b []Variable) []Variable {
	out := make([]Variable, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// Set is an unordered collection of variables.
type Set map[Variable]struct{}

// NewSet returns a set containing vars.
func NewSet(vars ...Variable) Set {
	s := make(Set, len(vars))
	s.Add(vars...)
	return s
}

// Add inserts vars into the set.
func (s Set) Add(vars ...Variable) {
	for _, v := range vars {
		s[v] = struct{}{}
	}
}

// Has reports whether v is in the set.
func (s Set) Has(v Variable) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members ordered by canonical key.
func (s Set) Sorted() []Variable {
	out := make([]Variable, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	return Sort(out)
}
