// Package model describes phase models: symbolic energy expressions over a
// phase's site fractions and the shared state variables.
//
// Output properties are looked up through an explicit capability map rather
// than by name on the concrete type. Every Model exposes the molar Gibbs
// energy; the remaining properties are optional interfaces.
package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/symbolic"
	"github.com/openfroyo/phasec/pkg/variables"
)

// DefaultOutput is the molar Gibbs energy property.
const DefaultOutput = "GM"

var (
	// ErrUnknownPhase is returned when a phase is not defined in the database.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrNoActiveConstituents is returned when a sublattice has no constituent
	// among the requested components.
	ErrNoActiveConstituents = errors.New("sublattice has no active constituents")
)

// Model is a symbolic phase model.
type Model interface {
	// PhaseName returns the upper-cased phase name.
	PhaseName() string

	// SiteFractions returns the phase's site fractions, grouped by sublattice
	// and sorted by species within each sublattice.
	SiteFractions() []variables.Variable

	// StateVariables returns the sorted state variables the model depends on.
	StateVariables() []variables.Variable

	// Moles returns the amount of element per mole of atoms of the phase.
	Moles(element string) symbolic.Expr

	// GM returns the molar Gibbs energy.
	GM() symbolic.Expr
}

// GibbsModel exposes the Gibbs energy per formula unit.
type GibbsModel interface {
	G() symbolic.Expr
}

// EnthalpyModel exposes the molar enthalpy.
type EnthalpyModel interface {
	HM() symbolic.Expr
}

// EntropyModel exposes the molar entropy.
type EntropyModel interface {
	SM() symbolic.Expr
}

// HeatCapacityModel exposes the molar isobaric heat capacity.
type HeatCapacityModel interface {
	CPM() symbolic.Expr
}

// OutputFunc fetches one output property. The boolean is false when the
// model does not expose the property.
type OutputFunc func(Model) (symbolic.Expr, bool)

// outputs maps property names to accessors.
var outputs = map[string]OutputFunc{
	"GM": func(m Model) (symbolic.Expr, bool) { return m.GM(), true },
	"G": func(m Model) (symbolic.Expr, bool) {
		if g, ok := m.(GibbsModel); ok {
			return g.G(), true
		}
		return nil, false
	},
	"HM": func(m Model) (symbolic.Expr, bool) {
		if h, ok := m.(EnthalpyModel); ok {
			return h.HM(), true
		}
		return nil, false
	},
	"SM": func(m Model) (symbolic.Expr, bool) {
		if s, ok := m.(EntropyModel); ok {
			return s.SM(), true
		}
		return nil, false
	},
	"CPM": func(m Model) (symbolic.Expr, bool) {
		if c, ok := m.(HeatCapacityModel); ok {
			return c.CPM(), true
		}
		return nil, false
	},
}

// MissingOutputError reports a property the model does not expose.
type MissingOutputError struct {
	Property string
	Phase    string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("model for phase %s has no output property %q", e.Phase, e.Property)
}

// Output returns the named output property of m.
func Output(m Model, name string) (symbolic.Expr, error) {
	fn, ok := outputs[strings.ToUpper(name)]
	if ok {
		if e, ok := fn(m); ok && e != nil {
			return e, nil
		}
	}
	return nil, &MissingOutputError{Property: name, Phase: m.PhaseName()}
}

// SupportedOutputs returns the property names Output understands.
func SupportedOutputs() []string {
	out := make([]string, 0, len(outputs))
	for name := range outputs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Args are the inputs a Constructor receives.
type Args struct {
	Database   *database.Database
	Components []string
	Phase      string

	// Parameters are the bound parameter symbols. They stay free in the
	// model's expressions instead of being expanded from the database.
	Parameters []string
}

// Constructor instantiates a model for one phase.
type Constructor func(Args) (Model, error)
