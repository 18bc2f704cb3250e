// Package constraints builds the equality constraint systems an equilibrium
// solver needs for one phase: internal site-fraction balances and the
// multiphase composition constraints derived from the conditions.
package constraints

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/phasec/pkg/codegen"
	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/model"
	"github.com/openfroyo/phasec/pkg/symbolic"
	"github.com/openfroyo/phasec/pkg/variables"
)

// Functions holds the compiled constraint systems of one phase.
type Functions struct {
	InternalCons *codegen.VectorFunction
	InternalJac  *codegen.Jacobian

	MultiphaseCons *codegen.VectorFunction
	MultiphaseJac  *codegen.Jacobian

	NumInternalCons   int
	NumMultiphaseCons int
}

// Builder builds constraint systems over a fixed variable ordering.
type Builder interface {
	Build(m model.Model, vars []variables.Variable, conds map[variables.Variable]float64, params []string) (*Functions, error)
}

// DefaultBuilder emits one internal constraint per sublattice and one
// multiphase constraint per mole or mass fraction condition.
type DefaultBuilder struct {
	masses map[string]float64
}

// NewBuilder returns a DefaultBuilder that takes element masses from db.
// A nil database disables mass fraction conditions.
func NewBuilder(db *database.Database) *DefaultBuilder {
	b := &DefaultBuilder{masses: map[string]float64{}}
	if db == nil {
		return b
	}
	for _, el := range db.Elements() {
		if el.Name != database.Vacancy {
			b.masses[el.Name] = el.Mass
		}
	}
	return b
}

// Build implements Builder.
func (b *DefaultBuilder) Build(m model.Model, vars []variables.Variable, conds map[variables.Variable]float64, params []string) (*Functions, error) {
	internal := InternalConstraints(m)
	multiphase, err := b.MultiphaseConstraints(m, conds)
	if err != nil {
		return nil, err
	}

	out := &Functions{
		NumInternalCons:   len(internal),
		NumMultiphaseCons: len(multiphase),
	}
	out.InternalCons, out.InternalJac, err = codegen.BuildVector(internal, vars, params, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile internal constraints for %s: %w", m.PhaseName(), err)
	}
	out.MultiphaseCons, out.MultiphaseJac, err = codegen.BuildVector(multiphase, vars, params, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile multiphase constraints for %s: %w", m.PhaseName(), err)
	}
	return out, nil
}

// InternalConstraints returns sum(y) - 1 for each sublattice, in sublattice order.
func InternalConstraints(m model.Model) []symbolic.Expr {
	bySublattice := map[int][]symbolic.Expr{}
	for _, y := range m.SiteFractions() {
		bySublattice[y.Sublattice] = append(bySublattice[y.Sublattice], symbolic.S(y.String()))
	}
	index := make([]int, 0, len(bySublattice))
	for s := range bySublattice {
		index = append(index, s)
	}
	sort.Ints(index)

	out := make([]symbolic.Expr, 0, len(index))
	for _, s := range index {
		terms := append(bySublattice[s], symbolic.N(-1))
		out = append(out, symbolic.AddOf(terms...))
	}
	return out
}

// MultiphaseConstraints returns the composition constraints implied by
// conds, ordered by condition key. Conditions on state variables and
// chemical potentials contribute no rows.
func (b *DefaultBuilder) MultiphaseConstraints(m model.Model, conds map[variables.Variable]float64) ([]symbolic.Expr, error) {
	keys := make([]variables.Variable, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	variables.Sort(keys)

	var out []symbolic.Expr
	for _, k := range keys {
		switch k.Kind {
		case variables.KindMoleFraction:
			out = append(out, symbolic.SubOf(m.Moles(k.Species), symbolic.N(conds[k])))
		case variables.KindMassFraction:
			w, err := b.massFraction(m, k.Species)
			if err != nil {
				return nil, err
			}
			out = append(out, symbolic.SubOf(w, symbolic.N(conds[k])))
		}
	}
	return out, nil
}

func (b *DefaultBuilder) massFraction(m model.Model, element string) (symbolic.Expr, error) {
	element = strings.ToUpper(element)
	mass, ok := b.masses[element]
	if !ok {
		return nil, fmt.Errorf("no mass known for element %s", element)
	}

	elements := make([]string, 0, len(b.masses))
	for el := range b.masses {
		elements = append(elements, el)
	}
	sort.Strings(elements)

	var total []symbolic.Expr
	for _, el := range elements {
		moles := m.Moles(el)
		if n, ok := moles.(*symbolic.Num); ok && n.IsZero() {
			continue
		}
		total = append(total, symbolic.MulOf(symbolic.N(b.masses[el]), moles))
	}
	if len(total) == 0 {
		return symbolic.N(0), nil
	}
	return symbolic.DivOf(symbolic.MulOf(symbolic.N(mass), m.Moles(element)), symbolic.AddOf(total...)), nil
}
