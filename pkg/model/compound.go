package model

import (
	"fmt"
	"strings"

	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/symbolic"
	"github.com/openfroyo/phasec/pkg/variables"
)

// GasConstant in J/(mol K).
const GasConstant = 8.3145

// CompoundEnergyModel implements the compound energy formalism: endmember
// Gibbs energies weighted by site fraction products, ideal mixing on each
// sublattice, and Redlich-Kister excess terms.
type CompoundEnergyModel struct {
	phase      string
	components []string

	// sublattices holds the active site fractions of each sublattice.
	sublattices [][]variables.Variable
	sites       []float64

	// stoichiometry maps each active constituent to its element amounts.
	stoichiometry map[string]map[string]float64

	g  symbolic.Expr
	gm symbolic.Expr
}

// NewCompoundEnergyModel builds a CompoundEnergyModel. It satisfies Constructor.
func NewCompoundEnergyModel(args Args) (Model, error) {
	db := args.Database
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	phase, ok := db.Phase(args.Phase)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, args.Phase)
	}

	active := make(map[string]struct{}, len(args.Components))
	for _, c := range args.Components {
		active[strings.ToUpper(c)] = struct{}{}
	}

	m := &CompoundEnergyModel{
		phase:         phase.Name,
		components:    append([]string(nil), args.Components...),
		stoichiometry: map[string]map[string]float64{},
	}
	for s, sub := range phase.Sublattices {
		var ys []variables.Variable
		for _, c := range sub.Constituents {
			if _, ok := active[c]; !ok {
				continue
			}
			ys = append(ys, variables.Y(phase.Name, s, c))
			m.stoichiometry[c] = db.Stoichiometry(c)
		}
		if len(ys) == 0 {
			return nil, fmt.Errorf("%w: phase %s sublattice %d", ErrNoActiveConstituents, phase.Name, s)
		}
		m.sublattices = append(m.sublattices, variables.Sort(ys))
		m.sites = append(m.sites, sub.Sites)
	}

	keep := make(map[string]struct{}, len(args.Parameters))
	for _, p := range args.Parameters {
		keep[p] = struct{}{}
	}

	terms := []symbolic.Expr{m.idealMixing()}
	for i := range phase.Parameters {
		term, err := m.parameterTerm(db, &phase.Parameters[i], active, keep)
		if err != nil {
			return nil, fmt.Errorf("phase %s parameter %d: %w", phase.Name, i, err)
		}
		if term != nil {
			terms = append(terms, term)
		}
	}

	m.g = symbolic.AddOf(terms...)
	m.gm = symbolic.DivOf(m.g, m.normalization())
	return m, nil
}

// parameterTerm returns the energy contribution of p, or nil when p refers
// to an inactive constituent.
func (m *CompoundEnergyModel) parameterTerm(db *database.Database, p *database.Parameter, active, keep map[string]struct{}) (symbolic.Expr, error) {
	var factors []symbolic.Expr
	for s, arr := range p.Constituents {
		for _, c := range arr {
			if _, ok := active[c]; !ok {
				return nil, nil
			}
			factors = append(factors, symbolic.S(variables.Y(m.phase, s, c).String()))
		}
		if p.Type == database.ParameterL && len(arr) == 2 && p.Order > 0 {
			diff := symbolic.SubOf(
				symbolic.S(variables.Y(m.phase, s, arr[0]).String()),
				symbolic.S(variables.Y(m.phase, s, arr[1]).String()),
			)
			factors = append(factors, symbolic.PowOf(diff, symbolic.N(float64(p.Order))))
		}
	}

	value, err := db.ExpandSymbols(p.Expr, keep)
	if err != nil {
		return nil, err
	}
	factors = append(factors, value)
	return symbolic.MulOf(factors...), nil
}

func (m *CompoundEnergyModel) idealMixing() symbolic.Expr {
	var terms []symbolic.Expr
	for s, ys := range m.sublattices {
		var sub []symbolic.Expr
		for _, y := range ys {
			sym := symbolic.S(y.String())
			sub = append(sub, symbolic.MulOf(sym, symbolic.LnOf(sym)))
		}
		terms = append(terms, symbolic.MulOf(symbolic.N(m.sites[s]), symbolic.AddOf(sub...)))
	}
	return symbolic.MulOf(symbolic.N(GasConstant), symbolic.S(variables.T.String()), symbolic.AddOf(terms...))
}

// atoms returns the number of atoms in constituent c.
func (m *CompoundEnergyModel) atoms(c string) float64 {
	n := 0.0
	for el, k := range m.stoichiometry[c] {
		if el != database.Vacancy {
			n += k
		}
	}
	return n
}

// normalization is the number of atoms per formula unit.
func (m *CompoundEnergyModel) normalization() symbolic.Expr {
	var terms []symbolic.Expr
	for s, ys := range m.sublattices {
		for _, y := range ys {
			if n := m.atoms(y.Species); n != 0 {
				terms = append(terms, symbolic.MulOf(symbolic.N(m.sites[s]*n), symbolic.S(y.String())))
			}
		}
	}
	return symbolic.AddOf(terms...)
}

// PhaseName implements Model.
func (m *CompoundEnergyModel) PhaseName() string { return m.phase }

// Components returns the components the model was built for.
func (m *CompoundEnergyModel) Components() []string {
	return append([]string(nil), m.components...)
}

// SiteFractions implements Model.
func (m *CompoundEnergyModel) SiteFractions() []variables.Variable {
	var out []variables.Variable
	for _, ys := range m.sublattices {
		out = append(out, ys...)
	}
	return out
}

// Sublattices returns the active site fractions of each sublattice.
func (m *CompoundEnergyModel) Sublattices() [][]variables.Variable {
	out := make([][]variables.Variable, len(m.sublattices))
	for i, ys := range m.sublattices {
		out[i] = append([]variables.Variable(nil), ys...)
	}
	return out
}

// StateVariables implements Model.
func (m *CompoundEnergyModel) StateVariables() []variables.Variable {
	set := variables.NewSet()
	for _, name := range symbolic.SortedSymbols(m.gm) {
		if v, ok := variables.Parse(name); ok && v.IsStateVariable() {
			set.Add(v)
		}
	}
	return set.Sorted()
}

// Moles implements Model.
func (m *CompoundEnergyModel) Moles(element string) symbolic.Expr {
	element = strings.ToUpper(element)
	var terms []symbolic.Expr
	for s, ys := range m.sublattices {
		for _, y := range ys {
			if n := m.stoichiometry[y.Species][element]; n != 0 && element != database.Vacancy {
				terms = append(terms, symbolic.MulOf(symbolic.N(m.sites[s]*n), symbolic.S(y.String())))
			}
		}
	}
	if len(terms) == 0 {
		return symbolic.N(0)
	}
	return symbolic.DivOf(symbolic.AddOf(terms...), m.normalization())
}

// G returns the Gibbs energy per formula unit.
func (m *CompoundEnergyModel) G() symbolic.Expr { return m.g }

// GM implements Model.
func (m *CompoundEnergyModel) GM() symbolic.Expr { return m.gm }

// SM returns the molar entropy, -dGM/dT.
func (m *CompoundEnergyModel) SM() symbolic.Expr {
	return symbolic.Neg(symbolic.Diff(m.gm, variables.T.String()))
}

// HM returns the molar enthalpy, GM + T*SM.
func (m *CompoundEnergyModel) HM() symbolic.Expr {
	return symbolic.AddOf(m.gm, symbolic.MulOf(symbolic.S(variables.T.String()), m.SM()))
}

// CPM returns the molar heat capacity, -T d2GM/dT2.
func (m *CompoundEnergyModel) CPM() symbolic.Expr {
	t := variables.T.String()
	return symbolic.Neg(symbolic.MulOf(symbolic.S(t), symbolic.Diff(symbolic.Diff(m.gm, t), t)))
}
