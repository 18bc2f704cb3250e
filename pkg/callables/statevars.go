package callables

import (
	"github.com/openfroyo/phasec/pkg/model"
	"github.com/openfroyo/phasec/pkg/variables"
)

// StateVariables is the resolved, sorted state-variable prefix shared by
// every phase of a build.
type StateVariables struct {
	// Variables is the ordering prefix.
	Variables []variables.Variable

	// Unresolved holds model state variables that no condition fixes.
	Unresolved []variables.Variable
}

// ResolveStateVariables materializes the model of every phase, unions the
// state variables they declare and folds in state-variable-like condition
// keys. Chemical potentials are never folded in.
func ResolveStateVariables(reg *model.Registry, args model.Args, phases []string, conds map[variables.Variable]float64) (*StateVariables, error) {
	declared := variables.NewSet()
	for _, name := range phases {
		m, err := reg.Materialize(name, args)
		if err != nil {
			return nil, classify(name, "", err)
		}
		declared.Add(m.StateVariables()...)
	}

	resolved := variables.NewSet()
	unresolved := variables.NewSet()
	for v := range declared {
		resolved.Add(v)
		if _, ok := conds[v]; !ok {
			unresolved.Add(v)
		}
	}
	for v := range conds {
		if v.IsStateVariable() && !v.IsChemicalPotential() {
			resolved.Add(v)
		}
	}

	return &StateVariables{
		Variables:  resolved.Sorted(),
		Unresolved: unresolved.Sorted(),
	}, nil
}
